package pdf

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spherical/pdf-enricher/internal/domain"
)

// MaxFileSize is the largest PDF accepted.
const MaxFileSize = 500 * 1024 * 1024

var pdfMagic = []byte("%PDF-")

// Validator provides input validation for PDF files
type Validator struct{}

// NewValidator creates a new validator instance
func NewValidator() *Validator {
	return &Validator{}
}

// ValidatePDFPath validates that a file path is valid and points to a PDF
func (v *Validator) ValidatePDFPath(path string) error {
	if strings.TrimSpace(path) == "" {
		return domain.InputError("file path cannot be empty", nil)
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.InputError(fmt.Sprintf("file does not exist: %s", path), err)
		}
		return domain.InputError(fmt.Sprintf("cannot access file: %s", path), err)
	}

	if info.IsDir() {
		return domain.InputError(fmt.Sprintf("path is a directory, not a file: %s", path), nil)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".pdf" {
		return domain.InputError(fmt.Sprintf("file is not a PDF (has extension %s)", ext), nil)
	}

	if info.Size() > MaxFileSize {
		return domain.InputError(fmt.Sprintf("PDF is too large (%d MB)", info.Size()/(1024*1024)), nil)
	}

	file, err := os.Open(path)
	if err != nil {
		return domain.InputError(fmt.Sprintf("cannot open file: %s", path), err)
	}
	defer file.Close()

	return v.ValidateHeader(file)
}

// ValidateHeader checks that the stream starts with the PDF magic bytes.
func (v *Validator) ValidateHeader(r io.Reader) error {
	head := make([]byte, 1024)
	n, err := io.ReadFull(r, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return domain.InputError("cannot read file header", err)
	}
	if !bytes.Contains(head[:n], pdfMagic) {
		return domain.InputError("file does not look like a PDF (missing %PDF- header)", nil)
	}
	return nil
}
