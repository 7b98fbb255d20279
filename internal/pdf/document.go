// Package pdf wraps MuPDF (via go-fitz) behind a small page-level API:
// page geometry, text blocks, embedded image boxes and raster output.
//
// A fitz.Document must not be used from more than one goroutine at a time;
// Worker confines one to a dedicated OS thread.
package pdf

import (
	"fmt"
	"image"

	"github.com/gen2brain/go-fitz"

	"github.com/spherical/pdf-enricher/internal/domain"
)

// TextBlock is one positioned run of text on a page.
type TextBlock struct {
	Text     string
	Box      Rect
	FontSize float64
}

// ImageBox is an embedded image placed on a page.
type ImageBox struct {
	Index int // 1-based, in reading order
	Box   Rect
	// Data holds the encoded image bytes when MuPDF inlined them, else nil.
	Data []byte
	Mime string
}

// PageLayout is the geometry of one page.
type PageLayout struct {
	Number int // 1-based
	Bounds Rect
	Blocks []TextBlock
	Images []ImageBox
}

// Document is the page access surface the pipeline needs.
// Page indexes are 0-based, matching MuPDF.
type Document interface {
	NumPage() int
	Layout(page int) (*PageLayout, error)
	Render(page int, dpi float64) (image.Image, error)
	Close() error
}

// Opener opens a Document from a path.
type Opener func(path string) (Document, error)

// FitzDocument implements Document on top of go-fitz.
type FitzDocument struct {
	doc *fitz.Document
}

// OpenFitz opens a PDF with MuPDF.
func OpenFitz(path string) (Document, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, domain.InputError("failed to open PDF", err)
	}
	if doc.NumPage() == 0 {
		doc.Close()
		return nil, domain.InputError("PDF has no pages", nil)
	}
	return &FitzDocument{doc: doc}, nil
}

func (d *FitzDocument) NumPage() int {
	return d.doc.NumPage()
}

// Layout extracts text blocks and image boxes from MuPDF's HTML rendering of the page.
func (d *FitzDocument) Layout(page int) (*PageLayout, error) {
	markup, err := d.doc.HTML(page, false)
	if err != nil {
		return nil, domain.InputError(fmt.Sprintf("failed to read layout of page %d", page+1), err)
	}

	layout, err := ParseLayout(markup)
	if err != nil {
		return nil, domain.InputError(fmt.Sprintf("failed to parse layout of page %d", page+1), err)
	}
	layout.Number = page + 1

	if layout.Bounds.Empty() {
		b, err := d.doc.Bound(page)
		if err == nil {
			layout.Bounds = Rect{X0: 0, Y0: 0, X1: float64(b.Dx()), Y1: float64(b.Dy())}
		}
	}
	return layout, nil
}

// Render rasterizes the whole page at the given DPI.
func (d *FitzDocument) Render(page int, dpi float64) (image.Image, error) {
	img, err := d.doc.ImageDPI(page, dpi)
	if err != nil {
		return nil, domain.InputError(fmt.Sprintf("failed to render page %d", page+1), err)
	}
	return img, nil
}

func (d *FitzDocument) Close() error {
	return d.doc.Close()
}
