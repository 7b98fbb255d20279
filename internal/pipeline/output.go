package pipeline

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/spherical/pdf-enricher/internal/domain"
)

// writeOutputs writes the markdown, image metadata and trash report next to
// the images directory and records their paths on result.
func (r *run) writeOutputs(result *domain.JobResult) error {
	if err := os.MkdirAll(r.outDir, 0o755); err != nil {
		return domain.IOError("failed to create output directory", err)
	}

	result.OutputDir = r.outDir
	result.ImagesDir = r.imagesDir
	result.MarkdownPath = filepath.Join(r.outDir, r.stem+"_enriched.md")
	result.MetadataPath = filepath.Join(r.outDir, r.stem+"_images_metadata.json")
	result.TrashPath = filepath.Join(r.outDir, r.stem+"_trash.json")

	if err := os.WriteFile(result.MarkdownPath, []byte(result.Markdown), 0o644); err != nil {
		return domain.IOError("failed to write markdown", err)
	}
	if err := writeJSON(result.MetadataPath, result.Images); err != nil {
		return err
	}
	return writeJSON(result.TrashPath, result.Trash)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return domain.InternalError("failed to encode "+filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return domain.IOError("failed to write "+filepath.Base(path), err)
	}
	return nil
}
