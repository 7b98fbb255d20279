package deploy

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spherical/pdf-enricher/internal/domain"
)

// copyImages copies files into dest/{stem}, overwriting what is there, so
// that "{base}/{stem}/{file}" references resolve when dest is served at base.
func copyImages(dir string, files []string, dest, stem string) (string, error) {
	target := filepath.Join(dest, stem)
	if err := os.MkdirAll(target, 0o755); err != nil {
		return "", domain.StorageError("failed to create destination directory", err)
	}
	for _, f := range files {
		if err := copyFile(filepath.Join(dir, f), filepath.Join(target, f)); err != nil {
			return "", domain.StorageError("failed to copy "+f, err)
		}
	}
	return fmt.Sprintf("%d images copied to %s", len(files), target), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// writeMarkdown writes dest/{stem}.md, replacing any previous deploy.
func writeMarkdown(dest, stem, markdown string) (string, error) {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return "", domain.StorageError("failed to create destination directory", err)
	}
	target := filepath.Join(dest, stem+".md")
	if err := os.WriteFile(target, []byte(markdown), 0o644); err != nil {
		return "", domain.StorageError("failed to write markdown", err)
	}
	return "Markdown saved to " + target, nil
}
