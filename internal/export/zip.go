package export

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/spherical/pdf-enricher/internal/domain"
)

// WriteZip writes the job's outputs as a zip archive: {stem}.md, the image
// metadata JSON and every file of the images directory under images/{stem}/,
// so image tags resolve against an "images" base. When baseURL is set the
// markdown carries HTML image tags instead.
func WriteZip(w io.Writer, result *domain.JobResult, stem, baseURL string) error {
	if result == nil {
		return domain.ValidationError("job has no result", nil)
	}
	zw := zip.NewWriter(w)

	md := result.Markdown
	if baseURL != "" {
		md = ConvertImageTags(md, baseURL)
	}
	if err := addFile(zw, stem+".md", []byte(md)); err != nil {
		return err
	}

	meta, err := json.MarshalIndent(result.Images, "", "  ")
	if err != nil {
		return domain.InternalError("failed to encode image metadata", err)
	}
	metaName := stem + "_images_metadata.json"
	if result.MetadataPath != "" {
		metaName = filepath.Base(result.MetadataPath)
	}
	if err := addFile(zw, metaName, meta); err != nil {
		return err
	}

	files, err := ImageFiles(result.ImagesDir)
	if err != nil {
		return err
	}
	for _, f := range files {
		data, err := os.ReadFile(filepath.Join(result.ImagesDir, f))
		if err != nil {
			return domain.IOError("failed to read image "+f, err)
		}
		if err := addFile(zw, path.Join("images", stem, f), data); err != nil {
			return err
		}
	}

	if err := zw.Close(); err != nil {
		return domain.IOError("failed to finalize zip", err)
	}
	return nil
}

// ImageFiles lists the regular files in dir by name. A missing or empty dir
// yields no files.
func ImageFiles(dir string) ([]string, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, domain.IOError("failed to read images directory", err)
	}
	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

func addFile(zw *zip.Writer, name string, data []byte) error {
	fw, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
	if err != nil {
		return domain.IOError(fmt.Sprintf("failed to add %s to zip", name), err)
	}
	if _, err := fw.Write(data); err != nil {
		return domain.IOError(fmt.Sprintf("failed to write %s to zip", name), err)
	}
	return nil
}
