package export

import (
	"archive/zip"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/pdf-enricher/internal/domain"
)

func TestWriteZip(t *testing.T) {
	dir := t.TempDir()
	imagesDir := filepath.Join(dir, "images", "manual")
	require.NoError(t, os.MkdirAll(imagesDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(imagesDir, "manual_page_001_img1.png"), []byte("png-1"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(imagesDir, "manual_page_002_full.png"), []byte("png-2"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(imagesDir, "nested"), 0o755))

	index := 1
	result := &domain.JobResult{
		Markdown:     "# manual\n\n## Page 1\n\n[IMAGE:manual/manual_page_001_img1.png]\n",
		Images:       []domain.ImageMetadataRecord{{ImageFile: "manual/manual_page_001_img1.png", Page: 1, Index: &index}},
		ImagesDir:    imagesDir,
		MetadataPath: filepath.Join(dir, "manual_images_metadata.json"),
	}

	read := func(t *testing.T, baseURL string) map[string]string {
		var buf bytes.Buffer
		require.NoError(t, WriteZip(&buf, result, "manual", baseURL))
		zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
		require.NoError(t, err)
		files := map[string]string{}
		for _, f := range zr.File {
			rc, err := f.Open()
			require.NoError(t, err)
			data, err := io.ReadAll(rc)
			require.NoError(t, err)
			rc.Close()
			files[f.Name] = string(data)
		}
		return files
	}

	t.Run("plain", func(t *testing.T) {
		files := read(t, "")
		assert.Len(t, files, 4)
		assert.Equal(t, result.Markdown, files["manual.md"])
		assert.Contains(t, files["manual_images_metadata.json"], `"image_file": "manual/manual_page_001_img1.png"`)
		assert.Equal(t, "png-1", files["images/manual/manual_page_001_img1.png"])
		assert.Equal(t, "png-2", files["images/manual/manual_page_002_full.png"])
	})

	t.Run("converted", func(t *testing.T) {
		files := read(t, "https://cdn.example.com/img/")
		assert.Contains(t, files["manual.md"], `<img src="https://cdn.example.com/img/manual/manual_page_001_img1.png"`)
		assert.NotContains(t, files["manual.md"], "[IMAGE:")
	})
}

func TestWriteZip_NoImages(t *testing.T) {
	var buf bytes.Buffer
	err := WriteZip(&buf, &domain.JobResult{Markdown: "# doc\n", ImagesDir: filepath.Join(t.TempDir(), "missing")}, "doc", "")
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"doc.md", "doc_images_metadata.json"}, names)
}

func TestWriteZip_NilResult(t *testing.T) {
	err := WriteZip(io.Discard, nil, "doc", "")
	assert.True(t, domain.IsType(err, domain.ErrorTypeValidation))
}
