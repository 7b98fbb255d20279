package pdf

import (
	"bytes"
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// Bitmap is an encoded PNG plus its pixel size.
type Bitmap struct {
	PNG    []byte
	Width  int
	Height int
}

// EncodePNG encodes img as PNG.
func EncodePNG(img image.Image) (Bitmap, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return Bitmap{}, err
	}
	b := img.Bounds()
	return Bitmap{PNG: buf.Bytes(), Width: b.Dx(), Height: b.Dy()}, nil
}

// Crop cuts the region box (in page points) out of a render of the page.
// The box is clamped to the page first; an empty result yields nil.
func Crop(render image.Image, page, box Rect) image.Image {
	box = box.Intersect(page)
	if box.Empty() || page.Empty() {
		return nil
	}
	rb := render.Bounds()
	sx := float64(rb.Dx()) / page.Width()
	sy := float64(rb.Dy()) / page.Height()

	px := image.Rect(
		rb.Min.X+int(math.Floor((box.X0-page.X0)*sx)),
		rb.Min.Y+int(math.Floor((box.Y0-page.Y0)*sy)),
		rb.Min.X+int(math.Ceil((box.X1-page.X0)*sx)),
		rb.Min.Y+int(math.Ceil((box.Y1-page.Y0)*sy)),
	).Intersect(rb)
	if px.Empty() {
		return nil
	}
	return imaging.Crop(render, px)
}

// DecodeImage decodes inlined image bytes (PNG, JPEG, GIF, BMP, TIFF).
func DecodeImage(data []byte) (image.Image, error) {
	return imaging.Decode(bytes.NewReader(data))
}

// PixelSize converts a box in points to pixels at dpi.
func PixelSize(box Rect, dpi float64) (int, int) {
	scale := dpi / 72.0
	return int(math.Round(box.Width() * scale)), int(math.Round(box.Height() * scale))
}
