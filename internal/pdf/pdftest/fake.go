// Package pdftest provides an in-memory pdf.Document for tests.
package pdftest

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"sort"
	"sync"

	"github.com/spherical/pdf-enricher/internal/pdf"
)

// Letter is a US Letter page in points.
var Letter = pdf.Rect{X1: 612, Y1: 792}

// Page describes one fake page.
type Page struct {
	Bounds pdf.Rect
	Blocks []pdf.TextBlock
	Images []pdf.ImageBox
}

// Document is a fake pdf.Document backed by Page values.
type Document struct {
	Pages []Page
	// RenderErr fails Render for the given 0-based page.
	RenderErr map[int]error

	mu      sync.Mutex
	closed  bool
	renders []int
}

// New returns a Document with the given pages.
func New(pages ...Page) *Document {
	return &Document{Pages: pages}
}

// TextPage builds a Letter page holding one text block per line, starting
// below the header margin.
func TextPage(lines ...string) Page {
	p := Page{Bounds: Letter}
	for i, line := range lines {
		p.Blocks = append(p.Blocks, pdf.TextBlock{
			Text:     line,
			Box:      pdf.RectXYWH(72, 144+float64(i)*14, 300, 12),
			FontSize: 12,
		})
	}
	return p
}

// WithImage adds an image box to the page and returns it.
func (p Page) WithImage(box pdf.Rect) Page {
	p.Images = append(append([]pdf.ImageBox(nil), p.Images...), pdf.ImageBox{Index: len(p.Images) + 1, Box: box})
	return p
}

// WithBlock adds a text block to the page and returns it.
func (p Page) WithBlock(text string, box pdf.Rect) Page {
	p.Blocks = append(append([]pdf.TextBlock(nil), p.Blocks...), pdf.TextBlock{Text: text, Box: box, FontSize: 10})
	return p
}

// Opener returns a pdf.Opener that always yields d.
func (d *Document) Opener() pdf.Opener {
	return func(string) (pdf.Document, error) { return d, nil }
}

func (d *Document) NumPage() int { return len(d.Pages) }

func (d *Document) Layout(page int) (*pdf.PageLayout, error) {
	p, err := d.page(page)
	if err != nil {
		return nil, err
	}
	layout := &pdf.PageLayout{
		Number: page + 1,
		Bounds: p.Bounds,
		Blocks: append([]pdf.TextBlock(nil), p.Blocks...),
		Images: append([]pdf.ImageBox(nil), p.Images...),
	}
	sort.SliceStable(layout.Blocks, func(i, j int) bool {
		a, b := layout.Blocks[i].Box, layout.Blocks[j].Box
		if a.Y0 != b.Y0 {
			return a.Y0 < b.Y0
		}
		return a.X0 < b.X0
	})
	return layout, nil
}

// Render returns a white page with grey rectangles where images sit.
func (d *Document) Render(page int, dpi float64) (image.Image, error) {
	p, err := d.page(page)
	if err != nil {
		return nil, err
	}
	if e := d.RenderErr[page]; e != nil {
		return nil, e
	}
	d.mu.Lock()
	d.renders = append(d.renders, page)
	d.mu.Unlock()

	scale := dpi / 72.0
	w := int(math.Round(p.Bounds.Width() * scale))
	h := int(math.Round(p.Bounds.Height() * scale))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.White)
		}
	}
	grey := color.RGBA{R: 128, G: 128, B: 128, A: 255}
	for _, ib := range p.Images {
		r := image.Rect(
			int(ib.Box.X0*scale), int(ib.Box.Y0*scale),
			int(ib.Box.X1*scale), int(ib.Box.Y1*scale),
		).Intersect(img.Bounds())
		for y := r.Min.Y; y < r.Max.Y; y++ {
			for x := r.Min.X; x < r.Max.X; x++ {
				img.Set(x, y, grey)
			}
		}
	}
	return img, nil
}

func (d *Document) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// Closed reports whether Close was called.
func (d *Document) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Renders lists the pages rendered so far, in order.
func (d *Document) Renders() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int(nil), d.renders...)
}

func (d *Document) page(n int) (Page, error) {
	if n < 0 || n >= len(d.Pages) {
		return Page{}, fmt.Errorf("page %d out of range", n)
	}
	return d.Pages[n], nil
}
