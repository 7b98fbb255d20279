package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/spherical/pdf-enricher/internal/classify"
	"github.com/spherical/pdf-enricher/internal/domain"
	"github.com/spherical/pdf-enricher/internal/pdf"
	"github.com/spherical/pdf-enricher/internal/table"
)

// tableMargin pads table crops so cell borders are kept.
const tableMargin = 4.0

type unitKind int

const (
	unitFullPage unitKind = iota
	unitImage
	unitTable
)

// unit is one bitmap sent to the vision provider.
type unit struct {
	kind   unitKind
	page   int // 1-based
	index  int // 1-based within the page and kind
	box    pdf.Rect
	file   string
	png    []byte
	width  int
	height int
	prompt string
	region table.Region

	// set by the description phase
	text string
	ok   bool
}

func (u *unit) label() string {
	switch u.kind {
	case unitFullPage:
		return "full page"
	case unitTable:
		return fmt.Sprintf("table %d", u.index)
	default:
		return fmt.Sprintf("image %d", u.index)
	}
}

type pageWork struct {
	number   int
	layout   *pdf.PageLayout
	fullPage bool
	units    []*unit
}

// extract walks the selected pages on the document worker.
func (r *run) extract(ctx context.Context, w *pdf.Worker) ([]*pageWork, error) {
	var total int
	if err := w.Do(ctx, func(doc pdf.Document) error {
		total = doc.NumPage()
		return nil
	}); err != nil {
		return nil, r.pageErr(ctx, err)
	}

	first, last := r.cfg.PageRange(total)
	if first > last {
		return nil, domain.InputError(fmt.Sprintf("page range %d-%d is outside the document (%d pages)", first, last, total), nil)
	}
	if !r.cfg.TextOnly {
		if err := os.MkdirAll(r.imagesDir, 0o755); err != nil {
			return nil, domain.IOError("failed to create images directory", err)
		}
	}

	r.progress.update(func(p *domain.JobProgress) {
		p.TotalPages = last - first + 1
		p.Phase = domain.PhaseExtracting
	})

	pages := make([]*pageWork, 0, last-first+1)
	for n := first; n <= last; n++ {
		if err := ctx.Err(); err != nil {
			return nil, domain.CancellationError("job cancelled", err)
		}
		r.progress.update(func(p *domain.JobProgress) {
			p.CurrentPage = n
			p.Phase = domain.PhaseExtracting
			p.Message = fmt.Sprintf("Extracting page %d", n)
		})

		var pw *pageWork
		err := w.Do(ctx, func(doc pdf.Document) error {
			var err error
			pw, err = r.extractPage(doc, n)
			return err
		})
		if err != nil {
			return nil, r.pageErr(ctx, err)
		}
		pages = append(pages, pw)
	}
	return pages, nil
}

func (r *run) pageErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return domain.CancellationError("job cancelled", ctx.Err())
	}
	var de *domain.DomainError
	if errors.As(err, &de) {
		return err
	}
	return domain.InputError("failed to read PDF", err)
}

func (r *run) extractPage(doc pdf.Document, n int) (*pageWork, error) {
	idx := n - 1
	layout, err := doc.Layout(idx)
	if err != nil {
		return nil, err
	}
	pw := &pageWork{number: n, layout: layout}

	if r.cfg.TextOnly {
		r.metrics.ObservePage("text_only")
		return pw, nil
	}

	if r.cfg.Quality == domain.QualityHigh {
		pw.fullPage = true
	} else {
		c := classify.Classify(idx, layout.Bounds, layout.ImageRects(), r.opts.Threshold)
		pw.fullPage = c.Strategy == classify.FullPageRender
		r.logger.Debug().
			Int("page", n).
			Float64("coverage", c.Coverage).
			Str("strategy", c.Strategy.String()).
			Msg("Page classified")
	}

	if pw.fullPage {
		r.metrics.ObservePage(classify.FullPageRender.String())
		r.rendering(n)
		render, err := doc.Render(idx, r.opts.DPI)
		if err != nil {
			return nil, err
		}
		u, err := r.newUnit(unitFullPage, n, 0, layout.Bounds, render, r.fullPagePrompt(layout))
		if err != nil {
			return nil, err
		}
		pw.units = append(pw.units, u)
		return pw, nil
	}
	r.metrics.ObservePage(classify.MixedExtraction.String())

	var render image.Image
	pageRender := func() (image.Image, error) {
		if render != nil {
			return render, nil
		}
		r.rendering(n)
		img, err := doc.Render(idx, r.opts.DPI)
		if err != nil {
			return nil, err
		}
		render = img
		return render, nil
	}

	k := 0
	for _, ib := range layout.Images {
		img, err := r.imageFor(ib, layout.Bounds, pageRender)
		if err != nil {
			return nil, err
		}
		if img == nil {
			continue
		}
		b := img.Bounds()
		if b.Dx() < r.opts.MinImageSize || b.Dy() < r.opts.MinImageSize {
			r.logger.Debug().Int("page", n).Int("width", b.Dx()).Int("height", b.Dy()).Msg("Skipping small image")
			continue
		}
		k++
		u, err := r.newUnit(unitImage, n, k, ib.Box, img, r.prompts.SingleImage)
		if err != nil {
			return nil, err
		}
		pw.units = append(pw.units, u)
	}

	if r.cfg.TableExtraction {
		for i, reg := range table.Detect(layout.Blocks) {
			full, err := pageRender()
			if err != nil {
				return nil, err
			}
			crop := pdf.Crop(full, layout.Bounds, reg.Box.Inset(tableMargin))
			if crop == nil {
				continue
			}
			u, err := r.newUnit(unitTable, n, i+1, reg.Box, crop, r.prompts.TableExtraction)
			if err != nil {
				return nil, err
			}
			u.region = reg
			pw.units = append(pw.units, u)
		}
	}
	return pw, nil
}

func (r *run) rendering(n int) {
	r.progress.update(func(p *domain.JobProgress) {
		p.Phase = domain.PhaseRendering
		p.Message = fmt.Sprintf("Rendering page %d", n)
	})
}

// imageFor prefers the image bytes embedded in the page and falls back to
// cropping the page render. A nil image means the box is off-page.
func (r *run) imageFor(ib pdf.ImageBox, bounds pdf.Rect, pageRender func() (image.Image, error)) (image.Image, error) {
	if len(ib.Data) > 0 {
		if img, err := pdf.DecodeImage(ib.Data); err == nil {
			return img, nil
		}
	}
	full, err := pageRender()
	if err != nil {
		return nil, err
	}
	return pdf.Crop(full, bounds, ib.Box), nil
}

func (r *run) fullPagePrompt(layout *pdf.PageLayout) string {
	if r.cfg.Quality != domain.QualityHigh {
		return r.prompts.FullPage
	}
	if hint := layout.PlainText(); hint != "" {
		return r.prompts.WithHint(hint)
	}
	return r.prompts.HighQuality
}

func (r *run) newUnit(kind unitKind, page, index int, box pdf.Rect, img image.Image, prompt string) (*unit, error) {
	bm, err := pdf.EncodePNG(img)
	if err != nil {
		return nil, domain.InternalError("failed to encode image", err)
	}

	var file string
	switch kind {
	case unitFullPage:
		file = fmt.Sprintf("%s_page_%03d_full.png", r.stem, page)
	case unitTable:
		file = fmt.Sprintf("%s_page_%03d_table%d.png", r.stem, page, index)
	default:
		file = fmt.Sprintf("%s_page_%03d_img%d.png", r.stem, page, index)
	}
	if err := os.WriteFile(filepath.Join(r.imagesDir, file), bm.PNG, 0o644); err != nil {
		return nil, domain.IOError("failed to write image "+file, err)
	}

	return &unit{
		kind:   kind,
		page:   page,
		index:  index,
		box:    box,
		file:   file,
		png:    bm.PNG,
		width:  bm.Width,
		height: bm.Height,
		prompt: prompt,
	}, nil
}
