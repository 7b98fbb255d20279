package pipeline

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/spherical/pdf-enricher/internal/domain"
	"github.com/spherical/pdf-enricher/internal/export"
	"github.com/spherical/pdf-enricher/internal/pdf"
	"github.com/spherical/pdf-enricher/internal/trash"
)

// paragraphGap is the vertical gap, as a fraction of the font size, that
// starts a new paragraph.
const paragraphGap = 0.6

// assemble builds the markdown document, image records and trash report.
func (r *run) assemble(pages []*pageWork) *domain.JobResult {
	margins := trash.NewMargins(r.opts.MinRepeatPages)
	for _, pw := range pages {
		for _, b := range pw.layout.Blocks {
			margins.Add(pw.number, b.Text, relTop(b.Box, pw.layout.Bounds))
		}
	}

	result := &domain.JobResult{Images: []domain.ImageMetadataRecord{}}
	sections := make([]string, 0, len(pages))
	trashPages := make([]trash.Page, 0, len(pages))

	for _, pw := range pages {
		var body string
		if pw.fullPage {
			body = r.fullPageBody(pw, result)
		} else {
			body = r.mixedBody(pw, margins, result)
		}
		sections = append(sections, export.Section(pw.number, body))
		trashPages = append(trashPages, trash.Page{
			Number:     pw.number,
			Text:       stripImageTags(body),
			ImageCount: imageUnits(pw),
		})
	}

	result.Markdown = export.Join(r.preamble(len(pages)), sections)
	result.ImageCount = len(result.Images)

	found := margins.Found()
	if len(found) > 0 {
		r.logger.Info().Int("count", len(found)).Msg("Stripped running headers and footers")
	}
	if r.opts.DetectTrash {
		result.Trash = append(result.Trash, trash.HeaderFooterDetection(found, len(pages))...)
		result.Trash = append(result.Trash, trash.Detect(trashPages, trash.Options{})...)
	}
	if result.Trash == nil {
		result.Trash = []domain.TrashDetection{}
	}

	r.mu.Lock()
	result.Warnings = append([]string(nil), r.warnings...)
	r.mu.Unlock()
	return result
}

func (r *run) preamble(pages int) string {
	if r.cfg.TextOnly {
		return fmt.Sprintf("# %s\n> Mode: `text-only` | Language: `%s` | Pages: %d", r.stem, r.cfg.Language, pages)
	}
	return fmt.Sprintf("# %s\n> Provider: `%s` | Model: `%s` | Pages: %d",
		r.stem, r.provider.Name(), r.provider.Model(), pages)
}

func (r *run) ref(u *unit) string {
	return path.Join(r.stem, u.file)
}

func (r *run) record(u *unit) domain.ImageMetadataRecord {
	width, height := u.width, u.height
	rec := domain.ImageMetadataRecord{
		ImageFile:   r.ref(u),
		Page:        u.page,
		ImageType:   domain.ImageTypeExtracted,
		Width:       &width,
		Height:      &height,
		Description: u.text,
		SourceDoc:   r.stem,
		Provider:    r.provider.Name(),
		Model:       r.provider.Model(),
	}
	if u.kind == unitFullPage {
		rec.ImageType = domain.ImageTypeFullPage
	} else {
		index := u.index
		rec.Index = &index
	}
	return rec
}

func (r *run) fullPageBody(pw *pageWork, result *domain.JobResult) string {
	u := pw.units[0]
	result.Images = append(result.Images, r.record(u))
	return export.ImageTag(r.ref(u)) + "\n\n" + neutralize(u.text)
}

type insert struct {
	top  float64
	text string
}

// mixedBody merges the page's text blocks into paragraphs and places each
// image before the first block that starts below it. Successful table
// extractions replace the blocks of their region.
func (r *run) mixedBody(pw *pageWork, margins *trash.Margins, result *domain.JobResult) string {
	var inserts []insert
	replaced := map[int]bool{}
	for _, u := range pw.units {
		switch u.kind {
		case unitImage:
			result.Images = append(result.Images, r.record(u))
			inserts = append(inserts, insert{
				top:  u.box.Y0,
				text: fmt.Sprintf("%s\n**[Image %d]:** %s", export.ImageTag(r.ref(u)), u.index, neutralize(u.text)),
			})
		case unitTable:
			if !u.ok {
				continue
			}
			for _, bi := range u.region.Blocks {
				replaced[bi] = true
			}
			inserts = append(inserts, insert{top: u.region.Box.Y0, text: neutralize(u.text)})
		}
	}
	sort.SliceStable(inserts, func(i, j int) bool { return inserts[i].top < inserts[j].top })

	var (
		parts []string
		para  []string
		prev  *pdf.TextBlock
	)
	flush := func() {
		if len(para) > 0 {
			parts = append(parts, strings.Join(para, "\n"))
			para = nil
		}
	}

	blocks := pw.layout.Blocks
	for i := range blocks {
		b := &blocks[i]
		if replaced[i] || margins.IsRepeated(b.Text, relTop(b.Box, pw.layout.Bounds)) {
			continue
		}
		for len(inserts) > 0 && inserts[0].top < b.Box.Y0 {
			flush()
			parts = append(parts, inserts[0].text)
			inserts = inserts[1:]
			prev = nil
		}
		if prev != nil && newParagraph(prev, b) {
			flush()
		}
		para = append(para, neutralize(b.Text))
		prev = b
	}
	flush()
	for _, in := range inserts {
		parts = append(parts, in.text)
	}
	return strings.Join(parts, "\n\n")
}

func newParagraph(prev, cur *pdf.TextBlock) bool {
	if cur.Box.Y0 < prev.Box.Y0 {
		return true
	}
	size := prev.FontSize
	if cur.FontSize > size {
		size = cur.FontSize
	}
	if size <= 0 {
		size = 12
	}
	return cur.Box.Y0-prev.Box.Y1 > size*paragraphGap
}

// relTop is the block's top edge relative to the page height.
func relTop(box, page pdf.Rect) float64 {
	h := page.Height()
	if h <= 0 {
		return 0.5
	}
	return (box.Y0 - page.Y0) / h
}

func imageUnits(pw *pageWork) int {
	n := 0
	for _, u := range pw.units {
		if u.kind != unitTable {
			n++
		}
	}
	return n
}

func stripImageTags(body string) string {
	lines := strings.Split(body, "\n")
	kept := lines[:0]
	for _, l := range lines {
		if export.CountImageTags(l) == 0 {
			kept = append(kept, l)
		}
	}
	return strings.Join(kept, "\n")
}

// neutralize trims text and defuses anything that would read as an image tag,
// so every tag in the document belongs to an image record.
func neutralize(text string) string {
	return strings.ReplaceAll(strings.TrimSpace(text), "[IMAGE:", "[IMAGE ")
}
