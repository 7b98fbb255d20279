package trash

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/spherical/pdf-enricher/internal/domain"
)

const (
	// DefaultMinRepeatPages is how many distinct pages a margin line must
	// appear on before it is treated as a running header or footer.
	DefaultMinRepeatPages = 3

	headerBand = 0.12
	footerBand = 0.88
	yBuckets   = 50

	// maxMarginRunes caps the length of a line that can be a header or
	// footer. Longer margin lines are body text.
	maxMarginRunes = 100
)

// Repeated is a running header or footer found in a document.
type Repeated struct {
	Text   string
	Footer bool
	Pages  int
}

// Margins indexes text lines in the top and bottom margins of each page to
// find running headers and footers. Lines are matched by normalized text
// (digits masked, so page numbers match) and vertical position.
type Margins struct {
	minPages int
	pages    map[string]map[int]struct{}
	samples  map[string]Repeated
}

// NewMargins returns an empty index. minPages <= 0 means DefaultMinRepeatPages.
func NewMargins(minPages int) *Margins {
	if minPages <= 0 {
		minPages = DefaultMinRepeatPages
	}
	return &Margins{
		minPages: minPages,
		pages:    map[string]map[int]struct{}{},
		samples:  map[string]Repeated{},
	}
}

// Add records a line of text seen on page at relative vertical position relY
// (0 = top edge, 1 = bottom edge). Lines outside the margin bands are ignored.
func (m *Margins) Add(page int, text string, relY float64) {
	key, ok := marginKey(text, relY)
	if !ok {
		return
	}
	seen, ok := m.pages[key]
	if !ok {
		seen = map[int]struct{}{}
		m.pages[key] = seen
		m.samples[key] = Repeated{Text: strings.TrimSpace(text), Footer: relY > footerBand}
	}
	seen[page] = struct{}{}
}

// IsRepeated reports whether the line is a running header or footer.
func (m *Margins) IsRepeated(text string, relY float64) bool {
	key, ok := marginKey(text, relY)
	if !ok {
		return false
	}
	return len(m.pages[key]) >= m.minPages
}

// Found lists the running headers then footers, sorted by text.
func (m *Margins) Found() []Repeated {
	var out []Repeated
	for key, seen := range m.pages {
		if len(seen) < m.minPages {
			continue
		}
		r := m.samples[key]
		r.Pages = len(seen)
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Footer != out[j].Footer {
			return !out[i].Footer
		}
		return out[i].Text < out[j].Text
	})
	return out
}

func marginKey(text string, relY float64) (string, bool) {
	if relY >= headerBand && relY <= footerBand {
		return "", false
	}
	norm := normalizeMargin(text)
	if norm == "" || utf8.RuneCountInString(norm) > maxMarginRunes {
		return "", false
	}
	return fmt.Sprintf("%d|%s", int(math.Round(relY*yBuckets)), norm), true
}

func normalizeMargin(text string) string {
	fields := strings.Fields(text)
	joined := strings.Join(fields, " ")
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return '#'
		}
		return unicode.ToLower(r)
	}, joined)
}

// HeaderFooterDetection summarizes stripped headers and footers as one
// document-level detection (page 0). It returns nil when nothing was stripped.
func HeaderFooterDetection(found []Repeated, pages int) []domain.TrashDetection {
	if len(found) == 0 {
		return nil
	}
	parts := make([]string, 0, len(found))
	for _, r := range found {
		label := "Header"
		if r.Footer {
			label = "Footer"
		}
		parts = append(parts, fmt.Sprintf("%s: %q", label, r.Text))
	}
	return []domain.TrashDetection{{
		Page:       0,
		TrashType:  domain.TrashHeaderFooter,
		Confidence: 1.0,
		Reason:     fmt.Sprintf("Repeated text stripped from %d pages: %s", pages, strings.Join(parts, ", ")),
		Preview:    Preview(strings.Join(parts, "; ")),
	}}
}
