// Package trash flags low-value pages (blank pages, tables of contents and
// boilerplate) and the running headers and footers stripped from a document.
// Detections are advisory; nothing is removed here.
package trash

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/spherical/pdf-enricher/internal/domain"
)

const (
	// DefaultSimilarityThreshold is the word-set Jaccard similarity above
	// which two pages count as near-duplicates.
	DefaultSimilarityThreshold = 0.85
	// DefaultMinDuplicateWords is the smallest page considered for duplicate detection.
	DefaultMinDuplicateWords = 20

	shortPageBytes  = 500
	nearlyBlankSize = 50
	previewRunes    = 200
)

// Page is the assembled text of one page.
type Page struct {
	Number     int // 1-based
	Text       string
	ImageCount int
}

// Options tunes detection.
type Options struct {
	SimilarityThreshold float64
	MinDuplicateWords   int
}

func (o Options) withDefaults() Options {
	if o.SimilarityThreshold <= 0 {
		o.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if o.MinDuplicateWords <= 0 {
		o.MinDuplicateWords = DefaultMinDuplicateWords
	}
	return o
}

var (
	tocHeading = regexp.MustCompile(`(?i)^#*\s*(table of contents|contents|สารบัญ)\s*:?$`)
	tocLeader  = regexp.MustCompile(`^(.+?)\s*(\.{3,}|…+|\s{2,})\s*\d+$`)

	blankMarkers = []string{
		"this page intentionally left blank",
		"intentionally left blank",
		"intentionally blank",
		"หน้านี้ว่างโดยตั้งใจ",
	}

	boilerplateKeywords = []string{
		"copyright",
		"ลิขสิทธิ์",
		"all rights reserved",
		"สงวนลิขสิทธิ์",
		"disclaimer",
		"ข้อจำกัดความรับผิดชอบ",
		"terms of use",
		"terms and conditions",
		"ข้อกำหนดและเงื่อนไข",
		"confidential",
		"ความลับ",
	}

	typeRank = map[domain.TrashType]int{
		domain.TrashTableOfContents: 0,
		domain.TrashBoilerplate:     1,
		domain.TrashBlankPage:       2,
		domain.TrashHeaderFooter:    3,
	}
)

// Detect runs every page-level rule and returns detections sorted by page then type.
func Detect(pages []Page, opts Options) []domain.TrashDetection {
	opts = opts.withDefaults()

	duplicates := nearDuplicates(pages, opts)

	var out []domain.TrashDetection
	for i, p := range pages {
		if d, ok := detectTOC(p); ok {
			out = append(out, d)
		}
		if d, ok := detectBoilerplate(p, duplicates[i]); ok {
			out = append(out, d)
		}
		if d, ok := detectBlank(p); ok {
			out = append(out, d)
		}
	}
	sortDetections(out)
	return out
}

func sortDetections(ds []domain.TrashDetection) {
	sort.SliceStable(ds, func(i, j int) bool {
		if ds[i].Page != ds[j].Page {
			return ds[i].Page < ds[j].Page
		}
		return typeRank[ds[i].TrashType] < typeRank[ds[j].TrashType]
	})
}

func detectBlank(p Page) (domain.TrashDetection, bool) {
	trimmed := strings.TrimSpace(p.Text)
	lower := strings.ToLower(trimmed)

	d := domain.TrashDetection{Page: p.Number, TrashType: domain.TrashBlankPage, Preview: Preview(trimmed)}
	switch {
	case trimmed == "" && p.ImageCount == 0:
		d.Confidence = 1.0
		d.Reason = "Blank page (no text, no images)"
	case containsAny(lower, blankMarkers):
		d.Confidence = 0.95
		d.Reason = "Explicit blank page marker found"
	case len(trimmed) < nearlyBlankSize && p.ImageCount == 0:
		d.Confidence = 0.8
		d.Reason = fmt.Sprintf("Nearly blank page (%d chars)", len(trimmed))
	default:
		return d, false
	}
	return d, true
}

func detectTOC(p Page) (domain.TrashDetection, bool) {
	hasHeading := false
	leaders := 0
	for _, line := range strings.Split(p.Text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if tocHeading.MatchString(line) {
			hasHeading = true
			continue
		}
		if tocLeader.MatchString(line) {
			leaders++
		}
	}

	d := domain.TrashDetection{Page: p.Number, TrashType: domain.TrashTableOfContents, Preview: Preview(p.Text)}
	switch {
	case hasHeading && leaders >= 3:
		d.Confidence = 0.95
		d.Reason = fmt.Sprintf("TOC heading found with %d leader lines", leaders)
	case hasHeading && leaders >= 1:
		d.Confidence = 0.85
		d.Reason = fmt.Sprintf("TOC heading found with %d leader line(s)", leaders)
	case hasHeading && len(strings.TrimSpace(p.Text)) < shortPageBytes:
		d.Confidence = 0.6
		d.Reason = "TOC heading on a short page"
	case !hasHeading && leaders >= 5:
		d.Confidence = 0.7
		d.Reason = fmt.Sprintf("%d leader lines detected (possible TOC)", leaders)
	default:
		return d, false
	}
	return d, true
}

type duplicate struct {
	page       int
	similarity float64
}

func detectBoilerplate(p Page, dup *duplicate) (domain.TrashDetection, bool) {
	d := domain.TrashDetection{Page: p.Number, TrashType: domain.TrashBoilerplate, Preview: Preview(p.Text)}

	lower := strings.ToLower(p.Text)
	var matched []string
	for _, kw := range boilerplateKeywords {
		if strings.Contains(lower, kw) {
			matched = append(matched, kw)
		}
	}
	switch {
	case len(matched) >= 2:
		d.Confidence = 0.85
		d.Reason = "Multiple boilerplate keywords: " + strings.Join(matched, ", ")
	case len(matched) == 1 && len(strings.TrimSpace(p.Text)) < shortPageBytes:
		d.Confidence = 0.65
		d.Reason = fmt.Sprintf("Boilerplate keyword %q on short page (%d chars)", matched[0], len(strings.TrimSpace(p.Text)))
	}

	if dup != nil && dup.similarity > d.Confidence {
		d.Confidence = dup.similarity
		d.Reason = fmt.Sprintf("Near-duplicate of page %d (similarity %.2f)", dup.page, dup.similarity)
	}
	return d, d.Confidence > 0
}

// nearDuplicates returns, for each page index, its most similar other page
// when the similarity reaches the threshold.
func nearDuplicates(pages []Page, opts Options) []*duplicate {
	out := make([]*duplicate, len(pages))
	sets := make([]map[string]struct{}, len(pages))
	for i, p := range pages {
		words := strings.Fields(strings.ToLower(p.Text))
		if len(words) < opts.MinDuplicateWords {
			continue
		}
		set := make(map[string]struct{}, len(words))
		for _, w := range words {
			set[w] = struct{}{}
		}
		sets[i] = set
	}

	for i := range pages {
		if sets[i] == nil {
			continue
		}
		for j := i + 1; j < len(pages); j++ {
			if sets[j] == nil {
				continue
			}
			sim := jaccard(sets[i], sets[j])
			if sim < opts.SimilarityThreshold {
				continue
			}
			if out[i] == nil || sim > out[i].similarity {
				out[i] = &duplicate{page: pages[j].Number, similarity: sim}
			}
			if out[j] == nil || sim > out[j].similarity {
				out[j] = &duplicate{page: pages[i].Number, similarity: sim}
			}
		}
	}
	return out
}

func jaccard(a, b map[string]struct{}) float64 {
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// Preview trims text to at most 200 runes, marking truncation with "...".
func Preview(text string) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= previewRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:previewRunes]) + "..."
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
