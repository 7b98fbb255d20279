// Package classify decides how each page is sent to the vision model.
package classify

import "github.com/spherical/pdf-enricher/internal/pdf"

// DefaultThreshold is the coverage ratio above which a page is rendered whole.
const DefaultThreshold = 0.5

// Strategy is the processing strategy chosen for a page.
type Strategy int

const (
	// MixedExtraction keeps the text layer and describes each image separately.
	MixedExtraction Strategy = iota
	// FullPageRender rasterizes the page and describes it as one image.
	FullPageRender
)

func (s Strategy) String() string {
	switch s {
	case FullPageRender:
		return "full_page_render"
	case MixedExtraction:
		return "mixed_extraction"
	default:
		return "unknown"
	}
}

// PageClassification is the outcome for one page.
type PageClassification struct {
	PageIndex int
	Coverage  float64
	Strategy  Strategy
}

// Coverage returns the fraction of the page area covered by images.
//
// Each image box is clamped to the page before its area is counted.
// Overlapping boxes are summed, not merged, so stacked images can push the
// ratio up; the result is clamped to [0, 1].
func Coverage(page pdf.Rect, images []pdf.Rect) float64 {
	pageArea := page.Area()
	if pageArea <= 0 {
		return 0
	}
	var covered float64
	for _, img := range images {
		covered += img.Intersect(page).Area()
	}
	ratio := covered / pageArea
	switch {
	case ratio < 0:
		return 0
	case ratio > 1:
		return 1
	}
	return ratio
}

// Classify picks the strategy for a page. A threshold <= 0 means DefaultThreshold.
func Classify(index int, page pdf.Rect, images []pdf.Rect, threshold float64) PageClassification {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	ratio := Coverage(page, images)
	strategy := MixedExtraction
	if ratio > threshold {
		strategy = FullPageRender
	}
	return PageClassification{PageIndex: index, Coverage: ratio, Strategy: strategy}
}
