package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// JobStatus is the lifecycle state of a processing job.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transitions are allowed.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether moving from s to next is a legal state change.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing || next == StatusFailed
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

// Language selects the prompt set and output language.
type Language string

const (
	LanguageThai    Language = "th"
	LanguageEnglish Language = "en"
)

// ParseLanguage parses "th" or "en" case-insensitively.
func ParseLanguage(s string) (Language, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "th":
		return LanguageThai, nil
	case "en":
		return LanguageEnglish, nil
	default:
		return "", ValidationError(fmt.Sprintf("unknown language %q, use th | en", s), nil)
	}
}

// Quality levels for page processing.
const (
	QualityStandard = "standard"
	QualityHigh     = "high"
)

// JobConfig is the immutable configuration snapshot taken at submission.
type JobConfig struct {
	Provider        string   `json:"provider"`
	Model           string   `json:"model,omitempty"`
	Language        Language `json:"language"`
	StartPage       *int     `json:"start_page,omitempty"`
	EndPage         *int     `json:"end_page,omitempty"`
	TableExtraction bool     `json:"table_extraction"`
	TextOnly        bool     `json:"text_only"`
	Quality         string   `json:"quality"`
	Storage         string   `json:"storage"`
	S3Bucket        string   `json:"s3_bucket,omitempty"`
	S3Prefix        string   `json:"s3_prefix,omitempty"`
	StoragePath     string   `json:"storage_path,omitempty"`
}

// Normalize fills defaults and validates the configuration.
func (c *JobConfig) Normalize() error {
	if c.Language == "" {
		c.Language = LanguageThai
	}
	lang, err := ParseLanguage(string(c.Language))
	if err != nil {
		return err
	}
	c.Language = lang

	if c.Quality == "" {
		c.Quality = QualityStandard
	}
	if c.Quality != QualityStandard && c.Quality != QualityHigh {
		return ValidationError(fmt.Sprintf("unknown quality %q, use standard | high", c.Quality), nil)
	}
	if c.Storage == "" {
		c.Storage = "local"
	}
	if !c.TextOnly && c.Provider == "" {
		return ValidationError("provider is required unless text_only is set", nil)
	}
	if c.TextOnly {
		c.TableExtraction = false
	}
	if c.StartPage != nil && *c.StartPage < 1 {
		return ValidationError("start_page must be >= 1", nil)
	}
	if c.StartPage != nil && c.EndPage != nil && *c.EndPage < *c.StartPage {
		return ValidationError("end_page must be >= start_page", nil)
	}
	return nil
}

// PageRange resolves the configured range against the document's page count.
// Both bounds are 1-based and inclusive.
func (c JobConfig) PageRange(total int) (first, last int) {
	first, last = 1, total
	if c.StartPage != nil && *c.StartPage > first {
		first = *c.StartPage
	}
	if c.EndPage != nil && *c.EndPage < last {
		last = *c.EndPage
	}
	return first, last
}

// Progress phases.
const (
	PhaseQueued     = "queued"
	PhaseExtracting = "extracting"
	PhaseRendering  = "rendering"
	PhaseDescribing = "describing"
	PhaseAssembling = "assembling"
	PhaseComplete   = "complete"
	PhaseError      = "error"
)

// JobProgress is the latest checkpoint of a running job.
type JobProgress struct {
	CurrentPage     int    `json:"current_page"`
	TotalPages      int    `json:"total_pages"`
	ImagesProcessed int    `json:"images_processed"`
	Phase           string `json:"phase"`
	Message         string `json:"message"`
}

// ImageType distinguishes full-page renders from extracted images.
type ImageType string

const (
	ImageTypeFullPage  ImageType = "full_page"
	ImageTypeExtracted ImageType = "extracted_image"
)

// ImageMetadataRecord describes one generated image artifact.
type ImageMetadataRecord struct {
	ImageFile   string    `json:"image_file"`
	Page        int       `json:"page"`
	Index       *int      `json:"index,omitempty"`
	ImageType   ImageType `json:"image_type"`
	Width       *int      `json:"width,omitempty"`
	Height      *int      `json:"height,omitempty"`
	Description string    `json:"description"`
	SourceDoc   string    `json:"source_doc"`
	Provider    string    `json:"provider"`
	Model       string    `json:"model"`
}

// TrashType classifies low-value content.
type TrashType string

const (
	TrashTableOfContents TrashType = "table_of_contents"
	TrashBoilerplate     TrashType = "boilerplate"
	TrashBlankPage       TrashType = "blank_page"
	TrashHeaderFooter    TrashType = "header_footer"
)

// TrashDetection flags a page (or the whole document when Page is 0).
type TrashDetection struct {
	Page       int       `json:"page"`
	TrashType  TrashType `json:"trash_type"`
	Confidence float64   `json:"confidence"`
	Reason     string    `json:"reason"`
	Preview    string    `json:"preview"`
}

// JobResult is the terminal output of a completed job.
type JobResult struct {
	Markdown     string                `json:"markdown"`
	Images       []ImageMetadataRecord `json:"images"`
	Trash        []TrashDetection      `json:"trash"`
	ImageCount   int                   `json:"image_count"`
	Warnings     []string              `json:"warnings,omitempty"`
	OutputDir    string                `json:"output_dir,omitempty"`
	ImagesDir    string                `json:"images_dir,omitempty"`
	MarkdownPath string                `json:"markdown_path,omitempty"`
	MetadataPath string                `json:"metadata_path,omitempty"`
	TrashPath    string                `json:"trash_path,omitempty"`
}

// Job is a single document processing request.
type Job struct {
	ID        string       `json:"id"`
	Filename  string       `json:"filename"`
	Status    JobStatus    `json:"status"`
	Config    JobConfig    `json:"config"`
	Progress  *JobProgress `json:"progress,omitempty"`
	Result    *JobResult   `json:"result,omitempty"`
	Error     string       `json:"error,omitempty"`
	ErrorCode string       `json:"error_code,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Stem returns the source filename without directory or extension, reduced
// to a name safe in file paths, URLs and image tags. Letters, marks, digits,
// '.', '-' and '_' are kept; every other rune becomes '_'.
func Stem(filename string) string {
	base := filename
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}
	if i := strings.LastIndex(base, "."); i > 0 {
		base = base[:i]
	}
	base = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsMark(r), unicode.IsDigit(r):
			return r
		case r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, base)
	base = strings.Trim(base, "._")
	if base == "" {
		return "document"
	}
	return base
}
