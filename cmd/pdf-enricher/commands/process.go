package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/spherical/pdf-enricher/cmd/pdf-enricher/ui"
	"github.com/spherical/pdf-enricher/internal/app"
	"github.com/spherical/pdf-enricher/internal/domain"
	"github.com/spherical/pdf-enricher/internal/export"
	"github.com/spherical/pdf-enricher/internal/observability"
	"github.com/spherical/pdf-enricher/internal/pipeline"
)

// stripAll is the --strip-trash value used when the flag has no types.
const stripAll = "all"

var (
	procProvider      string
	procModel         string
	procLang          string
	procStart         int
	procEnd           int
	procTables        bool
	procTextOnly      bool
	procQuality       string
	procOutput        string
	procSkipCheck     bool
	procNoDetectTrash bool
	procConcurrency   int
	procStripTrash    []string
)

var processCmd = &cobra.Command{
	Use:   "process <pdf|dir>",
	Short: "Convert PDFs to enriched markdown",
	Long: `Process runs the full pipeline on a PDF, or on every PDF in a directory,
without the job queue. Markdown, images and metadata are written under the
output directory.

--strip-trash writes a <name>_cleaned.md without the detected trash pages.
Limit it to some types with --strip-trash=toc,boilerplate,blank,header_footer.`,
	Args: cobra.ExactArgs(1),
	RunE: runProcess,
}

func init() {
	f := processCmd.Flags()
	f.StringVar(&procProvider, "provider", "", "vision provider (openai, claude, ollama); defaults to config")
	f.StringVar(&procModel, "model", "", "vision model; defaults to the provider default")
	f.StringVar(&procLang, "lang", "", "output language (th, en); defaults to config")
	f.IntVar(&procStart, "start", 0, "first page to process (1-based)")
	f.IntVar(&procEnd, "end", 0, "last page to process (inclusive)")
	f.BoolVar(&procTables, "tables", false, "transcribe detected tables as markdown")
	f.BoolVar(&procTextOnly, "text-only", false, "skip the vision model and keep only the text layer")
	f.StringVar(&procQuality, "quality", domain.QualityStandard, "standard or high")
	f.StringVarP(&procOutput, "output", "o", "", "output directory; defaults to config")
	f.BoolVar(&procSkipCheck, "skip-check", false, "do not verify the provider before processing")
	f.BoolVar(&procNoDetectTrash, "no-detect-trash", false, "disable trash page detection")
	f.IntVar(&procConcurrency, "concurrency", 0, "pages processed concurrently; defaults to config")
	f.StringSliceVar(&procStripTrash, "strip-trash", nil, "write a cleaned copy without detected trash pages, optionally only of the given types")
	f.Lookup("strip-trash").NoOptDefVal = stripAll
	rootCmd.AddCommand(processCmd)
}

func runProcess(cmd *cobra.Command, args []string) error {
	pdfs, err := collectPDFs(args[0])
	if err != nil {
		ui.Error("%v", err)
		return err
	}
	stripping := cmd.Flags().Changed("strip-trash")
	if stripping {
		// Reject unknown types before spending time on the documents.
		if _, err := trashPages(nil, procStripTrash); err != nil {
			return err
		}
	}

	jobCfg := app.DefaultJobConfig(cfg)
	if procProvider != "" {
		jobCfg.Provider = procProvider
		jobCfg.Model = ""
	}
	if procModel != "" {
		jobCfg.Model = procModel
	}
	if procLang != "" {
		jobCfg.Language = domain.Language(procLang)
	}
	if cmd.Flags().Changed("tables") {
		jobCfg.TableExtraction = procTables
	}
	if procStart > 0 {
		jobCfg.StartPage = &procStart
	}
	if procEnd > 0 {
		jobCfg.EndPage = &procEnd
	}
	jobCfg.TextOnly = procTextOnly
	jobCfg.Quality = procQuality
	if err := jobCfg.Normalize(); err != nil {
		return err
	}

	if procNoDetectTrash {
		cfg.Processing.DetectTrash = false
	}
	if procConcurrency > 0 {
		cfg.Vision.MaxConcurrency = procConcurrency
	}

	outDir := procOutput
	if outDir == "" {
		outDir = cfg.Processing.OutputDir
	}

	// Logs would interleave with the progress bar unless asked for.
	logger := observability.Nop()
	if ui.Verbose() {
		logger = app.NewLogger(cfg)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider := jobCfg.Provider
	if jobCfg.TextOnly {
		provider = "none (text only)"
	} else if !procSkipCheck {
		p, err := app.ProviderFactory(cfg, logger, nil)(jobCfg.Provider, jobCfg.Model)
		if err != nil {
			ui.Error("%v", err)
			return err
		}
		if err := checkReachable(ctx, p); err != nil {
			return err
		}
	}
	if jobCfg.Quality == domain.QualityHigh && !jobCfg.TextOnly {
		ui.Warning("High quality mode sends every page to the vision model and uses several times more tokens")
	}
	if len(pdfs) > 1 {
		ui.Info("Found %d PDFs in %s", len(pdfs), args[0])
	}

	svc := app.NewPipeline(cfg, logger, nil)
	for _, pdfPath := range pdfs {
		ui.Section("Processing " + filepath.Base(pdfPath))
		ui.Info("Provider: %s  Language: %s  Quality: %s", provider, jobCfg.Language, jobCfg.Quality)

		result, err := processOne(ctx, svc, pdfPath, jobCfg, outDir)
		if err != nil {
			return err
		}
		printResult(result, stripping)

		if stripping && len(result.Trash) > 0 {
			path, removed, err := stripTrash(result, procStripTrash)
			if err != nil {
				ui.Error("Failed to strip trash: %v", err)
				return err
			}
			if len(removed) == 0 {
				ui.Info("No removable pages match the filter")
			} else {
				ui.Success("Stripped %d page(s) -> %s", len(removed), path)
			}
		}
	}

	if len(pdfs) > 1 {
		ui.Success("Done, %d files processed into %s", len(pdfs), outDir)
	}
	return nil
}

func processOne(ctx context.Context, svc *pipeline.Service, pdfPath string, jobCfg domain.JobConfig, outDir string) (*domain.JobResult, error) {
	bar := ui.NewProgressBar(1, "Opening")
	sink := domain.ProgressFunc(func(p domain.JobProgress) {
		if p.TotalPages > 0 {
			bar.SetTotal(int64(p.TotalPages))
		}
		bar.Describe(fmt.Sprintf("%-11s", p.Phase))
		bar.Set(int64(p.CurrentPage))
	})

	start := time.Now()
	result, err := svc.Process(ctx, pipeline.Request{
		PDFPath:   pdfPath,
		Config:    jobCfg,
		OutputDir: outDir,
	}, sink)
	bar.Finish()
	if err != nil {
		ui.Error("Processing failed: %v", err)
		return nil, err
	}
	ui.Success("Processed in %s", time.Since(start).Round(time.Millisecond))
	return result, nil
}

// collectPDFs returns path itself when it is a file, or the sorted *.pdf
// files directly inside it when it is a directory.
func collectPDFs(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, domain.ValidationError("input not found: "+path, err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, domain.IOError("failed to read input directory", err)
	}
	var pdfs []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
			continue
		}
		pdfs = append(pdfs, filepath.Join(path, e.Name()))
	}
	if len(pdfs) == 0 {
		return nil, domain.ValidationError("no PDF files found in "+path, nil)
	}
	sort.Strings(pdfs)
	return pdfs, nil
}

// trashTypeNames maps the --strip-trash names to trash types.
var trashTypeNames = map[string]domain.TrashType{
	"toc":           domain.TrashTableOfContents,
	"boilerplate":   domain.TrashBoilerplate,
	"blank":         domain.TrashBlankPage,
	"header_footer": domain.TrashHeaderFooter,
}

// trashPages returns the sorted pages of the detections whose type is in
// types. "all" or an empty list selects every type. Document-level
// detections (page 0) have no page to remove and are skipped.
func trashPages(trash []domain.TrashDetection, types []string) ([]int, error) {
	want := map[domain.TrashType]bool{}
	all := len(types) == 0
	for _, name := range types {
		name = strings.ToLower(strings.TrimSpace(name))
		switch {
		case name == stripAll:
			all = true
		case trashTypeNames[name] != "":
			want[trashTypeNames[name]] = true
		case name == string(domain.TrashTableOfContents), name == string(domain.TrashBlankPage):
			want[domain.TrashType(name)] = true
		default:
			return nil, domain.ValidationError(fmt.Sprintf("unknown trash type %q", name), nil)
		}
	}

	seen := map[int]bool{}
	var pages []int
	for _, t := range trash {
		if t.Page <= 0 || seen[t.Page] || !(all || want[t.TrashType]) {
			continue
		}
		seen[t.Page] = true
		pages = append(pages, t.Page)
	}
	sort.Ints(pages)
	return pages, nil
}

// stripTrash writes the result's markdown without the selected trash pages
// to <name>_cleaned.md beside the original. Nothing is written when no page
// matches.
func stripTrash(result *domain.JobResult, types []string) (string, []int, error) {
	pages, err := trashPages(result.Trash, types)
	if err != nil || len(pages) == 0 {
		return "", nil, err
	}
	cleaned, removed := export.RemovePages(result.Markdown, pages)
	if len(removed) == 0 {
		return "", nil, nil
	}
	mdPath := result.MarkdownPath
	path := strings.TrimSuffix(mdPath, filepath.Ext(mdPath)) + "_cleaned.md"
	if err := os.WriteFile(path, []byte(cleaned), 0o644); err != nil {
		return "", nil, domain.IOError("failed to write cleaned markdown", err)
	}
	return path, removed, nil
}

func printResult(result *domain.JobResult, stripping bool) {
	ui.Section("Output")
	ui.Table([]string{"ITEM", "VALUE"}, [][]string{
		{"Markdown", result.MarkdownPath},
		{"Images", result.ImagesDir},
		{"Metadata", result.MetadataPath},
		{"Image count", strconv.Itoa(result.ImageCount)},
	})

	if len(result.Trash) > 0 {
		ui.Section("Suspected trash pages")
		rows := make([][]string, 0, len(result.Trash))
		for _, t := range result.Trash {
			page := strconv.Itoa(t.Page)
			if t.Page == 0 {
				page = "(doc)"
			}
			rows = append(rows, []string{
				page,
				string(t.TrashType),
				fmt.Sprintf("%.2f", t.Confidence),
				t.Reason,
			})
		}
		ui.Table([]string{"PAGE", "TYPE", "CONFIDENCE", "REASON"}, rows)
		if !stripping {
			ui.Info("Use --strip-trash to write a copy without these pages")
		}
	}

	for _, w := range result.Warnings {
		ui.Warning("%s", w)
	}
}
