package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackzampolin/pdfscribe/internal/engine"
	"github.com/jackzampolin/pdfscribe/internal/rasterize"
)

// OCRStage converts page images into markdown files.
type OCRStage struct {
	Engine   engine.OCREngine
	Rewriter Rewriter
	Logger   *slog.Logger
}

// OCRReport summarizes an OCR stage run.
type OCRReport struct {
	Pages     int           `json:"pages"`
	Succeeded int           `json:"succeeded"`
	Failures  []UnitFailure `json:"failures,omitempty"`
}

// Run processes pages in order, writing markdown/page_NNNN.md for each.
// A page that fails is logged, recorded and skipped. Cancellation is checked
// before each page; a page already sent to the engine runs to completion.
func (s *OCRStage) Run(ctx context.Context, pages []string, markdownDir string) (*OCRReport, error) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(markdownDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create markdown dir: %w", err)
	}

	report := &OCRReport{Pages: len(pages)}
	for i, imgPath := range pages {
		if err := ctx.Err(); err != nil {
			logger.Info("OCR stage cancelled", "completed", i, "pages", len(pages))
			return report, fmt.Errorf("%w: after %d of %d pages", ErrCancelled, i, len(pages))
		}

		page := i + 1
		start := time.Now()
		out, err := s.page(ctx, imgPath, markdownDir)
		if err != nil {
			logger.Warn("page OCR failed, skipping", "page", page, "image", filepath.Base(imgPath), "error", err)
			report.Failures = append(report.Failures, UnitFailure{
				Stage: StageOCR,
				Page:  page,
				File:  filepath.Base(imgPath),
				Error: err.Error(),
			})
			continue
		}
		report.Succeeded++
		logger.Info("page OCR complete", "page", page, "file", filepath.Base(out),
			"elapsed", time.Since(start).Round(time.Millisecond))
	}
	return report, nil
}

func (s *OCRStage) page(ctx context.Context, imgPath, markdownDir string) (string, error) {
	img, err := rasterize.Open(imgPath)
	if err != nil {
		return "", err
	}

	// The engine call is not interruptible; cancellation is honored between pages.
	raw, err := s.Engine.ImageToMarkdown(context.WithoutCancel(ctx), img)
	if err != nil {
		return "", fmt.Errorf("ocr: %w", err)
	}

	stem := strings.TrimSuffix(filepath.Base(imgPath), filepath.Ext(imgPath))
	text, err := s.Rewriter.Rewrite(raw, img, filepath.Join(markdownDir, stem+"_assets"), stem)
	if err != nil {
		return "", fmt.Errorf("rewrite: %w", err)
	}

	out := filepath.Join(markdownDir, stem+".md")
	if err := os.WriteFile(out, []byte(text), 0o644); err != nil {
		return "", fmt.Errorf("write markdown: %w", err)
	}
	return out, nil
}
