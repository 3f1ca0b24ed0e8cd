package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jackzampolin/pdfscribe/internal/engine"
	"github.com/jackzampolin/pdfscribe/internal/markdown"
	"github.com/jackzampolin/pdfscribe/internal/rasterize"
)

// CaptionStage captions the images referenced from page markdown and
// rewrites the references in place.
type CaptionStage struct {
	Captioner engine.Captioner
	Mode      markdown.RewriteMode
	// Prompt replaces the captioner's default instruction when set.
	Prompt string
	Logger *slog.Logger
}

// FileReport describes what the caption stage did to one markdown file.
type FileReport struct {
	File      string `json:"file"`
	Changed   bool   `json:"changed"`
	Images    int    `json:"images"`
	Captioned int    `json:"captioned"`
}

// CaptionReport summarizes a caption stage run.
type CaptionReport struct {
	Files    []FileReport  `json:"files"`
	Failures []UnitFailure `json:"failures,omitempty"`
}

// Changed returns the number of files that were rewritten.
func (r *CaptionReport) Changed() int {
	n := 0
	for _, f := range r.Files {
		if f.Changed {
			n++
		}
	}
	return n
}

// Captioned returns the number of distinct images captioned across files.
func (r *CaptionReport) Captioned() int {
	n := 0
	for _, f := range r.Files {
		n += f.Captioned
	}
	return n
}

// Run captions every markdown/*.md under outputDir in name order.
// Cancellation is checked before each file.
func (s *CaptionStage) Run(ctx context.Context, outputDir string) (*CaptionReport, error) {
	logger := s.logger()
	mdDir := filepath.Join(outputDir, "markdown")
	info, err := os.Stat(mdDir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w under %s", ErrNoMarkdown, outputDir)
	}

	files, err := filepath.Glob(filepath.Join(mdDir, "*.md"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)

	report := &CaptionReport{Files: make([]FileReport, 0, len(files))}
	for i, path := range files {
		if err := ctx.Err(); err != nil {
			logger.Info("caption stage cancelled", "completed", i, "files", len(files))
			return report, fmt.Errorf("%w: after %d of %d files", ErrCancelled, i, len(files))
		}

		fr, failures, err := s.CaptionFile(ctx, path)
		report.Failures = append(report.Failures, failures...)
		if err != nil {
			logger.Warn("failed to caption file, skipping", "file", filepath.Base(path), "error", err)
			report.Failures = append(report.Failures, UnitFailure{
				Stage: StageCaption,
				File:  filepath.Base(path),
				Error: err.Error(),
			})
			continue
		}
		report.Files = append(report.Files, fr)
	}

	logger.Info("caption stage finished", "files", len(files), "changed", report.Changed(),
		"captioned", report.Captioned(), "failures", len(report.Failures))
	return report, nil
}

// CaptionFile captions one markdown file. Each distinct image path is sent
// to the captioner at most once. The file is only written when its content
// changes, so a file without image references stays byte-identical.
func (s *CaptionStage) CaptionFile(ctx context.Context, path string) (FileReport, []UnitFailure, error) {
	logger := s.logger().With("file", filepath.Base(path))
	fr := FileReport{File: filepath.Base(path)}

	data, err := os.ReadFile(path)
	if err != nil {
		return fr, nil, err
	}
	text := string(data)

	refs := markdown.FindImageRefs(text)
	fr.Images = len(refs)
	if len(refs) == 0 {
		logger.Debug("no images found")
		return fr, nil, nil
	}

	pageContext := markdown.PlainText(data)
	captioner := s.Captioner

	var failures []UnitFailure
	fail := func(ref string, err error) {
		logger.Warn("image caption failed, skipping", "ref", ref, "error", err)
		failures = append(failures, UnitFailure{Stage: StageCaption, File: fr.File, Ref: ref, Error: err.Error()})
	}

	captions := make(map[string]string)
	attempted := make(map[string]bool)
	for _, ref := range refs {
		if attempted[ref.Path] {
			continue
		}
		attempted[ref.Path] = true

		imgPath, err := resolveImage(path, ref.Path)
		if err != nil {
			fail(ref.Path, err)
			continue
		}
		img, err := rasterize.Open(imgPath)
		if err != nil {
			fail(ref.Path, err)
			continue
		}

		// Engine calls are not interruptible; cancellation is honored between files.
		caption, err := captioner.Caption(context.WithoutCancel(ctx), img, pageContext, s.Prompt)
		if err != nil {
			fail(ref.Path, err)
			continue
		}
		captions[ref.Path] = caption
		fr.Captioned++
		logger.Debug("captioned image", "ref", ref.Path)
	}

	updated := markdown.RewriteImageRefs(text, captions, s.Mode)
	if updated == text {
		return fr, failures, nil
	}
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		return fr, failures, fmt.Errorf("write markdown: %w", err)
	}
	fr.Changed = true
	return fr, failures, nil
}

// resolveImage maps a markdown image path to a local file next to the page.
func resolveImage(mdPath, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", errors.New("empty image path")
	}
	if strings.Contains(ref, "://") || strings.HasPrefix(ref, "data:") {
		return "", fmt.Errorf("image %s is not a local file", ref)
	}
	p := ref
	if !filepath.IsAbs(p) {
		p = filepath.Join(filepath.Dir(mdPath), filepath.FromSlash(ref))
	}
	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("image not found: %s", ref)
		}
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("image path %s is a directory", ref)
	}
	return p, nil
}

func (s *CaptionStage) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}
