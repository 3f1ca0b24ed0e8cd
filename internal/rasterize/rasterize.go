// Package rasterize renders PDF pages to PNG images.
package rasterize

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/jackzampolin/pdfscribe/internal/home"
)

const (
	DefaultDPI = 200
	MinDPI     = 72
	MaxDPI     = 600
)

var (
	// ErrNoPages is returned for documents without pages.
	ErrNoPages = errors.New("pdf has no pages")
	// ErrInvalidPDF is returned when the input cannot be parsed as a PDF.
	ErrInvalidPDF = errors.New("invalid pdf")
)

// Config configures a Poppler rasterizer.
type Config struct {
	// Binary is the pdftoppm executable; defaults to "pdftoppm" on PATH.
	Binary string
	Logger *slog.Logger
}

// Poppler renders pages with pdftoppm after checking the document with pdfcpu.
type Poppler struct {
	binary string
	logger *slog.Logger
}

// New creates a rasterizer.
func New(cfg Config) *Poppler {
	if cfg.Binary == "" {
		cfg.Binary = "pdftoppm"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Poppler{binary: cfg.Binary, logger: cfg.Logger}
}

// Available reports whether the pdftoppm binary can be found.
func (p *Poppler) Available() bool {
	_, err := exec.LookPath(p.binary)
	return err == nil
}

// PageCount returns the number of pages in the PDF at path.
func PageCount(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer f.Close()

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	n, err := api.PageCount(f, conf)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidPDF, err)
	}
	if n == 0 {
		return 0, ErrNoPages
	}
	return n, nil
}

// Rasterize renders every page of pdfPath into outDir as page_NNNN.png and
// returns the paths in page order.
func (p *Poppler) Rasterize(ctx context.Context, pdfPath, outDir string, dpi int) ([]string, error) {
	if dpi < MinDPI || dpi > MaxDPI {
		return nil, fmt.Errorf("dpi %d out of range [%d, %d]", dpi, MinDPI, MaxDPI)
	}
	pages, err := PageCount(pdfPath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create image dir: %w", err)
	}

	prefix := filepath.Join(outDir, "raw")
	cmd := exec.CommandContext(ctx, p.binary, "-png", "-r", strconv.Itoa(dpi), pdfPath, prefix)
	if out, err := cmd.CombinedOutput(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("pdftoppm failed: %w: %s", err, strings.TrimSpace(string(out)))
	}

	paths, err := normalize(outDir, "raw-")
	if err != nil {
		return nil, err
	}
	if len(paths) != pages {
		p.logger.Warn("rendered page count differs from document", "expected", pages, "rendered", len(paths))
	}
	if len(paths) == 0 {
		return nil, ErrNoPages
	}
	return paths, nil
}

// normalize renames pdftoppm's raw-N.png / raw-0N.png output to
// page_NNNN.png so lexical order matches page order.
func normalize(dir, prefix string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, prefix+"*.png"))
	if err != nil {
		return nil, err
	}

	type page struct {
		n    int
		path string
	}
	pages := make([]page, 0, len(matches))
	for _, m := range matches {
		num := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(m), prefix), ".png")
		n, err := strconv.Atoi(num)
		if err != nil {
			continue
		}
		pages = append(pages, page{n: n, path: m})
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].n < pages[j].n })

	out := make([]string, 0, len(pages))
	for _, pg := range pages {
		dest := filepath.Join(dir, PageFile(pg.n))
		if err := os.Rename(pg.path, dest); err != nil {
			return nil, fmt.Errorf("failed to rename page %d: %w", pg.n, err)
		}
		out = append(out, dest)
	}
	return out, nil
}

// PageFile returns the image file name for a 1-based page number.
func PageFile(n int) string {
	return home.PageName(n) + ".png"
}

// Open decodes a page image.
func Open(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", filepath.Base(path), err)
	}
	return img, nil
}
