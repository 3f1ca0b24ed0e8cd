//go:build tesseract

// Package tesseract provides a CPU OCR backend built on libtesseract. It
// registers itself as the "tesseract" OCR backend when imported; building it
// requires cgo and the tesseract development headers.
package tesseract

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/jackzampolin/pdfscribe/internal/engine"
)

func init() {
	engine.RegisterOCRBackend(engine.BackendTesseract, func(cfg engine.OCRConfig, logger *slog.Logger) (engine.OCREngine, error) {
		return New(cfg.Language, logger), nil
	})
}

// Engine implements engine.OCREngine with one tesseract client per call.
// Output is plain paragraphs; it has no region grounding, so pages processed
// with it produce no image assets.
type Engine struct {
	language      string
	clientFactory func() *gosseract.Client
	logger        *slog.Logger
}

// New constructs a tesseract engine for the given language code.
func New(language string, logger *slog.Logger) *Engine {
	if language == "" {
		language = "eng"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{language: language, clientFactory: gosseract.NewClient, logger: logger}
}

// ImageToMarkdown recognizes the page and joins paragraphs with blank lines.
func (e *Engine) ImageToMarkdown(ctx context.Context, img image.Image) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := pngBytes(img)
	if err != nil {
		return "", err
	}

	c := e.clientFactory()
	defer c.Close()

	if err := c.SetImageFromBytes(data); err != nil {
		return "", fmt.Errorf("set image: %w", err)
	}
	if err := c.SetLanguage(strings.Split(e.language, "+")...); err != nil {
		return "", fmt.Errorf("set languages: %w", err)
	}

	boxes, err := c.GetBoundingBoxes(gosseract.RIL_PARA)
	if err != nil || len(boxes) == 0 {
		text, err := c.Text()
		if err != nil {
			return "", fmt.Errorf("recognize text: %w", err)
		}
		return strings.TrimSpace(text) + "\n", nil
	}

	paras := make([]string, 0, len(boxes))
	for _, b := range boxes {
		if p := strings.Join(strings.Fields(b.Word), " "); p != "" {
			paras = append(paras, p)
		}
	}
	return strings.Join(paras, "\n\n") + "\n", nil
}

// Model returns the backend identifier including the language.
func (e *Engine) Model() string { return "tesseract:" + e.language }

var _ engine.OCREngine = (*Engine)(nil)
