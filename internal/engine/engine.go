// Package engine holds the GPU model engines used by the pipeline and the
// registry that loads them once per process.
package engine

import (
	"context"
	"errors"
	"image"

	"github.com/jackzampolin/pdfscribe/internal/gate"
)

var (
	// ErrNotInitialized is returned when engines are requested before Init
	// completed successfully.
	ErrNotInitialized = errors.New("engines not initialized")
	// ErrEmptyResponse is returned when a model produced no text.
	ErrEmptyResponse = errors.New("engine returned an empty response")
)

// OCREngine converts one page image into grounded markdown text.
// Calls block for the duration of inference.
type OCREngine interface {
	ImageToMarkdown(ctx context.Context, img image.Image) (string, error)
	Model() string
}

// Captioner describes one image. pageContext is plain text from the page the
// image appears on; promptOverride replaces the default instruction when set.
type Captioner interface {
	Caption(ctx context.Context, img image.Image, pageContext, promptOverride string) (string, error)
	Model() string
}

// Seeder is implemented by captioners that accept a sampling seed per call.
type Seeder interface {
	WithSeed(seed int64) Captioner
}

// HealthChecker is implemented by engines that can verify their backend is
// reachable and serving the configured model.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Engines is the loaded set of engine handles plus the gate that serializes
// access to them. It is shared, read-only, by every job.
type Engines struct {
	OCR       OCREngine
	Captioner Captioner
	Gate      *gate.Gate
}

// OCRModel returns the OCR model name, or "" if no engine is loaded.
func (e *Engines) OCRModel() string {
	if e == nil || e.OCR == nil {
		return ""
	}
	return e.OCR.Model()
}

// CaptionModel returns the caption model name, or "" if no engine is loaded.
func (e *Engines) CaptionModel() string {
	if e == nil || e.Captioner == nil {
		return ""
	}
	return e.Captioner.Model()
}

// CaptionerWithSeed returns a captioner bound to seed when the backend
// supports it, otherwise the shared captioner.
func (e *Engines) CaptionerWithSeed(seed *int64) Captioner {
	if seed == nil {
		return e.Captioner
	}
	if s, ok := e.Captioner.(Seeder); ok {
		return s.WithSeed(*seed)
	}
	return e.Captioner
}
