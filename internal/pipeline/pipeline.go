// Package pipeline runs the two GPU stages of a job: OCR over every page,
// then captioning of every image the OCR stage cropped out.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
)

// Stage names a phase of a job.
type Stage string

const (
	StageOCR     Stage = "ocr"
	StageCaption Stage = "caption"
	StagePackage Stage = "package"
)

// ErrCancelled is returned when a job stops because its context was cancelled.
var ErrCancelled = errors.New("job cancelled")

// ErrNoMarkdown is returned by the caption stage when the output directory
// has no markdown/ subdirectory.
var ErrNoMarkdown = errors.New("markdown directory not found")

// StageError is a job-level failure attributed to one stage.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	switch e.Stage {
	case StageOCR:
		return fmt.Sprintf("OCR processing failed: %v", e.Err)
	case StageCaption:
		return fmt.Sprintf("Caption processing failed: %v", e.Err)
	default:
		return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
	}
}

func (e *StageError) Unwrap() error { return e.Err }

// UnitFailure records one page or image that was skipped.
type UnitFailure struct {
	Stage Stage  `json:"stage"`
	Page  int    `json:"page,omitempty"`
	File  string `json:"file,omitempty"`
	Ref   string `json:"ref,omitempty"`
	Error string `json:"error"`
}

func (f UnitFailure) String() string {
	var where string
	switch {
	case f.Ref != "":
		where = f.File + " " + f.Ref
	case f.Page > 0:
		where = fmt.Sprintf("page %d", f.Page)
	default:
		where = f.File
	}
	return fmt.Sprintf("%s: %s: %s", f.Stage, where, f.Error)
}

// Rasterizer renders a PDF to one image per page, sorted in page order.
type Rasterizer interface {
	Rasterize(ctx context.Context, pdfPath, outDir string, dpi int) ([]string, error)
}

// Rewriter turns raw OCR output into markdown, writing cropped assets into
// outDir with names derived from baseName.
type Rewriter interface {
	Rewrite(raw string, page image.Image, outDir, baseName string) (string, error)
}

// ArchiveFunc packages dir into an archive at dest.
type ArchiveFunc func(dir, dest string) (string, error)

// cancelled reports whether err is a context cancellation or ErrCancelled.
func cancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}
