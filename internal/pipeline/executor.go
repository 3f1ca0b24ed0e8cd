package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/pdfscribe/internal/engine"
	"github.com/jackzampolin/pdfscribe/internal/gate"
	"github.com/jackzampolin/pdfscribe/internal/jobs"
	"github.com/jackzampolin/pdfscribe/internal/markdown"
	"github.com/jackzampolin/pdfscribe/internal/packaging"
)

// Request is one PDF to process. Exactly one of PDF or PDFPath is set.
type Request struct {
	PDF     []byte
	PDFPath string
	// Filename names the archive; defaults to "document.pdf".
	Filename string
	DPI      int
	Mode     markdown.RewriteMode
	Seed     *int64
	Prompt   string
	// SkipArchive leaves the output tree unpackaged.
	SkipArchive bool
}

// Timings records how long each phase of a job took.
type Timings struct {
	Rasterize time.Duration `json:"rasterize"`
	OCR       time.Duration `json:"ocr"`
	Caption   time.Duration `json:"caption"`
	Package   time.Duration `json:"package"`
	GateHeld  time.Duration `json:"gate_held"`
}

// Result is the outcome of a finished job.
type Result struct {
	JobID     string         `json:"job_id"`
	WorkDir   string         `json:"work_dir"`
	OutputDir string         `json:"output_dir"`
	Archive   string         `json:"archive,omitempty"`
	Pages     int            `json:"pages"`
	OCR       *OCRReport     `json:"ocr"`
	Caption   *CaptionReport `json:"caption"`
	Failures  []UnitFailure  `json:"failures,omitempty"`
	Timings   Timings        `json:"timings"`

	keep bool
}

// ArchiveName returns the download name for the archive, e.g. "report_markdown.zip".
func ArchiveName(filename string) string {
	stem := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	if stem == "" || stem == "." || stem == string(filepath.Separator) {
		stem = "document"
	}
	return stem + "_markdown.zip"
}

// Cleanup removes the job's working directory unless the executor was
// configured to keep it. Callers invoke it once the result is consumed.
func (r *Result) Cleanup() error {
	if r == nil || r.keep || r.WorkDir == "" {
		return nil
	}
	return os.RemoveAll(r.WorkDir)
}

// Config configures an Executor.
type Config struct {
	Registry   *engine.Registry
	Rasterizer Rasterizer
	Rewriter   Rewriter
	Archive    ArchiveFunc
	Pool       *jobs.Pool
	// Jobs tracks job status; optional.
	Jobs         *jobs.Manager
	WorkRoot     string
	KeepWorkdirs bool
	Logger       *slog.Logger
}

// Executor runs whole jobs. It is safe for concurrent use; the admission
// gate decides how many jobs run at once.
type Executor struct {
	registry     *engine.Registry
	rasterizer   Rasterizer
	rewriter     Rewriter
	archive      ArchiveFunc
	pool         *jobs.Pool
	jobs         *jobs.Manager
	workRoot     string
	keepWorkdirs bool
	logger       *slog.Logger
}

// NewExecutor creates an executor.
func NewExecutor(cfg Config) (*Executor, error) {
	if cfg.Registry == nil {
		return nil, errors.New("executor requires an engine registry")
	}
	if cfg.Rasterizer == nil || cfg.Rewriter == nil {
		return nil, errors.New("executor requires a rasterizer and a rewriter")
	}
	if cfg.Pool == nil {
		return nil, errors.New("executor requires a worker pool")
	}
	if cfg.WorkRoot == "" {
		return nil, errors.New("executor requires a work root")
	}
	if cfg.Archive == nil {
		cfg.Archive = packaging.Archive
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Executor{
		registry:     cfg.Registry,
		rasterizer:   cfg.Rasterizer,
		rewriter:     cfg.Rewriter,
		archive:      cfg.Archive,
		pool:         cfg.Pool,
		jobs:         cfg.Jobs,
		workRoot:     cfg.WorkRoot,
		keepWorkdirs: cfg.KeepWorkdirs,
		logger:       cfg.Logger,
	}, nil
}

// Run executes a job under permit. The permit is released exactly once,
// as soon as both GPU stages are finished or the job fails; packaging runs
// after the release. On failure the working directory is removed and a
// *StageError or ErrCancelled is returned.
func (e *Executor) Run(ctx context.Context, permit *gate.Permit, req Request) (res *Result, err error) {
	defer permit.Release()

	engines, err := e.registry.Engines()
	if err != nil {
		return nil, err
	}
	if req.Mode == "" {
		req.Mode = markdown.ModeAppend
	}
	if req.Filename == "" {
		req.Filename = "document.pdf"
	}

	jobID := e.newJob(req)
	logger := e.logger.With("job_id", jobID)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if e.jobs != nil {
		e.jobs.SetCancel(jobID, cancel)
	}

	res = &Result{
		JobID:     jobID,
		WorkDir:   filepath.Join(e.workRoot, jobID),
		OutputDir: filepath.Join(e.workRoot, jobID, "output"),
		keep:      e.keepWorkdirs,
	}

	defer func() {
		if err == nil {
			return
		}
		status := jobs.StatusFailed
		if cancelled(err) {
			status = jobs.StatusCancelled
			if !errors.Is(err, ErrCancelled) {
				err = fmt.Errorf("%w: %v", ErrCancelled, err)
			}
		}
		e.setStatus(jobID, status, err.Error())
		logger.Warn("job ended", "status", status, "error", err)
		if cleanupErr := res.Cleanup(); cleanupErr != nil {
			logger.Warn("failed to remove workdir", "error", cleanupErr)
		}
		res = nil
	}()

	pdfPath, err := e.prepare(res, req)
	if err != nil {
		return res, &StageError{Stage: StageOCR, Err: err}
	}

	logger.Info("job started", "file", req.Filename, "dpi", req.DPI, "mode", req.Mode)

	// Stage 1: rasterize and OCR every page.
	err = e.pool.Do(ctx, &jobs.WorkUnit{
		ID:    jobID + "/ocr",
		JobID: jobID,
		Stage: string(StageOCR),
		Run: func(ctx context.Context) error {
			e.setStatus(jobID, jobs.StatusRasterizing, "")
			start := time.Now()
			pages, err := e.rasterizer.Rasterize(ctx, pdfPath, filepath.Join(res.OutputDir, "images"), req.DPI)
			res.Timings.Rasterize = time.Since(start)
			if err != nil {
				return fmt.Errorf("rasterize: %w", err)
			}
			res.Pages = len(pages)
			if err := ctx.Err(); err != nil {
				return err
			}

			e.setStatus(jobID, jobs.StatusOCR, "")
			stage := &OCRStage{Engine: engines.OCR, Rewriter: e.rewriter, Logger: logger.With("stage", StageOCR)}
			start = time.Now()
			res.OCR, err = stage.Run(ctx, pages, filepath.Join(res.OutputDir, "markdown"))
			res.Timings.OCR = time.Since(start)
			return err
		},
	})
	if err != nil {
		return res, stageErr(StageOCR, err)
	}

	// Stage 2: caption images referenced from the markdown.
	err = e.pool.Do(ctx, &jobs.WorkUnit{
		ID:    jobID + "/caption",
		JobID: jobID,
		Stage: string(StageCaption),
		Run: func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			e.setStatus(jobID, jobs.StatusCaptioning, "")
			stage := &CaptionStage{
				Captioner: engines.CaptionerWithSeed(req.Seed),
				Mode:      req.Mode,
				Prompt:    req.Prompt,
				Logger:    logger.With("stage", StageCaption),
			}
			start := time.Now()
			var err error
			res.Caption, err = stage.Run(ctx, res.OutputDir)
			res.Timings.Caption = time.Since(start)
			return err
		},
	})
	if err != nil {
		return res, stageErr(StageCaption, err)
	}

	res.Timings.GateHeld = permit.HeldFor()
	permit.Release()
	logger.Debug("gate released", "held_for", res.Timings.GateHeld.Round(time.Millisecond))

	res.Failures = append(res.Failures, res.OCR.Failures...)
	res.Failures = append(res.Failures, res.Caption.Failures...)

	if !req.SkipArchive {
		start := time.Now()
		archive, err := e.archive(res.OutputDir, filepath.Join(res.WorkDir, ArchiveName(req.Filename)))
		res.Timings.Package = time.Since(start)
		if err != nil {
			return res, &StageError{Stage: StagePackage, Err: err}
		}
		res.Archive = archive
	}
	e.setStatus(jobID, jobs.StatusPackaged, "")

	if e.jobs != nil {
		_ = e.jobs.UpdateMetadata(jobID, map[string]any{
			"pages":            res.Pages,
			"pages_ocrd":       res.OCR.Succeeded,
			"files_changed":    res.Caption.Changed(),
			"images_captioned": res.Caption.Captioned(),
			"unit_failures":    len(res.Failures),
		})
	}
	e.setStatus(jobID, jobs.StatusDone, "")

	logger.Info("job complete",
		"pages", res.Pages,
		"pages_ocrd", res.OCR.Succeeded,
		"images_captioned", res.Caption.Captioned(),
		"unit_failures", len(res.Failures),
		"gate_held", res.Timings.GateHeld.Round(time.Millisecond))
	return res, nil
}

// prepare creates the working directory and places the input PDF in it.
func (e *Executor) prepare(res *Result, req Request) (string, error) {
	if err := os.MkdirAll(res.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create workdir: %w", err)
	}
	dest := filepath.Join(res.WorkDir, "input.pdf")

	switch {
	case len(req.PDF) > 0:
		if err := os.WriteFile(dest, req.PDF, 0o644); err != nil {
			return "", fmt.Errorf("failed to write input: %w", err)
		}
	case req.PDFPath != "":
		if err := CopyFile(req.PDFPath, dest); err != nil {
			return "", fmt.Errorf("failed to copy input: %w", err)
		}
	default:
		return "", errors.New("empty input")
	}
	return dest, nil
}

func (e *Executor) newJob(req Request) string {
	if e.jobs == nil {
		return uuid.NewString()
	}
	rec := e.jobs.Create(map[string]any{
		"filename": req.Filename,
		"dpi":      req.DPI,
		"mode":     string(req.Mode),
	})
	return rec.ID
}

func (e *Executor) setStatus(jobID string, status jobs.Status, errMsg string) {
	if e.jobs == nil {
		return
	}
	if err := e.jobs.UpdateStatus(jobID, status, errMsg); err != nil {
		e.logger.Debug("job status not updated", "job_id", jobID, "status", status, "error", err)
	}
}

func stageErr(stage Stage, err error) error {
	if cancelled(err) {
		return err
	}
	return &StageError{Stage: stage, Err: err}
}

// CopyFile copies src to dst, creating or truncating dst.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
