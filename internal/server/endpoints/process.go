package endpoints

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/pdfscribe/internal/admission"
	"github.com/jackzampolin/pdfscribe/internal/api"
	"github.com/jackzampolin/pdfscribe/internal/config"
	"github.com/jackzampolin/pdfscribe/internal/engine"
	"github.com/jackzampolin/pdfscribe/internal/markdown"
	"github.com/jackzampolin/pdfscribe/internal/pipeline"
	"github.com/jackzampolin/pdfscribe/internal/rasterize"
	"github.com/jackzampolin/pdfscribe/internal/svcctx"
)

// Response headers describing a processed job.
const (
	HeaderJobID        = "X-Job-ID"
	HeaderPages        = "X-Pages"
	HeaderUnitFailures = "X-Unit-Failures"
)

// ProcessPDFEndpoint handles POST /v1/process/pdf.
type ProcessPDFEndpoint struct{}

var _ api.Endpoint = (*ProcessPDFEndpoint)(nil)

func (e *ProcessPDFEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/v1/process/pdf", e.handler
}

func (e *ProcessPDFEndpoint) RequiresInit() bool { return true }

// processParams are the validated query parameters of a process request.
type processParams struct {
	DPI      int
	Mode     markdown.RewriteMode
	Seed     *int64
	Prompt   string
	Filename string
	Policy   admission.Policy
}

func parseProcessParams(q url.Values, cfg *config.Config) (processParams, error) {
	p := processParams{
		DPI:      cfg.Pipeline.DPI,
		Seed:     cfg.SeedPtr(),
		Prompt:   cfg.Engines.Caption.Prompt,
		Filename: q.Get("filename"),
		Policy:   admission.FailFast(),
	}

	if v := q.Get("prompt"); v != "" {
		p.Prompt = v
	}

	if v := q.Get("dpi"); v != "" {
		dpi, err := strconv.Atoi(v)
		if err != nil {
			return p, errors.New("dpi must be an integer")
		}
		p.DPI = dpi
	}
	if p.DPI < rasterize.MinDPI || p.DPI > rasterize.MaxDPI {
		return p, fmt.Errorf("dpi must be between %d and %d", rasterize.MinDPI, rasterize.MaxDPI)
	}

	mode := cfg.Pipeline.RewriteMode
	if v := q.Get("rewrite_mode"); v != "" {
		mode = v
	}
	m, err := markdown.ParseRewriteMode(mode)
	if err != nil {
		return p, err
	}
	p.Mode = m

	if v := q.Get("seed"); v != "" {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return p, errors.New("seed must be an integer")
		}
		p.Seed = &seed
	}

	wait := false
	if v := q.Get("wait_if_busy"); v != "" {
		wait, err = strconv.ParseBool(v)
		if err != nil {
			return p, errors.New("wait_if_busy must be a boolean")
		}
	}
	if wait {
		timeout := 0.0
		if v := q.Get("timeout_s"); v != "" {
			timeout, err = strconv.ParseFloat(v, 64)
			if err != nil {
				return p, errors.New("timeout_s must be a number")
			}
		}
		if timeout > float64(cfg.Admission.MaxWaitSeconds) {
			return p, fmt.Errorf("%w: timeout_s is capped at %d", admission.ErrTimeoutOutOfRange, cfg.Admission.MaxWaitSeconds)
		}
		p.Policy = admission.WaitBounded(time.Duration(timeout * float64(time.Second)))
	}
	if err := p.Policy.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

// readPDF extracts the PDF from a raw application/pdf body or from the
// "file" field of a multipart form.
func readPDF(w http.ResponseWriter, r *http.Request, maxBytes int64) (data []byte, filename string, status int, err error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	var src io.Reader
	switch mediaType {
	case "application/pdf":
		src = r.Body
	case "multipart/form-data":
		file, fh, err := r.FormFile("file")
		if err != nil {
			if tooLarge(err) {
				return nil, "", http.StatusRequestEntityTooLarge, fmt.Errorf("file exceeds %d MB", maxBytes>>20)
			}
			return nil, "", http.StatusBadRequest, errors.New("multipart upload requires a file field")
		}
		defer file.Close()
		if ct, _, _ := mime.ParseMediaType(fh.Header.Get("Content-Type")); ct != "application/pdf" {
			return nil, "", http.StatusBadRequest, errors.New("Only application/pdf is supported")
		}
		filename = fh.Filename
		src = file
	default:
		return nil, "", http.StatusBadRequest, errors.New("Only application/pdf is supported")
	}

	data, err = io.ReadAll(src)
	if err != nil {
		if tooLarge(err) {
			return nil, "", http.StatusRequestEntityTooLarge, fmt.Errorf("file exceeds %d MB", maxBytes>>20)
		}
		return nil, "", http.StatusBadRequest, fmt.Errorf("failed to read upload: %v", err)
	}
	if len(data) == 0 {
		return nil, "", http.StatusBadRequest, errors.New("Empty file")
	}
	return data, filename, http.StatusOK, nil
}

func tooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

// handler godoc
//
//	@Summary		Process a PDF
//	@Description	OCR every page, caption the extracted images, and return a zip of per-page markdown.
//	@Description	Without wait_if_busy a busy GPU answers 429; with it the request waits up to timeout_s and then answers 503.
//	@Tags			pipeline
//	@Accept			application/pdf
//	@Accept			mpfd
//	@Produce		application/zip
//	@Param			file			formData	file	false	"PDF (multipart uploads)"
//	@Param			dpi				query		int		false	"Rasterization DPI (72-600)"
//	@Param			rewrite_mode	query		string	false	"append or replace"
//	@Param			seed			query		int		false	"Caption sampling seed"
//	@Param			prompt			query		string	false	"Caption prompt override"
//	@Param			wait_if_busy	query		bool	false	"Wait for the GPU instead of failing fast"
//	@Param			timeout_s		query		number	false	"Seconds to wait when wait_if_busy is set (0-600)"
//	@Success		200				{file}		binary
//	@Header			200				{string}	X-Job-ID		"Job identifier"
//	@Header			200				{int}		X-Pages			"Pages rendered"
//	@Header			200				{int}		X-Unit-Failures	"Pages or images that were skipped"
//	@Failure		400				{object}	ErrorResponse
//	@Failure		409				{object}	ErrorResponse
//	@Failure		413				{object}	ErrorResponse
//	@Failure		429				{object}	ErrorResponse
//	@Failure		500				{object}	ErrorResponse
//	@Failure		503				{object}	ErrorResponse
//	@Router			/v1/process/pdf [post]
func (e *ProcessPDFEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := svcctx.LoggerFrom(ctx)
	cfg := svcctx.ConfigFrom(ctx)

	params, err := parseProcessParams(r.URL.Query(), cfg)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	pdf, filename, status, err := readPDF(w, r, cfg.MaxUploadBytes())
	if err != nil {
		writeError(w, status, err.Error())
		return
	}
	if filename == "" {
		filename = params.Filename
	}

	controller := svcctx.AdmissionFrom(ctx)
	executor := svcctx.ExecutorFrom(ctx)
	if controller == nil || executor == nil {
		writeError(w, http.StatusServiceUnavailable, engine.ErrNotInitialized.Error())
		return
	}

	permit, err := controller.Admit(ctx, params.Policy)
	if rej, ok := admission.IsRejected(err); ok {
		status := http.StatusTooManyRequests
		if rej.Reason == admission.ReasonTimeout {
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Retry-After", strconv.Itoa(int(rej.RetryAfter/time.Second)))
		writeError(w, status, rej.Error())
		return
	}
	if err != nil {
		// The client went away while waiting for the gate.
		logger.Info("request abandoned before admission", "error", err)
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	res, err := executor.Run(ctx, permit, pipeline.Request{
		PDF:      pdf,
		Filename: filename,
		DPI:      params.DPI,
		Mode:     params.Mode,
		Seed:     params.Seed,
		Prompt:   params.Prompt,
	})
	if err != nil {
		writeError(w, processErrorStatus(err), err.Error())
		return
	}
	defer func() {
		if err := res.Cleanup(); err != nil {
			logger.Warn("failed to remove workdir", "job_id", res.JobID, "error", err)
		}
	}()

	f, err := os.Open(res.Archive)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to open archive: %v", err))
		return
	}
	defer f.Close()

	h := w.Header()
	h.Set("Content-Type", "application/zip")
	h.Set("Content-Disposition", contentDisposition(filepath.Base(res.Archive)))
	h.Set(HeaderJobID, res.JobID)
	h.Set(HeaderPages, strconv.Itoa(res.Pages))
	h.Set(HeaderUnitFailures, strconv.Itoa(len(res.Failures)))
	if info, err := f.Stat(); err == nil {
		h.Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, f); err != nil {
		logger.Warn("failed to stream archive", "job_id", res.JobID, "error", err)
	}
}

func contentDisposition(name string) string {
	name = strings.Map(func(r rune) rune {
		if r == '"' || r == '\\' || r < 0x20 {
			return '_'
		}
		return r
	}, name)
	return `attachment; filename="` + name + `"`
}

func processErrorStatus(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrCancelled):
		return http.StatusConflict
	case errors.Is(err, engine.ErrNotInitialized):
		return http.StatusServiceUnavailable
	default:
		// *pipeline.StageError and anything unexpected.
		return http.StatusInternalServerError
	}
}

// ProcessResult summarizes a processed PDF for CLI output.
type ProcessResult struct {
	JobID        string `json:"job_id"`
	Pages        int    `json:"pages"`
	UnitFailures int    `json:"unit_failures"`
	Archive      string `json:"archive"`
}

func (e *ProcessPDFEndpoint) Command(getServerURL func() string) *cobra.Command {
	var (
		outDir      string
		dpi         int
		rewriteMode string
		seed        int64
		prompt      string
		waitIfBusy  bool
		timeout     float64
	)
	cmd := &cobra.Command{
		Use:   "process <pdf>",
		Short: "Process a PDF on the server and save the markdown archive",
		Long: `Upload a PDF to a running server and save the returned zip.

By default the server rejects the upload immediately when the GPU is busy.
Use --wait-if-busy with --timeout to queue for up to that many seconds.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}

			params := url.Values{}
			params.Set("filename", filepath.Base(args[0]))
			if dpi > 0 {
				params.Set("dpi", strconv.Itoa(dpi))
			}
			if rewriteMode != "" {
				params.Set("rewrite_mode", rewriteMode)
			}
			if cmd.Flags().Changed("seed") {
				params.Set("seed", strconv.FormatInt(seed, 10))
			}
			if prompt != "" {
				params.Set("prompt", prompt)
			}
			if waitIfBusy {
				params.Set("wait_if_busy", "true")
				params.Set("timeout_s", strconv.FormatFloat(timeout, 'f', -1, 64))
			}

			client := api.NewClient(getServerURL())
			dl, err := client.PostFile(cmd.Context(), "/v1/process/pdf?"+params.Encode(), "application/pdf", bytes.NewReader(data))
			if err != nil {
				return err
			}
			defer dl.Body.Close()

			name := pipeline.ArchiveName(args[0])
			if _, p, err := mime.ParseMediaType(dl.Header.Get("Content-Disposition")); err == nil && p["filename"] != "" {
				name = filepath.Base(p["filename"])
			}
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return err
			}
			dest := filepath.Join(outDir, name)
			out, err := os.Create(dest)
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, dl.Body); err != nil {
				out.Close()
				return fmt.Errorf("failed to save archive: %w", err)
			}
			if err := out.Close(); err != nil {
				return err
			}

			pages, _ := strconv.Atoi(dl.Header.Get(HeaderPages))
			failures, _ := strconv.Atoi(dl.Header.Get(HeaderUnitFailures))
			return api.Output(ProcessResult{
				JobID:        dl.Header.Get(HeaderJobID),
				Pages:        pages,
				UnitFailures: failures,
				Archive:      dest,
			})
		},
	}
	cmd.Flags().StringVar(&outDir, "out", ".", "Directory to save the archive in")
	cmd.Flags().IntVar(&dpi, "dpi", 0, "Rasterization DPI (server default when unset)")
	cmd.Flags().StringVar(&rewriteMode, "rewrite-mode", "", "Caption rewrite mode: append or replace")
	cmd.Flags().Int64Var(&seed, "seed", 0, "Caption sampling seed")
	cmd.Flags().StringVar(&prompt, "prompt", "", "Caption prompt override")
	cmd.Flags().BoolVar(&waitIfBusy, "wait-if-busy", false, "Wait for the GPU instead of failing fast")
	cmd.Flags().Float64Var(&timeout, "timeout", 30, "Seconds to wait with --wait-if-busy (0-600)")
	return cmd
}
