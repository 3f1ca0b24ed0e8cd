package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/pdfscribe/internal/admission"
	"github.com/jackzampolin/pdfscribe/internal/api"
	"github.com/jackzampolin/pdfscribe/internal/engine"
	"github.com/jackzampolin/pdfscribe/internal/jobs"
	"github.com/jackzampolin/pdfscribe/internal/markdown"
	"github.com/jackzampolin/pdfscribe/internal/pipeline"
	"github.com/jackzampolin/pdfscribe/internal/rasterize"
)

var (
	processOut      string
	processDPI      int
	processMode     string
	processSeed     int64
	processPrompt   string
	processFailFast bool
	processWait     time.Duration
	processUnzipped bool
)

// processSummary is what the process command prints.
type processSummary struct {
	JobID           string           `json:"job_id"`
	Output          string           `json:"output"`
	Pages           int              `json:"pages"`
	PagesOCRd       int              `json:"pages_ocrd"`
	FilesChanged    int              `json:"files_changed"`
	ImagesCaptioned int              `json:"images_captioned"`
	Failures        []string         `json:"failures,omitempty"`
	Timings         pipeline.Timings `json:"timings"`
}

var processCmd = &cobra.Command{
	Use:   "process <pdf>",
	Short: "Run a full job in-process",
	Long: `Process a PDF without a server: OCR every page, caption the extracted
images and write <stem>_markdown.zip to --out.

The engines are the ones configured under engines.*; they must already be
serving (see 'pdfscribe engines start'). By default the command waits for
the GPU; --fail-fast or --wait bound that wait instead.

Examples:
  pdfscribe process report.pdf
  pdfscribe process report.pdf --out ./out --unzipped
  pdfscribe process report.pdf --rewrite-mode replace --seed 7`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := loadEnv()
		if err != nil {
			return err
		}
		cfg := e.config.Get()

		policy, err := processPolicy(processFailFast, processWait, cmd.Flags().Changed("wait"))
		if err != nil {
			return err
		}

		mode, err := markdown.ParseRewriteMode(firstNonEmpty(processMode, cfg.Pipeline.RewriteMode))
		if err != nil {
			return err
		}
		dpi := processDPI
		if dpi == 0 {
			dpi = cfg.Pipeline.DPI
		}
		seed := cfg.SeedPtr()
		if cmd.Flags().Changed("seed") {
			seed = &processSeed
		}

		engines, err := engine.Build(ctx, cfg.ToEngineConfig(), e.logger)
		if err != nil {
			return err
		}
		registry := engine.Static(engines, e.logger)

		acfg := cfg.ToAdmissionConfig()
		acfg.Gate = engines.Gate
		acfg.Logger = e.logger
		controller, err := admission.NewController(acfg)
		if err != nil {
			return err
		}

		poolCtx, stopPool := context.WithCancel(context.Background())
		defer stopPool()
		pool := jobs.NewPool(jobs.PoolConfig{Name: "gpu", Logger: e.logger, WorkerCount: engines.Gate.Capacity()})
		go pool.Start(poolCtx)

		executor, err := pipeline.NewExecutor(pipeline.Config{
			Registry:     registry,
			Rasterizer:   rasterize.New(rasterize.Config{Logger: e.logger}),
			Rewriter:     markdown.NewGroundingRewriter(),
			Pool:         pool,
			WorkRoot:     cfg.WorkDir(e.home.JobsPath()),
			KeepWorkdirs: cfg.Pipeline.KeepWorkdirs,
			Logger:       e.logger,
		})
		if err != nil {
			return err
		}

		permit, err := controller.Admit(ctx, policy)
		if err != nil {
			return err
		}
		res, err := executor.Run(ctx, permit, pipeline.Request{
			PDFPath:     args[0],
			Filename:    filepath.Base(args[0]),
			DPI:         dpi,
			Mode:        mode,
			Seed:        seed,
			Prompt:      firstNonEmpty(processPrompt, cfg.Engines.Caption.Prompt),
			SkipArchive: processUnzipped,
		})
		if err != nil {
			return err
		}
		defer func() {
			if err := res.Cleanup(); err != nil {
				e.logger.Warn("failed to remove workdir", "job_id", res.JobID, "error", err)
			}
		}()

		if err := os.MkdirAll(processOut, 0o755); err != nil {
			return err
		}
		var dest string
		if processUnzipped {
			name := strings.TrimSuffix(pipeline.ArchiveName(args[0]), ".zip")
			dest = filepath.Join(processOut, name)
			if err := os.CopyFS(dest, os.DirFS(res.OutputDir)); err != nil {
				return fmt.Errorf("failed to write %s: %w", dest, err)
			}
		} else {
			dest = filepath.Join(processOut, filepath.Base(res.Archive))
			if err := pipeline.CopyFile(res.Archive, dest); err != nil {
				return fmt.Errorf("failed to write %s: %w", dest, err)
			}
		}

		return api.Output(summarize(res, dest))
	},
}

// processPolicy picks the admission policy from the CLI flags. An explicit
// --wait 0 probes the gate once and never blocks.
func processPolicy(failFast bool, wait time.Duration, waitSet bool) (admission.Policy, error) {
	policy := admission.Blocking()
	switch {
	case failFast:
		policy = admission.FailFast()
	case waitSet:
		policy = admission.WaitBounded(wait)
	}
	if err := policy.Validate(); err != nil {
		return admission.Policy{}, err
	}
	return policy, nil
}

func summarize(res *pipeline.Result, dest string) processSummary {
	s := processSummary{
		JobID:   res.JobID,
		Output:  dest,
		Pages:   res.Pages,
		Timings: res.Timings,
	}
	if res.OCR != nil {
		s.PagesOCRd = res.OCR.Succeeded
	}
	if res.Caption != nil {
		s.FilesChanged = res.Caption.Changed()
		s.ImagesCaptioned = res.Caption.Captioned()
	}
	for _, f := range res.Failures {
		s.Failures = append(s.Failures, f.String())
	}
	return s
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func init() {
	processCmd.Flags().StringVar(&processOut, "out", ".", "Directory for the archive")
	processCmd.Flags().IntVar(&processDPI, "dpi", 0, "Rasterization DPI (default: pipeline.dpi)")
	processCmd.Flags().StringVar(&processMode, "rewrite-mode", "", "Image tag rewrite: append or replace (default: pipeline.rewrite_mode)")
	processCmd.Flags().Int64Var(&processSeed, "seed", 0, "Caption sampling seed")
	processCmd.Flags().StringVar(&processPrompt, "prompt", "", "Caption prompt override")
	processCmd.Flags().BoolVar(&processFailFast, "fail-fast", false, "Fail immediately if the GPU is busy")
	processCmd.Flags().DurationVar(&processWait, "wait", 0, "Wait at most this long for the GPU (max 10m)")
	processCmd.Flags().BoolVar(&processUnzipped, "unzipped", false, "Write a directory instead of a zip")
	processCmd.MarkFlagsMutuallyExclusive("fail-fast", "wait")

	rootCmd.AddCommand(processCmd)
}
