package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/pdfscribe/internal/api"
	"github.com/jackzampolin/pdfscribe/internal/engine"
	"github.com/jackzampolin/pdfscribe/internal/markdown"
	"github.com/jackzampolin/pdfscribe/internal/pipeline"
	"github.com/jackzampolin/pdfscribe/internal/rasterize"
)

var (
	ocrOutputDir string
	ocrDPI       int
	ocrModel     string
)

var ocrCmd = &cobra.Command{
	Use:   "ocr <pdf>",
	Short: "Convert a PDF to per-page markdown (no captioning)",
	Long: `Render every page of a PDF and transcribe it with the OCR engine.

Writes <output-dir>/images/page_NNNN.png and <output-dir>/markdown/page_NNNN.md.
Figures found on a page are cropped into markdown/page_NNNN_assets/ and
referenced from the page markdown, ready for 'pdfscribe caption'.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := loadEnv()
		if err != nil {
			return err
		}
		cfg := e.config.Get()

		dpi := ocrDPI
		if dpi == 0 {
			dpi = cfg.Pipeline.DPI
		}
		if dpi < rasterize.MinDPI || dpi > rasterize.MaxDPI {
			return fmt.Errorf("dpi must be between %d and %d", rasterize.MinDPI, rasterize.MaxDPI)
		}

		ecfg := cfg.ToEngineConfig()
		if ocrModel != "" {
			ecfg.OCR.Model = ocrModel
		}
		ocr, err := engine.BuildOCR(ctx, ecfg.OCR, ecfg.WarmupTimeout, e.logger)
		if err != nil {
			return err
		}

		start := time.Now()
		pages, err := rasterize.New(rasterize.Config{Logger: e.logger}).
			Rasterize(ctx, args[0], filepath.Join(ocrOutputDir, "images"), dpi)
		if err != nil {
			return err
		}
		e.logger.Info("rendered pages", "pages", len(pages), "elapsed", time.Since(start).Round(time.Millisecond))

		stage := &pipeline.OCRStage{
			Engine:   ocr,
			Rewriter: markdown.NewGroundingRewriter(),
			Logger:   e.logger.With("stage", pipeline.StageOCR),
		}
		report, err := stage.Run(ctx, pages, filepath.Join(ocrOutputDir, "markdown"))
		if err != nil {
			return err
		}
		return api.Output(report)
	},
}

func init() {
	ocrCmd.Flags().StringVar(&ocrOutputDir, "output-dir", "./output", "Directory for images/ and markdown/")
	ocrCmd.Flags().IntVar(&ocrDPI, "dpi", 0, "Rasterization DPI (default: pipeline.dpi)")
	ocrCmd.Flags().StringVar(&ocrModel, "model", "", "OCR model (default: engines.ocr.model)")

	rootCmd.AddCommand(ocrCmd)
}
