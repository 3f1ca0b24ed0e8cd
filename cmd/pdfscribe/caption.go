package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/pdfscribe/internal/api"
	"github.com/jackzampolin/pdfscribe/internal/engine"
	"github.com/jackzampolin/pdfscribe/internal/markdown"
	"github.com/jackzampolin/pdfscribe/internal/pipeline"
)

var (
	captionModel  string
	captionSeed   int64
	captionPrompt string
	captionMode   string
)

var captionCmd = &cobra.Command{
	Use:   "caption <output_dir>",
	Short: "Caption images referenced from existing page markdown",
	Long: `Caption every image referenced from <output_dir>/markdown/*.md and rewrite
the image tags in place.

With --rewrite-img-tags append (the default) the caption is added below
the image; replace swaps the image tag for the caption text. Files without
image references are left untouched.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := loadEnv()
		if err != nil {
			return err
		}
		cfg := e.config.Get()

		mode, err := markdown.ParseRewriteMode(firstNonEmpty(captionMode, cfg.Pipeline.RewriteMode))
		if err != nil {
			return err
		}

		ecfg := cfg.ToEngineConfig()
		if captionModel != "" {
			ecfg.Caption.Model = captionModel
		}
		if cmd.Flags().Changed("seed") {
			ecfg.Caption.Seed = &captionSeed
		}
		captioner, err := engine.BuildCaptioner(ctx, ecfg.Caption, ecfg.WarmupTimeout, e.logger)
		if err != nil {
			return err
		}

		stage := &pipeline.CaptionStage{
			Captioner: captioner,
			Mode:      mode,
			Prompt:    firstNonEmpty(captionPrompt, cfg.Engines.Caption.Prompt),
			Logger:    e.logger.With("stage", pipeline.StageCaption),
		}
		report, err := stage.Run(ctx, args[0])
		if errors.Is(err, pipeline.ErrNoMarkdown) {
			return fmt.Errorf("%w (run 'pdfscribe ocr' first)", err)
		}
		if err != nil {
			return err
		}
		return api.Output(report)
	},
}

func init() {
	captionCmd.Flags().StringVar(&captionModel, "caption-model", "", "Caption model (default: engines.caption.model)")
	captionCmd.Flags().Int64Var(&captionSeed, "seed", 0, "Sampling seed")
	captionCmd.Flags().StringVar(&captionPrompt, "prompt", "", "Caption prompt override")
	captionCmd.Flags().StringVar(&captionMode, "rewrite-img-tags", "", "append or replace (default: pipeline.rewrite_mode)")

	rootCmd.AddCommand(captionCmd)
}
