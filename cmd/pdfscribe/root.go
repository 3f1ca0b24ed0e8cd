package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/pdfscribe/internal/api"
	"github.com/jackzampolin/pdfscribe/internal/config"
	"github.com/jackzampolin/pdfscribe/internal/home"
	"github.com/jackzampolin/pdfscribe/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "pdfscribe",
	Short: "PDF to markdown with GPU OCR and image captioning",
	Long: `pdfscribe converts PDFs into per-page markdown.

Each page is rendered to an image and transcribed by an OCR model
(DeepSeek-OCR by default). Figures the OCR model locates are cropped
into image assets, and every image referenced from the markdown is
captioned by a vision-language model (DeepSeek-VL2 by default).

Both models share the GPU, so jobs are admission controlled: the server
rejects or queues requests while another job holds the GPU.`,
	Version:       version.GitRelease,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.pdfscribe/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "pdfscribe home directory (default: ~/.pdfscribe)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)

	// Set output format before any command runs
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		format, err := api.ParseOutputFormat(outputFormat)
		if err != nil {
			return err
		}
		api.SetOutputFormat(format)
		return nil
	}

	rootCmd.AddCommand(versionCmd)
}

// env is the local state shared by commands that run work in-process.
type env struct {
	home     *home.Dir
	config   *config.Manager
	logger   *slog.Logger
	levelVar *slog.LevelVar
}

// loadEnv resolves the home directory, loads the config and builds the
// logger. The config file defaults to the one in the home directory.
func loadEnv() (*env, error) {
	h, err := home.New(homeDir)
	if err != nil {
		return nil, err
	}
	if err := h.EnsureExists(); err != nil {
		return nil, err
	}

	file := cfgFile
	if file == "" && h.ConfigExists() {
		file = h.ConfigPath()
	}
	mgr, err := config.NewManager(file)
	if err != nil {
		return nil, err
	}

	logger, levelVar := newLogger(mgr.Get(), os.Stderr)
	slog.SetDefault(logger)
	return &env{home: h, config: mgr, logger: logger, levelVar: levelVar}, nil
}

// newLogger builds the process logger from log.format and log.level.
// Logs go to stderr so command output on stdout stays machine readable.
func newLogger(cfg *config.Config, w io.Writer) (*slog.Logger, *slog.LevelVar) {
	levelVar := new(slog.LevelVar)
	levelVar.Set(cfg.SlogLevel())
	opts := &slog.HandlerOptions{Level: levelVar}

	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler), levelVar
}
