package config

import (
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackzampolin/pdfscribe/internal/admission"
	"github.com/jackzampolin/pdfscribe/internal/engine"
)

// Config holds pdfscribe configuration.
// Stored at: ~/.pdfscribe/config.yaml
type Config struct {
	Server    ServerCfg    `mapstructure:"server" yaml:"server" json:"server"`
	Engines   EnginesCfg   `mapstructure:"engines" yaml:"engines" json:"engines"`
	Admission AdmissionCfg `mapstructure:"admission" yaml:"admission" json:"admission"`
	Pipeline  PipelineCfg  `mapstructure:"pipeline" yaml:"pipeline" json:"pipeline"`
	Log       LogCfg       `mapstructure:"log" yaml:"log" json:"log"`
}

// ServerCfg configures the HTTP listener.
type ServerCfg struct {
	Host string `mapstructure:"host" yaml:"host" json:"host"`
	Port string `mapstructure:"port" yaml:"port" json:"port"`
}

// EngineCfg configures one model engine.
type EngineCfg struct {
	Backend string `mapstructure:"backend" yaml:"backend" json:"backend"` // "openai", "ollama", "tesseract", "mock"
	Model   string `mapstructure:"model" yaml:"model" json:"model"`
	BaseURL string `mapstructure:"base_url" yaml:"base_url" json:"base_url"`
	APIKey  string `mapstructure:"api_key" yaml:"api_key" json:"api_key"` // supports ${ENV_VAR} syntax
	Prompt  string `mapstructure:"prompt" yaml:"prompt,omitempty" json:"prompt"`
	// GPUMemory and Device apply to managed vLLM containers.
	GPUMemory      float64 `mapstructure:"gpu_memory" yaml:"gpu_memory" json:"gpu_memory"`
	Device         string  `mapstructure:"device" yaml:"device" json:"device"`
	MaxTokens      int     `mapstructure:"max_tokens" yaml:"max_tokens" json:"max_tokens"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds" yaml:"timeout_seconds" json:"timeout_seconds"`
	MinSide        int     `mapstructure:"min_side" yaml:"min_side,omitempty" json:"min_side"`
	MaxSide        int     `mapstructure:"max_side" yaml:"max_side,omitempty" json:"max_side"`
	Language       string  `mapstructure:"language" yaml:"language,omitempty" json:"language"`
}

// RuntimeCfg controls whether pdfscribe manages the engine containers.
type RuntimeCfg struct {
	Managed bool   `mapstructure:"managed" yaml:"managed" json:"managed"`
	Image   string `mapstructure:"image" yaml:"image" json:"image"`
	HFToken string `mapstructure:"hf_token" yaml:"hf_token" json:"hf_token"` // supports ${ENV_VAR} syntax
	// StartupTimeoutSeconds bounds model download plus load.
	StartupTimeoutSeconds int `mapstructure:"startup_timeout_seconds" yaml:"startup_timeout_seconds" json:"startup_timeout_seconds"`
}

// EnginesCfg groups the OCR and caption engines.
type EnginesCfg struct {
	OCR                  EngineCfg  `mapstructure:"ocr" yaml:"ocr" json:"ocr"`
	Caption              EngineCfg  `mapstructure:"caption" yaml:"caption" json:"caption"`
	Runtime              RuntimeCfg `mapstructure:"runtime" yaml:"runtime" json:"runtime"`
	WarmupTimeoutSeconds int        `mapstructure:"warmup_timeout_seconds" yaml:"warmup_timeout_seconds" json:"warmup_timeout_seconds"`
}

// AdmissionCfg configures the GPU gate and rejection hints.
type AdmissionCfg struct {
	GPUSlots       int    `mapstructure:"gpu_slots" yaml:"gpu_slots" json:"gpu_slots"`
	ImmediateSlack string `mapstructure:"immediate_slack" yaml:"immediate_slack" json:"immediate_slack"`
	BusyRetryAfter int    `mapstructure:"busy_retry_after" yaml:"busy_retry_after" json:"busy_retry_after"`
	WaitRetryAfter int    `mapstructure:"wait_retry_after" yaml:"wait_retry_after" json:"wait_retry_after"`
	MaxWaitSeconds int    `mapstructure:"max_wait_seconds" yaml:"max_wait_seconds" json:"max_wait_seconds"`
}

// PipelineCfg holds per-job defaults.
type PipelineCfg struct {
	DPI          int    `mapstructure:"dpi" yaml:"dpi" json:"dpi"`
	RewriteMode  string `mapstructure:"rewrite_mode" yaml:"rewrite_mode" json:"rewrite_mode"`
	Seed         int64  `mapstructure:"seed" yaml:"seed" json:"seed"` // 0 leaves sampling unseeded
	WorkDir      string `mapstructure:"work_dir" yaml:"work_dir" json:"work_dir"`
	KeepWorkdirs bool   `mapstructure:"keep_workdirs" yaml:"keep_workdirs" json:"keep_workdirs"`
	MaxUploadMB  int    `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
}

// LogCfg configures the process logger.
type LogCfg struct {
	Level  string `mapstructure:"level" yaml:"level" json:"level"`
	Format string `mapstructure:"format" yaml:"format" json:"format"` // "text" or "json"
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerCfg{Host: "127.0.0.1", Port: "8080"},
		Engines: EnginesCfg{
			OCR: EngineCfg{
				Backend:        engine.BackendOpenAI,
				Model:          engine.DefaultOCRModel,
				BaseURL:        "http://127.0.0.1:8001/v1",
				GPUMemory:      0.70,
				Device:         "0",
				MaxTokens:      8192,
				TimeoutSeconds: 300,
				Language:       "eng",
			},
			Caption: EngineCfg{
				Backend:        engine.BackendOpenAI,
				Model:          engine.DefaultCaptionModel,
				BaseURL:        "http://127.0.0.1:8002/v1",
				Prompt:         engine.DefaultCaptionPrompt,
				GPUMemory:      0.70,
				Device:         "1",
				MaxTokens:      256,
				TimeoutSeconds: 120,
				MinSide:        128,
				MaxSide:        2048,
			},
			Runtime: RuntimeCfg{
				Image:                 "vllm/vllm-openai:latest",
				HFToken:               "${HF_TOKEN}",
				StartupTimeoutSeconds: 1200,
			},
			WarmupTimeoutSeconds: 600,
		},
		Admission: AdmissionCfg{
			GPUSlots:       1,
			ImmediateSlack: "5ms",
			BusyRetryAfter: int(admission.DefaultBusyRetryAfter / time.Second),
			WaitRetryAfter: int(admission.DefaultWaitRetryAfter / time.Second),
			MaxWaitSeconds: int(admission.MaxWait / time.Second),
		},
		Pipeline: PipelineCfg{
			DPI:         200,
			RewriteMode: "append",
			MaxUploadMB: 200,
		},
		Log: LogCfg{Level: "info", Format: "text"},
	}
}

// Addr returns the host:port the server listens on.
func (c *Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}

// WorkDir returns the job working root, defaulting to homeJobs.
func (c *Config) WorkDir(homeJobs string) string {
	if c.Pipeline.WorkDir == "" {
		return homeJobs
	}
	return filepath.Clean(c.Pipeline.WorkDir)
}

// SeedPtr returns the configured default seed, or nil when unset.
func (c *Config) SeedPtr() *int64 {
	if c.Pipeline.Seed == 0 {
		return nil
	}
	s := c.Pipeline.Seed
	return &s
}

// MaxUploadBytes returns the upload limit in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.Pipeline.MaxUploadMB) << 20
}

// ToEngineConfig converts the config to engine.Config, resolving
// ${ENV_VAR} references in API keys.
func (c *Config) ToEngineConfig() engine.Config {
	slack, _ := time.ParseDuration(c.Admission.ImmediateSlack)
	return engine.Config{
		OCR: engine.OCRConfig{
			Backend:   c.Engines.OCR.Backend,
			Model:     c.Engines.OCR.Model,
			BaseURL:   c.Engines.OCR.BaseURL,
			APIKey:    ResolveEnvVars(c.Engines.OCR.APIKey),
			Prompt:    c.Engines.OCR.Prompt,
			MaxTokens: c.Engines.OCR.MaxTokens,
			Timeout:   seconds(c.Engines.OCR.TimeoutSeconds),
			Language:  c.Engines.OCR.Language,
		},
		Caption: engine.CaptionConfig{
			Backend:   c.Engines.Caption.Backend,
			Model:     c.Engines.Caption.Model,
			BaseURL:   c.Engines.Caption.BaseURL,
			APIKey:    ResolveEnvVars(c.Engines.Caption.APIKey),
			Prompt:    c.Engines.Caption.Prompt,
			MaxTokens: c.Engines.Caption.MaxTokens,
			Timeout:   seconds(c.Engines.Caption.TimeoutSeconds),
			MinSide:   c.Engines.Caption.MinSide,
			MaxSide:   c.Engines.Caption.MaxSide,
			Seed:      c.SeedPtr(),
		},
		GPUSlots:       c.Admission.GPUSlots,
		ImmediateSlack: slack,
		WarmupTimeout:  seconds(c.Engines.WarmupTimeoutSeconds),
	}
}

// ToAdmissionConfig returns the retry hints for the admission controller.
func (c *Config) ToAdmissionConfig() admission.Config {
	return admission.Config{
		BusyRetryAfter: seconds(c.Admission.BusyRetryAfter),
		WaitRetryAfter: seconds(c.Admission.WaitRetryAfter),
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// SlogLevel returns the configured log level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
