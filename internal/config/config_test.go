package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackzampolin/pdfscribe/internal/engine"
	"github.com/jackzampolin/pdfscribe/internal/engine/vllm"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if err := Validate(cfg); err != nil {
		t.Fatalf("default config does not validate: %v", err)
	}
	if cfg.Admission.GPUSlots != 1 {
		t.Errorf("expected 1 GPU slot, got %d", cfg.Admission.GPUSlots)
	}
	if cfg.Admission.BusyRetryAfter != 15 || cfg.Admission.WaitRetryAfter != 30 {
		t.Errorf("unexpected retry hints: %d/%d", cfg.Admission.BusyRetryAfter, cfg.Admission.WaitRetryAfter)
	}
	if cfg.Admission.MaxWaitSeconds != 600 {
		t.Errorf("expected max wait 600, got %d", cfg.Admission.MaxWaitSeconds)
	}
	if cfg.Engines.Runtime.HFToken != "${HF_TOKEN}" {
		t.Error("expected HF token placeholder")
	}
}

func TestResolveEnvVars(t *testing.T) {
	t.Run("resolves environment variable", func(t *testing.T) {
		t.Setenv("TEST_API_KEY", "secret123")

		result := ResolveEnvVars("${TEST_API_KEY}")
		if result != "secret123" {
			t.Errorf("expected secret123, got %s", result)
		}
	})

	t.Run("returns empty for missing env var", func(t *testing.T) {
		result := ResolveEnvVars("${DEFINITELY_NOT_SET_12345}")
		if result != "" {
			t.Errorf("expected empty string, got %s", result)
		}
	})

	t.Run("leaves literal values unchanged", func(t *testing.T) {
		result := ResolveEnvVars("literal-value")
		if result != "literal-value" {
			t.Errorf("expected literal-value, got %s", result)
		}
	})
}

func TestNewManager(t *testing.T) {
	t.Run("loads from config file", func(t *testing.T) {
		tmpDir := t.TempDir()
		configFile := filepath.Join(tmpDir, "config.yaml")

		configContent := `
server:
  port: "9090"
admission:
  gpu_slots: 2
pipeline:
  rewrite_mode: replace
  dpi: 150
`
		if err := os.WriteFile(configFile, []byte(configContent), 0o644); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}

		cm, err := NewManager(configFile)
		if err != nil {
			t.Fatalf("NewManager failed: %v", err)
		}

		cfg := cm.Get()
		if cfg.Server.Port != "9090" {
			t.Errorf("expected port 9090, got %s", cfg.Server.Port)
		}
		if cfg.Admission.GPUSlots != 2 {
			t.Errorf("expected 2 GPU slots, got %d", cfg.Admission.GPUSlots)
		}
		if cfg.Pipeline.RewriteMode != "replace" || cfg.Pipeline.DPI != 150 {
			t.Errorf("pipeline overrides not applied: %+v", cfg.Pipeline)
		}
		// Keys absent from the file keep their defaults.
		if cfg.Engines.OCR.Model != engine.DefaultOCRModel {
			t.Errorf("expected default OCR model, got %s", cfg.Engines.OCR.Model)
		}
		if cm.File() != configFile {
			t.Errorf("expected config file %s, got %s", configFile, cm.File())
		}
	})

	t.Run("environment overrides nested keys", func(t *testing.T) {
		t.Setenv("PDFSCRIBE_ADMISSION_GPU_SLOTS", "3")
		t.Setenv("PDFSCRIBE_ENGINES_CAPTION_BACKEND", "ollama")

		cm, err := NewManager(filepath.Join(t.TempDir(), "missing.yaml"))
		if err == nil {
			cfg := cm.Get()
			t.Fatalf("expected error for explicit missing file, got config %+v", cfg.Admission)
		}

		tmpDir := t.TempDir()
		configFile := filepath.Join(tmpDir, "config.yaml")
		if err := os.WriteFile(configFile, []byte("log:\n  level: debug\n"), 0o644); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}
		cm, err = NewManager(configFile)
		if err != nil {
			t.Fatalf("NewManager failed: %v", err)
		}
		cfg := cm.Get()
		if cfg.Admission.GPUSlots != 3 {
			t.Errorf("expected 3 GPU slots from env, got %d", cfg.Admission.GPUSlots)
		}
		if cfg.Engines.Caption.Backend != "ollama" {
			t.Errorf("expected ollama backend from env, got %s", cfg.Engines.Caption.Backend)
		}
		if cfg.Log.Level != "debug" {
			t.Errorf("expected debug level, got %s", cfg.Log.Level)
		}
	})

	t.Run("rejects invalid config", func(t *testing.T) {
		configFile := filepath.Join(t.TempDir(), "config.yaml")
		if err := os.WriteFile(configFile, []byte("admission:\n  gpu_slots: 0\n"), 0o644); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}
		if _, err := NewManager(configFile); err == nil {
			t.Fatal("expected validation error for zero GPU slots")
		}
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown rewrite mode", func(c *Config) { c.Pipeline.RewriteMode = "inline" }},
		{"dpi too low", func(c *Config) { c.Pipeline.DPI = 10 }},
		{"wait above limit", func(c *Config) { c.Admission.MaxWaitSeconds = 601 }},
		{"bad slack", func(c *Config) { c.Admission.ImmediateSlack = "soon" }},
		{"gpu memory above one", func(c *Config) { c.Engines.OCR.GPUMemory = 1.5 }},
		{"empty model", func(c *Config) { c.Engines.Caption.Model = "" }},
		{"bad port", func(c *Config) { c.Server.Port = "http" }},
		{"unknown log format", func(c *Config) { c.Log.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := Validate(cfg); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestConfig_ToEngineConfig(t *testing.T) {
	t.Setenv("TEST_CAPTION_KEY", "cap-key")

	cfg := DefaultConfig()
	cfg.Engines.Caption.APIKey = "${TEST_CAPTION_KEY}"
	cfg.Admission.GPUSlots = 2
	cfg.Pipeline.Seed = 42

	ec := cfg.ToEngineConfig()
	if ec.Caption.APIKey != "cap-key" {
		t.Errorf("expected resolved API key, got %q", ec.Caption.APIKey)
	}
	if ec.GPUSlots != 2 {
		t.Errorf("expected 2 slots, got %d", ec.GPUSlots)
	}
	if ec.ImmediateSlack != 5*time.Millisecond {
		t.Errorf("expected 5ms slack, got %s", ec.ImmediateSlack)
	}
	if ec.OCR.Timeout != 300*time.Second {
		t.Errorf("expected 300s OCR timeout, got %s", ec.OCR.Timeout)
	}
	if ec.Caption.Seed == nil || *ec.Caption.Seed != 42 {
		t.Errorf("expected seed 42, got %v", ec.Caption.Seed)
	}

	cfg.Pipeline.Seed = 0
	if cfg.ToEngineConfig().Caption.Seed != nil {
		t.Error("expected nil seed when unset")
	}
}

func TestConfig_EngineSpecs(t *testing.T) {
	cfg := DefaultConfig()

	specs, err := cfg.EngineSpecs()
	if err != nil {
		t.Fatalf("EngineSpecs failed: %v", err)
	}
	if len(specs) != 2 {
		t.Fatalf("expected 2 specs, got %d", len(specs))
	}
	if specs[0].Role != vllm.RoleOCR || specs[0].HostPort != "8001" || specs[0].Device != "0" {
		t.Errorf("unexpected OCR spec: %+v", specs[0])
	}
	if specs[1].Role != vllm.RoleCaption || specs[1].HostPort != "8002" || specs[1].Model != engine.DefaultCaptionModel {
		t.Errorf("unexpected caption spec: %+v", specs[1])
	}

	cfg.Engines.OCR.BaseURL = "http://localhost/v1"
	if _, err := cfg.EngineSpecs(); err == nil {
		t.Error("expected error for base_url without port")
	}
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read config: %v", err)
	}
	if !strings.HasPrefix(string(data), "# pdfscribe configuration") {
		t.Error("expected header comment")
	}

	cm, err := NewManager(path)
	if err != nil {
		t.Fatalf("written default does not load: %v", err)
	}
	if cm.Get().Engines.Caption.MaxSide != 2048 {
		t.Errorf("expected max_side 2048, got %d", cm.Get().Engines.Caption.MaxSide)
	}
}

func TestManager_WatchConfig(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configFile, []byte("admission:\n  gpu_slots: 1\n"), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cm, err := NewManager(configFile)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	var slots atomic.Int32
	cm.OnChange(func(cfg *Config) {
		slots.Store(int32(cfg.Admission.GPUSlots))
	})
	cm.WatchConfig()

	// Give the watcher time to start.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(configFile, []byte("admission:\n  gpu_slots: 4\n"), 0o644); err != nil {
		t.Fatalf("failed to rewrite config: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && slots.Load() != 4 {
		time.Sleep(50 * time.Millisecond)
	}
	if slots.Load() != 4 {
		t.Fatalf("expected callback with 4 slots, got %d", slots.Load())
	}
	if cm.Get().Admission.GPUSlots != 4 {
		t.Errorf("expected Get to return reloaded config")
	}
}

func TestEntries(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Engines.OCR.APIKey = "sk-literal"

	entries, err := Entries(cfg)
	if err != nil {
		t.Fatalf("Entries failed: %v", err)
	}

	byKey := make(map[string]Entry, len(entries))
	for i, e := range entries {
		if i > 0 && entries[i-1].Key >= e.Key {
			t.Fatalf("entries not sorted at %s", e.Key)
		}
		byKey[e.Key] = e
	}

	if byKey["engines.ocr.api_key"].Value != "****" {
		t.Errorf("expected literal key masked, got %v", byKey["engines.ocr.api_key"].Value)
	}
	if byKey["engines.runtime.hf_token"].Value != "${HF_TOKEN}" {
		t.Errorf("expected env reference shown, got %v", byKey["engines.runtime.hf_token"].Value)
	}
	if byKey["admission.gpu_slots"].Description == "" {
		t.Error("expected description for admission.gpu_slots")
	}
	for key := range descriptions {
		if _, ok := byKey[key]; !ok {
			t.Errorf("described key %s missing from entries", key)
		}
	}
}
