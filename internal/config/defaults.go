package config

import (
	"fmt"
	"sort"
	"strings"
)

// Entry is one configuration key with its effective value.
type Entry struct {
	Key         string `json:"key" yaml:"key"`
	Value       any    `json:"value" yaml:"value"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

var descriptions = map[string]string{
	"server.host":                             "Address the HTTP server binds to",
	"server.port":                             "Port the HTTP server listens on",
	"engines.ocr.backend":                     "OCR backend: openai (vLLM), tesseract, or mock",
	"engines.ocr.model":                       "OCR model name served by the backend",
	"engines.ocr.base_url":                    "OpenAI-compatible endpoint of the OCR engine",
	"engines.ocr.api_key":                     "OCR endpoint API key (uses environment variable)",
	"engines.ocr.prompt":                      "Instruction sent with every page; empty uses the grounding prompt",
	"engines.ocr.gpu_memory":                  "Fraction of GPU memory the managed OCR engine may claim",
	"engines.ocr.device":                      "GPU index for the managed OCR engine",
	"engines.ocr.max_tokens":                  "Maximum tokens generated per page",
	"engines.ocr.timeout_seconds":             "HTTP timeout for one page",
	"engines.ocr.language":                    "Tesseract language code",
	"engines.caption.backend":                 "Caption backend: openai (vLLM), ollama, or mock",
	"engines.caption.model":                   "Vision-language model used for captions",
	"engines.caption.base_url":                "Endpoint of the caption engine",
	"engines.caption.api_key":                 "Caption endpoint API key (uses environment variable)",
	"engines.caption.prompt":                  "Default caption instruction",
	"engines.caption.gpu_memory":              "Fraction of GPU memory the managed caption engine may claim",
	"engines.caption.device":                  "GPU index for the managed caption engine",
	"engines.caption.max_tokens":              "Maximum tokens generated per caption",
	"engines.caption.timeout_seconds":         "HTTP timeout for one caption",
	"engines.caption.min_side":                "Images are upscaled until their shorter side reaches this",
	"engines.caption.max_side":                "Images are downscaled until their longer side fits this",
	"engines.runtime.managed":                 "Start and stop vLLM containers with the server",
	"engines.runtime.image":                   "Container image for managed engines",
	"engines.runtime.hf_token":                "HuggingFace token passed to managed engines",
	"engines.runtime.startup_timeout_seconds": "How long to wait for a managed engine to serve its model",
	"engines.warmup_timeout_seconds":          "How long startup waits for engines to report healthy",
	"admission.gpu_slots":                     "Jobs allowed on the GPU at once",
	"admission.immediate_slack":               "Grace period for fail-fast admission",
	"admission.busy_retry_after":              "Retry-After seconds on a fail-fast rejection",
	"admission.wait_retry_after":              "Retry-After seconds on a wait timeout",
	"admission.max_wait_seconds":              "Upper bound for a caller's wait timeout",
	"pipeline.dpi":                            "Default rasterization resolution",
	"pipeline.rewrite_mode":                   "Default caption rewrite mode: append or replace",
	"pipeline.seed":                           "Default caption sampling seed; 0 leaves sampling unseeded",
	"pipeline.work_dir":                       "Root for job working directories; empty uses <home>/jobs",
	"pipeline.keep_workdirs":                  "Keep job working directories after the response is sent",
	"pipeline.max_upload_mb":                  "Largest accepted upload",
	"log.level":                               "Log level: debug, info, warn, error",
	"log.format":                              "Log format: text or json",
}

// Entries returns every configuration key of cfg with its value and
// description, sorted by key. Secrets are masked.
func Entries(cfg *Config) ([]Entry, error) {
	flat, err := flatten(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to flatten config: %w", err)
	}
	entries := make([]Entry, 0, len(flat))
	for key, value := range flat {
		if isSecret(key) {
			value = mask(fmt.Sprint(value))
		}
		entries = append(entries, Entry{Key: key, Value: value, Description: descriptions[key]})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

func isSecret(key string) bool {
	return strings.HasSuffix(key, ".api_key") || strings.HasSuffix(key, ".hf_token")
}

// mask hides literal secrets but shows ${ENV_VAR} references as written.
func mask(v string) string {
	if v == "" || envVarPattern.MatchString(v) {
		return v
	}
	return "****"
}
