package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/jackzampolin/pdfscribe/internal/gate"
)

// OCRFactory constructs an OCR engine for a backend.
type OCRFactory func(cfg OCRConfig, logger *slog.Logger) (OCREngine, error)

// CaptionFactory constructs a caption engine for a backend.
type CaptionFactory func(cfg CaptionConfig, logger *slog.Logger) (Captioner, error)

var (
	backendsMu      sync.RWMutex
	ocrBackends     = map[string]OCRFactory{}
	captionBackends = map[string]CaptionFactory{}
)

func init() {
	RegisterOCRBackend(BackendOpenAI, func(cfg OCRConfig, logger *slog.Logger) (OCREngine, error) {
		return NewOpenAIOCR(cfg, logger), nil
	})
	RegisterOCRBackend(BackendMock, func(OCRConfig, *slog.Logger) (OCREngine, error) {
		return NewMockOCR(), nil
	})
	RegisterCaptionBackend(BackendOpenAI, func(cfg CaptionConfig, logger *slog.Logger) (Captioner, error) {
		return NewOpenAICaptioner(cfg, logger), nil
	})
	RegisterCaptionBackend(BackendOllama, func(cfg CaptionConfig, logger *slog.Logger) (Captioner, error) {
		return NewOllamaCaptioner(cfg, logger)
	})
	RegisterCaptionBackend(BackendMock, func(CaptionConfig, *slog.Logger) (Captioner, error) {
		return NewMockCaptioner("an image"), nil
	})
}

// RegisterOCRBackend makes an OCR backend available by name. Backends that
// need cgo register themselves from build-tagged packages.
func RegisterOCRBackend(name string, f OCRFactory) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	ocrBackends[name] = f
}

// RegisterCaptionBackend makes a caption backend available by name.
func RegisterCaptionBackend(name string, f CaptionFactory) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	captionBackends[name] = f
}

// OCRBackends lists the registered OCR backend names.
func OCRBackends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	return sortedKeys(ocrBackends)
}

// CaptionBackends lists the registered caption backend names.
func CaptionBackends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	return sortedKeys(captionBackends)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Build constructs the engines described by cfg and waits for each backend
// to report healthy. It is normally passed to Registry.Init.
func Build(ctx context.Context, cfg Config, logger *slog.Logger) (*Engines, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.GPUSlots <= 0 {
		cfg.GPUSlots = 1
	}

	ocr, err := BuildOCR(ctx, cfg.OCR, cfg.WarmupTimeout, logger)
	if err != nil {
		return nil, err
	}
	captioner, err := BuildCaptioner(ctx, cfg.Caption, cfg.WarmupTimeout, logger)
	if err != nil {
		return nil, err
	}

	opts := []gate.Option{}
	if cfg.ImmediateSlack > 0 {
		opts = append(opts, gate.WithImmediateSlack(cfg.ImmediateSlack))
	}
	g, err := gate.New(cfg.GPUSlots, opts...)
	if err != nil {
		return nil, err
	}

	return &Engines{OCR: ocr, Captioner: captioner, Gate: g}, nil
}

// BuildOCR constructs only the OCR engine and waits for it to be healthy.
func BuildOCR(ctx context.Context, cfg OCRConfig, warmup time.Duration, logger *slog.Logger) (OCREngine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()

	backendsMu.RLock()
	newOCR, ok := ocrBackends[cfg.Backend]
	backendsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown OCR backend %q (available: %v)", cfg.Backend, OCRBackends())
	}

	ocr, err := newOCR(cfg, logger.With("engine", "ocr"))
	if err != nil {
		return nil, fmt.Errorf("failed to create OCR engine: %w", err)
	}
	if err := WaitHealthy(ctx, ocr, warmupOrDefault(warmup), logger); err != nil {
		return nil, fmt.Errorf("OCR engine %s not ready: %w", ocr.Model(), err)
	}
	return ocr, nil
}

// BuildCaptioner constructs only the caption engine and waits for it to be healthy.
func BuildCaptioner(ctx context.Context, cfg CaptionConfig, warmup time.Duration, logger *slog.Logger) (Captioner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()

	backendsMu.RLock()
	newCaption, ok := captionBackends[cfg.Backend]
	backendsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown caption backend %q (available: %v)", cfg.Backend, CaptionBackends())
	}

	captioner, err := newCaption(cfg, logger.With("engine", "caption"))
	if err != nil {
		return nil, fmt.Errorf("failed to create caption engine: %w", err)
	}
	if err := WaitHealthy(ctx, captioner, warmupOrDefault(warmup), logger); err != nil {
		return nil, fmt.Errorf("caption engine %s not ready: %w", captioner.Model(), err)
	}
	return captioner, nil
}

func warmupOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return 10 * time.Minute
	}
	return d
}

// WaitHealthy polls engine's health check until it passes or timeout
// elapses. Engines without a health check are considered ready.
func WaitHealthy(ctx context.Context, engine any, timeout time.Duration, logger *slog.Logger) error {
	hc, ok := engine.(HealthChecker)
	if !ok {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return retry.Do(
		func() error {
			return hc.HealthCheck(ctx)
		},
		retry.Context(ctx),
		retry.Attempts(0),
		retry.Delay(2*time.Second),
		retry.MaxDelay(15*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, context.Canceled)
		}),
		retry.OnRetry(func(n uint, err error) {
			logger.Info("waiting for engine", "attempt", n+1, "error", err)
		}),
	)
}
