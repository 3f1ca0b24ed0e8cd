package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Loader builds the engine set. It runs at most once per Registry.
type Loader func(ctx context.Context) (*Engines, error)

// Registry owns the process's engines. It is constructed once at startup and
// handed to every request path; Init after the first call is a no-op that
// returns the first outcome.
type Registry struct {
	once   sync.Once
	logger *slog.Logger

	mu       sync.RWMutex
	engines  *Engines
	err      error
	loadedAt time.Time
	done     chan struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger, done: make(chan struct{})}
}

// Init runs load exactly once. Concurrent callers block until the first
// load finishes and all observe its result.
func (r *Registry) Init(ctx context.Context, load Loader) (*Engines, error) {
	r.once.Do(func() {
		start := time.Now()
		r.logger.Info("loading engines")

		engines, err := load(ctx)
		if err == nil && (engines == nil || engines.OCR == nil || engines.Captioner == nil || engines.Gate == nil) {
			err = fmt.Errorf("loader returned an incomplete engine set")
		}

		r.mu.Lock()
		if err != nil {
			r.err = fmt.Errorf("%w: %w", ErrNotInitialized, err)
		} else {
			r.engines = engines
			r.loadedAt = time.Now()
		}
		r.mu.Unlock()
		close(r.done)

		if err != nil {
			r.logger.Error("engine initialization failed", "error", err)
			return
		}
		r.logger.Info("engines ready",
			"ocr_model", engines.OCRModel(),
			"caption_model", engines.CaptionModel(),
			"gpu_slots", engines.Gate.Capacity(),
			"elapsed", time.Since(start).Round(time.Millisecond))
	})
	return r.Engines()
}

// Engines returns the loaded engines. Before Init finishes it returns
// ErrNotInitialized; after a failed Init it returns the wrapped load error.
func (r *Registry) Engines() (*Engines, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.engines != nil {
		return r.engines, nil
	}
	if r.err != nil {
		return nil, r.err
	}
	return nil, ErrNotInitialized
}

// Ready reports whether engines loaded successfully.
func (r *Registry) Ready() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.engines != nil
}

// Err returns the initialization error, if any.
func (r *Registry) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.err
}

// Wait blocks until Init has finished or ctx is done.
func (r *Registry) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Static returns a registry that is already initialized with engines.
func Static(engines *Engines, logger *slog.Logger) *Registry {
	r := NewRegistry(logger)
	_, _ = r.Init(context.Background(), func(context.Context) (*Engines, error) {
		return engines, nil
	})
	return r
}

// LoadedAt returns when the engines finished loading, or the zero time.
func (r *Registry) LoadedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loadedAt
}
