package engine

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"
)

// MockOCR is an OCREngine for tests and dry runs. It returns Text for every
// page, or the entry in PageText keyed by 1-based call order.
type MockOCR struct {
	Text     string
	PageText map[int]string
	// FailOn makes the given 1-based calls fail.
	FailOn  map[int]bool
	Latency time.Duration
	// OnCall runs at the start of every call with its 1-based number.
	OnCall func(n int)

	calls atomic.Int64
}

// NewMockOCR returns a mock that emits a short markdown page.
func NewMockOCR() *MockOCR {
	return &MockOCR{Text: "# Page\n\nMock OCR output.\n"}
}

// ImageToMarkdown implements OCREngine.
func (m *MockOCR) ImageToMarkdown(ctx context.Context, img image.Image) (string, error) {
	n := int(m.calls.Add(1))
	if m.OnCall != nil {
		m.OnCall(n)
	}
	if err := sleepCtx(ctx, m.Latency); err != nil {
		return "", err
	}
	if m.FailOn[n] {
		return "", fmt.Errorf("mock OCR failure on call %d", n)
	}
	if t, ok := m.PageText[n]; ok {
		return t, nil
	}
	return m.Text, nil
}

// Model implements OCREngine.
func (m *MockOCR) Model() string { return "mock-ocr" }

// Calls returns the number of ImageToMarkdown calls.
func (m *MockOCR) Calls() int { return int(m.calls.Load()) }

// MockCaptioner is a Captioner for tests and dry runs. It records every call.
type MockCaptioner struct {
	// Caption is returned for every image unless FailWith is set.
	CaptionText string
	FailWith    error
	Latency     time.Duration

	mu      sync.Mutex
	prompts []string
	seeds   []*int64
	seed    *int64
	calls   *atomic.Int64
}

// NewMockCaptioner returns a mock that answers with text.
func NewMockCaptioner(text string) *MockCaptioner {
	return &MockCaptioner{CaptionText: text, calls: &atomic.Int64{}}
}

// Caption implements Captioner.
func (m *MockCaptioner) Caption(ctx context.Context, img image.Image, pageContext, promptOverride string) (string, error) {
	if m.calls == nil {
		m.calls = &atomic.Int64{}
	}
	m.calls.Add(1)
	m.mu.Lock()
	m.prompts = append(m.prompts, promptOverride)
	m.seeds = append(m.seeds, m.seed)
	m.mu.Unlock()

	if err := sleepCtx(ctx, m.Latency); err != nil {
		return "", err
	}
	if m.FailWith != nil {
		return "", m.FailWith
	}
	if img == nil {
		return "", errors.New("mock captioner received no image")
	}
	return m.CaptionText, nil
}

// WithSeed implements Seeder. The copy shares the call counter.
func (m *MockCaptioner) WithSeed(seed int64) Captioner {
	if m.calls == nil {
		m.calls = &atomic.Int64{}
	}
	return &MockCaptioner{
		CaptionText: m.CaptionText,
		FailWith:    m.FailWith,
		Latency:     m.Latency,
		seed:        &seed,
		calls:       m.calls,
	}
}

// Model implements Captioner.
func (m *MockCaptioner) Model() string { return "mock-captioner" }

// Calls returns the number of Caption calls across this mock and its seeded copies.
func (m *MockCaptioner) Calls() int {
	if m.calls == nil {
		return 0
	}
	return int(m.calls.Load())
}

// Prompts returns the prompt overrides received so far.
func (m *MockCaptioner) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var (
	_ OCREngine = (*MockOCR)(nil)
	_ Captioner = (*MockCaptioner)(nil)
	_ Seeder    = (*MockCaptioner)(nil)
)
