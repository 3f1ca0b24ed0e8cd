package engine

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackzampolin/pdfscribe/internal/gate"
)

func blankImage(w, h int) image.Image {
	return image.NewRGBA(image.Rect(0, 0, w, h))
}

// fakeOpenAIServer mimics the two endpoints of a vLLM OpenAI-compatible server
// that the engines use.
type fakeOpenAIServer struct {
	*httptest.Server
	model string
	reply string

	mu       sync.Mutex
	requests []map[string]any
}

func newFakeOpenAIServer(t *testing.T, model, reply string) *fakeOpenAIServer {
	t.Helper()
	f := &fakeOpenAIServer{model: model, reply: reply}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/models", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   []map[string]any{{"id": f.model, "object": "model", "created": 1, "owned_by": "vllm"}},
		})
	})
	mux.HandleFunc("POST /v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.requests = append(f.requests, body)
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   f.model,
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": f.reply},
			}},
		})
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func (f *fakeOpenAIServer) lastRequest(t *testing.T) map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.requests)
	return f.requests[len(f.requests)-1]
}

func TestOpenAIOCR(t *testing.T) {
	srv := newFakeOpenAIServer(t, DefaultOCRModel, "<|ref|>title<|/ref|><|det|>[[1,1,9,9]]<|/det|>\n# Hello")
	ocr := NewOpenAIOCR(OCRConfig{BaseURL: srv.URL + "/v1"}, nil)

	require.NoError(t, ocr.HealthCheck(context.Background()))

	text, err := ocr.ImageToMarkdown(context.Background(), blankImage(20, 20))
	require.NoError(t, err)
	assert.Contains(t, text, "# Hello")
	assert.Equal(t, DefaultOCRModel, ocr.Model())

	req := srv.lastRequest(t)
	assert.Equal(t, DefaultOCRModel, req["model"])
	raw, _ := json.Marshal(req["messages"])
	assert.Contains(t, string(raw), "data:image/png;base64,")
	assert.Contains(t, string(raw), "<|grounding|>")
	_, hasSeed := req["seed"]
	assert.False(t, hasSeed)
}

func TestOpenAIOCR_HealthCheckRejectsWrongModel(t *testing.T) {
	srv := newFakeOpenAIServer(t, "some/other-model", "")
	ocr := NewOpenAIOCR(OCRConfig{BaseURL: srv.URL + "/v1"}, nil)

	err := ocr.HealthCheck(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not served")
}

func TestOpenAICaptioner(t *testing.T) {
	srv := newFakeOpenAIServer(t, DefaultCaptionModel, "  A bar chart of revenue.  ")
	captioner := NewOpenAICaptioner(CaptionConfig{BaseURL: srv.URL + "/v1"}, nil)

	t.Run("sends prompt with page context", func(t *testing.T) {
		text, err := captioner.Caption(context.Background(), blankImage(40, 40), "Quarterly revenue table", "")
		require.NoError(t, err)
		assert.Equal(t, "A bar chart of revenue.", text)

		raw, _ := json.Marshal(srv.lastRequest(t)["messages"])
		assert.Contains(t, string(raw), "Quarterly revenue table")
		assert.Contains(t, string(raw), "Describe this figure")
	})

	t.Run("override replaces the default prompt", func(t *testing.T) {
		_, err := captioner.Caption(context.Background(), blankImage(40, 40), "", "Name the animal.")
		require.NoError(t, err)

		raw, _ := json.Marshal(srv.lastRequest(t)["messages"])
		assert.Contains(t, string(raw), "Name the animal.")
		assert.NotContains(t, string(raw), "Describe this figure")
	})

	t.Run("seeded copy sends the seed", func(t *testing.T) {
		seeded := captioner.WithSeed(42)
		_, err := seeded.Caption(context.Background(), blankImage(40, 40), "", "")
		require.NoError(t, err)
		assert.EqualValues(t, 42, srv.lastRequest(t)["seed"])
	})
}

func TestOpenAICaptioner_EmptyReply(t *testing.T) {
	srv := newFakeOpenAIServer(t, DefaultCaptionModel, "   ")
	captioner := NewOpenAICaptioner(CaptionConfig{BaseURL: srv.URL + "/v1"}, nil)

	_, err := captioner.Caption(context.Background(), blankImage(10, 10), "", "")
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestOllamaCaptioner(t *testing.T) {
	var generateBodies []map[string]any
	var mu sync.Mutex

	mux := http.NewServeMux()
	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("POST /api/show", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"modelfile":""}`))
	})
	mux.HandleFunc("POST /api/generate", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		generateBodies = append(generateBodies, body)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"llava","response":"A diagram of a pump.","done":true}` + "\n"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	captioner, err := NewOllamaCaptioner(CaptionConfig{Backend: BackendOllama, Model: "llava", BaseURL: srv.URL}, nil)
	require.NoError(t, err)

	require.NoError(t, captioner.HealthCheck(context.Background()))

	text, err := captioner.WithSeed(7).Caption(context.Background(), blankImage(300, 300), "pump page", "")
	require.NoError(t, err)
	assert.Equal(t, "A diagram of a pump.", text)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, generateBodies, 2)
	last := generateBodies[1]
	assert.Equal(t, "llava", last["model"])
	assert.Contains(t, last["prompt"], "pump page")
	images, _ := last["images"].([]any)
	assert.Len(t, images, 1)
	options, _ := last["options"].(map[string]any)
	assert.EqualValues(t, 7, options["seed"])
}

func TestFitSides(t *testing.T) {
	tests := []struct {
		name       string
		w, h       int
		wantW      int
		wantH      int
		minS, maxS int
	}{
		{"already fits", 300, 200, 300, 200, 128, 2048},
		{"too small is upscaled", 64, 32, 256, 128, 128, 2048},
		{"too large is downscaled", 4096, 1024, 2048, 512, 128, 2048},
		{"max wins over min", 4000, 10, 2048, 5, 128, 2048},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := fitSides(blankImage(tt.w, tt.h), tt.minS, tt.maxS)
			assert.Equal(t, tt.wantW, out.Bounds().Dx())
			assert.Equal(t, tt.wantH, out.Bounds().Dy())
		})
	}
}

func TestBuildCaptionPrompt(t *testing.T) {
	assert.Equal(t, "base", buildCaptionPrompt("base", "", "  ", 100))
	assert.Equal(t, "custom", buildCaptionPrompt("base", "custom", "", 100))

	p := buildCaptionPrompt("base", "", strings.Repeat("word ", 100), 20)
	assert.True(t, strings.HasPrefix(p, "base\n\n"))
	assert.Less(t, len(p), 80)
}

func TestRegistry_InitOnce(t *testing.T) {
	g, _ := gate.New(1)
	var loads atomic.Int32
	load := func(ctx context.Context) (*Engines, error) {
		loads.Add(1)
		return &Engines{OCR: NewMockOCR(), Captioner: NewMockCaptioner("x"), Gate: g}, nil
	}

	r := NewRegistry(nil)
	_, err := r.Engines()
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.False(t, r.Ready())

	var wg sync.WaitGroup
	results := make([]*Engines, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = r.Init(context.Background(), load)
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, loads.Load())
	for _, e := range results {
		assert.Same(t, results[0], e)
	}
	assert.True(t, r.Ready())
	assert.False(t, r.LoadedAt().IsZero())
	require.NoError(t, r.Wait(context.Background()))
}

func TestRegistry_InitFailureIsSticky(t *testing.T) {
	r := NewRegistry(nil)
	boom := errors.New("cuda out of memory")

	_, err := r.Init(context.Background(), func(context.Context) (*Engines, error) { return nil, boom })
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.ErrorIs(t, err, boom)

	// A second attempt is a no-op and reports the same failure.
	_, err = r.Init(context.Background(), func(context.Context) (*Engines, error) {
		t.Fatal("loader must not run twice")
		return nil, nil
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, r.Ready())
	assert.ErrorIs(t, r.Err(), boom)
}

func TestRegistry_RejectsIncompleteEngines(t *testing.T) {
	r := NewRegistry(nil)
	_, err := r.Init(context.Background(), func(context.Context) (*Engines, error) {
		return &Engines{OCR: NewMockOCR()}, nil
	})
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestBuild_MockBackends(t *testing.T) {
	engines, err := Build(context.Background(), Config{
		OCR:      OCRConfig{Backend: BackendMock},
		Caption:  CaptionConfig{Backend: BackendMock},
		GPUSlots: 2,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "mock-ocr", engines.OCRModel())
	assert.Equal(t, "mock-captioner", engines.CaptionModel())
	assert.Equal(t, 2, engines.Gate.Capacity())
}

func TestBuild_UnknownBackend(t *testing.T) {
	_, err := Build(context.Background(), Config{OCR: OCRConfig{Backend: "magic"}}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown OCR backend")
}

type flakyChecker struct {
	failures atomic.Int32
}

func (f *flakyChecker) HealthCheck(ctx context.Context) error {
	if f.failures.Add(-1) >= 0 {
		return errors.New("connection refused")
	}
	return nil
}

func TestWaitHealthy(t *testing.T) {
	t.Run("retries until healthy", func(t *testing.T) {
		f := &flakyChecker{}
		f.failures.Store(1)
		require.NoError(t, WaitHealthy(context.Background(), f, 10*time.Second, nil))
	})

	t.Run("gives up at the timeout", func(t *testing.T) {
		f := &flakyChecker{}
		f.failures.Store(1000)
		start := time.Now()
		err := WaitHealthy(context.Background(), f, 500*time.Millisecond, nil)
		assert.Error(t, err)
		assert.Less(t, time.Since(start), 5*time.Second)
	})

	t.Run("engines without a health check are ready", func(t *testing.T) {
		assert.NoError(t, WaitHealthy(context.Background(), NewMockOCR(), time.Second, nil))
	})
}

func TestEngines_CaptionerWithSeed(t *testing.T) {
	base := NewMockCaptioner("x")
	e := &Engines{Captioner: base}

	assert.Same(t, base, e.CaptionerWithSeed(nil))

	seed := int64(3)
	seeded := e.CaptionerWithSeed(&seed)
	_, _ = seeded.Caption(context.Background(), blankImage(1, 1), "", "")
	assert.Equal(t, 1, base.Calls())
}
