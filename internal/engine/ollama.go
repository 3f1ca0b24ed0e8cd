package engine

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
)

// OllamaCaptioner captions images with a vision model served by Ollama.
type OllamaCaptioner struct {
	client       *api.Client
	model        string
	prompt       string
	minSide      int
	maxSide      int
	contextChars int
	maxTokens    int
	keepAlive    time.Duration
	seed         *int64
	logger       *slog.Logger
}

// NewOllamaCaptioner creates an Ollama-backed captioner. An empty BaseURL
// falls back to OLLAMA_HOST, as the Ollama CLI does.
func NewOllamaCaptioner(cfg CaptionConfig, logger *slog.Logger) (*OllamaCaptioner, error) {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	var client *api.Client
	if cfg.BaseURL == "" {
		c, err := api.ClientFromEnvironment()
		if err != nil {
			return nil, fmt.Errorf("failed to create ollama client: %w", err)
		}
		client = c
	} else {
		base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
		if err != nil {
			return nil, fmt.Errorf("invalid ollama base url: %w", err)
		}
		client = api.NewClient(base, &http.Client{Timeout: cfg.Timeout})
	}

	keepAlive := cfg.KeepAlive
	if keepAlive == 0 {
		keepAlive = 30 * time.Minute
	}

	return &OllamaCaptioner{
		client:       client,
		model:        cfg.Model,
		prompt:       cfg.Prompt,
		minSide:      cfg.MinSide,
		maxSide:      cfg.MaxSide,
		contextChars: cfg.ContextChars,
		maxTokens:    cfg.MaxTokens,
		keepAlive:    keepAlive,
		seed:         cfg.Seed,
		logger:       logger,
	}, nil
}

// Caption describes img using the page text as context.
func (e *OllamaCaptioner) Caption(ctx context.Context, img image.Image, pageContext, promptOverride string) (string, error) {
	data, err := encodePNG(fitSides(img, e.minSide, e.maxSide))
	if err != nil {
		return "", err
	}

	options := map[string]any{
		"temperature": 0,
		"num_predict": e.maxTokens,
	}
	if e.seed != nil {
		options["seed"] = *e.seed
	}

	stream := false
	req := &api.GenerateRequest{
		Model:     e.model,
		Prompt:    buildCaptionPrompt(e.prompt, promptOverride, pageContext, e.contextChars),
		Images:    []api.ImageData{data},
		Stream:    &stream,
		Options:   options,
		KeepAlive: &api.Duration{Duration: e.keepAlive},
	}

	var sb strings.Builder
	err = e.client.Generate(ctx, req, func(resp api.GenerateResponse) error {
		sb.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama generate failed: %w", err)
	}

	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// WithSeed returns a copy that samples with seed.
func (e *OllamaCaptioner) WithSeed(seed int64) Captioner {
	c := *e
	c.seed = &seed
	return &c
}

// Model returns the Ollama model tag.
func (e *OllamaCaptioner) Model() string { return e.model }

// HealthCheck verifies the server is up and the model is pulled, then loads
// it into memory so the first caption does not pay the load cost.
func (e *OllamaCaptioner) HealthCheck(ctx context.Context) error {
	if err := e.client.Heartbeat(ctx); err != nil {
		return fmt.Errorf("ollama not reachable: %w", err)
	}
	if _, err := e.client.Show(ctx, &api.ShowRequest{Model: e.model}); err != nil {
		return fmt.Errorf("ollama model %s unavailable: %w", e.model, err)
	}

	// A generate request without a prompt only loads the model.
	stream := false
	return e.client.Generate(ctx, &api.GenerateRequest{
		Model:     e.model,
		Stream:    &stream,
		KeepAlive: &api.Duration{Duration: e.keepAlive},
	}, func(api.GenerateResponse) error { return nil })
}

var (
	_ Captioner     = (*OllamaCaptioner)(nil)
	_ Seeder        = (*OllamaCaptioner)(nil)
	_ HealthChecker = (*OllamaCaptioner)(nil)
)
