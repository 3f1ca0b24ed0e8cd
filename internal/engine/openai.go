package engine

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"net/http"
	"strings"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/jackzampolin/pdfscribe/internal/markdown"
)

// chatClient is a thin wrapper over an OpenAI-compatible chat endpoint, such
// as a vLLM server hosting a vision model.
type chatClient struct {
	client    openai.Client
	model     string
	maxTokens int64
	logger    *slog.Logger
}

func newChatClient(baseURL, apiKey, model string, maxTokens int, httpClient *http.Client, logger *slog.Logger) *chatClient {
	if apiKey == "" {
		// vLLM accepts any key unless started with --api-key.
		apiKey = "EMPTY"
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(2),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &chatClient{
		client:    openai.NewClient(opts...),
		model:     model,
		maxTokens: int64(maxTokens),
		logger:    logger,
	}
}

// complete sends one image plus an instruction and returns the reply text.
func (c *chatClient) complete(ctx context.Context, img image.Image, prompt string, seed *int64) (string, error) {
	dataURL, err := pngDataURL(img)
	if err != nil {
		return "", err
	}

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: dataURL}),
				openai.TextContentPart(prompt),
			}),
		},
		MaxTokens:   openai.Int(c.maxTokens),
		Temperature: openai.Float(0),
	}
	if seed != nil {
		params.Seed = openai.Int(*seed)
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", mapOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// healthCheck verifies the server is up and serving the configured model.
func (c *chatClient) healthCheck(ctx context.Context) error {
	page, err := c.client.Models.List(ctx)
	if err != nil {
		return mapOpenAIError(err)
	}
	served := make([]string, 0, len(page.Data))
	for _, m := range page.Data {
		if m.ID == c.model {
			return nil
		}
		served = append(served, m.ID)
	}
	return fmt.Errorf("model %s is not served (available: %s)", c.model, strings.Join(served, ", "))
}

func mapOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.Message != "" {
			return fmt.Errorf("engine request failed (status %d): %s", apiErr.StatusCode, apiErr.Message)
		}
		return fmt.Errorf("engine request failed (status %d)", apiErr.StatusCode)
	}
	return err
}

// OpenAIOCR runs a grounding OCR model behind an OpenAI-compatible API.
type OpenAIOCR struct {
	chat   *chatClient
	prompt string
}

// NewOpenAIOCR creates an OCR engine from config.
func NewOpenAIOCR(cfg OCRConfig, logger *slog.Logger) *OpenAIOCR {
	cfg.applyDefaults()
	httpClient := &http.Client{Timeout: cfg.Timeout}
	return &OpenAIOCR{
		chat:   newChatClient(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.MaxTokens, httpClient, logger),
		prompt: cfg.Prompt,
	}
}

// ImageToMarkdown returns the model's raw grounded markdown for one page.
func (e *OpenAIOCR) ImageToMarkdown(ctx context.Context, img image.Image) (string, error) {
	return e.chat.complete(ctx, img, e.prompt, nil)
}

// Model returns the served model name.
func (e *OpenAIOCR) Model() string { return e.chat.model }

// HealthCheck verifies the OCR server is serving the model.
func (e *OpenAIOCR) HealthCheck(ctx context.Context) error { return e.chat.healthCheck(ctx) }

// OpenAICaptioner runs a vision-language model behind an OpenAI-compatible API.
type OpenAICaptioner struct {
	chat         *chatClient
	prompt       string
	minSide      int
	maxSide      int
	contextChars int
	seed         *int64
}

// NewOpenAICaptioner creates a caption engine from config.
func NewOpenAICaptioner(cfg CaptionConfig, logger *slog.Logger) *OpenAICaptioner {
	cfg.applyDefaults()
	httpClient := &http.Client{Timeout: cfg.Timeout}
	return &OpenAICaptioner{
		chat:         newChatClient(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.MaxTokens, httpClient, logger),
		prompt:       cfg.Prompt,
		minSide:      cfg.MinSide,
		maxSide:      cfg.MaxSide,
		contextChars: cfg.ContextChars,
		seed:         cfg.Seed,
	}
}

// Caption describes img using the page text as context.
func (e *OpenAICaptioner) Caption(ctx context.Context, img image.Image, pageContext, promptOverride string) (string, error) {
	prompt := buildCaptionPrompt(e.prompt, promptOverride, pageContext, e.contextChars)
	return e.chat.complete(ctx, fitSides(img, e.minSide, e.maxSide), prompt, e.seed)
}

// WithSeed returns a copy that samples with seed.
func (e *OpenAICaptioner) WithSeed(seed int64) Captioner {
	c := *e
	c.seed = &seed
	return &c
}

// Model returns the served model name.
func (e *OpenAICaptioner) Model() string { return e.chat.model }

// HealthCheck verifies the caption server is serving the model.
func (e *OpenAICaptioner) HealthCheck(ctx context.Context) error { return e.chat.healthCheck(ctx) }

// buildCaptionPrompt combines the instruction with trimmed page context.
func buildCaptionPrompt(defaultPrompt, override, pageContext string, contextChars int) string {
	prompt := defaultPrompt
	if strings.TrimSpace(override) != "" {
		prompt = override
	}
	pageContext = markdown.Truncate(strings.TrimSpace(pageContext), contextChars)
	if pageContext == "" {
		return prompt
	}
	return prompt + "\n\nText from the page where the image appears:\n" + pageContext
}

var (
	_ OCREngine     = (*OpenAIOCR)(nil)
	_ HealthChecker = (*OpenAIOCR)(nil)
	_ Captioner     = (*OpenAICaptioner)(nil)
	_ Seeder        = (*OpenAICaptioner)(nil)
	_ HealthChecker = (*OpenAICaptioner)(nil)
)
