package engine

import "time"

// Backend names accepted in configuration.
const (
	BackendOpenAI    = "openai"
	BackendOllama    = "ollama"
	BackendTesseract = "tesseract"
	BackendMock      = "mock"
)

// Default models served by the engine containers.
const (
	DefaultOCRModel     = "deepseek-ai/DeepSeek-OCR"
	DefaultCaptionModel = "deepseek-ai/deepseek-vl2-tiny"
)

// DefaultOCRPrompt asks a grounding OCR model for markdown with region tags.
const DefaultOCRPrompt = "<|grounding|>Convert the document to markdown."

// DefaultCaptionPrompt is the instruction sent with every image unless a
// caller overrides it.
const DefaultCaptionPrompt = "Describe this figure for a reader who cannot see it. " +
	"Say what kind of image it is (chart, diagram, table, photo, illustration) and summarize " +
	"what it shows, including any labels, axes, or numbers that are legible. " +
	"Answer in one or two plain sentences without preamble."

// OCRConfig configures the OCR engine.
type OCRConfig struct {
	Backend   string
	Model     string
	BaseURL   string
	APIKey    string
	Prompt    string
	MaxTokens int
	Timeout   time.Duration
	// Language is the tesseract language code; ignored by other backends.
	Language string
}

// CaptionConfig configures the caption engine.
type CaptionConfig struct {
	Backend   string
	Model     string
	BaseURL   string
	APIKey    string
	Prompt    string
	MaxTokens int
	Timeout   time.Duration
	// MinSide and MaxSide bound the image's shorter and longer edges before
	// it is sent to the model.
	MinSide int
	MaxSide int
	// ContextChars caps how much page text accompanies each image.
	ContextChars int
	// Seed is the default sampling seed; nil leaves sampling unseeded.
	Seed *int64
	// KeepAlive keeps the model resident between requests (ollama only).
	KeepAlive time.Duration
}

// Config configures the full engine set.
type Config struct {
	OCR            OCRConfig
	Caption        CaptionConfig
	GPUSlots       int
	ImmediateSlack time.Duration
	// WarmupTimeout bounds how long Build waits for backends to report healthy.
	WarmupTimeout time.Duration
}

func (c *OCRConfig) applyDefaults() {
	if c.Backend == "" {
		c.Backend = BackendOpenAI
	}
	if c.Model == "" {
		c.Model = DefaultOCRModel
	}
	if c.Prompt == "" {
		c.Prompt = DefaultOCRPrompt
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 8192
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Minute
	}
	if c.Language == "" {
		c.Language = "eng"
	}
}

func (c *CaptionConfig) applyDefaults() {
	if c.Backend == "" {
		c.Backend = BackendOpenAI
	}
	if c.Model == "" {
		c.Model = DefaultCaptionModel
	}
	if c.Prompt == "" {
		c.Prompt = DefaultCaptionPrompt
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 256
	}
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Minute
	}
	if c.MinSide <= 0 {
		c.MinSide = 128
	}
	if c.MaxSide <= 0 {
		c.MaxSide = 2048
	}
	if c.ContextChars <= 0 {
		c.ContextChars = 2000
	}
}
