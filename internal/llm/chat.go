package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/zombor/greenbucks/internal/extraction"
)

// Defaults target the Cerebras OpenAI-compatible endpoint.
const (
	DefaultChatURL   = "https://api.cerebras.ai/v1"
	DefaultChatModel = "llama3.1-8b"
)

// ChatConfig configures an OpenAI-compatible chat completions endpoint.
type ChatConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	HTTPClient *http.Client
}

// Chat parses receipt text through an OpenAI-compatible chat model in JSON
// mode.
type Chat struct {
	llm   llms.Model
	model string
}

// NewChat creates a Chat parser.
func NewChat(cfg ChatConfig) (*Chat, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("chat: %w", extraction.ErrNoCredentials)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultChatURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultChatModel
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: requestTimeout}
	}

	model, err := openai.New(
		openai.WithToken(cfg.APIKey),
		openai.WithBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")),
		openai.WithModel(cfg.Model),
		openai.WithHTTPClient(cfg.HTTPClient),
	)
	if err != nil {
		return nil, fmt.Errorf("creating chat client: %w", err)
	}
	return &Chat{llm: model, model: cfg.Model}, nil
}

// ParseItems asks the chat model for the items in text.
func (c *Chat) ParseItems(ctx context.Context, text string) ([]extraction.ParsedItem, error) {
	if strings.TrimSpace(text) == "" {
		return nil, extraction.ErrEmptyText
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	resp, err := c.llm.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, userPrompt(text)),
	}, llms.WithTemperature(0), llms.WithJSONMode())
	if err != nil {
		return nil, fmt.Errorf("generating content with %s: %w", c.model, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from %s", c.model)
	}

	items, err := parseItemsJSON(resp.Choices[0].Content)
	if err != nil {
		return nil, fmt.Errorf("parsing chat reply: %w", err)
	}
	return items, nil
}
