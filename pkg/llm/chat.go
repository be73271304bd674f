package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/xhad/repochat/internal/models"
)

// ChatConfig represents the configuration for a completion client.
type ChatConfig struct {
	Provider    string // "openai" or "ollama"
	Model       string
	BaseURL     string
	APIKey      string
	Temperature float64
	MaxTokens   int
	Streaming   bool
}

// Client sends message lists to a chat model and reports usage per call.
type Client struct {
	config ChatConfig
	llm    llms.Model
}

// NewWithConfig creates a new Client with the given configuration.
func NewWithConfig(config ChatConfig) (*Client, error) {
	if err := normalizeChatConfig(&config); err != nil {
		return nil, err
	}

	var (
		model llms.Model
		err   error
	)
	switch config.Provider {
	case "ollama":
		model, err = ollama.New(
			ollama.WithModel(config.Model),
			ollama.WithServerURL(config.BaseURL),
		)
	case "openai":
		opts := []openai.Option{
			openai.WithModel(config.Model),
			openai.WithToken(config.APIKey),
		}
		if config.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(config.BaseURL))
		}
		model, err = openai.New(opts...)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", config.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}

	return &Client{config: config, llm: model}, nil
}

// NewWithModel wraps an already constructed model.
func NewWithModel(model llms.Model, config ChatConfig) (*Client, error) {
	if model == nil {
		return nil, fmt.Errorf("model is required")
	}
	if err := normalizeChatConfig(&config); err != nil {
		return nil, err
	}
	return &Client{config: config, llm: model}, nil
}

func normalizeChatConfig(config *ChatConfig) error {
	if config.Provider == "" {
		config.Provider = "openai"
	}
	if config.Model == "" {
		config.Model = "gpt-3.5-turbo"
	}
	if config.Temperature < 0 || config.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	if config.MaxTokens < 0 {
		return fmt.Errorf("max tokens cannot be negative")
	}
	if config.Provider == "ollama" && config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434" // Default Ollama URL
	}
	return nil
}

// Complete sends messages as one request and returns the first choice.
func (c *Client) Complete(ctx context.Context, messages []models.Message) (models.Completion, error) {
	content := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		content = append(content, llms.TextParts(messageType(m.Role), m.Content))
	}

	opts := []llms.CallOption{llms.WithTemperature(c.config.Temperature)}
	if c.config.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(c.config.MaxTokens))
	}

	var streamed strings.Builder
	if c.config.Streaming {
		opts = append(opts, llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			streamed.Write(chunk)
			return nil
		}))
	}

	start := time.Now()
	response, err := c.llm.GenerateContent(ctx, content, opts...)
	if err != nil {
		return models.Completion{}, fmt.Errorf("completion error: %w", err)
	}
	if response == nil || len(response.Choices) == 0 || response.Choices[0] == nil {
		return models.Completion{}, fmt.Errorf("completion error: no response from LLM")
	}

	choice := response.Choices[0]
	text := choice.Content
	if text == "" && streamed.Len() > 0 {
		text = streamed.String()
	}

	usage := usageFromInfo(choice.GenerationInfo)
	usage.Calls = 1
	usage.Latency = time.Since(start)

	return models.Completion{Text: text, Usage: usage}, nil
}

func messageType(role string) llms.ChatMessageType {
	switch role {
	case models.RoleSystem:
		return llms.ChatMessageTypeSystem
	case models.RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}

// usageFromInfo reads token counts from the provider's generation info.
// Providers disagree on the numeric type, so every common one is accepted.
func usageFromInfo(info map[string]any) models.Usage {
	var u models.Usage
	u.PromptTokens = intValue(info["PromptTokens"])
	u.CompletionTokens = intValue(info["CompletionTokens"])
	u.TotalTokens = intValue(info["TotalTokens"])
	if u.TotalTokens == 0 {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	return u
}

func intValue(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
