package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// OpenAIProvider completes ai-analysis prompts against any OpenAI-compatible
// chat completion API (OpenAI, LocalAI, vLLM, Ollama's /v1 endpoint).
type OpenAIProvider struct {
	client *openai.Client
	logger *slog.Logger
}

// OpenAIConfig configures the provider.
type OpenAIConfig struct {
	// BaseURL of the API, e.g. "https://api.openai.com/v1".
	BaseURL string

	// APIKey for authentication. Optional for local services.
	APIKey string

	// Timeout bounds each HTTP request (default: 30s). The dispatcher's
	// per-action timeout applies on top of this.
	Timeout time.Duration

	Logger *slog.Logger
}

// NewOpenAIProvider creates a provider.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base_url is required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = "unused" // local services accept any key
	}

	config := openai.DefaultConfig(apiKey)
	config.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	config.HTTPClient = &http.Client{Timeout: timeout}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(config),
		logger: logger,
	}, nil
}

// Complete sends prompt as a single user message and returns the first
// choice's content. Rate limits, 5xx responses and network errors are
// reported as transient.
func (p *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	chat := openai.ChatCompletionRequest{
		Model: req.ModelID,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
	}
	if req.MaxTokens > 0 {
		chat.MaxTokens = req.MaxTokens
	}

	resp, err := p.client.CreateChatCompletion(ctx, chat)
	if err != nil {
		if retryableAIError(err) {
			return "", Transient(fmt.Errorf("chat completion: %w", err))
		}
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion: no choices returned")
	}

	p.logger.Debug("ai completion",
		"model", resp.Model,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens)

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func retryableAIError(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
