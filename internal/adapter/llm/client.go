// Package llm wraps an OpenAI-compatible chat completion API for structured
// extraction.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/cprunner/park-events-etl/internal/observability"
)

var (
	// ErrNoCredential is returned when no API key is configured.
	ErrNoCredential = errors.New("no chat completion credential configured")
	// ErrEmptyCompletion is returned when the service answers without content.
	ErrEmptyCompletion = errors.New("empty chat completion")
	// ErrNoEvents is returned when a completion holds no parseable event objects.
	ErrNoEvents = errors.New("no events in completion")
)

const (
	temperature = 0.2
	maxTokens   = 8000
)

// Options configures a Client.
type Options struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// Client sends system+user prompts and returns the assistant's reply.
type Client struct {
	api     *goopenai.Client
	model   string
	enabled bool
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewClient creates a Client. With an empty APIKey the client is disabled and
// Complete returns ErrNoCredential without any network traffic.
func NewClient(opts Options, metrics *observability.Metrics, logger *slog.Logger) *Client {
	cfg := goopenai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	cfg.HTTPClient = &http.Client{Timeout: opts.Timeout}

	return &Client{
		api:     goopenai.NewClientWithConfig(cfg),
		model:   opts.Model,
		enabled: strings.TrimSpace(opts.APIKey) != "",
		metrics: metrics,
		logger:  logger,
	}
}

// Enabled reports whether a credential is configured.
func (c *Client) Enabled() bool {
	return c != nil && c.enabled
}

// Complete runs one low-temperature chat completion.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	if !c.Enabled() {
		return "", ErrNoCredential
	}

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model: c.model,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: system},
			{Role: goopenai.ChatMessageRoleUser, Content: user},
		},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		c.metrics.LLMRequests.WithLabelValues("error").Inc()
		return "", fmt.Errorf("chat completion: %w", err)
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		c.metrics.LLMRequests.WithLabelValues("empty").Inc()
		return "", ErrEmptyCompletion
	}

	c.metrics.LLMRequests.WithLabelValues("success").Inc()
	c.logger.Debug("chat completion",
		"model", c.model,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"duration", time.Since(start),
	)
	return resp.Choices[0].Message.Content, nil
}
