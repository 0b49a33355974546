// Package llm wraps an OpenAI-compatible chat completion service used to
// annotate geospatial results.
package llm

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/c360/geogate/health"
	"github.com/c360/geogate/metric"
)

// DefaultSystemPrompt is used when neither the caller nor the config
// supplies one.
const DefaultSystemPrompt = "You are an expert in AMap geospatial data. " +
	"Give precise location analysis and practical navigation advice."

// Completer is the enrichment operation handlers depend on. The boolean is
// false when no text is available for any reason.
type Completer interface {
	Complete(ctx context.Context, prompt, systemPrompt string) (string, bool)
}

// Config configures a Client.
type Config struct {
	BaseURL      string
	APIKey       string
	Model        string
	Temperature  float32
	MaxTokens    int
	Timeout      time.Duration
	SystemPrompt string
	HTTPClient   *http.Client
	Logger       *slog.Logger
	Metrics      *metric.Metrics
}

// Client calls CreateChatCompletion. A Client built with an empty APIKey
// is disabled and answers every call with ("", false).
type Client struct {
	client       *openai.Client
	model        string
	temperature  float32
	maxTokens    int
	timeout      time.Duration
	systemPrompt string
	logger       *slog.Logger
	metrics      *metric.Metrics
}

// New creates a Client.
func New(cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		model:        cfg.Model,
		temperature:  cfg.Temperature,
		maxTokens:    cfg.MaxTokens,
		timeout:      cfg.Timeout,
		systemPrompt: cfg.SystemPrompt,
		logger:       logger.With("component", "llm-client"),
		metrics:      cfg.Metrics,
	}
	if c.timeout <= 0 {
		c.timeout = 30 * time.Second
	}
	if c.model == "" {
		c.model = "deepseek-chat"
	}
	if c.systemPrompt == "" {
		c.systemPrompt = DefaultSystemPrompt
	}
	if cfg.APIKey == "" {
		c.logger.Warn("llm api key not set; enrichment disabled")
		return c
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		oc.HTTPClient = cfg.HTTPClient
	}
	c.client = openai.NewClientWithConfig(oc)
	return c
}

// Enabled reports whether the client has credentials.
func (c *Client) Enabled() bool { return c.client != nil }

// Complete sends prompt with systemPrompt, or the configured default when
// systemPrompt is empty, and returns the first choice.
func (c *Client) Complete(ctx context.Context, prompt, systemPrompt string) (string, bool) {
	if c.client == nil {
		return "", false
	}
	if systemPrompt == "" {
		systemPrompt = c.systemPrompt
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		c.metrics.RecordUpstream("llm", "error", time.Since(start))
		c.logger.Warn("completion failed", "error", health.SanitizeError(err.Error()))
		return "", false
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		c.metrics.RecordUpstream("llm", "empty", time.Since(start))
		c.logger.Warn("completion returned no content", "id", resp.ID)
		return "", false
	}

	c.metrics.RecordUpstream("llm", "ok", time.Since(start))
	c.logger.Debug("completion", "duration", time.Since(start), "tokens", resp.Usage.TotalTokens)
	return resp.Choices[0].Message.Content, true
}

// Disabled is a Completer that never answers.
type Disabled struct{}

// Complete implements Completer.
func (Disabled) Complete(context.Context, string, string) (string, bool) { return "", false }
