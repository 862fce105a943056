// Package client is a resilient client for an OpenAI-compatible chat
// completions endpoint. It spaces outbound calls, retries transient failures,
// caches completions in memory and accumulates streamed deltas.
//
// A Client is not safe for concurrent use. Callers that share one across
// goroutines must serialize calls to Chat, Complete and ChatStream.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/pario-ai/companion/pkg/cache/lru"
	"github.com/pario-ai/companion/pkg/config"
	"github.com/pario-ai/companion/pkg/models"
)

// DefaultModel is used when Options.Model is empty.
const DefaultModel = "llama-3.1-8b-instant"

// Options are the per-call generation parameters.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int
	TopP        float64
	// System is an optional system instruction sent before the prompt.
	System string
}

// DefaultOptions returns the generation parameters used when a caller sets none.
func DefaultOptions() Options {
	return Options{
		Model:       DefaultModel,
		Temperature: 0.7,
		MaxTokens:   512,
		TopP:        1.0,
	}
}

// Client talks to the chat completions endpoint.
type Client struct {
	apiKey      string
	endpoint    string
	http        *http.Client
	timeout     time.Duration
	maxRetries  int
	backoffBase float64
	limiter     *spacer
	cache       *lru.Cache
	logger      *slog.Logger
	sleep       func(context.Context, time.Duration) error
}

// New creates a Client. Zero-valued fields in cfg fall back to
// config.DefaultClient. The API key falls back to the GROQ_API_KEY
// environment variable; if neither is set New returns ErrMissingAPIKey.
func New(cfg config.ClientConfig, logger *slog.Logger) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		apiKey = strings.TrimSpace(os.Getenv(config.APIKeyEnv))
	}
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	def := config.DefaultClient()
	if cfg.Endpoint == "" {
		cfg.Endpoint = def.Endpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxRetries == nil || *cfg.MaxRetries < 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = def.BackoffBase
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = def.MinInterval
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = def.CacheSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		apiKey:      apiKey,
		endpoint:    cfg.Endpoint,
		http:        &http.Client{},
		timeout:     cfg.Timeout,
		maxRetries:  *cfg.MaxRetries,
		backoffBase: cfg.BackoffBase,
		limiter: &spacer{
			interval: cfg.MinInterval,
			now:      time.Now,
			sleep:    sleepContext,
		},
		cache:  lru.New(cfg.CacheSize),
		logger: logger,
		sleep:  sleepContext,
	}, nil
}

// Chat returns the completion for prompt. It never fails: any error is
// rendered with FormatError and returned in place of the completion.
func (c *Client) Chat(ctx context.Context, prompt string, opts Options) string {
	out, err := c.Complete(ctx, prompt, opts)
	if err != nil {
		c.logger.Error("chat completion failed", "model", opts.Model, "error", err)
		return FormatError(err)
	}
	return out
}

// Complete is Chat with the error returned instead of formatted.
// Identical normalized requests are served from the cache without touching
// the network or the rate limiter.
func (c *Client) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	req := buildRequest(prompt, opts, false)
	key := lru.Key(lru.KeyFields{
		Model:       req.Model,
		System:      opts.System,
		Prompt:      prompt,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		TopP:        req.TopP,
	})
	if out, ok := c.cache.Get(key); ok {
		c.logger.Debug("chat cache hit", "model", req.Model)
		return out, nil
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	start := time.Now()
	resp, err := c.post(ctx, payload, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	out, err := parseCompletion(body)
	if err != nil {
		return "", err
	}

	c.cache.Put(key, out)
	c.logger.Debug("chat completion",
		"model", req.Model, "latency_ms", time.Since(start).Milliseconds(), "chars", len(out))
	return out, nil
}

// CacheStats reports the completion cache counters.
func (c *Client) CacheStats() models.CacheStats {
	return c.cache.Stats()
}

// ClearCache drops every cached completion.
func (c *Client) ClearCache() {
	c.cache.Clear()
}

// buildRequest assembles the wire request: the optional system message first,
// then the user prompt, with max_tokens clamped to at least one.
func buildRequest(prompt string, opts Options, stream bool) models.ChatCompletionRequest {
	model := opts.Model
	if model == "" {
		model = DefaultModel
	}

	messages := make([]models.ChatMessage, 0, 2)
	if opts.System != "" {
		messages = append(messages, models.ChatMessage{Role: models.RoleSystem, Content: opts.System})
	}
	messages = append(messages, models.ChatMessage{Role: models.RoleUser, Content: prompt})

	return models.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: opts.Temperature,
		MaxTokens:   max(1, opts.MaxTokens),
		TopP:        opts.TopP,
		Stream:      stream,
	}
}

func parseCompletion(body []byte) (string, error) {
	var resp models.ChatCompletionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", &ParseError{Body: string(body), Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &ParseError{Body: string(body), Err: fmt.Errorf("response has no choices")}
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
