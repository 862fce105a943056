// Package assistant ties the chat client, prompt helpers and history store
// together into the ask and summarize flows shared by every front end.
package assistant

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pario-ai/companion/pkg/client"
	"github.com/pario-ai/companion/pkg/config"
	"github.com/pario-ai/companion/pkg/fetch"
	"github.com/pario-ai/companion/pkg/history"
	"github.com/pario-ai/companion/pkg/models"
	"github.com/pario-ai/companion/pkg/prompt"
)

var (
	// ErrEmptyPrompt is returned for a blank question.
	ErrEmptyPrompt = errors.New("please enter a valid question or topic")
	// ErrEmptySource is returned when there is nothing to summarize.
	ErrEmptySource = errors.New("please provide a URL or text to summarize")
)

const summaryLabelLen = 100

// Request is one ask or summarize call. Zero-valued generation fields fall
// back to the configured defaults.
type Request struct {
	Prompt      string   `json:"prompt"`
	System      string   `json:"system,omitempty"`
	Preset      string   `json:"preset,omitempty"`
	Memory      bool     `json:"memory,omitempty"`
	Model       string   `json:"model,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	TopP        float64  `json:"top_p,omitempty"`
}

// Answer is the outcome of a call. Failures are rendered into Text; Err
// carries the underlying error.
type Answer struct {
	Text  string `json:"answer"`
	Stats string `json:"stats"`
	Err   error  `json:"-"`
}

// Assistant serializes access to a single chat client.
type Assistant struct {
	mu          sync.Mutex
	client      *client.Client
	store       history.Store
	fetcher     *fetch.Fetcher
	defaults    config.ChatDefaults
	memoryTurns int
	logger      *slog.Logger
}

// New creates an Assistant. store may be nil to disable history.
func New(c *client.Client, store history.Store, defaults config.ChatDefaults, memoryTurns int, logger *slog.Logger) *Assistant {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assistant{
		client:      c,
		store:       store,
		fetcher:     fetch.New(config.DefaultFetch(), logger),
		defaults:    defaults,
		memoryTurns: memoryTurns,
		logger:      logger,
	}
}

// SetFetcher replaces the fetcher used for URL sources.
func (a *Assistant) SetFetcher(f *fetch.Fetcher) {
	a.fetcher = f
}

// Ask answers a question.
func (a *Assistant) Ask(ctx context.Context, req Request) (Answer, error) {
	return a.AskStream(ctx, req, nil)
}

// AskStream answers a question. When onText is non-nil the answer is
// streamed and onText receives the accumulated text after every delta;
// returning an error from onText abandons the stream.
func (a *Assistant) AskStream(ctx context.Context, req Request, onText func(string) error) (Answer, error) {
	query := strings.TrimSpace(req.Prompt)
	if query == "" {
		return Answer{}, ErrEmptyPrompt
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	opts := a.options(req)
	full := query
	if req.Memory {
		full = prompt.WithMemory(query, a.recent(ctx))
	}
	return a.run(ctx, full, query+opts.System, query, opts, onText)
}

// Summarize summarizes source, which is either text or an http(s) URL whose
// page text is fetched first. An empty system instruction selects
// prompt.DefaultSummarySystem.
func (a *Assistant) Summarize(ctx context.Context, source string, req Request, onText func(string) error) (Answer, error) {
	if strings.TrimSpace(source) == "" {
		return Answer{}, ErrEmptySource
	}
	text := source
	if fetch.IsURL(source) {
		text = a.fetcher.Source(ctx, strings.TrimSpace(source))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	userSystem := req.System
	opts := a.options(req)
	if opts.System == "" {
		opts.System = prompt.DefaultSummarySystem
	}
	full := prompt.SummaryPrompt(text)
	label := []rune(source)
	if len(label) > summaryLabelLen {
		label = label[:summaryLabelLen]
	}
	return a.run(ctx, full, full+userSystem, string(label)+"...", opts, onText)
}

// CacheStats reports the completion cache counters.
func (a *Assistant) CacheStats() models.CacheStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.client.CacheStats()
}

// ClearCache drops every cached completion.
func (a *Assistant) ClearCache() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.client.ClearCache()
}

// DefaultModel is the model used when a request does not name one.
func (a *Assistant) DefaultModel() string {
	return a.defaults.Model
}

// History returns the history store, or nil when history is disabled.
func (a *Assistant) History() history.Store {
	return a.store
}

func (a *Assistant) options(req Request) client.Options {
	opts := client.Options{
		Model:       a.defaults.Model,
		Temperature: a.defaults.Temperature,
		MaxTokens:   a.defaults.MaxTokens,
		TopP:        a.defaults.TopP,
		System:      req.System,
	}
	if req.Model != "" {
		opts.Model = req.Model
	}
	if req.Temperature != nil {
		opts.Temperature = *req.Temperature
	}
	if req.MaxTokens > 0 {
		opts.MaxTokens = req.MaxTokens
	}
	if req.TopP > 0 {
		opts.TopP = req.TopP
	}
	if opts.System == "" {
		opts.System = prompt.Preset(req.Preset)
	}
	return opts
}

func (a *Assistant) recent(ctx context.Context) []models.HistoryEntry {
	if a.store == nil || a.memoryTurns <= 0 {
		return nil
	}
	turns, err := a.store.Recent(ctx, a.memoryTurns)
	if err != nil {
		a.logger.Warn("load conversation memory", "error", err)
		return nil
	}
	return turns
}

// run sends full to the model. statsText is what the token estimate counts
// on the prompt side; question is what history records.
func (a *Assistant) run(ctx context.Context, full, statsText, question string, opts client.Options, onText func(string) error) (Answer, error) {
	start := time.Now()
	var text string
	var err error
	if onText == nil {
		text, err = a.client.Complete(ctx, full, opts)
		if err != nil {
			text = client.FormatError(err)
		}
	} else {
		text, err = a.stream(ctx, full, opts, onText)
	}
	elapsed := time.Since(start)

	ans := Answer{Text: text, Stats: prompt.Stats(statsText, text, elapsed), Err: err}
	if err != nil {
		a.logger.Error("chat failed", "model", opts.Model, "error", err)
		return ans, nil
	}
	a.record(ctx, models.HistoryEntry{
		Question:         question,
		Answer:           text,
		Model:            opts.Model,
		PromptTokens:     prompt.EstimateTokens(statsText),
		CompletionTokens: prompt.EstimateTokens(text),
		LatencyMs:        elapsed.Milliseconds(),
	})
	return ans, nil
}

func (a *Assistant) stream(ctx context.Context, full string, opts client.Options, onText func(string) error) (string, error) {
	s := a.client.ChatStream(ctx, full, opts)
	defer s.Close()

	var text string
	for s.Next() {
		text = s.Text()
		if err := onText(text); err != nil {
			return text, err
		}
	}
	if err := s.Err(); err != nil {
		return text, err
	}
	return text, nil
}

func (a *Assistant) record(ctx context.Context, entry models.HistoryEntry) {
	if a.store == nil {
		return
	}
	if _, err := a.store.Log(ctx, entry); err != nil {
		a.logger.Warn("log history", "error", err)
	}
}
