// Package fetch downloads web pages and reduces them to readable text for
// summarization.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/pario-ai/companion/pkg/config"
)

var urlPattern = regexp.MustCompile(`(?i)^https?://`)

// IsURL reports whether s, ignoring surrounding space, is an http(s) URL.
func IsURL(s string) bool {
	return urlPattern.MatchString(strings.TrimSpace(s))
}

// Fetcher retrieves page text over HTTP.
type Fetcher struct {
	http     *http.Client
	maxChars int
	logger   *slog.Logger
}

// New creates a Fetcher. Zero-valued fields in cfg fall back to
// config.DefaultFetch.
func New(cfg config.FetchConfig, logger *slog.Logger) *Fetcher {
	def := config.DefaultFetch()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = def.MaxChars
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		http:     &http.Client{Timeout: cfg.Timeout},
		maxChars: cfg.MaxChars,
		logger:   logger,
	}
}

// Text fetches url and returns its visible text, capped at the configured
// number of characters.
func (f *Fetcher) Text(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	resp, err := f.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("fetch %s: %s", url, resp.Status)
	}

	text, err := Extract(resp.Body)
	if err != nil {
		return "", err
	}
	if r := []rune(text); len(r) > f.maxChars {
		text = string(r[:f.maxChars])
	}
	return text, nil
}

// Source returns the text to summarize for url. When the page cannot be
// fetched it returns a note naming the URL so the model can still answer
// from context.
func (f *Fetcher) Source(ctx context.Context, url string) string {
	text, err := f.Text(ctx, url)
	if err != nil {
		f.logger.Warn("fetch url failed", "url", url, "error", err)
		return FallbackNote(url)
	}
	return text
}

// FallbackNote is the source text used when url could not be fetched.
func FallbackNote(url string) string {
	return "[Could not fetch URL content, summarizing the URL contextually instead]\nURL: " + url
}

// Extract parses an HTML document and returns its text nodes one per line,
// trimmed, with blank lines and script, style and noscript content dropped.
func Extract(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	var lines []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript:
				return
			}
		}
		if n.Type == html.TextNode {
			for line := range strings.Lines(n.Data) {
				if line = strings.TrimSpace(line); line != "" {
					lines = append(lines, line)
				}
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)
	return strings.Join(lines, "\n"), nil
}
