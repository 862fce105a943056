package client

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/pario-ai/companion/pkg/config"
	"github.com/tidwall/gjson"
)

// ErrMissingAPIKey is returned by New when no credential is configured.
var ErrMissingAPIKey = errors.New("missing " + config.APIKeyEnv + ": add it to your config, a .env file or the environment")

// maxBodySnippet bounds how much of a response body ends up in error text.
const maxBodySnippet = 2048

// TransportError describes a failed POST attempt. Transient errors (timeouts,
// connection failures and retryable statuses) are retried by the client;
// everything else is returned immediately.
type TransportError struct {
	StatusCode int
	Reason     string
	Body       string
	Err        error
	Transient  bool
}

func (e *TransportError) Error() string {
	if e.StatusCode == 0 {
		return e.Err.Error()
	}
	msg := gjson.Get(e.Body, "error.message").String()
	if msg == "" {
		msg = snippet(e.Body)
	}
	return fmt.Sprintf("%d %s: %s", e.StatusCode, e.Reason, msg)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ParseError reports a response body that is not a valid completion.
type ParseError struct {
	Body string
	Err  error
}

func (e *ParseError) Error() string {
	return "parse response: " + e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// transientStatus lists the statuses worth retrying.
var transientStatus = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

func newStatusError(resp *http.Response, body []byte) *TransportError {
	reason := http.StatusText(resp.StatusCode)
	if _, after, ok := strings.Cut(resp.Status, " "); ok && after != "" {
		reason = after
	}
	return &TransportError{
		StatusCode: resp.StatusCode,
		Reason:     reason,
		Body:       string(body),
		Err:        fmt.Errorf("http status %d", resp.StatusCode),
		Transient:  transientStatus[resp.StatusCode],
	}
}

func isTransient(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Transient
}

// FormatError renders err as the diagnostic text returned to callers of Chat
// and ChatStream. It includes the body snippet and a hint keyed by status.
func FormatError(err error) string {
	var (
		status int
		body   string
	)
	var te *TransportError
	if errors.As(err, &te) {
		status, body = te.StatusCode, te.Body
	}
	var pe *ParseError
	if errors.As(err, &pe) {
		body = pe.Body
	}

	var b strings.Builder
	// A status error's message already leads with "<code> <reason>".
	fmt.Fprintf(&b, "Error communicating with the chat API: %v", err)
	if body = strings.TrimSpace(body); body != "" {
		b.WriteString("\n")
		b.WriteString(snippet(body))
	}
	if hint := hintFor(status); hint != "" {
		b.WriteString("\n")
		b.WriteString(hint)
	}
	return b.String()
}

func hintFor(status int) string {
	switch {
	case status == http.StatusBadRequest:
		return "Check the model name and ensure max_tokens > 0. Also verify the messages payload."
	case status == http.StatusUnauthorized:
		return "Check your " + config.APIKeyEnv + "."
	case transientStatus[status]:
		return "This may be transient; it was retried automatically."
	}
	return ""
}

func snippet(body string) string {
	body = strings.TrimSpace(body)
	if len(body) > maxBodySnippet {
		return body[:maxBodySnippet] + "..."
	}
	return body
}
