package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pario-ai/companion/pkg/assistant"
	"github.com/pario-ai/companion/pkg/client"
	"github.com/pario-ai/companion/pkg/config"
	"github.com/pario-ai/companion/pkg/history"
	"github.com/pario-ai/companion/pkg/logging"
	"github.com/pario-ai/companion/pkg/models"
)

// echoUpstream answers "echo: <last message>" and records every request.
type echoUpstream struct {
	mu     sync.Mutex
	reqs   []models.ChatCompletionRequest
	status int
}

func (u *echoUpstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req models.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	u.mu.Lock()
	u.reqs = append(u.reqs, req)
	status := u.status
	u.mu.Unlock()

	if status != 0 {
		http.Error(w, `{"error":{"message":"Invalid API Key"}}`, status)
		return
	}
	answer := "echo: " + req.Messages[len(req.Messages)-1].Content
	if req.Stream {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range []string{answer[:4], answer[4:]} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", part)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		return
	}
	json.NewEncoder(w).Encode(models.ChatCompletionResponse{
		Choices: []models.Choice{{Message: models.ChatMessage{Role: models.RoleAssistant, Content: answer}}},
	})
}

func (u *echoUpstream) setStatus(code int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.status = code
}

func (u *echoUpstream) last(t *testing.T) models.ChatCompletionRequest {
	t.Helper()
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.reqs) == 0 {
		t.Fatal("no upstream request")
	}
	return u.reqs[len(u.reqs)-1]
}

func newTestServer(t *testing.T, withHistory bool) (*Server, *echoUpstream) {
	t.Helper()
	up := &echoUpstream{}
	srv := httptest.NewServer(up)
	t.Cleanup(srv.Close)

	c, err := client.New(config.ClientConfig{
		APIKey:      "test-key",
		Endpoint:    srv.URL,
		MinInterval: time.Nanosecond,
	}, logging.Discard())
	if err != nil {
		t.Fatal(err)
	}

	var store history.Store
	if withHistory {
		st, err := history.New(filepath.Join(t.TempDir(), "history.db"))
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { _ = st.Close() })
		store = st
	}

	cfg := config.Default()
	a := assistant.New(c, store, cfg.Defaults, cfg.History.MemoryTurns, logging.Discard())
	return New(a, cfg.Server, logging.Discard()), up
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t, false)
	w := do(t, s, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected a generated request ID")
	}
}

func TestAsk(t *testing.T) {
	s, _ := newTestServer(t, true)
	w := do(t, s, http.MethodPost, "/v1/ask", `{"prompt":"hi"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body)
	}
	var ans struct {
		Answer string `json:"answer"`
		Stats  string `json:"stats"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &ans); err != nil {
		t.Fatal(err)
	}
	if ans.Answer != "echo: hi" || !strings.HasPrefix(ans.Stats, "~ tokens") {
		t.Errorf("unexpected answer %+v", ans)
	}
}

func TestAskBadRequests(t *testing.T) {
	s, _ := newTestServer(t, false)
	for _, body := range []string{`{"prompt":"  "}`, `not json`} {
		w := do(t, s, http.MethodPost, "/v1/ask", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("body %q: expected 400, got %d", body, w.Code)
		}
	}
}

func TestAskUpstreamFailure(t *testing.T) {
	s, up := newTestServer(t, false)
	up.setStatus(http.StatusUnauthorized)

	w := do(t, s, http.MethodPost, "/v1/ask", `{"prompt":"hi"}`)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Check your GROQ_API_KEY.") {
		t.Errorf("expected hint in answer: %s", w.Body)
	}
}

func TestAskStream(t *testing.T) {
	s, _ := newTestServer(t, true)
	w := do(t, s, http.MethodPost, "/v1/ask/stream", `{"prompt":"hi"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("unexpected content type %q", ct)
	}
	body := w.Body.String()
	if strings.Count(body, "event:message") != 2 {
		t.Errorf("expected two message events:\n%s", body)
	}
	if !strings.Contains(body, `"text":"echo: hi"`) {
		t.Errorf("expected accumulated text:\n%s", body)
	}
	if !strings.Contains(body, "event:done") || strings.Index(body, "event:done") < strings.LastIndex(body, "event:message") {
		t.Errorf("expected a trailing done event:\n%s", body)
	}
}

func TestAskStreamEmptyPrompt(t *testing.T) {
	s, _ := newTestServer(t, false)
	w := do(t, s, http.MethodPost, "/v1/ask/stream", `{"prompt":""}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestSummarize(t *testing.T) {
	s, up := newTestServer(t, false)
	w := do(t, s, http.MethodPost, "/v1/summarize", `{"text":"long article","system":"one line"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body)
	}
	req := up.last(t)
	if req.Messages[0].Content != "one line" || !strings.HasSuffix(req.Messages[1].Content, "long article") {
		t.Errorf("unexpected upstream request %+v", req.Messages)
	}
}

func TestChatCompletions(t *testing.T) {
	s, up := newTestServer(t, false)
	w := do(t, s, http.MethodPost, "/v1/chat/completions",
		`{"model":"m1","messages":[{"role":"system","content":"be brief"},{"role":"user","content":"hi"}],"temperature":0}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body)
	}
	var resp models.ChatCompletionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Object != "chat.completion" || resp.Model != "m1" || !strings.HasPrefix(resp.ID, "chatcmpl-") {
		t.Errorf("unexpected response %+v", resp)
	}
	if resp.Choices[0].Message.Content != "echo: hi" || resp.Usage == nil || resp.Usage.TotalTokens == 0 {
		t.Errorf("unexpected choice %+v", resp)
	}

	req := up.last(t)
	if req.Temperature != 0 || req.Model != "m1" {
		t.Errorf("explicit zero temperature not forwarded: %+v", req)
	}
	if req.Messages[0].Content != "be brief" {
		t.Errorf("expected system message, got %+v", req.Messages)
	}
}

func TestChatCompletionsDefaultTemperature(t *testing.T) {
	s, up := newTestServer(t, false)
	w := do(t, s, http.MethodPost, "/v1/chat/completions", `{"messages":[{"role":"user","content":"hi"}]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	defaults := config.Default().Defaults
	if req := up.last(t); req.Temperature != defaults.Temperature || req.Model != defaults.Model {
		t.Errorf("expected defaults, got %+v", req)
	}
}

func TestChatCompletionsErrors(t *testing.T) {
	s, up := newTestServer(t, false)
	w := do(t, s, http.MethodPost, "/v1/chat/completions", `{"messages":[{"role":"system","content":"x"}]}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without a user message, got %d", w.Code)
	}

	up.setStatus(http.StatusBadRequest)
	w = do(t, s, http.MethodPost, "/v1/chat/completions", `{"messages":[{"role":"user","content":"hi"}]}`)
	if w.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "upstream_error") {
		t.Errorf("expected an OpenAI-style error: %s", w.Body)
	}
}

func TestChatCompletionsStream(t *testing.T) {
	s, _ := newTestServer(t, false)
	w := do(t, s, http.MethodPost, "/v1/chat/completions",
		`{"stream":true,"messages":[{"role":"user","content":"hi"}]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var text strings.Builder
	var finish string
	var done bool
	sc := bufio.NewScanner(w.Body)
	for sc.Scan() {
		data, ok := strings.CutPrefix(sc.Text(), "data: ")
		if !ok {
			continue
		}
		if data == "[DONE]" {
			done = true
			continue
		}
		var chunk models.ChatCompletionChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			t.Fatalf("bad chunk %q: %v", data, err)
		}
		text.WriteString(chunk.Choices[0].Delta.Content)
		if chunk.Choices[0].FinishReason != nil {
			finish = *chunk.Choices[0].FinishReason
		}
	}
	if text.String() != "echo: hi" {
		t.Errorf("deltas should rebuild the answer, got %q", text.String())
	}
	if finish != "stop" || !done {
		t.Errorf("expected stop and [DONE], got finish=%q done=%v", finish, done)
	}
}

func TestHistoryRoutes(t *testing.T) {
	s, _ := newTestServer(t, true)
	do(t, s, http.MethodPost, "/v1/ask", `{"prompt":"hi"}`)

	w := do(t, s, http.MethodGet, "/v1/history", "")
	var entries []models.HistoryEntry
	if err := json.Unmarshal(w.Body.Bytes(), &entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Question != "hi" {
		t.Errorf("unexpected history %+v", entries)
	}

	w = do(t, s, http.MethodGet, "/v1/history/export?format=md", "")
	if !strings.HasPrefix(w.Body.String(), "# Research History") {
		t.Errorf("unexpected markdown export %q", w.Body)
	}
	w = do(t, s, http.MethodGet, "/v1/history/export", "")
	if !strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		t.Errorf("expected JSON export, got %q", w.Header().Get("Content-Type"))
	}
	w = do(t, s, http.MethodGet, "/v1/history/export?format=xml", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown format, got %d", w.Code)
	}

	w = do(t, s, http.MethodDelete, "/v1/history", "")
	if w.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", w.Code)
	}
	w = do(t, s, http.MethodGet, "/v1/history", "")
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("expected empty history, got %s", w.Body)
	}
}

func TestHistoryDisabled(t *testing.T) {
	s, _ := newTestServer(t, false)
	if w := do(t, s, http.MethodGet, "/v1/history", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestCacheRoutes(t *testing.T) {
	s, _ := newTestServer(t, false)
	do(t, s, http.MethodPost, "/v1/ask", `{"prompt":"hi"}`)
	do(t, s, http.MethodPost, "/v1/ask", `{"prompt":"hi"}`)

	w := do(t, s, http.MethodGet, "/v1/cache", "")
	var stats models.CacheStats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.Hits != 1 || stats.Entries != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}

	if w := do(t, s, http.MethodDelete, "/v1/cache", ""); w.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", w.Code)
	}
}

func TestListenAndServeShutdown(t *testing.T) {
	s, _ := newTestServer(t, false)
	s.listen = "127.0.0.1:0"
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.ListenAndServe(ctx) }()
	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestFlattenMessages(t *testing.T) {
	req, err := flattenMessages([]models.ChatMessage{
		{Role: models.RoleSystem, Content: "sys"},
		{Role: models.RoleUser, Content: "q1"},
		{Role: models.RoleAssistant, Content: "a1"},
		{Role: models.RoleUser, Content: "q2"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if req.System != "sys" {
		t.Errorf("unexpected system %q", req.System)
	}
	want := "Context from earlier in this conversation:\nQ: q1\nA: a1\n\nCurrent user request: q2"
	if req.Prompt != want {
		t.Errorf("unexpected prompt:\n%s", req.Prompt)
	}
}
