// Package mcp serves the companion as Model Context Protocol tools over
// newline-delimited JSON-RPC 2.0.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"

	"github.com/pario-ai/companion/pkg/assistant"
	"github.com/pario-ai/companion/pkg/history"
	"github.com/pario-ai/companion/pkg/models"
)

const maxMessage = 1024 * 1024

// Assistant is the part of *assistant.Assistant the tools use.
type Assistant interface {
	Ask(ctx context.Context, req assistant.Request) (assistant.Answer, error)
	Summarize(ctx context.Context, source string, req assistant.Request, onText func(string) error) (assistant.Answer, error)
	CacheStats() models.CacheStats
	History() history.Store
}

// Server answers MCP requests one line at a time. Requests are handled in
// order; a slow tool call delays the ones behind it.
type Server struct {
	assistant Assistant
	version   string
	logger    *slog.Logger
}

// New creates a Server reporting version in its initialize response.
func New(a Assistant, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{assistant: a, version: version, logger: logger}
}

// Run serves requests from r until r is exhausted or ctx is cancelled.
// Notifications get no reply.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxMessage)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if resp := s.handle(ctx, line); resp != nil {
			s.send(w, resp)
		}
	}
	return scanner.Err()
}

func (s *Server) handle(ctx context.Context, line []byte) *Response {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return failure(nil, CodeParseError, "parse error")
	}
	if req.JSONRPC != "2.0" {
		return failure(req.ID, CodeInvalidRequest, `jsonrpc must be "2.0"`)
	}

	s.logger.Debug("mcp request", "method", req.Method)
	switch req.Method {
	case "initialize":
		return success(req.ID, InitializeResult{
			ProtocolVersion: ProtocolVersion,
			ServerInfo:      ServerInfo{Name: "companion", Version: s.version},
			Capabilities:    map[string]any{"tools": map[string]any{}},
		})
	case "notifications/initialized":
		return nil
	case "ping":
		return success(req.ID, map[string]any{})
	case "tools/list":
		return success(req.ID, ToolsListResult{Tools: allTools})
	case "tools/call":
		var params ToolCallParams
		if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
			return failure(req.ID, CodeInvalidParams, "invalid params")
		}
		return success(req.ID, s.callTool(ctx, params))
	}
	return failure(req.ID, CodeMethodNotFound, "unknown method: "+req.Method)
}

func (s *Server) callTool(ctx context.Context, params ToolCallParams) ToolCallResult {
	handler, ok := toolHandlers[params.Name]
	if !ok {
		return errorResult("unknown tool: " + params.Name)
	}
	return handler(ctx, s, params.Arguments)
}

func (s *Server) send(w io.Writer, resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("mcp marshal response", "error", err)
		return
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		s.logger.Error("mcp write response", "error", err)
	}
}

func success(id json.RawMessage, result any) *Response {
	return &Response{JSONRPC: "2.0", ID: id, Result: result}
}

func failure(id json.RawMessage, code int, msg string) *Response {
	return &Response{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: code, Message: msg}}
}
