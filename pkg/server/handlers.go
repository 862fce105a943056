package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pario-ai/companion/pkg/assistant"
	"github.com/pario-ai/companion/pkg/history"
)

type summarizeRequest struct {
	Text string `json:"text"`
	assistant.Request
}

func (s *Server) handleAsk(c *gin.Context) {
	var req assistant.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	ans, err := s.assistant.Ask(c.Request.Context(), req)
	s.writeAnswer(c, ans, err)
}

func (s *Server) handleSummarize(c *gin.Context) {
	var req summarizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	ans, err := s.assistant.Summarize(c.Request.Context(), req.Text, req.Request, nil)
	s.writeAnswer(c, ans, err)
}

func (s *Server) writeAnswer(c *gin.Context, ans assistant.Answer, err error) {
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	status := http.StatusOK
	if ans.Err != nil {
		status = http.StatusBadGateway
	}
	c.JSON(status, ans)
}

// handleAskStream sends "message" events carrying the accumulated answer,
// then a single "done" event with the stats line.
func (s *Server) handleAskStream(c *gin.Context) {
	var req assistant.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}

	ctx := c.Request.Context()
	started := false
	ans, err := s.assistant.AskStream(ctx, req, func(text string) error {
		if !started {
			started = true
			setSSEHeaders(c)
		}
		c.SSEvent("message", gin.H{"text": text})
		c.Writer.Flush()
		return ctx.Err()
	})
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	if ctx.Err() != nil {
		return
	}
	if !started {
		setSSEHeaders(c)
	}
	done := gin.H{"stats": ans.Stats}
	if ans.Err != nil {
		done["error"] = ans.Err.Error()
	}
	c.SSEvent("done", done)
	c.Writer.Flush()
}

func setSSEHeaders(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
}

func (s *Server) store(c *gin.Context) history.Store {
	st := s.assistant.History()
	if st == nil {
		writeError(c, http.StatusNotFound, "history is disabled")
	}
	return st
}

func (s *Server) handleHistoryList(c *gin.Context) {
	st := s.store(c)
	if st == nil {
		return
	}
	entries, err := st.List(c.Request.Context())
	if err != nil {
		writeError(c, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		c.JSON(http.StatusOK, []any{})
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (s *Server) handleHistoryClear(c *gin.Context) {
	st := s.store(c)
	if st == nil {
		return
	}
	if err := st.Clear(c.Request.Context()); err != nil {
		writeError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleHistoryExport(c *gin.Context) {
	st := s.store(c)
	if st == nil {
		return
	}
	ctx := c.Request.Context()
	switch format := c.DefaultQuery("format", "json"); format {
	case "json":
		data, err := history.ExportJSON(ctx, st)
		if err != nil {
			writeError(c, http.StatusInternalServerError, err.Error())
			return
		}
		c.Header("Content-Disposition", `attachment; filename="history.json"`)
		c.Data(http.StatusOK, "application/json; charset=utf-8", data)
	case "md", "markdown":
		md, err := history.ExportMarkdown(ctx, st)
		if err != nil {
			writeError(c, http.StatusInternalServerError, err.Error())
			return
		}
		c.Header("Content-Disposition", `attachment; filename="history.md"`)
		c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(md))
	default:
		writeError(c, http.StatusBadRequest, "unsupported format: "+format)
	}
}

func (s *Server) handleCacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.assistant.CacheStats())
}

func (s *Server) handleCacheClear(c *gin.Context) {
	s.assistant.ClearCache()
	c.Status(http.StatusNoContent)
}
