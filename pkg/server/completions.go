package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/pario-ai/companion/pkg/assistant"
	"github.com/pario-ai/companion/pkg/models"
	"github.com/pario-ai/companion/pkg/prompt"
)

// handleChatCompletions serves an OpenAI-compatible endpoint backed by the
// companion client.
func (s *Server) handleChatCompletions(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		writeOpenAIError(c, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}
	var in models.ChatCompletionRequest
	if err := json.Unmarshal(body, &in); err != nil {
		writeOpenAIError(c, http.StatusBadRequest, "invalid_request_error", "invalid JSON body")
		return
	}
	req, err := flattenMessages(in.Messages)
	if err != nil {
		writeOpenAIError(c, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}
	req.Model = in.Model
	req.MaxTokens = in.MaxTokens
	req.TopP = in.TopP
	// Only an absent temperature falls back to the default.
	if gjson.GetBytes(body, "temperature").Exists() {
		temp := in.Temperature
		req.Temperature = &temp
	}

	id := "chatcmpl-" + uuid.NewString()
	if in.Stream {
		s.streamCompletion(c, id, req)
		return
	}

	ans, err := s.assistant.Ask(c.Request.Context(), req)
	if err != nil {
		writeOpenAIError(c, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}
	if ans.Err != nil {
		writeOpenAIError(c, http.StatusBadGateway, "upstream_error", ans.Text)
		return
	}
	promptTokens := prompt.EstimateTokens(req.System + req.Prompt)
	completionTokens := prompt.EstimateTokens(ans.Text)
	c.JSON(http.StatusOK, models.ChatCompletionResponse{
		ID:      id,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   s.modelName(req.Model),
		Choices: []models.Choice{{
			Message:      models.ChatMessage{Role: models.RoleAssistant, Content: ans.Text},
			FinishReason: "stop",
		}},
		Usage: &models.Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
	})
}

func (s *Server) streamCompletion(c *gin.Context, id string, req assistant.Request) {
	ctx := c.Request.Context()
	model := s.modelName(req.Model)
	var sent string
	started := false

	ans, err := s.assistant.AskStream(ctx, req, func(text string) error {
		if !started {
			started = true
			setSSEHeaders(c)
		}
		delta, ok := strings.CutPrefix(text, sent)
		if !ok {
			delta = text
		}
		sent = text
		writeChunk(c, models.ChatCompletionChunk{
			ID:      id,
			Model:   model,
			Choices: []models.ChunkChoice{{Delta: models.ChatMessage{Role: models.RoleAssistant, Content: delta}}},
		})
		return ctx.Err()
	})
	if err != nil {
		writeOpenAIError(c, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}
	if ctx.Err() != nil {
		return
	}
	if !started {
		setSSEHeaders(c)
	}
	reason := "stop"
	if ans.Err != nil {
		reason = "error"
	}
	writeChunk(c, models.ChatCompletionChunk{
		ID:      id,
		Model:   model,
		Choices: []models.ChunkChoice{{FinishReason: &reason}},
	})
	fmt.Fprint(c.Writer, "data: [DONE]\n\n")
	c.Writer.Flush()
}

func writeChunk(c *gin.Context, chunk models.ChatCompletionChunk) {
	data, err := json.Marshal(chunk)
	if err != nil {
		return
	}
	fmt.Fprintf(c.Writer, "data: %s\n\n", data)
	c.Writer.Flush()
}

// flattenMessages turns a chat transcript into a single prompt. System
// messages become the system instruction; earlier user/assistant pairs are
// folded in as conversation context ahead of the final user message.
func flattenMessages(msgs []models.ChatMessage) (assistant.Request, error) {
	var req assistant.Request
	var systems []string
	var turns []models.HistoryEntry
	var pending string
	last := -1
	for i, m := range msgs {
		switch m.Role {
		case models.RoleSystem:
			systems = append(systems, m.Content)
		case models.RoleUser:
			last = i
		}
	}
	if last < 0 {
		return req, fmt.Errorf("messages must include a user message")
	}
	for _, m := range msgs[:last] {
		switch m.Role {
		case models.RoleUser:
			pending = m.Content
		case models.RoleAssistant:
			turns = append(turns, models.HistoryEntry{Question: pending, Answer: m.Content})
			pending = ""
		}
	}
	req.System = strings.Join(systems, "\n\n")
	req.Prompt = prompt.WithMemory(msgs[last].Content, turns)
	return req, nil
}

func (s *Server) modelName(model string) string {
	if model == "" {
		return s.assistant.DefaultModel()
	}
	return model
}

func writeOpenAIError(c *gin.Context, status int, typ, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": gin.H{"message": msg, "type": typ}})
}
