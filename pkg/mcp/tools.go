package mcp

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/pario-ai/companion/pkg/assistant"
	"github.com/pario-ai/companion/pkg/history"
	"github.com/pario-ai/companion/pkg/prompt"
)

const defaultHistoryLimit = 10

// Tool argument structs.

type askArgs struct {
	Prompt string `json:"prompt"`
	System string `json:"system"`
	Preset string `json:"preset"`
	Memory bool   `json:"memory"`
	Model  string `json:"model"`
}

type summarizeArgs struct {
	Text   string `json:"text"`
	System string `json:"system"`
}

type historyArgs struct {
	Limit  int    `json:"limit"`
	Format string `json:"format"`
}

// toolHandler is a function that handles a tool call.
type toolHandler func(ctx context.Context, s *Server, args json.RawMessage) ToolCallResult

// toolHandlers maps tool names to their handlers.
var toolHandlers = map[string]toolHandler{
	"companion_ask":         handleAsk,
	"companion_summarize":   handleSummarize,
	"companion_history":     handleHistory,
	"companion_cache_stats": handleCacheStats,
	"companion_presets":     handlePresets,
}

// allTools is the list of tool definitions exposed via tools/list.
var allTools = []ToolDefinition{
	{
		Name:        "companion_ask",
		Description: "Ask the research companion a question and return its answer.",
		InputSchema: InputSchema{
			Type:     "object",
			Required: []string{"prompt"},
			Properties: map[string]Property{
				"prompt": {Type: "string", Description: "The question or topic"},
				"system": {Type: "string", Description: "System instruction (optional, overrides preset)"},
				"preset": {Type: "string", Description: "Answer style preset (optional)", Enum: prompt.PresetNames()},
				"memory": {Type: "boolean", Description: "Include recent conversation turns as context (optional)"},
				"model":  {Type: "string", Description: "Model name (optional)"},
			},
		},
	},
	{
		Name:        "companion_summarize",
		Description: "Summarize a web page URL or a block of text into a title, key points, quotes and a TL;DR.",
		InputSchema: InputSchema{
			Type:     "object",
			Required: []string{"text"},
			Properties: map[string]Property{
				"text":   {Type: "string", Description: "An http(s) URL or the text to summarize"},
				"system": {Type: "string", Description: "Summarizer instruction (optional)"},
			},
		},
	},
	{
		Name:        "companion_history",
		Description: "Show recent questions and answers.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"limit":  {Type: "integer", Description: "Number of recent exchanges (optional, default 10)"},
				"format": {Type: "string", Description: "Output format (optional, default md)", Enum: []string{"md", "json"}},
			},
		},
	},
	{
		Name:        "companion_cache_stats",
		Description: "Show completion cache statistics (entries, capacity, hits, misses, hit rate).",
		InputSchema: InputSchema{Type: "object", Properties: map[string]Property{}},
	},
	{
		Name:        "companion_presets",
		Description: "List the answer style presets and their system instructions.",
		InputSchema: InputSchema{Type: "object", Properties: map[string]Property{}},
	},
}

func textResult(text string) ToolCallResult {
	return ToolCallResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
	}
}

func errorResult(text string) ToolCallResult {
	return ToolCallResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
		IsError: true,
	}
}

func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.New("invalid arguments: " + err.Error())
	}
	return nil
}

func handleAsk(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	var args askArgs
	if err := decodeArgs(rawArgs, &args); err != nil {
		return errorResult(err.Error())
	}
	ans, err := s.assistant.Ask(ctx, assistant.Request{
		Prompt: args.Prompt,
		System: args.System,
		Preset: args.Preset,
		Memory: args.Memory,
		Model:  args.Model,
	})
	return answerResult(ans, err)
}

func handleSummarize(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	var args summarizeArgs
	if err := decodeArgs(rawArgs, &args); err != nil {
		return errorResult(err.Error())
	}
	ans, err := s.assistant.Summarize(ctx, args.Text, assistant.Request{System: args.System}, nil)
	return answerResult(ans, err)
}

func answerResult(ans assistant.Answer, err error) ToolCallResult {
	if err != nil {
		return errorResult(err.Error())
	}
	if ans.Err != nil {
		return errorResult(ans.Text)
	}
	return textResult(ans.Text + "\n\n" + ans.Stats)
}

func handleHistory(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	store := s.assistant.History()
	if store == nil {
		return textResult("History is not configured.")
	}
	args := historyArgs{Limit: defaultHistoryLimit, Format: "md"}
	if err := decodeArgs(rawArgs, &args); err != nil {
		return errorResult(err.Error())
	}
	if args.Limit <= 0 {
		args.Limit = defaultHistoryLimit
	}

	entries, err := store.Recent(ctx, args.Limit)
	if err != nil {
		return errorResult("Error fetching history: " + err.Error())
	}
	switch args.Format {
	case "json":
		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return errorResult("Error encoding history: " + err.Error())
		}
		return textResult(string(data))
	case "md", "":
		return textResult(history.FormatMarkdown(entries))
	default:
		return errorResult("Unsupported format: " + args.Format)
	}
}

func handleCacheStats(_ context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	return textResult(formatCacheStats(s.assistant.CacheStats()))
}

func handlePresets(_ context.Context, _ *Server, _ json.RawMessage) ToolCallResult {
	return textResult(formatPresets())
}
