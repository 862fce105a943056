// Package prompt builds the prompts and system instructions sent by the
// companion front ends.
package prompt

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/pario-ai/companion/pkg/models"
)

// DefaultSummarySystem is the system instruction used for summaries when the
// caller does not supply one.
const DefaultSummarySystem = "Summarize clearly in Markdown."

var presets = map[string]string{
	"Standard":   "",
	"Concise":    "Answer concisely with bullet points when helpful.",
	"Teacher":    "Explain like I'm new to the topic, with analogies and step-by-step reasoning.",
	"Developer":  "Use code examples where relevant and be explicit about trade-offs.",
	"Researcher": "Provide structured analysis with assumptions, evidence, and limitations.",
}

var presetOrder = []string{"Standard", "Concise", "Teacher", "Developer", "Researcher"}

// Preset returns the system instruction for a named style preset.
// Names are matched case-insensitively; unknown names yield "".
func Preset(name string) string {
	for _, n := range presetOrder {
		if strings.EqualFold(n, strings.TrimSpace(name)) {
			return presets[n]
		}
	}
	return ""
}

// PresetNames lists the available presets in display order.
func PresetNames() []string {
	return append([]string(nil), presetOrder...)
}

// WithMemory prefixes query with earlier question/answer turns. Turns with an
// empty question or answer are skipped; with no usable turns query is
// returned unchanged.
func WithMemory(query string, turns []models.HistoryEntry) string {
	var lines []string
	for _, h := range turns {
		q := strings.TrimSpace(h.Question)
		a := strings.TrimSpace(h.Answer)
		if q == "" || a == "" {
			continue
		}
		lines = append(lines, "Q: "+q, "A: "+a)
	}
	if len(lines) == 0 {
		return query
	}

	var b strings.Builder
	b.WriteString("Context from earlier in this conversation:\n")
	for _, l := range lines {
		b.WriteString(l)
		b.WriteString("\n")
	}
	b.WriteString("\nCurrent user request: ")
	b.WriteString(query)
	return b.String()
}

// SummaryPrompt wraps source text in the summarizer instruction.
func SummaryPrompt(source string) string {
	return "You are a world-class summarizer. Produce a concise, faithful summary with: " +
		"- title\n- key points\n- important quotes\n- a short TL;DR.\n\n" +
		"Content to summarize (may be HTML-extracted):\n\n" + source
}

// EstimateTokens is a rough token count assuming four characters per token.
func EstimateTokens(text string) int {
	return max(1, int(math.Round(float64(len(text))/4)))
}

// Stats renders the token estimate and elapsed time shown after an answer.
func Stats(prompt, completion string, elapsed time.Duration) string {
	total := EstimateTokens(prompt) + EstimateTokens(completion)
	return fmt.Sprintf("~ tokens (prompt+completion): %d | time: %.1fs", total, elapsed.Seconds())
}
