package mcp

import (
	"fmt"
	"strings"

	"github.com/pario-ai/companion/pkg/models"
	"github.com/pario-ai/companion/pkg/prompt"
)

// formatCacheStats formats cache stats as text.
func formatCacheStats(stats models.CacheStats) string {
	total := stats.Hits + stats.Misses
	hitRate := float64(0)
	if total > 0 {
		hitRate = float64(stats.Hits) / float64(total) * 100
	}
	return fmt.Sprintf("Cache Statistics\n"+
		"  Entries:  %d/%d\n"+
		"  Hits:     %d\n"+
		"  Misses:   %d\n"+
		"  Hit Rate: %.1f%%\n",
		stats.Entries, stats.Capacity, stats.Hits, stats.Misses, hitRate)
}

// formatPresets lists presets as a two-column table.
func formatPresets() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-12s %s\n", "Preset", "System instruction")
	b.WriteString(strings.Repeat("-", 60) + "\n")
	for _, name := range prompt.PresetNames() {
		text := prompt.Preset(name)
		if text == "" {
			text = "(none)"
		}
		fmt.Fprintf(&b, "%-12s %s\n", name, text)
	}
	return b.String()
}
