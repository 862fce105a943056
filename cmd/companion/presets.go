package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pario-ai/companion/pkg/prompt"
)

func newPresetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List the answer style presets",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, name := range prompt.PresetNames() {
				text := prompt.Preset(name)
				if text == "" {
					text = "(no system instruction)"
				}
				fmt.Fprintf(out, "%-12s %s\n", name, text)
			}
			return nil
		},
	}
}
