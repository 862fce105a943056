package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pario-ai/companion/pkg/history"
)

func newHistoryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show, clear or export the question/answer history",
	}

	withStore := func(fn func(cmd *cobra.Command, st history.Store) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			if st == nil {
				return fmt.Errorf("history is disabled")
			}
			defer func() { _ = st.Close() }()
			return fn(cmd, st)
		}
	}

	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Show recent exchanges, newest first",
		RunE: withStore(func(cmd *cobra.Command, st history.Store) error {
			entries, err := st.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), history.FormatMarkdown(entries))
			return nil
		}),
	}
	listCmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of exchanges to show")

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all saved history",
		RunE: withStore(func(cmd *cobra.Command, st history.Store) error {
			if err := st.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "History cleared.")
			return nil
		}),
	}

	var format, output string
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export the full history as JSON or Markdown",
		RunE: withStore(func(cmd *cobra.Command, st history.Store) error {
			var data []byte
			switch format {
			case "json":
				b, err := history.ExportJSON(cmd.Context(), st)
				if err != nil {
					return err
				}
				data = b
			case "md", "markdown":
				md, err := history.ExportMarkdown(cmd.Context(), st)
				if err != nil {
					return err
				}
				data = []byte(md)
			default:
				return fmt.Errorf("unsupported format %q (use json or md)", format)
			}
			data = append(data, '\n')

			if output == "" {
				_, err := cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", output, err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "History exported to %s\n", output)
			return nil
		}),
	}
	exportCmd.Flags().StringVar(&format, "format", "json", "export format: json or md")
	exportCmd.Flags().StringVarP(&output, "output", "o", "", "write to a file instead of stdout")

	cmd.AddCommand(listCmd, clearCmd, exportCmd)
	return cmd
}
