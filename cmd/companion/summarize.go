package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func newSummarizeCmd(a *app) *cobra.Command {
	var flags genFlags
	var file string

	cmd := &cobra.Command{
		Use:   "summarize [url | text]",
		Short: "Summarize a web page, or text from an argument, a file or stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := readSource(cmd, args, file)
			if err != nil {
				return err
			}

			asst, closeFn, err := a.openAssistant()
			if err != nil {
				return err
			}
			defer closeFn()

			out := cmd.OutOrStdout()
			var onText func(string) error
			if flags.stream {
				onText = newStreamPrinter(out).print
			}
			ans, err := asst.Summarize(cmd.Context(), source, flags.request(cmd), onText)
			return flags.finish(cmd, out, ans, err)
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVarP(&file, "file", "f", "", "read the text to summarize from a file")
	return cmd
}

func readSource(cmd *cobra.Command, args []string, file string) (string, error) {
	switch {
	case len(args) > 0 && file != "":
		return "", fmt.Errorf("pass text or --file, not both")
	case len(args) > 0:
		return strings.Join(args, " "), nil
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", file, err)
		}
		return string(data), nil
	default:
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
}
