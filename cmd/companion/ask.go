package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pario-ai/companion/pkg/assistant"
)

// genFlags are the generation flags shared by ask and summarize.
type genFlags struct {
	stream      bool
	system      string
	model       string
	temperature float64
	maxTokens   int
	topP        float64
	output      string
}

func (f *genFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVarP(&f.stream, "stream", "s", false, "stream the answer as it is generated")
	cmd.Flags().StringVar(&f.system, "system", "", "system instruction")
	cmd.Flags().StringVarP(&f.model, "model", "m", "", "model name (default from config)")
	cmd.Flags().Float64Var(&f.temperature, "temperature", 0, "sampling temperature (default from config)")
	cmd.Flags().IntVar(&f.maxTokens, "max-tokens", 0, "maximum completion tokens (default from config)")
	cmd.Flags().Float64Var(&f.topP, "top-p", 0, "nucleus sampling probability (default from config)")
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "also save the answer as a Markdown file")
}

func (f *genFlags) request(cmd *cobra.Command) assistant.Request {
	req := assistant.Request{
		System:    f.system,
		Model:     f.model,
		MaxTokens: f.maxTokens,
		TopP:      f.topP,
	}
	if cmd.Flags().Changed("temperature") {
		temp := f.temperature
		req.Temperature = &temp
	}
	return req
}

func newAskCmd(a *app) *cobra.Command {
	var flags genFlags
	var preset string
	var memory bool

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a research question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			asst, closeFn, err := a.openAssistant()
			if err != nil {
				return err
			}
			defer closeFn()

			req := flags.request(cmd)
			req.Prompt = strings.Join(args, " ")
			req.Preset = preset
			req.Memory = memory

			out := cmd.OutOrStdout()
			var ans assistant.Answer
			if flags.stream {
				ans, err = asst.AskStream(cmd.Context(), req, newStreamPrinter(out).print)
			} else {
				ans, err = asst.Ask(cmd.Context(), req)
			}
			return flags.finish(cmd, out, ans, err)
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVarP(&preset, "preset", "p", "", "answer style preset (see 'companion presets')")
	cmd.Flags().BoolVar(&memory, "memory", false, "include recent conversation turns as context")
	return cmd
}

// finish prints the final answer and stats, then saves the answer when
// --output is set. A failed call still prints the formatted error but exits
// non-zero and writes no file.
func (f *genFlags) finish(cmd *cobra.Command, out io.Writer, ans assistant.Answer, err error) error {
	if err != nil {
		return err
	}
	if f.stream {
		fmt.Fprintln(out)
	} else {
		fmt.Fprintln(out, ans.Text)
	}
	fmt.Fprintln(cmd.ErrOrStderr(), ans.Stats)
	if ans.Err != nil {
		return fmt.Errorf("chat request failed")
	}
	if f.output == "" {
		return nil
	}
	if err := writeMarkdown(f.output, ans.Text); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Saved to: %s\n", f.output)
	return nil
}

func writeMarkdown(path, text string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, []byte(text+"\n"), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// streamPrinter writes only the newly arrived suffix of each accumulated
// text. If a value does not extend the previous one it is printed whole on
// a fresh line.
type streamPrinter struct {
	w    io.Writer
	prev string
}

func newStreamPrinter(w io.Writer) *streamPrinter {
	return &streamPrinter{w: w}
}

func (p *streamPrinter) print(text string) error {
	delta, ok := strings.CutPrefix(text, p.prev)
	if !ok {
		delta = "\n" + text
	}
	p.prev = text
	_, err := io.WriteString(p.w, delta)
	return err
}
