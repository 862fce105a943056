package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/subosito/gotenv"

	"github.com/pario-ai/companion/pkg/assistant"
	"github.com/pario-ai/companion/pkg/client"
	"github.com/pario-ai/companion/pkg/config"
	"github.com/pario-ai/companion/pkg/fetch"
	"github.com/pario-ai/companion/pkg/history"
	"github.com/pario-ai/companion/pkg/logging"
)

// app carries the state shared by every subcommand.
type app struct {
	configPath string
	envFile    string
	noHistory  bool

	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "companion",
		Short:         "Companion: an AI research assistant for a Groq-hosted chat model",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "companion.yaml", "path to config file")
	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file with credentials")
	root.PersistentFlags().BoolVar(&a.noHistory, "no-history", false, "do not read or write the history store")

	root.AddCommand(
		newAskCmd(a),
		newSummarizeCmd(a),
		newHistoryCmd(a),
		newServeCmd(a),
		newMCPCmd(a),
		newPresetsCmd(),
	)
	return root
}

// load reads the dotenv file and config, then sets up logging.
func (a *app) load(cmd *cobra.Command) error {
	if err := gotenv.Load(a.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load env file: %w", err)
	}

	cfg, err := config.LoadOptional(a.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a.cfg = cfg

	logger, err := logging.Init(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	a.logger = logger
	return nil
}

// openStore opens the history store, or returns nil when history is off.
func (a *app) openStore() (history.Store, error) {
	if a.noHistory || a.cfg.History.DBPath == "" {
		return nil, nil
	}
	st, err := history.New(a.cfg.History.DBPath)
	if err != nil {
		return nil, fmt.Errorf("init history: %w", err)
	}
	return st, nil
}

// openAssistant builds the client and assistant. The returned close func
// releases the history store.
func (a *app) openAssistant() (*assistant.Assistant, func(), error) {
	c, err := client.New(a.cfg.Client, a.logger)
	if err != nil {
		return nil, nil, err
	}
	st, err := a.openStore()
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if st != nil {
			_ = st.Close()
		}
	}
	asst := assistant.New(c, st, a.cfg.Defaults, a.cfg.History.MemoryTurns, a.logger)
	asst.SetFetcher(fetch.New(a.cfg.Fetch, a.logger))
	return asst, closeFn, nil
}
