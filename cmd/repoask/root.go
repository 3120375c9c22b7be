package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dshills/repoask/internal/config"
	"github.com/dshills/repoask/internal/logging"
	"github.com/dshills/repoask/internal/rag"
)

// app carries state shared by subcommands after the root pre-run loads it
type app struct {
	configPath string
	logLevel   string

	cfg      *config.Config
	logger   *slog.Logger
	closeLog func()
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "repoask",
		Short:         "Ask questions about GitHub repositories, answered from their source",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.closeLog != nil {
				a.closeLog()
			}
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default ./"+config.DefaultPath+" if present)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(
		newServeCmd(a),
		newMCPCmd(a),
		newIndexCmd(a),
		newAskCmd(a),
		newReposCmd(a),
		newVersionCmd(),
	)
	return root
}

// load reads configuration and sets up logging. Logs always go to stderr;
// stdout belongs to command output and the MCP protocol.
func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}

	logger, closeLog, err := logging.Setup(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	slog.SetDefault(logger)

	a.cfg = cfg
	a.logger = logger
	a.closeLog = closeLog
	return nil
}

// service wires the full pipeline from the loaded configuration
func (a *app) service() (*rag.Service, error) {
	svc, err := rag.Build(a.cfg, a.logger)
	if err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}
	return svc, nil
}
