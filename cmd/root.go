package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/agentic-research/graphmaster/internal/config"
	"github.com/agentic-research/graphmaster/internal/graph"
	"github.com/agentic-research/graphmaster/internal/ingest"
	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool
	jsonLogs   bool
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (default: user and project config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log at debug level")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "Log as JSON")
}

var rootCmd = &cobra.Command{
	Use:          "graphmaster",
	Short:        "Graphmaster: wildcard category graph for rule-based bots",
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		opts := &slog.HandlerOptions{Level: slog.LevelInfo}
		if verbose {
			opts.Level = slog.LevelDebug
		}
		var h slog.Handler = slog.NewTextHandler(os.Stderr, opts)
		if jsonLogs {
			h = slog.NewJSONHandler(os.Stderr, opts)
		}
		slog.SetDefault(slog.New(h))
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// session is the loaded configuration with an engine serving it.
type session struct {
	cfg    *config.Config
	hot    *graph.HotSwapGraph
	engine *ingest.Engine
	logger *slog.Logger
}

func openSession() (*session, error) {
	logger := slog.Default()
	cfg, err := config.NewLoader(logger).Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	bots, err := ingest.NewRegistry(cfg, logger)
	if err != nil {
		return nil, err
	}
	g, err := cfg.OpenGraph(bots, logger)
	if err != nil {
		return nil, fmt.Errorf("open graph: %w", err)
	}
	hot := graph.NewHotSwapGraph(g)
	return &session{
		cfg:    cfg,
		hot:    hot,
		engine: ingest.NewEngine(hot, bots, cfg, logger),
		logger: logger,
	}, nil
}

func (s *session) Close() error {
	return s.hot.Close()
}

// defaultBot is the bot lookups go to when none is named.
func (s *session) defaultBot(name string) (string, error) {
	if name != "" {
		return name, nil
	}
	if len(s.cfg.Bots) == 0 {
		return "", fmt.Errorf("no bots configured")
	}
	return s.cfg.Bots[0].ID, nil
}
