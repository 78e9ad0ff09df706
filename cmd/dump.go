package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/agentic-research/graphmaster/internal/graph"
	"github.com/spf13/cobra"
)

var (
	dumpOutput string
	dumpLoad   string
)

func init() {
	dumpCmd.Flags().StringVarP(&dumpOutput, "output", "o", "", "Write the dump to a file instead of stdout")
	dumpCmd.Flags().StringVar(&dumpLoad, "load", "", "Load a previous dump instead of the configured rule files")
	rootCmd.AddCommand(dumpCmd)
}

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Write every stored category as markup that can be loaded back",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()

		ctx := cmd.Context()
		if dumpLoad != "" {
			f, err := os.Open(dumpLoad)
			if err != nil {
				return err
			}
			n, err := graph.LoadDump(ctx, s.hot, f, dumpLoad)
			_ = f.Close()
			if err != nil {
				return fmt.Errorf("load dump: %w", err)
			}
			s.logger.Info("Loaded dump", slog.String("path", dumpLoad), slog.Int("categories", n))
		} else if _, err := s.engine.LoadAll(ctx); err != nil {
			s.logger.Warn("Some rule files failed to load", slog.String("error", err.Error()))
		}

		if dumpOutput == "" {
			return s.hot.Dump(ctx, cmd.OutOrStdout())
		}
		f, err := os.Create(dumpOutput)
		if err != nil {
			return err
		}
		if err := s.hot.Dump(ctx, f); err != nil {
			_ = f.Close()
			return err
		}
		return f.Close()
	},
}
