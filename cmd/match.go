package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
)

var (
	matchThat   string
	matchTopic  string
	matchBot    string
	matchReload bool
)

func init() {
	matchCmd.Flags().StringVar(&matchThat, "that", "", "Prior bot output")
	matchCmd.Flags().StringVar(&matchTopic, "topic", "", "Active topic")
	matchCmd.Flags().StringVarP(&matchBot, "bot", "b", "", "Bot id (default: first configured bot)")
	matchCmd.Flags().BoolVar(&matchReload, "reload", false, "Drop persisted content and load every rule file again")
	rootCmd.AddCommand(matchCmd)
}

var matchCmd = &cobra.Command{
	Use:   "match [input...]",
	Short: "Load the configured rule files and print the best match for input",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()

		botID, err := s.defaultBot(matchBot)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		if matchReload {
			_, err = s.engine.Reload(ctx)
		} else {
			_, err = s.engine.LoadAll(ctx)
		}
		if err != nil {
			s.logger.Warn("Some rule files failed to load", slog.String("error", err.Error()))
		}

		m, err := s.engine.Match(ctx, strings.Join(args, " "), matchThat, matchTopic, botID)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if m == nil {
			fmt.Fprintln(out, "no match")
			return nil
		}
		fmt.Fprintf(out, "path:     %s\n", m.Path)
		fmt.Fprintf(out, "sources:  %s\n", strings.Join(m.Sources, ", "))
		printStars(out, "star", m.InputStars)
		printStars(out, "thatstar", m.ThatStars)
		printStars(out, "topicstar", m.TopicStars)
		fmt.Fprintf(out, "template: %s\n", m.Template)
		return nil
	},
}

func printStars(w io.Writer, name string, stars []string) {
	for i, s := range stars {
		fmt.Fprintf(w, "%s[%d]: %s\n", name, i+1, s)
	}
}
