package cmd

import (
	"fmt"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(sourcesCmd)
}

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List the loaded rule files with the bots using them and their node counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()

		ctx := cmd.Context()
		if _, err := s.engine.LoadAll(ctx); err != nil {
			s.logger.Warn("Some rule files failed to load", slog.String("error", err.Error()))
		}
		counts, err := s.hot.SourceNodeCounts(ctx)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SOURCE\tNODES\tBOTS")
		for _, src := range s.hot.Sources() {
			var bots []string
			for _, b := range s.engine.Bots.LoadersOf(src) {
				bots = append(bots, b.ID)
			}
			fmt.Fprintf(tw, "%s\t%d\t%v\n", src, counts[src], bots)
		}
		return tw.Flush()
	},
}
