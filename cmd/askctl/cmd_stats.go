package main

import (
	"context"
	"fmt"
	"sort"

	"manualqa-backend/internal/app"

	"github.com/spf13/cobra"
)

var statsJSON bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show vector index statistics",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "Print raw JSON")
}

func runStats(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		stats, err := a.Searcher.Stats(ctx)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if statsJSON {
			return printJSON(out, stats)
		}
		fmt.Fprintf(out, "dimension:   %d\nvectors:     %d\nfullness:    %.4f\n",
			stats.Dimension, stats.TotalVectorCount, stats.IndexFullness)
		names := make([]string, 0, len(stats.Namespaces))
		for ns := range stats.Namespaces {
			names = append(names, ns)
		}
		sort.Strings(names)
		for _, ns := range names {
			marker := " "
			if ns == a.Cfg.Pinecone.Namespace {
				marker = "*"
			}
			fmt.Fprintf(out, "%s %-24s %d\n", marker, ns, stats.Namespaces[ns].VectorCount)
		}
		return nil
	})
}
