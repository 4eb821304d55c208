package main

import (
	"context"
	"fmt"

	"manualqa-backend/internal/app"

	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed <file.yaml>",
	Short: "Import curated facts and systems from a YAML file",
	Long: `Append the facts and systems in a seed file to the configured store.
With STORE_DRIVER=postgres the rows are inserted in one transaction; rows
are not deduplicated, so importing the same file twice duplicates them.`,
	Args: cobra.ExactArgs(1),
	RunE: runSeed,
}

func runSeed(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		seed, err := a.ImportSeed(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d facts and %d systems into %s store\n",
			len(seed.Facts), len(seed.Systems), a.Cfg.StoreDriver)
		return nil
	})
}
