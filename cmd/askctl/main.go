// Command askctl is an operator tool for the manual QA backend: it runs
// single questions through the pipeline in-process, mints API tokens,
// reports vector index stats and imports fact seeds.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"manualqa-backend/internal/app"
	"manualqa-backend/internal/config"
	"manualqa-backend/internal/logger"

	"github.com/spf13/cobra"
)

var (
	verbose bool
	timeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "askctl",
	Short: "Operate the manual QA backend from the command line",
	Long: `askctl talks to the same store, LLM and vector index as the server,
configured from the same environment variables (.env is honoured).

Available subcommands:
  ask   - Answer one question and print the response
  token - Mint a bearer token for the /v1 API
  stats - Show vector index statistics
  seed  - Import curated facts and systems from a YAML file`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log pipeline progress to stderr")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "Operation timeout")

	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(seedCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(mode string) (*logger.Logger, error) {
	if !verbose {
		return logger.Nop(), nil
	}
	return logger.New(mode)
}

// withApp loads validated config, wires the pipeline and closes it after fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg.LogMode)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())
	return fn(ctx, a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
