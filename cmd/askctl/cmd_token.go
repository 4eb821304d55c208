package main

import (
	"fmt"
	"time"

	"manualqa-backend/internal/auth"
	"manualqa-backend/internal/config"
	"manualqa-backend/internal/models"

	"github.com/spf13/cobra"
)

var (
	tokenTTL  time.Duration
	tokenJSON bool
)

var tokenCmd = &cobra.Command{
	Use:   "token <subject>",
	Short: "Mint a bearer token for the /v1 API",
	Long: `Sign an HS256 access token with JWT_SECRET. Only the JWT settings are
read, so this works without LLM or vector index credentials.`,
	Args: cobra.ExactArgs(1),
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "Token lifetime (0 uses JWT_EXPIRATION_HOURS)")
	tokenCmd.Flags().BoolVar(&tokenJSON, "json", false, "Print {\"access_token\": ...}")
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	ttl := tokenTTL
	if ttl <= 0 {
		ttl = cfg.TokenExpiration
	}
	tok, err := auth.NewAccessToken(args[0], cfg.JWTSecret, ttl)
	if err != nil {
		return err
	}
	if tokenJSON {
		return printJSON(cmd.OutOrStdout(), models.TokenResponse{AccessToken: tok})
	}
	fmt.Fprintln(cmd.OutOrStdout(), tok)
	return nil
}
