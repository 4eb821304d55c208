package main

import (
	"context"
	"fmt"
	"strings"

	"manualqa-backend/internal/app"
	"manualqa-backend/internal/services"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	askSession     string
	askThread      string
	askStyle       string
	askContextSize int
	askJSON        bool
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer one question and print the response",
	Long: `Run a question through intent routing, fact lookup, vector retrieval
and answer synthesis, exactly as POST /v1/chat would. The turn is recorded
in the configured store; pass --thread to continue a conversation.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVar(&askSession, "session", "", "Existing session ID")
	askCmd.Flags().StringVar(&askThread, "thread", "", "Existing thread ID")
	askCmd.Flags().StringVar(&askStyle, "style", "", "Answer style (auto, brief, detailed, ...)")
	askCmd.Flags().IntVar(&askContextSize, "context-size", 0, "Recent messages to consider (0 uses the default)")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "Print the full response as JSON")
}

func runAsk(cmd *cobra.Command, args []string) error {
	opts := services.ProcessOptions{Style: askStyle, ContextSize: askContextSize}
	var err error
	if opts.SessionID, err = optionalUUID("session", askSession); err != nil {
		return err
	}
	if opts.ThreadID, err = optionalUUID("thread", askThread); err != nil {
		return err
	}
	query := strings.Join(args, " ")

	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		resp, err := a.Chat.ProcessUserMessage(ctx, query, opts)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if askJSON {
			return printJSON(out, resp)
		}
		fmt.Fprintln(out, resp.AssistantMessage.Content)
		fmt.Fprintf(out, "\n[%s] session=%s thread=%s\n",
			resp.RetrievalMeta.RetrievalMethod, resp.SessionID, resp.ThreadID)
		return nil
	})
}

func optionalUUID(name, raw string) (*uuid.UUID, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid --%s %q: %w", name, raw, err)
	}
	return &id, nil
}
