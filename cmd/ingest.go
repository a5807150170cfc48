package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/teemow/mailminder/internal/config"
	"github.com/teemow/mailminder/internal/events"
	"github.com/teemow/mailminder/internal/ingest"
	"github.com/teemow/mailminder/internal/logging"
	"github.com/teemow/mailminder/internal/session"
	"github.com/teemow/mailminder/internal/store"
)

func newIngestCmd() *cobra.Command {
	var (
		userID   string
		senderID string
	)

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Run one ingestion for a tracked sender",
		Long: `Fetch the latest messages from a tracked sender and store the new ones.

The command uses the user's stored Google credential, refreshing it once if
it has expired. It needs google.client_id and google.client_secret only when
a refresh is required. The result is printed as JSON.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(false)
			if err != nil {
				return err
			}
			return runIngest(cmd.Context(), cfg, userID, senderID, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "ID of the user who owns the sender (required)")
	cmd.Flags().StringVar(&senderID, "sender", "", "ID of the sender to ingest (required)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("sender")

	return cmd
}

type ingestOutput struct {
	Success       bool   `json:"success"`
	EmailsFetched int    `json:"emailsFetched"`
	EmailsStored  int    `json:"emailsStored"`
	Message       string `json:"message,omitempty"`
}

func runIngest(ctx context.Context, cfg config.Config, userID, senderID string, out io.Writer) error {
	logger := logging.WithService(slog.Default(), "mailminder")

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	sender, err := st.GetSender(ctx, userID, senderID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("sender %s not found for user %s", senderID, userID)
	}
	if err != nil {
		return err
	}

	provider, instrConfig, err := newInstrumentation(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = provider.Shutdown(context.Background()) }()

	publisher, err := newPublisher(ctx, cfg, logger)
	if err != nil {
		logger.Warn("ingestion events disabled", logging.Err(err))
		publisher = events.Noop{}
	}
	defer publisher.Close()

	pipeline := newPipeline(cfg, pipelineDeps{
		store:     st,
		provider:  provider,
		instr:     instrConfig,
		publisher: publisher,
		logger:    logger,
	})

	res, err := pipeline.Ingest(ctx, session.Identity{UserID: userID}, sender.ID, sender.Email)
	if err != nil {
		return err
	}
	return writeIngestResult(out, res)
}

func writeIngestResult(out io.Writer, res ingest.Result) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(ingestOutput{
		Success:       true,
		EmailsFetched: res.Fetched,
		EmailsStored:  res.Stored,
		Message:       res.Message,
	})
}
