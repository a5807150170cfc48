package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/teemow/mailminder/internal/config"
	"github.com/teemow/mailminder/internal/credential"
	"github.com/teemow/mailminder/internal/events"
	"github.com/teemow/mailminder/internal/google"
	"github.com/teemow/mailminder/internal/ingest"
	"github.com/teemow/mailminder/internal/instrumentation"
	"github.com/teemow/mailminder/internal/logging"
	"github.com/teemow/mailminder/internal/store"
)

// openStore connects to the configured database and applies migrations.
func openStore(ctx context.Context, cfg config.Config) (*store.Store, error) {
	st, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

// newInstrumentation creates the OpenTelemetry provider from its environment
// configuration. metrics.enabled=false turns it off entirely.
func newInstrumentation(ctx context.Context, cfg config.Config) (*instrumentation.Provider, instrumentation.Config, error) {
	instrConfig := instrumentation.DefaultConfig()
	instrConfig.ServiceVersion = version
	if !cfg.Metrics.Enabled {
		instrConfig.Enabled = false
	}
	if err := instrConfig.Validate(); err != nil {
		return nil, instrConfig, err
	}

	provider, err := instrumentation.NewProvider(ctx, instrConfig)
	if err != nil {
		return nil, instrConfig, fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	return provider, instrConfig, nil
}

// newPublisher connects to NATS when nats.url is set. Without it ingestion
// events are dropped.
func newPublisher(ctx context.Context, cfg config.Config, logger *slog.Logger) (events.Publisher, error) {
	if cfg.NATS.URL == "" {
		return events.Noop{}, nil
	}

	pub, err := events.NewNATSPublisher(cfg.NATS.URL, cfg.NATS.SubjectPrefix, logging.NewSlogAdapter(logger))
	if err != nil {
		return nil, err
	}
	if err := pub.EnsureStream(ctx); err != nil {
		pub.Close()
		return nil, err
	}
	return pub, nil
}

// pipelineDeps are the pieces shared by serve and ingest.
type pipelineDeps struct {
	store     *store.Store
	sessions  credential.SessionTokens
	provider  *instrumentation.Provider
	instr     instrumentation.Config
	publisher events.Publisher
	logger    *slog.Logger
}

func newPipeline(cfg config.Config, d pipelineDeps) *ingest.Pipeline {
	metrics := d.provider.Metrics()

	oauthConf := google.NewOAuthConfig(cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.OAuthRedirectURL())
	resolver := credential.NewResolver(d.store, d.sessions, google.NewConfigRefresher(oauthConf), d.logger, metrics)

	return ingest.New(d.store, resolver, ingest.Options{
		Limit:       cfg.Ingest.Limit,
		Concurrency: cfg.Ingest.Concurrency,
		Logger:      d.logger,
		Metrics:     metrics,
		Audit:       instrumentation.NewAuditLogger(d.logger, d.instr.AuditLogging),
		Publisher:   d.publisher,
	})
}
