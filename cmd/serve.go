package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/teemow/mailminder/internal/config"
	"github.com/teemow/mailminder/internal/google"
	"github.com/teemow/mailminder/internal/logging"
	"github.com/teemow/mailminder/internal/server"
	"github.com/teemow/mailminder/internal/session"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the MailMinder HTTP API and, unless metrics are disabled, the Prometheus
metrics server on its own port.

Google sign-in needs google.client_id and google.client_secret; sessions need
a session.secret of at least 32 bytes. The OAuth redirect URL defaults to
<http.base_url>/auth/callback.

Setting nats.url publishes an event to JetStream after every ingestion that
stored new emails.

The server drains in-flight requests on SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(true)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.String(config.KeyHTTPAddr, ":8080", "address for the HTTP API")
	flags.String(config.KeyHTTPBaseURL, "http://localhost:8080", "public base URL of the API")
	flags.String(config.KeyGoogleClientID, "", "Google OAuth client ID")
	flags.String(config.KeyGoogleSecret, "", "Google OAuth client secret")
	flags.String(config.KeyGoogleRedirectURL, "", "OAuth redirect URL (default: <http.base_url>/auth/callback)")
	flags.String(config.KeySessionSecret, "", "secret used to sign session tokens (at least 32 bytes)")
	flags.Duration(config.KeySessionTTL, 24*time.Hour, "session lifetime")
	flags.Bool(config.KeySessionSecure, false, "mark cookies Secure (enable behind HTTPS)")
	flags.String(config.KeyNATSURL, "", "NATS URL for ingestion events (empty disables events)")
	flags.String(config.KeyNATSSubjectPrefix, "mailminder", "NATS subject prefix")
	flags.Int(config.KeyIngestLimit, 20, "messages fetched per ingestion")
	flags.Int(config.KeyIngestConcurrency, 10, "concurrent Gmail message fetches")
	flags.Bool(config.KeyMetricsEnabled, true, "serve Prometheus metrics")
	flags.String(config.KeyMetricsAddr, server.DefaultMetricsAddr, "address for the metrics server")
	bindFlags(flags,
		config.KeyHTTPAddr, config.KeyHTTPBaseURL,
		config.KeyGoogleClientID, config.KeyGoogleSecret, config.KeyGoogleRedirectURL,
		config.KeySessionSecret, config.KeySessionTTL, config.KeySessionSecure,
		config.KeyNATSURL, config.KeyNATSSubjectPrefix,
		config.KeyIngestLimit, config.KeyIngestConcurrency,
		config.KeyMetricsEnabled, config.KeyMetricsAddr,
	)

	return cmd
}

func runServe(parent context.Context, cfg config.Config) error {
	if parent == nil {
		parent = context.Background()
	}

	// Setup graceful shutdown
	signalCtx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logging.WithService(slog.Default(), "mailminder")
	serverContext := server.NewServerContext(signalCtx)

	provider, instrConfig, err := newInstrumentation(signalCtx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Error("instrumentation shutdown failed", logging.Err(err))
		}
	}()
	metrics := provider.Metrics()

	st, err := openStore(signalCtx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	publisher, err := newPublisher(signalCtx, cfg, logger)
	if err != nil {
		return fmt.Errorf("connecting to NATS: %w", err)
	}
	defer publisher.Close()

	sessions := session.NewManager([]byte(cfg.Session.Secret), cfg.Session.TTL, logger, metrics)
	defer sessions.Close()

	pipeline := newPipeline(cfg, pipelineDeps{
		store:     st,
		sessions:  sessions,
		provider:  provider,
		instr:     instrConfig,
		publisher: publisher,
		logger:    logger,
	})

	api, err := server.New(server.Deps{
		Store:        st,
		Sessions:     sessions,
		Ingester:     pipeline,
		OAuth:        google.NewOAuthConfig(cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.OAuthRedirectURL()),
		Health:       server.NewHealthChecker(serverContext, st),
		Metrics:      metrics,
		Logger:       logger,
		CookieSecure: cfg.Session.CookieSecure,
	})
	if err != nil {
		return err
	}

	var metricsServer *server.MetricsServer
	if cfg.Metrics.Enabled && provider.Enabled() && provider.MetricsHandler() != nil {
		metricsServer, err = server.NewMetricsServer(server.MetricsServerConfig{
			Addr:                    cfg.Metrics.Addr,
			InstrumentationProvider: provider,
			Logger:                  logger,
		})
		if err != nil {
			return fmt.Errorf("failed to create metrics server: %w", err)
		}
	}

	apiListener, err := net.Listen("tcp", cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.HTTP.Addr, err)
	}

	g, gctx := errgroup.WithContext(signalCtx)
	g.Go(func() error {
		return api.Serve(apiListener)
	})
	if metricsServer != nil {
		g.Go(metricsServer.Start)
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received, stopping servers")
		serverContext.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
		defer cancel()

		var errs []error
		if metricsServer != nil {
			errs = append(errs, metricsServer.Shutdown(shutdownCtx))
		}
		errs = append(errs, api.Shutdown(shutdownCtx))
		return errors.Join(errs...)
	})

	logger.Info("mailminder is ready",
		"addr", cfg.HTTP.Addr,
		"database", cfg.Database.Driver,
		"events", cfg.NATS.URL != "",
	)

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped gracefully")
	return nil
}
