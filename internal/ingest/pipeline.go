// Package ingest runs one sender ingestion: resolve the Google token, search
// the mailbox for the sender, normalize what was found and store it
// idempotently.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/option"

	"github.com/teemow/mailminder/internal/credential"
	"github.com/teemow/mailminder/internal/events"
	"github.com/teemow/mailminder/internal/gmail"
	"github.com/teemow/mailminder/internal/instrumentation"
	"github.com/teemow/mailminder/internal/logging"
	"github.com/teemow/mailminder/internal/model"
	"github.com/teemow/mailminder/internal/session"
	"github.com/teemow/mailminder/internal/store"
)

const publishTimeout = 5 * time.Second

// Result summarizes a run. Message is set when nothing was found.
type Result struct {
	Fetched int
	Stored  int
	Message string
}

// Store is the persistence the pipeline needs.
type Store interface {
	GetSender(ctx context.Context, ownerID, id string) (model.Sender, error)
	InsertEmails(ctx context.Context, userID, senderID string, emails []store.NewEmail) (int, error)
}

// TokenResolver produces the Google token for a run and forgets it when
// Google rejects it.
type TokenResolver interface {
	ResolveWithSource(ctx context.Context, id session.Identity) (*credential.Resolution, error)
	Invalidate(ctx context.Context, id session.Identity) error
}

// Searcher finds a sender's messages in one mailbox.
type Searcher interface {
	Search(ctx context.Context, senderAddress string, limit int) (*gmail.SearchResult, error)
}

// SearcherFactory builds a Searcher for a token.
type SearcherFactory func(ctx context.Context, token *oauth2.Token) (Searcher, error)

// Options configures a Pipeline. Zero values fall back to defaults.
type Options struct {
	Limit       int
	Concurrency int

	Logger    *slog.Logger
	Metrics   *instrumentation.Metrics
	Audit     *instrumentation.AuditLogger
	Publisher events.Publisher

	// GmailOptions are passed to every Gmail client, e.g. a test endpoint.
	GmailOptions []option.ClientOption
	// NewSearcher replaces the Gmail client entirely.
	NewSearcher SearcherFactory
}

// Pipeline orchestrates ingestion runs. It is safe for concurrent use.
type Pipeline struct {
	store       Store
	resolver    TokenResolver
	newSearcher SearcherFactory
	publisher   events.Publisher
	logger      *slog.Logger
	metrics     *instrumentation.Metrics
	audit       *instrumentation.AuditLogger
	limit       int
}

// New creates a pipeline.
func New(st Store, resolver TokenResolver, opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logging.WithOperation(logger, "ingest")

	limit := opts.Limit
	if limit <= 0 {
		limit = gmail.DefaultSearchLimit
	}

	publisher := opts.Publisher
	if publisher == nil {
		publisher = events.Noop{}
	}

	p := &Pipeline{
		store:     st,
		resolver:  resolver,
		publisher: publisher,
		logger:    logger,
		metrics:   opts.Metrics,
		audit:     opts.Audit,
		limit:     limit,
	}

	p.newSearcher = opts.NewSearcher
	if p.newSearcher == nil {
		gmailOpts := opts.GmailOptions
		concurrency := opts.Concurrency
		p.newSearcher = func(ctx context.Context, token *oauth2.Token) (Searcher, error) {
			c, err := gmail.NewClient(ctx, token, gmailOpts...)
			if err != nil {
				return nil, err
			}
			return c.WithLogger(logger).WithMetrics(opts.Metrics).WithConcurrency(concurrency), nil
		}
	}

	return p
}

// Ingest fetches up to the configured limit of messages from senderAddress
// and stores the ones not seen before.
func (p *Pipeline) Ingest(ctx context.Context, id session.Identity, senderID, senderAddress string) (Result, error) {
	ctx, span := instrumentation.StartSpan(ctx, "ingest.run",
		instrumentation.NewSpanAttributeBuilder().WithSender(senderID).Build()...)
	defer span.End()

	start := time.Now()
	run := instrumentation.NewIngestionRun(id.UserID, senderID, senderAddress).WithSpanContext(ctx)
	logger := p.logger.With(logging.SenderID(senderID), logging.Domain(senderAddress))

	res, dropped, source, err := p.ingest(ctx, logger, id, senderID, senderAddress)

	run.CredentialSource = source
	run.Complete(res.Fetched, res.Stored, dropped, err)
	p.metrics.RecordIngestion(ctx, run.Status(), senderAddress, res.Fetched, res.Stored, dropped, time.Since(start))
	p.audit.LogIngestion(run)

	span.SetAttributes(instrumentation.NewSpanAttributeBuilder().WithCounts(res.Fetched, res.Stored).Build()...)
	if err != nil {
		instrumentation.SetSpanError(span, err)
		return Result{}, err
	}
	instrumentation.SetSpanSuccess(span)

	logger.InfoContext(ctx, "ingestion finished", logging.Counts(res.Fetched, res.Stored)...)
	return res, nil
}

func (p *Pipeline) ingest(ctx context.Context, logger *slog.Logger, id session.Identity, senderID, senderAddress string) (res Result, dropped int, source string, err error) {
	senderAddress = strings.TrimSpace(senderAddress)
	if senderID == "" || senderAddress == "" {
		return Result{}, 0, "", ErrInvalidRequest
	}

	if !id.IsZero() {
		sender, err := p.store.GetSender(ctx, id.UserID, senderID)
		if errors.Is(err, store.ErrNotFound) {
			return Result{}, 0, "", ErrSenderNotFound
		}
		if err != nil {
			return Result{}, 0, "", fmt.Errorf("loading sender: %w", err)
		}
		if !strings.EqualFold(sender.Email, senderAddress) {
			return Result{}, 0, "", fmt.Errorf("%w: address does not match sender", ErrInvalidRequest)
		}
	}

	resolved, err := p.resolver.ResolveWithSource(ctx, id)
	if err != nil {
		return Result{}, 0, "", err
	}
	source = resolved.Source
	logger.DebugContext(ctx, "using Google token", logging.Source(source))

	searcher, err := p.newSearcher(ctx, resolved.Token)
	if err != nil {
		return Result{}, 0, source, &gmail.ProviderError{Kind: gmail.Transport, Op: "client", Err: err}
	}

	found, err := searcher.Search(ctx, senderAddress, p.limit)
	if err != nil {
		if gmail.IsTokenRevoked(err) {
			if ierr := p.resolver.Invalidate(ctx, id); ierr != nil {
				logger.WarnContext(ctx, "failed to invalidate rejected credential", logging.Err(ierr))
			}
		}
		logger.WarnContext(ctx, "Gmail search failed", logging.Err(err))
		return Result{}, 0, source, err
	}
	dropped = found.Dropped

	if found.Listed == 0 {
		return Result{Message: "No emails found from " + senderAddress}, dropped, source, nil
	}
	if len(found.Messages) == 0 {
		return Result{}, dropped, source, nil
	}

	batch := make([]store.NewEmail, 0, len(found.Messages))
	for _, raw := range found.Messages {
		msg := gmail.Normalize(raw)
		batch = append(batch, store.NewEmail{
			Subject:           msg.Subject,
			Body:              msg.Body,
			ReceivedAt:        msg.ReceivedAt,
			ProviderMessageID: msg.ProviderMessageID,
		})
	}

	stored, err := p.store.InsertEmails(ctx, id.UserID, senderID, batch)
	if err != nil {
		return Result{Fetched: len(batch)}, dropped, source, &PersistenceError{Err: err}
	}

	res = Result{Fetched: len(batch), Stored: stored}
	if stored > 0 {
		p.publish(ctx, logger, events.NewEmailsIngested(id.UserID, senderID, senderAddress, res.Fetched, res.Stored))
	}

	return res, dropped, source, nil
}

// publish sends the event without letting a failure reach the caller.
func (p *Pipeline) publish(ctx context.Context, logger *slog.Logger, ev events.EmailsIngested) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := p.publisher.PublishIngested(ctx, ev); err != nil {
		logger.WarnContext(ctx, "failed to publish ingestion event", logging.Err(err))
	}
}
