// Package events publishes ingestion events to NATS JetStream. Publishing is
// best-effort: callers log failures and carry on.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/teemow/mailminder/internal/logging"
)

const (
	// SubjectEmailsIngested is appended to the configured subject prefix.
	SubjectEmailsIngested = "emails.ingested"

	streamName        = "MAILMINDER_EVENTS"
	duplicateWindow   = 10 * time.Minute
	streamMaxAge      = 7 * 24 * time.Hour
	defaultSubjPrefix = "mailminder"
)

// EmailsIngested is published after an ingestion stored new emails.
type EmailsIngested struct {
	EventID      string    `json:"eventId"`
	UserID       string    `json:"userId"`
	SenderID     string    `json:"senderId"`
	SenderDomain string    `json:"senderDomain"`
	Fetched      int       `json:"emailsFetched"`
	Stored       int       `json:"emailsStored"`
	OccurredAt   time.Time `json:"occurredAt"`
}

// NewEmailsIngested fills in the event id and timestamp.
func NewEmailsIngested(userID, senderID, senderAddress string, fetched, stored int) EmailsIngested {
	return EmailsIngested{
		EventID:      uuid.NewString(),
		UserID:       userID,
		SenderID:     senderID,
		SenderDomain: logging.ExtractDomain(senderAddress),
		Fetched:      fetched,
		Stored:       stored,
		OccurredAt:   time.Now().UTC(),
	}
}

// Publisher sends ingestion events.
type Publisher interface {
	PublishIngested(ctx context.Context, ev EmailsIngested) error
	Close()
}

// Noop discards every event. It is used when NATS is not configured.
type Noop struct{}

func (Noop) PublishIngested(context.Context, EmailsIngested) error { return nil }
func (Noop) Close()                                                {}

// jetStream is the subset of nats.JetStreamContext the publisher uses.
type jetStream interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
	StreamInfo(stream string, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
}

// NATSPublisher publishes events to JetStream with message-id deduplication.
type NATSPublisher struct {
	nc     *nats.Conn
	js     jetStream
	prefix string
	logger logging.Logger
}

// NewNATSPublisher connects to url and returns a publisher for subjects
// under prefix.
func NewNATSPublisher(url, prefix string, logger logging.Logger) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("mailminder"),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	return newNATSPublisher(nc, js, prefix, logger), nil
}

func newNATSPublisher(nc *nats.Conn, js jetStream, prefix string, logger logging.Logger) *NATSPublisher {
	if prefix == "" {
		prefix = defaultSubjPrefix
	}
	if logger == nil {
		logger = logging.NewSlogAdapter(nil)
	}
	return &NATSPublisher{nc: nc, js: js, prefix: prefix, logger: logger}
}

// Subject returns the subject an event name is published on.
func (p *NATSPublisher) Subject(name string) string {
	return p.prefix + "." + name
}

// EnsureStream creates the events stream if it does not exist yet.
func (p *NATSPublisher) EnsureStream(ctx context.Context) error {
	if info, err := p.js.StreamInfo(streamName, nats.Context(ctx)); err == nil && info != nil {
		return nil
	}

	_, err := p.js.AddStream(&nats.StreamConfig{
		Name:       streamName,
		Subjects:   []string{p.prefix + ".>"},
		Storage:    nats.FileStorage,
		Retention:  nats.LimitsPolicy,
		Duplicates: duplicateWindow,
		MaxAge:     streamMaxAge,
	}, nats.Context(ctx))
	if err != nil {
		if errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			return nil
		}
		return fmt.Errorf("failed to create stream: %w", err)
	}

	p.logger.Info("created NATS stream", "stream", streamName)
	return nil
}

// PublishIngested publishes ev, deduplicated on its event id.
func (p *NATSPublisher) PublishIngested(ctx context.Context, ev EmailsIngested) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	if _, err := p.js.Publish(p.Subject(SubjectEmailsIngested), payload, nats.MsgId(ev.EventID), nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// Close closes the NATS connection.
func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Close()
	}
}
