package instrumentation

import (
	"context"
	"log/slog"
	"time"

	"github.com/teemow/mailminder/internal/logging"
)

// IngestionRun captures one sender ingestion for the audit log.
//
// # Privacy Considerations
//
// SenderAddress is PII of a third party. LogAttrs only emits its hash and
// domain; LogAuditAttrs emits it in full and is reserved for audit streams.
type IngestionRun struct {
	UserID        string
	SenderID      string
	SenderAddress string

	CredentialSource string

	Fetched int
	Stored  int
	Dropped int

	StartTime time.Time
	Duration  time.Duration
	Success   bool
	Error     string

	TraceID string
	SpanID  string
}

// NewIngestionRun starts timing a run.
func NewIngestionRun(userID, senderID, senderAddress string) *IngestionRun {
	return &IngestionRun{
		UserID:        userID,
		SenderID:      senderID,
		SenderAddress: senderAddress,
		StartTime:     time.Now(),
	}
}

// WithSpanContext copies the trace context of the current span.
func (r *IngestionRun) WithSpanContext(ctx context.Context) *IngestionRun {
	r.TraceID = GetTraceID(ctx)
	r.SpanID = GetSpanID(ctx)
	return r
}

// Complete stops the timer and records the outcome.
func (r *IngestionRun) Complete(fetched, stored, dropped int, err error) *IngestionRun {
	r.Duration = time.Since(r.StartTime)
	r.Fetched = fetched
	r.Stored = stored
	r.Dropped = dropped
	r.Success = err == nil
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// Status returns the metric status label for the run.
func (r *IngestionRun) Status() string {
	switch {
	case !r.Success:
		return StatusError
	case r.Fetched == 0 && r.Dropped == 0:
		return StatusEmpty
	default:
		return StatusSuccess
	}
}

// LogAttrs returns attributes safe for operational logs.
func (r *IngestionRun) LogAttrs() []slog.Attr {
	attrs := []slog.Attr{
		slog.String("user_id", r.UserID),
		logging.SenderID(r.SenderID),
		logging.UserHash(r.SenderAddress),
		logging.Domain(r.SenderAddress),
		slog.Int(logging.KeyFetched, r.Fetched),
		slog.Int(logging.KeyStored, r.Stored),
		slog.Int("dropped", r.Dropped),
		slog.Duration(logging.KeyDuration, r.Duration),
		slog.Bool("success", r.Success),
	}
	return r.appendOptional(attrs)
}

// LogAuditAttrs returns attributes including the full sender address.
func (r *IngestionRun) LogAuditAttrs() []slog.Attr {
	attrs := []slog.Attr{
		slog.String("user_id", r.UserID),
		logging.SenderID(r.SenderID),
		slog.String("sender", r.SenderAddress),
		slog.Int(logging.KeyFetched, r.Fetched),
		slog.Int(logging.KeyStored, r.Stored),
		slog.Int("dropped", r.Dropped),
		slog.Duration(logging.KeyDuration, r.Duration),
		slog.Bool("success", r.Success),
	}
	if r.SpanID != "" {
		attrs = append(attrs, slog.String("span_id", r.SpanID))
	}
	return r.appendOptional(attrs)
}

func (r *IngestionRun) appendOptional(attrs []slog.Attr) []slog.Attr {
	if r.CredentialSource != "" {
		attrs = append(attrs, logging.Source(r.CredentialSource))
	}
	if r.TraceID != "" {
		attrs = append(attrs, slog.String("trace_id", r.TraceID))
	}
	if r.Error != "" {
		attrs = append(attrs, slog.String(logging.KeyError, r.Error))
	}
	return attrs
}

// AuditLogger writes one structured record per ingestion run.
type AuditLogger struct {
	logger     *slog.Logger
	includePII bool
	enabled    bool
}

// NewAuditLogger creates an AuditLogger. A nil logger means slog.Default().
func NewAuditLogger(logger *slog.Logger, config AuditLoggingConfig) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{
		logger:     logger,
		includePII: config.IncludePII,
		enabled:    config.Enabled,
	}
}

// LogIngestion logs the run at info on success and warn on failure.
// A nil AuditLogger is a no-op.
func (al *AuditLogger) LogIngestion(r *IngestionRun) {
	if al == nil || !al.enabled {
		return
	}

	var attrs []slog.Attr
	if al.includePII {
		attrs = r.LogAuditAttrs()
	} else {
		attrs = r.LogAttrs()
	}

	args := make([]any, len(attrs))
	for i, attr := range attrs {
		args[i] = attr
	}

	if r.Success {
		al.logger.Info("ingestion_completed", args...)
	} else {
		al.logger.Warn("ingestion_failed", args...)
	}
}
