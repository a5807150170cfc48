package instrumentation

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the tracer name used for every span mailminder starts.
const TracerName = "github.com/teemow/mailminder"

// Span attribute keys.
const (
	SpanAttrService   = "google.service"
	SpanAttrOperation = "google.operation"
	SpanAttrSenderID  = "mailminder.sender_id"
	SpanAttrMessageID = "mailminder.message_id"
	SpanAttrFetched   = "mailminder.fetched"
	SpanAttrStored    = "mailminder.stored"
	SpanAttrSource    = "mailminder.credential_source"
)

// SpanAttributeBuilder helps construct span attributes with consistent naming.
type SpanAttributeBuilder struct {
	attrs []attribute.KeyValue
}

// NewSpanAttributeBuilder creates a new SpanAttributeBuilder.
func NewSpanAttributeBuilder() *SpanAttributeBuilder {
	return &SpanAttributeBuilder{
		attrs: make([]attribute.KeyValue, 0, 6),
	}
}

// WithSender adds the tracked sender id.
func (b *SpanAttributeBuilder) WithSender(senderID string) *SpanAttributeBuilder {
	if senderID != "" {
		b.attrs = append(b.attrs, attribute.String(SpanAttrSenderID, senderID))
	}
	return b
}

// WithMessage adds a provider message id.
func (b *SpanAttributeBuilder) WithMessage(messageID string) *SpanAttributeBuilder {
	if messageID != "" {
		b.attrs = append(b.attrs, attribute.String(SpanAttrMessageID, messageID))
	}
	return b
}

// WithCounts adds the fetched and stored counts of an ingestion.
func (b *SpanAttributeBuilder) WithCounts(fetched, stored int) *SpanAttributeBuilder {
	b.attrs = append(b.attrs,
		attribute.Int(SpanAttrFetched, fetched),
		attribute.Int(SpanAttrStored, stored),
	)
	return b
}

// WithCredentialSource adds where the bearer credential came from.
func (b *SpanAttributeBuilder) WithCredentialSource(source string) *SpanAttributeBuilder {
	if source != "" {
		b.attrs = append(b.attrs, attribute.String(SpanAttrSource, source))
	}
	return b
}

// Build returns the constructed attributes.
func (b *SpanAttributeBuilder) Build() []attribute.KeyValue {
	return b.attrs
}

// StartSpan starts a new span with the given name and attributes.
// The caller is responsible for ending the span with defer span.End().
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.GetTracerProvider().Tracer(TracerName)
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartGoogleAPISpan starts a client span named google.<service>.<operation>.
func StartGoogleAPISpan(ctx context.Context, service, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := make([]attribute.KeyValue, 0, len(attrs)+2)
	allAttrs = append(allAttrs,
		attribute.String(SpanAttrService, service),
		attribute.String(SpanAttrOperation, operation),
	)
	allAttrs = append(allAttrs, attrs...)

	tracer := otel.GetTracerProvider().Tracer(TracerName)
	return tracer.Start(ctx, "google."+service+"."+operation,
		trace.WithAttributes(allAttrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// SetSpanError records an error on the span and sets the status to error.
func SetSpanError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess sets the span status to OK.
func SetSpanSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// GetTraceID returns the trace ID from the current span in context,
// or "" if no valid span is present.
func GetTraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		return span.SpanContext().TraceID().String()
	}
	return ""
}

// GetSpanID returns the span ID from the current span in context,
// or "" if no valid span is present.
func GetSpanID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		return span.SpanContext().SpanID().String()
	}
	return ""
}
