// Package instrumentation provides OpenTelemetry metrics and tracing for mailminder.
//
// # Metrics
//
// Server/HTTP Metrics:
//   - http_requests_total: Counter of HTTP requests by method, route, and status
//   - http_request_duration_seconds: Histogram of HTTP request durations
//   - active_sessions: Gauge of active user sessions
//
// Google API Metrics:
//   - google_api_operations_total: Counter of Gmail calls by operation and status
//   - google_api_operation_duration_seconds: Histogram of Gmail call durations
//
// OAuth Metrics:
//   - oauth_auth_total: Counter of sign-in attempts by result
//   - oauth_token_refresh_total: Counter of token refresh attempts by result
//
// Ingestion Metrics:
//   - ingest_runs_total, ingest_run_duration_seconds: runs by status (success, empty, error)
//   - ingest_emails_fetched_total, ingest_emails_stored_total, ingest_messages_dropped_total
//
// # Tracing
//
// Spans are created for each ingestion run (ingest.run), for credential
// resolution (credential.resolve) and for every Gmail call
// (google.gmail.<operation>).
//
// # Configuration
//
// Instrumentation is configured via environment variables:
//   - INSTRUMENTATION_ENABLED: Enable/disable instrumentation (default: true)
//   - METRICS_EXPORTER: prometheus, otlp, stdout (default: prometheus)
//   - TRACING_EXPORTER: otlp, stdout, none (default: none)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP endpoint for traces/metrics
//   - OTEL_TRACES_SAMPLER_ARG: Sampling rate (0.0 to 1.0, default: 0.1)
//   - OTEL_SERVICE_NAME: Service name (default: mailminder)
//   - AUDIT_LOGGING_ENABLED, AUDIT_LOGGING_INCLUDE_PII: ingestion audit records
//
// # Example Usage
//
//	provider, err := instrumentation.NewProvider(ctx, instrumentation.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	defer provider.Shutdown(ctx)
//
//	provider.Metrics().RecordGoogleAPIOperation(ctx, "gmail", "list", "success", time.Since(start))
package instrumentation
