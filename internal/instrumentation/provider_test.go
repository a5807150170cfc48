package instrumentation

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNewProvider_Disabled(t *testing.T) {
	provider, err := NewProvider(context.Background(), Config{
		ServiceName:    "test-service",
		ServiceVersion: "1.0.0",
		Enabled:        false,
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if provider.Enabled() {
		t.Error("expected provider to be disabled")
	}
	if provider.Metrics() == nil {
		t.Error("expected metrics to be non-nil even when disabled")
	}
	if provider.MetricsHandler() != nil {
		t.Error("expected no metrics handler when disabled")
	}
	if provider.Tracer("test") == nil {
		t.Error("expected a no-op tracer when disabled")
	}
	if err := provider.Shutdown(context.Background()); err != nil {
		t.Errorf("expected no error on shutdown, got %v", err)
	}
}

func TestNewProvider_PrometheusExporter(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	provider, err := NewProvider(ctx, Config{
		ServiceName:     "test-service",
		ServiceVersion:  "1.0.0",
		Enabled:         true,
		MetricsExporter: ExporterPrometheus,
		TracingExporter: ExporterNone,
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	defer func() { _ = provider.Shutdown(ctx) }()

	if !provider.Enabled() {
		t.Error("expected provider to be enabled")
	}

	handler := provider.MetricsHandler()
	if handler == nil {
		t.Fatal("expected a metrics handler for the prometheus exporter")
	}

	provider.Metrics().RecordIngestion(ctx, StatusSuccess, "news@example.com", 3, 3, 0, time.Second)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /metrics status = %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "ingest_runs_total") {
		t.Errorf("metrics output missing ingest_runs_total:\n%s", body)
	}
}

func TestNewProvider_StdoutExporter(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	provider, err := NewProvider(ctx, Config{
		ServiceName:       "test-service",
		ServiceVersion:    "1.0.0",
		Enabled:           true,
		MetricsExporter:   ExporterStdout,
		TracingExporter:   ExporterStdout,
		TraceSamplingRate: 1.0,
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	defer func() { _ = provider.Shutdown(ctx) }()

	if provider.MetricsHandler() != nil {
		t.Error("expected no prometheus handler for stdout exporter")
	}
}

func TestNewProvider_UnsupportedExporter(t *testing.T) {
	_, err := NewProvider(context.Background(), Config{
		ServiceName:     "test-service",
		Enabled:         true,
		MetricsExporter: "graphite",
	})
	if err == nil {
		t.Fatal("expected error for unsupported metrics exporter")
	}
}

func TestNewProvider_OTLPWithoutEndpoint(t *testing.T) {
	_, err := NewProvider(context.Background(), Config{
		ServiceName:     "test-service",
		Enabled:         true,
		MetricsExporter: ExporterPrometheus,
		TracingExporter: ExporterOTLP,
	})
	if err == nil {
		t.Fatal("expected error for OTLP tracing without endpoint")
	}
}

func TestNewResource_InstanceID(t *testing.T) {
	res, err := newResource(context.Background(), Config{
		ServiceName:       "mailminder",
		ServiceVersion:    "1.2.3",
		ServiceInstanceID: "worker-7",
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	want := map[string]string{
		"service.name":        "mailminder",
		"service.version":     "1.2.3",
		"service.instance.id": "worker-7",
	}
	for _, kv := range res.Attributes() {
		if v, ok := want[string(kv.Key)]; ok {
			if kv.Value.AsString() != v {
				t.Errorf("%s = %q, want %q", kv.Key, kv.Value.AsString(), v)
			}
			delete(want, string(kv.Key))
		}
	}
	for k := range want {
		t.Errorf("resource is missing %s", k)
	}
}
