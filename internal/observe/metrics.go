// Package observe provides application-wide observability primitives for
// vetscribe: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all vetscribe metrics.
const meterName = "github.com/softclaw/vetscribe"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// StageDuration tracks artifact pipeline stage latency. Use with attributes:
	//   attribute.String("stage", ...), attribute.String("status", ...)
	StageDuration metric.Float64Histogram

	// UploadDuration tracks recording upload latency.
	UploadDuration metric.Float64Histogram

	// --- Counters ---

	// GenerationRequests counts external model API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	GenerationRequests metric.Int64Counter

	// UploadRetries counts upload attempts that needed the single retry.
	UploadRetries metric.Int64Counter

	// DraftWrites counts email draft cache mutations. Use with attribute:
	//   attribute.String("op", ...)
	DraftWrites metric.Int64Counter

	// --- Error counters ---

	// StageErrors counts pipeline stage failures. Use with attributes:
	//   attribute.String("stage", ...), attribute.String("reason", ...)
	StageErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live recording sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Pipeline
// stages sit behind remote model calls, so the buckets reach well past the
// sub-second range.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.StageDuration, err = m.Float64Histogram("vetscribe.stage.duration",
		metric.WithDescription("Latency of artifact pipeline stages."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.UploadDuration, err = m.Float64Histogram("vetscribe.upload.duration",
		metric.WithDescription("Latency of recording uploads."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.GenerationRequests, err = m.Int64Counter("vetscribe.generation.requests",
		metric.WithDescription("Total model API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.UploadRetries, err = m.Int64Counter("vetscribe.upload.retries",
		metric.WithDescription("Total uploads that needed the single retry."),
	); err != nil {
		return nil, err
	}
	if met.DraftWrites, err = m.Int64Counter("vetscribe.draft.writes",
		metric.WithDescription("Total email draft cache mutations by operation."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.StageErrors, err = m.Int64Counter("vetscribe.stage.errors",
		metric.WithDescription("Total pipeline stage failures by stage and reason."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("vetscribe.active_sessions",
		metric.WithDescription("Number of live recording sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("vetscribe.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordStage records one pipeline stage execution: its duration histogram
// sample and, on failure, the error counter.
func (m *Metrics) RecordStage(ctx context.Context, stage string, seconds float64, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		m.StageErrors.Add(ctx, 1,
			metric.WithAttributes(attribute.String("stage", stage)),
		)
	}
	m.StageDuration.Record(ctx, seconds,
		metric.WithAttributes(
			attribute.String("stage", stage),
			attribute.String("status", status),
		),
	)
}

// RecordUpload records one recording upload attempt's duration tagged with
// the outcome.
func (m *Metrics) RecordUpload(ctx context.Context, seconds float64, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.UploadDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordUploadRetry counts an upload that needed the single retry.
func (m *Metrics) RecordUploadRetry(ctx context.Context) {
	m.UploadRetries.Add(ctx, 1)
}

// RecordGenerationRequest records a model API call counter increment with
// the standard attribute set.
func (m *Metrics) RecordGenerationRequest(ctx context.Context, provider, kind, status string) {
	m.GenerationRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordDraftWrite records a draft cache mutation counter increment.
func (m *Metrics) RecordDraftWrite(ctx context.Context, op string) {
	m.DraftWrites.Add(ctx, 1,
		metric.WithAttributes(attribute.String("op", op)),
	)
}
