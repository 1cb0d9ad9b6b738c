// Package observe provides application-wide observability primitives for
// Voicesmith: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all Voicesmith metrics.
const meterName = "github.com/narratale/voicesmith"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// TrainingDuration tracks wall-clock duration of one provider training
	// call, timeouts included.
	TrainingDuration metric.Float64Histogram

	// --- Counters ---

	// JobsTotal counts training job transitions. Use with attributes:
	//   attribute.String("status", ...), attribute.String("category", ...)
	JobsTotal metric.Int64Counter

	// SamplesRecorded counts accepted voice samples. Use with attribute:
	//   attribute.String("category", ...)
	SamplesRecorded metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts clone-provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveJobs tracks the number of jobs currently in the provider call.
	ActiveJobs metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// trainingBuckets defines histogram bucket boundaries (in seconds) sized for
// provider training calls, which run seconds to minutes.
var trainingBuckets = []float64{
	0.5, 1, 2.5, 5, 10, 30, 60, 90, 120, 180,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TrainingDuration, err = m.Float64Histogram("voicesmith.training.duration",
		metric.WithDescription("Wall-clock duration of one provider training call."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(trainingBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.JobsTotal, err = m.Int64Counter("voicesmith.jobs",
		metric.WithDescription("Total training job transitions by status and category."),
	); err != nil {
		return nil, err
	}
	if met.SamplesRecorded, err = m.Int64Counter("voicesmith.samples.recorded",
		metric.WithDescription("Total accepted voice samples by category."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("voicesmith.provider.errors",
		metric.WithDescription("Total clone-provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveJobs, err = m.Int64UpDownCounter("voicesmith.active_jobs",
		metric.WithDescription("Number of jobs currently executing a provider call."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voicesmith.http.request.duration",
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

// RecordJob is a convenience method that records a job transition counter
// increment with the standard attribute set.
func (m *Metrics) RecordJob(ctx context.Context, status, category string) {
	m.JobsTotal.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("status", status),
			attribute.String("category", category),
		),
	)
}

// RecordSample is a convenience method that records an accepted sample
// counter increment.
func (m *Metrics) RecordSample(ctx context.Context, category string) {
	m.SamplesRecorded.Add(ctx, 1,
		metric.WithAttributes(attribute.String("category", category)),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
