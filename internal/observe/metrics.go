// Package observe provides application-wide observability primitives for
// Vachak: OpenTelemetry metrics, distributed tracing, structured logging,
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
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/vachaklabs/vachak/pkg/tts"
)

// meterName is the instrumentation scope name used for all Vachak metrics.
const meterName = "github.com/vachaklabs/vachak"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// SynthesisDuration tracks provider synthesis latency. Use with
	// attributes: provider, locale, cache_hit.
	SynthesisDuration metric.Float64Histogram

	// StreamingDuration tracks chunked audio delivery latency per utterance.
	StreamingDuration metric.Float64Histogram

	// UtteranceDuration tracks end-to-end utterance latency from request to
	// terminal state. Use with attribute: outcome (done|stopped|errored).
	UtteranceDuration metric.Float64Histogram

	// SynthesisErrors counts failed synthesis calls. Use with attributes:
	// provider, kind (see [ErrorKind]).
	SynthesisErrors metric.Int64Counter

	// CacheEvents counts synthesis cache lookups. Use with attribute:
	// result (hit|miss).
	CacheEvents metric.Int64Counter

	// StreamChunks counts audio chunks delivered to sinks.
	StreamChunks metric.Int64Counter

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: method, route, status.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// synthesis and streaming latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.SynthesisDuration, err = m.Float64Histogram("vachak.synthesis.duration",
		metric.WithDescription("Latency of speech synthesis by provider, locale, and cache outcome."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.StreamingDuration, err = m.Float64Histogram("vachak.streaming.duration",
		metric.WithDescription("Latency of chunked audio delivery per utterance."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.UtteranceDuration, err = m.Float64Histogram("vachak.utterance.duration",
		metric.WithDescription("End-to-end utterance latency by outcome."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.SynthesisErrors, err = m.Int64Counter("vachak.synthesis.errors",
		metric.WithDescription("Total failed synthesis calls by provider and error kind."),
	); err != nil {
		return nil, err
	}
	if met.CacheEvents, err = m.Int64Counter("vachak.cache.events",
		metric.WithDescription("Total synthesis cache lookups by result."),
	); err != nil {
		return nil, err
	}
	if met.StreamChunks, err = m.Int64Counter("vachak.stream.chunks",
		metric.WithDescription("Total audio chunks delivered to sinks."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("vachak.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route, and status."),
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
// pointer. Before [InitProvider] runs, the global provider is a no-op, so
// recording through the default instance is always safe. Panics if instrument
// creation fails (should not happen with the global provider).
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

// RecordSynthesis records one synthesis call with the standard attribute set.
// cacheHit marks results served from a cache in front of the provider.
func (m *Metrics) RecordSynthesis(ctx context.Context, provider string, locale tts.Locale, cacheHit bool, d time.Duration) {
	m.SynthesisDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("locale", string(locale)),
			attribute.Bool("cache_hit", cacheHit),
		),
	)
}

// RecordSynthesisError records one failed synthesis call, bucketing err via
// [ErrorKind].
func (m *Metrics) RecordSynthesisError(ctx context.Context, provider string, err error) {
	m.SynthesisErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", ErrorKind(err)),
		),
	)
}

// RecordCacheEvent records one synthesis cache lookup.
func (m *Metrics) RecordCacheEvent(ctx context.Context, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheEvents.Add(ctx, 1,
		metric.WithAttributes(attribute.String("result", result)),
	)
}

// RecordUtterance records the timings of one finished utterance. outcome is
// the terminal state name (done, stopped, errored). Synthesis latency is
// recorded separately via [Metrics.RecordSynthesis], which carries provider
// attributes this layer does not know.
func (m *Metrics) RecordUtterance(ctx context.Context, outcome string, streaming, total time.Duration) {
	m.UtteranceDuration.Record(ctx, total.Seconds(),
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
	if streaming > 0 {
		m.StreamingDuration.Record(ctx, streaming.Seconds())
	}
}

// RecordStreamChunks adds n delivered chunks to the chunk counter.
func (m *Metrics) RecordStreamChunks(ctx context.Context, n int64) {
	if n > 0 {
		m.StreamChunks.Add(ctx, n)
	}
}

// ErrorKind buckets a synthesis failure for the error counter.
func ErrorKind(err error) string {
	var upstream *tts.UpstreamError
	var locale *tts.UnsupportedLocaleError
	var sink *tts.SinkError
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.Is(err, tts.ErrNotImplemented):
		return "not_implemented"
	case errors.As(err, &upstream):
		return "upstream"
	case errors.As(err, &locale):
		return "unsupported_locale"
	case errors.As(err, &sink):
		return "sink"
	default:
		return "other"
	}
}
