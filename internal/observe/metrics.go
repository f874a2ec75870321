// Package observe provides application-wide observability primitives for
// Pythia: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Pythia metrics.
const meterName = "github.com/MrWong99/pythia"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Query pipeline ---

	// QueryDuration tracks end-to-end answer generation latency. Use with
	// attribute.String("path", ...) — one of "rag", "current", "cached",
	// "fallback".
	QueryDuration metric.Float64Histogram

	// Queries counts answered queries by the path that produced the answer.
	// Same "path" attribute as QueryDuration.
	Queries metric.Int64Counter

	// RetrievalDuration tracks vector retrieval latency. Use with
	// attribute.String("kind", ...) — "semantic" or "entity".
	RetrievalDuration metric.Float64Histogram

	// --- Embedding cache ---

	// EmbedCacheHits counts query embeddings served from the in-memory cache.
	EmbedCacheHits metric.Int64Counter

	// EmbedCacheMisses counts query embeddings that required a provider call.
	EmbedCacheMisses metric.Int64Counter

	// --- Response cache ---

	// ResponseCacheHits counts answers replayed from the on-disk cache.
	ResponseCacheHits metric.Int64Counter

	// ResponseCacheMisses counts cache lookups that found no usable entry.
	ResponseCacheMisses metric.Int64Counter

	// ResponseCacheWrites counts answers persisted to the on-disk cache.
	ResponseCacheWrites metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: method, path, status.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). The upper
// buckets cover LLM streaming, which dominates query latency.
var latencyBuckets = []float64{
	0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.QueryDuration, err = m.Float64Histogram("pythia.query.duration",
		metric.WithDescription("End-to-end answer generation latency by path."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RetrievalDuration, err = m.Float64Histogram("pythia.retrieval.duration",
		metric.WithDescription("Vector retrieval latency by kind."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Queries, err = m.Int64Counter("pythia.queries",
		metric.WithDescription("Total answered queries by path (rag, current, cached, fallback)."),
	); err != nil {
		return nil, err
	}
	if met.EmbedCacheHits, err = m.Int64Counter("pythia.embedding_cache.hits",
		metric.WithDescription("Query embeddings served from the in-memory cache."),
	); err != nil {
		return nil, err
	}
	if met.EmbedCacheMisses, err = m.Int64Counter("pythia.embedding_cache.misses",
		metric.WithDescription("Query embeddings that required a provider call."),
	); err != nil {
		return nil, err
	}
	if met.ResponseCacheHits, err = m.Int64Counter("pythia.response_cache.hits",
		metric.WithDescription("Answers replayed from the on-disk response cache."),
	); err != nil {
		return nil, err
	}
	if met.ResponseCacheMisses, err = m.Int64Counter("pythia.response_cache.misses",
		metric.WithDescription("Response cache lookups that found no usable entry."),
	); err != nil {
		return nil, err
	}
	if met.ResponseCacheWrites, err = m.Int64Counter("pythia.response_cache.writes",
		metric.WithDescription("Answers persisted to the on-disk response cache."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("pythia.http.request.duration",
		metric.WithDescription("HTTP request latency by method, path, and status."),
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

// RecordQuery records one answered query: the path counter and the duration
// histogram, both tagged with the path that produced the answer.
func (m *Metrics) RecordQuery(ctx context.Context, path string, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("path", path))
	m.Queries.Add(ctx, 1, attrs)
	m.QueryDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordRetrieval records the latency of one vector retrieval, tagged with
// its kind ("semantic" or "entity").
func (m *Metrics) RecordRetrieval(ctx context.Context, kind string, d time.Duration) {
	m.RetrievalDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordEmbedCache records one embedding cache lookup.
func (m *Metrics) RecordEmbedCache(ctx context.Context, hit bool) {
	if hit {
		m.EmbedCacheHits.Add(ctx, 1)
		return
	}
	m.EmbedCacheMisses.Add(ctx, 1)
}
