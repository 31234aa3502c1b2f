package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Metrics holds all the metric instruments for the post engine
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram
	HTTPActiveRequests  metric.Int64UpDownCounter
	// orchestrator
	EntityMutationsTotal metric.Int64Counter
	EntityFailuresTotal  metric.Int64Counter
	// ingestion
	ImagesIngestedTotal metric.Int64Counter
	IngestDuration      metric.Float64Histogram
	// variant cache
	CacheHitsTotal   metric.Int64Counter
	CacheMissesTotal metric.Int64Counter
	// limiter
	RateLimitHitsTotal metric.Int64Counter
	// images served
	ImageRequestsTotal metric.Int64Counter
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	httpRequestsTotal, err := meter.Int64Counter(
		"http_requests",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_requests: %w", err)
	}

	httpRequestDuration, err := meter.Float64Histogram(
		"http_request_duration",
		metric.WithDescription("HTTP request latency in ms"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_request_duration: %w", err)
	}

	httpActiveRequests, err := meter.Int64UpDownCounter(
		"http_active_requests",
		metric.WithDescription("Number of in-flight requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_active_requests: %w", err)
	}

	entityMutationsTotal, err := meter.Int64Counter(
		"entity_mutations",
		metric.WithDescription("Committed create, update and delete operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create entity_mutations: %w", err)
	}

	entityFailuresTotal, err := meter.Int64Counter(
		"entity_failures",
		metric.WithDescription("Rolled back create, update and delete operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create entity_failures: %w", err)
	}

	imagesIngestedTotal, err := meter.Int64Counter(
		"images_ingested",
		metric.WithDescription("Remote images fetched and stored"),
		metric.WithUnit("{image}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create images_ingested: %w", err)
	}

	ingestDuration, err := meter.Float64Histogram(
		"image_ingest_duration",
		metric.WithDescription("Time to fetch and store a remote image in ms"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create image_ingest_duration: %w", err)
	}

	cacheHitsTotal, err := meter.Int64Counter(
		"cache_hits",
		metric.WithDescription("Number of variant cache hits"),
		metric.WithUnit("{hit}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache_hits: %w", err)
	}

	cacheMissesTotal, err := meter.Int64Counter(
		"cache_misses",
		metric.WithDescription("Number of variant cache misses"),
		metric.WithUnit("{miss}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache_misses: %w", err)
	}

	rateLimitHitsTotal, err := meter.Int64Counter(
		"rate_limit_hits",
		metric.WithDescription("Number of rate limiter blocked requests by request class"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate_limit_hits: %w", err)
	}

	imageRequestsTotal, err := meter.Int64Counter(
		"image_requests",
		metric.WithDescription("Total number of images requested"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create image_requests: %w", err)
	}

	return &Metrics{
		HTTPRequestsTotal:    httpRequestsTotal,
		HTTPRequestDuration:  httpRequestDuration,
		HTTPActiveRequests:   httpActiveRequests,
		EntityMutationsTotal: entityMutationsTotal,
		EntityFailuresTotal:  entityFailuresTotal,
		ImagesIngestedTotal:  imagesIngestedTotal,
		IngestDuration:       ingestDuration,
		CacheHitsTotal:       cacheHitsTotal,
		CacheMissesTotal:     cacheMissesTotal,
		RateLimitHitsTotal:   rateLimitHitsTotal,
		ImageRequestsTotal:   imageRequestsTotal,
	}, nil
}

// NewNoopMetrics returns instruments that record nothing, for tests and
// callers that run without telemetry.
func NewNoopMetrics() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider().Meter(""))
	return m
}

// RecordRateLimited counts one request refused by the limiter for class.
func (m *Metrics) RecordRateLimited(ctx context.Context, class string) {
	m.RateLimitHitsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("class", class)))
}

// RecordMutation counts one orchestrated operation on kind, split by outcome.
func (m *Metrics) RecordMutation(ctx context.Context, kind, op string, err error) {
	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("op", op),
	)
	if err != nil {
		m.EntityFailuresTotal.Add(ctx, 1, attrs)
		return
	}
	m.EntityMutationsTotal.Add(ctx, 1, attrs)
}
