// Package observability provides structured logging and OpenTelemetry metrics
// exported in Prometheus format.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	prometheusexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

const (
	meterScope         = "github.com/aukanara2010-dot/facepass-sub001/internal/observability"
	defaultServiceName = "facepass"
	cardinalityLimit   = 2000
)

// latencyHistogramBoundaries are Prometheus-style buckets (seconds). Ingestion
// includes model inference, so the tail reaches into minutes.
var latencyHistogramBoundaries = []float64{0.005, 0.025, 0.1, 0.5, 1, 2.5, 5, 15, 60, 300}

// NewMeterProvider creates a MeterProvider with a Prometheus exporter on a
// private registry and returns it with the /metrics handler and the service
// instruments. Caller must call provider.Shutdown on exit.
func NewMeterProvider(_ context.Context, serviceName string) (*sdkmetric.MeterProvider, http.Handler, *FacepassMetrics, error) {
	if serviceName == "" {
		serviceName = defaultServiceName
	}

	// Use a single resource to avoid Schema URL conflicts when merging with resource.Default().
	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
	)

	reg := prometheus.NewRegistry()

	exporter, err := prometheusexporter.New(
		prometheusexporter.WithRegisterer(reg),
	)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
		sdkmetric.WithCardinalityLimit(cardinalityLimit),
		sdkmetric.WithView(
			sdkmetric.NewView(
				sdkmetric.Instrument{Name: "facepass_*_duration_seconds"},
				sdkmetric.Stream{Aggregation: sdkmetric.AggregationExplicitBucketHistogram{Boundaries: latencyHistogramBoundaries}},
			),
		),
	)

	metrics, err := NewFacepassMetrics(mp.Meter(meterScope))
	if err != nil {
		_ = mp.Shutdown(context.Background())
		return nil, nil, nil, fmt.Errorf("create metrics instruments: %w", err)
	}

	return mp, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), metrics, nil
}

// ShutdownMeterProvider flushes and shuts down the MeterProvider. Safe to call with nil.
func ShutdownMeterProvider(ctx context.Context, provider *sdkmetric.MeterProvider) error {
	if provider == nil {
		return nil
	}

	if err := provider.Shutdown(ctx); err != nil {
		return fmt.Errorf("meter provider shutdown: %w", err)
	}

	return nil
}

// FacepassMetrics records search and ingestion metrics. A nil *FacepassMetrics
// is the disabled form: every method is a no-op.
type FacepassMetrics struct {
	searchRequests   metric.Int64Counter
	searchDuration   metric.Float64Histogram
	jobsEnqueued     metric.Int64Counter
	ingestOutcomes   metric.Int64Counter
	ingestDuration   metric.Float64Histogram
	extractorErrors  metric.Int64Counter
	ingestQueueDepth metric.Int64Gauge
}

// NewFacepassMetrics creates the instruments. Returns (nil, nil) when meter is nil (metrics disabled).
func NewFacepassMetrics(meter metric.Meter) (*FacepassMetrics, error) {
	if meter == nil {
		return nil, nil
	}

	searchRequests, err := meter.Int64Counter(
		MetricNameSearchRequests,
		metric.WithDescription("Total face search requests by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("create search requests counter: %w", err)
	}

	searchDuration, err := meter.Float64Histogram(
		MetricNameSearchDuration,
		metric.WithDescription("Face search duration (seconds)"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create search duration histogram: %w", err)
	}

	jobsEnqueued, err := meter.Int64Counter(
		MetricNameIngestJobsEnqueued,
		metric.WithDescription("Total ingestion jobs enqueued"),
	)
	if err != nil {
		return nil, fmt.Errorf("create ingest jobs enqueued counter: %w", err)
	}

	ingestOutcomes, err := meter.Int64Counter(
		MetricNameIngestOutcomes,
		metric.WithDescription("Total ingestion job outcomes by status"),
	)
	if err != nil {
		return nil, fmt.Errorf("create ingest outcomes counter: %w", err)
	}

	ingestDuration, err := meter.Float64Histogram(
		MetricNameIngestDuration,
		metric.WithDescription("Ingestion attempt duration (seconds)"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create ingest duration histogram: %w", err)
	}

	extractorErrors, err := meter.Int64Counter(
		MetricNameExtractorErrors,
		metric.WithDescription("Total embedding extractor errors by reason"),
	)
	if err != nil {
		return nil, fmt.Errorf("create extractor errors counter: %w", err)
	}

	ingestQueueDepth, err := meter.Int64Gauge(
		MetricNameIngestQueueDepth,
		metric.WithDescription("Ingestion jobs waiting to run (available, retryable, scheduled)"),
	)
	if err != nil {
		return nil, fmt.Errorf("create ingest queue depth gauge: %w", err)
	}

	return &FacepassMetrics{
		searchRequests:   searchRequests,
		searchDuration:   searchDuration,
		jobsEnqueued:     jobsEnqueued,
		ingestOutcomes:   ingestOutcomes,
		ingestDuration:   ingestDuration,
		extractorErrors:  extractorErrors,
		ingestQueueDepth: ingestQueueDepth,
	}, nil
}

// RecordSearch records one search request.
func (m *FacepassMetrics) RecordSearch(ctx context.Context, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String(AttrOutcome, normalize(outcome, allowedSearchOutcomes)))
	m.searchRequests.Add(ctx, 1, attrs)
	m.searchDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordJobsEnqueued counts newly inserted ingestion jobs.
func (m *FacepassMetrics) RecordJobsEnqueued(ctx context.Context, count int64) {
	if m == nil {
		return
	}
	m.jobsEnqueued.Add(ctx, count)
}

// RecordIngestOutcome records the outcome and duration of one ingestion attempt.
func (m *FacepassMetrics) RecordIngestOutcome(ctx context.Context, status string, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String(AttrStatus, normalize(status, allowedIngestStatuses)))
	m.ingestOutcomes.Add(ctx, 1, attrs)
	m.ingestDuration.Record(ctx, duration.Seconds(), attrs)
}

// ExtractorError counts an extractor failure.
func (m *FacepassMetrics) ExtractorError(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.extractorErrors.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrReason, normalize(reason, allowedExtractorReasons))))
}

// SetIngestQueueDepth records the number of waiting ingestion jobs.
func (m *FacepassMetrics) SetIngestQueueDepth(ctx context.Context, depth int64) {
	if m == nil {
		return
	}
	m.ingestQueueDepth.Record(ctx, depth)
}
