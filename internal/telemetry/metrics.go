package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the application meters.
type Metrics struct {
	RequestCounter     metric.Int64Counter
	RequestDuration    metric.Float64Histogram
	DocumentProcessing metric.Float64Histogram
	SearchDuration     metric.Float64Histogram
	CacheEvents        metric.Int64Counter
}

func InitMetrics() (*Metrics, error) {
	meter := otel.Meter("knowledge-retrieval-service")

	requestCounter, err := meter.Int64Counter(
		"http.requests.total",
		metric.WithDescription("Total HTTP requests"),
	)
	if err != nil {
		return nil, err
	}

	requestDuration, err := meter.Float64Histogram(
		"http.request.duration",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	documentProcessing, err := meter.Float64Histogram(
		"document.processing.duration",
		metric.WithDescription("Document ingestion duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	searchDuration, err := meter.Float64Histogram(
		"search.duration",
		metric.WithDescription("Retrieval pipeline duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	cacheEvents, err := meter.Int64Counter(
		"semantic_cache.events",
		metric.WithDescription("Semantic cache hits and misses"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		RequestCounter:     requestCounter,
		RequestDuration:    requestDuration,
		DocumentProcessing: documentProcessing,
		SearchDuration:     searchDuration,
		CacheEvents:        cacheEvents,
	}, nil
}

func (m *Metrics) RecordRequest(method, path, status string, duration float64) {
	attrs := []attribute.KeyValue{
		attribute.String("http.method", method),
		attribute.String("http.path", path),
		attribute.String("http.status", status),
	}
	m.RequestCounter.Add(context.Background(), 1, metric.WithAttributes(attrs...))
	m.RequestDuration.Record(context.Background(), duration, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordDocumentProcessing(duration float64, status string) {
	m.DocumentProcessing.Record(context.Background(), duration,
		metric.WithAttributes(attribute.String("document.status", status)))
}

func (m *Metrics) RecordSearch(duration float64, searchType string, cached bool) {
	m.SearchDuration.Record(context.Background(), duration, metric.WithAttributes(
		attribute.String("search.type", searchType),
		attribute.Bool("search.cached", cached),
	))
}

func (m *Metrics) RecordCacheEvent(kbID, outcome string) {
	m.CacheEvents.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("kb.id", kbID),
		attribute.String("cache.outcome", outcome),
	))
}
