package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

// MetricsConfig configures metric export
type MetricsConfig struct {
	ServiceName string
	Version     string
	Enabled     bool

	// OTLPEndpoint enables periodic push over gRPC in addition to the Prometheus scrape endpoint
	OTLPEndpoint string
	PushInterval time.Duration
}

// Metrics holds all application metrics
type Metrics struct {
	meter    metric.Meter
	provider *sdkmetric.MeterProvider

	// Cache-aside metrics
	CacheRequests    metric.Int64Counter
	CacheStoreErrors metric.Int64Counter
	CacheLoadLatency metric.Float64Histogram

	// Upstream market data metrics
	UpstreamCalls    metric.Int64Counter
	UpstreamDuration metric.Float64Histogram
	PriceFallbacks   metric.Int64Counter
	PriceResolutions metric.Int64Counter

	// Conversion metrics
	Conversions metric.Int64Counter

	// Warmup metrics
	WarmupDuration metric.Float64Histogram

	// Circuit breaker metrics
	CircuitBreakerState metric.Int64Gauge

	// Error metrics
	Errors metric.Int64Counter
}

// NewMetrics creates a Metrics instance. When disabled every instrument is a no-op.
func NewMetrics(ctx context.Context, cfg MetricsConfig) (*Metrics, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "converter"
	}
	if cfg.Version == "" {
		cfg.Version = "1.0.0"
	}

	if !cfg.Enabled {
		m := &Metrics{meter: noop.NewMeterProvider().Meter(cfg.ServiceName)}
		if err := m.initMetrics(); err != nil {
			return nil, err
		}
		return m, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	// The Prometheus exporter registers with the default registry served by promhttp
	promExporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
	}

	opts := []sdkmetric.Option{
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExporter),
	}

	if cfg.OTLPEndpoint != "" {
		otlpExporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
		}
		interval := cfg.PushInterval
		if interval <= 0 {
			interval = 15 * time.Second
		}
		opts = append(opts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(otlpExporter, sdkmetric.WithInterval(interval)),
		))
	}

	provider := sdkmetric.NewMeterProvider(opts...)

	m := &Metrics{
		meter:    provider.Meter(cfg.ServiceName),
		provider: provider,
	}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	return m, nil
}

// NewNopMetrics returns metrics that record nothing. Used in tests.
func NewNopMetrics() *Metrics {
	m, _ := NewMetrics(context.Background(), MetricsConfig{})
	return m
}

// initMetrics initializes all metric instruments
func (m *Metrics) initMetrics() error {
	var err error

	m.CacheRequests, err = m.meter.Int64Counter(
		"converter.cache.requests",
		metric.WithDescription("Cache-aside lookups by entity and outcome"),
	)
	if err != nil {
		return err
	}

	m.CacheStoreErrors, err = m.meter.Int64Counter(
		"converter.cache.store_errors",
		metric.WithDescription("Cache store failures absorbed by the fetcher"),
	)
	if err != nil {
		return err
	}

	m.CacheLoadLatency, err = m.meter.Float64Histogram(
		"converter.cache.load.duration",
		metric.WithDescription("Loader duration on cache miss in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	m.UpstreamCalls, err = m.meter.Int64Counter(
		"converter.upstream.calls",
		metric.WithDescription("Total market data provider calls"),
	)
	if err != nil {
		return err
	}

	m.UpstreamDuration, err = m.meter.Float64Histogram(
		"converter.upstream.duration",
		metric.WithDescription("Market data provider call duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	m.PriceFallbacks, err = m.meter.Int64Counter(
		"converter.price.fallbacks",
		metric.WithDescription("Quotes served from warehouse data because live data was unavailable"),
	)
	if err != nil {
		return err
	}

	m.PriceResolutions, err = m.meter.Int64Counter(
		"converter.price.resolutions",
		metric.WithDescription("Resolved quotes by source"),
	)
	if err != nil {
		return err
	}

	m.Conversions, err = m.meter.Int64Counter(
		"converter.conversions",
		metric.WithDescription("Conversion rates computed by direction"),
	)
	if err != nil {
		return err
	}

	m.WarmupDuration, err = m.meter.Float64Histogram(
		"converter.cache.warmup.duration",
		metric.WithDescription("Cache warmup duration per provider in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	m.CircuitBreakerState, err = m.meter.Int64Gauge(
		"converter.circuit_breaker.state",
		metric.WithDescription("Circuit breaker state (0=closed, 1=open, 2=half-open)"),
	)
	if err != nil {
		return err
	}

	m.Errors, err = m.meter.Int64Counter(
		"converter.errors",
		metric.WithDescription("Total errors by type"),
	)
	return err
}

// RecordCacheHit records a cache hit for an entity type
func (m *Metrics) RecordCacheHit(ctx context.Context, entity string) {
	m.CacheRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entity", entity),
		attribute.String("status", "hit"),
	))
}

// RecordCacheMiss records a cache miss for an entity type
func (m *Metrics) RecordCacheMiss(ctx context.Context, entity string) {
	m.CacheRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entity", entity),
		attribute.String("status", "miss"),
	))
}

// RecordCacheStoreError records an absorbed store failure
func (m *Metrics) RecordCacheStoreError(ctx context.Context, entity, op string) {
	m.CacheStoreErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entity", entity),
		attribute.String("op", op),
	))
}

// RecordCacheLoad records loader latency
func (m *Metrics) RecordCacheLoad(ctx context.Context, entity string, duration time.Duration, success bool) {
	m.CacheLoadLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(
		attribute.String("entity", entity),
		attribute.Bool("success", success),
	))
}

// RecordUpstreamCall records a market data provider call
func (m *Metrics) RecordUpstreamCall(ctx context.Context, provider, endpoint, status string, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("provider", provider),
		attribute.String("endpoint", endpoint),
		attribute.String("status", status),
	}

	m.UpstreamCalls.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.UpstreamDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}

// RecordPriceFallback records a warehouse fallback
func (m *Metrics) RecordPriceFallback(ctx context.Context, reason string) {
	m.PriceFallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordPriceResolution records the source a quote was served from
func (m *Metrics) RecordPriceResolution(ctx context.Context, source string) {
	m.PriceResolutions.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

// RecordConversion records a computed rate
func (m *Metrics) RecordConversion(ctx context.Context, direction string) {
	m.Conversions.Add(ctx, 1, metric.WithAttributes(attribute.String("direction", direction)))
}

// RecordWarmup records how long a warmup provider took
func (m *Metrics) RecordWarmup(ctx context.Context, provider string, duration time.Duration, success bool) {
	m.WarmupDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.Bool("success", success),
	))
}

// SetCircuitBreakerState sets circuit breaker state
// 0 = closed, 1 = open, 2 = half-open
func (m *Metrics) SetCircuitBreakerState(ctx context.Context, service string, state int64) {
	m.CircuitBreakerState.Record(ctx, state, metric.WithAttributes(attribute.String("service", service)))
}

// RecordError records an error
func (m *Metrics) RecordError(ctx context.Context, errorType string) {
	m.Errors.Add(ctx, 1, metric.WithAttributes(attribute.String("type", errorType)))
}

// Shutdown flushes pending pushes
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

// Handler returns the HTTP handler for Prometheus metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
