// Package telemetry provides OpenTelemetry metric instruments for the
// domain cache, with optional Prometheus and OTLP export.
package telemetry

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
)

const meterName = "github.com/sitepulse/domain-cache"

// MetricsConfig configures the metrics system.
type MetricsConfig struct {
	// ServiceName is the name of the service for resource attributes.
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// OTLPEndpoint is the OTLP gRPC endpoint (e.g., "localhost:4317").
	// If empty, OTLP export is disabled.
	OTLPEndpoint string

	// EnablePrometheus enables the Prometheus /metrics endpoint.
	EnablePrometheus bool

	// FlushInterval is how often to export metrics (default: 10s).
	FlushInterval time.Duration
}

// Metrics holds the OpenTelemetry metric instruments.
type Metrics struct {
	storageOpsTotal   metric.Int64Counter
	storageOpDuration metric.Float64Histogram

	cacheLookupsTotal metric.Int64Counter
	cacheWritesTotal  metric.Int64Counter

	invalidationsTotal       metric.Int64Counter
	invalidationRemovedTotal metric.Int64Counter
	invalidationDuration     metric.Float64Histogram

	sweepRemovedTotal metric.Int64Counter
	sweepDuration     metric.Float64Histogram

	serviceCallsTotal   metric.Int64Counter
	serviceCallDuration metric.Float64Histogram

	httpRequestsTotal   metric.Int64Counter
	httpRequestDuration metric.Float64Histogram

	meterProvider *sdkmetric.MeterProvider
	promHandler   http.Handler
}

var (
	globalMetrics *Metrics
	initOnce      sync.Once
	initErr       error
)

// InitMetrics initializes the OpenTelemetry metrics system.
// Returns a shutdown function that should be called on application exit.
// Uses sync.Once to ensure single initialisation.
func InitMetrics(ctx context.Context, cfg MetricsConfig) (shutdown func(context.Context) error, err error) {
	initOnce.Do(func() {
		initErr = doInitMetrics(ctx, cfg)
	})

	if initErr != nil {
		return nil, initErr
	}

	return shutdownMetrics, nil
}

func doInitMetrics(ctx context.Context, cfg MetricsConfig) error {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "domain-cache"
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 10 * time.Second
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return err
	}

	var readers []sdkmetric.Reader
	var promHandler http.Handler

	if cfg.OTLPEndpoint != "" {
		otlpExporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(), // Use WithTLSCredentials for production
		)
		if err != nil {
			return err
		}
		readers = append(readers, sdkmetric.NewPeriodicReader(otlpExporter,
			sdkmetric.WithInterval(cfg.FlushInterval),
		))
	}

	if cfg.EnablePrometheus {
		promExp, err := promexporter.New()
		if err != nil {
			return err
		}
		readers = append(readers, promExp)
		promHandler = promhttp.Handler()
	}

	// If no exporters configured, use a no-op periodic reader to still collect metrics
	if len(readers) == 0 {
		readers = append(readers, sdkmetric.NewPeriodicReader(noopExporter{},
			sdkmetric.WithInterval(cfg.FlushInterval),
		))
	}

	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, r := range readers {
		opts = append(opts, sdkmetric.WithReader(r))
	}

	mp := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)

	meter := mp.Meter(meterName)

	storageOpsTotal, err := meter.Int64Counter(
		"domain_cache_storage_ops_total",
		metric.WithDescription("Total durable storage operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return err
	}

	storageOpDuration, err := meter.Float64Histogram(
		"domain_cache_storage_op_duration_seconds",
		metric.WithDescription("Durable storage operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1),
	)
	if err != nil {
		return err
	}

	cacheLookupsTotal, err := meter.Int64Counter(
		"domain_cache_lookups_total",
		metric.WithDescription("Cache entry lookups by outcome (hit, miss, expired, corrupt)"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return err
	}

	cacheWritesTotal, err := meter.Int64Counter(
		"domain_cache_writes_total",
		metric.WithDescription("Cache entry writes by outcome (written, suppressed, error)"),
		metric.WithUnit("{write}"),
	)
	if err != nil {
		return err
	}

	invalidationsTotal, err := meter.Int64Counter(
		"domain_cache_invalidations_total",
		metric.WithDescription("Cascading invalidation sweeps"),
		metric.WithUnit("{sweep}"),
	)
	if err != nil {
		return err
	}

	invalidationRemovedTotal, err := meter.Int64Counter(
		"domain_cache_invalidation_removed_total",
		metric.WithDescription("Entries removed by cascading invalidation, by namespace"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return err
	}

	invalidationDuration, err := meter.Float64Histogram(
		"domain_cache_invalidation_duration_seconds",
		metric.WithDescription("Cascading invalidation sweep duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1, 5),
	)
	if err != nil {
		return err
	}

	sweepRemovedTotal, err := meter.Int64Counter(
		"domain_cache_sweep_removed_total",
		metric.WithDescription("Expired entries removed by the background sweeper"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return err
	}

	sweepDuration, err := meter.Float64Histogram(
		"domain_cache_sweep_duration_seconds",
		metric.WithDescription("Background sweep duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1, 5),
	)
	if err != nil {
		return err
	}

	serviceCallsTotal, err := meter.Int64Counter(
		"domain_cache_service_calls_total",
		metric.WithDescription("Remote service calls by service and outcome"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return err
	}

	serviceCallDuration, err := meter.Float64Histogram(
		"domain_cache_service_call_duration_seconds",
		metric.WithDescription("Remote service call duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return err
	}

	httpRequestsTotal, err := meter.Int64Counter(
		"domain_cache_http_requests_total",
		metric.WithDescription("HTTP requests by endpoint and status class"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return err
	}

	httpRequestDuration, err := meter.Float64Histogram(
		"domain_cache_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5),
	)
	if err != nil {
		return err
	}

	globalMetrics = &Metrics{
		storageOpsTotal:          storageOpsTotal,
		storageOpDuration:        storageOpDuration,
		cacheLookupsTotal:        cacheLookupsTotal,
		cacheWritesTotal:         cacheWritesTotal,
		invalidationsTotal:       invalidationsTotal,
		invalidationRemovedTotal: invalidationRemovedTotal,
		invalidationDuration:     invalidationDuration,
		sweepRemovedTotal:        sweepRemovedTotal,
		sweepDuration:            sweepDuration,
		serviceCallsTotal:        serviceCallsTotal,
		serviceCallDuration:      serviceCallDuration,
		httpRequestsTotal:        httpRequestsTotal,
		httpRequestDuration:      httpRequestDuration,
		meterProvider:            mp,
		promHandler:              promHandler,
	}

	return nil
}

func shutdownMetrics(ctx context.Context) error {
	if globalMetrics == nil {
		return nil
	}
	err := globalMetrics.meterProvider.Shutdown(ctx)
	globalMetrics = nil
	return err
}

// PrometheusHandler returns the Prometheus /metrics handler. Serves 404
// when Prometheus export is disabled.
func PrometheusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if globalMetrics == nil || globalMetrics.promHandler == nil {
			http.NotFound(w, r)
			return
		}
		globalMetrics.promHandler.ServeHTTP(w, r)
	})
}

// RecordStorageOp records a durable storage operation.
func RecordStorageOp(ctx context.Context, store, op, outcome string, duration time.Duration) {
	if globalMetrics == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("store", store),
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	}
	globalMetrics.storageOpsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	globalMetrics.storageOpDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordCacheLookup records a cache entry lookup outcome.
func RecordCacheLookup(ctx context.Context, namespace, outcome string) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.cacheLookupsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("namespace", namespace),
		attribute.String("outcome", outcome),
	))
}

// RecordCacheWrite records a cache entry write outcome.
func RecordCacheWrite(ctx context.Context, namespace, outcome string) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.cacheWritesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("namespace", namespace),
		attribute.String("outcome", outcome),
	))
}

// RecordInvalidation records a completed cascading invalidation sweep.
func RecordInvalidation(ctx context.Context, duration time.Duration, removedByNamespace map[string]int) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.invalidationsTotal.Add(ctx, 1)
	globalMetrics.invalidationDuration.Record(ctx, duration.Seconds())
	for namespace, removed := range removedByNamespace {
		if removed > 0 {
			globalMetrics.invalidationRemovedTotal.Add(ctx, int64(removed), metric.WithAttributes(
				attribute.String("namespace", namespace),
			))
		}
	}
}

// RecordSweep records a background eviction run.
func RecordSweep(ctx context.Context, duration time.Duration, removed int) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.sweepDuration.Record(ctx, duration.Seconds())
	if removed > 0 {
		globalMetrics.sweepRemovedTotal.Add(ctx, int64(removed))
	}
}

// RecordServiceCall records a remote service call.
func RecordServiceCall(ctx context.Context, service, outcome string, duration time.Duration) {
	if globalMetrics == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("service", service),
		attribute.String("outcome", outcome),
	}
	globalMetrics.serviceCallsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	globalMetrics.serviceCallDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordHTTP records a completed HTTP request.
func RecordHTTP(ctx context.Context, method, endpoint string, status int, duration time.Duration) {
	if globalMetrics == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("method", method),
		attribute.String("endpoint", endpoint),
		attribute.String("status_class", StatusClass(status)),
	}
	globalMetrics.httpRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	globalMetrics.httpRequestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// StatusClass buckets an HTTP status code ("2xx", "4xx", ...).
func StatusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}

// ResetForTesting clears global state so tests can re-initialize.
func ResetForTesting() {
	globalMetrics = nil
	initOnce = sync.Once{}
	initErr = nil
}

// noopExporter is a no-op metrics exporter for when no exporters are configured.
type noopExporter struct{}

func (noopExporter) Temporality(kind sdkmetric.InstrumentKind) metricdata.Temporality {
	return sdkmetric.DefaultTemporalitySelector(kind)
}

func (noopExporter) Aggregation(kind sdkmetric.InstrumentKind) sdkmetric.Aggregation {
	return sdkmetric.DefaultAggregationSelector(kind)
}

func (noopExporter) Export(context.Context, *metricdata.ResourceMetrics) error { return nil }
func (noopExporter) ForceFlush(context.Context) error                          { return nil }
func (noopExporter) Shutdown(context.Context) error                            { return nil }
