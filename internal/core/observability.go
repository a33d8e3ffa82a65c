package core

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Logger is the structured logging surface the core writes to. *slog.Logger
// satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MetricsRecorder receives operation outcomes and cache lookups.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
	CacheLookup(cache string, hit bool)
}

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, bool, time.Duration) {}
func (noopMetrics) CacheLookup(string, bool)                            {}

// Tracer starts a span per engine operation.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan is ended exactly once with the operation error, if any.
type TraceSpan interface {
	End(err error)
}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}

// PrometheusMetricsRecorder exports operation latency, results and cache hit
// ratios to a Prometheus registry.
type PrometheusMetricsRecorder struct {
	duration *prometheus.HistogramVec
	results  *prometheus.CounterVec
	cache    *prometheus.CounterVec
}

// NewPrometheusMetricsRecorder registers the deadline collectors on reg.
func NewPrometheusMetricsRecorder(reg prometheus.Registerer) *PrometheusMetricsRecorder {
	factory := promauto.With(reg)
	return &PrometheusMetricsRecorder{
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "deadline_operation_duration_seconds",
			Help:    "Duration of engine and store operations",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
		}, []string{"operation"}),
		results: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "deadline_operation_results_total",
			Help: "Engine and store operation results by status",
		}, []string{"operation", "status"}),
		cache: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "deadline_cache_lookups_total",
			Help: "Derived data cache lookups by cache and result",
		}, []string{"cache", "result"}),
	}
}

// Observe records the duration and status of one operation.
func (p *PrometheusMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if p == nil || operation == "" {
		return
	}
	p.duration.WithLabelValues(operation).Observe(duration.Seconds())
	p.results.WithLabelValues(operation, statusLabel(success)).Inc()
}

// CacheLookup counts a hit or miss.
func (p *PrometheusMetricsRecorder) CacheLookup(cache string, hit bool) {
	if p == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	p.cache.WithLabelValues(cache, result).Inc()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
