// Package obs wires structured logging and Prometheus metrics for the
// engine, adapted from the teacher's internal/metrics.TradingMetrics.
package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// EngineMetrics holds the Prometheus instruments that matter for the
// factor/signal/backtest pipeline rather than a live order-routing system.
type EngineMetrics struct {
	// HTTP metrics (API layer)
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Factor cache metrics
	FactorCacheHits     *prometheus.CounterVec
	FactorCacheMisses   *prometheus.CounterVec
	FactorPreloadDuration *prometheus.HistogramVec

	// Signal generator metrics
	SignalsEmitted  *prometheus.CounterVec
	EmptyUniverses  *prometheus.CounterVec

	// Backtest metrics
	BacktestDuration    *prometheus.HistogramVec
	BacktestsCompleted  *prometheus.CounterVec
	BacktestsFailed     *prometheus.CounterVec
	ActiveBacktests     prometheus.Gauge

	// Store metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryTotal    *prometheus.CounterVec
	DBErrors        *prometheus.CounterVec

	// Circuit breaker metrics
	CircuitBreakerState *prometheus.GaugeVec
	CircuitBreakerTrips *prometheus.CounterVec
}

// NewEngineMetrics creates and registers all Prometheus instruments under
// the given namespace (default "cnquant").
func NewEngineMetrics(namespace string) *EngineMetrics {
	if namespace == "" {
		namespace = "cnquant"
	}

	return &EngineMetrics{
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),

		FactorCacheHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "factor_cache_hits_total",
				Help:      "Total factor cache hits",
			},
			[]string{"expression"},
		),
		FactorCacheMisses: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "factor_cache_misses_total",
				Help:      "Total factor cache misses requiring evaluation",
			},
			[]string{"expression"},
		),
		FactorPreloadDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "factor_preload_duration_seconds",
				Help:      "Duration of FactorCache.Preload calls",
				Buckets:   []float64{.01, .05, .1, .5, 1, 5, 10, 30},
			},
			[]string{"task"},
		),

		SignalsEmitted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "signals_emitted_total",
				Help:      "Total number of buy/sell signals emitted",
			},
			[]string{"task", "kind"},
		),
		EmptyUniverses: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "empty_universes_total",
				Help:      "Total number of evaluations that resolved to an empty universe",
			},
			[]string{"task"},
		),

		BacktestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "backtest_duration_seconds",
				Help:      "Duration of a backtest run",
				Buckets:   []float64{.1, .5, 1, 5, 10, 30, 60, 300, 900},
			},
			[]string{"task", "type"},
		),
		BacktestsCompleted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "backtests_completed_total",
				Help:      "Total number of completed backtests",
			},
			[]string{"task", "type"},
		),
		BacktestsFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "backtests_failed_total",
				Help:      "Total number of failed backtests",
			},
			[]string{"task", "type", "error_code"},
		),
		ActiveBacktests: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_backtests",
				Help:      "Number of currently running backtests",
			},
		),

		DBQueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "db_query_duration_seconds",
				Help:      "Database query duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"operation", "table"},
		),
		DBQueryTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "db_queries_total",
				Help:      "Total number of database queries",
			},
			[]string{"operation", "table"},
		),
		DBErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "db_errors_total",
				Help:      "Total number of database errors",
			},
			[]string{"operation", "table"},
		),

		CircuitBreakerState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"breaker"},
		),
		CircuitBreakerTrips: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_trips_total",
				Help:      "Total number of circuit breaker trips",
			},
			[]string{"breaker"},
		),
	}
}
