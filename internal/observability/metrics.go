package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// Pipeline runs by outcome (success, error). Watch for: error ratio.
	PipelineRunsTotal *prometheus.CounterVec

	// Stage latency. Watch for: advice/speech dominating run time.
	PipelineStageDuration *prometheus.HistogramVec

	// Risk score distribution across runs. Watch for: sustained high scores.
	RiskScore prometheus.Histogram

	// Upstream call rate by provider (openweather, openai, twilio) and status.
	UpstreamCallsTotal *prometheus.CounterVec

	// Upstream latency per request. Watch for: p95 close to the configured timeout.
	UpstreamDuration *prometheus.HistogramVec

	// Retry attempts by provider. Watch for: high retries = unstable upstream.
	UpstreamRetriesTotal *prometheus.CounterVec

	// Upstream errors by provider and category (see client.CategorizeError).
	UpstreamErrorsTotal *prometheus.CounterVec

	// Circuit breaker state per component: 0 closed, 1 open, 2 half-open.
	CircuitBreakerState *prometheus.GaugeVec

	// Circuit breaker transitions per component.
	CircuitBreakerTransitionsTotal *prometheus.CounterVec

	// Forecast cache lookups by result (hit, miss, error).
	ForecastCacheTotal *prometheus.CounterVec

	// Concurrent misses on the same forecast key. Watch for: bursts of /advisories.
	CacheStampedeDetectedTotal prometheus.Counter

	// Forecast fetches that joined an in-flight request instead of calling upstream.
	ForecastCoalescedTotal prometheus.Counter

	// Forecast cache warming runs, failures and duration (cmd/service only).
	CacheWarmingTotal           prometheus.Counter
	CacheWarmingErrorsTotal     prometheus.Counter
	CacheWarmingDurationSeconds prometheus.Histogram

	// Forecast summaries by provenance (openweather, simulated).
	ForecastSourceTotal *prometheus.CounterVec

	// Alert deliveries by channel (whatsapp, sms, console) and status.
	AlertsSentTotal *prometheus.CounterVec

	// Photo captures by outcome (captured, failed).
	PhotoCapturesTotal *prometheus.CounterVec

	// Advisory records published to the event topic by status.
	RecordsPublishedTotal *prometheus.CounterVec

	// HTTP request rate for cmd/service.
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency for cmd/service.
	HTTPRequestDuration *prometheus.HistogramVec

	// Requests denied by the rate limiter.
	RateLimitDeniedTotal prometheus.Counter
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	PipelineRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipelineRunsTotal",
			Help: "Total number of advisory pipeline runs",
		},
		[]string{"outcome"},
	)
	PipelineStageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipelineStageDurationSeconds",
			Help:    "Advisory pipeline stage latency in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"stage"},
	)
	RiskScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "riskScore",
			Help:    "Risk score per pipeline run (0-6)",
			Buckets: []float64{0, 1, 2, 3, 4, 5, 6},
		},
	)
	UpstreamCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstreamCallsTotal",
			Help: "Total number of upstream API calls",
		},
		[]string{"provider", "status"},
	)
	UpstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstreamDurationSeconds",
			Help:    "Upstream API latency in seconds (per request)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"provider", "status"},
	)
	UpstreamRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstreamRetriesTotal",
			Help: "Total number of retry attempts for upstream calls",
		},
		[]string{"provider"},
	)
	UpstreamErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstreamErrorsTotal",
			Help: "Upstream call failures by category",
		},
		[]string{"provider", "category"},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"component"},
	)
	CircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions",
		},
		[]string{"component", "from", "to"},
	)
	ForecastCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forecastCacheTotal",
			Help: "Forecast cache lookups by result",
		},
		[]string{"result"},
	)
	CacheStampedeDetectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheStampedeDetectedTotal",
			Help: "Concurrent forecast cache misses for the same key",
		},
	)
	ForecastCoalescedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "forecastCoalescedTotal",
			Help: "Forecast fetches served by a shared in-flight upstream call",
		},
	)
	CacheWarmingTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingTotal",
			Help: "Total number of forecast cache warming runs",
		},
	)
	CacheWarmingErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingErrorsTotal",
			Help: "Forecast cache warming runs with at least one failure",
		},
	)
	CacheWarmingDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cacheWarmingDurationSeconds",
			Help:    "Forecast cache warming duration in seconds",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30},
		},
	)
	ForecastSourceTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forecastSourceTotal",
			Help: "Forecast summaries by provenance",
		},
		[]string{"source"},
	)
	AlertsSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alertsSentTotal",
			Help: "Alert deliveries by channel and status",
		},
		[]string{"channel", "status"},
	)
	PhotoCapturesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photoCapturesTotal",
			Help: "Field photo captures by outcome",
		},
		[]string{"outcome"},
	)
	RecordsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "advisoryRecordsPublishedTotal",
			Help: "Advisory records written to the event topic",
		},
		[]string{"status"},
	)
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)

	registry.MustRegister(
		PipelineRunsTotal, PipelineStageDuration, RiskScore,
		UpstreamCallsTotal, UpstreamDuration, UpstreamRetriesTotal, UpstreamErrorsTotal,
		CircuitBreakerState, CircuitBreakerTransitionsTotal,
		ForecastCacheTotal, ForecastSourceTotal,
		CacheStampedeDetectedTotal, ForecastCoalescedTotal,
		CacheWarmingTotal, CacheWarmingErrorsTotal, CacheWarmingDurationSeconds,
		AlertsSentTotal, PhotoCapturesTotal, RecordsPublishedTotal,
		HTTPRequestsTotal, HTTPRequestDuration, RateLimitDeniedTotal,
	)
}

// RecordCircuitBreakerTransition counts a transition and updates the state gauge.
// state values follow circuitbreaker.State (0 closed, 1 open, 2 half-open).
func RecordCircuitBreakerTransition(component, from, to string, state int) {
	CircuitBreakerTransitionsTotal.WithLabelValues(component, from, to).Inc()
	CircuitBreakerState.WithLabelValues(component).Set(float64(state))
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
