package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gastos"

// Metrics holds the application collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	rateLimited      prometheus.Counter
	expenseWrites    *prometheus.CounterVec
	eventsPublished  *prometheus.CounterVec
	eventsConsumed   *prometheus.CounterVec
	analysisDuration prometheus.Histogram
	analysisCache    *prometheus.CounterVec
	alertsDetected   prometheus.Counter
	circuitState     prometheus.Gauge
}

// New registers every collector on a fresh registry, including the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		httpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests by route and status",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		rateLimited: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_rate_limited_total",
				Help:      "Total number of requests rejected by the rate limiter",
			},
		),
		expenseWrites: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "expense_writes_total",
				Help:      "Total number of expense writes by operation and status",
			},
			[]string{"operation", "status"},
		),
		eventsPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_published_total",
				Help:      "Total number of expense events published",
			},
			[]string{"type", "status"},
		),
		eventsConsumed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_consumed_total",
				Help:      "Total number of expense events handled by the worker",
			},
			[]string{"type", "status"},
		),
		analysisDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "analysis_duration_milliseconds",
				Help:      "Monthly analysis duration in milliseconds",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
			},
		),
		analysisCache: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "analysis_cache_requests_total",
				Help:      "Analysis cache lookups by result",
			},
			[]string{"result"},
		),
		alertsDetected: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alerts_detected_total",
				Help:      "Total number of high spending alerts found by the worker",
			},
		),
		circuitState: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "amqp_circuit_breaker_state",
				Help:      "AMQP circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
		),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

func (m *Metrics) ExpenseWrite(operation string, err error) {
	if m == nil {
		return
	}
	m.expenseWrites.WithLabelValues(operation, status(err)).Inc()
}

func (m *Metrics) EventPublished(eventType string, err error) {
	if m == nil {
		return
	}
	m.eventsPublished.WithLabelValues(eventType, status(err)).Inc()
}

func (m *Metrics) EventConsumed(eventType string, err error) {
	if m == nil {
		return
	}
	m.eventsConsumed.WithLabelValues(eventType, status(err)).Inc()
}

func (m *Metrics) ObserveAnalysis(d time.Duration) {
	if m == nil {
		return
	}
	m.analysisDuration.Observe(float64(d.Microseconds()) / 1000)
}

// AnalysisCache records a lookup; result is "hit" or "miss".
func (m *Metrics) AnalysisCache(result string) {
	if m == nil {
		return
	}
	m.analysisCache.WithLabelValues(result).Inc()
}

func (m *Metrics) AlertsDetected(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.alertsDetected.Add(float64(n))
}

func (m *Metrics) SetCircuitState(state int32) {
	if m == nil {
		return
	}
	m.circuitState.Set(float64(state))
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
