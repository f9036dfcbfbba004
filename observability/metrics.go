/*
Package observability holds the Prometheus metrics and the zap logger setup.

METRICS:
  ledger_payment_decisions_total{decision}   approved / rejected / invalid
  ledger_payment_retries_total               serialization conflicts retried
  ledger_statement_build_seconds             BuildStatement latency
  ledger_http_requests_total{method,route,status}
  ledger_http_request_duration_seconds{method,route}

All Metrics methods are safe on a nil *Metrics, so tests can leave it out.
*/
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/warp/credit-ledger/ledger"
)

const metricPrefix = "ledger_"

type Metrics struct {
	paymentDecisions *prometheus.CounterVec
	paymentRetries   prometheus.Counter
	statementBuild   prometheus.Histogram
	httpRequests     *prometheus.CounterVec
	httpLatency      *prometheus.HistogramVec
}

var _ ledger.MetricsRecorder = (*Metrics)(nil)

// NewMetrics registers the ledger metrics with reg. Pass
// prometheus.DefaultRegisterer in the server and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		paymentDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "payment_decisions_total",
			Help: "Payment guard decisions by outcome",
		}, []string{"decision"}),
		paymentRetries: f.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "payment_retries_total",
			Help: "Payments retried after a serialization conflict",
		}),
		statementBuild: f.NewHistogram(prometheus.HistogramOpts{
			Name:    metricPrefix + "statement_build_seconds",
			Help:    "Statement build latency in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "http_requests_total",
			Help: "Total HTTP requests",
		}, []string{"method", "route", "status"}),
		httpLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metricPrefix + "http_request_duration_seconds",
			Help:    "Request latency",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"method", "route"}),
	}
}

func (m *Metrics) PaymentDecision(decision string) {
	if m == nil {
		return
	}
	m.paymentDecisions.WithLabelValues(decision).Inc()
}

func (m *Metrics) PaymentRetry() {
	if m == nil {
		return
	}
	m.paymentRetries.Inc()
}

func (m *Metrics) StatementBuilt(d time.Duration) {
	if m == nil {
		return
	}
	m.statementBuild.Observe(d.Seconds())
}

// Middleware records request count and latency per chi route pattern, so
// /api/ledger/{customer_id} is one series rather than one per customer.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.httpLatency.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
