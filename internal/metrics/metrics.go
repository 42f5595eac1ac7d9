// Package metrics exposes Prometheus instrumentation for the HTTP
// surface and the token protocol.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpInflight        prometheus.Gauge

	tokensIssuedTotal *prometheus.CounterVec
	redemptionsTotal  *prometheus.CounterVec
)

// Register initializes the metrics and returns the handler for
// /metrics. Safe to call more than once; only the first call registers.
func Register(registry prometheus.Registerer) http.Handler {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	once.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests processed",
		}, []string{"method", "path", "status"})

		httpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"})

		httpInflight = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Requests currently in flight",
		})

		tokensIssuedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dutydesk_tokens_issued_total",
			Help: "Login tokens issued by the webhook, by result",
		}, []string{"result"}) // ok | forbidden | error

		redemptionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dutydesk_redemptions_total",
			Help: "Token redemptions, by result",
		}, []string{"result"}) // ok | failed

		registry.MustRegister(
			httpRequestsTotal,
			httpRequestDuration,
			httpInflight,
			tokensIssuedTotal,
			redemptionsTotal,
		)
	})

	return promhttp.Handler()
}

// CountIssue records a webhook issuance outcome.
func CountIssue(result string) {
	if tokensIssuedTotal != nil {
		tokensIssuedTotal.WithLabelValues(result).Inc()
	}
}

// CountRedemption records a redemption outcome.
func CountRedemption(result string) {
	if redemptionsTotal != nil {
		redemptionsTotal.WithLabelValues(result).Inc()
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

// Instrument wraps a handler with the request metrics.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if httpRequestsTotal == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		httpInflight.Inc()
		defer httpInflight.Dec()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		httpRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rec.status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}
