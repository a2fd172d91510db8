// Package metrics exposes Prometheus instrumentation for replication on the
// client and for request handling in the remote store service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hyperengineering/jukutatsu/pkg/journal"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "jukutatsu"

// Replication counts replication outcomes and tracks the outbox size.
// It satisfies journal.Observer.
type Replication struct {
	succeeded *prometheus.CounterVec
	failed    *prometheus.CounterVec
	pending   prometheus.Gauge
}

var _ journal.Observer = (*Replication)(nil)

// NewReplication registers replication metrics with reg.
func NewReplication(reg prometheus.Registerer) *Replication {
	f := promauto.With(reg)
	return &Replication{
		succeeded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replication",
			Name:      "succeeded_total",
			Help:      "Pending changes acknowledged by the remote, by entity kind and operation.",
		}, []string{"kind", "op"}),
		failed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replication",
			Name:      "failed_total",
			Help:      "Failed replication attempts, by entity kind and operation.",
		}, []string{"kind", "op"}),
		pending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "replication",
			Name:      "pending_changes",
			Help:      "Changes waiting in the outbox.",
		}),
	}
}

func (m *Replication) ReplicationSucceeded(ch journal.PendingChange) {
	m.succeeded.WithLabelValues(string(ch.Kind), string(ch.Op)).Inc()
}

func (m *Replication) ReplicationFailed(ch journal.PendingChange, _ error) {
	m.failed.WithLabelValues(string(ch.Kind), string(ch.Op)).Inc()
}

func (m *Replication) PendingChanged(pending int) {
	m.pending.Set(float64(pending))
}

// HTTP instruments the service's request handling.
type HTTP struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewHTTP registers request metrics with reg.
func NewHTTP(reg prometheus.Registerer) *HTTP {
	f := promauto.With(reg)
	return &HTTP{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"method", "route"}),
	}
}

// Middleware records every request. Routes are labelled by their chi
// pattern so ids do not explode label cardinality.
func (m *HTTP) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		m.duration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Handler serves the exposition format for g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
