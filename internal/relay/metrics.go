package relay

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the relay collectors on a private registry so several hubs
// (tests, embedded relays) can coexist in one process.
type Metrics struct {
	reg *prometheus.Registry

	connections   prometheus.Gauge
	subscriptions prometheus.Gauge
	published     *prometheus.CounterVec
	delivered     prometheus.Counter
	dropped       *prometheus.CounterVec

	httpDuration *prometheus.HistogramVec
	httpRequests *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		connections: f.NewGauge(prometheus.GaugeOpts{
			Name: "shopnotify_relay_connections",
			Help: "Open WebSocket connections.",
		}),
		subscriptions: f.NewGauge(prometheus.GaugeOpts{
			Name: "shopnotify_relay_subscriptions",
			Help: "Active channel subscriptions across all connections.",
		}),
		published: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shopnotify_relay_published_total",
			Help: "Frames published to the hub.",
		}, []string{"source"}),
		delivered: f.NewCounter(prometheus.CounterOpts{
			Name: "shopnotify_relay_delivered_total",
			Help: "Frames queued to subscriber connections.",
		}),
		dropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shopnotify_relay_dropped_total",
			Help: "Frames dropped instead of delivered.",
		}, []string{"reason"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		}, []string{"path", "method", "status"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"path", "method", "status"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Middleware records RED metrics per route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			path = rc.RoutePattern()
		}
		status := strconv.Itoa(ww.Status())
		m.httpDuration.WithLabelValues(path, r.Method, status).Observe(time.Since(start).Seconds())
		m.httpRequests.WithLabelValues(path, r.Method, status).Inc()
	})
}
