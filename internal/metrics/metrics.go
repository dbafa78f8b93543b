// Package metrics holds the Prometheus collectors for the API server and workers.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engagex_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"path", "method", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "engagex_http_request_duration_seconds",
			Help:    "Histogram of response durations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	// BridgeRejections counts identity assertions refused by the backend.
	BridgeRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engagex_bridge_rejections_total",
			Help: "Signed identity assertions rejected, by reason",
		},
		[]string{"reason"},
	)

	// DomainVerifications counts verification runs by record kind and outcome.
	DomainVerifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engagex_domain_record_checks_total",
			Help: "DNS authentication record checks, by record and result",
		},
		[]string{"record", "result"},
	)

	// DNSLookupDuration measures single DNS lookups.
	DNSLookupDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "engagex_dns_lookup_duration_seconds",
			Help:    "Duration of DNS lookups issued during domain verification",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"type"},
	)

	// DispatchOutcomes counts per-recipient send results.
	DispatchOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engagex_dispatch_recipients_total",
			Help: "Per-recipient dispatch results",
		},
		[]string{"result"},
	)

	// RecipientTransitions counts status applications by target and outcome.
	RecipientTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engagex_recipient_transitions_total",
			Help: "Recipient status applications, by target status and outcome",
		},
		[]string{"status", "outcome"},
	)

	// TrackingEvents counts engagement and provider events received, by
	// source, event type and result.
	TrackingEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engagex_tracking_events_total",
			Help: "Tracking and provider events received",
		},
		[]string{"source", "type", "result"},
	)

	// QueueDepth reports jobs waiting in the dispatch queue.
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "engagex_dispatch_queue_depth",
			Help: "Dispatch jobs waiting to be claimed",
		},
	)
)

var registerOnce sync.Once

// Init registers every collector with the default registry. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			RequestCount, RequestDuration,
			BridgeRejections,
			DomainVerifications, DNSLookupDuration,
			DispatchOutcomes, RecipientTransitions, QueueDepth,
			TrackingEvents,
		)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request count and latency labelled by chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		RequestCount.WithLabelValues(path, r.Method, strconv.Itoa(status)).Inc()
		RequestDuration.WithLabelValues(path, r.Method).Observe(time.Since(start).Seconds())
	})
}
