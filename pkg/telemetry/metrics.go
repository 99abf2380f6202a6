package telemetry

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Low-cardinality counters for the analysis pipeline and the dispatch
// channel. Everything is registered on the default registry and served
// from /metrics.

var (
	AnalysisRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "publicsquare_analysis_requests_total",
		Help: "Analysis results by kind and producing tier.",
	}, []string{"kind", "source"})

	AnalysisTierFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "publicsquare_analysis_tier_failures_total",
		Help: "Failed analysis calls by kind and tier (drove fallthrough).",
	}, []string{"kind", "tier"})

	AnalysisLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "publicsquare_analysis_latency_seconds",
		Help:    "End-to-end analyze latency by kind.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	DegradedResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "publicsquare_degraded_results_total",
		Help: "Results produced by the terminal local heuristic.",
	}, []string{"kind"})

	MessagesByStatus = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "publicsquare_messages_total",
		Help: "Messages reaching a status.",
	}, []string{"status"})

	Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "publicsquare_ws_subscribers",
		Help: "Currently connected realtime subscribers.",
	})

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "publicsquare_channel_events_dropped_total",
		Help: "Events dropped from bounded channel buffers.",
	})

	GapSignals = promauto.NewCounter(prometheus.CounterOpts{
		Name: "publicsquare_channel_gap_signals_total",
		Help: "GapDetected signals delivered to subscribers.",
	})

	StoreOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "publicsquare_store_ops_total",
		Help: "Storage operations by op name.",
	}, []string{"op"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "publicsquare_http_request_duration_seconds",
		Help:    "HTTP request duration by method and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "status"})
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack keeps websocket upgrades working through the middleware.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	return h.Hijack()
}

// Middleware records request durations. Route labels are deliberately
// omitted to keep cardinality flat.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		httpDuration.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Observe(time.Since(start).Seconds())
	})
}
