// Package metrics exposes Prometheus instrumentation for the backend.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "overlord_http_requests_total",
		Help: "HTTP requests by method, path pattern, and status code.",
	}, []string{"method", "path", "status"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "overlord_http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	// WagersPlaced counts accepted wagers.
	WagersPlaced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "overlord_wagers_placed_total",
		Help: "Wagers accepted into the open pool.",
	})

	// StakedTotal accumulates platinum staked across all accepted wagers.
	StakedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "overlord_platinum_staked_total",
		Help: "Total platinum staked across all accepted wagers.",
	})

	// DrawsTotal counts settlements by outcome.
	DrawsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "overlord_draws_total",
		Help: "Settlement draws by outcome (won, sink, empty, failed).",
	}, []string{"outcome"})

	// PrizePaidTotal accumulates platinum credited to winners.
	PrizePaidTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "overlord_prize_paid_total",
		Help: "Total platinum credited to draw winners.",
	})

	// SettlementDuration observes end-to-end settlement latency.
	SettlementDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "overlord_settlement_duration_seconds",
		Help:    "Draw settlement latency, including the commit.",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	})

	// WebSocketClients tracks currently connected draw-feed subscribers.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "overlord_websocket_clients",
		Help: "Currently connected draw-feed websocket clients.",
	})
)

// Handler returns the /metrics scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware records request counts and latency per route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		path := r.URL.Path
		httpRequests.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
