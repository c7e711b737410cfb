// Package metrics provides Prometheus instrumentation for the marketplace
// engine.
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
	// TradesTotal counts completed trades, partitioned by mode.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sfthub_trades_total",
		Help: "Total number of completed trades",
	}, []string{"mode"})

	// SettlementValue observes gross settlement values per mode.
	SettlementValue = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sfthub_settlement_value",
		Help:    "Gross settlement value per trade",
		Buckets: prometheus.ExponentialBuckets(1, 10, 10),
	}, []string{"mode"})

	// BidsTotal counts accepted auction bids.
	BidsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sfthub_bids_total",
		Help: "Total accepted auction bids",
	})

	// RaffleTicketsTotal counts raffle tickets sold.
	RaffleTicketsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sfthub_raffle_tickets_total",
		Help: "Total raffle tickets sold",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sfthub_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sfthub_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sfthub_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
