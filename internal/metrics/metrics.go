// Package metrics provides Prometheus instrumentation for the paper engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OrdersTotal counts simulated orders, partitioned by side and kind.
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paper_orders_total",
		Help: "Total number of simulated orders placed",
	}, []string{"side", "kind"})

	// OrderRejections counts orders rejected before reaching the ledger.
	OrderRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paper_order_rejections_total",
		Help: "Orders rejected by validation or price lookup",
	}, []string{"reason"})

	// FillNotional tracks cumulative filled notional per side. Symbols come
	// from request bodies and stay out of the labels.
	FillNotional = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paper_fill_notional_total",
		Help: "Cumulative filled notional",
	}, []string{"side"})

	// FillLatency measures PlaceOrder latency, including price lookup.
	FillLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "paper_fill_latency_seconds",
		Help:    "Simulated order placement latency in seconds",
		Buckets: []float64{0.00001, 0.0001, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	})

	// CancelsTotal counts cancel requests by outcome.
	CancelsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paper_cancels_total",
		Help: "Cancel requests by outcome",
	}, []string{"outcome"})

	// OpenPositions tracks the number of open ledger positions.
	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "paper_open_positions",
		Help: "Number of currently open positions",
	})

	// DecisionsTotal counts executed decisions by action and result.
	DecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paper_decisions_total",
		Help: "Decisions executed by action and result",
	}, []string{"action", "result"})

	// PriceCacheLookups counts Redis price cache reads by result
	// (hit, miss, error).
	PriceCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paper_price_cache_lookups_total",
		Help: "Price cache lookups by result",
	}, []string{"result"})

	// JournalDropped counts fills the recorder could not write.
	JournalDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paper_journal_dropped_total",
		Help: "Fills dropped because the journal buffer was full or closed",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "paper_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paper_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "paper_http_request_duration_seconds",
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

		// Route pattern keeps order IDs and symbols out of the labels.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
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

// Hijack lets the WebSocket upgrader take over connections behind the
// middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
