// Package metrics provides Prometheus instrumentation for the market engine.
package metrics

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OrdersTotal counts submitted orders by side and terminal-or-pending status.
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradesync_orders_total",
		Help: "Total number of orders by side and status",
	}, []string{"side", "status"})

	// SettlementLatency measures accepted→settled latency.
	SettlementLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tradesync_order_settlement_seconds",
		Help:    "Latency between order acceptance and settlement",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	})

	// PriceTicks counts price simulator ticks per symbol.
	PriceTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradesync_price_ticks_total",
		Help: "Price updates published by the simulator",
	}, []string{"symbol"})

	// WebSocketSessions tracks live WebSocket sessions.
	WebSocketSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradesync_websocket_sessions",
		Help: "Number of connected WebSocket sessions",
	})

	// MessagesTotal counts chat messages posted per room.
	MessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradesync_room_messages_total",
		Help: "Chat messages posted",
	}, []string{"room"})

	// SignalFallbacks counts locally generated signals substituted for the
	// AI service.
	SignalFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradesync_signal_fallbacks_total",
		Help: "AI signal requests served by the local fallback",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradesync_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tradesync_http_request_duration_seconds",
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

// Hijack passes through to the underlying writer so WebSocket upgrades
// work behind this middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	return hj.Hijack()
}
