// Package metrics provides Prometheus instrumentation for the token engine.
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
	// TradesTotal counts committed trades, partitioned by operation.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "celestia_trades_total",
		Help: "Total number of trades executed",
	}, []string{"type"})

	// TradeLatency tracks trade execution latency.
	TradeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "celestia_trade_latency_seconds",
		Help:    "Trade execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})

	// TradeRejections counts trades rejected by validation or business rules.
	TradeRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "celestia_trade_rejections_total",
		Help: "Trades rejected by validation or business rules",
	}, []string{"type"})

	// ActiveMarkets tracks the number of markets.
	ActiveMarkets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "celestia_active_markets",
		Help: "Number of institution token markets",
	})

	// SimTicks counts completed simulation passes per market.
	SimTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "celestia_sim_ticks_total",
		Help: "Per-market simulation tick passes completed",
	})

	// SimErrors counts per-market simulation failures.
	SimErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "celestia_sim_errors_total",
		Help: "Per-market simulation tick failures",
	})

	// NewsEvents counts injected news events by name.
	NewsEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "celestia_news_events_total",
		Help: "Market news events injected by the simulation engine",
	}, []string{"event"})

	// StatsRuns counts stats aggregator passes.
	StatsRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "celestia_stats_runs_total",
		Help: "Stats aggregator passes completed",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "celestia_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "celestia_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "celestia_http_request_duration_seconds",
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

		// Use the raw path for the label; route cardinality is small.
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
