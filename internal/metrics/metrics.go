// Package metrics provides Prometheus instrumentation for the staking engine.
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
	// StakesPlacedTotal counts successful stake placements.
	StakesPlacedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "posmul_stakes_placed_total",
		Help: "Total number of stakes placed",
	})

	// StakeRejectionsTotal counts rejected placements, partitioned by reason.
	StakeRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "posmul_stake_rejections_total",
		Help: "Stake placements rejected by validation or balance checks",
	}, []string{"reason"})

	// WithdrawalsTotal counts successful stake withdrawals.
	WithdrawalsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "posmul_withdrawals_total",
		Help: "Total number of stakes withdrawn",
	})

	// WaveRunsTotal counts wave executions, partitioned by wave type.
	WaveRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "posmul_wave_runs_total",
		Help: "Total number of MoneyWave executions",
	}, []string{"wave_type"})

	// WavePMCIssuedTotal tracks cumulative PMC issued by waves.
	WavePMCIssuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "posmul_wave_pmc_issued_total",
		Help: "Cumulative PMC credited by MoneyWave executions",
	}, []string{"wave_type"})

	// StakeLatency tracks stake placement latency.
	StakeLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "posmul_stake_latency_seconds",
		Help:    "Stake placement latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "posmul_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "posmul_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "posmul_http_request_duration_seconds",
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

		// Use the raw path for the label; routes here are low-cardinality.
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
