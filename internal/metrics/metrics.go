// Package metrics provides Prometheus instrumentation for candlerush.
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
	// WagersPlaced counts accepted wagers by direction.
	WagersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "candlerush_wagers_placed_total",
		Help: "Total number of wagers placed",
	}, []string{"direction"})

	// PlacementRejections counts refused placements by reason.
	PlacementRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "candlerush_placement_rejections_total",
		Help: "Wager placements rejected",
	}, []string{"reason"})

	// WagersSettled counts settlements by outcome and whether both prices were real.
	WagersSettled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "candlerush_wagers_settled_total",
		Help: "Total number of wagers settled",
	}, []string{"status", "authoritative"})

	// WagersDeleted counts deletions, partitioned by the status at deletion time.
	WagersDeleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "candlerush_wagers_deleted_total",
		Help: "Total number of wagers deleted",
	}, []string{"status"})

	// PendingWagers tracks wagers awaiting settlement.
	PendingWagers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "candlerush_pending_wagers",
		Help: "Number of wagers awaiting settlement",
	})

	// Balance tracks the virtual balance.
	Balance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "candlerush_balance",
		Help: "Current virtual balance",
	})

	// PriceFallbacks counts every time a price lookup fell through to the next source.
	PriceFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "candlerush_price_fallbacks_total",
		Help: "Price lookups that fell back to a lower-priority source",
	}, []string{"op", "source"})

	// PriceFetchDuration tracks provider latency.
	PriceFetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "candlerush_price_fetch_seconds",
		Help:    "Price provider request latency in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"provider", "op"})

	// SettlementDelay is the time between the end of a wager's interval and its settlement.
	SettlementDelay = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "candlerush_settlement_delay_seconds",
		Help:    "Seconds from interval close to settlement",
		Buckets: []float64{1, 2, 5, 10, 30, 60, 120},
	})

	// ForcedResolutions counts wagers settled by the age backstop.
	ForcedResolutions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "candlerush_forced_resolutions_total",
		Help: "Wagers force-resolved after exceeding the maximum age",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "candlerush_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "candlerush_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "candlerush_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// ObservePriceFetch records the latency of one provider call.
func ObservePriceFetch(provider, op string, start time.Time) {
	PriceFetchDuration.WithLabelValues(provider, op).Observe(time.Since(start).Seconds())
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request metrics labelled by chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				path = p
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
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

// Hijack delegates to the underlying writer so websocket upgrades work.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: underlying ResponseWriter is not a Hijacker")
	}
	return h.Hijack()
}

// Unwrap lets http.ResponseController reach the underlying writer (websocket hijack).
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
