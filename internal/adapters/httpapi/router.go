package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/alejandrodnm/candlerush/internal/metrics"
)

// requestTimeout acota las peticiones REST; el WebSocket queda fuera.
const requestTimeout = 15 * time.Second

// NewRouter monta el gateway completo. hub puede ser nil (sin /ws).
func NewRouter(h *Handler, hub *WSHub) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"candlerush"}`))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if hub != nil {
			r.Get("/ws", hub.HandleWS)
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(requestTimeout))

			r.Get("/wagers", h.ListWagers)
			r.Post("/wagers", h.PlaceWager)
			r.Get("/wagers/{id}", h.GetWager)
			r.Delete("/wagers/{id}", h.DeleteWager)
			r.Post("/wagers/{id}/resolve", h.ResolveWager)

			r.Get("/balance", h.GetBalance)
			r.Get("/stats", h.GetStats)

			r.Post("/admin/reset-balance", h.ResetBalance)
			r.Post("/admin/clear-history", h.ClearHistory)

			r.Get("/price", h.GetPrice)
			r.Get("/interval/latest", h.GetLatestInterval)
			r.Get("/candles", h.GetCandles)
		})
	})

	return r
}

// cors deja pasar al front servido desde otro origen.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
