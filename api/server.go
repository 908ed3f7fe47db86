/*
server.go - Router and middleware configuration

Chi router with the standard middleware stack: request logging, panic
recovery, request ids, CORS for the admin frontend. Prometheus metrics
are scraped from /metrics.
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter wires all routes.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/orgs", func(r chi.Router) {
			r.Post("/{id}/batches", h.CreateBatch)
		})

		r.Route("/batches", func(r chi.Router) {
			r.Get("/pending", h.ListPendingBatches)
			r.Get("/{id}", h.GetBatch)
			r.Post("/{id}/review", h.ReviewBatch)
			r.Post("/{id}/execute", h.ExecuteBatch)
		})

		r.Route("/accounts", func(r chi.Router) {
			r.Get("/{id}", h.GetAccount)
			r.Post("/{id}/credit", h.CreditAccount)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	return r
}
