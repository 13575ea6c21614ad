package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"dm-outreach-engine/internal/observability"
)

func Router(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(observability.Measure)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(2 * time.Second))
		r.Post("/v1/messages", h.Messages)
		r.Get("/v1/form", h.GetForm)
		r.Put("/v1/form", h.PutForm)
		r.Get("/v1/campaign", h.Campaign)
		r.Delete("/v1/events", h.ClearEvents)
	})
	// long-lived, so outside the timeout group
	r.Get("/v1/events", h.Stream)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", observability.MetricsHandler())
	return r
}
