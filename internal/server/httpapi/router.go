// Package httpapi exposes the submission pipeline over HTTP.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/HISP-Uganda/survey-engine-sub003/internal/logging"
)

// NewRouter mounts the API under /api/v1 plus /metrics and /healthz.
func NewRouter(h *Handler, metrics http.Handler, logger logging.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(Recovery(logger))
	r.Use(Logger(logger))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/surveys/{surveyID}/submissions", h.Submit)
		r.Post("/submissions/{submissionID}/retry", h.Retry)
		r.Get("/submissions/log", h.ListLog)
		r.Get("/submissions/{submissionID}/log", h.GetLog)
		r.Get("/submissions/{submissionID}/attempts", h.Attempts)
	})

	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}
	r.Get("/healthz", h.Health)

	return r
}
