package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger"
)

func Routes(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// our logger (after RequestID)
	r.Use(RequestLogger)

	r.Get("/health", h.Health)
	r.Post("/search", h.SearchSync)

	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", h.SubmitSearch)
		r.Get("/{id}/status", h.GetStatus)
		r.Get("/{id}/result", h.GetResult)
		r.Delete("/{id}", h.CancelJob)
	})

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	return r
}
