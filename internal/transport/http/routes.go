package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger"
)

type RouteOption func(chi.Router)

// WithMetrics serves h (usually promhttp) on /metrics.
func WithMetrics(h http.Handler) RouteOption {
	return func(r chi.Router) { r.Method(http.MethodGet, "/metrics", h) }
}

func Routes(h *Handler, opts ...RouteOption) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// after RequestID
	r.Use(RequestLogger)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", h.CreateJob)
		r.Get("/{id}", h.GetJob)
		r.Post("/{id}/cancel", h.CancelJob)
		r.Get("/{id}/events", h.JobEvents)
	})
	r.Get("/history", h.ListHistory)
	r.Get("/options", h.ListOptions)

	for _, opt := range opts {
		opt(r)
	}

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	return r
}
