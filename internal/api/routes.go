package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes configures the router: operational endpoints at the root,
// operator API under /api.
func SetupRoutes(h *Handlers) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.health.HandleHealth)
	r.Method("GET", "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/dispatch", h.HandleDispatch)
		r.Get("/dispatch/stats", h.HandleDispatchStats)

		r.Route("/campaigns", func(r chi.Router) {
			r.Post("/", h.HandleCreateCampaign)
			r.Get("/", h.HandleListCampaigns)
			r.Post("/preview", h.HandlePreview)
			r.Post("/check-conflict", h.HandleCheckConflict)

			r.Route("/{campaignID}", func(r chi.Router) {
				r.Get("/", h.HandleGetCampaign)
				r.Get("/messages", h.HandleListMessages)
				r.Post("/pause", h.HandlePauseCampaign)
				r.Post("/resume", h.HandleResumeCampaign)
				r.Post("/cancel", h.HandleCancelCampaign)
			})
		})

		r.Post("/messages/{messageID}/retry", h.HandleRetryMessage)
	})

	return r
}
