package tracking

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Routes assembles the service router.
//
// The pixel route is mounted bare: no recoverer, no CORS, nothing that
// could replace its response with an error page. The handler contains its
// own panic recovery and always answers with the image.
func Routes(pixel *Handler, api *APIHandler) *chi.Mux {
	r := chi.NewRouter()

	r.Get("/img/spacer.gif", pixel.HandleOpen)
	r.Get("/health", HandleHealth)

	r.Route("/api/tracking", func(r chi.Router) {
		r.Use(middleware.RequestID)
		r.Use(middleware.RealIP)
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))

		r.Get("/stats", api.HandleStats)
		r.Post("/beacons", api.HandleCreateBeacon)
		r.Get("/beacons/{token}", api.HandleGetBeacon)
		r.Post("/beacons/{token}/activate", api.HandleActivateBeacon)
		r.Get("/beacons/{token}/events", api.HandleOpenEvents)
	})

	return r
}
