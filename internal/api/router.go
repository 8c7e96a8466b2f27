/**
 * @description
 * This file sets up the HTTP router for the grant-pathway backend using the
 * go-chi/chi router. It defines the API routes, applies middleware for logging,
 * CORS and timeouts, and maps the routes to their corresponding handler
 * functions.
 */
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new Chi router and registers the service routes.
func NewRouter(h *Handler, webhook *StripeWebhookHandler, internalAPIKey string) *chi.Mux {
	r := chi.NewRouter()

	// Setup middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300, // Maximum value not ignored by any major browsers
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Grant Pathway backend is healthy"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/business-details", h.handleIntake)
		r.Get("/business-details/verify", h.handleVerify)
		r.Post("/business-details/request-link", h.handleRequestLink)
		r.Get("/report", h.handleReport)

		// Stripe calls this endpoint directly; it authenticates with the
		// webhook signature, not with any middleware above.
		r.Method(http.MethodPost, "/webhooks/stripe", webhook)
	})

	// Internal routes for the report curation tooling.
	r.Route("/internal", func(r chi.Router) {
		r.Use(InternalAuthMiddleware(internalAPIKey))
		r.Post("/records/{recordID}/report", h.handleReportUpload)
	})

	return r
}
