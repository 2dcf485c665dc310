package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/parhamf6/Echo-Frame/internal/api/middleware"
	"github.com/parhamf6/Echo-Frame/internal/handlers"
)

// NewRouter creates and configures the HTTP router.
func NewRouter(h *handlers.Handler, auth *middleware.AuthMiddleware, limiter *middleware.RateLimiter, logger zerolog.Logger, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(8 * 1024)) // 8KB max body
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// Rate limiting
	r.Use(limiter.Middleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	// Public routes (no auth required)
	r.Get("/", h.Root)
	r.Get("/health", h.Health)
	r.Post("/api/v1/auth/login", h.AdminLogin)
	r.Post("/api/v1/guests/join", h.Join)
	r.Get("/api/v1/rooms/active", h.ActiveRoom)

	// Authenticated routes (require session token)
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth)

		// Websocket entry point; token comes via query parameter
		r.Get("/ws", h.Socket)

		r.Get("/api/v1/guests/me", h.JoinStatus)
		r.Get("/api/v1/stats", h.Stats)

		r.Route("/api/v1/rooms", func(r chi.Router) {
			r.Post("/", h.CreateRoom)
			r.Route("/{roomID}", func(r chi.Router) {
				r.Get("/", h.RoomStatus)
				r.Delete("/", h.EndRoom)
				r.Get("/playback", h.PlaybackState)
				r.Get("/messages", h.ChatHistory)
				r.Get("/guests", h.ListGuests)
				r.Get("/guests/pending", h.ListPending)
				r.Get("/requests", h.PendingRequests)
				r.Post("/relay-token", h.RelayToken)
			})
		})

		r.Route("/api/v1/guests/{guestID}", func(r chi.Router) {
			r.Post("/accept", h.AcceptGuest)
			r.Post("/reject", h.RejectGuest)
			r.Post("/kick", h.KickGuest)
			r.Post("/promote", h.PromoteGuest)
			r.Post("/demote", h.DemoteGuest)
			r.Patch("/permissions", h.UpdateGuestPermissions)
		})
	})

	return r
}
