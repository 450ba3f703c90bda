package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mealbridge/mealbridge-core/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)
	r.Use(s.instrumentMiddleware)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Prometheus exposition (no auth required, scraped by monitoring)
		r.Handle("/metrics", metricsHandler())

		// Auth endpoints (no auth required, rate-limited per client IP)
		r.Route("/auth", func(r chi.Router) {
			r.Use(s.rateLimitMiddleware)

			r.Post("/login", s.handleLogin)
			r.Post("/signup", s.handleSignup)
			r.Post("/admin/request-otp", s.handleRequestOTP)
			r.Post("/admin/verify-otp", s.handleVerifyOTP)
			r.Post("/refresh", s.handleRefresh)

			// Logout proves possession of a live access token first.
			r.Group(func(r chi.Router) {
				r.Use(s.authenticateMiddleware)
				r.Use(s.requireActiveMiddleware)
				r.Post("/logout", s.handleLogout)
			})
		})

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authenticateMiddleware)
			r.Use(s.requireActiveMiddleware)

			r.Get("/users/me", s.handleMe)
			r.Patch("/users/me", s.handlePatchMe)

			// Admin surface
			r.Group(func(r chi.Router) {
				r.Use(s.requireRole(auth.RoleAdmin))

				r.Get("/users", s.handleListUsers)
				r.Put("/users/{id}/active", s.handleSetUserActive)
				r.Get("/audit", s.handleListAuditLogs)
				r.Get("/system/stats", s.handleSystemStats)
			})
		})
	})

	return r
}
