package http

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/4mln/B2B/internal/auth"
	"github.com/4mln/B2B/internal/http/handlers"
	"github.com/4mln/B2B/internal/middleware"
	"github.com/4mln/B2B/internal/repo"
)

// NewRouter creates a new HTTP router with all routes configured
func NewRouter(authHandler *handlers.AuthHandler, healthHandler *handlers.HealthHandler, jwtService *auth.JWTService, userRepo repo.UserRepo) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)

	r.Get("/health", healthHandler.ServeHTTP)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/otp/request", authHandler.HandleRequestOTP)
		r.Post("/otp/verify", authHandler.HandleVerifyOTP)
		r.Post("/login", authHandler.HandleLogin)
		r.Post("/refresh", authHandler.HandleRefresh)
		r.Post("/logout", authHandler.HandleLogout)

		// Protected session management
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(jwtService, userRepo))
			r.Post("/logout-all", authHandler.HandleLogoutAll)
			r.Get("/devices", authHandler.HandleListDevices)
			r.Post("/revoke-device", authHandler.HandleRevokeDevice)
			r.Get("/sessions", authHandler.HandleListSessions)
		})
	})

	// Protected routes (require valid JWT)
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(jwtService, userRepo))
		r.Get("/me", authHandler.HandleMe)
	})

	return r
}
