package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/atinyakov/koracockpit/internal/middleware"
)

// NewRouter constructs the development API handler.
//
// Routes:
//
//	POST /auth/pilot-login → authHandler.PilotLogin
//	POST /auth/login       → authHandler.Login
//	POST /auth/register    → authHandler.Register
//	GET  /me               → authHandler.Me
//
// Middleware chain (applied in order):
//  1. Recoverer: turns panics into 500s
//  2. AllowContentType("application/json"): rejects non-JSON bodies
//  3. WithRequestLogging(logger): logs every request
//  4. Identity(verifier): resolves the caller
func NewRouter(authHandler *AuthHandler, verifier middleware.TokenVerifier, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.AllowContentType("application/json"))
	r.Use(middleware.WithRequestLogging(logger))
	r.Use(middleware.Identity(verifier))

	r.Route("/auth", func(r chi.Router) {
		r.Post("/pilot-login", authHandler.PilotLogin)
		r.Post("/login", authHandler.Login)
		r.Post("/register", authHandler.Register)
	})
	r.Get("/me", authHandler.Me)

	return r
}
