package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes builds the HTTP handler tree with the standard middleware stack.
func (a *App) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(a.Logger))
	r.Use(RecoveryMiddleware(a.Logger))
	r.Use(SecurityHeadersMiddleware(a.Config.Server.TLS.HSTSMaxAge))

	r.Get("/health", a.handleHealth)

	r.Route("/auth", func(r chi.Router) {
		r.Get("/dezi/login", a.handleLogin)
		r.Get("/dezi/callback", a.handleCallback)
		r.Get("/logout", a.handleLogout)
		if a.Config.Server.DevMode {
			r.Get("/demo/login", a.handleDemoLogin)
		}
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/session", a.handleSession)
		r.With(a.RequireSession).Get("/logins", a.handleLogins)
	})

	return r
}
