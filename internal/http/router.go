package http

import (
	"net/http"
	"time"

	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"streamlens/internal/config"
)

// NewRouter wires application routes and middleware using chi.
func NewRouter(cfg config.Config, oauthHandler *OAuthHandler, statsHandler *StatsHandler, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(newSecurityHeadersMiddleware(cfg.Environment))
	r.Use(newSlogMiddleware(logger))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":      "ok",
			"environment": cfg.Environment,
		})
	})

	r.Get("/connect/{provider}", oauthHandler.Connect)

	r.Route("/auth", func(r chi.Router) {
		r.Get("/status", oauthHandler.Status)
		r.Route("/{provider}", func(r chi.Router) {
			r.Get("/callback", oauthHandler.Callback)
			r.Get("/refresh", oauthHandler.Refresh)
			r.Get("/validate", oauthHandler.Validate)
			r.Delete("/", oauthHandler.Logout)
		})
	})

	r.Get("/api/stats/{provider}", statsHandler.Overview)

	r.NotFound(http.NotFoundHandler().ServeHTTP)

	return r
}
