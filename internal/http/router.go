package http

import (
	"net/http"
	"time"

	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"panicdesk/internal/config"
	"panicdesk/internal/exporter"
	"panicdesk/internal/reports"
)

// NewRouter wires application routes and middleware using chi.
func NewRouter(cfg config.Config, sessions sessionManager, reportSvc *reports.Service, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
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

	authHandler := NewAuthHandler(sessions, cfg.FrontendURL, cfg.Environment, logger)
	reportHandler := NewReportHandler(reportSvc, exporter.NewCSVExporter(), logger)

	r.Route("/auth", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Get("/login", authHandler.Login)
		r.Get("/callback", authHandler.Callback)
		r.Post("/handoff", authHandler.Handoff)
	})

	r.Route("/api", func(r chi.Router) {
		// Alert intake from the mobile clients. Outside the session gate:
		// the panic button must work without a signed-in console operator.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))
			r.Post("/panic", reportHandler.Create)
		})

		r.Route("/auth", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(60 * time.Second))
				r.Get("/session", authHandler.Session)
				r.Delete("/session", authHandler.Logout)
				r.Post("/retry", authHandler.Retry)
			})
			// No timeout: the stream stays open until the client leaves.
			r.Get("/events", authHandler.Events)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))
			r.Use(newAuthMiddleware(sessions))
			r.Route("/reports", func(r chi.Router) {
				r.Get("/", reportHandler.List)
				r.Get("/export", reportHandler.Export)
				r.Get("/stats", reportHandler.Stats)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", reportHandler.Get)
					r.Put("/status", reportHandler.UpdateStatus)
				})
			})
		})
	})

	r.NotFound(http.NotFoundHandler().ServeHTTP)

	return r
}
