package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new HTTP router with configured routes, middleware,
// and handlers: task lifecycle, intake uploads, cleanup introspection,
// health check, and Prometheus metrics.
func NewRouter(taskService TaskServiceI, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	taskHandler := NewTaskHandler(taskService, logger)

	r.Route("/tasks", func(r chi.Router) {
		r.Post("/", taskHandler.CreateTask)
		r.Get("/{taskID}", taskHandler.GetTask)
		r.Post("/{taskID}/cancel", taskHandler.CancelTask)
	})

	r.Put("/uploads/{filename}", taskHandler.Upload)

	r.Route("/cleanup", func(r chi.Router) {
		r.Get("/status", taskHandler.CleanupStatus)
		r.Post("/files", taskHandler.TriggerCleanup)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
