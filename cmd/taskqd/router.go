package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/phrazzld/taskq/internal/api"
	apiMiddleware "github.com/phrazzld/taskq/internal/api/middleware"
	"github.com/phrazzld/taskq/internal/api/shared"
)

// setupRouter registers the inspection API. Routes under /api require a
// bearer token when a JWT secret is configured; /health never does.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.NewTraceMiddleware(app.logger))

	taskHandler := api.NewTaskHandler(app.manager, app.dispatcher, app.bus, app.logger)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		shared.RespondWithJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		if app.tokens != nil {
			r.Use(apiMiddleware.NewAuthMiddleware(app.tokens).Authenticate)
		}

		r.Get("/stats", taskHandler.Stats)
		r.Post("/jobs", taskHandler.SubmitJob)

		r.Get("/tasks", taskHandler.ListTasks)
		r.Delete("/tasks", taskHandler.ClearTasks)
		r.Get("/tasks/{id}", taskHandler.GetTask)
		r.Delete("/tasks/{id}", taskHandler.DeleteTask)
		r.Post("/tasks/{id}/cancel", taskHandler.CancelTask)

		if app.archive != nil {
			historyHandler := api.NewHistoryHandler(app.archive, app.logger)
			r.Get("/history", historyHandler.ListHistory)
			r.Get("/history/{id}", historyHandler.GetHistoryEntry)
		}
	})

	return r
}
