package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(handler *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(Logger)
	r.Use(Recoverer)
	r.Use(Timeout)
	r.Use(CORS)

	r.Get("/healthz", handler.Health)

	r.Route("/api", func(r chi.Router) {
		r.Post("/sync/users", handler.SyncUsers)
		r.Post("/sync/inventory", handler.SyncInventory)
		r.Post("/sync/sales", handler.SyncSales)
		r.Post("/sync/cleanup-placeholders", handler.CleanupPlaceholders)

		r.Post("/corrections/hide", handler.HideCorrupt)
		r.Post("/corrections/restore", handler.RestoreCorrupt)

		r.Post("/maintenance/reset", handler.MaintenanceReset)
	})

	return r
}
