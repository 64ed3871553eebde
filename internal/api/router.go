package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/athebyme/gomarket-platform/sync-service/internal/api/handlers"
	"github.com/athebyme/gomarket-platform/sync-service/internal/api/middleware"
	"github.com/athebyme/gomarket-platform/sync-service/internal/domain/services"
	"github.com/athebyme/gomarket-platform/sync-service/pkg/interfaces"
)

// SetupRouter настраивает маршрутизатор
func SetupRouter(
	syncService services.SyncServiceInterface,
	reporter services.ReporterInterface,
	logger interfaces.LoggerPort,
	corsAllowedOrigins []string,
) *chi.Mux {
	r := chi.NewRouter()

	// Глобальные middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(middleware.CORS(corsAllowedOrigins))

	r.Method(http.MethodGet, "/health", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}))
	r.Method(http.MethodHead, "/health", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Tenant)

		syncHandler := handlers.NewSyncHandler(syncService, reporter, logger)

		// Задачи синхронизации
		r.Route("/sync/jobs", func(r chi.Router) {
			// Постановка задачи; syncId возвращается сразу
			r.Post("/", syncHandler.SubmitJob)

			r.Route("/{id}", func(r chi.Router) {
				// Состояние задачи
				r.Get("/", syncHandler.GetJob)

				// Итог завершенной задачи
				r.Get("/result", syncHandler.GetResult)

				// Отмена выполняющейся задачи
				r.Post("/cancel", syncHandler.CancelJob)
			})
		})

		// Прием webhook-событий источников
		r.Post("/webhooks/{source}", syncHandler.IngestWebhook)

		// Конфликты синхронизации
		r.Route("/conflicts", func(r chi.Router) {
			// Неразрешенные конфликты арендатора
			r.Get("/", syncHandler.ListConflicts)

			// Внешнее разрешение конфликта по полю
			r.Post("/{id}/resolve", syncHandler.ResolveConflict)
		})
	})

	return r
}
