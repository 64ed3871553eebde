package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/athebyme/gomarket-platform/sync-service/internal/domain/models"
	"github.com/athebyme/gomarket-platform/sync-service/internal/domain/services"
	"github.com/athebyme/gomarket-platform/sync-service/pkg/interfaces"
	"github.com/athebyme/gomarket-platform/sync-service/pkg/utils"
)

// SyncHandler обработчик запросов движка синхронизации
type SyncHandler struct {
	syncService services.SyncServiceInterface
	reporter    services.ReporterInterface
	logger      interfaces.LoggerPort
}

// NewSyncHandler создает новый обработчик синхронизации
func NewSyncHandler(syncService services.SyncServiceInterface, reporter services.ReporterInterface, logger interfaces.LoggerPort) *SyncHandler {
	return &SyncHandler{
		syncService: syncService,
		reporter:    reporter,
		logger:      logger,
	}
}

// errorResponse представляет структуру ответа с ошибкой
type errorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

// response представляет структуру успешного ответа
type response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Meta    interface{} `json:"meta,omitempty"`
}

// SubmitJob обрабатывает запрос на создание задачи синхронизации.
// syncId возвращается немедленно, задача выполняется асинхронно.
func (h *SyncHandler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := r.Context().Value("tenant_id").(string)
	if !ok || tenantID == "" {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{
			Error:   "bad_request",
			Code:    http.StatusBadRequest,
			Message: "ID тенанта не указан",
		})
		return
	}

	var data models.ProductSyncJobData
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{
			Error:   "bad_request",
			Code:    http.StatusBadRequest,
			Message: "Некорректное тело запроса",
		})
		return
	}
	data.TenantID = tenantID

	syncID, err := h.syncService.SubmitJob(r.Context(), &data)
	if err != nil {
		if errors.Is(err, models.ErrJobAlreadyRunning) {
			render.Status(r, http.StatusConflict)
			render.JSON(w, r, errorResponse{
				Error:   "conflict",
				Code:    http.StatusConflict,
				Message: "Массовая синхронизация для этой пары tenant/source уже выполняется",
			})
			return
		}
		h.logger.ErrorWithContext(r.Context(), "Ошибка создания задачи синхронизации",
			interfaces.LogField{Key: "error", Value: err.Error()})
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{
			Error:   "bad_request",
			Code:    http.StatusBadRequest,
			Message: err.Error(),
		})
		return
	}

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, response{
		Success: true,
		Data:    map[string]string{"sync_id": syncID},
	})
}

// CancelJob обрабатывает запрос отмены выполняющейся задачи.
// Отмена кооперативная: задача останавливается на ближайшей границе
// записи и фиксируется как FAILED с накопленной статистикой.
func (h *SyncHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	syncID := chi.URLParam(r, "id")

	if !h.syncService.CancelJob(syncID) {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, errorResponse{
			Error:   "not_found",
			Code:    http.StatusNotFound,
			Message: "Задача не выполняется",
		})
		return
	}

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, response{
		Success: true,
		Data:    map[string]string{"sync_id": syncID},
	})
}

// GetJob обрабатывает запрос состояния задачи по syncId
func (h *SyncHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	syncID := chi.URLParam(r, "id")
	tenantID, _ := r.Context().Value("tenant_id").(string)

	job, err := h.syncService.GetJob(r.Context(), syncID, tenantID)
	if err != nil {
		if errors.Is(err, models.ErrJobNotFound) {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, errorResponse{
				Error:   "not_found",
				Code:    http.StatusNotFound,
				Message: "Задача синхронизации не найдена",
			})
			return
		}
		h.logger.ErrorWithContext(r.Context(), "Ошибка получения задачи синхронизации",
			interfaces.LogField{Key: "error", Value: err.Error()})
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, errorResponse{
			Error:   "internal_error",
			Code:    http.StatusInternalServerError,
			Message: "Ошибка получения задачи синхронизации",
		})
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, response{
		Success: true,
		Data:    job,
	})
}

// GetResult обрабатывает запрос итога завершенной задачи
func (h *SyncHandler) GetResult(w http.ResponseWriter, r *http.Request) {
	syncID := chi.URLParam(r, "id")
	tenantID, _ := r.Context().Value("tenant_id").(string)

	result, err := h.syncService.GetResult(r.Context(), syncID, tenantID)
	if err != nil {
		if errors.Is(err, models.ErrJobNotFound) {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, errorResponse{
				Error:   "not_found",
				Code:    http.StatusNotFound,
				Message: "Результат задачи еще не доступен",
			})
			return
		}
		h.logger.ErrorWithContext(r.Context(), "Ошибка получения результата синхронизации",
			interfaces.LogField{Key: "error", Value: err.Error()})
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, errorResponse{
			Error:   "internal_error",
			Code:    http.StatusInternalServerError,
			Message: "Ошибка получения результата синхронизации",
		})
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, response{
		Success: true,
		Data:    result,
	})
}

// IngestWebhook обрабатывает входящее webhook-событие источника.
// Подтверждение возвращается немедленно: дубликаты и устаревшие
// события подтверждаются без постановки задачи.
func (h *SyncHandler) IngestWebhook(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := r.Context().Value("tenant_id").(string)
	source := models.ProductSyncSource(chi.URLParam(r, "source"))

	var event models.WebhookEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{
			Error:   "bad_request",
			Code:    http.StatusBadRequest,
			Message: "Некорректное тело события",
		})
		return
	}
	event.TenantID = tenantID
	event.Source = source
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	outcome, syncID, err := h.syncService.IngestWebhook(r.Context(), &event)
	if err != nil {
		h.logger.ErrorWithContext(r.Context(), "Ошибка приема webhook-события",
			interfaces.LogField{Key: "error", Value: err.Error()},
			interfaces.LogField{Key: "event_id", Value: event.EventID})
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, errorResponse{
			Error:   "internal_error",
			Code:    http.StatusInternalServerError,
			Message: "Ошибка приема события",
		})
		return
	}

	body := map[string]string{"outcome": string(outcome)}
	if syncID != "" {
		body["sync_id"] = syncID
	}

	status := http.StatusOK
	if outcome == models.WebhookAccepted {
		status = http.StatusAccepted
	}
	render.Status(r, status)
	render.JSON(w, r, response{
		Success: true,
		Data:    body,
	})
}

// ListConflicts обрабатывает запрос списка неразрешенных конфликтов
func (h *SyncHandler) ListConflicts(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := r.Context().Value("tenant_id").(string)

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	pagination := utils.NewPagination(page, pageSize, "detected_at", true)

	conflicts, total, err := h.reporter.ListPendingConflicts(r.Context(), tenantID, pagination.GetLimit(), pagination.GetOffset())
	if err != nil {
		h.logger.ErrorWithContext(r.Context(), "Ошибка получения списка конфликтов",
			interfaces.LogField{Key: "error", Value: err.Error()})
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, errorResponse{
			Error:   "internal_error",
			Code:    http.StatusInternalServerError,
			Message: "Ошибка получения списка конфликтов",
		})
		return
	}
	pagination.SetTotal(int64(total))

	render.Status(r, http.StatusOK)
	render.JSON(w, r, response{
		Success: true,
		Data:    conflicts,
		Meta:    pagination,
	})
}

// ResolveConflict обрабатывает внешнее разрешение конфликта по одному полю
func (h *SyncHandler) ResolveConflict(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := r.Context().Value("tenant_id").(string)
	conflictID := chi.URLParam(r, "id")

	var req models.ConflictResolutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Field == "" {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{
			Error:   "bad_request",
			Code:    http.StatusBadRequest,
			Message: "Некорректный запрос разрешения конфликта",
		})
		return
	}

	conflict, err := h.reporter.ResolveConflict(r.Context(), tenantID, conflictID, &req)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrConflictNotFound):
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, errorResponse{
				Error:   "not_found",
				Code:    http.StatusNotFound,
				Message: "Конфликт не найден",
			})
		case errors.Is(err, models.ErrConflictResolved):
			render.Status(r, http.StatusConflict)
			render.JSON(w, r, errorResponse{
				Error:   "conflict",
				Code:    http.StatusConflict,
				Message: "Конфликт уже разрешен",
			})
		default:
			h.logger.ErrorWithContext(r.Context(), "Ошибка разрешения конфликта",
				interfaces.LogField{Key: "error", Value: err.Error()},
				interfaces.LogField{Key: "conflict_id", Value: conflictID})
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, errorResponse{
				Error:   "bad_request",
				Code:    http.StatusBadRequest,
				Message: err.Error(),
			})
		}
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, response{
		Success: true,
		Data:    conflict,
	})
}
