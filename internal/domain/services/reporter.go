package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/athebyme/gomarket-platform/sync-service/internal/adapters/messaging"
	"github.com/athebyme/gomarket-platform/sync-service/internal/adapters/storage"
	"github.com/athebyme/gomarket-platform/sync-service/internal/domain/models"
	"github.com/athebyme/gomarket-platform/sync-service/pkg/interfaces"
)

// Cadences задает рекомендованные интервалы между синхронизациями.
// Планировщик — внешний коллаборатор, движок только подсказывает
// следующий запуск в результате задачи.
type Cadences struct {
	Full      time.Duration
	Delta     time.Duration
	Inventory time.Duration
	Prices    time.Duration
}

// DefaultCadences — дельта каждые 6 часов, полная синхронизация раз в
// сутки, инвентарь каждый час
func DefaultCadences() Cadences {
	return Cadences{
		Full:      24 * time.Hour,
		Delta:     6 * time.Hour,
		Inventory: time.Hour,
		Prices:    6 * time.Hour,
	}
}

func (c Cadences) forMode(mode models.SyncMode) time.Duration {
	switch mode {
	case models.SyncModeFull:
		return c.Full
	case models.SyncModeInventoryOnly:
		return c.Inventory
	case models.SyncModePricesOnly:
		return c.Prices
	default:
		return c.Delta
	}
}

// ReporterInterface определяет операции работы с результатами и конфликтами
type ReporterInterface interface {
	ResolveConflict(ctx context.Context, tenantID, conflictID string, req *models.ConflictResolutionRequest) (*models.ProductConflict, error)
	ListPendingConflicts(ctx context.Context, tenantID string, limit, offset int) ([]*models.ProductConflict, int, error)
}

// Reporter собирает итог задачи синхронизации, сохраняет его вместе
// с конфликтами и публикует события для внешних потребителей.
// Также обслуживает внешнее разрешение конфликтов.
type Reporter struct {
	repository storage.SyncStoragePort
	broker     interfaces.MessagingPort
	logger     interfaces.LoggerPort
	cadences   Cadences
}

// NewReporter создает репортер результатов
func NewReporter(repository storage.SyncStoragePort, broker interfaces.MessagingPort, logger interfaces.LoggerPort, cadences Cadences) *Reporter {
	if cadences == (Cadences{}) {
		cadences = DefaultCadences()
	}
	return &Reporter{
		repository: repository,
		broker:     broker,
		logger:     logger,
		cadences:   cadences,
	}
}

// resultEvent — конверт события результата для брокера
type resultEvent struct {
	Event    string                       `json:"event"`
	TenantID string                       `json:"tenant_id"`
	Result   *models.ProductSyncJobResult `json:"result"`
}

// Report собирает и сохраняет итог задачи, персистит конфликты для
// последующего ручного разрешения и публикует событие завершения.
// Сбой публикации не отменяет сохраненный результат.
func (r *Reporter) Report(ctx context.Context, job *models.SyncJob, status models.SyncStatus, stats models.SyncStats, syncErrors []models.SyncError, conflicts []*models.ProductConflict, startedAt time.Time) (*models.ProductSyncJobResult, error) {
	now := time.Now().UTC()
	result := &models.ProductSyncJobResult{
		Success:             status == models.SyncStatusCompleted,
		SyncID:              job.SyncID,
		Status:              status,
		Stats:               stats,
		Errors:              syncErrors,
		Conflicts:           conflicts,
		DurationMs:          now.Sub(startedAt).Milliseconds(),
		LastSyncAt:          now,
		NextSyncRecommended: now.Add(r.cadences.forMode(job.Mode)),
	}

	for _, conflict := range conflicts {
		if err := r.repository.RecordConflict(ctx, conflict); err != nil {
			return nil, fmt.Errorf("failed to record conflict: %w", err)
		}
		r.publish(ctx, messaging.ConflictDetectedEvent, job.TenantID, job.SyncID, conflict)
	}

	if err := r.repository.SaveResult(ctx, job.TenantID, result); err != nil {
		return nil, fmt.Errorf("failed to save sync result: %w", err)
	}

	event := messaging.SyncCompletedEvent
	if status == models.SyncStatusFailed {
		event = messaging.SyncFailedEvent
	}
	r.publish(ctx, event, job.TenantID, job.SyncID, result)

	return result, nil
}

// ResolveConflict применяет внешнее решение по одному полю конфликта:
// выбранное значение записывается в товар, поле снимается с ожидания.
// Когда полей не остается, конфликт помечается разрешенным.
func (r *Reporter) ResolveConflict(ctx context.Context, tenantID, conflictID string, req *models.ConflictResolutionRequest) (*models.ProductConflict, error) {
	conflict, err := r.repository.GetConflict(ctx, conflictID, tenantID)
	if err != nil {
		return nil, err
	}
	if conflict == nil {
		return nil, models.ErrConflictNotFound
	}
	if conflict.Resolved {
		return nil, models.ErrConflictResolved
	}

	idx := -1
	for i, field := range conflict.Fields {
		if field.Field == req.Field {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil, fmt.Errorf("conflict %s has no pending field %q", conflictID, req.Field)
	}

	product, err := r.repository.FindBySourceAndExternalID(ctx, tenantID, conflict.Source, conflict.ExternalID)
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, fmt.Errorf("product %s/%s not found for conflict %s", conflict.Source, conflict.ExternalID, conflictID)
	}

	if err := applyChosenValue(product, req.Field, req.ChosenValue); err != nil {
		return nil, err
	}
	product.UpdatedAt = time.Now().UTC()

	txCtx, err := r.repository.BeginTx(ctx)
	if err != nil {
		return nil, &models.PersistenceError{Op: "begin_tx", Err: err}
	}

	if _, err := r.repository.UpsertProduct(txCtx, product); err != nil {
		_ = r.repository.RollbackTx(txCtx)
		return nil, &models.PersistenceError{Op: "upsert_product", Err: err}
	}

	conflict.Fields = append(conflict.Fields[:idx], conflict.Fields[idx+1:]...)
	if len(conflict.Fields) == 0 {
		now := time.Now().UTC()
		conflict.Resolved = true
		conflict.ResolvedAt = &now
	}
	if err := r.repository.UpdateConflict(txCtx, conflict); err != nil {
		_ = r.repository.RollbackTx(txCtx)
		return nil, &models.PersistenceError{Op: "update_conflict", Err: err}
	}

	if err := r.repository.CommitTx(txCtx); err != nil {
		_ = r.repository.RollbackTx(txCtx)
		return nil, &models.PersistenceError{Op: "commit_tx", Err: err}
	}

	r.publish(ctx, messaging.ConflictResolvedEvent, tenantID, conflict.SyncID, conflict)
	return conflict, nil
}

// ListPendingConflicts возвращает страницу неразрешенных конфликтов арендатора
func (r *Reporter) ListPendingConflicts(ctx context.Context, tenantID string, limit, offset int) ([]*models.ProductConflict, int, error) {
	return r.repository.ListPendingConflicts(ctx, tenantID, limit, offset)
}

func (r *Reporter) publish(ctx context.Context, event string, tenantID, syncID string, payload interface{}) {
	if r.broker == nil {
		return
	}
	body, err := json.Marshal(map[string]interface{}{
		"event":     event,
		"tenant_id": tenantID,
		"sync_id":   syncID,
		"payload":   payload,
	})
	if err != nil {
		return
	}
	// ключ партиционирования сохраняет порядок событий одной задачи
	if err := r.broker.PublishWithKey(ctx, messaging.SyncResultsTopic, tenantID+":"+syncID, body); err != nil {
		r.logger.WarnWithContext(ctx, "не удалось опубликовать событие синхронизации",
			interfaces.LogField{Key: "event", Value: event},
			interfaces.LogField{Key: "sync_id", Value: syncID},
			interfaces.LogField{Key: "error", Value: err.Error()},
		)
	}
}

// applyChosenValue записывает выбранное значение в поле товара.
// Значения приходят из JSON, поэтому числа приводятся из float64/строк.
func applyChosenValue(product *models.LocalProduct, field string, value interface{}) error {
	switch field {
	case "name":
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("field name expects a string value")
		}
		product.Name = s
	case "description":
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("field description expects a string value")
		}
		product.Description = s
	case "price":
		d, ok := decimalField(value)
		if !ok || d.IsNegative() {
			return fmt.Errorf("field price expects a non-negative decimal value")
		}
		product.Price = d.Round(2)
	case "compare_at_price":
		if value == nil {
			product.CompareAtPrice = nil
			break
		}
		d, ok := decimalField(value)
		if !ok || d.IsNegative() {
			return fmt.Errorf("field compare_at_price expects a non-negative decimal value")
		}
		rounded := d.Round(2)
		product.CompareAtPrice = &rounded
	case "currency":
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("field currency expects a string value")
		}
		product.Currency = s
	case "inventory_quantity":
		q, ok := intField(value)
		if !ok || q < 0 {
			return fmt.Errorf("field inventory_quantity expects a non-negative integer value")
		}
		product.InventoryQuantity = q
	case "status":
		s, _ := value.(string)
		status, err := normalizeStatus(s, product.ExternalID, product.SKU)
		if err != nil {
			return fmt.Errorf("field status expects one of active, draft, archived")
		}
		product.Status = status
	default:
		return fmt.Errorf("unknown product field %q", field)
	}
	return nil
}
