package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/athebyme/gomarket-platform/sync-service/internal/domain/models"
)

// webhookAdapter отдает единственную запись из полезной нагрузки
// webhook-события. Используется задачами, созданными приемником webhook:
// пагинации нет, инвентарь берется из самой записи. Запись помечается
// источником самого события, чтобы сверка искала локальный товар по
// исходному ключу связи (source, external_id), а не по транспорту доставки.
type webhookAdapter struct {
	record *models.RawProductRecord
}

// NewWebhookAdapter создает адаптер поверх полезной нагрузки события
func NewWebhookAdapter(event *models.WebhookEvent) (SourceAdapter, error) {
	if event == nil {
		return nil, &models.AdapterError{
			Source:    models.SourceWebhook,
			Op:        "configure",
			Retryable: false,
			Err:       fmt.Errorf("webhook-событие не задано"),
		}
	}

	var data map[string]interface{}
	if err := json.Unmarshal(event.Payload, &data); err != nil {
		return nil, &models.AdapterError{
			Source:    models.SourceWebhook,
			Op:        "decode",
			Retryable: false,
			Err:       fmt.Errorf("некорректная полезная нагрузка события %s: %w", event.EventID, err),
		}
	}

	source := event.Source
	if source == "" {
		source = models.SourceWebhook
	}

	return &webhookAdapter{
		record: &models.RawProductRecord{
			Source: source,
			Data:   data,
		},
	}, nil
}

func (a *webhookAdapter) Source() models.ProductSyncSource {
	return a.record.Source
}

func (a *webhookAdapter) ListAll(ctx context.Context, _ *models.SyncFilter, _ string) (RecordIterator, error) {
	return &sliceIterator{records: []*models.RawProductRecord{a.record}}, nil
}

func (a *webhookAdapter) ListDelta(ctx context.Context, _ time.Time, _ string) (RecordIterator, error) {
	// отметка последней синхронизации к одиночным событиям не применяется:
	// устаревание отслеживается по external_id на приеме события
	return &sliceIterator{records: []*models.RawProductRecord{a.record}}, nil
}

func (a *webhookAdapter) FetchInventory(ctx context.Context, externalIDs []string) (map[string]int, error) {
	return inventoryFromRecords([]*models.RawProductRecord{a.record}, externalIDs), nil
}

// manualAdapter отдает записи, переданные напрямую в задаче.
// Применяется для разовых импортов и миграций каталога.
type manualAdapter struct {
	records []*models.RawProductRecord
}

// NewManualAdapter создает адаптер поверх переданных записей
func NewManualAdapter(records []map[string]interface{}) SourceAdapter {
	wrapped := make([]*models.RawProductRecord, 0, len(records))
	for _, data := range records {
		wrapped = append(wrapped, &models.RawProductRecord{
			Source: models.SourceManual,
			Data:   data,
		})
	}
	return &manualAdapter{records: wrapped}
}

func (a *manualAdapter) Source() models.ProductSyncSource {
	return models.SourceManual
}

func (a *manualAdapter) ListAll(ctx context.Context, _ *models.SyncFilter, cursor string) (RecordIterator, error) {
	return newSliceIterator(models.SourceManual, a.records, cursor)
}

func (a *manualAdapter) ListDelta(ctx context.Context, _ time.Time, cursor string) (RecordIterator, error) {
	// без отметок времени в ручных записях дельта совпадает с полным списком
	return newSliceIterator(models.SourceManual, a.records, cursor)
}

func (a *manualAdapter) FetchInventory(ctx context.Context, externalIDs []string) (map[string]int, error) {
	return inventoryFromRecords(a.records, externalIDs), nil
}

func inventoryFromRecords(records []*models.RawProductRecord, externalIDs []string) map[string]int {
	wanted := make(map[string]bool, len(externalIDs))
	for _, id := range externalIDs {
		wanted[id] = true
	}

	result := make(map[string]int)
	for _, rec := range records {
		id, _ := rec.Data["external_id"].(string)
		if id == "" || (len(wanted) > 0 && !wanted[id]) {
			continue
		}
		if qty, ok := numericValue(rec.Data["quantity"]); ok {
			result[id] = qty
		}
	}
	return result
}

func numericValue(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return int(f), true
	default:
		return 0, false
	}
}
