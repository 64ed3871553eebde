package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/athebyme/gomarket-platform/sync-service/internal/domain/models"
	"github.com/athebyme/gomarket-platform/sync-service/pkg/interfaces"
)

// DefaultIdempotencyTTL — максимальное ожидаемое окно повторной доставки
const DefaultIdempotencyTTL = 24 * time.Hour

// IdempotencyGuard обеспечивает семантику at-most-once для webhook-событий
// поверх транспорта с доставкой at-least-once. Дедупликация строится на
// SetNX: первый записавший эффективный ключ выигрывает, остальные доставки
// того же события отбрасываются без работы конвейера.
type IdempotencyGuard struct {
	cache  interfaces.CachePort
	logger interfaces.LoggerPort
	ttl    time.Duration
}

// NewIdempotencyGuard создает защиту идемпотентности с TTL хранилища
// недавних событий. ttl <= 0 заменяется значением по умолчанию (24h).
func NewIdempotencyGuard(cache interfaces.CachePort, logger interfaces.LoggerPort, ttl time.Duration) *IdempotencyGuard {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return &IdempotencyGuard{
		cache:  cache,
		logger: logger,
		ttl:    ttl,
	}
}

// Admit проверяет событие и возвращает исход:
//   - duplicate: эффективный ключ уже встречался в окне TTL;
//   - stale: событие старше последнего примененного для того же externalId;
//   - accepted: событие допускается в конвейер как одиночная задача.
//
// Дубликаты и устаревшие события — не ошибки, счетчики задач не меняются.
func (g *IdempotencyGuard) Admit(ctx context.Context, event *models.WebhookEvent) (models.WebhookOutcome, error) {
	key := eventKey(event)
	stored, err := g.cache.SetNXWithTenant(ctx, key, []byte(event.Timestamp.UTC().Format(time.RFC3339Nano)), event.TenantID, g.ttl)
	if err != nil {
		return "", fmt.Errorf("idempotency store unavailable: %w", err)
	}
	if !stored {
		g.logger.InfoWithContext(ctx, "повторная доставка webhook-события пропущена",
			interfaces.LogField{Key: "event_id", Value: event.EventID},
			interfaces.LogField{Key: "source", Value: string(event.Source)},
		)
		return models.WebhookDuplicate, nil
	}

	externalID := externalIDFromPayload(event.Payload)
	if externalID == "" {
		return models.WebhookAccepted, nil
	}

	last, err := g.lastApplied(ctx, event.TenantID, event.Source, externalID)
	if err != nil {
		return "", err
	}
	if !last.IsZero() && event.Timestamp.Before(last) {
		g.logger.InfoWithContext(ctx, "устаревшее webhook-событие пропущено",
			interfaces.LogField{Key: "event_id", Value: event.EventID},
			interfaces.LogField{Key: "external_id", Value: externalID},
			interfaces.LogField{Key: "event_at", Value: event.Timestamp},
			interfaces.LogField{Key: "last_applied_at", Value: last},
		)
		return models.WebhookStale, nil
	}

	return models.WebhookAccepted, nil
}

// Forget удаляет эффективный ключ события из хранилища недавних событий.
// Вызывается, когда допущенное событие не удалось поставить в обработку:
// иначе повторная доставка была бы отброшена как дубликат, хотя событие
// так и не было применено.
func (g *IdempotencyGuard) Forget(ctx context.Context, event *models.WebhookEvent) error {
	if err := g.cache.DeleteWithTenant(ctx, eventKey(event), event.TenantID); err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}

// MarkApplied фиксирует отметку времени последнего примененного события
// для externalId. Вызывается после успешного применения записи; более
// старая отметка никогда не затирает более новую.
func (g *IdempotencyGuard) MarkApplied(ctx context.Context, event *models.WebhookEvent) error {
	externalID := externalIDFromPayload(event.Payload)
	if externalID == "" {
		return nil
	}

	last, err := g.lastApplied(ctx, event.TenantID, event.Source, externalID)
	if err != nil {
		return err
	}
	if !last.IsZero() && !event.Timestamp.After(last) {
		return nil
	}

	key := lastAppliedKey(event.Source, externalID)
	value := []byte(event.Timestamp.UTC().Format(time.RFC3339Nano))
	if err := g.cache.SetWithTenant(ctx, key, value, event.TenantID, g.ttl); err != nil {
		return fmt.Errorf("failed to record last-applied timestamp: %w", err)
	}
	return nil
}

func (g *IdempotencyGuard) lastApplied(ctx context.Context, tenantID string, source models.ProductSyncSource, externalID string) (time.Time, error) {
	raw, err := g.cache.GetWithTenant(ctx, lastAppliedKey(source, externalID), tenantID)
	if err != nil {
		if errors.Is(err, interfaces.ErrCacheMiss) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("idempotency store unavailable: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, string(raw))
	if err != nil {
		// поврежденная отметка не должна блокировать прием событий
		return time.Time{}, nil
	}
	return t, nil
}

func eventKey(event *models.WebhookEvent) string {
	return fmt.Sprintf("webhook:event:%s:%s", event.Source, event.EffectiveKey())
}

func lastAppliedKey(source models.ProductSyncSource, externalID string) string {
	return fmt.Sprintf("webhook:last:%s:%s", source, externalID)
}

func externalIDFromPayload(payload json.RawMessage) string {
	if len(payload) == 0 {
		return ""
	}
	var data struct {
		ExternalID string `json:"external_id"`
	}
	if err := json.Unmarshal(payload, &data); err != nil {
		return ""
	}
	return data.ExternalID
}
