package models

import (
	"encoding/json"
	"time"
)

// WebhookEvent представляет событие, доставленное внешним источником.
// Транспорт гарантирует at-least-once, применение должно быть at-most-once
// на эффективный ключ.
type WebhookEvent struct {
	EventType      string            `json:"event_type"`
	EventID        string            `json:"event_id"`
	TenantID       string            `json:"tenant_id"`
	Source         ProductSyncSource `json:"source"`
	Timestamp      time.Time         `json:"timestamp"`
	Payload        json.RawMessage   `json:"payload"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
}

// EffectiveKey возвращает ключ идемпотентности: явный ключ, если задан,
// иначе идентификатор события
func (e *WebhookEvent) EffectiveKey() string {
	if e.IdempotencyKey != "" {
		return e.IdempotencyKey
	}
	return e.EventID
}

// WebhookOutcome описывает исход приема webhook-события
type WebhookOutcome string

const (
	WebhookAccepted  WebhookOutcome = "accepted"
	WebhookDuplicate WebhookOutcome = "duplicate"
	WebhookStale     WebhookOutcome = "stale"
)
