package models

import (
	"errors"
	"fmt"
	"time"
)

// ----------------- sync jobs ------------------
var (
	ErrJobNotFound       = errors.New("sync job not found")
	ErrJobAlreadyRunning = errors.New("a bulk sync for this tenant/source is already running")
	ErrJobTerminal       = errors.New("sync job is already in a terminal state")
	ErrUnknownSource     = errors.New("unknown product sync source")
	ErrUnknownStrategy   = errors.New("unknown conflict resolution strategy")
	ErrConflictNotFound  = errors.New("product conflict not found")
	ErrConflictResolved  = errors.New("product conflict is already resolved")
)

// NormalizationError означает, что сырая запись нарушила канонический контракт.
// Запись исключается из пакета, задача продолжается.
type NormalizationError struct {
	ExternalID string
	SKU        string
	Field      string
	Reason     string
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalization failed for %q (sku %q): field %s: %s",
		e.ExternalID, e.SKU, e.Field, e.Reason)
}

// AdapterError описывает сбой адаптера источника. Retryable — сетевые
// таймауты и rate limit, фатальные — ошибки авторизации и некорректная
// конфигурация: они прерывают всю задачу.
type AdapterError struct {
	Source    ProductSyncSource
	Op        string
	Retryable bool
	// Cooldown задан, когда источник сообщил об ограничении частоты запросов
	Cooldown time.Duration
	Err      error
}

func (e *AdapterError) Error() string {
	kind := "fatal"
	if e.Retryable {
		kind = "retryable"
	}
	return fmt.Sprintf("adapter %s: %s: %s error: %v", e.Source, e.Op, kind, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

// IsRetryable возвращает true, если ошибка является временной ошибкой адаптера
func IsRetryable(err error) bool {
	var ae *AdapterError
	if errors.As(err, &ae) {
		return ae.Retryable
	}
	return false
}

// RateLimitCooldown возвращает паузу, запрошенную источником, если она есть
func RateLimitCooldown(err error) (time.Duration, bool) {
	var ae *AdapterError
	if errors.As(err, &ae) && ae.Cooldown > 0 {
		return ae.Cooldown, true
	}
	return 0, false
}

// PersistenceError означает сбой слоя хранения; поднимается до уровня задачи
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
