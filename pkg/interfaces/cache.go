package interfaces

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss возвращается, когда значение по ключу не найдено
var ErrCacheMiss = errors.New("cache: key not found")

// CachePort определяет интерфейс для работы с системой кэширования.
// Реализация может использовать Redis или in-memory хранилище.
// Движок синхронизации использует кэш для хранилища идемпотентности
// webhook-событий и распределенных блокировок массовых задач.
type CachePort interface {
	// Get получает значение из кэша по ключу
	// Возвращает ErrCacheMiss, если значение не найдено
	Get(ctx context.Context, key string) ([]byte, error)

	// GetWithTenant получает значение из кэша по ключу с учетом ID арендатора
	// Помогает обеспечить изоляцию данных в многоарендной системе
	GetWithTenant(ctx context.Context, key string, tenantID string) ([]byte, error)

	// Set сохраняет значение в кэше с указанным сроком действия
	// Если expiration равно 0, срок действия не устанавливается
	Set(ctx context.Context, key string, value []byte, expiration time.Duration) error

	// SetWithTenant сохраняет значение в кэше с учетом ID арендатора
	SetWithTenant(ctx context.Context, key string, value []byte, tenantID string, expiration time.Duration) error

	// SetNX сохраняет значение только если ключ еще не существует.
	// Возвращает true, если значение было записано. Основа дедупликации
	// webhook-событий: первый записавший выигрывает.
	SetNX(ctx context.Context, key string, value []byte, expiration time.Duration) (bool, error)

	// SetNXWithTenant выполняет SetNX с учетом ID арендатора
	SetNXWithTenant(ctx context.Context, key string, value []byte, tenantID string, expiration time.Duration) (bool, error)

	// Delete удаляет значение из кэша по ключу
	Delete(ctx context.Context, key string) error

	// DeleteWithTenant удаляет значение из кэша по ключу с учетом ID арендатора
	DeleteWithTenant(ctx context.Context, key string, tenantID string) error

	// Lock пытается получить блокировку с указанным ключом
	// Возвращает true, если блокировка получена успешно
	// Используется для взаимного исключения массовых задач синхронизации
	Lock(ctx context.Context, key string, expiration time.Duration) (bool, error)

	// LockWithTenant пытается получить блокировку с учетом ID арендатора
	LockWithTenant(ctx context.Context, key string, tenantID string, expiration time.Duration) (bool, error)

	// Unlock освобождает блокировку
	Unlock(ctx context.Context, key string) error

	// UnlockWithTenant освобождает блокировку с учетом ID арендатора
	UnlockWithTenant(ctx context.Context, key string, tenantID string) error

	// Close закрывает соединение с системой кэширования
	Close() error
}
