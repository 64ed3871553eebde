package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/athebyme/gomarket-platform/sync-service/pkg/interfaces"
	gocache "github.com/patrickmn/go-cache"
)

// MemoryCache реализация CachePort поверх patrickmn/go-cache.
// Применяется в dev-окружении и тестах, где Redis недоступен.
// Семантика SetNX/Lock та же, но только в пределах одного процесса.
type MemoryCache struct {
	store *gocache.Cache
	mu    sync.Mutex
}

// NewMemoryCache создает in-memory кэш с указанным сроком действия по умолчанию
func NewMemoryCache(defaultExpiration time.Duration) interfaces.CachePort {
	return &MemoryCache{
		store: gocache.New(defaultExpiration, 10*time.Minute),
	}
}

func (m *MemoryCache) buildKey(key, tenantID string) string {
	if tenantID != "" {
		return fmt.Sprintf("tenant:%s:%s", tenantID, key)
	}
	return key
}

func (m *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	if val, ok := m.store.Get(key); ok {
		return val.([]byte), nil
	}
	return nil, interfaces.ErrCacheMiss
}

func (m *MemoryCache) GetWithTenant(ctx context.Context, key string, tenantID string) ([]byte, error) {
	return m.Get(ctx, m.buildKey(key, tenantID))
}

func (m *MemoryCache) Set(ctx context.Context, key string, value []byte, expiration time.Duration) error {
	if expiration == 0 {
		expiration = gocache.NoExpiration
	}
	m.store.Set(key, value, expiration)
	return nil
}

func (m *MemoryCache) SetWithTenant(ctx context.Context, key string, value []byte, tenantID string, expiration time.Duration) error {
	return m.Set(ctx, m.buildKey(key, tenantID), value, expiration)
}

func (m *MemoryCache) SetNX(ctx context.Context, key string, value []byte, expiration time.Duration) (bool, error) {
	// go-cache Add атомарен только в пределах своей внутренней блокировки,
	// но нам нужна пара "проверить и записать" с нашей семантикой TTL
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.store.Get(key); ok {
		return false, nil
	}
	if expiration == 0 {
		expiration = gocache.NoExpiration
	}
	m.store.Set(key, value, expiration)
	return true, nil
}

func (m *MemoryCache) SetNXWithTenant(ctx context.Context, key string, value []byte, tenantID string, expiration time.Duration) (bool, error) {
	return m.SetNX(ctx, m.buildKey(key, tenantID), value, expiration)
}

func (m *MemoryCache) Delete(ctx context.Context, key string) error {
	m.store.Delete(key)
	return nil
}

func (m *MemoryCache) DeleteWithTenant(ctx context.Context, key string, tenantID string) error {
	return m.Delete(ctx, m.buildKey(key, tenantID))
}

func (m *MemoryCache) Lock(ctx context.Context, key string, expiration time.Duration) (bool, error) {
	return m.SetNX(ctx, "lock:"+key, []byte(lockValue), expiration)
}

func (m *MemoryCache) LockWithTenant(ctx context.Context, key string, tenantID string, expiration time.Duration) (bool, error) {
	return m.Lock(ctx, m.buildKey(key, tenantID), expiration)
}

func (m *MemoryCache) Unlock(ctx context.Context, key string) error {
	m.store.Delete("lock:" + key)
	return nil
}

func (m *MemoryCache) UnlockWithTenant(ctx context.Context, key string, tenantID string) error {
	return m.Unlock(ctx, m.buildKey(key, tenantID))
}

func (m *MemoryCache) Close() error {
	m.store.Flush()
	return nil
}
