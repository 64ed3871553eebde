package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/athebyme/gomarket-platform/sync-service/pkg/interfaces"
)

func TestMemoryCacheSetGet(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	ctx := context.Background()

	_, err := c.Get(ctx, "missing")
	assert.ErrorIs(t, err, interfaces.ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "key", []byte("value"), time.Minute))
	got, err := c.Get(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), got)

	require.NoError(t, c.Delete(ctx, "key"))
	_, err = c.Get(ctx, "key")
	assert.ErrorIs(t, err, interfaces.ErrCacheMiss)
}

func TestMemoryCacheSetNXFirstWriterWins(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	ctx := context.Background()

	stored, err := c.SetNX(ctx, "key", []byte("first"), time.Minute)
	require.NoError(t, err)
	assert.True(t, stored)

	stored, err = c.SetNX(ctx, "key", []byte("second"), time.Minute)
	require.NoError(t, err)
	assert.False(t, stored)

	got, err := c.Get(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), got)
}

func TestMemoryCacheTenantIsolation(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	ctx := context.Background()

	require.NoError(t, c.SetWithTenant(ctx, "key", []byte("a"), "tenant-a", time.Minute))
	require.NoError(t, c.SetWithTenant(ctx, "key", []byte("b"), "tenant-b", time.Minute))

	got, err := c.GetWithTenant(ctx, "key", "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), got)

	got, err = c.GetWithTenant(ctx, "key", "tenant-b")
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), got)

	// ключ без арендатора — отдельное пространство
	_, err = c.Get(ctx, "key")
	assert.ErrorIs(t, err, interfaces.ErrCacheMiss)
}

func TestMemoryCacheLock(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	ctx := context.Background()

	held, err := c.LockWithTenant(ctx, "sync:lock:shopify:bulk", "tenant-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, held)

	// вторая блокировка того же ключа не выдается
	held, err = c.LockWithTenant(ctx, "sync:lock:shopify:bulk", "tenant-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, held)

	// другой арендатор не конкурирует за ключ
	held, err = c.LockWithTenant(ctx, "sync:lock:shopify:bulk", "tenant-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, held)

	require.NoError(t, c.UnlockWithTenant(ctx, "sync:lock:shopify:bulk", "tenant-1"))
	held, err = c.LockWithTenant(ctx, "sync:lock:shopify:bulk", "tenant-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, held)
}

func TestMemoryCacheExpiration(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "key", []byte("value"), 20*time.Millisecond))
	time.Sleep(40 * time.Millisecond)

	_, err := c.Get(ctx, "key")
	assert.ErrorIs(t, err, interfaces.ErrCacheMiss)
}
