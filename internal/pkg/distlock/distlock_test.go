package distlock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestRedisLockAcquireRelease(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	lock := NewRedisLock(client, RegistryKey("tenant-a", "purchase_process"), time.Minute)
	ok, err := lock.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	// Second holder must not acquire while the first owns the lock.
	other := NewRedisLock(client, RegistryKey("tenant-a", "purchase_process"), time.Minute)
	ok, err = other.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, lock.Release(ctx))

	ok, err = other.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLockScopedPerTenantModel(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	a := NewRedisLock(client, RegistryKey("tenant-a", "purchase_process"), time.Minute)
	b := NewRedisLock(client, RegistryKey("tenant-b", "purchase_process"), time.Minute)
	c := NewRedisLock(client, RegistryKey("tenant-a", "response_curves"), time.Minute)

	for _, l := range []*RedisLock{a, b, c} {
		ok, err := l.Acquire(ctx)
		require.NoError(t, err)
		assert.True(t, ok, "locks for distinct (tenant, model) pairs are independent")
	}
}

func TestRedisLockReleaseOnlyIfOwned(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	key := RegistryKey("tenant-a", "monetary_value")
	owner := NewRedisLock(client, key, time.Minute)
	ok, err := owner.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// A non-owner release must not free the owner's lock.
	stranger := NewRedisLock(client, key, time.Minute)
	require.NoError(t, stranger.Release(ctx))

	ok, err = stranger.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}
