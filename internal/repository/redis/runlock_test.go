package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLock(t *testing.T) (*miniredis.Miniredis, *redisRunLock) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, NewRunLock(client, time.Minute).(*redisRunLock)
}

func TestRunLock_Exclusive(t *testing.T) {
	ctx := context.Background()
	_, lock := newTestLock(t)

	ok, err := lock.Acquire(ctx, "host-a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = lock.Acquire(ctx, "host-b")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, lock.Release(ctx, "host-a"))

	ok, err = lock.Acquire(ctx, "host-b")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRunLock_ReleaseIgnoresOtherOwner(t *testing.T) {
	ctx := context.Background()
	mr, lock := newTestLock(t)

	ok, err := lock.Acquire(ctx, "host-a")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, lock.Release(ctx, "host-b"))

	value, err := mr.Get(runLockKey)
	require.NoError(t, err)
	assert.Equal(t, "host-a", value)
}

func TestRunLock_Expires(t *testing.T) {
	ctx := context.Background()
	mr, lock := newTestLock(t)

	ok, err := lock.Acquire(ctx, "host-a")
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Minute)

	ok, err = lock.Acquire(ctx, "host-b")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRunLock_ExtendKeepsOwnerAlive(t *testing.T) {
	ctx := context.Background()
	mr, lock := newTestLock(t)

	ok, err := lock.Acquire(ctx, "host-a")
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(50 * time.Second)
	extended, err := lock.Extend(ctx, "host-a")
	require.NoError(t, err)
	assert.True(t, extended)
	mr.FastForward(50 * time.Second)

	ok, err = lock.Acquire(ctx, "host-b")
	require.NoError(t, err)
	assert.False(t, ok, "extended lock outlives its first ttl")

	extended, err = lock.Extend(ctx, "host-b")
	require.NoError(t, err)
	assert.False(t, extended)

	mr.FastForward(2 * time.Minute)
	extended, err = lock.Extend(ctx, "host-a")
	require.NoError(t, err)
	assert.False(t, extended, "an expired lock cannot be extended")
}
