//go:build integration

package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"connector/internal/testinfra"
)

func TestRedisStoreTokens(t *testing.T) {
	client := testinfra.Redis(t)
	store := NewRedisStore(client)
	ctx := context.Background()

	ok, err := store.Acquire(ctx, "lock:m1", "owner-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Acquire(ctx, "lock:m1", "owner-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "held lock cannot be taken")

	require.NoError(t, store.Release(ctx, "lock:m1", "owner-b"))
	held, err := client.Get(ctx, "lock:m1").Result()
	require.NoError(t, err)
	assert.Equal(t, "owner-a", held, "foreign token does not release")

	require.NoError(t, store.Release(ctx, "lock:m1", "owner-a"))
	ok, err = store.Acquire(ctx, "lock:m1", "owner-b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisStoreExpiry(t *testing.T) {
	store := NewRedisStore(testinfra.Redis(t))
	ctx := context.Background()

	ok, err := store.Acquire(ctx, "lock:m2", "owner-a", 200*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Eventually(t, func() bool {
		ok, err := store.Acquire(ctx, "lock:m2", "owner-b", time.Minute)
		return err == nil && ok
	}, 5*time.Second, 100*time.Millisecond)
}
