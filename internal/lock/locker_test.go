package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"connector/internal/config"
	"connector/internal/logger"
	"connector/pkg/errors"
)

func newTestLocker(store Store, wait time.Duration) *Locker {
	return NewLocker(store, config.LockConfig{
		TTL:           time.Minute,
		WaitTimeout:   wait,
		RetryInterval: time.Millisecond,
	}, logger.NopLogger())
}

func TestWithLockIsExclusive(t *testing.T) {
	locker := newTestLocker(NewMemoryStore(), time.Second)

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := locker.WithLock(context.Background(), "m1", func(context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					old := atomic.LoadInt32(&maxInside)
					if n <= old || atomic.CompareAndSwapInt32(&maxInside, old, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
}

func TestWithLockTimesOut(t *testing.T) {
	store := NewMemoryStore()
	ok, err := store.Acquire(context.Background(), "connector:lock:m1", "other", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	locker := newTestLocker(store, 5*time.Millisecond)
	called := false
	err = locker.WithLock(context.Background(), "m1", func(context.Context) error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.False(t, called)
	assert.True(t, errors.HasCode(err, errors.CodeConcurrentModification))
	assert.True(t, errors.IsRetryable(err))
}

func TestWithLockDifferentMessagesDoNotBlock(t *testing.T) {
	locker := newTestLocker(NewMemoryStore(), 0)
	err := locker.WithLock(context.Background(), "m1", func(ctx context.Context) error {
		return locker.WithLock(ctx, "m2", func(context.Context) error { return nil })
	})
	assert.NoError(t, err)
}

func TestMemoryStoreReleaseNeedsToken(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	ok, _ := store.Acquire(ctx, "k", "a", time.Minute)
	require.True(t, ok)
	require.NoError(t, store.Release(ctx, "k", "b"))

	ok, _ = store.Acquire(ctx, "k", "b", time.Minute)
	assert.False(t, ok)

	require.NoError(t, store.Release(ctx, "k", "a"))
	ok, _ = store.Acquire(ctx, "k", "b", time.Minute)
	assert.True(t, ok)
}

func TestMemoryStoreExpiry(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()
	store.now = func() time.Time { return now }

	ok, _ := store.Acquire(context.Background(), "k", "a", time.Second)
	require.True(t, ok)

	now = now.Add(2 * time.Second)
	ok, _ = store.Acquire(context.Background(), "k", "b", time.Second)
	assert.True(t, ok)
}
