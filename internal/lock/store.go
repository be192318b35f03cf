package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"connector/pkg/circuitbreaker"
)

// Store holds lock keys with an owner token.
type Store interface {
	Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, token string) error
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis SetNX failed: %w", err)
	}
	return ok, nil
}

// Release deletes key only while it still holds token.
func (s *RedisStore) Release(ctx context.Context, key, token string) error {
	if err := releaseScript.Run(ctx, s.client, []string{key}, token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("redis release failed: %w", err)
	}
	return nil
}

type CircuitBreakerStore struct {
	store Store
	cb    *circuitbreaker.Wrapper
}

// NewCircuitBreakerStore wraps store. A nil breaker passes calls through.
func NewCircuitBreakerStore(store Store, cb *circuitbreaker.Wrapper) *CircuitBreakerStore {
	return &CircuitBreakerStore{store: store, cb: cb}
}

func (s *CircuitBreakerStore) Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if s.cb == nil {
		return s.store.Acquire(ctx, key, token, ttl)
	}

	result, err := s.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		return s.store.Acquire(ctx, key, token, ttl)
	})
	if err != nil {
		if s.cb.IsOpen() {
			return false, fmt.Errorf("circuit breaker is open for %s: %w", s.cb.Name(), err)
		}
		return false, err
	}

	ok, _ := result.(bool)
	return ok, nil
}

func (s *CircuitBreakerStore) Release(ctx context.Context, key, token string) error {
	if s.cb == nil {
		return s.store.Release(ctx, key, token)
	}
	return s.cb.Run(ctx, func() error {
		return s.store.Release(ctx, key, token)
	})
}

func (s *CircuitBreakerStore) State() string {
	if s.cb == nil {
		return "disabled"
	}
	return s.cb.State().String()
}

// MemoryStore is a process local Store for single instance deployments.
type MemoryStore struct {
	mu    sync.Mutex
	locks map[string]memoryLock
	now   func() time.Time
}

type memoryLock struct {
	token   string
	expires time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{locks: make(map[string]memoryLock), now: time.Now}
}

func (s *MemoryStore) Acquire(_ context.Context, key, token string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if held, ok := s.locks[key]; ok && now.Before(held.expires) {
		return false, nil
	}
	s.locks[key] = memoryLock{token: token, expires: now.Add(ttl)}
	return true, nil
}

func (s *MemoryStore) Release(_ context.Context, key, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if held, ok := s.locks[key]; ok && held.token == token {
		delete(s.locks, key)
	}
	return nil
}
