package lock

import (
	"context"
	"time"

	"github.com/google/uuid"

	"connector/internal/config"
	"connector/internal/constants"
	"connector/internal/logger"
	"connector/pkg/errors"
)

// Locker serializes work on a single message across connector instances.
type Locker struct {
	store         Store
	prefix        string
	ttl           time.Duration
	wait          time.Duration
	retryInterval time.Duration
	logger        logger.Logger
}

func NewLocker(store Store, cfg config.LockConfig, log logger.Logger) *Locker {
	l := &Locker{
		store:         store,
		prefix:        cfg.KeyPrefix,
		ttl:           cfg.TTL,
		wait:          cfg.WaitTimeout,
		retryInterval: cfg.RetryInterval,
		logger:        log,
	}
	if l.prefix == "" {
		l.prefix = constants.CacheKeyPrefixLock
	}
	if l.ttl <= 0 {
		l.ttl = constants.DefaultLockTTL
	}
	if l.retryInterval <= 0 {
		l.retryInterval = 50 * time.Millisecond
	}
	return l
}

func (l *Locker) key(messageID string) string {
	return l.prefix + messageID
}

// WithLock runs fn while holding the lock of messageID. When the lock stays
// taken past the wait timeout it returns a retryable M102 error.
func (l *Locker) WithLock(ctx context.Context, messageID string, fn func(ctx context.Context) error) error {
	key := l.key(messageID)
	token := uuid.NewString()

	deadline := time.Now().Add(l.wait)
	for {
		ok, err := l.store.Acquire(ctx, key, token, l.ttl)
		if err != nil {
			return errors.ErrServiceUnavailable.WithCause(err).AsRetryable()
		}
		if ok {
			break
		}
		if !time.Now().Before(deadline) {
			return errors.ErrConcurrentModification.WithMessage("message %s is locked by another worker", messageID)
		}

		timer := time.NewTimer(l.retryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		if err := l.store.Release(releaseCtx, key, token); err != nil {
			l.logger.WarnwCtx(ctx, "Failed to release message lock",
				"message_id", messageID,
				"error", err,
			)
		}
	}()

	return fn(ctx)
}
