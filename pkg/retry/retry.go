package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	apperrors "connector/pkg/errors"
)

type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) IsRetryable() bool {
	return true
}

func (e *retryableError) Unwrap() error {
	return e.err
}

func NewRetryableError(err error) apperrors.RetryableError {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

type fatalError struct {
	err error
}

func (e *fatalError) Error() string {
	return e.err.Error()
}

func (e *fatalError) IsFatal() bool {
	return true
}

func (e *fatalError) Unwrap() error {
	return e.err
}

func NewFatalError(err error) apperrors.FatalError {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// Policy describes a retry schedule. RandomizationFactor spreads each wait
// by that fraction in both directions; 0 keeps the waits exact.
type Policy struct {
	MaxAttempts         int
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	Multiplier          float64
	RandomizationFactor float64
	MaxElapsedTime      time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:         3,
		InitialInterval:     1 * time.Second,
		MaxInterval:         30 * time.Second,
		Multiplier:          2.0,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		MaxElapsedTime:      5 * time.Minute,
	}
}

// RedeliveryPolicy is the queue redelivery schedule: 5 attempts, 60s first
// delay, doubling each time. The waits carry no jitter.
func RedeliveryPolicy() Policy {
	return Policy{
		MaxAttempts:     5,
		InitialInterval: 60 * time.Second,
		MaxInterval:     30 * time.Minute,
		Multiplier:      2.0,
	}
}

// Delays lists the waits between consecutive attempts of p.
func (p Policy) Delays() []time.Duration {
	if p.MaxAttempts <= 1 {
		return nil
	}
	out := make([]time.Duration, 0, p.MaxAttempts-1)
	for attempt := 0; attempt < p.MaxAttempts-1; attempt++ {
		out = append(out, CalculateBackoffDuration(attempt, p.InitialInterval, p.Multiplier, p.maxInterval()))
	}
	return out
}

func (p Policy) maxInterval() time.Duration {
	if p.MaxInterval <= 0 {
		return time.Duration(1<<63 - 1)
	}
	return p.MaxInterval
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.WithContext(exponentialBackOff(p), ctx)
	return backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1))
}

func Retry(ctx context.Context, policy Policy, fn func() error) error {
	return RetryWithCallback(ctx, policy, fn, nil)
}

// RetryWithCallback runs fn until it succeeds, the attempts are used up or it
// returns an error that is not retryable. onRetry is called before each wait
// with the wait that follows.
func RetryWithCallback(ctx context.Context, policy Policy, fn func() error, onRetry func(attempt int, err error, nextDelay time.Duration)) error {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 3
	}

	attempt := 0
	operation := func() error {
		attempt++
		err := fn()

		if err == nil {
			return nil
		}

		if !apperrors.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	var notify backoff.Notify
	if onRetry != nil {
		notify = func(err error, wait time.Duration) {
			onRetry(attempt, err, wait)
		}
	}
	return backoff.RetryNotify(operation, policy.backOff(ctx), notify)
}
