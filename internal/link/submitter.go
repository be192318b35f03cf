package link

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/sony/gobreaker"

	"connector/internal/config"
	"connector/internal/constants"
	"connector/pkg/circuitbreaker"
	"connector/pkg/errors"
	"connector/pkg/models"
)

// guardedSubmitter bounds every submission by a timeout and, when enabled,
// a per partner circuit breaker.
type guardedSubmitter struct {
	partner string
	next    Submitter
	timeout time.Duration
	breaker *circuitbreaker.Wrapper
}

func guardSubmitter(partner string, next Submitter, timeout time.Duration, cb config.CircuitBreakerConfig) Submitter {
	if timeout <= 0 {
		timeout = constants.DefaultDispatchTimeout
	}
	return &guardedSubmitter{
		partner: partner,
		next:    next,
		timeout: timeout,
		breaker: circuitbreaker.FromConfig("link:"+partner, cb),
	}
}

func (s *guardedSubmitter) Submit(ctx context.Context, msg *models.Message) (SubmitResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var result SubmitResult
	call := func() error {
		var err error
		result, err = s.next.Submit(callCtx, msg)
		return err
	}

	var err error
	if s.breaker != nil {
		err = s.breaker.Run(callCtx, call)
	} else {
		err = call()
	}
	if err == nil {
		return result, nil
	}

	switch {
	case stderrors.Is(err, gobreaker.ErrOpenState), stderrors.Is(err, gobreaker.ErrTooManyRequests):
		return SubmitResult{}, errors.ErrTransportDispatch.WithCause(err).
			WithMessage("circuit breaker of link partner %s is open", s.partner)
	case callCtx.Err() != nil && ctx.Err() == nil:
		return SubmitResult{}, errors.ErrTransportDispatch.WithCause(err).
			WithMessage("submit to link partner %s timed out after %s", s.partner, s.timeout)
	}
	return SubmitResult{}, err
}
