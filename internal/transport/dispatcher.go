package transport

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"connector/internal/link"
	"connector/internal/logger"
	"connector/pkg/errors"
	"connector/pkg/logging"
	"connector/pkg/metrics"
	"connector/pkg/models"
	"connector/pkg/tracing"
)

// SubmitterSource resolves the submitter of an active link partner.
type SubmitterSource interface {
	Submitter(partner string) (link.Submitter, error)
}

// Dispatcher hands messages to link partners and records every attempt.
type Dispatcher struct {
	submitters SubmitterSource
	repo       Repository
	state      *StateService
	logger     logger.Logger
}

func NewDispatcher(submitters SubmitterSource, repo Repository, state *StateService, log logger.Logger) *Dispatcher {
	return &Dispatcher{
		submitters: submitters,
		repo:       repo,
		state:      state,
		logger:     log,
	}
}

// Submit sends msg to the partner of target, or of the target side of its
// direction when target is empty. The attempt is stored as PENDING before
// the call and as ACCEPTED or FAILED after it. Addressing problems are
// fatal, every other failure is a retryable T101.
func (d *Dispatcher) Submit(ctx context.Context, msg *models.Message, target models.LinkType) (*models.TransportStep, error) {
	if target == "" {
		target = msg.Details.Direction.Target()
	}
	ctx, span := tracing.StartSpan(ctx, "transport.submit")
	defer span.End()
	span.SetAttributes(
		attribute.String("message.id", msg.ID),
		attribute.String("link.type", string(target)),
	)

	if target == "" {
		err := errors.ErrInvalidAddressing.WithMessage("message %s has no direction", msg.ID)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	partner := msg.Details.PartnerName(target)
	if partner == "" {
		err := errors.ErrInvalidAddressing.WithMessage("message %s has no %s partner name", msg.ID, target)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("link.partner", partner))
	ctx = logging.WithLinkPartner(ctx, partner)

	step, err := d.repo.CreateStep(ctx, msg.ID, partner)
	if err != nil {
		return nil, err
	}
	metrics.IncTransportAttempt(partner, string(models.TransportStatePending))
	span.SetAttributes(attribute.Int("transport.attempt", step.Attempt))

	submitter, err := d.submitters.Submitter(partner)
	if err != nil {
		return d.fail(ctx, step, err, true)
	}

	d.logger.DebugwCtx(ctx, "Submitting message to link partner",
		"message_id", msg.ID,
		"transport_id", step.TransportID,
		"attempt", step.Attempt,
	)

	start := time.Now()
	res, err := submitter.Submit(ctx, msg)
	metrics.ObserveTransportDispatch(partner, time.Since(start))
	if err != nil {
		span.RecordError(err)
		return d.fail(ctx, step, err, errors.IsRetryable(err))
	}

	step, err = d.state.UpdateTransportState(ctx, step.TransportID, StatusChange{
		State:                    models.TransportStateAccepted,
		Text:                     res.ResultText,
		RemoteMessageID:          res.RemoteMessageID,
		TransportSystemMessageID: res.TransportSystemMessageID,
	})
	if err != nil {
		return step, err
	}
	return step, nil
}

func (d *Dispatcher) fail(ctx context.Context, step *models.TransportStep, cause error, retryable bool) (*models.TransportStep, error) {
	failed, err := d.state.UpdateTransportState(ctx, step.TransportID, StatusChange{
		State: models.TransportStateFailed,
		Text:  cause.Error(),
	})
	if err != nil {
		d.logger.ErrorwCtx(ctx, "Failed to record failed transport",
			"transport_id", step.TransportID,
			"error", err,
		)
		failed = step
	}

	dispatchErr := errors.ErrTransportDispatch.WithCause(cause).
		WithMessage("dispatch of message %s to link partner %s failed", step.MessageID, step.LinkPartnerName).
		WithDetail("link_partner", step.LinkPartnerName)
	if !retryable {
		dispatchErr = dispatchErr.AsFatal()
	}
	return failed, dispatchErr
}
