package processing

import (
	"context"

	"github.com/google/uuid"

	"connector/internal/confirmation"
	"connector/pkg/errors"
	"connector/pkg/models"
)

// receiveEvidence records the evidences carried by msg on the business
// message it references and forwards every accepted one to the other side.
func (s *Service) receiveEvidence(ctx context.Context, msg *models.Message) error {
	if msg.Details.RefToMessageID == "" {
		return errors.ErrInvalidPayload.WithMessage("evidence message %s references no message", msg.ID)
	}
	if len(msg.Confirmations) == 0 {
		return errors.ErrInvalidPayload.WithMessage("evidence message %s carries no evidence", msg.ID)
	}

	business, err := s.messages.FindByReference(ctx, msg.Details.RefToMessageID)
	if err != nil {
		if errors.IsNotFound(err) {
			return errors.ErrInvalidPayload.WithCause(err).
				WithMessage("evidence message %s references unknown message %s", msg.ID, msg.Details.RefToMessageID)
		}
		return err
	}

	// confirmation ids are assigned by the connector
	for i := range msg.Confirmations {
		msg.Confirmations[i].ID = uuid.NewString()
	}
	if err := s.messages.Save(ctx, msg); err != nil && !errors.IsConflict(err) {
		return err
	}

	return s.locker.WithLock(ctx, business.ID, func(ctx context.Context) error {
		current, err := s.messages.Get(ctx, business.ID)
		if err != nil {
			return err
		}
		for _, c := range msg.Confirmations {
			outcome, err := s.lifecycle.RecordEvidenceWith(ctx, current, confirmation.Evidence{
				Type:            c.Type,
				RejectionReason: c.RejectionReason,
				Document:        c.Evidence,
			}, s.forwardEvidence)
			if err != nil {
				return err
			}
			if !outcome.Accepted {
				s.logger.InfowCtx(ctx, "Evidence from link partner not forwarded",
					"message_id", current.ID,
					"evidence_message_id", msg.ID,
					"evidence_type", c.Type,
					"code", outcome.Code,
				)
			}
		}
		return nil
	})
}

// forwardEvidence sends an evidence received from one side to the other
// side of business. It runs before the evidence is stored.
func (s *Service) forwardEvidence(ctx context.Context, business *models.Message, c models.Confirmation) error {
	return s.sendEvidence(ctx, business, c)
}

// SubmitEvidence sends an evidence the connector generated about business
// back to its sender. Evidences for backends are only recorded unless
// sending them is enabled.
func (s *Service) SubmitEvidence(ctx context.Context, business *models.Message, c models.Confirmation) error {
	if business.Details.Direction.Source() == models.LinkTypeBackend && !s.cfg.SendGeneratedEvidencesToBackend {
		s.logger.InfowCtx(ctx, "Generated evidence kept, sending to backends is disabled",
			"message_id", business.ID,
			"evidence_type", c.Type,
		)
		return nil
	}
	return s.sendEvidence(ctx, business, c)
}

func (s *Service) sendEvidence(ctx context.Context, business *models.Message, c models.Confirmation) error {
	evidence := models.NewEvidenceMessage(business, c, business.Details.Direction.Opposite())
	target := evidence.Details.Direction.Target()
	if evidence.Details.PartnerName(target) == "" {
		return errors.ErrInvalidAddressing.WithMessage(
			"evidence %s for message %s has no %s partner to go to", c.Type, business.ID, target)
	}

	if err := s.messages.Save(ctx, evidence); err != nil {
		return err
	}
	if err := s.producer.Publish(ctx, s.queues.ToLink, models.NewEnvelope(evidence, target)); err != nil {
		return errors.ErrServiceUnavailable.WithCause(err).
			WithMessage("failed to queue evidence message %s", evidence.ID)
	}

	s.logger.InfowCtx(ctx, "Evidence queued for dispatch",
		"message_id", business.ID,
		"evidence_message_id", evidence.ID,
		"evidence_type", c.Type,
		"target", target,
		"partner", evidence.Details.PartnerName(target),
	)
	return nil
}
