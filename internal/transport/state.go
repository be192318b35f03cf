package transport

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"connector/internal/logger"
	"connector/internal/messages"
	"connector/pkg/errors"
	"connector/pkg/metrics"
	"connector/pkg/models"
)

// MessageLocker serializes updates of a single message.
type MessageLocker interface {
	WithLock(ctx context.Context, messageID string, fn func(ctx context.Context) error) error
}

// StateService records transport outcomes and applies accepted transports
// to the transported message.
type StateService struct {
	repo     Repository
	messages messages.Repository
	locker   MessageLocker
	logger   logger.Logger
	now      func() time.Time
}

func NewStateService(repo Repository, msgs messages.Repository, locker MessageLocker, log logger.Logger) *StateService {
	return &StateService{
		repo:     repo,
		messages: msgs,
		locker:   locker,
		logger:   log,
		now:      time.Now,
	}
}

// UpdateTransportState appends change to the transport and, on ACCEPTED,
// stamps the delivery on the message. For evidence messages the matching
// confirmations of the referenced business message are marked transported.
func (s *StateService) UpdateTransportState(ctx context.Context, transportID string, change StatusChange) (*models.TransportStep, error) {
	step, err := s.repo.UpdateStatus(ctx, transportID, change)
	if err != nil {
		return nil, err
	}
	metrics.IncTransportAttempt(step.LinkPartnerName, string(step.State()))

	switch step.State() {
	case models.TransportStateAccepted:
		if err := s.applyAccepted(ctx, step); err != nil {
			return step, err
		}
		s.logger.InfowCtx(ctx, "Transport accepted",
			"transport_id", step.TransportID,
			"message_id", step.MessageID,
			"link_partner", step.LinkPartnerName,
			"remote_message_id", step.RemoteMessageID,
		)
	case models.TransportStateFailed:
		s.logger.WarnwCtx(ctx, "Transport failed",
			"transport_id", step.TransportID,
			"message_id", step.MessageID,
			"link_partner", step.LinkPartnerName,
			"attempt", step.Attempt,
			"result", step.ResultText(),
		)
	}
	return step, nil
}

func (s *StateService) applyAccepted(ctx context.Context, step *models.TransportStep) error {
	var delivered *models.Message
	err := s.modify(ctx, step.MessageID, func(msg *models.Message) error {
		now := s.now()
		switch msg.Details.Direction.Target() {
		case models.LinkTypeGateway:
			if msg.Kind == models.MessageKindBusiness && step.RemoteMessageID != "" {
				msg.Details.EbmsMessageID = step.RemoteMessageID
			}
			msg.DeliveredToGateway = &now
		case models.LinkTypeBackend:
			msg.DeliveredToBackend = &now
		default:
			return errors.ErrInvalidAddressing.WithMessage("message %s has no direction", msg.ID)
		}
		delivered = msg
		return nil
	})
	if err != nil {
		return err
	}

	if !delivered.IsEvidence() || delivered.Details.RefToMessageID == "" {
		return nil
	}
	return s.markTransported(ctx, delivered)
}

// markTransported flags the confirmations of the business message that the
// evidence carried to the side it was delivered to.
func (s *StateService) markTransported(ctx context.Context, evidence *models.Message) error {
	business, err := s.referenced(ctx, evidence.Details.RefToMessageID)
	if err != nil {
		if errors.IsNotFound(err) {
			s.logger.WarnwCtx(ctx, "Referenced message of delivered evidence not found",
				"message_id", evidence.ID,
				"ref_to_message_id", evidence.Details.RefToMessageID,
			)
			return nil
		}
		return err
	}

	side := evidence.Details.Direction.Target()
	types := make(map[models.EvidenceType]bool, len(evidence.Confirmations))
	for _, c := range evidence.Confirmations {
		types[c.Type] = true
	}

	return s.modify(ctx, business.ID, func(msg *models.Message) error {
		for i := range msg.Confirmations {
			c := &msg.Confirmations[i]
			if !types[c.Type] {
				continue
			}
			switch side {
			case models.LinkTypeGateway:
				c.TransportedToGateway = true
			case models.LinkTypeBackend:
				c.TransportedToBackend = true
			}
		}
		return nil
	})
}

func (s *StateService) referenced(ctx context.Context, ref string) (*models.Message, error) {
	msg, err := s.messages.Get(ctx, ref)
	if err == nil {
		return msg, nil
	}
	if !errors.IsNotFound(err) {
		return nil, err
	}
	return s.messages.FindByReference(ctx, ref)
}

// modify loads, changes and stores a message under its lock, retrying on
// concurrent modification.
func (s *StateService) modify(ctx context.Context, messageID string, change func(*models.Message) error) error {
	retry := func(ctx context.Context) error {
		op := func() error {
			msg, err := s.messages.Get(ctx, messageID)
			if err != nil {
				return backoff.Permanent(err)
			}
			if err := change(msg); err != nil {
				return backoff.Permanent(err)
			}
			err = s.messages.Update(ctx, msg)
			if err != nil && !errors.HasCode(err, errors.CodeConcurrentModification) {
				return backoff.Permanent(err)
			}
			return err
		}

		policy := backoff.NewExponentialBackOff()
		policy.InitialInterval = 20 * time.Millisecond
		policy.MaxInterval = 200 * time.Millisecond
		return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, 3), ctx))
	}

	if s.locker == nil {
		return retry(ctx)
	}
	return s.locker.WithLock(ctx, messageID, retry)
}
