// Package processing drives messages through the connector queues: inbound
// traffic is stored and routed, outbound traffic is dispatched to link
// partners and delivered messages are cleaned up.
package processing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"connector/internal/broker"
	"connector/internal/config"
	"connector/internal/confirmation"
	"connector/internal/constants"
	"connector/internal/logger"
	"connector/internal/messages"
	"connector/pkg/errors"
	"connector/pkg/logging"
	"connector/pkg/models"
	"connector/pkg/tracing"
)

// Router assigns the target partner of a message.
type Router interface {
	SelectPartner(ctx context.Context, msg *models.Message) (string, error)
}

// Dispatcher submits a message to the partner of target and records the attempt.
type Dispatcher interface {
	Submit(ctx context.Context, msg *models.Message, target models.LinkType) (*models.TransportStep, error)
}

type Service struct {
	messages  messages.Repository
	router    Router
	lifecycle *confirmation.Lifecycle
	dispatch  Dispatcher
	producer  broker.Producer
	queues    broker.Queues
	locker    confirmation.MessageLocker
	cfg       config.ProcessingConfig
	logger    logger.Logger
}

func NewService(
	msgs messages.Repository,
	router Router,
	lifecycle *confirmation.Lifecycle,
	dispatch Dispatcher,
	producer broker.Producer,
	queues broker.Queues,
	locker confirmation.MessageLocker,
	cfg config.ProcessingConfig,
	log logger.Logger,
) *Service {
	if cfg.DefaultBusinessDomain == "" {
		cfg.DefaultBusinessDomain = constants.DefaultBusinessDomain
	}
	return &Service{
		messages:  msgs,
		router:    router,
		lifecycle: lifecycle,
		dispatch:  dispatch,
		producer:  producer,
		queues:    queues,
		locker:    locker,
		cfg:       cfg,
		logger:    log,
	}
}

// scope puts the business domain of msg into ctx, falling back to the
// envelope's and then the configured default.
func (s *Service) scope(ctx context.Context, envelope models.MessageEnvelope, msg *models.Message) context.Context {
	if msg.BusinessDomain == "" {
		msg.BusinessDomain = envelope.Metadata.BusinessDomain
	}
	if msg.BusinessDomain == "" {
		msg.BusinessDomain = s.cfg.DefaultBusinessDomain
	}
	ctx = logging.WithBusinessDomain(ctx, msg.BusinessDomain)
	return logging.WithMessageID(ctx, msg.ID)
}

func payload(envelope models.MessageEnvelope) (*models.Message, error) {
	if envelope.Kind != models.EnvelopeKindMessage || envelope.Message == nil {
		return nil, errors.ErrInvalidPayload.WithMessage("envelope %s does not carry a message", envelope.ID)
	}
	if envelope.Message.ID == "" {
		return nil, errors.ErrInvalidPayload.WithMessage("message in envelope %s has no id", envelope.ID)
	}
	if !envelope.Message.Details.Direction.Valid() {
		return nil, errors.ErrInvalidPayload.WithMessage("message %s has no valid direction", envelope.Message.ID)
	}
	return envelope.Message, nil
}

// HandleToConnector accepts a message received from a link partner.
func (s *Service) HandleToConnector(ctx context.Context, envelope models.MessageEnvelope) error {
	msg, err := payload(envelope)
	if err != nil {
		return err
	}
	ctx = s.scope(ctx, envelope, msg)

	ctx, span := tracing.StartSpan(ctx, "processing.to_connector")
	defer span.End()
	span.SetAttributes(
		attribute.String("message.id", msg.ID),
		attribute.String("message.kind", string(msg.Kind)),
		attribute.String("message.direction", string(msg.Details.Direction)),
	)

	if msg.IsEvidence() {
		return s.receiveEvidence(ctx, msg)
	}
	return s.receiveBusiness(ctx, msg)
}

// receiveBusiness routes and stores msg, then queues it for dispatch. A
// redelivered message that is already stored is queued again as stored.
func (s *Service) receiveBusiness(ctx context.Context, msg *models.Message) error {
	stored, err := s.messages.Get(ctx, msg.ID)
	switch {
	case err == nil:
		s.logger.InfowCtx(ctx, "Message already stored, queueing it again",
			"message_id", msg.ID,
		)
		msg = stored
	case errors.IsNotFound(err):
		if _, err := s.router.SelectPartner(ctx, msg); err != nil {
			return err
		}
		if err := s.messages.Save(ctx, msg); err != nil {
			return err
		}
	default:
		return err
	}

	target := msg.Details.Direction.Target()
	if err := s.producer.Publish(ctx, s.queues.ToLink, models.NewEnvelope(msg, target)); err != nil {
		return errors.ErrServiceUnavailable.WithCause(err).
			WithMessage("failed to queue message %s for dispatch", msg.ID)
	}

	s.logger.InfowCtx(ctx, "Message accepted for dispatch",
		"message_id", msg.ID,
		"direction", msg.Details.Direction,
		"partner", msg.Details.TargetPartnerName(),
	)
	return nil
}

// HandleToLink dispatches a queued message to its link partner and queues a
// cleanup once the partner accepted it.
func (s *Service) HandleToLink(ctx context.Context, envelope models.MessageEnvelope) error {
	msg, err := payload(envelope)
	if err != nil {
		return err
	}
	ctx = s.scope(ctx, envelope, msg)

	step, err := s.dispatch.Submit(ctx, msg, envelope.Target)
	if err != nil {
		return err
	}

	if !s.cfg.CleanupEnabled {
		return nil
	}
	if err := s.producer.Publish(ctx, s.queues.Cleanup, models.NewCleanupEnvelope(msg.ID, msg.BusinessDomain)); err != nil {
		s.logger.WarnwCtx(ctx, "Failed to queue cleanup of delivered message",
			"message_id", msg.ID,
			"transport_id", step.TransportID,
			"error", err,
		)
	}
	return nil
}

// HandleCleanup purges the stored content of a business message once it is
// confirmed or rejected. A cleanup for an evidence message applies to the
// message it references.
func (s *Service) HandleCleanup(ctx context.Context, envelope models.MessageEnvelope) error {
	if envelope.Kind != models.EnvelopeKindCleanup || envelope.MessageID == "" {
		return errors.ErrInvalidPayload.WithMessage("envelope %s is not a cleanup task", envelope.ID)
	}

	msg, err := s.messages.Get(ctx, envelope.MessageID)
	if err != nil {
		if errors.IsNotFound(err) {
			s.logger.WarnwCtx(ctx, "Cleanup for unknown message ignored", "message_id", envelope.MessageID)
			return nil
		}
		return err
	}

	if msg.IsEvidence() {
		if msg.Details.RefToMessageID == "" {
			return nil
		}
		msg, err = s.messages.FindByReference(ctx, msg.Details.RefToMessageID)
		if err != nil {
			if errors.IsNotFound(err) {
				return nil
			}
			return err
		}
	}

	if msg.State() == models.MessageStateAwaitingEvidence {
		s.logger.DebugwCtx(ctx, "Message still awaits evidence, content kept", "message_id", msg.ID)
		return nil
	}
	if len(msg.Content) == 0 {
		return nil
	}

	if err := s.messages.PurgeContent(ctx, msg.ID); err != nil {
		return err
	}
	s.logger.InfowCtx(ctx, "Message content purged",
		"message_id", msg.ID,
		"state", msg.State(),
	)
	return nil
}
