package processing

import (
	"context"

	"connector/internal/broker"
	"connector/pkg/errors"
	"connector/pkg/models"
)

// Receiver queues messages pulled from link partners on the inbound queue.
type Receiver struct {
	producer broker.Producer
	queue    string
}

func NewReceiver(producer broker.Producer, queues broker.Queues) *Receiver {
	return &Receiver{producer: producer, queue: queues.ToConnector}
}

// Receive stamps partner as the sender of msg unless the message names one.
func (r *Receiver) Receive(ctx context.Context, partner string, msg *models.Message) error {
	if !msg.Details.Direction.Valid() {
		return errors.ErrInvalidPayload.WithMessage("message %s from %s has no valid direction", msg.ID, partner)
	}
	source := msg.Details.Direction.Source()
	if msg.Details.PartnerName(source) == "" {
		msg.Details.SetPartnerName(source, partner)
	}
	return r.producer.Publish(ctx, r.queue, models.NewEnvelope(msg, ""))
}
