package models

import (
	"time"

	"github.com/google/uuid"
)

type MessageBuilder struct {
	msg *Message
}

func NewMessageBuilder() *MessageBuilder {
	return &MessageBuilder{
		msg: &Message{
			Kind: MessageKindBusiness,
		},
	}
}

func (b *MessageBuilder) WithID(id string) *MessageBuilder {
	b.msg.ID = id
	return b
}

func (b *MessageBuilder) WithDirection(d Direction) *MessageBuilder {
	b.msg.Details.Direction = d
	return b
}

func (b *MessageBuilder) WithBusinessDomain(domain string) *MessageBuilder {
	b.msg.BusinessDomain = domain
	return b
}

func (b *MessageBuilder) WithConversationID(id string) *MessageBuilder {
	b.msg.Details.ConversationID = id
	return b
}

func (b *MessageBuilder) WithAction(action string) *MessageBuilder {
	b.msg.Details.Action = action
	return b
}

func (b *MessageBuilder) WithService(name, serviceType string) *MessageBuilder {
	b.msg.Details.Service = Service{Name: name, Type: serviceType}
	return b
}

func (b *MessageBuilder) WithFromParty(p Party) *MessageBuilder {
	b.msg.Details.FromParty = p
	return b
}

func (b *MessageBuilder) WithToParty(p Party) *MessageBuilder {
	b.msg.Details.ToParty = p
	return b
}

func (b *MessageBuilder) WithBackendPartner(name string) *MessageBuilder {
	b.msg.Details.BackendPartnerName = name
	return b
}

func (b *MessageBuilder) WithGatewayPartner(name string) *MessageBuilder {
	b.msg.Details.GatewayPartnerName = name
	return b
}

func (b *MessageBuilder) WithContent(content []byte) *MessageBuilder {
	b.msg.Content = content
	return b
}

func (b *MessageBuilder) WithConfirmation(c Confirmation) *MessageBuilder {
	b.msg.Confirmations = append(b.msg.Confirmations, c)
	return b
}

func (b *MessageBuilder) WithCreatedAt(t time.Time) *MessageBuilder {
	b.msg.CreatedAt = t
	return b
}

func (b *MessageBuilder) Build() *Message {
	if b.msg.ID == "" {
		b.msg.ID = uuid.NewString()
	}
	if b.msg.CreatedAt.IsZero() {
		b.msg.CreatedAt = time.Now()
	}
	return b.msg
}

// NewEvidenceMessage builds the message that carries confirmation about business
// toward direction. Addressing details are copied from the business message.
// The carried confirmation is a copy with its own id and no transport flags.
func NewEvidenceMessage(business *Message, confirmation Confirmation, direction Direction) *Message {
	confirmation.ID = uuid.NewString()
	confirmation.TransportedToGateway = false
	confirmation.TransportedToBackend = false

	details := business.Details
	details.Direction = direction
	details.RefToMessageID = business.ID
	details.CausedBy = business.ID
	details.EbmsMessageID = ""

	return &Message{
		ID:             uuid.NewString(),
		Kind:           MessageKindEvidence,
		BusinessDomain: business.BusinessDomain,
		Details:        details,
		Confirmations:  []Confirmation{confirmation},
		CreatedAt:      time.Now(),
	}
}

// NewEnvelope wraps msg for the queue addressed to target.
func NewEnvelope(msg *Message, target LinkType) *MessageEnvelope {
	return &MessageEnvelope{
		ID:        uuid.NewString(),
		Kind:      EnvelopeKindMessage,
		Timestamp: time.Now(),
		Message:   msg,
		Target:    target,
		Metadata: Metadata{
			BusinessDomain: msg.BusinessDomain,
		},
	}
}

func NewCleanupEnvelope(messageID, businessDomain string) *MessageEnvelope {
	return &MessageEnvelope{
		ID:        uuid.NewString(),
		Kind:      EnvelopeKindCleanup,
		Timestamp: time.Now(),
		MessageID: messageID,
		Metadata: Metadata{
			BusinessDomain: businessDomain,
		},
	}
}

func NewConfigEventEnvelope(event ConfigUpdateEvent) *MessageEnvelope {
	return &MessageEnvelope{
		ID:        uuid.NewString(),
		Kind:      EnvelopeKindConfig,
		Timestamp: time.Now(),
		Event:     &event,
		Metadata: Metadata{
			BusinessDomain: event.BusinessDomain,
		},
	}
}
