package models

import "time"

type Direction string

const (
	DirectionBackendToGateway Direction = "BACKEND_TO_GATEWAY"
	DirectionGatewayToBackend Direction = "GATEWAY_TO_BACKEND"
)

func (d Direction) Valid() bool {
	return d == DirectionBackendToGateway || d == DirectionGatewayToBackend
}

// Target is the side the message travels to.
func (d Direction) Target() LinkType {
	switch d {
	case DirectionBackendToGateway:
		return LinkTypeGateway
	case DirectionGatewayToBackend:
		return LinkTypeBackend
	default:
		return ""
	}
}

// Source is the side the message came from.
func (d Direction) Source() LinkType {
	switch d {
	case DirectionBackendToGateway:
		return LinkTypeBackend
	case DirectionGatewayToBackend:
		return LinkTypeGateway
	default:
		return ""
	}
}

func (d Direction) Opposite() Direction {
	switch d {
	case DirectionBackendToGateway:
		return DirectionGatewayToBackend
	case DirectionGatewayToBackend:
		return DirectionBackendToGateway
	default:
		return ""
	}
}

type MessageKind string

const (
	MessageKindBusiness MessageKind = "business"
	MessageKindEvidence MessageKind = "evidence"
)

type MessageState string

const (
	MessageStateAwaitingEvidence MessageState = "AWAITING_EVIDENCE"
	MessageStateConfirmed        MessageState = "CONFIRMED"
	MessageStateRejected         MessageState = "REJECTED"
)

type Party struct {
	ID     string `json:"id"`
	IDType string `json:"id_type,omitempty"`
	Role   string `json:"role,omitempty"`
}

type Service struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

type MessageDetails struct {
	Direction          Direction `json:"direction"`
	ConversationID     string    `json:"conversation_id,omitempty"`
	Action             string    `json:"action,omitempty"`
	Service            Service   `json:"service"`
	FromParty          Party     `json:"from_party"`
	ToParty            Party     `json:"to_party"`
	FinalRecipient     string    `json:"final_recipient,omitempty"`
	OriginalSender     string    `json:"original_sender,omitempty"`
	BackendPartnerName string    `json:"backend_partner_name,omitempty"`
	GatewayPartnerName string    `json:"gateway_partner_name,omitempty"`
	EbmsMessageID      string    `json:"ebms_message_id,omitempty"`
	BackendMessageID   string    `json:"backend_message_id,omitempty"`
	RefToMessageID     string    `json:"ref_to_message_id,omitempty"`
	CausedBy           string    `json:"caused_by,omitempty"`
}

// PartnerName returns the partner name for the given side.
func (d MessageDetails) PartnerName(side LinkType) string {
	switch side {
	case LinkTypeBackend:
		return d.BackendPartnerName
	case LinkTypeGateway:
		return d.GatewayPartnerName
	default:
		return ""
	}
}

func (d *MessageDetails) SetPartnerName(side LinkType, name string) {
	switch side {
	case LinkTypeBackend:
		d.BackendPartnerName = name
	case LinkTypeGateway:
		d.GatewayPartnerName = name
	}
}

// TargetPartnerName is the authoritative partner name for the direction.
func (d MessageDetails) TargetPartnerName() string {
	return d.PartnerName(d.Direction.Target())
}

type Message struct {
	ID                 string         `json:"id"`
	Kind               MessageKind    `json:"kind"`
	BusinessDomain     string         `json:"business_domain,omitempty"`
	Details            MessageDetails `json:"details"`
	Content            []byte         `json:"content,omitempty"`
	Confirmations      []Confirmation `json:"confirmations,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	DeliveredToBackend *time.Time     `json:"delivered_to_backend,omitempty"`
	DeliveredToGateway *time.Time     `json:"delivered_to_gateway,omitempty"`
	ConfirmedAt        *time.Time     `json:"confirmed_at,omitempty"`
	RejectedAt         *time.Time     `json:"rejected_at,omitempty"`
	Version            int64          `json:"version"`
}

func (m *Message) State() MessageState {
	switch {
	case m.RejectedAt != nil:
		return MessageStateRejected
	case m.ConfirmedAt != nil:
		return MessageStateConfirmed
	default:
		return MessageStateAwaitingEvidence
	}
}

func (m *Message) IsEvidence() bool {
	return m.Kind == MessageKindEvidence
}

// HasEvidence reports whether any confirmation of the given types is stored.
func (m *Message) HasEvidence(types ...EvidenceType) bool {
	for _, c := range m.Confirmations {
		for _, t := range types {
			if c.Type == t {
				return true
			}
		}
	}
	return false
}

// DeliveryBaseline is the timestamp the message was handed to its target side.
func (m *Message) DeliveryBaseline() *time.Time {
	switch m.Details.Direction {
	case DirectionGatewayToBackend:
		return m.DeliveredToBackend
	case DirectionBackendToGateway:
		return m.DeliveredToGateway
	default:
		return nil
	}
}

func (m *Message) Clone() *Message {
	c := *m
	if m.Content != nil {
		c.Content = append([]byte(nil), m.Content...)
	}
	if m.Confirmations != nil {
		c.Confirmations = append([]Confirmation(nil), m.Confirmations...)
	}
	return &c
}

type EnvelopeKind string

const (
	EnvelopeKindMessage EnvelopeKind = "message"
	EnvelopeKindCleanup EnvelopeKind = "cleanup"
	EnvelopeKindConfig  EnvelopeKind = "config_event"
)

// MessageEnvelope is the payload written to the connector queues.
type MessageEnvelope struct {
	ID        string             `json:"id"`
	Kind      EnvelopeKind       `json:"kind"`
	Timestamp time.Time          `json:"timestamp"`
	Message   *Message           `json:"message,omitempty"`
	MessageID string             `json:"message_id,omitempty"`
	Target    LinkType           `json:"target,omitempty"`
	Event     *ConfigUpdateEvent `json:"event,omitempty"`
	Metadata  Metadata           `json:"metadata"`
}

type Metadata struct {
	TraceID        string   `json:"trace_id,omitempty"`
	BusinessDomain string   `json:"business_domain,omitempty"`
	DeadLetter     *DLQInfo `json:"dead_letter,omitempty"`
}

const (
	FailureTypePermanent  = "permanent"
	FailureTypeTransient  = "transient"
	FailureTypeValidation = "validation"
)

// DLQInfo is attached to envelopes moved to a dead-letter queue.
type DLQInfo struct {
	Reason        string    `json:"reason"`
	SourceQueue   string    `json:"source_queue"`
	FailureType   string    `json:"failure_type"`
	Attempts      int       `json:"attempts"`
	FirstFailedAt time.Time `json:"first_failed_at"`
	LastAttemptAt time.Time `json:"last_attempt_at"`
}

// EnvelopeMessageID returns the id of the message the envelope is about.
func (e *MessageEnvelope) EnvelopeMessageID() string {
	if e.Message != nil {
		return e.Message.ID
	}
	return e.MessageID
}
