package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// DecodeEnvelope is the validating converter for queue payloads. Unknown
// fields and envelopes that fail ValidateMessageEnvelope are rejected.
func DecodeEnvelope(data []byte) (MessageEnvelope, error) {
	var envelope MessageEnvelope

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&envelope); err != nil {
		return MessageEnvelope{}, &ValidationError{Field: "envelope", Message: err.Error()}
	}

	if err := ValidateMessageEnvelope(&envelope); err != nil {
		return MessageEnvelope{}, err
	}
	return envelope, nil
}

// EncodeEnvelope validates before marshalling so malformed envelopes never reach a queue.
func EncodeEnvelope(envelope *MessageEnvelope) ([]byte, error) {
	if err := ValidateMessageEnvelope(envelope); err != nil {
		return nil, err
	}
	return json.Marshal(envelope)
}

func ValidateMessageEnvelope(msg *MessageEnvelope) error {
	if msg == nil {
		return &ValidationError{
			Field:   "envelope",
			Message: "message envelope cannot be nil",
		}
	}

	if msg.ID == "" {
		return &ValidationError{
			Field:   "id",
			Message: "envelope ID is required",
		}
	}

	if msg.Timestamp.IsZero() {
		return &ValidationError{
			Field:   "timestamp",
			Message: "envelope timestamp is required",
		}
	}

	switch msg.Kind {
	case EnvelopeKindMessage:
		if msg.Message == nil {
			return &ValidationError{Field: "message", Message: "message is required"}
		}
		return ValidateMessage(msg.Message)
	case EnvelopeKindCleanup:
		if msg.MessageID == "" {
			return &ValidationError{Field: "message_id", Message: "message id is required for cleanup"}
		}
		return nil
	case EnvelopeKindConfig:
		if msg.Event == nil || msg.Event.EventType == "" {
			return &ValidationError{Field: "event", Message: "config event with event_type is required"}
		}
		return nil
	default:
		return &ValidationError{
			Field:   "kind",
			Message: fmt.Sprintf("unknown envelope kind %q", msg.Kind),
		}
	}
}

func ValidateMessage(msg *Message) error {
	if msg.ID == "" {
		return &ValidationError{Field: "message.id", Message: "connector message id is required"}
	}

	if !msg.Details.Direction.Valid() {
		return &ValidationError{
			Field:   "message.details.direction",
			Message: fmt.Sprintf("invalid direction %q", msg.Details.Direction),
		}
	}

	switch msg.Kind {
	case MessageKindBusiness:
	case MessageKindEvidence:
		if msg.Details.RefToMessageID == "" {
			return &ValidationError{Field: "message.details.ref_to_message_id", Message: "evidence message must reference a message"}
		}
		if len(msg.Confirmations) == 0 {
			return &ValidationError{Field: "message.confirmations", Message: "evidence message carries no confirmation"}
		}
	default:
		return &ValidationError{Field: "message.kind", Message: fmt.Sprintf("unknown message kind %q", msg.Kind)}
	}

	for i, c := range msg.Confirmations {
		if !c.Type.Valid() {
			return &ValidationError{
				Field:   fmt.Sprintf("message.confirmations[%d].type", i),
				Message: fmt.Sprintf("unknown evidence type %q", c.Type),
			}
		}
	}

	return nil
}
