package models

import (
	"fmt"
	"time"
)

type TransportState string

const (
	TransportStatePending           TransportState = "PENDING"
	TransportStatePendingDownloaded TransportState = "PENDING_DOWNLOADED"
	TransportStateAccepted          TransportState = "ACCEPTED"
	TransportStateFailed            TransportState = "FAILED"
)

// FinalTransportPriority is the priority from which a state is final.
const FinalTransportPriority = 10

func (s TransportState) Priority() int {
	switch s {
	case TransportStatePending:
		return 1
	case TransportStatePendingDownloaded:
		return 2
	case TransportStateAccepted, TransportStateFailed:
		return FinalTransportPriority
	default:
		return 0
	}
}

func (s TransportState) Valid() bool {
	return s.Priority() > 0
}

type TransportStatusUpdate struct {
	State     TransportState `json:"state"`
	Text      string         `json:"text,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// TransportStep is one dispatch attempt of a message to a link partner.
type TransportStep struct {
	TransportID              string                  `json:"transport_id"`
	MessageID                string                  `json:"message_id"`
	LinkPartnerName          string                  `json:"link_partner_name"`
	Attempt                  int                     `json:"attempt"`
	RemoteMessageID          string                  `json:"remote_message_id,omitempty"`
	TransportSystemMessageID string                  `json:"transport_system_message_id,omitempty"`
	StatusUpdates            []TransportStatusUpdate `json:"status_updates"`
	FinalStateReached        bool                    `json:"final_state_reached"`
	CreatedAt                time.Time               `json:"created_at"`
}

func TransportID(messageID, partner string, attempt int) string {
	return fmt.Sprintf("%s_%s_%d", messageID, partner, attempt)
}

// AddStatusUpdate appends u if it is strictly higher in priority than the last update.
func (s *TransportStep) AddStatusUpdate(u TransportStatusUpdate) error {
	if !u.State.Valid() {
		return fmt.Errorf("unknown transport state %q", u.State)
	}
	if last, ok := s.LastStatus(); ok && u.State.Priority() <= last.State.Priority() {
		return fmt.Errorf("transport %s: state %s cannot follow %s", s.TransportID, u.State, last.State)
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	s.StatusUpdates = append(s.StatusUpdates, u)
	if u.State.Priority() >= FinalTransportPriority {
		s.FinalStateReached = true
	}
	return nil
}

func (s *TransportStep) LastStatus() (TransportStatusUpdate, bool) {
	if len(s.StatusUpdates) == 0 {
		return TransportStatusUpdate{}, false
	}
	return s.StatusUpdates[len(s.StatusUpdates)-1], true
}

func (s *TransportStep) State() TransportState {
	last, ok := s.LastStatus()
	if !ok {
		return ""
	}
	return last.State
}

// ResultText is the text of the last status update.
func (s *TransportStep) ResultText() string {
	last, _ := s.LastStatus()
	return last.Text
}
