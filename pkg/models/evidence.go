package models

import "time"

type EvidenceType string

const (
	EvidenceSubmissionAcceptance EvidenceType = "SUBMISSION_ACCEPTANCE"
	EvidenceSubmissionRejection  EvidenceType = "SUBMISSION_REJECTION"
	EvidenceRelayREMMDAcceptance EvidenceType = "RELAY_REMMD_ACCEPTANCE"
	EvidenceRelayREMMDRejection  EvidenceType = "RELAY_REMMD_REJECTION"
	EvidenceRelayREMMDFailure    EvidenceType = "RELAY_REMMD_FAILURE"
	EvidenceDelivery             EvidenceType = "DELIVERY"
	EvidenceNonDelivery          EvidenceType = "NON_DELIVERY"
	EvidenceRetrieval            EvidenceType = "RETRIEVAL"
	EvidenceNonRetrieval         EvidenceType = "NON_RETRIEVAL"
)

var evidencePriorities = map[EvidenceType]int{
	EvidenceSubmissionAcceptance: 1,
	EvidenceSubmissionRejection:  1,
	EvidenceRelayREMMDAcceptance: 2,
	EvidenceRelayREMMDRejection:  2,
	EvidenceRelayREMMDFailure:    2,
	EvidenceDelivery:             3,
	EvidenceNonDelivery:          3,
	EvidenceRetrieval:            4,
	EvidenceNonRetrieval:         4,
}

func (t EvidenceType) Valid() bool {
	_, ok := evidencePriorities[t]
	return ok
}

// Priority orders evidence types along the protocol. Unknown types are 0.
func (t EvidenceType) Priority() int {
	return evidencePriorities[t]
}

func (t EvidenceType) IsRejection() bool {
	switch t {
	case EvidenceSubmissionRejection, EvidenceRelayREMMDRejection, EvidenceRelayREMMDFailure,
		EvidenceNonDelivery, EvidenceNonRetrieval:
		return true
	}
	return false
}

func (t EvidenceType) IsConfirmation() bool {
	return t == EvidenceDelivery || t == EvidenceRetrieval
}

// RelayREMMDEvidences and DeliveryEvidences group the types the timeout sweeps look for.
var (
	RelayREMMDEvidences = []EvidenceType{EvidenceRelayREMMDAcceptance, EvidenceRelayREMMDRejection, EvidenceRelayREMMDFailure}
	DeliveryEvidences   = []EvidenceType{EvidenceDelivery, EvidenceNonDelivery}
	RetrievalEvidences  = []EvidenceType{EvidenceRetrieval, EvidenceNonRetrieval}
)

type RejectionReason string

const (
	RejectionReasonRelayREMMDTimeout        RejectionReason = "RELAY_REMMD_TIMEOUT"
	RejectionReasonDeliveryEvidenceTimeout  RejectionReason = "DELIVERY_EVIDENCE_TIMEOUT"
	RejectionReasonRetrievalEvidenceTimeout RejectionReason = "RETRIEVAL_EVIDENCE_TIMEOUT"
	RejectionReasonOther                    RejectionReason = "OTHER"
)

type Confirmation struct {
	ID                   string          `json:"id"`
	Type                 EvidenceType    `json:"type"`
	RejectionReason      RejectionReason `json:"rejection_reason,omitempty"`
	Evidence             []byte          `json:"evidence,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	TransportedToGateway bool            `json:"transported_to_gateway"`
	TransportedToBackend bool            `json:"transported_to_backend"`
}
