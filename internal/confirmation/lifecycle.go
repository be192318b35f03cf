// Package confirmation tracks the evidences of business messages and
// escalates messages whose partners stay silent.
package confirmation

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"connector/internal/config"
	"connector/internal/constants"
	"connector/internal/logger"
	"connector/internal/messages"
	"connector/pkg/errors"
	"connector/pkg/metrics"
	"connector/pkg/models"
	"connector/pkg/tracing"
)

// Evidence is an evidence to record on a business message.
type Evidence struct {
	Type            models.EvidenceType
	RejectionReason models.RejectionReason
	Document        []byte
}

// Outcome reports whether an evidence was stored. A suppressed evidence has
// Accepted false and one of the E1xx codes; it is not an error.
type Outcome struct {
	Accepted     bool
	Code         string
	Description  string
	Confirmation models.Confirmation
	State        models.MessageState
}

type Lifecycle struct {
	repo           messages.Repository
	maxOccurrences map[models.EvidenceType]int
	logger         logger.Logger
	now            func() time.Time
}

func NewLifecycle(repo messages.Repository, cfg config.EvidenceConfig, log logger.Logger) *Lifecycle {
	maxOccurrences := make(map[models.EvidenceType]int, len(cfg.MaxOccurrences))
	for name, n := range cfg.MaxOccurrences {
		maxOccurrences[models.EvidenceType(strings.ToUpper(name))] = n
	}
	return &Lifecycle{
		repo:           repo,
		maxOccurrences: maxOccurrences,
		logger:         log,
		now:            time.Now,
	}
}

func (l *Lifecycle) maxOccurrencesOf(t models.EvidenceType) int {
	if n, ok := l.maxOccurrences[t]; ok && n > 0 {
		return n
	}
	return constants.DefaultEvidenceMaxOccurrences
}

// Check returns the suppression code for recording t on msg, or "" when the
// evidence would be accepted.
func (l *Lifecycle) Check(msg *models.Message, t models.EvidenceType) string {
	if msg.RejectedAt != nil {
		return errors.CodeEvidenceAlreadyRejected
	}

	occurrences := 0
	highestOther := 0
	for _, c := range msg.Confirmations {
		if c.Type == t {
			occurrences++
			continue
		}
		if p := c.Type.Priority(); p > highestOther {
			highestOther = p
		}
	}

	if occurrences >= l.maxOccurrencesOf(t) {
		return errors.CodeEvidenceDuplicate
	}
	if highestOther > 0 && t.Priority() <= highestOther {
		return errors.CodeEvidenceHigherPriority
	}
	return ""
}

// BeforeCommit runs after an evidence passed the checks and before it is
// stored. An error aborts the recording.
type BeforeCommit func(ctx context.Context, updated *models.Message, confirmation models.Confirmation) error

// RecordEvidence stores ev on msg unless it is suppressed. Rejecting types move
// the message to REJECTED, DELIVERY and RETRIEVAL to CONFIRMED. msg is updated
// in place on success and left untouched otherwise.
func (l *Lifecycle) RecordEvidence(ctx context.Context, msg *models.Message, ev Evidence) (Outcome, error) {
	return l.RecordEvidenceWith(ctx, msg, ev, nil)
}

// RecordEvidenceWith is RecordEvidence with a hook that can veto the write.
func (l *Lifecycle) RecordEvidenceWith(ctx context.Context, msg *models.Message, ev Evidence, hook BeforeCommit) (Outcome, error) {
	ctx, span := tracing.StartSpan(ctx, "confirmation.record_evidence")
	defer span.End()
	span.SetAttributes(
		attribute.String("message.id", msg.ID),
		attribute.String("evidence.type", string(ev.Type)),
	)

	if !ev.Type.Valid() {
		return Outcome{}, errors.ErrValidation.WithMessage("unknown evidence type %q", ev.Type)
	}
	if msg.Kind != models.MessageKindBusiness {
		return Outcome{}, errors.ErrValidation.WithMessage("evidence can only be recorded on business messages, %s is %s", msg.ID, msg.Kind)
	}

	if code := l.Check(msg, ev.Type); code != "" {
		metrics.IncEvidenceSuppressed(string(ev.Type), code)
		l.logger.InfowCtx(ctx, "Evidence ignored",
			"message_id", msg.ID,
			"evidence_type", ev.Type,
			"code", code,
			"reason", errors.Describe(code),
		)
		return Outcome{Code: code, Description: errors.Describe(code), State: msg.State()}, nil
	}

	now := l.now()
	confirmation := models.Confirmation{
		ID:              uuid.NewString(),
		Type:            ev.Type,
		RejectionReason: ev.RejectionReason,
		Evidence:        ev.Document,
		CreatedAt:       now,
	}

	updated := msg.Clone()
	updated.Confirmations = append(updated.Confirmations, confirmation)
	switch {
	case ev.Type.IsRejection():
		updated.RejectedAt = &now
	case ev.Type.IsConfirmation():
		updated.ConfirmedAt = &now
	}

	if hook != nil {
		if err := hook(ctx, updated, confirmation); err != nil {
			return Outcome{}, err
		}
	}

	if err := l.repo.Update(ctx, updated); err != nil {
		return Outcome{}, err
	}
	*msg = *updated

	metrics.IncEvidenceRecorded(string(ev.Type))
	l.logger.InfowCtx(ctx, "Evidence recorded",
		"message_id", msg.ID,
		"evidence_type", ev.Type,
		"rejection_reason", ev.RejectionReason,
		"state", msg.State(),
	)
	if ev.Type.IsRejection() {
		l.logger.WarnwCtx(ctx, "Message rejected by evidence",
			"message_id", msg.ID,
			"evidence_type", ev.Type,
		)
	}

	return Outcome{Accepted: true, Confirmation: confirmation, State: msg.State()}, nil
}
