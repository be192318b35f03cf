package confirmation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"connector/internal/config"
	"connector/internal/logger"
	"connector/internal/messages"
	"connector/pkg/errors"
	"connector/pkg/models"
)

func saved(t *testing.T, repo *messages.MemoryRepository, confirmations ...models.EvidenceType) *models.Message {
	t.Helper()
	b := models.NewMessageBuilder().
		WithDirection(models.DirectionBackendToGateway).
		WithBusinessDomain("DEFAULT")
	for i, ct := range confirmations {
		b = b.WithConfirmation(models.Confirmation{ID: string(ct) + string(rune('a'+i)), Type: ct})
	}
	msg := b.Build()
	require.NoError(t, repo.Save(context.Background(), msg))
	stored, err := repo.Get(context.Background(), msg.ID)
	require.NoError(t, err)
	return stored
}

func TestRecordEvidenceOutcomes(t *testing.T) {
	tests := []struct {
		name      string
		existing  []models.EvidenceType
		rejected  bool
		evidence  models.EvidenceType
		wantCode  string
		wantState models.MessageState
	}{
		{
			name:      "first evidence accepted",
			evidence:  models.EvidenceSubmissionAcceptance,
			wantState: models.MessageStateAwaitingEvidence,
		},
		{
			name:      "higher priority accepted",
			existing:  []models.EvidenceType{models.EvidenceSubmissionAcceptance},
			evidence:  models.EvidenceRelayREMMDAcceptance,
			wantState: models.MessageStateAwaitingEvidence,
		},
		{
			name:      "delivery confirms",
			existing:  []models.EvidenceType{models.EvidenceSubmissionAcceptance, models.EvidenceRelayREMMDAcceptance},
			evidence:  models.EvidenceDelivery,
			wantState: models.MessageStateConfirmed,
		},
		{
			name:      "relay failure rejects",
			existing:  []models.EvidenceType{models.EvidenceSubmissionAcceptance},
			evidence:  models.EvidenceRelayREMMDFailure,
			wantState: models.MessageStateRejected,
		},
		{
			name:      "already rejected",
			rejected:  true,
			evidence:  models.EvidenceDelivery,
			wantCode:  errors.CodeEvidenceAlreadyRejected,
			wantState: models.MessageStateRejected,
		},
		{
			name:      "duplicate type",
			existing:  []models.EvidenceType{models.EvidenceSubmissionAcceptance},
			evidence:  models.EvidenceSubmissionAcceptance,
			wantCode:  errors.CodeEvidenceDuplicate,
			wantState: models.MessageStateAwaitingEvidence,
		},
		{
			name:      "lower priority than stored",
			existing:  []models.EvidenceType{models.EvidenceDelivery},
			evidence:  models.EvidenceRelayREMMDRejection,
			wantCode:  errors.CodeEvidenceHigherPriority,
			wantState: models.MessageStateAwaitingEvidence,
		},
		{
			name:      "equal priority of another type",
			existing:  []models.EvidenceType{models.EvidenceRelayREMMDAcceptance},
			evidence:  models.EvidenceRelayREMMDFailure,
			wantCode:  errors.CodeEvidenceHigherPriority,
			wantState: models.MessageStateAwaitingEvidence,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := messages.NewMemoryRepository()
			lc := NewLifecycle(repo, config.EvidenceConfig{}, logger.NopLogger())
			msg := saved(t, repo, tt.existing...)
			if tt.rejected {
				now := time.Now()
				msg.RejectedAt = &now
				require.NoError(t, repo.Update(context.Background(), msg))
			}
			before := len(msg.Confirmations)

			outcome, err := lc.RecordEvidence(context.Background(), msg, Evidence{Type: tt.evidence})
			require.NoError(t, err)
			assert.Equal(t, tt.wantCode, outcome.Code)
			assert.Equal(t, tt.wantCode == "", outcome.Accepted)
			assert.Equal(t, tt.wantState, outcome.State)

			stored, err := repo.Get(context.Background(), msg.ID)
			require.NoError(t, err)
			if tt.wantCode != "" {
				assert.Len(t, stored.Confirmations, before)
				assert.NotEmpty(t, outcome.Description)
				return
			}
			assert.Len(t, stored.Confirmations, before+1)
			assert.Equal(t, tt.wantState, stored.State())
			assert.Equal(t, outcome.Confirmation.ID, stored.Confirmations[before].ID)
		})
	}
}

func TestRecordEvidenceSuppressionIsIdempotent(t *testing.T) {
	repo := messages.NewMemoryRepository()
	lc := NewLifecycle(repo, config.EvidenceConfig{}, logger.NopLogger())
	msg := saved(t, repo, models.EvidenceDelivery)

	for i := 0; i < 2; i++ {
		outcome, err := lc.RecordEvidence(context.Background(), msg, Evidence{Type: models.EvidenceSubmissionRejection})
		require.NoError(t, err)
		assert.False(t, outcome.Accepted)
		assert.Equal(t, errors.CodeEvidenceHigherPriority, outcome.Code)
	}

	stored, err := repo.Get(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Confirmations, 1)
	assert.Nil(t, stored.RejectedAt)
}

func TestRecordEvidenceRejectedIsImmutable(t *testing.T) {
	repo := messages.NewMemoryRepository()
	lc := NewLifecycle(repo, config.EvidenceConfig{}, logger.NopLogger())
	msg := saved(t, repo)

	outcome, err := lc.RecordEvidence(context.Background(), msg, Evidence{Type: models.EvidenceSubmissionRejection})
	require.NoError(t, err)
	require.True(t, outcome.Accepted)
	require.Equal(t, models.MessageStateRejected, msg.State())

	for _, et := range []models.EvidenceType{
		models.EvidenceSubmissionAcceptance,
		models.EvidenceRelayREMMDAcceptance,
		models.EvidenceDelivery,
		models.EvidenceRetrieval,
		models.EvidenceNonRetrieval,
	} {
		outcome, err := lc.RecordEvidence(context.Background(), msg, Evidence{Type: et})
		require.NoError(t, err)
		assert.Equal(t, errors.CodeEvidenceAlreadyRejected, outcome.Code, et)
	}

	stored, err := repo.Get(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Confirmations, 1)
}

func TestRecordEvidenceMaxOccurrences(t *testing.T) {
	repo := messages.NewMemoryRepository()
	lc := NewLifecycle(repo, config.EvidenceConfig{
		MaxOccurrences: map[string]int{"relay_remmd_acceptance": 2},
	}, logger.NopLogger())
	msg := saved(t, repo)

	for i, want := range []string{"", "", errors.CodeEvidenceDuplicate} {
		outcome, err := lc.RecordEvidence(context.Background(), msg, Evidence{Type: models.EvidenceRelayREMMDAcceptance})
		require.NoError(t, err)
		assert.Equal(t, want, outcome.Code, "attempt %d", i)
	}
}

func TestRecordEvidenceStaleVersion(t *testing.T) {
	repo := messages.NewMemoryRepository()
	lc := NewLifecycle(repo, config.EvidenceConfig{}, logger.NopLogger())
	msg := saved(t, repo)

	stale := msg.Clone()
	_, err := lc.RecordEvidence(context.Background(), msg, Evidence{Type: models.EvidenceSubmissionAcceptance})
	require.NoError(t, err)

	_, err = lc.RecordEvidence(context.Background(), stale, Evidence{Type: models.EvidenceRelayREMMDAcceptance})
	assert.True(t, errors.HasCode(err, errors.CodeConcurrentModification))
	assert.Empty(t, stale.Confirmations)
}

func TestRecordEvidenceRejectsUnknownType(t *testing.T) {
	repo := messages.NewMemoryRepository()
	lc := NewLifecycle(repo, config.EvidenceConfig{}, logger.NopLogger())
	msg := saved(t, repo)

	_, err := lc.RecordEvidence(context.Background(), msg, Evidence{Type: "SIGNED"})
	assert.True(t, errors.IsValidation(err))
}
