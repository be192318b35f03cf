//go:build integration

package transport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"connector/internal/messages"
	"connector/internal/testinfra"
	apperrors "connector/pkg/errors"
	"connector/pkg/models"
)

func setupPostgres(t *testing.T, ids ...string) Repository {
	t.Helper()
	db := testinfra.Postgres(t)

	msgs := messages.NewRepository(db)
	for _, id := range ids {
		msg := models.NewMessageBuilder().
			WithID(id).
			WithBusinessDomain("DEFAULT").
			WithDirection(models.DirectionBackendToGateway).
			Build()
		require.NoError(t, msgs.Save(context.Background(), msg))
	}
	return NewRepository(db)
}

func TestPostgresCreateStepAndUpdate(t *testing.T) {
	repo := setupPostgres(t, "m1")
	ctx := context.Background()

	first, err := repo.CreateStep(ctx, "m1", "gw")
	require.NoError(t, err)
	assert.Equal(t, 1, first.Attempt)
	assert.Equal(t, "m1_gw_1", first.TransportID)

	second, err := repo.CreateStep(ctx, "m1", "gw")
	require.NoError(t, err)
	assert.Equal(t, 2, second.Attempt)

	updated, err := repo.UpdateStatus(ctx, second.TransportID, StatusChange{
		State:           models.TransportStateAccepted,
		Text:            "written",
		RemoteMessageID: "remote-1",
	})
	require.NoError(t, err)
	assert.True(t, updated.FinalStateReached)

	_, err = repo.UpdateStatus(ctx, second.TransportID, StatusChange{State: models.TransportStatePending})
	assert.True(t, apperrors.IsConflict(err))

	_, err = repo.UpdateStatus(ctx, "missing", StatusChange{State: models.TransportStateAccepted})
	assert.True(t, apperrors.IsNotFound(err))

	stored, err := repo.FindStep(ctx, second.TransportID)
	require.NoError(t, err)
	assert.Equal(t, "remote-1", stored.RemoteMessageID)
	assert.Equal(t, models.TransportStateAccepted, stored.State())
	require.Len(t, stored.StatusUpdates, 2)
	assert.Equal(t, "written", stored.ResultText())
}

func TestPostgresLastAttemptQueries(t *testing.T) {
	repo := setupPostgres(t, "m1", "m2")
	ctx := context.Background()

	old, err := repo.CreateStep(ctx, "m1", "gw")
	require.NoError(t, err)
	_, err = repo.UpdateStatus(ctx, old.TransportID, StatusChange{State: models.TransportStateFailed, Text: "timeout"})
	require.NoError(t, err)
	retry, err := repo.CreateStep(ctx, "m1", "gw")
	require.NoError(t, err)

	_, err = repo.CreateStep(ctx, "m1", "backend_a")
	require.NoError(t, err)

	pulled, err := repo.CreateStep(ctx, "m2", "backend_a")
	require.NoError(t, err)
	_, err = repo.UpdateStatus(ctx, pulled.TransportID, StatusChange{State: models.TransportStatePendingDownloaded})
	require.NoError(t, err)

	last, err := repo.LastAttempts(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, last, 2)
	for _, step := range last {
		if step.LinkPartnerName == "gw" {
			assert.Equal(t, retry.TransportID, step.TransportID)
		}
	}

	failed, err := repo.FindLastAttemptsByStates(ctx, []models.TransportState{models.TransportStateFailed}, nil)
	require.NoError(t, err)
	assert.Empty(t, failed, "a newer attempt hides the failed one")

	pending, err := repo.FindPendingByPartner(ctx, "backend_a")
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	downloaded, err := repo.FindLastAttemptsByStates(ctx,
		[]models.TransportState{models.TransportStatePendingDownloaded}, []string{"backend_a"})
	require.NoError(t, err)
	require.Len(t, downloaded, 1)
	assert.Equal(t, "m2", downloaded[0].MessageID)
}
