//go:build integration

package messages

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"connector/internal/testinfra"
	"connector/pkg/errors"
	"connector/pkg/logging"
	"connector/pkg/models"
)

func outgoing(id string) *models.Message {
	return models.NewMessageBuilder().
		WithID(id).
		WithBusinessDomain("DEFAULT").
		WithDirection(models.DirectionBackendToGateway).
		WithConversationID("conv-1").
		WithBackendPartner("backend_a").
		WithContent([]byte("<doc/>")).
		Build()
}

func TestPostgresRepositorySaveAndFind(t *testing.T) {
	repo := NewRepository(testinfra.Postgres(t))
	ctx := logging.WithBusinessDomain(context.Background(), "DEFAULT")

	msg := outgoing("m1")
	msg.Details.BackendMessageID = "backend-1"
	require.NoError(t, repo.Save(ctx, msg))

	got, err := repo.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, []byte("<doc/>"), got.Content)
	assert.Equal(t, "backend_a", got.Details.BackendPartnerName)

	byRef, err := repo.FindByReference(ctx, "backend-1")
	require.NoError(t, err)
	assert.Equal(t, "m1", byRef.ID)

	conv, err := repo.FindByConversationID(ctx, "conv-1")
	require.NoError(t, err)
	assert.Len(t, conv, 1)

	err = repo.Save(ctx, outgoing("m1"))
	assert.True(t, errors.IsConflict(err))

	_, err = repo.Get(ctx, "missing")
	assert.True(t, errors.IsNotFound(err))
}

func TestPostgresRepositoryOptimisticUpdate(t *testing.T) {
	repo := NewRepository(testinfra.Postgres(t))
	ctx := context.Background()
	require.NoError(t, repo.Save(ctx, outgoing("m1")))

	first, err := repo.Get(ctx, "m1")
	require.NoError(t, err)
	stale, err := repo.Get(ctx, "m1")
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Millisecond)
	first.DeliveredToGateway = &now
	first.Details.EbmsMessageID = "ebms-1"
	first.Confirmations = append(first.Confirmations, models.Confirmation{
		ID:        "c1",
		Type:      models.EvidenceSubmissionAcceptance,
		CreatedAt: now,
	})
	require.NoError(t, repo.Update(ctx, first))
	assert.Equal(t, int64(2), first.Version)

	stale.Details.EbmsMessageID = "ebms-other"
	err = repo.Update(ctx, stale)
	assert.True(t, errors.HasCode(err, errors.CodeConcurrentModification))

	got, err := repo.FindByReference(ctx, "ebms-1")
	require.NoError(t, err)
	require.Len(t, got.Confirmations, 1)
	assert.Equal(t, models.EvidenceSubmissionAcceptance, got.Confirmations[0].Type)
	require.NotNil(t, got.DeliveredToGateway)
}

func TestPostgresRepositoryOutgoingWithoutEvidence(t *testing.T) {
	repo := NewRepository(testinfra.Postgres(t))
	ctx := context.Background()

	delivered := time.Now().Add(-time.Hour)
	waiting := outgoing("waiting")
	waiting.DeliveredToGateway = &delivered
	answered := outgoing("answered")
	answered.DeliveredToGateway = &delivered
	answered.Confirmations = []models.Confirmation{{ID: "c1", Type: models.EvidenceRelayREMMDAcceptance, CreatedAt: delivered}}
	notSent := outgoing("not_sent")

	for _, m := range []*models.Message{waiting, answered, notSent} {
		require.NoError(t, repo.Save(ctx, m))
	}

	found, err := repo.FindOutgoingWithoutEvidence(ctx, EvidenceQuery{
		Missing: []models.EvidenceType{models.EvidenceRelayREMMDAcceptance, models.EvidenceRelayREMMDRejection},
	})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "waiting", found[0].ID)
}

func TestPostgresRepositoryPurgeAndList(t *testing.T) {
	repo := NewRepository(testinfra.Postgres(t))
	ctx := logging.WithBusinessDomain(context.Background(), "DEFAULT")

	require.NoError(t, repo.Save(ctx, outgoing("m1")))
	require.NoError(t, repo.PurgeContent(ctx, "m1"))

	got, err := repo.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Empty(t, got.Content)

	assert.True(t, errors.IsNotFound(repo.PurgeContent(ctx, "missing")))

	listed, err := repo.List(ctx, ListFilter{Direction: models.DirectionBackendToGateway})
	require.NoError(t, err)
	assert.Len(t, listed, 1)

	other, err := repo.List(logging.WithBusinessDomain(context.Background(), "SALES"), ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, other)
}
