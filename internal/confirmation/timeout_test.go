package confirmation

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"connector/internal/config"
	"connector/internal/lock"
	"connector/internal/logger"
	"connector/internal/messages"
	"connector/pkg/errors"
	"connector/pkg/logging"
	"connector/pkg/models"
)

type sentEvidence struct {
	business     *models.Message
	confirmation models.Confirmation
	domain       string
}

type fakeSubmitter struct {
	mu   sync.Mutex
	sent []sentEvidence
	err  error
}

func (f *fakeSubmitter) SubmitEvidence(ctx context.Context, business *models.Message, c models.Confirmation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentEvidence{business: business, confirmation: c, domain: logging.GetBusinessDomain(ctx)})
	return nil
}

type checkerFixture struct {
	repo      *messages.MemoryRepository
	submitter *fakeSubmitter
	checker   *TimeoutChecker
	logs      *observer.ObservedLogs
	now       time.Time
}

func newChecker(cfg config.EvidenceConfig) *checkerFixture {
	core, logs := observer.New(zapcore.DebugLevel)
	log := logger.NewFromCore(core)

	repo := messages.NewMemoryRepository()
	submitter := &fakeSubmitter{}
	locker := lock.NewLocker(lock.NewMemoryStore(), config.LockConfig{
		TTL:           time.Minute,
		WaitTimeout:   time.Second,
		RetryInterval: time.Millisecond,
	}, log)

	cfg.TimeoutActive = true
	checker := NewTimeoutChecker(repo, NewLifecycle(repo, cfg, log), locker, submitter, cfg, log)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	checker.now = func() time.Time { return now }

	return &checkerFixture{repo: repo, submitter: submitter, checker: checker, logs: logs, now: now}
}

func (f *checkerFixture) outgoing(t *testing.T, deliveredAgo time.Duration, confirmations ...models.EvidenceType) *models.Message {
	t.Helper()
	delivered := f.now.Add(-deliveredAgo)
	b := models.NewMessageBuilder().
		WithDirection(models.DirectionBackendToGateway).
		WithBusinessDomain("civil").
		WithBackendPartner("backend_a").
		WithGatewayPartner("gw")
	for _, ct := range confirmations {
		b = b.WithConfirmation(models.Confirmation{ID: "c-" + string(ct), Type: ct})
	}
	msg := b.Build()
	msg.DeliveredToGateway = &delivered
	require.NoError(t, f.repo.Save(context.Background(), msg))
	return msg
}

func relayConfig() config.EvidenceConfig {
	return config.EvidenceConfig{
		CheckInterval:         time.Minute,
		RelayREMMDTimeout:     24 * time.Hour,
		RelayREMMDWarnTimeout: 12 * time.Hour,
	}
}

func TestRelaySweepEscalatesAfterTimeout(t *testing.T) {
	f := newChecker(relayConfig())
	msg := f.outgoing(t, 25*time.Hour, models.EvidenceSubmissionAcceptance)

	require.NoError(t, f.checker.CheckTimeouts(context.Background()))

	stored, err := f.repo.Get(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageStateRejected, stored.State())
	require.Len(t, stored.Confirmations, 2)
	assert.Equal(t, models.EvidenceRelayREMMDFailure, stored.Confirmations[1].Type)
	assert.Equal(t, models.RejectionReasonRelayREMMDTimeout, stored.Confirmations[1].RejectionReason)

	require.Len(t, f.submitter.sent, 1)
	sent := f.submitter.sent[0]
	assert.Equal(t, msg.ID, sent.business.ID)
	assert.Equal(t, models.EvidenceRelayREMMDFailure, sent.confirmation.Type)
	assert.Equal(t, models.LinkTypeBackend, sent.business.Details.Direction.Opposite().Target())
	assert.Equal(t, "civil", sent.domain)
}

func TestRelaySweepWarnsBetweenLimits(t *testing.T) {
	f := newChecker(relayConfig())
	msg := f.outgoing(t, 13*time.Hour)

	require.NoError(t, f.checker.CheckTimeouts(context.Background()))

	stored, err := f.repo.Get(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageStateAwaitingEvidence, stored.State())
	assert.Empty(t, stored.Confirmations)
	assert.Empty(t, f.submitter.sent)

	warnings := f.logs.FilterLevelExact(zapcore.WarnLevel).FilterMessage("Message reached evidence warning limit, no evidence received yet")
	require.Equal(t, 1, warnings.Len())
	assert.Equal(t, "relay_remmd", warnings.All()[0].ContextMap()["kind"])
}

func TestRelaySweepIgnoresFreshAndAnsweredMessages(t *testing.T) {
	f := newChecker(relayConfig())
	f.outgoing(t, time.Hour)
	f.outgoing(t, 30*time.Hour, models.EvidenceRelayREMMDAcceptance)

	require.NoError(t, f.checker.CheckTimeouts(context.Background()))
	assert.Empty(t, f.submitter.sent)
	assert.Equal(t, 0, f.logs.FilterLevelExact(zapcore.WarnLevel).Len())
}

func TestRelaySweepLogsAndContinuesOnFailure(t *testing.T) {
	f := newChecker(relayConfig())
	f.submitter.err = stderrors.New("queue down")
	first := f.outgoing(t, 25*time.Hour)
	f.outgoing(t, 26*time.Hour)

	assert.NoError(t, f.checker.CheckTimeouts(context.Background()))
	failures := f.logs.FilterMessage("Evidence timeout processing failed")
	assert.Equal(t, 2, failures.Len())

	stored, err := f.repo.Get(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageStateAwaitingEvidence, stored.State())
	assert.Empty(t, stored.Confirmations)

	f.submitter.err = nil
	require.NoError(t, f.checker.CheckTimeouts(context.Background()))
	assert.Len(t, f.submitter.sent, 2)
}

func TestDeliverySweepSurfacesFailures(t *testing.T) {
	f := newChecker(config.EvidenceConfig{
		DeliveryTimeout:     48 * time.Hour,
		DeliveryWarnTimeout: 24 * time.Hour,
	})
	f.submitter.err = stderrors.New("queue down")
	msg := f.outgoing(t, 50*time.Hour, models.EvidenceRelayREMMDAcceptance)
	f.outgoing(t, 49*time.Hour, models.EvidenceRelayREMMDAcceptance)

	err := f.checker.CheckTimeouts(context.Background())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeTimeoutProcessing))
	assert.Contains(t, err.Error(), msg.ID)
	assert.Equal(t, 2, f.logs.FilterMessage("Evidence timeout processing failed").Len())
}

func TestDeliverySweepCreatesNonDelivery(t *testing.T) {
	f := newChecker(config.EvidenceConfig{DeliveryTimeout: 48 * time.Hour})
	msg := f.outgoing(t, 50*time.Hour, models.EvidenceRelayREMMDAcceptance)

	require.NoError(t, f.checker.CheckTimeouts(context.Background()))

	stored, err := f.repo.Get(context.Background(), msg.ID)
	require.NoError(t, err)
	require.Len(t, stored.Confirmations, 2)
	assert.Equal(t, models.EvidenceNonDelivery, stored.Confirmations[1].Type)
	assert.Equal(t, models.RejectionReasonDeliveryEvidenceTimeout, stored.Confirmations[1].RejectionReason)
	assert.Equal(t, models.MessageStateRejected, stored.State())
}

func TestRetrievalSweepIncludesConfirmedMessages(t *testing.T) {
	f := newChecker(config.EvidenceConfig{RetrievalTimeout: 72 * time.Hour})
	msg := f.outgoing(t, 80*time.Hour, models.EvidenceRelayREMMDAcceptance, models.EvidenceDelivery)
	confirmed := f.now.Add(-79 * time.Hour)
	msg.ConfirmedAt = &confirmed
	require.NoError(t, f.repo.Update(context.Background(), msg))

	require.NoError(t, f.checker.CheckTimeouts(context.Background()))

	stored, err := f.repo.Get(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EvidenceNonRetrieval, stored.Confirmations[len(stored.Confirmations)-1].Type)
	assert.Equal(t, models.MessageStateRejected, stored.State())
}

func TestSweepsDisabled(t *testing.T) {
	f := newChecker(config.EvidenceConfig{})
	f.outgoing(t, 1000*time.Hour)

	require.NoError(t, f.checker.CheckTimeouts(context.Background()))
	assert.Empty(t, f.submitter.sent)
}

func TestStartStopsOnCancel(t *testing.T) {
	f := newChecker(relayConfig())
	f.checker.cfg.CheckInterval = time.Millisecond
	f.outgoing(t, 25*time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.checker.Start(ctx) }()

	assert.Eventually(t, func() bool {
		f.submitter.mu.Lock()
		defer f.submitter.mu.Unlock()
		return len(f.submitter.sent) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("checker did not stop")
	}
}

type flakyUpdateRepo struct {
	messages.Repository
	failures int
}

func (r *flakyUpdateRepo) Update(ctx context.Context, msg *models.Message) error {
	if r.failures > 0 {
		r.failures--
		return errors.ErrServiceUnavailable.WithMessage("database unavailable")
	}
	return r.Repository.Update(ctx, msg)
}

func TestEscalationIsNotResentAfterFailedStore(t *testing.T) {
	f := newChecker(relayConfig())
	repo := &flakyUpdateRepo{Repository: f.repo, failures: 1}
	cfg := relayConfig()
	cfg.TimeoutActive = true
	log := logger.NopLogger()
	locker := lock.NewLocker(lock.NewMemoryStore(), config.LockConfig{
		TTL:           time.Minute,
		WaitTimeout:   time.Second,
		RetryInterval: time.Millisecond,
	}, log)
	checker := NewTimeoutChecker(repo, NewLifecycle(repo, cfg, log), locker, f.submitter, cfg, log)
	checker.now = f.checker.now

	msg := f.outgoing(t, 25*time.Hour)
	ctx := context.Background()

	require.NoError(t, checker.CheckTimeouts(ctx), "relay sweep only logs failures")
	stored, err := f.repo.Get(ctx, msg.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Confirmations, "store failed")
	require.Len(t, f.submitter.sent, 1)

	require.NoError(t, checker.CheckTimeouts(ctx))
	stored, err = f.repo.Get(ctx, msg.ID)
	require.NoError(t, err)
	require.Len(t, stored.Confirmations, 1)
	assert.Equal(t, models.EvidenceRelayREMMDFailure, stored.Confirmations[0].Type)
	assert.Len(t, f.submitter.sent, 1, "evidence went out once")
	assert.Empty(t, checker.sent)

	require.NoError(t, checker.CheckTimeouts(ctx))
	assert.Len(t, f.submitter.sent, 1)
}

func TestEscalationRetriesFailedSend(t *testing.T) {
	f := newChecker(relayConfig())
	msg := f.outgoing(t, 25*time.Hour)
	ctx := context.Background()

	f.submitter.err = stderrors.New("queue down")
	require.NoError(t, f.checker.CheckTimeouts(ctx))
	assert.Empty(t, f.checker.sent)

	f.submitter.err = nil
	require.NoError(t, f.checker.CheckTimeouts(ctx))
	require.Len(t, f.submitter.sent, 1)
	stored, err := f.repo.Get(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageStateRejected, stored.State())
}
