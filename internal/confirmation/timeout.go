package confirmation

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"connector/internal/config"
	"connector/internal/logger"
	"connector/internal/messages"
	"connector/pkg/errors"
	"connector/pkg/logging"
	"connector/pkg/metrics"
	"connector/pkg/models"
	"connector/pkg/tracing"
)

// EvidenceSubmitter sends an evidence about business back to its original sender.
type EvidenceSubmitter interface {
	SubmitEvidence(ctx context.Context, business *models.Message, confirmation models.Confirmation) error
}

// MessageLocker serializes work on a single message across workers and instances.
type MessageLocker interface {
	WithLock(ctx context.Context, messageID string, fn func(ctx context.Context) error) error
}

type sweep struct {
	kind     string
	query    messages.EvidenceQuery
	evidence models.EvidenceType
	reason   models.RejectionReason
	timeout  time.Duration
	warn     time.Duration
	// surface makes per-message failures part of the sweep result instead
	// of only logging them.
	surface bool
}

// TimeoutChecker creates rejection evidences for outgoing messages whose
// relay, delivery or retrieval evidence did not arrive in time.
type TimeoutChecker struct {
	repo      messages.Repository
	lifecycle *Lifecycle
	locker    MessageLocker
	submitter EvidenceSubmitter
	cfg       config.EvidenceConfig
	logger    logger.Logger
	now       func() time.Time

	// sent holds synthetic evidences that went out but were not stored yet,
	// keyed by message id and evidence type.
	mu   sync.Mutex
	sent map[string]bool
}

func NewTimeoutChecker(repo messages.Repository, lifecycle *Lifecycle, locker MessageLocker, submitter EvidenceSubmitter, cfg config.EvidenceConfig, log logger.Logger) *TimeoutChecker {
	return &TimeoutChecker{
		repo:      repo,
		lifecycle: lifecycle,
		locker:    locker,
		submitter: submitter,
		cfg:       cfg,
		logger:    log,
		now:       time.Now,
		sent:      make(map[string]bool),
	}
}

func (c *TimeoutChecker) sweeps() []sweep {
	return []sweep{
		{
			kind:     "relay_remmd",
			query:    messages.EvidenceQuery{Missing: models.RelayREMMDEvidences},
			evidence: models.EvidenceRelayREMMDFailure,
			reason:   models.RejectionReasonRelayREMMDTimeout,
			timeout:  c.cfg.RelayREMMDTimeout,
			warn:     c.cfg.RelayREMMDWarnTimeout,
		},
		{
			kind:     "delivery",
			query:    messages.EvidenceQuery{Missing: models.DeliveryEvidences},
			evidence: models.EvidenceNonDelivery,
			reason:   models.RejectionReasonDeliveryEvidenceTimeout,
			timeout:  c.cfg.DeliveryTimeout,
			warn:     c.cfg.DeliveryWarnTimeout,
			surface:  true,
		},
		{
			kind:     "retrieval",
			query:    messages.EvidenceQuery{Missing: models.RetrievalEvidences, IncludeConfirmed: true},
			evidence: models.EvidenceNonRetrieval,
			reason:   models.RejectionReasonRetrievalEvidenceTimeout,
			timeout:  c.cfg.RetrievalTimeout,
			warn:     c.cfg.RetrievalWarnTimeout,
		},
	}
}

// Start runs CheckTimeouts every check_interval until ctx is done.
func (c *TimeoutChecker) Start(ctx context.Context) error {
	if !c.cfg.TimeoutActive || c.cfg.CheckInterval <= 0 {
		c.logger.InfowCtx(ctx, "Evidence timeout checker disabled")
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(c.cfg.CheckInterval)
	defer ticker.Stop()

	c.logger.InfowCtx(ctx, "Evidence timeout checker started", "interval", c.cfg.CheckInterval)
	for {
		select {
		case <-ticker.C:
			if err := c.CheckTimeouts(ctx); err != nil {
				c.logger.ErrorwCtx(ctx, "Evidence timeout check finished with errors", "error", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// CheckTimeouts runs every sweep whose timeout is configured. Failures of the
// delivery sweep are returned as C101 errors; the other sweeps only log them.
func (c *TimeoutChecker) CheckTimeouts(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, "confirmation.check_timeouts")
	defer span.End()

	var errs []error
	for _, sw := range c.sweeps() {
		if sw.timeout <= 0 {
			continue
		}
		if err := c.runSweep(ctx, sw); err != nil {
			errs = append(errs, err)
		}
		if ctx.Err() != nil {
			break
		}
	}
	return stderrors.Join(errs...)
}

func (c *TimeoutChecker) runSweep(ctx context.Context, sw sweep) error {
	candidates, err := c.repo.FindOutgoingWithoutEvidence(ctx, sw.query)
	if err != nil {
		c.logger.ErrorwCtx(ctx, "Failed to load messages for timeout sweep", "kind", sw.kind, "error", err)
		if sw.surface {
			return errors.ErrTimeoutProcessing.WithCause(err)
		}
		return nil
	}

	c.logger.DebugwCtx(ctx, "Checking messages for evidence timeout", "kind", sw.kind, "count", len(candidates))

	var errs []error
	for _, msg := range candidates {
		if ctx.Err() != nil {
			break
		}
		if err := c.checkMessage(ctx, sw, msg); err != nil {
			if !sw.surface {
				continue
			}
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// checkMessage runs in a context scoped to the message's business domain; the
// scope ends with the call.
func (c *TimeoutChecker) checkMessage(ctx context.Context, sw sweep, msg *models.Message) error {
	ctx = logging.WithBusinessDomain(ctx, msg.BusinessDomain)
	ctx = logging.WithMessageID(ctx, msg.ID)

	baseline, err := deliveryBaseline(msg)
	if err != nil {
		return c.failed(ctx, sw, msg, err)
	}

	elapsed := c.now().Sub(baseline)
	switch {
	case elapsed > sw.timeout:
		if err := c.escalate(ctx, sw, msg.ID); err != nil {
			return c.failed(ctx, sw, msg, err)
		}
		return nil
	case sw.warn > 0 && elapsed > sw.warn:
		metrics.IncEvidenceTimeout(sw.kind, "warned")
		c.logger.WarnwCtx(ctx, "Message reached evidence warning limit, no evidence received yet",
			"kind", sw.kind,
			"message_id", msg.ID,
			"elapsed", elapsed.String(),
			"warn_timeout", sw.warn.String(),
		)
	}
	return nil
}

// escalate re-reads the message under its lock so a concurrently recorded
// evidence wins over the synthetic one.
func (c *TimeoutChecker) escalate(ctx context.Context, sw sweep, messageID string) error {
	return c.locker.WithLock(ctx, messageID, func(ctx context.Context) error {
		msg, err := c.repo.Get(ctx, messageID)
		if err != nil {
			return err
		}
		key := messageID + "/" + string(sw.evidence)
		if msg.RejectedAt != nil || msg.HasEvidence(sw.query.Missing...) ||
			(msg.ConfirmedAt != nil && !sw.query.IncludeConfirmed) {
			c.setSent(key, false)
			c.logger.DebugwCtx(ctx, "Evidence arrived before escalation", "kind", sw.kind)
			return nil
		}

		// the evidence is sent before it is stored, a failed send leaves the
		// message untouched for the next sweep
		outcome, err := c.lifecycle.RecordEvidenceWith(ctx, msg,
			Evidence{Type: sw.evidence, RejectionReason: sw.reason},
			c.submitOnce(key))
		if err != nil {
			return err
		}
		c.setSent(key, false)
		if !outcome.Accepted {
			metrics.IncEvidenceTimeout(sw.kind, "suppressed")
			return nil
		}

		metrics.IncEvidenceTimeout(sw.kind, "escalated")
		c.logger.WarnwCtx(ctx, "Message reached evidence timeout, rejection evidence generated and sent",
			"kind", sw.kind,
			"message_id", msg.ID,
			"evidence_type", sw.evidence,
			"rejection_reason", sw.reason,
		)
		return nil
	})
}

// submitOnce skips the send when an earlier sweep already sent the evidence
// and only failed to store it.
func (c *TimeoutChecker) submitOnce(key string) BeforeCommit {
	return func(ctx context.Context, updated *models.Message, confirmation models.Confirmation) error {
		c.mu.Lock()
		done := c.sent[key]
		c.mu.Unlock()
		if done {
			c.logger.InfowCtx(ctx, "Evidence already sent, storing it only",
				"message_id", updated.ID,
				"evidence_type", confirmation.Type,
			)
			return nil
		}
		if err := c.submitter.SubmitEvidence(ctx, updated, confirmation); err != nil {
			return err
		}
		c.setSent(key, true)
		return nil
	}
}

func (c *TimeoutChecker) setSent(key string, sent bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sent {
		c.sent[key] = true
	} else {
		delete(c.sent, key)
	}
}

func (c *TimeoutChecker) failed(ctx context.Context, sw sweep, msg *models.Message, err error) error {
	metrics.IncEvidenceTimeout(sw.kind, "failed")
	c.logger.ErrorwCtx(ctx, "Evidence timeout processing failed",
		"kind", sw.kind,
		"message_id", msg.ID,
		"evidence_type", sw.evidence,
		"error", err,
	)
	return errors.ErrTimeoutProcessing.WithCause(err).
		WithMessage("%s timeout of message %s: creating %s failed", sw.kind, msg.ID, sw.evidence)
}

func deliveryBaseline(msg *models.Message) (time.Time, error) {
	if !msg.Details.Direction.Valid() {
		return time.Time{}, errors.ErrValidation.WithMessage("message %s has no direction", msg.ID)
	}
	baseline := msg.DeliveryBaseline()
	if baseline == nil {
		return time.Time{}, errors.ErrValidation.WithMessage("message %s has no delivery timestamp for %s", msg.ID, msg.Details.Direction)
	}
	return *baseline, nil
}
