package transport

import (
	"context"
	"sort"
	"sync"
	"time"

	"connector/pkg/errors"
	"connector/pkg/models"
)

type MemoryRepository struct {
	mu    sync.Mutex
	steps map[string]*models.TransportStep
	now   func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		steps: make(map[string]*models.TransportStep),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func cloneStep(s *models.TransportStep) *models.TransportStep {
	c := *s
	c.StatusUpdates = append([]models.TransportStatusUpdate(nil), s.StatusUpdates...)
	return &c
}

func (r *MemoryRepository) CreateStep(_ context.Context, messageID, partner string) (*models.TransportStep, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	attempt := 1
	for _, s := range r.steps {
		if s.MessageID == messageID && s.LinkPartnerName == partner && s.Attempt >= attempt {
			attempt = s.Attempt + 1
		}
	}

	now := r.now()
	step := &models.TransportStep{
		TransportID:     models.TransportID(messageID, partner, attempt),
		MessageID:       messageID,
		LinkPartnerName: partner,
		Attempt:         attempt,
		CreatedAt:       now,
	}
	if err := step.AddStatusUpdate(models.TransportStatusUpdate{State: models.TransportStatePending, CreatedAt: now}); err != nil {
		return nil, err
	}
	r.steps[step.TransportID] = step
	return cloneStep(step), nil
}

func (r *MemoryRepository) UpdateStatus(_ context.Context, transportID string, change StatusChange) (*models.TransportStep, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.steps[transportID]
	if !ok {
		return nil, errors.ErrNotFound.WithMessage("transport %s not found", transportID)
	}
	step := cloneStep(stored)
	update := models.TransportStatusUpdate{State: change.State, Text: change.Text, CreatedAt: r.now()}
	if err := step.AddStatusUpdate(update); err != nil {
		return nil, errors.ErrConflict.WithCause(err).WithMessage("%v", err)
	}
	applyRemoteIDs(step, change)
	r.steps[transportID] = step
	return cloneStep(step), nil
}

func (r *MemoryRepository) FindStep(_ context.Context, transportID string) (*models.TransportStep, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	step, ok := r.steps[transportID]
	if !ok {
		return nil, errors.ErrNotFound.WithMessage("transport %s not found", transportID)
	}
	return cloneStep(step), nil
}

// lastAttempts keeps the highest attempt per message and partner among the
// steps accepted by keep.
func (r *MemoryRepository) lastAttempts(keep func(*models.TransportStep) bool) []*models.TransportStep {
	last := make(map[[2]string]*models.TransportStep)
	for _, s := range r.steps {
		if !keep(s) {
			continue
		}
		key := [2]string{s.MessageID, s.LinkPartnerName}
		if cur, ok := last[key]; !ok || s.Attempt > cur.Attempt {
			last[key] = s
		}
	}

	out := make([]*models.TransportStep, 0, len(last))
	for _, s := range last {
		out = append(out, cloneStep(s))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].TransportID < out[j].TransportID
	})
	return out
}

func (r *MemoryRepository) LastAttempts(_ context.Context, messageID string) ([]*models.TransportStep, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	steps := r.lastAttempts(func(s *models.TransportStep) bool { return s.MessageID == messageID })
	sort.Slice(steps, func(i, j int) bool { return steps[i].LinkPartnerName < steps[j].LinkPartnerName })
	return steps, nil
}

func (r *MemoryRepository) FindPendingByPartner(ctx context.Context, partner string) ([]*models.TransportStep, error) {
	return r.FindLastAttemptsByStates(ctx,
		[]models.TransportState{models.TransportStatePending, models.TransportStatePendingDownloaded},
		[]string{partner},
	)
}

func (r *MemoryRepository) FindLastAttemptsByStates(_ context.Context, states []models.TransportState, partners []string) ([]*models.TransportStep, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	partnerSet := make(map[string]bool, len(partners))
	for _, p := range partners {
		partnerSet[p] = true
	}
	last := r.lastAttempts(func(s *models.TransportStep) bool {
		return len(partnerSet) == 0 || partnerSet[s.LinkPartnerName]
	})

	out := make([]*models.TransportStep, 0, len(last))
	for _, s := range last {
		for _, state := range states {
			if s.State() == state {
				out = append(out, s)
				break
			}
		}
	}
	return out, nil
}
