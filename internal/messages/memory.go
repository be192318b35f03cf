package messages

import (
	"context"
	"sort"
	"sync"

	"connector/pkg/errors"
	"connector/pkg/logging"
	"connector/pkg/models"
)

// MemoryRepository keeps messages in process. Used by tests and by
// single instance deployments without a database.
type MemoryRepository struct {
	mu       sync.RWMutex
	messages map[string]*models.Message
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{messages: make(map[string]*models.Message)}
}

func (r *MemoryRepository) Save(_ context.Context, msg *models.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.messages[msg.ID]; ok {
		return errors.ErrConflict.WithMessage("message %s already exists", msg.ID)
	}
	if msg.Version == 0 {
		msg.Version = 1
	}
	r.messages[msg.ID] = msg.Clone()
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (*models.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	msg, ok := r.messages[id]
	if !ok {
		return nil, errors.ErrNotFound.WithMessage("message %s not found", id)
	}
	return msg.Clone(), nil
}

func (r *MemoryRepository) FindByReference(_ context.Context, ref string) (*models.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if msg, ok := r.messages[ref]; ok && msg.Kind == models.MessageKindBusiness {
		return msg.Clone(), nil
	}
	found := r.sorted(func(m *models.Message) bool {
		return m.Kind == models.MessageKindBusiness &&
			(m.Details.EbmsMessageID == ref || m.Details.BackendMessageID == ref)
	})
	if len(found) > 0 {
		return found[0], nil
	}
	return nil, errors.ErrNotFound.WithMessage("no message references %s", ref)
}

func (r *MemoryRepository) FindByConversationID(ctx context.Context, conversationID string) ([]*models.Message, error) {
	domain := logging.GetBusinessDomain(ctx)

	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.sorted(func(m *models.Message) bool {
		return m.Kind == models.MessageKindBusiness &&
			m.BusinessDomain == domain &&
			m.Details.ConversationID == conversationID
	}), nil
}

func (r *MemoryRepository) FindOutgoingWithoutEvidence(_ context.Context, q EvidenceQuery) ([]*models.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.sorted(func(m *models.Message) bool {
		return m.Kind == models.MessageKindBusiness &&
			m.Details.Direction == models.DirectionBackendToGateway &&
			m.DeliveredToGateway != nil &&
			m.RejectedAt == nil &&
			(q.IncludeConfirmed || m.ConfirmedAt == nil) &&
			!m.HasEvidence(q.Missing...)
	}), nil
}

func (r *MemoryRepository) Update(_ context.Context, msg *models.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.messages[msg.ID]
	if !ok {
		return errors.ErrConcurrentModification.WithMessage("message %s was modified concurrently", msg.ID)
	}
	if stored.Version != msg.Version {
		return errors.ErrConcurrentModification.WithMessage("message %s was modified concurrently", msg.ID)
	}

	updated := msg.Clone()
	updated.Content = stored.Content
	updated.Version++
	r.messages[msg.ID] = updated
	msg.Version = updated.Version
	return nil
}

func (r *MemoryRepository) PurgeContent(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg, ok := r.messages[id]
	if !ok {
		return errors.ErrNotFound.WithMessage("message %s not found", id)
	}
	msg.Content = nil
	return nil
}

func (r *MemoryRepository) List(ctx context.Context, filter ListFilter) ([]*models.Message, error) {
	domain := logging.GetBusinessDomain(ctx)

	r.mu.RLock()
	found := r.sorted(func(m *models.Message) bool {
		if m.BusinessDomain != domain {
			return false
		}
		if filter.Direction != "" && m.Details.Direction != filter.Direction {
			return false
		}
		return filter.State == "" || m.State() == filter.State
	})
	r.mu.RUnlock()

	// newest first, like the database listing
	for i, j := 0, len(found)-1; i < j; i, j = i+1, j-1 {
		found[i], found[j] = found[j], found[i]
	}

	if filter.Offset >= len(found) {
		return nil, nil
	}
	found = found[filter.Offset:]
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if len(found) > limit {
		found = found[:limit]
	}
	return found, nil
}

// sorted returns clones of the matching messages ordered by creation time.
// Callers must hold the lock.
func (r *MemoryRepository) sorted(match func(*models.Message) bool) []*models.Message {
	var out []*models.Message
	for _, msg := range r.messages {
		if match(msg) {
			out = append(out, msg.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
