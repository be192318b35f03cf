// Package transport records every dispatch attempt of a message to a link
// partner and applies the outcome to the message.
package transport

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"connector/pkg/errors"
	"connector/pkg/models"
)

// StatusChange is a new state of a transport attempt. Empty remote ids keep
// the stored ones.
type StatusChange struct {
	State                    models.TransportState
	Text                     string
	RemoteMessageID          string
	TransportSystemMessageID string
}

// Repository stores transport attempts. Queries over attempts only return
// the highest attempt per message and partner.
type Repository interface {
	// CreateStep allocates the next attempt of messageID to partner and
	// records it as PENDING.
	CreateStep(ctx context.Context, messageID, partner string) (*models.TransportStep, error)
	UpdateStatus(ctx context.Context, transportID string, change StatusChange) (*models.TransportStep, error)
	FindStep(ctx context.Context, transportID string) (*models.TransportStep, error)
	LastAttempts(ctx context.Context, messageID string) ([]*models.TransportStep, error)
	FindPendingByPartner(ctx context.Context, partner string) ([]*models.TransportStep, error)
	// FindLastAttemptsByStates returns last attempts whose current state is
	// one of states. An empty partner list matches every partner.
	FindLastAttemptsByStates(ctx context.Context, states []models.TransportState, partners []string) ([]*models.TransportStep, error)
}

type PostgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &PostgresRepository{db: db}
}

const stepColumns = `transport_id, message_id, link_partner_name, attempt, remote_message_id,
	transport_system_message_id, final_state_reached, created_at`

func (r *PostgresRepository) CreateStep(ctx context.Context, messageID, partner string) (*models.TransportStep, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var attempt int
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(attempt), 0) + 1
		FROM transport_steps
		WHERE message_id = $1 AND link_partner_name = $2
	`, messageID, partner).Scan(&attempt)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate attempt: %w", err)
	}

	step := &models.TransportStep{
		TransportID:     models.TransportID(messageID, partner, attempt),
		MessageID:       messageID,
		LinkPartnerName: partner,
		Attempt:         attempt,
		CreatedAt:       time.Now().UTC(),
	}
	if err := step.AddStatusUpdate(models.TransportStatusUpdate{State: models.TransportStatePending, CreatedAt: step.CreatedAt}); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO transport_steps (transport_id, message_id, link_partner_name, attempt, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, step.TransportID, messageID, partner, attempt, step.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if stderrors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, errors.ErrConcurrentModification.WithCause(err).
				WithMessage("attempt %d of message %s to %s was created concurrently", attempt, messageID, partner)
		}
		return nil, fmt.Errorf("failed to insert transport step: %w", err)
	}

	if err := insertStatus(ctx, tx, step.TransportID, step.StatusUpdates[0]); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transport step: %w", err)
	}
	return step, nil
}

func insertStatus(ctx context.Context, tx *sql.Tx, transportID string, u models.TransportStatusUpdate) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO transport_status_updates (transport_id, state, text, created_at)
		VALUES ($1, $2, $3, $4)
	`, transportID, u.State, u.Text, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert status of %s: %w", transportID, err)
	}
	return nil
}

// UpdateStatus appends change to the step inside one transaction. A state
// that does not advance the step is rejected.
func (r *PostgresRepository) UpdateStatus(ctx context.Context, transportID string, change StatusChange) (*models.TransportStep, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+stepColumns+` FROM transport_steps WHERE transport_id = $1 FOR UPDATE`, transportID)
	step, err := scanStep(row)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.ErrNotFound.WithMessage("transport %s not found", transportID)
		}
		return nil, fmt.Errorf("failed to load transport step: %w", err)
	}
	if err := loadStatusUpdates(ctx, tx, []*models.TransportStep{step}); err != nil {
		return nil, err
	}

	update := models.TransportStatusUpdate{State: change.State, Text: change.Text, CreatedAt: time.Now().UTC()}
	if err := step.AddStatusUpdate(update); err != nil {
		return nil, errors.ErrConflict.WithCause(err).WithMessage("%v", err)
	}
	applyRemoteIDs(step, change)

	if err := insertStatus(ctx, tx, transportID, update); err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE transport_steps
		SET remote_message_id = $2, transport_system_message_id = $3, final_state_reached = $4
		WHERE transport_id = $1
	`, transportID, step.RemoteMessageID, step.TransportSystemMessageID, step.FinalStateReached)
	if err != nil {
		return nil, fmt.Errorf("failed to update transport step: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transport status: %w", err)
	}
	return step, nil
}

func applyRemoteIDs(step *models.TransportStep, change StatusChange) {
	if change.RemoteMessageID != "" {
		step.RemoteMessageID = change.RemoteMessageID
	}
	if change.TransportSystemMessageID != "" {
		step.TransportSystemMessageID = change.TransportSystemMessageID
	}
}

func (r *PostgresRepository) FindStep(ctx context.Context, transportID string) (*models.TransportStep, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+stepColumns+` FROM transport_steps WHERE transport_id = $1`, transportID)
	step, err := scanStep(row)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.ErrNotFound.WithMessage("transport %s not found", transportID)
		}
		return nil, fmt.Errorf("failed to load transport step: %w", err)
	}
	if err := loadStatusUpdates(ctx, r.db, []*models.TransportStep{step}); err != nil {
		return nil, err
	}
	return step, nil
}

func (r *PostgresRepository) LastAttempts(ctx context.Context, messageID string) ([]*models.TransportStep, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT ON (link_partner_name) `+stepColumns+`
		FROM transport_steps
		WHERE message_id = $1
		ORDER BY link_partner_name, attempt DESC
	`, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transport steps: %w", err)
	}
	return r.collect(ctx, rows)
}

func (r *PostgresRepository) FindPendingByPartner(ctx context.Context, partner string) ([]*models.TransportStep, error) {
	return r.FindLastAttemptsByStates(ctx,
		[]models.TransportState{models.TransportStatePending, models.TransportStatePendingDownloaded},
		[]string{partner},
	)
}

func (r *PostgresRepository) FindLastAttemptsByStates(ctx context.Context, states []models.TransportState, partners []string) ([]*models.TransportStep, error) {
	stateNames := make([]string, len(states))
	for i, s := range states {
		stateNames[i] = string(s)
	}
	if partners == nil {
		partners = []string{}
	}

	rows, err := r.db.QueryContext(ctx, `
		WITH last_steps AS (
			SELECT DISTINCT ON (message_id, link_partner_name) `+stepColumns+`
			FROM transport_steps
			WHERE cardinality($2::text[]) = 0 OR link_partner_name = ANY($2)
			ORDER BY message_id, link_partner_name, attempt DESC
		), last_states AS (
			SELECT DISTINCT ON (transport_id) transport_id, state
			FROM transport_status_updates
			ORDER BY transport_id, id DESC
		)
		SELECT s.transport_id, s.message_id, s.link_partner_name, s.attempt, s.remote_message_id,
			s.transport_system_message_id, s.final_state_reached, s.created_at
		FROM last_steps s
		JOIN last_states l ON l.transport_id = s.transport_id
		WHERE l.state = ANY($1)
		ORDER BY s.created_at ASC
	`, pq.Array(stateNames), pq.Array(partners))
	if err != nil {
		return nil, fmt.Errorf("failed to query transport steps by state: %w", err)
	}
	return r.collect(ctx, rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanStep(row rowScanner) (*models.TransportStep, error) {
	var s models.TransportStep
	if err := row.Scan(
		&s.TransportID,
		&s.MessageID,
		&s.LinkPartnerName,
		&s.Attempt,
		&s.RemoteMessageID,
		&s.TransportSystemMessageID,
		&s.FinalStateReached,
		&s.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *PostgresRepository) collect(ctx context.Context, rows *sql.Rows) ([]*models.TransportStep, error) {
	defer rows.Close()

	var steps []*models.TransportStep
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transport step: %w", err)
		}
		steps = append(steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	rows.Close()

	if err := loadStatusUpdates(ctx, r.db, steps); err != nil {
		return nil, err
	}
	return steps, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func loadStatusUpdates(ctx context.Context, q queryer, steps []*models.TransportStep) error {
	if len(steps) == 0 {
		return nil
	}
	byID := make(map[string]*models.TransportStep, len(steps))
	ids := make([]string, 0, len(steps))
	for _, s := range steps {
		s.StatusUpdates = nil
		byID[s.TransportID] = s
		ids = append(ids, s.TransportID)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT transport_id, state, text, created_at
		FROM transport_status_updates
		WHERE transport_id = ANY($1)
		ORDER BY transport_id, id ASC
	`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to query transport status updates: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			transportID string
			u           models.TransportStatusUpdate
		)
		if err := rows.Scan(&transportID, &u.State, &u.Text, &u.CreatedAt); err != nil {
			return fmt.Errorf("failed to scan transport status update: %w", err)
		}
		if s, ok := byID[transportID]; ok {
			s.StatusUpdates = append(s.StatusUpdates, u)
		}
	}
	return rows.Err()
}
