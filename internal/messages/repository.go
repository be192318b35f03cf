package messages

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"connector/pkg/errors"
	"connector/pkg/logging"
	"connector/pkg/models"
)

// ListFilter narrows List results. Zero values match everything.
type ListFilter struct {
	Direction models.Direction
	State     models.MessageState
	Limit     int
	Offset    int
}

// EvidenceQuery selects outgoing messages still waiting for evidence.
// Confirmed messages are skipped unless IncludeConfirmed is set.
type EvidenceQuery struct {
	Missing          []models.EvidenceType
	IncludeConfirmed bool
}

// Repository persists messages and their confirmations. Queries that select
// several messages are scoped to the business domain carried by ctx.
type Repository interface {
	Save(ctx context.Context, msg *models.Message) error
	Get(ctx context.Context, id string) (*models.Message, error)
	// FindByReference resolves a connector id, gateway message id or backend message id.
	FindByReference(ctx context.Context, ref string) (*models.Message, error)
	FindByConversationID(ctx context.Context, conversationID string) ([]*models.Message, error)
	// FindOutgoingWithoutEvidence returns business messages of every domain
	// that were handed to the gateway, are not rejected and carry none of the
	// missing evidence types.
	FindOutgoingWithoutEvidence(ctx context.Context, q EvidenceQuery) ([]*models.Message, error)
	// Update writes msg when its version still matches and stores any new
	// confirmations. msg.Version is incremented on success.
	Update(ctx context.Context, msg *models.Message) error
	PurgeContent(ctx context.Context, id string) error
	List(ctx context.Context, filter ListFilter) ([]*models.Message, error)
}

type PostgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &PostgresRepository{db: db}
}

const messageColumns = `id, business_domain, kind, details, content, created_at,
	delivered_to_backend, delivered_to_gateway, confirmed_at, rejected_at, version`

func (r *PostgresRepository) Save(ctx context.Context, msg *models.Message) error {
	details, err := json.Marshal(msg.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal details: %w", err)
	}
	if msg.Version == 0 {
		msg.Version = 1
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, business_domain, kind, direction, conversation_id, ebms_message_id,
			backend_message_id, details, content, created_at, delivered_to_backend,
			delivered_to_gateway, confirmed_at, rejected_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`,
		msg.ID, msg.BusinessDomain, msg.Kind, msg.Details.Direction, msg.Details.ConversationID,
		msg.Details.EbmsMessageID, msg.Details.BackendMessageID, details, msg.Content, msg.CreatedAt,
		msg.DeliveredToBackend, msg.DeliveredToGateway, msg.ConfirmedAt, msg.RejectedAt, msg.Version,
	)
	if err != nil {
		var pqErr *pq.Error
		if stderrors.As(err, &pqErr) && pqErr.Code == "23505" {
			return errors.ErrConflict.WithCause(err).WithMessage("message %s already exists", msg.ID)
		}
		return fmt.Errorf("failed to insert message: %w", err)
	}

	if err := upsertConfirmations(ctx, tx, msg.ID, msg.Confirmations); err != nil {
		return err
	}

	return tx.Commit()
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.Message, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
	msg, err := scanMessage(row)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.ErrNotFound.WithMessage("message %s not found", id)
		}
		return nil, err
	}
	if err := r.loadConfirmations(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (r *PostgresRepository) FindByReference(ctx context.Context, ref string) (*models.Message, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE kind = 'business' AND (id = $1 OR ebms_message_id = $1 OR backend_message_id = $1)
		ORDER BY created_at ASC
		LIMIT 1
	`, ref)
	msg, err := scanMessage(row)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.ErrNotFound.WithMessage("no message references %s", ref)
		}
		return nil, err
	}
	if err := r.loadConfirmations(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (r *PostgresRepository) FindByConversationID(ctx context.Context, conversationID string) ([]*models.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE business_domain = $1 AND conversation_id = $2 AND kind = 'business'
		ORDER BY created_at ASC
	`, logging.GetBusinessDomain(ctx), conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversation: %w", err)
	}
	return r.collect(ctx, rows, false)
}

func (r *PostgresRepository) FindOutgoingWithoutEvidence(ctx context.Context, q EvidenceQuery) ([]*models.Message, error) {
	names := make([]string, len(q.Missing))
	for i, t := range q.Missing {
		names[i] = string(t)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages m
		WHERE m.kind = 'business' AND m.direction = $1
			AND m.delivered_to_gateway IS NOT NULL
			AND m.rejected_at IS NULL
			AND ($3::boolean OR m.confirmed_at IS NULL)
			AND NOT EXISTS (
				SELECT 1 FROM confirmations c
				WHERE c.message_id = m.id AND c.evidence_type = ANY($2)
			)
		ORDER BY m.created_at ASC
	`, models.DirectionBackendToGateway, pq.Array(names), q.IncludeConfirmed)
	if err != nil {
		return nil, fmt.Errorf("failed to query outgoing messages: %w", err)
	}
	return r.collect(ctx, rows, true)
}

func (r *PostgresRepository) Update(ctx context.Context, msg *models.Message) error {
	details, err := json.Marshal(msg.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal details: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE messages SET
			ebms_message_id = $3, backend_message_id = $4, details = $5,
			delivered_to_backend = $6, delivered_to_gateway = $7,
			confirmed_at = $8, rejected_at = $9, version = version + 1
		WHERE id = $1 AND version = $2
	`,
		msg.ID, msg.Version, msg.Details.EbmsMessageID, msg.Details.BackendMessageID, details,
		msg.DeliveredToBackend, msg.DeliveredToGateway, msg.ConfirmedAt, msg.RejectedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update message: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return errors.ErrConcurrentModification.WithMessage("message %s was modified concurrently", msg.ID)
	}

	if err := upsertConfirmations(ctx, tx, msg.ID, msg.Confirmations); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit message update: %w", err)
	}
	msg.Version++
	return nil
}

func (r *PostgresRepository) PurgeContent(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET content = NULL WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to purge content: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.ErrNotFound.WithMessage("message %s not found", id)
	}
	return nil
}

func (r *PostgresRepository) List(ctx context.Context, filter ListFilter) ([]*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE business_domain = $1`
	args := []interface{}{logging.GetBusinessDomain(ctx)}

	if filter.Direction != "" {
		args = append(args, filter.Direction)
		query += fmt.Sprintf(" AND direction = $%d", len(args))
	}
	switch filter.State {
	case models.MessageStateRejected:
		query += " AND rejected_at IS NOT NULL"
	case models.MessageStateConfirmed:
		query += " AND confirmed_at IS NOT NULL AND rejected_at IS NULL"
	case models.MessageStateAwaitingEvidence:
		query += " AND confirmed_at IS NULL AND rejected_at IS NULL"
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit, filter.Offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return r.collect(ctx, rows, false)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner) (*models.Message, error) {
	var (
		msg     models.Message
		details []byte
	)
	if err := row.Scan(
		&msg.ID,
		&msg.BusinessDomain,
		&msg.Kind,
		&details,
		&msg.Content,
		&msg.CreatedAt,
		&msg.DeliveredToBackend,
		&msg.DeliveredToGateway,
		&msg.ConfirmedAt,
		&msg.RejectedAt,
		&msg.Version,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(details, &msg.Details); err != nil {
		return nil, fmt.Errorf("failed to decode details of %s: %w", msg.ID, err)
	}
	return &msg, nil
}

func (r *PostgresRepository) collect(ctx context.Context, rows *sql.Rows, withConfirmations bool) ([]*models.Message, error) {
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	rows.Close()

	if withConfirmations {
		for _, msg := range out {
			if err := r.loadConfirmations(ctx, msg); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func (r *PostgresRepository) loadConfirmations(ctx context.Context, msg *models.Message) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, evidence_type, rejection_reason, evidence, created_at,
			transported_to_gateway, transported_to_backend
		FROM confirmations
		WHERE message_id = $1
		ORDER BY created_at ASC, id ASC
	`, msg.ID)
	if err != nil {
		return fmt.Errorf("failed to query confirmations: %w", err)
	}
	defer rows.Close()

	msg.Confirmations = nil
	for rows.Next() {
		var c models.Confirmation
		if err := rows.Scan(
			&c.ID,
			&c.Type,
			&c.RejectionReason,
			&c.Evidence,
			&c.CreatedAt,
			&c.TransportedToGateway,
			&c.TransportedToBackend,
		); err != nil {
			return fmt.Errorf("failed to scan confirmation: %w", err)
		}
		msg.Confirmations = append(msg.Confirmations, c)
	}
	return rows.Err()
}

func upsertConfirmations(ctx context.Context, tx *sql.Tx, messageID string, confirmations []models.Confirmation) error {
	for _, c := range confirmations {
		createdAt := c.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO confirmations (id, message_id, evidence_type, rejection_reason, evidence,
				created_at, transported_to_gateway, transported_to_backend)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO UPDATE SET
				transported_to_gateway = EXCLUDED.transported_to_gateway,
				transported_to_backend = EXCLUDED.transported_to_backend
		`, c.ID, messageID, c.Type, c.RejectionReason, c.Evidence, createdAt,
			c.TransportedToGateway, c.TransportedToBackend)
		if err != nil {
			return fmt.Errorf("failed to store confirmation %s: %w", c.ID, err)
		}
	}
	return nil
}
