package routing

import (
	"context"
	"database/sql"
	"fmt"
)

type Repository interface {
	ListRules(ctx context.Context) ([]Rule, error)
	SaveRule(ctx context.Context, rule Rule) error
	DeleteRule(ctx context.Context, domain, id string) (bool, error)
}

type PostgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) ListRules(ctx context.Context) ([]Rule, error) {
	query := `
		SELECT id, business_domain, match_clause, link_name, priority, description, enabled, created_at, updated_at
		FROM routing_rules
		ORDER BY business_domain ASC, priority DESC, id ASC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query routing rules: %w", err)
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		var rule Rule
		if err := rows.Scan(
			&rule.ID,
			&rule.BusinessDomain,
			&rule.MatchClause,
			&rule.LinkName,
			&rule.Priority,
			&rule.Description,
			&rule.Enabled,
			&rule.CreatedAt,
			&rule.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan routing rule: %w", err)
		}
		rules = append(rules, rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return rules, nil
}

func (r *PostgresRepository) SaveRule(ctx context.Context, rule Rule) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO routing_rules (id, business_domain, match_clause, link_name, priority, description, enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (business_domain, id) DO UPDATE SET
			match_clause = EXCLUDED.match_clause,
			link_name = EXCLUDED.link_name,
			priority = EXCLUDED.priority,
			description = EXCLUDED.description,
			enabled = EXCLUDED.enabled,
			updated_at = NOW()
	`, rule.ID, rule.BusinessDomain, rule.MatchClause, rule.LinkName, rule.Priority, rule.Description, rule.Enabled)
	if err != nil {
		return fmt.Errorf("failed to save routing rule %s: %w", rule.ID, err)
	}
	return nil
}

func (r *PostgresRepository) DeleteRule(ctx context.Context, domain, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM routing_rules WHERE business_domain = $1 AND id = $2`, domain, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete routing rule %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}
