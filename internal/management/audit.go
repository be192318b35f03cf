package management

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	AuditSubjectRoutingRule = "routing_rule"
	AuditSubjectLinkPartner = "link_partner"
	AuditSubjectQueue       = "queue"
)

type AuditLogEntry struct {
	ID          string
	Subject     string
	SubjectType string
	Domain      string
	Action      string
	NewValue    interface{}
	ChangedBy   string
	Timestamp   time.Time
}

type AuditLogger struct {
	db *sql.DB
}

func NewAuditLogger(db *sql.DB) *AuditLogger {
	return &AuditLogger{db: db}
}

func (a *AuditLogger) LogChange(ctx context.Context, entry AuditLogEntry) error {
	query := `
		INSERT INTO management_audit_logs (id, subject, subject_type, business_domain, action, new_value, changed_by, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	id := uuid.New().String()
	if entry.ID != "" {
		id = entry.ID
	}

	var newValue *string
	if entry.NewValue != nil {
		data, err := json.Marshal(entry.NewValue)
		if err != nil {
			return fmt.Errorf("failed to marshal audit value: %w", err)
		}
		value := string(data)
		newValue = &value
	}

	var domain *string
	if entry.Domain != "" {
		domain = &entry.Domain
	}

	timestamp := time.Now()
	if !entry.Timestamp.IsZero() {
		timestamp = entry.Timestamp
	}

	_, err := a.db.ExecContext(ctx, query,
		id, entry.Subject, entry.SubjectType, domain, entry.Action,
		newValue, entry.ChangedBy, timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to log audit entry: %w", err)
	}
	return nil
}
