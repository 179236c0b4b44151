package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/DavidSchwarz2/agentpipe/internal/models"
)

// MaxAuditPayloadLength caps the size in bytes of an audit event payload.
const MaxAuditPayloadLength = 16384

// ValidateAuditEventPayload requires a non-blank event type and, when a
// payload is given, caps its length and requires it to be valid JSON.
func ValidateAuditEventPayload(eventType string, payload json.RawMessage) error {
	if strings.TrimSpace(eventType) == "" {
		return errors.New("event type is required")
	}
	if len(payload) == 0 {
		return nil
	}
	if len(payload) > MaxAuditPayloadLength {
		return fmt.Errorf("audit event payload exceeds max length (%d)", MaxAuditPayloadLength)
	}
	if !json.Valid(payload) {
		return errors.New("audit event payload must be valid JSON")
	}
	return nil
}

// InsertAuditEventTx appends one audit event inside an existing transaction.
// stepID is nil for pipeline-level events (pipeline_completed, pipeline_failed).
func InsertAuditEventTx(tx *sql.Tx, pipelineID int64, stepID *int64, eventType string, payload json.RawMessage) (int64, error) {
	if err := ValidateAuditEventPayload(eventType, payload); err != nil {
		return 0, err
	}

	var payloadArg any
	if len(payload) > 0 {
		payloadArg = string(payload)
	}

	res, err := tx.ExecContext(context.Background(), `
		INSERT INTO audit_events (pipeline_id, step_id, event_type, payload)
		VALUES (?, ?, ?, ?)
	`, pipelineID, stepID, eventType, payloadArg)
	if err != nil {
		return 0, fmt.Errorf("failed to insert audit event: %w", err)
	}
	return res.LastInsertId()
}

const auditEventColumns = `id, pipeline_id, step_id, event_type, payload, created_at`

func scanAuditEventRow(row interface {
	Scan(dest ...any) error
}) (*models.AuditEvent, error) {
	var e models.AuditEvent
	var stepID sql.NullInt64
	var payload sql.NullString
	if err := row.Scan(&e.ID, &e.PipelineID, &stepID, &e.EventType, &payload, &e.CreatedAt); err != nil {
		return nil, err
	}
	if stepID.Valid {
		e.StepID = &stepID.Int64
	}
	if payload.Valid {
		e.Payload = json.RawMessage(payload.String)
	}
	return &e, nil
}

// ListAuditEventsForPipeline returns every audit event for a pipeline, oldest
// first — within one pipeline, insertion order is guaranteed; across
// pipelines it is not.
func ListAuditEventsForPipeline(db *sql.DB, pipelineID int64) ([]*models.AuditEvent, error) {
	rows, err := db.QueryContext(context.Background(), `SELECT `+auditEventColumns+` FROM audit_events WHERE pipeline_id = ? ORDER BY id ASC`, pipelineID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	defer rows.Close()

	var out []*models.AuditEvent
	for rows.Next() {
		e, err := scanAuditEventRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
