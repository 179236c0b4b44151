package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/DavidSchwarz2/agentpipe/internal/models"
)

const handoffColumns = `id, step_id, raw_content, metadata, created_at`

func scanHandoffRow(row interface {
	Scan(dest ...any) error
}) (*models.Handoff, error) {
	var h models.Handoff
	var metadata sql.NullString
	if err := row.Scan(&h.ID, &h.StepID, &h.RawContent, &metadata, &h.CreatedAt); err != nil {
		return nil, err
	}
	if metadata.Valid {
		h.Metadata = json.RawMessage(metadata.String)
	}
	return &h, nil
}

// CreateHandoffTx persists the raw output of one step. Structured metadata,
// when extraction succeeds, is attached afterward with SetHandoffMetadataTx
// so a failed extraction never blocks persisting the raw text.
func CreateHandoffTx(tx *sql.Tx, stepID int64, rawContent string) (int64, error) {
	res, err := tx.ExecContext(context.Background(), `
		INSERT INTO handoffs (step_id, raw_content) VALUES (?, ?)
	`, stepID, rawContent)
	if err != nil {
		return 0, fmt.Errorf("failed to insert handoff: %w", err)
	}
	return res.LastInsertId()
}

// SetHandoffMetadataTx attaches the serialized HandoffSchema to an existing
// handoff row once extraction has succeeded.
func SetHandoffMetadataTx(tx *sql.Tx, handoffID int64, metadata json.RawMessage) error {
	_, err := tx.ExecContext(context.Background(), `
		UPDATE handoffs SET metadata = ? WHERE id = ?
	`, string(metadata), handoffID)
	if err != nil {
		return fmt.Errorf("failed to set handoff metadata: %w", err)
	}
	return nil
}

// GetLatestHandoffForStepTx returns the most recently created handoff for a
// step, or NotFoundError if the step has none yet.
func GetLatestHandoffForStepTx(tx *sql.Tx, stepID int64) (*models.Handoff, error) {
	row := tx.QueryRowContext(context.Background(), `
		SELECT `+handoffColumns+` FROM handoffs WHERE step_id = ? ORDER BY id DESC LIMIT 1
	`, stepID)
	h, err := scanHandoffRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &NotFoundError{Entity: "handoff", ID: strconv.FormatInt(stepID, 10)}
		}
		return nil, fmt.Errorf("failed to load latest handoff: %w", err)
	}
	return h, nil
}

// GetLatestHandoffForStep returns the most recently created handoff for a step.
func GetLatestHandoffForStep(db *sql.DB, stepID int64) (*models.Handoff, error) {
	row := db.QueryRowContext(context.Background(), `
		SELECT `+handoffColumns+` FROM handoffs WHERE step_id = ? ORDER BY id DESC LIMIT 1
	`, stepID)
	h, err := scanHandoffRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &NotFoundError{Entity: "handoff", ID: strconv.FormatInt(stepID, 10)}
		}
		return nil, fmt.Errorf("failed to load latest handoff: %w", err)
	}
	return h, nil
}

// ListHandoffsForStep returns every handoff recorded for a step, oldest first.
func ListHandoffsForStep(db *sql.DB, stepID int64) ([]*models.Handoff, error) {
	rows, err := db.QueryContext(context.Background(), `SELECT `+handoffColumns+` FROM handoffs WHERE step_id = ? ORDER BY id ASC`, stepID)
	if err != nil {
		return nil, fmt.Errorf("failed to list handoffs: %w", err)
	}
	defer rows.Close()

	var out []*models.Handoff
	for rows.Next() {
		h, err := scanHandoffRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan handoff: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
