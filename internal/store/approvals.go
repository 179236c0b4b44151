package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/DavidSchwarz2/agentpipe/internal/models"
)

const approvalColumns = `id, step_id, status, comment, decided_by, created_at, decided_at`

func scanApprovalRow(row interface {
	Scan(dest ...any) error
}) (*models.Approval, error) {
	var a models.Approval
	var comment, decidedBy sql.NullString
	var decidedAt sql.NullTime
	if err := row.Scan(&a.ID, &a.StepID, &a.Status, &comment, &decidedBy, &a.CreatedAt, &decidedAt); err != nil {
		return nil, err
	}
	if comment.Valid {
		a.Comment = &comment.String
	}
	if decidedBy.Valid {
		a.DecidedBy = &decidedBy.String
	}
	a.DecidedAt = scanNullTime(decidedAt)
	return &a, nil
}

// CreateApprovalTx inserts a new pending approval for a step. The schema's
// partial unique index (idx_approvals_one_pending_per_step) turns a second
// concurrent attempt into a UNIQUE constraint violation, which surfaces here
// as a plain SQLite error — callers enlist exactly once per approval-gate
// entry, per the ApprovalCoordinator protocol, so this should never race.
func CreateApprovalTx(tx *sql.Tx, stepID int64) (int64, error) {
	res, err := tx.ExecContext(context.Background(), `
		INSERT INTO approvals (step_id, status) VALUES (?, ?)
	`, stepID, models.ApprovalStatusPending)
	if err != nil {
		return 0, fmt.Errorf("failed to insert approval: %w", err)
	}
	return res.LastInsertId()
}

// GetApprovalTx fetches an approval by id within an existing transaction.
func GetApprovalTx(tx *sql.Tx, id int64) (*models.Approval, error) {
	row := tx.QueryRowContext(context.Background(), `SELECT `+approvalColumns+` FROM approvals WHERE id = ?`, id)
	a, err := scanApprovalRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &NotFoundError{Entity: "approval", ID: strconv.FormatInt(id, 10)}
		}
		return nil, fmt.Errorf("failed to load approval: %w", err)
	}
	return a, nil
}

// GetApproval fetches an approval by id.
func GetApproval(db *sql.DB, id int64) (*models.Approval, error) {
	row := db.QueryRowContext(context.Background(), `SELECT `+approvalColumns+` FROM approvals WHERE id = ?`, id)
	a, err := scanApprovalRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &NotFoundError{Entity: "approval", ID: strconv.FormatInt(id, 10)}
		}
		return nil, fmt.Errorf("failed to load approval: %w", err)
	}
	return a, nil
}

// GetPendingApprovalForStep returns the step's single non-resolved approval,
// or NotFoundError if none is pending.
func GetPendingApprovalForStep(db *sql.DB, stepID int64) (*models.Approval, error) {
	row := db.QueryRowContext(context.Background(), `
		SELECT `+approvalColumns+` FROM approvals WHERE step_id = ? AND status = ?
	`, stepID, models.ApprovalStatusPending)
	a, err := scanApprovalRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &NotFoundError{Entity: "pending approval", ID: strconv.FormatInt(stepID, 10)}
		}
		return nil, fmt.Errorf("failed to load pending approval: %w", err)
	}
	return a, nil
}

// DecideApprovalTx records a decision on a pending approval. It guards on
// status = 'pending' rather than a version column (approvals carry no
// version column) — a decision attempt on an already-resolved approval
// affects zero rows and surfaces as ConflictError.
func DecideApprovalTx(tx *sql.Tx, id int64, status models.ApprovalStatus, comment, decidedBy *string) error {
	res, err := tx.ExecContext(context.Background(), `
		UPDATE approvals
		SET status = ?, comment = ?, decided_by = ?, decided_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ?
	`, status, comment, decidedBy, id, models.ApprovalStatusPending)
	if err != nil {
		return fmt.Errorf("failed to decide approval: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if ra == 0 {
		return &ConflictError{
			Entity:       "approval",
			ID:           strconv.FormatInt(id, 10),
			CurrentState: "resolved",
			Operation:    "decide",
		}
	}
	return nil
}

// ResolveApproval records a decision on an approval in one retrying
// transaction — the entry point used by the approve/reject API
// handlers, which sit outside the Runner's own transaction boundaries.
func ResolveApproval(db *sql.DB, id int64, status models.ApprovalStatus, comment, decidedBy *string) error {
	return Transact(context.Background(), db, func(tx *sql.Tx) error {
		return DecideApprovalTx(tx, id, status, comment, decidedBy)
	})
}
