package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/DavidSchwarz2/agentpipe/internal/models"
)

const stepColumns = `id, pipeline_id, order_index, agent_name, status, model, remind_after_hours, error_message, started_at, finished_at, version, created_at, updated_at`

func scanStepRow(row interface {
	Scan(dest ...any) error
}) (*models.Step, error) {
	var s models.Step
	var model, errMsg sql.NullString
	var remindAfter sql.NullFloat64
	var startedAt, finishedAt sql.NullTime
	if err := row.Scan(
		&s.ID, &s.PipelineID, &s.OrderIndex, &s.AgentName, &s.Status,
		&model, &remindAfter, &errMsg, &startedAt, &finishedAt, &s.Version, &s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if model.Valid {
		s.Model = &model.String
	}
	if remindAfter.Valid {
		s.RemindAfterHours = &remindAfter.Float64
	}
	if errMsg.Valid {
		s.ErrorMessage = &errMsg.String
	}
	s.StartedAt = scanNullTime(startedAt)
	s.FinishedAt = scanNullTime(finishedAt)
	return &s, nil
}

// CreateStepTx inserts one pipeline step in status pending. remindAfterHours
// is only meaningful for approval-gate steps; nil leaves the reminder
// disabled.
func CreateStepTx(tx *sql.Tx, pipelineID int64, orderIndex int, agentName string, model *string, remindAfterHours *float64) (int64, error) {
	res, err := tx.ExecContext(context.Background(), `
		INSERT INTO steps (pipeline_id, order_index, agent_name, status, model, remind_after_hours, version)
		VALUES (?, ?, ?, ?, ?, ?, 1)
	`, pipelineID, orderIndex, agentName, models.StepStatusPending, model, remindAfterHours)
	if err != nil {
		return 0, fmt.Errorf("failed to insert step: %w", err)
	}
	return res.LastInsertId()
}

// GetStepTx fetches a step by id within an existing transaction.
func GetStepTx(tx *sql.Tx, id int64) (*models.Step, error) {
	row := tx.QueryRowContext(context.Background(), `SELECT `+stepColumns+` FROM steps WHERE id = ?`, id)
	s, err := scanStepRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &NotFoundError{Entity: "step", ID: strconv.FormatInt(id, 10)}
		}
		return nil, fmt.Errorf("failed to load step: %w", err)
	}
	return s, nil
}

// GetStep fetches a step by id.
func GetStep(db *sql.DB, id int64) (*models.Step, error) {
	row := db.QueryRowContext(context.Background(), `SELECT `+stepColumns+` FROM steps WHERE id = ?`, id)
	s, err := scanStepRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &NotFoundError{Entity: "step", ID: strconv.FormatInt(id, 10)}
		}
		return nil, fmt.Errorf("failed to load step: %w", err)
	}
	return s, nil
}

// ListStepsByPipelineTx returns every step of a pipeline ordered by order_index.
func ListStepsByPipelineTx(tx *sql.Tx, pipelineID int64) ([]*models.Step, error) {
	rows, err := tx.QueryContext(context.Background(), `SELECT `+stepColumns+` FROM steps WHERE pipeline_id = ? ORDER BY order_index ASC`, pipelineID)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}
	defer rows.Close()
	return scanStepRows(rows)
}

// ListStepsByPipeline returns every step of a pipeline ordered by order_index.
func ListStepsByPipeline(db *sql.DB, pipelineID int64) ([]*models.Step, error) {
	rows, err := db.QueryContext(context.Background(), `SELECT `+stepColumns+` FROM steps WHERE pipeline_id = ? ORDER BY order_index ASC`, pipelineID)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}
	defer rows.Close()
	return scanStepRows(rows)
}

func scanStepRows(rows *sql.Rows) ([]*models.Step, error) {
	var out []*models.Step
	for rows.Next() {
		s, err := scanStepRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// FirstNonDoneStepTx returns the first step (ascending order_index) whose
// status is not done or skipped — the resume entry point.
// Returns nil, nil if every step is done/skipped.
func FirstNonDoneStepTx(tx *sql.Tx, pipelineID int64) (*models.Step, error) {
	steps, err := ListStepsByPipelineTx(tx, pipelineID)
	if err != nil {
		return nil, err
	}
	for _, s := range steps {
		if !s.IsDone() {
			return s, nil
		}
	}
	return nil, nil
}

// StartStepTx transitions a step to running and stamps started_at, with
// optimistic concurrency on version.
func StartStepTx(tx *sql.Tx, id int64, expectedVersion int) error {
	res, err := tx.ExecContext(context.Background(), `
		UPDATE steps
		SET status = ?, started_at = CURRENT_TIMESTAMP, version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND version = ?
	`, models.StepStatusRunning, id, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to start step: %w", err)
	}
	return checkStepRowsAffected(res, id, expectedVersion)
}

// FinishStepTx transitions a step to a terminal status (done, failed, or
// skipped), stamping finished_at and recording an error message if any.
func FinishStepTx(tx *sql.Tx, id int64, status models.StepStatus, errorMessage *string, expectedVersion int) error {
	res, err := tx.ExecContext(context.Background(), `
		UPDATE steps
		SET status = ?, error_message = ?, finished_at = CURRENT_TIMESTAMP, version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND version = ?
	`, status, errorMessage, id, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to finish step: %w", err)
	}
	return checkStepRowsAffected(res, id, expectedVersion)
}

func checkStepRowsAffected(res sql.Result, id int64, expectedVersion int) error {
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if ra == 0 {
		return &VersionConflictError{Entity: "step", ID: strconv.FormatInt(id, 10), Version: expectedVersion}
	}
	return nil
}

// ResetFailedAndRunningStepsTx resets any failed or running step of a
// pipeline back to pending, clearing timestamps and error messages. Restart
// resets child step rows explicitly in the same transaction that flips the
// pipeline back to running, rather than relying on resume's implicit
// overwrite-on-re-entry behavior.
func ResetFailedAndRunningStepsTx(tx *sql.Tx, pipelineID int64) error {
	_, err := tx.ExecContext(context.Background(), `
		UPDATE steps
		SET status = ?, error_message = NULL, started_at = NULL, finished_at = NULL,
		    version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE pipeline_id = ? AND status IN (?, ?)
	`, models.StepStatusPending, pipelineID, models.StepStatusFailed, models.StepStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to reset steps for restart: %w", err)
	}
	return nil
}
