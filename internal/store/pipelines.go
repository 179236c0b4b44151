package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/DavidSchwarz2/agentpipe/internal/models"
)

// CreatePipelineTx inserts a new pipeline in status pending.
func CreatePipelineTx(tx *sql.Tx, title, templateName, initialPrompt string, workingDir, branch *string) (int64, error) {
	res, err := tx.ExecContext(context.Background(), `
		INSERT INTO pipelines (title, template_name, initial_prompt, working_dir, branch, status, version)
		VALUES (?, ?, ?, ?, ?, ?, 1)
	`, title, templateName, initialPrompt, workingDir, branch, models.PipelineStatusPending)
	if err != nil {
		return 0, fmt.Errorf("failed to insert pipeline: %w", err)
	}
	return res.LastInsertId()
}

// CreatePipeline wraps CreatePipelineTx in a retrying transaction.
func CreatePipeline(db *sql.DB, title, templateName, initialPrompt string, workingDir, branch *string) (int64, error) {
	var id int64
	err := Transact(context.Background(), db, func(tx *sql.Tx) error {
		created, txErr := CreatePipelineTx(tx, title, templateName, initialPrompt, workingDir, branch)
		if txErr != nil {
			return txErr
		}
		id = created
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func scanPipelineRow(row interface {
	Scan(dest ...any) error
}) (*models.Pipeline, error) {
	var p models.Pipeline
	var workingDir, branch sql.NullString
	if err := row.Scan(
		&p.ID, &p.Title, &p.TemplateName, &p.InitialPrompt,
		&workingDir, &branch, &p.Status, &p.Version, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if workingDir.Valid {
		p.WorkingDir = &workingDir.String
	}
	if branch.Valid {
		p.Branch = &branch.String
	}
	return &p, nil
}

const pipelineColumns = `id, title, template_name, initial_prompt, working_dir, branch, status, version, created_at, updated_at`

// GetPipelineTx fetches a pipeline by id within an existing transaction.
func GetPipelineTx(tx *sql.Tx, id int64) (*models.Pipeline, error) {
	row := tx.QueryRowContext(context.Background(), `SELECT `+pipelineColumns+` FROM pipelines WHERE id = ?`, id)
	p, err := scanPipelineRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &NotFoundError{Entity: "pipeline", ID: strconv.FormatInt(id, 10)}
		}
		return nil, fmt.Errorf("failed to load pipeline: %w", err)
	}
	return p, nil
}

// GetPipeline fetches a pipeline by id, re-fetching fresh per the
// persistence discipline: callers must not hold a stale copy across a
// suspension point.
func GetPipeline(db *sql.DB, id int64) (*models.Pipeline, error) {
	row := db.QueryRowContext(context.Background(), `SELECT `+pipelineColumns+` FROM pipelines WHERE id = ?`, id)
	p, err := scanPipelineRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &NotFoundError{Entity: "pipeline", ID: strconv.FormatInt(id, 10)}
		}
		return nil, fmt.Errorf("failed to load pipeline: %w", err)
	}
	return p, nil
}

// ListPipelines returns every pipeline, newest first.
func ListPipelines(db *sql.DB) ([]*models.Pipeline, error) {
	rows, err := db.QueryContext(context.Background(), `SELECT `+pipelineColumns+` FROM pipelines ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pipelines: %w", err)
	}
	defer rows.Close()

	var out []*models.Pipeline
	for rows.Next() {
		p, err := scanPipelineRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pipeline: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListActivePipelines returns pipelines whose status is running or
// waiting_for_approval — the set lifecycle.Manager.Recover re-dispatches
// at process start.
func ListActivePipelines(db *sql.DB) ([]*models.Pipeline, error) {
	rows, err := db.QueryContext(context.Background(), `SELECT `+pipelineColumns+` FROM pipelines
		WHERE status IN (?, ?) ORDER BY id ASC`,
		models.PipelineStatusRunning, models.PipelineStatusWaitingForApproval)
	if err != nil {
		return nil, fmt.Errorf("failed to list active pipelines: %w", err)
	}
	defer rows.Close()

	var out []*models.Pipeline
	for rows.Next() {
		p, err := scanPipelineRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pipeline: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListConflictingPipelines returns active pipelines (running or
// waiting_for_approval) sharing the given working directory. An empty
// workingDir always returns an empty slice without querying the store.
func ListConflictingPipelines(db *sql.DB, workingDir string) ([]*models.Pipeline, error) {
	if workingDir == "" {
		return nil, nil
	}
	rows, err := db.QueryContext(context.Background(), `SELECT `+pipelineColumns+` FROM pipelines
		WHERE working_dir = ? AND status IN (?, ?) ORDER BY id ASC`,
		workingDir, models.PipelineStatusRunning, models.PipelineStatusWaitingForApproval)
	if err != nil {
		return nil, fmt.Errorf("failed to list conflicting pipelines: %w", err)
	}
	defer rows.Close()

	var out []*models.Pipeline
	for rows.Next() {
		p, err := scanPipelineRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pipeline: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdatePipelineStatusTx transitions a pipeline's status with optimistic
// concurrency, returning VersionConflictError if the version has moved on.
func UpdatePipelineStatusTx(tx *sql.Tx, id int64, status models.PipelineStatus, expectedVersion int) error {
	res, err := tx.ExecContext(context.Background(), `
		UPDATE pipelines
		SET status = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND version = ?
	`, status, id, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update pipeline status: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if ra == 0 {
		return &VersionConflictError{Entity: "pipeline", ID: strconv.FormatInt(id, 10), Version: expectedVersion}
	}
	return nil
}

// SetPipelineStatus loads the current version and transitions status in one
// retrying transaction. Intended for call sites outside an existing
// transaction (API handlers); the Runner itself should use
// UpdatePipelineStatusTx against an already-loaded version to keep the
// status transition and its audit event atomic.
func SetPipelineStatus(db *sql.DB, id int64, status models.PipelineStatus) error {
	return Transact(context.Background(), db, func(tx *sql.Tx) error {
		p, err := GetPipelineTx(tx, id)
		if err != nil {
			return err
		}
		return UpdatePipelineStatusTx(tx, id, status, p.Version)
	})
}
