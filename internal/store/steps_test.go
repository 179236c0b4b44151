package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DavidSchwarz2/agentpipe/internal/models"
	"github.com/stretchr/testify/require"
)

func mustCreatePipeline(t *testing.T, db *sql.DB) int64 {
	t.Helper()
	id, err := CreatePipeline(db, "test pipeline", models.CustomTemplateName, "prompt", nil, nil)
	require.NoError(t, err)
	return id
}

func TestCreateAndGetStep(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	pipelineID := mustCreatePipeline(t, db)

	var stepID int64
	err := Transact(context.Background(), db, func(tx *sql.Tx) error {
		id, txErr := CreateStepTx(tx, pipelineID, 0, "planner", nil, nil)
		stepID = id
		return txErr
	})
	require.NoError(t, err)

	s, err := GetStep(db, stepID)
	require.NoError(t, err)
	require.Equal(t, pipelineID, s.PipelineID)
	require.Equal(t, "planner", s.AgentName)
	require.Equal(t, models.StepStatusPending, s.Status)
	require.False(t, s.IsApprovalGate())
	require.False(t, s.IsDone())
}

func TestGetStep_NotFound(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	_, err := GetStep(db, 12345)
	require.Error(t, err)
	var nfe *NotFoundError
	require.ErrorAs(t, err, &nfe)
}

func TestListStepsByPipeline_OrderedByIndex(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	pipelineID := mustCreatePipeline(t, db)

	err := Transact(context.Background(), db, func(tx *sql.Tx) error {
		if _, err := CreateStepTx(tx, pipelineID, 2, "reviewer", nil, nil); err != nil {
			return err
		}
		if _, err := CreateStepTx(tx, pipelineID, 0, "planner", nil, nil); err != nil {
			return err
		}
		if _, err := CreateStepTx(tx, pipelineID, 1, "coder", nil, nil); err != nil {
			return err
		}
		return nil
	})
	require.NoError(t, err)

	steps, err := ListStepsByPipeline(db, pipelineID)
	require.NoError(t, err)
	require.Len(t, steps, 3)
	require.Equal(t, "planner", steps[0].AgentName)
	require.Equal(t, "coder", steps[1].AgentName)
	require.Equal(t, "reviewer", steps[2].AgentName)
}

func TestFirstNonDoneStepTx_SkipsDoneAndSkipped(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	pipelineID := mustCreatePipeline(t, db)

	var doneID, skippedID, pendingID int64
	err := Transact(context.Background(), db, func(tx *sql.Tx) error {
		var txErr error
		doneID, txErr = CreateStepTx(tx, pipelineID, 0, "planner", nil, nil)
		if txErr != nil {
			return txErr
		}
		skippedID, txErr = CreateStepTx(tx, pipelineID, 1, "__approval__", nil, nil)
		if txErr != nil {
			return txErr
		}
		pendingID, txErr = CreateStepTx(tx, pipelineID, 2, "coder", nil, nil)
		return txErr
	})
	require.NoError(t, err)

	err = Transact(context.Background(), db, func(tx *sql.Tx) error {
		if err := FinishStepTx(tx, doneID, models.StepStatusDone, nil, 1); err != nil {
			return err
		}
		return FinishStepTx(tx, skippedID, models.StepStatusSkipped, nil, 1)
	})
	require.NoError(t, err)

	var next *models.Step
	err = Transact(context.Background(), db, func(tx *sql.Tx) error {
		var txErr error
		next, txErr = FirstNonDoneStepTx(tx, pipelineID)
		return txErr
	})
	require.NoError(t, err)
	require.NotNil(t, next)
	require.Equal(t, pendingID, next.ID)
}

func TestFirstNonDoneStepTx_NilWhenAllDone(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	pipelineID := mustCreatePipeline(t, db)

	var stepID int64
	err := Transact(context.Background(), db, func(tx *sql.Tx) error {
		var txErr error
		stepID, txErr = CreateStepTx(tx, pipelineID, 0, "planner", nil, nil)
		return txErr
	})
	require.NoError(t, err)

	err = Transact(context.Background(), db, func(tx *sql.Tx) error {
		return FinishStepTx(tx, stepID, models.StepStatusDone, nil, 1)
	})
	require.NoError(t, err)

	var next *models.Step
	err = Transact(context.Background(), db, func(tx *sql.Tx) error {
		var txErr error
		next, txErr = FirstNonDoneStepTx(tx, pipelineID)
		return txErr
	})
	require.NoError(t, err)
	require.Nil(t, next)
}

func TestStartAndFinishStep(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	pipelineID := mustCreatePipeline(t, db)

	var stepID int64
	err := Transact(context.Background(), db, func(tx *sql.Tx) error {
		var txErr error
		stepID, txErr = CreateStepTx(tx, pipelineID, 0, "planner", nil, nil)
		return txErr
	})
	require.NoError(t, err)

	err = Transact(context.Background(), db, func(tx *sql.Tx) error {
		return StartStepTx(tx, stepID, 1)
	})
	require.NoError(t, err)

	s, err := GetStep(db, stepID)
	require.NoError(t, err)
	require.Equal(t, models.StepStatusRunning, s.Status)
	require.NotNil(t, s.StartedAt)
	require.Equal(t, 2, s.Version)

	errMsg := "agent call failed"
	err = Transact(context.Background(), db, func(tx *sql.Tx) error {
		return FinishStepTx(tx, stepID, models.StepStatusFailed, &errMsg, 2)
	})
	require.NoError(t, err)

	s, err = GetStep(db, stepID)
	require.NoError(t, err)
	require.Equal(t, models.StepStatusFailed, s.Status)
	require.NotNil(t, s.FinishedAt)
	require.Equal(t, errMsg, *s.ErrorMessage)
	require.Equal(t, 3, s.Version)
}

func TestStartStepTx_VersionConflict(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	pipelineID := mustCreatePipeline(t, db)

	var stepID int64
	err := Transact(context.Background(), db, func(tx *sql.Tx) error {
		var txErr error
		stepID, txErr = CreateStepTx(tx, pipelineID, 0, "planner", nil, nil)
		return txErr
	})
	require.NoError(t, err)

	err = Transact(context.Background(), db, func(tx *sql.Tx) error {
		return StartStepTx(tx, stepID, 99)
	})
	require.Error(t, err)
	var vce *VersionConflictError
	require.ErrorAs(t, err, &vce)
}

func TestResetFailedAndRunningStepsTx(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	pipelineID := mustCreatePipeline(t, db)

	var failedID, runningID, doneID int64
	err := Transact(context.Background(), db, func(tx *sql.Tx) error {
		var txErr error
		failedID, txErr = CreateStepTx(tx, pipelineID, 0, "planner", nil, nil)
		if txErr != nil {
			return txErr
		}
		runningID, txErr = CreateStepTx(tx, pipelineID, 1, "coder", nil, nil)
		if txErr != nil {
			return txErr
		}
		doneID, txErr = CreateStepTx(tx, pipelineID, 2, "reviewer", nil, nil)
		return txErr
	})
	require.NoError(t, err)

	errMsg := "boom"
	err = Transact(context.Background(), db, func(tx *sql.Tx) error {
		if err := FinishStepTx(tx, failedID, models.StepStatusFailed, &errMsg, 1); err != nil {
			return err
		}
		if err := StartStepTx(tx, runningID, 1); err != nil {
			return err
		}
		return FinishStepTx(tx, doneID, models.StepStatusDone, nil, 1)
	})
	require.NoError(t, err)

	err = Transact(context.Background(), db, func(tx *sql.Tx) error {
		return ResetFailedAndRunningStepsTx(tx, pipelineID)
	})
	require.NoError(t, err)

	failed, err := GetStep(db, failedID)
	require.NoError(t, err)
	require.Equal(t, models.StepStatusPending, failed.Status)
	require.Nil(t, failed.ErrorMessage)
	require.Nil(t, failed.FinishedAt)

	running, err := GetStep(db, runningID)
	require.NoError(t, err)
	require.Equal(t, models.StepStatusPending, running.Status)
	require.Nil(t, running.StartedAt)

	done, err := GetStep(db, doneID)
	require.NoError(t, err)
	require.Equal(t, models.StepStatusDone, done.Status)
}
