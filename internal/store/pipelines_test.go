package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DavidSchwarz2/agentpipe/internal/models"
	"github.com/stretchr/testify/require"
)

func TestCreateAndGetPipeline(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	wd := "/repo/checkout"
	branch := "feature/x"
	id, err := CreatePipeline(db, "ship the widget", "release", "add the widget", &wd, &branch)
	require.NoError(t, err)
	require.Greater(t, id, int64(0))

	p, err := GetPipeline(db, id)
	require.NoError(t, err)
	require.Equal(t, "ship the widget", p.Title)
	require.Equal(t, "release", p.TemplateName)
	require.Equal(t, models.PipelineStatusPending, p.Status)
	require.Equal(t, 1, p.Version)
	require.True(t, p.HasWorkingDir())
	require.Equal(t, wd, *p.WorkingDir)
	require.Equal(t, branch, *p.Branch)
}

func TestGetPipeline_NotFound(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	_, err := GetPipeline(db, 9999)
	require.Error(t, err)
	var nfe *NotFoundError
	require.ErrorAs(t, err, &nfe)
}

func TestCreatePipeline_NoWorkingDir(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	id, err := CreatePipeline(db, "ad hoc run", models.CustomTemplateName, "do a thing", nil, nil)
	require.NoError(t, err)

	p, err := GetPipeline(db, id)
	require.NoError(t, err)
	require.False(t, p.HasWorkingDir())
	require.Nil(t, p.Branch)
}

func TestListPipelines_NewestFirst(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	first, err := CreatePipeline(db, "first", models.CustomTemplateName, "p1", nil, nil)
	require.NoError(t, err)
	second, err := CreatePipeline(db, "second", models.CustomTemplateName, "p2", nil, nil)
	require.NoError(t, err)

	pipelines, err := ListPipelines(db)
	require.NoError(t, err)
	require.Len(t, pipelines, 2)
	require.Equal(t, second, pipelines[0].ID)
	require.Equal(t, first, pipelines[1].ID)
}

func TestListActivePipelines_OnlyRunningAndWaiting(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	pending, err := CreatePipeline(db, "pending", models.CustomTemplateName, "p", nil, nil)
	require.NoError(t, err)
	running, err := CreatePipeline(db, "running", models.CustomTemplateName, "p", nil, nil)
	require.NoError(t, err)
	waiting, err := CreatePipeline(db, "waiting", models.CustomTemplateName, "p", nil, nil)
	require.NoError(t, err)
	done, err := CreatePipeline(db, "done", models.CustomTemplateName, "p", nil, nil)
	require.NoError(t, err)

	require.NoError(t, SetPipelineStatus(db, running, models.PipelineStatusRunning))
	require.NoError(t, SetPipelineStatus(db, waiting, models.PipelineStatusWaitingForApproval))
	require.NoError(t, SetPipelineStatus(db, done, models.PipelineStatusDone))

	active, err := ListActivePipelines(db)
	require.NoError(t, err)
	ids := make(map[int64]bool)
	for _, p := range active {
		ids[p.ID] = true
	}
	require.True(t, ids[running])
	require.True(t, ids[waiting])
	require.False(t, ids[pending])
	require.False(t, ids[done])
}

func TestListConflictingPipelines(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	wd := "/repo/checkout"
	other := "/repo/other"

	running, err := CreatePipeline(db, "running here", models.CustomTemplateName, "p", &wd, nil)
	require.NoError(t, err)
	require.NoError(t, SetPipelineStatus(db, running, models.PipelineStatusRunning))

	elsewhere, err := CreatePipeline(db, "running elsewhere", models.CustomTemplateName, "p", &other, nil)
	require.NoError(t, err)
	require.NoError(t, SetPipelineStatus(db, elsewhere, models.PipelineStatusRunning))

	conflicting, err := ListConflictingPipelines(db, wd)
	require.NoError(t, err)
	require.Len(t, conflicting, 1)
	require.Equal(t, running, conflicting[0].ID)
}

func TestListConflictingPipelines_EmptyWorkingDir(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	conflicting, err := ListConflictingPipelines(db, "")
	require.NoError(t, err)
	require.Nil(t, conflicting)
}

func TestSetPipelineStatus_BumpsVersion(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	id, err := CreatePipeline(db, "t", models.CustomTemplateName, "p", nil, nil)
	require.NoError(t, err)

	require.NoError(t, SetPipelineStatus(db, id, models.PipelineStatusRunning))

	p, err := GetPipeline(db, id)
	require.NoError(t, err)
	require.Equal(t, models.PipelineStatusRunning, p.Status)
	require.Equal(t, 2, p.Version)
}

func TestUpdatePipelineStatusTx_StaleVersionConflicts(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	id, err := CreatePipeline(db, "t", models.CustomTemplateName, "p", nil, nil)
	require.NoError(t, err)

	require.NoError(t, SetPipelineStatus(db, id, models.PipelineStatusRunning))

	err = Transact(context.Background(), db, func(tx *sql.Tx) error {
		return UpdatePipelineStatusTx(tx, id, models.PipelineStatusDone, 1)
	})
	require.Error(t, err)
	var vce *VersionConflictError
	require.ErrorAs(t, err, &vce)
}
