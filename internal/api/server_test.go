package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DavidSchwarz2/agentpipe/internal/agentclient"
	"github.com/DavidSchwarz2/agentpipe/internal/app"
	"github.com/DavidSchwarz2/agentpipe/internal/approval"
	"github.com/DavidSchwarz2/agentpipe/internal/broker"
	"github.com/DavidSchwarz2/agentpipe/internal/lifecycle"
	"github.com/DavidSchwarz2/agentpipe/internal/models"
	"github.com/DavidSchwarz2/agentpipe/internal/registry"
	"github.com/DavidSchwarz2/agentpipe/internal/runner"
	"github.com/DavidSchwarz2/agentpipe/internal/store"
)

// stubClient is a minimal agentclient.Client that always succeeds a single
// agent step with fixed output, for driving a pipeline to completion
// end-to-end through the HTTP surface.
type stubClient struct{}

func (stubClient) CreateSession(ctx context.Context, title string) (string, error) { return "sess-1", nil }
func (stubClient) SendMessage(ctx context.Context, sessionID, prompt, agentName string, model *string) (string, error) {
	return "## What Was Done\n\nWrote the thing.\n", nil
}
func (stubClient) Abort(ctx context.Context, sessionID string) bool       { return true }
func (stubClient) DeleteSession(ctx context.Context, sessionID string)    {}
func (stubClient) StreamEvents(ctx context.Context, cb func(agentclient.Frame), reconnectDelay int) error {
	<-ctx.Done()
	return ctx.Err()
}
func (stubClient) StopStreaming() {}

var _ agentclient.Client = stubClient{}

// flakyClient fails every SendMessage with a ClientError while its fail flag
// is set, and succeeds with fixed output otherwise — used to drive a
// pipeline to `failed` and then back to `done` via restart.
type flakyClient struct {
	mu   sync.Mutex
	fail bool
}

func (c *flakyClient) SetFail(f bool) {
	c.mu.Lock()
	c.fail = f
	c.mu.Unlock()
}

func (c *flakyClient) shouldFail() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fail
}

func (c *flakyClient) CreateSession(ctx context.Context, title string) (string, error) {
	return "sess-1", nil
}
func (c *flakyClient) SendMessage(ctx context.Context, sessionID, prompt, agentName string, model *string) (string, error) {
	if c.shouldFail() {
		return "", &agentclient.ClientError{Message: "boom"}
	}
	return "## What Was Done\n\nWrote the thing.\n", nil
}
func (c *flakyClient) Abort(ctx context.Context, sessionID string) bool    { return true }
func (c *flakyClient) DeleteSession(ctx context.Context, sessionID string) {}
func (c *flakyClient) StreamEvents(ctx context.Context, cb func(agentclient.Frame), reconnectDelay int) error {
	<-ctx.Done()
	return ctx.Err()
}
func (c *flakyClient) StopStreaming() {}

var _ agentclient.Client = &flakyClient{}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, _ := newTestServerWithClient(t, stubClient{})
	return s
}

func newTestServerWithClient(t *testing.T, client agentclient.Client) (*Server, *registry.Registry) {
	t.Helper()
	dir := t.TempDir()

	agentsPath := filepath.Join(dir, "agents.yaml")
	templatesPath := filepath.Join(dir, "templates.yaml")
	reg, err := registry.New(agentsPath, templatesPath)
	require.NoError(t, err)
	require.NoError(t, reg.CreateAgent(models.AgentProfile{Name: "developer", ExternalAgentID: "developer"}))

	db, err := store.InitDBWithPath(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	signals := approval.New()
	settings := app.RunnerSettings{StepTimeoutSeconds: 5, HeartbeatIntervalSecs: 5, ReconnectDelaySeconds: 1, SubscriberInboxCapacity: 8}
	run := runner.New(db, client, reg, signals, settings)
	lc := lifecycle.New(db, run)
	t.Cleanup(lc.Shutdown)
	evt := broker.New(client, settings.ReconnectDelaySeconds, settings.SubscriberInboxCapacity)
	evt.Start(context.Background())
	t.Cleanup(evt.Stop)

	return NewServer(db, reg, run, signals, lc, evt, settings, nil), reg
}

func doRequest(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestCreatePipeline_CustomStepsRunsToCompletion(t *testing.T) {
	s := newTestServer(t)
	r := s.NewRouter()

	rec := doRequest(t, r, http.MethodPost, "/pipelines/", map[string]any{
		"title":  "test run",
		"prompt": "do the thing",
		"custom_steps": []map[string]any{
			{"is_approval": false, "agent": "developer"},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var pipeline models.Pipeline
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pipeline))
	require.NotZero(t, pipeline.ID)

	require.Eventually(t, func() bool {
		p, err := store.GetPipeline(s.db, pipeline.ID)
		require.NoError(t, err)
		return p.Status == models.PipelineStatusDone
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCreatePipeline_AmbiguousTemplateReturns422(t *testing.T) {
	s := newTestServer(t)
	r := s.NewRouter()

	rec := doRequest(t, r, http.MethodPost, "/pipelines/", map[string]any{
		"title":  "bad",
		"prompt": "x",
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestGetPipeline_UnknownIDReturns404(t *testing.T) {
	s := newTestServer(t)
	r := s.NewRouter()

	rec := doRequest(t, r, http.MethodGet, "/pipelines/999", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListConflicts_EmptyWorkingDirReturnsEmptyArray(t *testing.T) {
	s := newTestServer(t)
	r := s.NewRouter()

	rec := doRequest(t, r, http.MethodGet, "/pipelines/conflicts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, "[]", rec.Body.String())
}

func TestApprovePipeline_WrongStatusReturns409(t *testing.T) {
	s := newTestServer(t)
	r := s.NewRouter()

	var pipelineID int64
	err := store.Transact(context.Background(), s.db, func(tx *sql.Tx) error {
		id, txErr := store.CreatePipelineTx(tx, "t", "__custom__", "p", nil, nil)
		pipelineID = id
		return txErr
	})
	require.NoError(t, err)

	rec := doRequest(t, r, http.MethodPost, "/pipelines/"+itoa(pipelineID)+"/approve", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestApprovePipeline_ApprovesWaitingPipeline(t *testing.T) {
	s := newTestServer(t)
	r := s.NewRouter()

	rec := doRequest(t, r, http.MethodPost, "/pipelines/", map[string]any{
		"title":  "needs approval",
		"prompt": "do the thing",
		"custom_steps": []map[string]any{
			{"is_approval": true},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var pipeline models.Pipeline
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pipeline))

	require.Eventually(t, func() bool {
		p, err := store.GetPipeline(s.db, pipeline.ID)
		require.NoError(t, err)
		return p.Status == models.PipelineStatusWaitingForApproval
	}, 2*time.Second, 10*time.Millisecond)

	rec = doRequest(t, r, http.MethodPost, "/pipelines/"+itoa(pipeline.ID)+"/approve", map[string]any{"comment": "looks good"})
	require.Equal(t, http.StatusOK, rec.Code)

	require.Eventually(t, func() bool {
		p, err := store.GetPipeline(s.db, pipeline.ID)
		require.NoError(t, err)
		return p.Status == models.PipelineStatusDone
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRestartPipeline_ResumesFailedPipelineToDone(t *testing.T) {
	client := &flakyClient{fail: true}
	s, _ := newTestServerWithClient(t, client)
	r := s.NewRouter()

	rec := doRequest(t, r, http.MethodPost, "/pipelines/", map[string]any{
		"title":  "flaky run",
		"prompt": "do the thing",
		"custom_steps": []map[string]any{
			{"is_approval": false, "agent": "developer"},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var pipeline models.Pipeline
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pipeline))

	require.Eventually(t, func() bool {
		p, err := store.GetPipeline(s.db, pipeline.ID)
		require.NoError(t, err)
		return p.Status == models.PipelineStatusFailed
	}, 2*time.Second, 10*time.Millisecond)

	client.SetFail(false)
	rec = doRequest(t, r, http.MethodPost, "/pipelines/"+itoa(pipeline.ID)+"/restart", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// The restart path must flip pipeline.status away from `failed` before
	// the re-attempted step starts running — never leave a running step
	// owned by a pipeline still marked failed.
	require.Eventually(t, func() bool {
		p, err := store.GetPipeline(s.db, pipeline.ID)
		require.NoError(t, err)
		return p.Status == models.PipelineStatusDone
	}, 2*time.Second, 10*time.Millisecond)

	steps, err := store.ListStepsByPipeline(s.db, pipeline.ID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	require.Equal(t, models.StepStatusDone, steps[0].Status)
}

func TestRestartPipeline_WrongStatusReturns409(t *testing.T) {
	s := newTestServer(t)
	r := s.NewRouter()

	var pipelineID int64
	err := store.Transact(context.Background(), s.db, func(tx *sql.Tx) error {
		id, txErr := store.CreatePipelineTx(tx, "t", "__custom__", "p", nil, nil)
		pipelineID = id
		return txErr
	})
	require.NoError(t, err)

	rec := doRequest(t, r, http.MethodPost, "/pipelines/"+itoa(pipelineID)+"/restart", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func itoa(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}
