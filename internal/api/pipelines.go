package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/DavidSchwarz2/agentpipe/internal/models"
	"github.com/DavidSchwarz2/agentpipe/internal/runner"
	"github.com/DavidSchwarz2/agentpipe/internal/store"
)

func pathInt64(r *http.Request, param string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, param), 10, 64)
}

// createPipelineRequest is the body of POST /pipelines.
type createPipelineRequest struct {
	Title             string             `json:"title"`
	Prompt            string             `json:"prompt"`
	Template          string             `json:"template,omitempty"`
	CustomSteps       []stepInputDTO     `json:"custom_steps,omitempty"`
	Branch            *string            `json:"branch,omitempty"`
	WorkingDir        *string            `json:"working_dir,omitempty"`
	StepModels        map[string]string  `json:"step_models,omitempty"`
	GitHubIssueRepo   string             `json:"github_issue_repo,omitempty"`
	GitHubIssueNumber int                `json:"github_issue_number,omitempty"`
}

type stepInputDTO struct {
	IsApproval       bool     `json:"is_approval"`
	Agent            string   `json:"agent,omitempty"`
	Model            *string  `json:"model,omitempty"`
	Description      string   `json:"description,omitempty"`
	RemindAfterHours *float64 `json:"remind_after_hours,omitempty"`
}

func (s *Server) createPipeline(w http.ResponseWriter, r *http.Request) {
	var req createPipelineRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	prompt := req.Prompt
	if req.GitHubIssueRepo != "" && req.GitHubIssueNumber != 0 {
		prompt = prependIssueBlock(r.Context(), s.issues, req.GitHubIssueRepo, req.GitHubIssueNumber, prompt)
	}

	opts := runner.CreateOptions{
		Title:        req.Title,
		Prompt:       prompt,
		TemplateName: req.Template,
		WorkingDir:   req.WorkingDir,
		Branch:       req.Branch,
	}
	if len(req.CustomSteps) > 0 {
		opts.CustomSteps = make([]runner.StepInput, 0, len(req.CustomSteps))
		for _, cs := range req.CustomSteps {
			opts.CustomSteps = append(opts.CustomSteps, runner.StepInput{
				IsApproval:       cs.IsApproval,
				Agent:            cs.Agent,
				Model:            cs.Model,
				Description:      cs.Description,
				RemindAfterHours: cs.RemindAfterHours,
			})
		}
	}
	if len(req.StepModels) > 0 {
		opts.StepModels = make(map[int]string, len(req.StepModels))
		for k, v := range req.StepModels {
			idx, err := strconv.Atoi(k)
			if err != nil {
				respondError(w, http.StatusBadRequest, err)
				return
			}
			opts.StepModels[idx] = v
		}
	}

	id, err := s.run.CreatePipeline(r.Context(), opts)
	if err != nil {
		respondStoreOrRunnerError(w, err)
		return
	}

	s.lc.Launch(id)

	pipeline, err := store.GetPipeline(s.db, id)
	if err != nil {
		respondStoreOrRunnerError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, pipeline)
}

func (s *Server) listPipelines(w http.ResponseWriter, r *http.Request) {
	pipelines, err := store.ListPipelines(s.db)
	if err != nil {
		respondStoreOrRunnerError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, pipelines)
}

func (s *Server) listConflicts(w http.ResponseWriter, r *http.Request) {
	workingDir := r.URL.Query().Get("working_dir")
	pipelines, err := store.ListConflictingPipelines(s.db, workingDir)
	if err != nil {
		respondStoreOrRunnerError(w, err)
		return
	}
	if pipelines == nil {
		pipelines = []*models.Pipeline{}
	}
	respondJSON(w, http.StatusOK, pipelines)
}

// stepDetail adds the step's latest handoff (parsed metadata included) to
// its plain store row for the pipeline-detail response.
type stepDetail struct {
	*models.Step
	Handoff *handoffDetail `json:"handoff,omitempty"`
}

type handoffDetail struct {
	RawContent string               `json:"raw_content"`
	Metadata   *models.HandoffSchema `json:"metadata,omitempty"`
}

type pipelineDetail struct {
	*models.Pipeline
	Steps []stepDetail `json:"steps"`
}

func (s *Server) getPipeline(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	pipeline, err := store.GetPipeline(s.db, id)
	if err != nil {
		respondStoreOrRunnerError(w, err)
		return
	}
	steps, err := store.ListStepsByPipeline(s.db, id)
	if err != nil {
		respondStoreOrRunnerError(w, err)
		return
	}

	detail := pipelineDetail{Pipeline: pipeline, Steps: make([]stepDetail, 0, len(steps))}
	for _, step := range steps {
		sd := stepDetail{Step: step}
		h, err := store.GetLatestHandoffForStep(s.db, step.ID)
		if err == nil {
			hd := &handoffDetail{RawContent: h.RawContent}
			if h.HasStructuredMetadata() {
				var schema models.HandoffSchema
				if jsonErr := json.Unmarshal(h.Metadata, &schema); jsonErr == nil {
					hd.Metadata = &schema
				}
			}
			sd.Handoff = hd
		} else {
			var nf *store.NotFoundError
			if !errors.As(err, &nf) {
				respondStoreOrRunnerError(w, err)
				return
			}
		}
		detail.Steps = append(detail.Steps, sd)
	}

	respondJSON(w, http.StatusOK, detail)
}

func (s *Server) abortPipeline(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	pipeline, err := store.GetPipeline(s.db, id)
	if err != nil {
		respondStoreOrRunnerError(w, err)
		return
	}
	if !pipeline.Status.IsActive() {
		respondStoreOrRunnerError(w, &store.ConflictError{Entity: "pipeline", ID: chi.URLParam(r, "id"), CurrentState: string(pipeline.Status), Operation: "abort"})
		return
	}
	if err := s.lc.Abort(r.Context(), id); err != nil {
		respondStoreOrRunnerError(w, err)
		return
	}
	pipeline, err = store.GetPipeline(s.db, id)
	if err != nil {
		respondStoreOrRunnerError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, pipeline)
}

func (s *Server) restartPipeline(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	pipeline, err := store.GetPipeline(s.db, id)
	if err != nil {
		respondStoreOrRunnerError(w, err)
		return
	}
	if pipeline.Status != models.PipelineStatusFailed {
		respondStoreOrRunnerError(w, &store.ConflictError{Entity: "pipeline", ID: chi.URLParam(r, "id"), CurrentState: string(pipeline.Status), Operation: "restart"})
		return
	}
	s.lc.Restart(id)
	respondJSON(w, http.StatusOK, pipeline)
}

type decisionRequest struct {
	Comment   *string `json:"comment,omitempty"`
	DecidedBy *string `json:"decided_by,omitempty"`
}

func (s *Server) approvePipeline(w http.ResponseWriter, r *http.Request) {
	s.decidePipeline(w, r, models.ApprovalStatusApproved)
}

func (s *Server) rejectPipeline(w http.ResponseWriter, r *http.Request) {
	s.decidePipeline(w, r, models.ApprovalStatusRejected)
}

func (s *Server) decidePipeline(w http.ResponseWriter, r *http.Request, status models.ApprovalStatus) {
	id, err := pathInt64(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	var req decisionRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, err)
			return
		}
	}

	pipeline, err := store.GetPipeline(s.db, id)
	if err != nil {
		respondStoreOrRunnerError(w, err)
		return
	}
	if pipeline.Status != models.PipelineStatusWaitingForApproval {
		respondStoreOrRunnerError(w, &store.ConflictError{Entity: "pipeline", ID: chi.URLParam(r, "id"), CurrentState: string(pipeline.Status), Operation: string(status)})
		return
	}

	steps, err := store.ListStepsByPipeline(s.db, id)
	if err != nil {
		respondStoreOrRunnerError(w, err)
		return
	}
	var pendingStepID int64
	for _, step := range steps {
		if step.IsApprovalGate() && step.Status == models.StepStatusRunning {
			pendingStepID = step.ID
			break
		}
	}
	if pendingStepID == 0 {
		respondStoreOrRunnerError(w, &store.NotFoundError{Entity: "pending approval step", ID: chi.URLParam(r, "id")})
		return
	}
	appr, err := store.GetPendingApprovalForStep(s.db, pendingStepID)
	if err != nil {
		respondStoreOrRunnerError(w, err)
		return
	}

	if err := store.ResolveApproval(s.db, appr.ID, status, req.Comment, req.DecidedBy); err != nil {
		respondStoreOrRunnerError(w, err)
		return
	}
	s.signals.Fire(id)

	pipeline, err = store.GetPipeline(s.db, id)
	if err != nil {
		respondStoreOrRunnerError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, pipeline)
}
