// Package runner owns the lifecycle of a single pipeline execution: the
// sequential driver that walks a pipeline's steps, invoking agents and
// suspending on approval gates, persisting every transition as it goes.
package runner

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/DavidSchwarz2/agentpipe/internal/agentclient"
	"github.com/DavidSchwarz2/agentpipe/internal/app"
	"github.com/DavidSchwarz2/agentpipe/internal/approval"
	"github.com/DavidSchwarz2/agentpipe/internal/handoff"
	"github.com/DavidSchwarz2/agentpipe/internal/models"
	"github.com/DavidSchwarz2/agentpipe/internal/registry"
	"github.com/DavidSchwarz2/agentpipe/internal/store"
)

// Runner drives one pipeline at a time per call to Run/Resume/Restart; the
// caller (internal/lifecycle.Manager) is responsible for running each call
// on its own goroutine and for cancelling the context it passes in.
type Runner struct {
	db       *sql.DB
	client   agentclient.Client
	registry *registry.Registry
	signals  *approval.Coordinator
	settings app.RunnerSettings

	mu             sync.Mutex
	activeSessions map[int64]string // pipelineID -> currently active agent session id
}

// New returns a Runner wired against the given collaborators.
func New(db *sql.DB, client agentclient.Client, reg *registry.Registry, signals *approval.Coordinator, settings app.RunnerSettings) *Runner {
	return &Runner{
		db:             db,
		client:         client,
		registry:       reg,
		signals:        signals,
		settings:       settings,
		activeSessions: make(map[int64]string),
	}
}

// Run starts a pipeline fresh from step 0 (every step pending).
func (r *Runner) Run(ctx context.Context, pipelineID int64) error {
	return r.execute(ctx, pipelineID)
}

// Resume continues a pipeline from its first non-done step. If every step is
// already done, the pipeline is marked done immediately.
func (r *Runner) Resume(ctx context.Context, pipelineID int64) error {
	return r.execute(ctx, pipelineID)
}

// Restart transitions a failed pipeline back to running, resetting any
// failed or running step to pending, then resumes it.
func (r *Runner) Restart(ctx context.Context, pipelineID int64) error {
	pipeline, err := store.GetPipeline(r.db, pipelineID)
	if err != nil {
		return err
	}
	if pipeline.Status != models.PipelineStatusFailed {
		return &store.ConflictError{Entity: "pipeline", ID: fmt.Sprint(pipelineID), CurrentState: string(pipeline.Status), Operation: "restart"}
	}

	err = store.Transact(ctx, r.db, func(tx *sql.Tx) error {
		if err := store.ResetFailedAndRunningStepsTx(tx, pipelineID); err != nil {
			return err
		}
		return store.UpdatePipelineStatusTx(tx, pipelineID, models.PipelineStatusRunning, pipeline.Version)
	})
	if err != nil {
		return err
	}

	return r.execute(ctx, pipelineID)
}

// Abort cancels an active pipeline: best-effort interrupt of its currently
// active agent session, then transition of any running step and the
// pipeline itself to failed, with an audit pipeline_failed event. Calling
// Abort on an already-terminal pipeline is a no-op.
func (r *Runner) Abort(ctx context.Context, pipelineID int64) error {
	pipeline, err := store.GetPipeline(r.db, pipelineID)
	if err != nil {
		return err
	}
	if !pipeline.Status.IsActive() {
		return nil
	}

	if sessionID, ok := r.activeSession(pipelineID); ok {
		r.client.Abort(ctx, sessionID)
	}
	r.signals.Fire(pipelineID)

	return r.failPipeline(context.Background(), pipelineID, "aborted")
}

// activeSession returns the currently tracked agent session for a pipeline.
func (r *Runner) activeSession(pipelineID int64) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.activeSessions[pipelineID]
	return id, ok
}

func (r *Runner) setActiveSession(pipelineID int64, sessionID string) {
	r.mu.Lock()
	r.activeSessions[pipelineID] = sessionID
	r.mu.Unlock()
}

func (r *Runner) clearActiveSession(pipelineID int64) {
	r.mu.Lock()
	delete(r.activeSessions, pipelineID)
	r.mu.Unlock()
}

// execute is the shared driver for Run/Resume/Restart: it loads the pipeline
// and its steps fresh, finds the resume point, and walks the remaining steps
// in order. It never panics; any unexpected error is converted into a
// persisted failed pipeline rather than propagated as a crash, so a
// background loop's error can never escape unhandled.
func (r *Runner) execute(ctx context.Context, pipelineID int64) (err error) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("runner: recovered from panic", "pipeline_id", pipelineID, "panic", p)
			_ = r.failPipeline(context.Background(), pipelineID, fmt.Sprintf("internal error: %v", p))
			err = fmt.Errorf("runner: recovered from panic: %v", p)
		}
	}()

	pipeline, err := store.GetPipeline(r.db, pipelineID)
	if err != nil {
		return err
	}

	var resumeStep *models.Step
	err = store.Transact(ctx, r.db, func(tx *sql.Tx) error {
		s, txErr := store.FirstNonDoneStepTx(tx, pipelineID)
		if txErr != nil {
			return txErr
		}
		resumeStep = s
		return nil
	})
	if err != nil {
		return err
	}

	if resumeStep == nil {
		return r.completePipeline(ctx, pipelineID)
	}

	if pipeline.Status == models.PipelineStatusPending {
		if err := store.SetPipelineStatus(r.db, pipelineID, models.PipelineStatusRunning); err != nil {
			return err
		}
	}

	currentPrompt, err := r.initialPromptFor(ctx, pipeline, resumeStep)
	if err != nil {
		return err
	}

	steps, err := store.ListStepsByPipeline(r.db, pipelineID)
	if err != nil {
		return err
	}

	for _, step := range steps {
		if step.OrderIndex < resumeStep.OrderIndex {
			continue
		}
		if ctx.Err() != nil {
			// Cancellation here comes from Manager.Shutdown (process stop) or
			// a relaunch of this same pipeline id (dispatch cancels the
			// stale goroutine before installing the new one) — neither
			// wants this step/pipeline marked failed. Abort's own failure
			// transition happens directly in Runner.Abort, independent of
			// this goroutine noticing cancellation, so there is nothing to
			// do here but exit leaving rows resumable.
			return ctx.Err()
		}

		var stepErr error
		currentPrompt, stepErr = r.runStep(ctx, pipeline, step, currentPrompt)
		if stepErr != nil {
			if errors.Is(stepErr, errPipelineAborted) {
				// The step failure (or approval rejection) already persisted
				// its own step/pipeline transitions and audit events; the
				// executor itself completes normally.
				return nil
			}
			if ctx.Err() != nil {
				return stepErr
			}
			// Unexpected executor error (store failure, marshalling, ...):
			// never strand the pipeline in running with no live executor.
			_ = r.failPipeline(context.Background(), pipelineID, stepErr.Error())
			return stepErr
		}
	}

	return r.completePipeline(ctx, pipelineID)
}

// errPipelineAborted marks a step failure path that already performed its
// own pipeline-failed transition (approval rejection, timeout, client
// failure), so execute must not attempt to fail it a second time.
var errPipelineAborted = errors.New("runner: pipeline aborted")

// initialPromptFor resolves the prompt text for the resume point: the
// pipeline's stored initial prompt if no step has completed yet, otherwise
// the preamble (or raw text) of the last successful step's handoff.
func (r *Runner) initialPromptFor(ctx context.Context, pipeline *models.Pipeline, resumeStep *models.Step) (string, error) {
	if resumeStep.OrderIndex == 0 {
		return pipeline.InitialPrompt, nil
	}

	steps, err := store.ListStepsByPipeline(r.db, pipeline.ID)
	if err != nil {
		return "", err
	}

	var prevAgentStep *models.Step
	for _, s := range steps {
		if s.OrderIndex >= resumeStep.OrderIndex {
			break
		}
		if !s.IsApprovalGate() {
			prevAgentStep = s
		}
	}
	if prevAgentStep == nil {
		return pipeline.InitialPrompt, nil
	}

	handoff, err := store.GetLatestHandoffForStep(r.db, prevAgentStep.ID)
	if err != nil {
		if errors.As(err, new(*store.NotFoundError)) {
			return pipeline.InitialPrompt, nil
		}
		return "", err
	}
	return promptFromHandoff(handoff, prevAgentStep.AgentName), nil
}

func (r *Runner) completePipeline(ctx context.Context, pipelineID int64) error {
	pipeline, err := store.GetPipeline(r.db, pipelineID)
	if err != nil {
		return err
	}
	if pipeline.Status == models.PipelineStatusDone {
		return nil
	}
	return store.Transact(context.Background(), r.db, func(tx *sql.Tx) error {
		if err := store.UpdatePipelineStatusTx(tx, pipelineID, models.PipelineStatusDone, pipeline.Version); err != nil {
			return err
		}
		_, err := store.InsertAuditEventTx(tx, pipelineID, nil, models.EventTypePipelineCompleted, nil)
		return err
	})
}

// failPipeline transitions any running step and the pipeline itself to
// failed, emitting pipeline_failed with the given reason. A concurrent
// writer that already made this same transition (e.g. Abort racing the
// executing goroutine's own cancellation handling) surfaces as a
// VersionConflictError, which is expected and swallowed here rather than
// treated as a fresh failure.
func (r *Runner) failPipeline(ctx context.Context, pipelineID int64, reason string) error {
	err := store.Transact(ctx, r.db, func(tx *sql.Tx) error {
		pipeline, txErr := store.GetPipelineTx(tx, pipelineID)
		if txErr != nil {
			return txErr
		}
		if pipeline.Status.IsTerminal() {
			return nil
		}
		steps, txErr := store.ListStepsByPipelineTx(tx, pipelineID)
		if txErr != nil {
			return txErr
		}
		for _, s := range steps {
			if s.Status == models.StepStatusRunning {
				if txErr := store.FinishStepTx(tx, s.ID, models.StepStatusFailed, &reason, s.Version); txErr != nil {
					return txErr
				}
			}
		}
		if txErr := store.UpdatePipelineStatusTx(tx, pipelineID, models.PipelineStatusFailed, pipeline.Version); txErr != nil {
			return txErr
		}
		payload, _ := json.Marshal(map[string]string{"error": reason})
		_, txErr = store.InsertAuditEventTx(tx, pipelineID, nil, models.EventTypePipelineFailed, payload)
		return txErr
	})
	if err != nil {
		var vc *store.VersionConflictError
		if errors.As(err, &vc) {
			return nil
		}
		return err
	}
	return nil
}

func strPtr(s string) *string { return &s }

// stepTimeout returns the configured per-step deadline.
func (r *Runner) stepTimeout() time.Duration {
	return time.Duration(r.settings.StepTimeoutSeconds) * time.Second
}

// runStep executes one step (agent invocation or approval gate) and returns
// the prompt the next step should receive. When the step itself fails (the
// agent call errors or times out, or the approval is rejected) it transitions
// the step and the pipeline to failed itself (persisting error_message and
// the relevant audit events) and returns errPipelineAborted so execute knows
// the failure was already recorded. Store errors and context cancellation are
// returned as they are, with no failure transition.
func (r *Runner) runStep(ctx context.Context, pipeline *models.Pipeline, step *models.Step, currentPrompt string) (string, error) {
	if err := store.Transact(ctx, r.db, func(tx *sql.Tx) error {
		if err := store.StartStepTx(tx, step.ID, step.Version); err != nil {
			return err
		}
		_, err := store.InsertAuditEventTx(tx, pipeline.ID, &step.ID, models.EventTypeStepStarted, nil)
		return err
	}); err != nil {
		return "", err
	}

	// Re-fetch: version has moved since the caller listed steps.
	step, err := store.GetStep(r.db, step.ID)
	if err != nil {
		return "", err
	}

	if step.IsApprovalGate() {
		return r.runApprovalStep(ctx, pipeline, step, currentPrompt)
	}
	return r.runAgentStep(ctx, pipeline, step, currentPrompt)
}

// runApprovalStep enlists the ApprovalCoordinator, creates (or reuses, on
// crash recovery) the pending Approval row, suspends until a decision
// arrives, and returns the next prompt on approval.
func (r *Runner) runApprovalStep(ctx context.Context, pipeline *models.Pipeline, step *models.Step, currentPrompt string) (string, error) {
	appr, err := store.GetPendingApprovalForStep(r.db, step.ID)
	if err != nil {
		var nf *store.NotFoundError
		if !errors.As(err, &nf) {
			return "", err
		}
		appr = nil
	}

	if appr == nil {
		err = store.Transact(ctx, r.db, func(tx *sql.Tx) error {
			id, txErr := store.CreateApprovalTx(tx, step.ID)
			if txErr != nil {
				return txErr
			}
			// Re-read for the current version: the pending->running flip (or
			// a prior step's transitions) has moved it since execute loaded
			// this pipeline.
			p, txErr := store.GetPipelineTx(tx, pipeline.ID)
			if txErr != nil {
				return txErr
			}
			if txErr := store.UpdatePipelineStatusTx(tx, pipeline.ID, models.PipelineStatusWaitingForApproval, p.Version); txErr != nil {
				return txErr
			}
			if _, txErr := store.InsertAuditEventTx(tx, pipeline.ID, &step.ID, models.EventTypeApprovalRequested, nil); txErr != nil {
				return txErr
			}
			a, txErr := store.GetApprovalTx(tx, id)
			if txErr != nil {
				return txErr
			}
			appr = a
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", r.failStepAndPipeline(step.ID, step.Version, fmt.Sprintf("failed to request approval: %v", err))
		}
	} else {
		if err := store.SetPipelineStatus(r.db, pipeline.ID, models.PipelineStatusWaitingForApproval); err != nil {
			var vc *store.VersionConflictError
			if !errors.As(err, &vc) {
				return "", err
			}
		}
	}

	signal := r.signals.Enlist(pipeline.ID)
	defer r.signals.Release(pipeline.ID)

	reminderFired := false
	onReminder := func() {
		if reminderFired {
			return
		}
		reminderFired = true
		slog.Warn("approval reminder: no decision yet", "pipeline_id", pipeline.ID, "step_id", step.ID)
		_ = store.Transact(context.Background(), r.db, func(tx *sql.Tx) error {
			_, txErr := store.InsertAuditEventTx(tx, pipeline.ID, &step.ID, models.EventTypeApprovalReminder, nil)
			return txErr
		})
	}

	for {
		remaining := reminderRemaining(step.RemindAfterHours, appr.CreatedAt)
		if remaining <= 0 && step.RemindAfterHours != nil {
			onReminder()
			if err := signal.Wait(ctx); err != nil {
				return "", err
			}
		} else if err := signal.WaitWithReminder(ctx, remaining, onReminder); err != nil {
			return "", err
		}

		appr, err = store.GetApproval(r.db, appr.ID)
		if err != nil {
			return "", err
		}
		switch appr.Status {
		case models.ApprovalStatusApproved:
			return r.finishApprovedStep(pipeline, step, appr, currentPrompt)
		case models.ApprovalStatusRejected:
			return "", r.rejectApprovalStep(pipeline, step)
		default:
			// Spurious wake (should not happen): the fired Signal is a
			// latched closed channel, so enlist a fresh one before
			// re-entering the wait or the loop would spin.
			signal = r.signals.Enlist(pipeline.ID)
			continue
		}
	}
}

// reminderRemaining returns how long to wait before firing the reminder,
// computed fresh from the approval's created_at every time a wait is
// (re-)entered — including after crash recovery — per the spec's conservative
// resolution of the reminder re-arming Open Question.
func reminderRemaining(remindAfterHours *float64, createdAt time.Time) time.Duration {
	if remindAfterHours == nil || *remindAfterHours <= 0 {
		return 0
	}
	total := time.Duration(*remindAfterHours * float64(time.Hour))
	elapsed := time.Since(createdAt)
	return total - elapsed
}

func (r *Runner) finishApprovedStep(pipeline *models.Pipeline, step *models.Step, appr *models.Approval, currentPrompt string) (string, error) {
	err := store.Transact(context.Background(), r.db, func(tx *sql.Tx) error {
		if err := store.FinishStepTx(tx, step.ID, models.StepStatusDone, nil, step.Version); err != nil {
			return err
		}
		// Back to running: the gate is resolved, the executor moves on.
		p, err := store.GetPipelineTx(tx, pipeline.ID)
		if err != nil {
			return err
		}
		if err := store.UpdatePipelineStatusTx(tx, pipeline.ID, models.PipelineStatusRunning, p.Version); err != nil {
			return err
		}
		_, err = store.InsertAuditEventTx(tx, pipeline.ID, &step.ID, models.EventTypeApprovalGranted, nil)
		return err
	})
	if err != nil {
		return "", err
	}
	if appr.Comment != nil && strings.TrimSpace(*appr.Comment) != "" {
		currentPrompt = currentPrompt + "\n\nReviewer note: " + *appr.Comment
	}
	return currentPrompt, nil
}

func (r *Runner) rejectApprovalStep(pipeline *models.Pipeline, step *models.Step) error {
	err := store.Transact(context.Background(), r.db, func(tx *sql.Tx) error {
		if err := store.FinishStepTx(tx, step.ID, models.StepStatusFailed, strPtr("approval rejected"), step.Version); err != nil {
			return err
		}
		if _, err := store.InsertAuditEventTx(tx, pipeline.ID, &step.ID, models.EventTypeApprovalRejected, nil); err != nil {
			return err
		}
		p, err := store.GetPipelineTx(tx, pipeline.ID)
		if err != nil {
			return err
		}
		if err := store.UpdatePipelineStatusTx(tx, pipeline.ID, models.PipelineStatusFailed, p.Version); err != nil {
			return err
		}
		_, err = store.InsertAuditEventTx(tx, pipeline.ID, nil, models.EventTypePipelineFailed, nil)
		return err
	})
	if err != nil {
		return err
	}
	return errPipelineAborted
}

// runAgentStep resolves the effective agent profile, invokes the
// AgentClient under a per-step deadline, and persists the handoff.
func (r *Runner) runAgentStep(ctx context.Context, pipeline *models.Pipeline, step *models.Step, currentPrompt string) (string, error) {
	workingDir := ""
	if pipeline.WorkingDir != nil {
		workingDir = *pipeline.WorkingDir
	}
	snapshot := r.registry.EffectiveFor(workingDir)
	profile, ok := snapshot.GetAgent(step.AgentName)
	if !ok {
		return "", r.failStepAndPipeline(step.ID, step.Version, fmt.Sprintf("unknown agent: %s", step.AgentName))
	}

	prompt := composePrompt(pipeline, profile, currentPrompt)
	model := step.Model
	if model == nil {
		model = profile.DefaultModel
	}

	// The client speaks the external runner's agent vocabulary, not the
	// registry's profile names.
	externalAgent := profile.ExternalAgentID
	if externalAgent == "" {
		externalAgent = profile.Name
	}

	sessionID, err := r.client.CreateSession(ctx, pipeline.Title)
	if err != nil {
		return "", r.failClientError(step.ID, step.Version, err)
	}
	r.setActiveSession(pipeline.ID, sessionID)
	defer func() {
		r.client.DeleteSession(context.Background(), sessionID)
		r.clearActiveSession(pipeline.ID)
	}()

	deadlineCtx, cancel := context.WithTimeout(ctx, r.stepTimeout())
	defer cancel()

	output, err := r.client.SendMessage(deadlineCtx, sessionID, prompt, externalAgent, model)
	if err != nil {
		if deadlineCtx.Err() == context.DeadlineExceeded {
			r.client.Abort(context.Background(), sessionID)
			msg := fmt.Sprintf("Step timed out after %ds", r.settings.StepTimeoutSeconds)
			return "", r.failStepAndPipeline(step.ID, step.Version, msg)
		}
		if ctx.Err() != nil {
			// The outer context was cancelled (shutdown or a stale relaunch),
			// not a step timeout or a genuine agent-client failure. Leave the
			// step `running` so a future Resume re-attempts it, rather than
			// persisting a failure caused by our own cancellation.
			return "", ctx.Err()
		}
		return "", r.failClientError(step.ID, step.Version, err)
	}

	return r.persistSuccessfulStep(pipeline, step, output)
}

// persistSuccessfulStep stores the raw handoff, attempts structured
// extraction, and finishes the step, all in one transaction.
func (r *Runner) persistSuccessfulStep(pipeline *models.Pipeline, step *models.Step, output string) (string, error) {
	schema, extractErr := handoff.Extract(output)
	hasStructured := extractErr == nil

	var nextPrompt string
	err := store.Transact(context.Background(), r.db, func(tx *sql.Tx) error {
		handoffID, txErr := store.CreateHandoffTx(tx, step.ID, output)
		if txErr != nil {
			return txErr
		}

		if hasStructured {
			metadata, marshalErr := json.Marshal(schema)
			if marshalErr != nil {
				return marshalErr
			}
			if txErr := store.SetHandoffMetadataTx(tx, handoffID, metadata); txErr != nil {
				return txErr
			}
		}

		payload, _ := json.Marshal(map[string]bool{"has_structured": hasStructured})
		if _, txErr := store.InsertAuditEventTx(tx, pipeline.ID, &step.ID, models.EventTypeHandoffCreated, payload); txErr != nil {
			return txErr
		}
		if !hasStructured {
			if _, txErr := store.InsertAuditEventTx(tx, pipeline.ID, &step.ID, models.EventTypeHandoffExtractionFailed, nil); txErr != nil {
				return txErr
			}
		}

		if txErr := store.FinishStepTx(tx, step.ID, models.StepStatusDone, nil, step.Version); txErr != nil {
			return txErr
		}

		if hasStructured {
			nextPrompt = handoff.ToPreamble(schema, step.AgentName)
		} else {
			nextPrompt = output
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return nextPrompt, nil
}

// failClientError fails a step with the message from a ClientError (or any
// other error the AgentClient returned — spec treats any such failure as
// recoverable, never fatal).
func (r *Runner) failClientError(stepID int64, stepVersion int, err error) error {
	var ce *agentclient.ClientError
	msg := err.Error()
	if errors.As(err, &ce) {
		msg = ce.Message
	}
	return r.failStepAndPipeline(stepID, stepVersion, msg)
}

// failStepAndPipeline finishes one step as failed with the given message,
// then fails the owning pipeline, in a single transaction, emitting
// step_failed and pipeline_failed. Returns errPipelineAborted so callers
// know both transitions already happened.
func (r *Runner) failStepAndPipeline(stepID int64, stepVersion int, message string) error {
	step, err := store.GetStep(r.db, stepID)
	if err != nil {
		return err
	}
	pipeline, err := store.GetPipeline(r.db, step.PipelineID)
	if err != nil {
		return err
	}

	err = store.Transact(context.Background(), r.db, func(tx *sql.Tx) error {
		if txErr := store.FinishStepTx(tx, stepID, models.StepStatusFailed, &message, stepVersion); txErr != nil {
			return txErr
		}
		payload, _ := json.Marshal(map[string]string{"error": message})
		if _, txErr := store.InsertAuditEventTx(tx, pipeline.ID, &stepID, models.EventTypeStepFailed, payload); txErr != nil {
			return txErr
		}
		if txErr := store.UpdatePipelineStatusTx(tx, pipeline.ID, models.PipelineStatusFailed, pipeline.Version); txErr != nil {
			return txErr
		}
		_, txErr := store.InsertAuditEventTx(tx, pipeline.ID, nil, models.EventTypePipelineFailed, nil)
		return txErr
	})
	if err != nil {
		return err
	}
	return errPipelineAborted
}

// composePrompt prepends the working-directory preamble (if any) and the
// agent's configured system-prompt additions ahead of the step's prompt.
func composePrompt(pipeline *models.Pipeline, profile models.AgentProfile, currentPrompt string) string {
	var b strings.Builder
	if pipeline.WorkingDir != nil && *pipeline.WorkingDir != "" {
		fmt.Fprintf(&b, "You are working in the directory: %s\n\n", *pipeline.WorkingDir)
	}
	if profile.SystemPromptAdditions != "" {
		b.WriteString(profile.SystemPromptAdditions)
		b.WriteString("\n\n")
	}
	b.WriteString(currentPrompt)
	return b.String()
}

// promptFromHandoff renders the next step's prompt from a prior step's
// handoff: the structured preamble if extraction succeeded, otherwise the
// raw output text.
func promptFromHandoff(h *models.Handoff, prevAgentName string) string {
	if h.HasStructuredMetadata() {
		var schema models.HandoffSchema
		if err := json.Unmarshal(h.Metadata, &schema); err == nil {
			return handoff.ToPreamble(schema, prevAgentName)
		}
	}
	return h.RawContent
}
