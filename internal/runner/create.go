package runner

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/DavidSchwarz2/agentpipe/internal/models"
	"github.com/DavidSchwarz2/agentpipe/internal/store"
)

// StepInput is one entry of an inline, ephemeral step list supplied by a
// create-and-run request's custom_steps field.
type StepInput struct {
	IsApproval       bool
	Agent            string
	Model            *string
	Description      string
	RemindAfterHours *float64
}

// CreateOptions is the input to CreatePipeline: exactly one of TemplateName
// or CustomSteps must be set.
type CreateOptions struct {
	Title         string
	Prompt        string
	TemplateName  string
	CustomSteps   []StepInput
	WorkingDir    *string
	Branch        *string
	StepModels    map[int]string // order_index -> model override, applied after template/custom resolution
}

// ErrAmbiguousTemplate is returned when neither or both of TemplateName and
// CustomSteps are supplied.
var ErrAmbiguousTemplate = fmt.Errorf("exactly one of template or custom_steps is required")

// CreatePipeline persists a new Pipeline and its Steps, resolving the
// effective template via the Registry (global ∪ working-directory-local
// overrides) or, for an inline custom step list, using the reserved
// "__custom__" template-name sentinel. It does not start execution —
// callers dispatch the returned id to Runner.Run via the LifecycleManager.
func (r *Runner) CreatePipeline(ctx context.Context, opts CreateOptions) (int64, error) {
	hasTemplate := opts.TemplateName != ""
	hasCustom := len(opts.CustomSteps) > 0
	if hasTemplate == hasCustom {
		return 0, ErrAmbiguousTemplate
	}

	workingDir := ""
	if opts.WorkingDir != nil {
		workingDir = *opts.WorkingDir
	}

	templateName := models.CustomTemplateName
	var steps []StepInput
	if hasTemplate {
		snapshot := r.registry.EffectiveFor(workingDir)
		tmpl, ok := snapshot.GetTemplate(opts.TemplateName)
		if !ok {
			return 0, &store.NotFoundError{Entity: "template", ID: opts.TemplateName}
		}
		templateName = tmpl.Name
		steps = make([]StepInput, 0, len(tmpl.Steps))
		for _, ts := range tmpl.Steps {
			steps = append(steps, StepInput{
				IsApproval:       ts.IsApproval,
				Agent:            ts.Agent,
				Model:            ts.Model,
				Description:      ts.Description,
				RemindAfterHours: ts.RemindAfterHours,
			})
		}
	} else {
		steps = opts.CustomSteps
	}

	var pipelineID int64
	err := store.Transact(ctx, r.db, func(tx *sql.Tx) error {
		id, txErr := store.CreatePipelineTx(tx, opts.Title, templateName, opts.Prompt, opts.WorkingDir, opts.Branch)
		if txErr != nil {
			return txErr
		}
		pipelineID = id

		for i, s := range steps {
			model := s.Model
			if override, ok := opts.StepModels[i]; ok && override != "" {
				m := override
				model = &m
			}
			agentName := s.Agent
			if s.IsApproval {
				agentName = models.ApprovalStepAgentName
			}
			if _, txErr := store.CreateStepTx(tx, pipelineID, i, agentName, model, s.RemindAfterHours); txErr != nil {
				return txErr
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return pipelineID, nil
}
