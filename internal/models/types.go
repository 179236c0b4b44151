package models

import (
	"encoding/json"
	"time"
)

// ID Strategy:
// - Pipelines, Steps, Handoffs, Approvals, AuditEvents all use int64
//   auto-increment primary keys. Unlike a multi-agent task queue, exactly
//   one executor goroutine ever inserts rows for a given pipeline, so there
//   is no distributed-ID-generation pressure; SQLite's ROWID is sufficient.

// PipelineStatus is the state-machine status of one pipeline run.
type PipelineStatus string

// Pipeline status constants.
const (
	PipelineStatusPending            PipelineStatus = "pending"
	PipelineStatusRunning            PipelineStatus = "running"
	PipelineStatusWaitingForApproval PipelineStatus = "waiting_for_approval"
	PipelineStatusDone               PipelineStatus = "done"
	PipelineStatusFailed             PipelineStatus = "failed"
)

// IsActive reports whether the pipeline has a live background executor
// associated with it.
func (s PipelineStatus) IsActive() bool {
	return s == PipelineStatusRunning || s == PipelineStatusWaitingForApproval
}

// IsTerminal reports whether the pipeline has reached a terminal status.
func (s PipelineStatus) IsTerminal() bool {
	return s == PipelineStatusDone || s == PipelineStatusFailed
}

// StepStatus is the state of a single pipeline step.
type StepStatus string

// Step status constants.
const (
	StepStatusPending StepStatus = "pending"
	StepStatusRunning StepStatus = "running"
	StepStatusDone    StepStatus = "done"
	StepStatusFailed  StepStatus = "failed"
	StepStatusSkipped StepStatus = "skipped"
)

// IsTerminal reports whether the step has reached a terminal status.
func (s StepStatus) IsTerminal() bool {
	return s == StepStatusDone || s == StepStatusFailed || s == StepStatusSkipped
}

// ApprovalStatus is the decision state of an Approval row.
type ApprovalStatus string

// Approval status constants.
const (
	ApprovalStatusPending  ApprovalStatus = "pending"
	ApprovalStatusApproved ApprovalStatus = "approved"
	ApprovalStatusRejected ApprovalStatus = "rejected"
)

// ApprovalStepAgentName is the reserved agent_name sentinel marking a step as
// an approval gate rather than a real agent invocation.
const ApprovalStepAgentName = "__approval__"

// CustomTemplateName is the reserved template name stored for pipelines
// created from an inline, ephemeral step list instead of a named template.
const CustomTemplateName = "__custom__"

// Pipeline is one end-to-end orchestrator run.
type Pipeline struct {
	ID            int64          `json:"id"`
	Title         string         `json:"title"`
	TemplateName  string         `json:"template_name"`
	InitialPrompt string         `json:"initial_prompt"`
	WorkingDir    *string        `json:"working_dir,omitempty"`
	Branch        *string        `json:"branch,omitempty"`
	Status        PipelineStatus `json:"status"`
	Version       int            `json:"version"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// IsAbortable reports whether the pipeline currently has a live executor that
// an abort request could cancel.
func (p *Pipeline) IsAbortable() bool { return p.Status.IsActive() }

// HasWorkingDir reports whether the pipeline was created against a project
// working directory (relevant for conflicts and local registry overrides).
func (p *Pipeline) HasWorkingDir() bool {
	return p.WorkingDir != nil && *p.WorkingDir != ""
}

// Step is one execution unit of a Pipeline: either an agent call or an
// approval gate (AgentName == ApprovalStepAgentName).
type Step struct {
	ID               int64      `json:"id"`
	PipelineID       int64      `json:"pipeline_id"`
	OrderIndex       int        `json:"order_index"`
	AgentName        string     `json:"agent_name"`
	Status           StepStatus `json:"status"`
	Model            *string    `json:"model,omitempty"`
	RemindAfterHours *float64   `json:"remind_after_hours,omitempty"`
	ErrorMessage     *string    `json:"error_message,omitempty"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
	Version          int        `json:"version"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// IsApprovalGate reports whether this step is an approval gate rather than
// a real agent invocation.
func (s *Step) IsApprovalGate() bool {
	return s.AgentName == ApprovalStepAgentName
}

// IsDone reports whether the step completed successfully (or was skipped).
func (s *Step) IsDone() bool {
	return s.Status == StepStatusDone || s.Status == StepStatusSkipped
}

// HandoffSchema is the four structured fields extracted from an agent's raw
// output by the HandoffExtractor. All fields are optional.
type HandoffSchema struct {
	WhatWasDone      string `json:"what_was_done,omitempty"`
	DecisionsMade    string `json:"decisions_made,omitempty"`
	OpenQuestions    string `json:"open_questions,omitempty"`
	NextAgentContext string `json:"next_agent_context,omitempty"`
}

// IsEmpty reports whether every field of the schema is empty.
func (h HandoffSchema) IsEmpty() bool {
	return h.WhatWasDone == "" && h.DecisionsMade == "" &&
		h.OpenQuestions == "" && h.NextAgentContext == ""
}

// Handoff is the persisted output of one Step.
type Handoff struct {
	ID         int64           `json:"id"`
	StepID     int64           `json:"step_id"`
	RawContent string          `json:"raw_content"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// HasStructuredMetadata reports whether extraction succeeded for this handoff.
func (h *Handoff) HasStructuredMetadata() bool {
	return len(h.Metadata) > 0
}

// Approval is the decision record for one approval-gate Step.
type Approval struct {
	ID        int64          `json:"id"`
	StepID    int64          `json:"step_id"`
	Status    ApprovalStatus `json:"status"`
	Comment   *string        `json:"comment,omitempty"`
	DecidedBy *string        `json:"decided_by,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	DecidedAt *time.Time     `json:"decided_at,omitempty"`
}

// IsResolved reports whether a decision has been recorded.
func (a *Approval) IsResolved() bool {
	return a.Status == ApprovalStatusApproved || a.Status == ApprovalStatusRejected
}

// AuditEvent is an append-only log record of something the engine did.
type AuditEvent struct {
	ID         int64           `json:"id"`
	PipelineID int64           `json:"pipeline_id"`
	StepID     *int64          `json:"step_id,omitempty"`
	EventType  string          `json:"event_type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// AgentProfile is a declarative, registry-owned description of one agent.
type AgentProfile struct {
	Name                  string  `yaml:"name" json:"name"`
	Description           string  `yaml:"description" json:"description"`
	ExternalAgentID       string  `yaml:"external_agent_id" json:"external_agent_id"`
	DefaultModel          *string `yaml:"default_model,omitempty" json:"default_model,omitempty"`
	SystemPromptAdditions string  `yaml:"system_prompt_additions,omitempty" json:"system_prompt_additions,omitempty"`
}

// TemplateStep is one entry of a PipelineTemplate: either an agent step or an
// approval step. Exactly one "kind" of fields is meaningful, discriminated by
// IsApproval.
type TemplateStep struct {
	IsApproval bool `yaml:"is_approval" json:"is_approval"`

	// Agent step fields.
	Agent string  `yaml:"agent,omitempty" json:"agent,omitempty"`
	Model *string `yaml:"model,omitempty" json:"model,omitempty"`

	// Approval step fields.
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// RemindAfterHours, when set on an approval step, arms a one-shot
	// reminder if no decision arrives within that many hours.
	RemindAfterHours *float64 `yaml:"remind_after_hours,omitempty" json:"remind_after_hours,omitempty"`
}

// AgentName returns the effective steps.agent_name column value for a Step
// created from this template step.
func (t TemplateStep) AgentName() string {
	if t.IsApproval {
		return ApprovalStepAgentName
	}
	return t.Agent
}

// PipelineTemplate is a reusable, named plan of TemplateSteps.
type PipelineTemplate struct {
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Steps       []TemplateStep `yaml:"steps" json:"steps"`
}
