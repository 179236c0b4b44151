package models

// Audit event types the core emits. Handlers and agents never invent new
// kinds here — these are the closed set the engine itself is responsible for.
const (
	EventTypeStepStarted             = "step_started"
	EventTypeHandoffCreated          = "handoff_created"
	EventTypeHandoffExtractionFailed = "handoff_extraction_failed"
	EventTypeStepFailed              = "step_failed"
	EventTypeApprovalRequested       = "approval_requested"
	EventTypeApprovalGranted         = "approval_granted"
	EventTypeApprovalRejected        = "approval_rejected"
	EventTypeApprovalReminder        = "approval_reminder"
	EventTypePipelineFailed          = "pipeline_failed"
	EventTypePipelineCompleted       = "pipeline_completed"
)
