package store

import (
	"fmt"
	"strconv"

	"github.com/DavidSchwarz2/agentpipe/internal/models"
)

// RecoverableError is an alias for models.RecoverableError, retained so
// callers elsewhere in the module can reference store.RecoverableError.
type RecoverableError = models.RecoverableError

// NotFoundError is returned when a referenced id/name does not exist.
// Surfaced as 404 by the API layer.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s not found: %s", e.Entity, e.ID) }
func (e *NotFoundError) ErrorCode() string { return "NOT_FOUND" }
func (e *NotFoundError) Context() map[string]string {
	return map[string]string{"entity": e.Entity, "id": e.ID}
}
func (e *NotFoundError) SuggestedAction() string { return "verify the id and try again" }

// ConflictError is returned when a precondition on a lifecycle transition is
// violated (abort when not active, restart when not failed, and so on).
// Surfaced as 409 by the API layer.
type ConflictError struct {
	Entity       string
	ID           string
	CurrentState string
	Operation    string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s cannot %s while %s", e.Entity, e.ID, e.Operation, e.CurrentState)
}
func (e *ConflictError) ErrorCode() string { return "CONFLICT" }
func (e *ConflictError) Context() map[string]string {
	return map[string]string{
		"entity":        e.Entity,
		"id":            e.ID,
		"current_state": e.CurrentState,
		"operation":     e.Operation,
	}
}
func (e *ConflictError) SuggestedAction() string {
	return "reload the resource and confirm its current status before retrying"
}

// VersionConflictError signals that an optimistic-concurrency UPDATE affected
// zero rows — the row was mutated by another writer since it was loaded.
type VersionConflictError struct {
	Entity  string
	ID      string
	Version int
}

func (e *VersionConflictError) Error() string {
	return "version conflict: record was modified by another process"
}
func (e *VersionConflictError) ErrorCode() string { return "VERSION_CONFLICT" }
func (e *VersionConflictError) Context() map[string]string {
	return map[string]string{
		"entity":  e.Entity,
		"id":      e.ID,
		"version": strconv.Itoa(e.Version),
	}
}
func (e *VersionConflictError) SuggestedAction() string {
	return "re-fetch the record and retry the operation"
}
func (e *VersionConflictError) Is(target error) bool { return target == ErrVersionConflict }
