// Package api exposes the thin HTTP surface over the core engine: chi
// handlers that translate requests into internal/runner, internal/registry,
// and internal/broker calls. No business logic lives here.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/DavidSchwarz2/agentpipe/internal/registry"
	"github.com/DavidSchwarz2/agentpipe/internal/runner"
	"github.com/DavidSchwarz2/agentpipe/internal/store"
)

// errorResponse is the JSON body written for any non-2xx response.
type errorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code,omitempty"`
	Context map[string]string `json:"context,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("api: failed to encode response", "error", err.Error())
	}
}

func respondError(w http.ResponseWriter, status int, err error) {
	resp := errorResponse{Error: err.Error()}
	var rec interface {
		ErrorCode() string
		Context() map[string]string
	}
	if errors.As(err, &rec) {
		resp.Code = rec.ErrorCode()
		resp.Context = rec.Context()
	}
	respondJSON(w, status, resp)
}

// respondStoreOrRunnerError maps the typed errors produced by
// internal/store and internal/runner to HTTP status codes: NotFoundError
// -> 404, ConflictError/VersionConflictError/registry.ConflictError -> 409,
// registry.ValidationError/runner.ErrAmbiguousTemplate -> 422, anything
// else -> 500.
func respondStoreOrRunnerError(w http.ResponseWriter, err error) {
	var nf *store.NotFoundError
	if errors.As(err, &nf) {
		respondError(w, http.StatusNotFound, err)
		return
	}
	var conflict *store.ConflictError
	if errors.As(err, &conflict) {
		respondError(w, http.StatusConflict, err)
		return
	}
	var vc *store.VersionConflictError
	if errors.As(err, &vc) {
		respondError(w, http.StatusConflict, err)
		return
	}
	var regConflict *registry.ConflictError
	if errors.As(err, &regConflict) {
		respondError(w, http.StatusConflict, err)
		return
	}
	var regInvalid *registry.ValidationError
	if errors.As(err, &regInvalid) {
		respondError(w, http.StatusUnprocessableEntity, err)
		return
	}
	if errors.Is(err, runner.ErrAmbiguousTemplate) {
		respondError(w, http.StatusUnprocessableEntity, err)
		return
	}
	slog.Error("api: unhandled error", "error", err.Error())
	respondError(w, http.StatusInternalServerError, err)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
