package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/DavidSchwarz2/agentpipe/internal/models"
)

func (s *Server) listAgents(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.reg.Current().Agents())
}

func (s *Server) createAgent(w http.ResponseWriter, r *http.Request) {
	var profile models.AgentProfile
	if err := decodeJSON(r, &profile); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.reg.CreateAgent(profile); err != nil {
		respondStoreOrRunnerError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, profile)
}

func (s *Server) updateAgent(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var profile models.AgentProfile
	if err := decodeJSON(r, &profile); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.reg.UpdateAgent(name, profile); err != nil {
		respondStoreOrRunnerError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, profile)
}

func (s *Server) deleteAgent(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.reg.DeleteAgent(name); err != nil {
		respondStoreOrRunnerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listTemplates(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.reg.Current().Templates())
}

func (s *Server) createTemplate(w http.ResponseWriter, r *http.Request) {
	var tmpl models.PipelineTemplate
	if err := decodeJSON(r, &tmpl); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.reg.CreateTemplate(tmpl); err != nil {
		respondStoreOrRunnerError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, tmpl)
}

func (s *Server) updateTemplate(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var tmpl models.PipelineTemplate
	if err := decodeJSON(r, &tmpl); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.reg.UpdateTemplate(name, tmpl); err != nil {
		respondStoreOrRunnerError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, tmpl)
}

func (s *Server) deleteTemplate(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.reg.DeleteTemplate(name); err != nil {
		respondStoreOrRunnerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
