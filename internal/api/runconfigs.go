package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/targetd/internal/audit"
	"github.com/nerrad567/targetd/internal/runconfig"
)

type runConfigsResponse struct {
	Active     string                `json:"active"`
	RunConfigs []runconfig.RunConfig `json:"run_configs"`
}

type setActiveRequest struct {
	Name string `json:"name"`
}

func (s *Server) runConfigsBody() runConfigsResponse {
	return runConfigsResponse{
		Active:     s.runConfigs.Active().Get(),
		RunConfigs: s.runConfigs.List(),
	}
}

// handleListRunConfigs returns every run configuration and the active one.
func (s *Server) handleListRunConfigs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.runConfigsBody())
}

// handleSetActiveRunConfig switches the active run configuration.
func (s *Server) handleSetActiveRunConfig(w http.ResponseWriter, r *http.Request) {
	var req setActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if err := s.runConfigs.SetActive(req.Name); err != nil {
		s.writeRunConfigError(w, err)
		return
	}
	s.logger.Info("active run configuration changed", "name", req.Name)
	s.record(r.Context(), audit.ActionActivate, audit.EntityRunConfig, req.Name, nil)
	writeJSON(w, http.StatusOK, s.runConfigsBody())
}

// handleCreateRunConfig registers a run configuration.
func (s *Server) handleCreateRunConfig(w http.ResponseWriter, r *http.Request) {
	var rc runconfig.RunConfig
	if err := json.NewDecoder(r.Body).Decode(&rc); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if err := s.runConfigs.Add(rc); err != nil {
		s.writeRunConfigError(w, err)
		return
	}
	s.logger.Info("run configuration added", "name", rc.Name)
	s.record(r.Context(), audit.ActionCreate, audit.EntityRunConfig, rc.Name, map[string]any{
		"min_api_level": rc.MinAPILevel,
		"required_abi":  rc.RequiredABI,
	})
	writeJSON(w, http.StatusCreated, rc)
}

// handleDeleteRunConfig removes a run configuration and its stored selection.
func (s *Server) handleDeleteRunConfig(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.runConfigs.Delete(name); err != nil {
		s.writeRunConfigError(w, err)
		return
	}
	s.logger.Info("run configuration deleted", "name", name)
	s.record(r.Context(), audit.ActionDelete, audit.EntityRunConfig, name, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeRunConfigError(w http.ResponseWriter, err error) {
	if !writeDomainError(w, err, "run configuration update failed") {
		s.logger.Error("run configuration update failed", "error", err)
	}
}
