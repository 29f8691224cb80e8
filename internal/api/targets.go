package api

import (
	"encoding/json"
	"net/http"

	"github.com/nerrad567/targetd/internal/audit"
	"github.com/nerrad567/targetd/internal/device"
	"github.com/nerrad567/targetd/internal/relay"
	"github.com/nerrad567/targetd/internal/selection"
)

// targetsResponse is the body of GET /targets and the replayed
// targets.changed event.
type targetsResponse struct {
	RunConfig string `json:"run_config"`
	selection.DevicesAndTargets
	TargetIDs []device.TargetID `json:"target_ids"`
}

type devicesResponse struct {
	Loaded  bool            `json:"loaded"`
	Devices []device.Device `json:"devices"`
	Count   int             `json:"count"`
}

type selectionResponse struct {
	RunConfig string          `json:"run_config"`
	State     selection.State `json:"state"`
}

type selectTargetRequest struct {
	RunConfig string          `json:"run_config"`
	Target    device.TargetID `json:"target"`
}

type selectTargetsRequest struct {
	RunConfig string            `json:"run_config"`
	Targets   []device.TargetID `json:"targets"`
}

// currentTargets returns the latest reconciliation result, false until the
// first one.
func (s *Server) currentTargets() (any, bool) {
	snap := s.selector.Output().Get()
	if !snap.Ready {
		return nil, false
	}
	return targetsResponse{
		RunConfig:         snap.RunConfig,
		DevicesAndTargets: snap.DevicesAndTargets,
		TargetIDs:         snap.TargetIDs(),
	}, true
}

// targetsEvent is replayed to WebSocket clients subscribing to target changes.
func (s *Server) targetsEvent() (any, bool) {
	snap := s.selector.Output().Get()
	if !snap.Ready {
		return nil, false
	}
	return relay.NewTargetsEvent(snap), true
}

// handleGetTargets returns the devices and selected targets of the active run
// configuration.
func (s *Server) handleGetTargets(w http.ResponseWriter, _ *http.Request) {
	resp, ok := s.currentTargets()
	if !ok {
		writeNotReady(w)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleListDevices returns the aggregated device list.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	l := s.devices.Devices().Get()
	devices := l.Devices
	if devices == nil {
		devices = []device.Device{}
	}
	writeJSON(w, http.StatusOK, devicesResponse{Loaded: l.Loaded, Devices: devices, Count: len(devices)})
}

// handleGetSelection returns the stored selection intent of a run
// configuration (query parameter run_config, default the active one).
func (s *Server) handleGetSelection(w http.ResponseWriter, r *http.Request) {
	rc, ok := s.runConfigParam(w, r.URL.Query().Get("run_config"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, selectionResponse{RunConfig: rc, State: s.selector.Selection(rc)})
}

// handleSelectTarget makes one target the dropdown selection.
func (s *Server) handleSelectTarget(w http.ResponseWriter, r *http.Request) {
	var req selectTargetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	rc, ok := s.runConfigParam(w, req.RunConfig)
	if !ok {
		return
	}
	if err := s.selector.SelectTarget(rc, req.Target); err != nil {
		s.writeSelectionError(w, err)
		return
	}
	s.record(r.Context(), audit.ActionSelect, audit.EntitySelection, rc, map[string]any{
		"mode":   selection.ModeDropdown,
		"target": req.Target.String(),
	})
	writeJSON(w, http.StatusOK, selectionResponse{RunConfig: rc, State: s.selector.Selection(rc)})
}

// handleSelectTargets switches to a multi-target selection.
func (s *Server) handleSelectTargets(w http.ResponseWriter, r *http.Request) {
	var req selectTargetsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	rc, ok := s.runConfigParam(w, req.RunConfig)
	if !ok {
		return
	}
	if err := s.selector.SelectTargets(rc, req.Targets); err != nil {
		s.writeSelectionError(w, err)
		return
	}
	refs := make([]string, len(req.Targets))
	for i, id := range req.Targets {
		refs[i] = id.String()
	}
	s.record(r.Context(), audit.ActionSelect, audit.EntitySelection, rc, map[string]any{
		"mode":    selection.ModeDialog,
		"targets": refs,
	})
	writeJSON(w, http.StatusOK, selectionResponse{RunConfig: rc, State: s.selector.Selection(rc)})
}

// runConfigParam resolves an optional run configuration name to a
// registered one, writing an error response when it cannot.
func (s *Server) runConfigParam(w http.ResponseWriter, name string) (string, bool) {
	if name == "" {
		name = s.runConfigs.Active().Get()
		if name == "" {
			writeError(w, http.StatusConflict, ErrCodeNoActiveConfig, "no active run configuration")
			return "", false
		}
		return name, true
	}
	if _, ok := s.runConfigs.Get(name); !ok {
		writeError(w, http.StatusNotFound, ErrCodeConfigNotFound, "run configuration not found")
		return "", false
	}
	return name, true
}

func (s *Server) writeSelectionError(w http.ResponseWriter, err error) {
	if !writeDomainError(w, err, "selection update failed") {
		s.logger.Error("selection update failed", "error", err)
	}
}
