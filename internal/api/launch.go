package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/targetd/internal/audit"
	"github.com/nerrad567/targetd/internal/device"
	"github.com/nerrad567/targetd/internal/target"
)

// maxParallelLaunches bounds concurrent boot and instantiate calls per request.
const maxParallelLaunches = 4

// launchRequest optionally names the targets to launch. Without targets the
// current selection of the active run configuration is launched.
type launchRequest struct {
	Targets []device.TargetID `json:"targets,omitempty"`
}

type launchResult struct {
	Target   device.TargetID `json:"target"`
	HandleID string          `json:"handle_id,omitempty"`
	Error    string          `json:"error,omitempty"`
}

type launchResponse struct {
	Results  []launchResult `json:"results"`
	Launched int            `json:"launched"`
	Failed   int            `json:"failed"`
}

// handleLaunch turns targets into launchable handles, booting or
// instantiating virtual devices as needed. Each target succeeds or fails on
// its own; failures are reported, not retried.
func (s *Server) handleLaunch(w http.ResponseWriter, r *http.Request) {
	var req launchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	var (
		targets    []device.Target
		unresolved []device.TargetID
	)
	if len(req.Targets) > 0 {
		devices := s.devices.Devices().Get().Devices
		for _, ref := range req.Targets {
			if err := ref.Validate(); err != nil {
				writeDomainError(w, err, "invalid target")
				return
			}
			t, ok := target.Resolve(ref, devices)
			if !ok {
				unresolved = append(unresolved, ref)
				continue
			}
			targets = append(targets, t)
		}
	} else {
		current, ok := s.selector.Current()
		if !ok {
			writeNotReady(w)
			return
		}
		targets = current.SelectedTargets
	}

	if len(targets) == 0 && len(unresolved) == 0 {
		writeError(w, http.StatusConflict, ErrCodeNoTargets, "no targets selected")
		return
	}

	resp := launchResponse{Results: make([]launchResult, len(targets), len(targets)+len(unresolved))}
	g := new(errgroup.Group)
	g.SetLimit(maxParallelLaunches)
	for i, t := range targets {
		g.Go(func() error {
			resp.Results[i] = s.launchOne(r.Context(), t)
			return nil
		})
	}
	g.Wait() //nolint:errcheck // launches report failures in their results

	for _, ref := range unresolved {
		s.metrics.IncLaunchRequest("unresolved")
		resp.Results = append(resp.Results, launchResult{Target: ref, Error: "target not found"})
	}
	for _, res := range resp.Results {
		details := map[string]any{}
		if res.Error != "" {
			resp.Failed++
			details["error"] = res.Error
		} else {
			resp.Launched++
			details["handle_id"] = res.HandleID
		}
		s.record(r.Context(), audit.ActionLaunch, audit.EntityTarget, res.Target.String(), details)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) launchOne(ctx context.Context, t device.Target) launchResult {
	ctx, cancel := context.WithTimeout(ctx, s.launchTimeout)
	defer cancel()

	res := launchResult{Target: t.ID()}
	h, err := s.devices.LaunchableHandle(ctx, t)
	if err != nil {
		s.metrics.IncLaunchRequest("failed")
		s.logger.Warn("launch failed", "target", res.Target.String(), "error", err)
		res.Error = err.Error()
		return res
	}
	s.metrics.IncLaunchRequest("ok")
	s.logger.Info("target launched", "target", res.Target.String(), "handle", h.ID())
	res.HandleID = h.ID()
	return res
}
