package web

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/mdde/genesisweb/internal/registry"
	"github.com/mdde/genesisweb/internal/runner"
)

// maxInputBody bounds the /input request body.
const maxInputBody = 16 << 10

// RunResponse is the JSON response of the run control endpoints.
type RunResponse struct {
	Success bool            `json:"success"`
	Run     runner.Snapshot `json:"run"`
}

// RunListResponse is the JSON response from GET /api/runs.
type RunListResponse struct {
	Runs []runner.Snapshot `json:"runs"`
}

// InputRequest is the JSON request body for POST /api/runs/{name}/input.
type InputRequest struct {
	Value *string `json:"value"`
}

// handleList reports every configuration's run state.
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	names, err := h.configs.Names()
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	resp := RunListResponse{Runs: make([]runner.Snapshot, 0, len(names))}
	for _, name := range names {
		snap, err := h.runs.Status(name)
		if err != nil {
			// Deleted between listing and lookup.
			if errors.Is(err, registry.ErrUnknownSession) {
				continue
			}
			writeDomainError(w, r, err)
			return
		}
		resp.Runs = append(resp.Runs, snap)
	}
	writeJSON(w, resp)
}

// handleStatus reports one run.
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	name, ok := h.pathConfig(w, r, false)
	if !ok {
		return
	}
	snap, err := h.runs.Status(name)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, RunResponse{Success: true, Run: snap})
}

// handleStart starts a run.
func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	name, ok := h.pathConfig(w, r, false)
	if !ok {
		return
	}
	snap, err := h.runs.Start(name)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, RunResponse{Success: true, Run: snap})
}

// handleStop stops a run. Stopping a session without a process succeeds.
func (h *Handler) handleStop(w http.ResponseWriter, r *http.Request) {
	name, ok := h.pathConfig(w, r, false)
	if !ok {
		return
	}
	snap, err := h.runs.Stop(name)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, RunResponse{Success: true, Run: snap})
}

// handleInput answers the pending prompt of a run.
func (h *Handler) handleInput(w http.ResponseWriter, r *http.Request) {
	name, ok := h.pathConfig(w, r, false)
	if !ok {
		return
	}

	var req InputRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxInputBody)).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Value == nil {
		writeError(w, "invalid or missing input value", http.StatusBadRequest)
		return
	}
	value, err := validateAnswer(*req.Value)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	snap, err := h.runs.SendInput(name, value)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	slog.Debug("answer delivered", "session", name)
	writeJSON(w, RunResponse{Success: true, Run: snap})
}
