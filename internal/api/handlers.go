package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/mattjoyce/scriptsrunner/internal/dispatch"
	"github.com/mattjoyce/scriptsrunner/internal/queue"
	"github.com/mattjoyce/scriptsrunner/internal/state"
)

const maxBodyBytes = 1 << 20

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	snap := s.orch.Snapshot()
	resp := HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Running:       len(snap.Running),
		Queued:        len(snap.Queued),
		MaxConcurrent: snap.MaxConcurrent,
	}
	if err := s.orch.LastScanError(); err != nil {
		resp.Status = "degraded"
		resp.ScanError = err.Error()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListScripts(w http.ResponseWriter, r *http.Request) {
	views, err := s.orch.Scripts(r.Context())
	if err != nil {
		s.logger.Error("failed to list scripts", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list scripts")
		return
	}

	if tag := strings.TrimSpace(r.URL.Query().Get("tag")); tag != "" {
		views = filterByTag(views, tag)
	}
	if r.URL.Query().Get("favorites") == "true" {
		filtered := views[:0]
		for _, v := range views {
			if v.Record.Favorite {
				filtered = append(filtered, v)
			}
		}
		views = filtered
	}

	s.writeJSON(w, http.StatusOK, views)
}

func filterByTag(views []dispatch.ScriptView, tag string) []dispatch.ScriptView {
	out := make([]dispatch.ScriptView, 0, len(views))
	for _, v := range views {
		for _, t := range v.Record.Tags {
			if t == tag {
				out = append(out, v)
				break
			}
		}
	}
	return out
}

func (s *Server) handleGetScript(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		s.writeError(w, http.StatusBadRequest, "path query parameter is required")
		return
	}
	view, err := s.orch.Script(r.Context(), path)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.Path == "" {
		s.writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	if req.Mode == "" {
		req.Mode = state.ModeBackground
	}

	out, err := s.orch.Run(r.Context(), req.Path, req.Mode)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	status := http.StatusAccepted
	if out.Decision == queue.DecisionIgnored {
		status = http.StatusOK
	}
	s.writeJSON(w, status, out)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.handleAction(w, r, s.orch.Cancel)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.handleAction(w, r, s.orch.ForceReset)
}

func (s *Server) handleDequeue(w http.ResponseWriter, r *http.Request) {
	s.handleAction(w, r, func(path string) bool {
		return s.orch.Dequeue(path) == nil
	})
}

// handleAction runs a per-script action that reports whether it changed
// anything. A no-op is not an error; Done tells the caller which it was.
func (s *Server) handleAction(w http.ResponseWriter, r *http.Request, action func(string) bool) {
	var req PathRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.Path == "" {
		s.writeError(w, http.StatusBadRequest, "path is required")
		return
	}

	done := action(req.Path)
	s.writeJSON(w, http.StatusOK, ActionResponse{
		Path:   req.Path,
		Done:   done,
		Status: statusOf(s.orch.Snapshot(), req.Path),
	})
}

func statusOf(snap queue.Snapshot, path string) queue.Status {
	for _, r := range snap.Running {
		if r.Path == path {
			return queue.StatusRunning
		}
	}
	for _, q := range snap.Queued {
		if q.Path == path {
			return queue.StatusQueued
		}
	}
	return queue.StatusIdle
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		s.writeError(w, http.StatusBadRequest, "path query parameter is required")
		return
	}
	rec, err := s.orch.ClearHistory(r.Context(), path)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleUpdateMeta(w http.ResponseWriter, r *http.Request) {
	var req MetaRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.Path == "" {
		s.writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	rec, err := s.orch.UpdateScript(r.Context(), req.Path, req.MetaPatch)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.orch.Snapshot())
}

func (s *Server) handleRescan(w http.ResponseWriter, r *http.Request) {
	resp := RescanResponse{}
	if err := s.orch.Rescan(r.Context()); err != nil {
		resp.Error = err.Error()
	}
	views, err := s.orch.Scripts(r.Context())
	if err != nil {
		s.logger.Error("failed to list scripts after rescan", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list scripts")
		return
	}
	resp.Scripts = len(views)
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.orch.Settings())
}

func (s *Server) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	var patch state.SettingsPatch
	if !s.decodeBody(w, r, &patch) {
		return
	}
	saved, err := s.orch.SaveSettings(r.Context(), patch)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, saved)
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// writeDomainError maps orchestrator and store errors to HTTP statuses.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, dispatch.ErrUnknownScript):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, dispatch.ErrInvalidMode),
		errors.Is(err, state.ErrInvalidSettings),
		errors.Is(err, state.ErrInvalidMeta):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("request failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, ErrorResponse{Error: message})
}
