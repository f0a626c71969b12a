package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/vkore/internal/module"
	"github.com/mattjoyce/vkore/internal/scheduler"
	"github.com/mattjoyce/vkore/internal/supervisor"
)

const recentLaunches = 20

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	var resolved int
	for _, m := range s.deps.Catalog.Modules() {
		if m.Resolved {
			resolved++
		}
	}
	var running int
	for _, p := range s.deps.Processes.Snapshot() {
		if p.State == supervisor.StateRunning {
			running++
		}
	}

	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:           "ok",
		UptimeSeconds:    int64(time.Since(s.startedAt).Seconds()),
		ModulesLoaded:    s.deps.Registry.Len(),
		ModulesResolved:  resolved,
		ProcessesRunning: running,
	})
}

// handleListModules handles GET /modules.
func (s *Server) handleListModules(w http.ResponseWriter, r *http.Request) {
	statuses := s.deps.Catalog.Modules()
	resp := ModuleListResponse{Modules: make([]ModuleSummary, 0, len(statuses))}
	for _, st := range statuses {
		d, ok := s.deps.Registry.Get(st.Name)
		if !ok {
			continue
		}
		resp.Modules = append(resp.Modules, s.summarize(d, st))
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleGetModule handles GET /modules/{module}.
func (s *Server) handleGetModule(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "module")
	d, ok := s.deps.Registry.Get(name)
	if !ok {
		s.writeError(w, http.StatusNotFound, "module not found")
		return
	}

	resp := ModuleDetailResponse{
		ModuleSummary: s.summarize(d, s.status(name)),
		Dir:           d.Dir,
		Entrypoint:    d.Entrypoint,
	}

	if s.deps.History != nil {
		launches, err := s.deps.History.Recent(r.Context(), name, recentLaunches)
		if err != nil {
			s.logger.Error("failed to read launch history", "module", name, "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to read launch history")
			return
		}
		for _, l := range launches {
			resp.Launches = append(resp.Launches, LaunchRecord{
				ID:        l.ID,
				Trigger:   l.Trigger,
				Attempt:   l.Attempt,
				State:     l.State,
				ExitCode:  l.ExitCode,
				StartedAt: l.StartedAt,
				ExitedAt:  l.ExitedAt,
				LastError: l.LastError,
			})
		}
	}

	respondJSON(w, http.StatusOK, resp)
}

// handleModuleOutput handles GET /modules/{module}/output. Optional query
// parameters: launch_id filters to one instance, tail limits the line count.
func (s *Server) handleModuleOutput(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "module")
	if _, ok := s.deps.Registry.Get(name); !ok {
		s.writeError(w, http.StatusNotFound, "module not found")
		return
	}

	lines := s.deps.Processes.Output(name)
	if launchID := r.URL.Query().Get("launch_id"); launchID != "" {
		filtered := lines[:0:0]
		for _, l := range lines {
			if l.LaunchID == launchID {
				filtered = append(filtered, l)
			}
		}
		lines = filtered
	}
	if v := r.URL.Query().Get("tail"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "tail must be a non-negative integer")
			return
		}
		if n < len(lines) {
			lines = lines[len(lines)-n:]
		}
	}
	if lines == nil {
		lines = []supervisor.Line{}
	}

	respondJSON(w, http.StatusOK, OutputResponse{Module: name, Lines: lines})
}

// handleLaunch handles POST /modules/{module}/launch.
func (s *Server) handleLaunch(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "module")

	h, err := s.deps.Catalog.Trigger(r.Context(), name)
	if err != nil {
		var launchErr *supervisor.LaunchError
		switch {
		case errors.Is(err, scheduler.ErrUnknownModule):
			s.writeError(w, http.StatusNotFound, "module not found")
		case errors.Is(err, scheduler.ErrUnresolved):
			s.writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, supervisor.ErrShuttingDown):
			s.writeError(w, http.StatusServiceUnavailable, "shutting down")
		case errors.As(err, &launchErr):
			s.writeError(w, http.StatusInternalServerError, err.Error())
		default:
			s.logger.Error("manual launch failed", "module", name, "error", err)
			s.writeError(w, http.StatusInternalServerError, "launch failed")
		}
		return
	}

	s.logger.Info("module launched via API", "module", name, "launch_id", h.ID)
	info := h.Info()
	respondJSON(w, http.StatusAccepted, LaunchResponse{
		LaunchID: info.ID,
		Module:   info.Module,
		Kind:     string(info.Kind),
		PID:      info.PID,
		State:    string(info.State),
	})
}

// handleProcesses handles GET /processes.
func (s *Server) handleProcesses(w http.ResponseWriter, r *http.Request) {
	procs := s.deps.Processes.Snapshot()
	if procs == nil {
		procs = []supervisor.HandleInfo{}
	}
	respondJSON(w, http.StatusOK, ProcessListResponse{Processes: procs})
}

// handleOpenAPI handles GET /openapi.json.
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, buildOpenAPIDoc(s.deps.Catalog.Modules()))
}

func (s *Server) status(name string) scheduler.ModuleStatus {
	for _, st := range s.deps.Catalog.Modules() {
		if st.Name == name {
			return st
		}
	}
	return scheduler.ModuleStatus{Name: name}
}

func (s *Server) summarize(d *module.Descriptor, st scheduler.ModuleStatus) ModuleSummary {
	return ModuleSummary{
		Name:         d.Name,
		DisplayName:  d.DisplayName,
		Version:      d.Version,
		Credit:       d.Credit(),
		Autostart:    d.Autostart,
		Interval:     d.Interval,
		Dependencies: d.DependencyNames(),
		Resolved:     st.Resolved,
		Reason:       st.Reason,
		Running:      s.deps.Processes.Running(d.Name),
	}
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
