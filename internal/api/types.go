package api

import (
	"time"

	"github.com/mattjoyce/vkore/internal/supervisor"
)

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status           string `json:"status"`
	UptimeSeconds    int64  `json:"uptime_seconds"`
	ModulesLoaded    int    `json:"modules_loaded"`
	ModulesResolved  int    `json:"modules_resolved"`
	ProcessesRunning int    `json:"processes_running"`
}

// ModuleSummary describes one loaded module in GET /modules.
type ModuleSummary struct {
	Name         string   `json:"name"`
	DisplayName  string   `json:"display_name,omitempty"`
	Version      string   `json:"version,omitempty"`
	Credit       string   `json:"credit"`
	Autostart    bool     `json:"autostart"`
	Interval     bool     `json:"interval"`
	Dependencies []string `json:"dependencies"`
	Resolved     bool     `json:"resolved"`
	Reason       string   `json:"reason,omitempty"`
	Running      int      `json:"running"`
}

// ModuleListResponse is returned by GET /modules.
type ModuleListResponse struct {
	Modules []ModuleSummary `json:"modules"`
}

// LaunchRecord is one persisted launch in GET /modules/{name}.
type LaunchRecord struct {
	ID        string     `json:"id"`
	Trigger   string     `json:"trigger"`
	Attempt   int        `json:"attempt"`
	State     string     `json:"state"`
	ExitCode  *int       `json:"exit_code,omitempty"`
	StartedAt time.Time  `json:"started_at"`
	ExitedAt  *time.Time `json:"exited_at,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

// ModuleDetailResponse is returned by GET /modules/{name}.
type ModuleDetailResponse struct {
	ModuleSummary
	Dir        string         `json:"dir"`
	Entrypoint string         `json:"entrypoint"`
	Launches   []LaunchRecord `json:"launches,omitempty"`
}

// OutputResponse is returned by GET /modules/{name}/output.
type OutputResponse struct {
	Module string            `json:"module"`
	Lines  []supervisor.Line `json:"lines"`
}

// LaunchResponse is returned by POST /modules/{name}/launch.
type LaunchResponse struct {
	LaunchID string `json:"launch_id"`
	Module   string `json:"module"`
	Kind     string `json:"kind"`
	PID      int    `json:"pid,omitempty"`
	State    string `json:"state"`
}

// ProcessListResponse is returned by GET /processes.
type ProcessListResponse struct {
	Processes []supervisor.HandleInfo `json:"processes"`
}
