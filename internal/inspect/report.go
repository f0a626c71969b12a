// Package inspect renders a module's installation and launch history from
// the state database.
package inspect

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattjoyce/vkore/internal/module"
	"github.com/mattjoyce/vkore/internal/state"
)

const defaultLaunchLimit = 10

// Report is the structured JSON representation of a module report.
type Report struct {
	Module       string       `json:"module"`
	DisplayName  string       `json:"display_name"`
	Version      string       `json:"version"`
	Credit       string       `json:"credit"`
	Autostart    bool         `json:"autostart"`
	Interval     bool         `json:"interval"`
	Command      []string     `json:"command"`
	Dependencies []Dependency `json:"dependencies"`
	Launches     []Launch     `json:"launches"`
}

// Dependency is one declared dependency and its install state.
type Dependency struct {
	Name        string     `json:"name"`
	Version     string     `json:"version,omitempty"`
	Installed   bool       `json:"installed"`
	Path        string     `json:"path"`
	Source      string     `json:"source,omitempty"`
	InstalledBy string     `json:"installed_by,omitempty"`
	InstalledAt *time.Time `json:"installed_at,omitempty"`
}

// Launch is one entry in the module's launch history, newest first.
type Launch struct {
	ID         string     `json:"id"`
	Trigger    string     `json:"trigger"`
	Attempt    int        `json:"attempt"`
	State      string     `json:"state"`
	ExitCode   *int       `json:"exit_code,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	ExitedAt   *time.Time `json:"exited_at,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
	OutputTail string     `json:"output_tail,omitempty"`
}

// Options tune report gathering.
type Options struct {
	DependenciesDir string
	Limit           int
}

// BuildReport renders a terminal-friendly report for a module.
func BuildReport(ctx context.Context, db *sql.DB, d *module.Descriptor, opts Options) (string, error) {
	report, err := gatherReportData(ctx, db, d, opts)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Module Report\n")
	fmt.Fprintf(&out, "Module      : %s\n", report.Module)
	fmt.Fprintf(&out, "Name        : %s\n", renderUnset(report.DisplayName, "<unnamed>"))
	fmt.Fprintf(&out, "Version     : %s\n", renderUnset(report.Version, "<none>"))
	fmt.Fprintf(&out, "Credit      : %s\n", report.Credit)
	fmt.Fprintf(&out, "Autostart   : %t\n", report.Autostart)
	fmt.Fprintf(&out, "Interval    : %t\n", report.Interval)
	fmt.Fprintf(&out, "Command     : %s\n", strings.Join(report.Command, " "))
	fmt.Fprintf(&out, "\n")

	if len(report.Dependencies) == 0 {
		fmt.Fprintf(&out, "Dependencies: <none>\n")
	} else {
		fmt.Fprintf(&out, "Dependencies:\n")
		for _, dep := range report.Dependencies {
			status := "missing"
			if dep.Installed {
				status = "installed"
			}
			fmt.Fprintf(&out, "  - %s (%s)\n", dep.Name, status)
			if dep.Source != "" {
				fmt.Fprintf(&out, "      source : %s\n", dep.Source)
			}
			fmt.Fprintf(&out, "      path   : %s\n", dep.Path)
		}
	}
	fmt.Fprintf(&out, "\n")

	if len(report.Launches) == 0 {
		fmt.Fprintf(&out, "Launches: <none>\n")
		return out.String(), nil
	}
	fmt.Fprintf(&out, "Launches (newest first):\n")
	for _, l := range report.Launches {
		fmt.Fprintf(&out, "[%s] %s via %s (attempt %d)\n", l.StartedAt.Format(time.RFC3339), l.ID, l.Trigger, l.Attempt)
		fmt.Fprintf(&out, "    state      : %s\n", l.State)
		if l.ExitCode != nil {
			fmt.Fprintf(&out, "    exit_code  : %d\n", *l.ExitCode)
		}
		if l.LastError != "" {
			fmt.Fprintf(&out, "    error      : %s\n", l.LastError)
		}
		if tail := strings.TrimSpace(l.OutputTail); tail != "" {
			fmt.Fprintf(&out, "    output     :\n")
			for _, line := range strings.Split(tail, "\n") {
				fmt.Fprintf(&out, "      %s\n", line)
			}
		}
	}

	return strings.TrimRight(out.String(), "\n") + "\n", nil
}

// BuildJSONReport returns the machine-readable JSON report.
func BuildJSONReport(ctx context.Context, db *sql.DB, d *module.Descriptor, opts Options) (string, error) {
	report, err := gatherReportData(ctx, db, d, opts)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

func gatherReportData(ctx context.Context, db *sql.DB, d *module.Descriptor, opts Options) (*Report, error) {
	if d == nil {
		return nil, fmt.Errorf("module is required")
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultLaunchLimit
	}

	report := &Report{
		Module:       d.Name,
		DisplayName:  d.DisplayName,
		Version:      d.Version,
		Credit:       d.Credit(),
		Autostart:    d.Autostart,
		Interval:     d.Interval,
		Command:      d.Command(),
		Dependencies: make([]Dependency, 0, len(d.Dependencies)),
		Launches:     make([]Launch, 0),
	}

	installs, err := state.NewInstallStore(db).List(ctx)
	if err != nil {
		return nil, fmt.Errorf("load dependency installs: %w", err)
	}
	byName := make(map[string]state.Install, len(installs))
	for _, in := range installs {
		byName[in.Dependency] = in
	}

	for _, dep := range d.Dependencies {
		entry := Dependency{
			Name:      dep.Name,
			Version:   dep.Version,
			Path:      filepath.Join(opts.DependenciesDir, dep.Name),
			Installed: isDir(filepath.Join(opts.DependenciesDir, dep.Name)),
		}
		if in, ok := byName[dep.Name]; ok {
			at := in.InstalledAt
			entry.Source = in.Source
			entry.InstalledBy = in.Module
			entry.InstalledAt = &at
		}
		report.Dependencies = append(report.Dependencies, entry)
	}

	launches, err := state.NewLaunchStore(db).Recent(ctx, d.Name, limit)
	if err != nil {
		return nil, fmt.Errorf("load launch history: %w", err)
	}
	for _, l := range launches {
		report.Launches = append(report.Launches, Launch{
			ID:         l.ID,
			Trigger:    l.Trigger,
			Attempt:    l.Attempt,
			State:      l.State,
			ExitCode:   l.ExitCode,
			StartedAt:  l.StartedAt,
			ExitedAt:   l.ExitedAt,
			LastError:  l.LastError,
			OutputTail: l.OutputTail,
		})
	}

	return report, nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func renderUnset(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
