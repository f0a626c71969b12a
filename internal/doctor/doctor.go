// Package doctor validates vkore configuration against the discovered modules.
package doctor

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mattjoyce/vkore/internal/config"
	"github.com/mattjoyce/vkore/internal/depresolve"
	"github.com/mattjoyce/vkore/internal/module"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates configuration against discovered modules.
type Doctor struct {
	cfg      *config.Config
	registry *module.Registry

	lookPath func(string) (string, error)
}

// New creates a Doctor from a loaded config and module registry.
func New(cfg *config.Config, registry *module.Registry) *Doctor {
	if registry == nil {
		registry = module.NewRegistry(nil)
	}
	return &Doctor{cfg: cfg, registry: registry, lookPath: exec.LookPath}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateDirectories(r)
	d.validateRuntimes(r)
	d.validateDependencies(r)
	d.validateAPIConfig(r)
	d.warnIdleModules(r)
	d.warnRestartPolicy(r)
	d.warnSuspiciousTick(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateDirectories checks that modules_dir exists and the state and
// dependency directories can be created.
func (d *Doctor) validateDirectories(r *Result) {
	if info, err := os.Stat(d.cfg.ModulesDir); err != nil {
		d.addError(r, "paths", "modules_dir", fmt.Sprintf("modules_dir %s does not exist", d.cfg.ModulesDir))
	} else if !info.IsDir() {
		d.addError(r, "paths", "modules_dir", fmt.Sprintf("modules_dir %s is not a directory", d.cfg.ModulesDir))
	}

	if info, err := os.Stat(d.cfg.DependenciesDir); err == nil && !info.IsDir() {
		d.addError(r, "paths", "dependencies_dir", fmt.Sprintf("dependencies_dir %s is not a directory", d.cfg.DependenciesDir))
	}

	stateDir := filepath.Dir(d.cfg.State.Path)
	if info, err := os.Stat(stateDir); err == nil && !info.IsDir() {
		d.addError(r, "paths", "state.path", fmt.Sprintf("state directory %s is not a directory", stateDir))
	}
}

// validateRuntimes warns when a runtime used by a module has no interpreter
// on PATH. Runtimes no module uses are not checked.
func (d *Doctor) validateRuntimes(r *Result) {
	used := make(map[string]struct{})
	for _, m := range d.registry.All() {
		if len(m.Runtime) > 0 {
			used[m.Runtime[0]] = struct{}{}
		}
	}

	interpreters := make([]string, 0, len(used))
	for bin := range used {
		interpreters = append(interpreters, bin)
	}
	sort.Strings(interpreters)

	for _, bin := range interpreters {
		if _, err := d.lookPath(bin); err != nil {
			d.addError(r, "runtimes", "runtimes",
				fmt.Sprintf("interpreter %q not found on PATH", bin))
		}
	}
}

// validateDependencies checks dependency names and that a registry is
// configured when any module declares one.
func (d *Doctor) validateDependencies(r *Result) {
	var declaring []string
	for _, m := range d.registry.All() {
		if len(m.Dependencies) == 0 {
			continue
		}
		declaring = append(declaring, m.Name)
		for _, dep := range m.Dependencies {
			if err := depresolve.ValidateName(dep.Name); err != nil {
				d.addError(r, "dependencies", fmt.Sprintf("modules.%s", m.Name), err.Error())
			}
		}
	}

	if len(declaring) > 0 && d.cfg.Registry.URL == "" {
		d.addError(r, "dependencies", "registry.url",
			fmt.Sprintf("registry.url is unset but %s declare dependencies", strings.Join(declaring, ", ")))
	}
}

// validateAPIConfig checks API server settings.
func (d *Doctor) validateAPIConfig(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	host, _, err := net.SplitHostPort(d.cfg.API.Listen)
	if err != nil {
		d.addError(r, "api", "api.listen", fmt.Sprintf("invalid listen address %q: %v", d.cfg.API.Listen, err))
		return
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		d.addWarning(r, "api", "api.listen", "API listens on all interfaces")
	}
	if len(d.cfg.API.APIKey) < 16 {
		d.addWarning(r, "api", "api.api_key", "api_key is shorter than 16 characters")
	}
}

// warnIdleModules warns about modules that are discovered but never started
// automatically.
func (d *Doctor) warnIdleModules(r *Result) {
	for _, m := range d.registry.All() {
		if !m.Autostart && !m.Interval {
			d.addWarning(r, "modules", fmt.Sprintf("modules.%s", m.Name),
				"neither autostart nor interval is set; module only runs when launched manually")
		}
	}
	if d.registry.Len() == 0 {
		d.addWarning(r, "modules", "modules_dir", "no modules discovered")
	}
}

func (d *Doctor) warnRestartPolicy(r *Result) {
	sup := d.cfg.Supervisor
	if sup.Restart != config.RestartNone && sup.MaxRestarts == 0 {
		d.addWarning(r, "supervisor", "supervisor.max_restarts",
			fmt.Sprintf("restart policy %q has no effect with max_restarts 0; failed modules are never restarted", sup.Restart))
	}
}

// warnSuspiciousTick warns about tick periods that launch interval modules
// faster than they are likely to finish.
func (d *Doctor) warnSuspiciousTick(r *Result) {
	var interval int
	for _, m := range d.registry.All() {
		if m.Interval {
			interval++
		}
	}
	if interval == 0 {
		return
	}
	if d.cfg.Service.TickInterval < 5 && d.cfg.Supervisor.Overlap == config.OverlapAllow {
		d.addWarning(r, "schedule", "service.tick_interval",
			fmt.Sprintf("tick_interval %ds with overlap %q may pile up instances", d.cfg.Service.TickInterval, config.OverlapAllow))
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid {
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	} else {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		writeIssue(&b, "ERROR", e)
	}
	for _, w := range r.Warnings {
		writeIssue(&b, "WARN ", w)
	}

	return b.String()
}

func writeIssue(b *strings.Builder, label string, issue Issue) {
	if issue.Field != "" {
		fmt.Fprintf(b, "  %s [%s] %s: %s\n", label, issue.Category, issue.Field, issue.Message)
		return
	}
	fmt.Fprintf(b, "  %s [%s] %s\n", label, issue.Category, issue.Message)
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
