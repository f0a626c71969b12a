package e2e

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/vkore/internal/config"
	"github.com/mattjoyce/vkore/internal/depresolve"
	"github.com/mattjoyce/vkore/internal/events"
	"github.com/mattjoyce/vkore/internal/log"
	"github.com/mattjoyce/vkore/internal/module"
	"github.com/mattjoyce/vkore/internal/scheduler"
	"github.com/mattjoyce/vkore/internal/state"
	"github.com/mattjoyce/vkore/internal/storage"
	"github.com/mattjoyce/vkore/internal/supervisor"
)

type orchestrator struct {
	modulesDir string
	depsDir    string
	launches   *state.LaunchStore
	installs   *state.InstallStore
	hub        *events.Hub
	sup        *supervisor.Supervisor
	sched      *scheduler.Scheduler
	registry   *module.Registry
}

func writeModule(t *testing.T, modulesDir, name, manifest, script string) {
	t.Helper()
	dir := filepath.Join(modulesDir, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, module.ManifestFilename), []byte(manifest), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".sh"), []byte("#!/bin/sh\n"+script+"\n"), 0o755))
}

func whitelist(t *testing.T, body string) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

// newOrchestrator wires the same components system start does, over a
// temporary layout, and runs the scheduler until the test ends.
func newOrchestrator(t *testing.T, root, registryURL string, tick time.Duration) *orchestrator {
	t.Helper()
	log.Setup("error", "text")

	ctx, cancel := context.WithCancel(context.Background())

	db, err := storage.OpenSQLite(ctx, filepath.Join(root, "data", "state.db"))
	require.NoError(t, err)

	cfg := config.Defaults()
	cfg.ModulesDir = filepath.Join(root, "modules")
	cfg.DependenciesDir = filepath.Join(root, "dependencies")
	cfg.Supervisor.ShutdownGrace = time.Second

	o := &orchestrator{
		modulesDir: cfg.ModulesDir,
		depsDir:    cfg.DependenciesDir,
		launches:   state.NewLaunchStore(db),
		installs:   state.NewInstallStore(db),
		hub:        events.NewHub(512),
	}

	descs, err := module.Discover(cfg.ModulesDir, cfg.Runtimes, log.Func(log.WithComponent("registry")))
	require.NoError(t, err)
	o.registry = module.NewRegistry(descs)

	resolver := depresolve.New(
		depresolve.NewHTTPWhitelist(registryURL, 5*time.Second),
		depresolve.NewGitFetcher(),
		cfg.DependenciesDir,
		o.installs,
		log.WithComponent("depresolve"),
	)
	o.sup = supervisor.New(supervisor.OptionsFromConfig(cfg.Supervisor), o.hub, o.launches, log.WithComponent("supervisor"))
	o.sched = scheduler.New(scheduler.Options{Interval: tick, Overlap: config.OverlapAllow}, o.sup, resolver, o.hub, log.WithComponent("scheduler"))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = o.sched.Run(ctx, o.registry.All())
	}()

	t.Cleanup(func() {
		cancel()
		<-done
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = o.sup.Shutdown(shutdownCtx)
		_ = db.Close()
	})
	return o
}

func (o *orchestrator) status(name string) scheduler.ModuleStatus {
	for _, st := range o.sched.Modules() {
		if st.Name == name {
			return st
		}
	}
	return scheduler.ModuleStatus{}
}

func countLines(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	return strings.Count(string(data), "\n")
}

func TestOrchestratorStartupAndTicks(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}

	root := t.TempDir()
	modulesDir := filepath.Join(root, "modules")

	writeModule(t, modulesDir, "greeter", `module:
  name: Greeter
  author: ada
  autostart: true
`, `echo "hello from greeter"; echo started > ran.txt`)

	writeModule(t, modulesDir, "ticker", `module:
  name: Ticker
  author: ada
  interval: true
`, `echo tick >> ticks.txt`)

	writeModule(t, modulesDir, "blocked", `module:
  name: Blocked
  author: ada
  autostart: true
  interval: true
dependencies:
  ghost: "1.0"
`, `echo ran > ran.txt`)

	writeModule(t, modulesDir, "idle", `module:
  name: Idle
  author: ada
`, `echo ran > ran.txt`)

	// Invalid: no entry file.
	require.NoError(t, os.MkdirAll(filepath.Join(modulesDir, "broken"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(modulesDir, "broken", module.ManifestFilename), []byte("module:\n  name: Broken\n"), 0o644))

	o := newOrchestrator(t, root, whitelist(t, `{"alpha": "file:///nowhere/alpha"}`), 100*time.Millisecond)

	require.Equal(t, []string{"blocked", "greeter", "idle", "ticker"}, o.registry.Names())

	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(modulesDir, "greeter", "ran.txt"))
		return err == nil
	}, 5*time.Second, 20*time.Millisecond, "autostart module should run once at startup")

	require.Eventually(t, func() bool {
		return countLines(filepath.Join(modulesDir, "ticker", "ticks.txt")) >= 3
	}, 5*time.Second, 20*time.Millisecond, "interval module should run on every tick")

	blocked := o.status("blocked")
	assert.False(t, blocked.Resolved)
	assert.Contains(t, blocked.Reason, "ghost")
	assert.NoFileExists(t, filepath.Join(modulesDir, "blocked", "ran.txt"))
	assert.NoDirExists(t, filepath.Join(o.depsDir, "ghost"))

	assert.NoFileExists(t, filepath.Join(modulesDir, "idle", "ran.txt"))

	require.Eventually(t, func() bool {
		history, err := o.launches.Recent(context.Background(), "greeter", 10)
		return err == nil && len(history) == 1 && history[0].State == string(supervisor.StateExited)
	}, 5*time.Second, 20*time.Millisecond)

	history, err := o.launches.Recent(context.Background(), "greeter", 10)
	require.NoError(t, err)
	assert.Equal(t, string(supervisor.TriggerAutostart), history[0].Trigger)
	assert.Contains(t, history[0].OutputTail, "hello from greeter")

	var unresolved, launched int
	for _, ev := range o.hub.SnapshotSince(0) {
		switch ev.Type {
		case events.TypeModuleUnresolved:
			unresolved++
		case events.TypeModuleLaunched:
			launched++
		}
	}
	assert.Equal(t, 1, unresolved)
	assert.GreaterOrEqual(t, launched, 4)
}

func TestOrchestratorInstallsWhitelistedDependency(t *testing.T) {
	if _, err := exec.LookPath("git-upload-pack"); err != nil {
		t.Skip("git-upload-pack not available")
	}
	t.Setenv("GIT_TOKEN", "")
	t.Setenv("GITHUB_TOKEN", "")

	src := t.TempDir()
	repo, err := git.PlainInit(src, false)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(src, "lib.sh"), []byte("echo lib\n"), 0o644))
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("lib.sh")
	require.NoError(t, err)
	_, err = wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(t, err)

	root := t.TempDir()
	modulesDir := filepath.Join(root, "modules")
	writeModule(t, modulesDir, "needy", `module:
  name: Needy
  author: ada
  autostart: true
dependencies:
  alpha: "1.0"
`, `echo ran > ran.txt`)

	o := newOrchestrator(t, root, whitelist(t, `{"alpha": "file://`+src+`"}`), time.Hour)

	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(modulesDir, "needy", "ran.txt"))
		return err == nil
	}, 10*time.Second, 50*time.Millisecond, "module should start once its dependency is installed")

	assert.FileExists(t, filepath.Join(o.depsDir, "alpha", "lib.sh"))
	assert.True(t, o.status("needy").Resolved)

	installs, err := o.installs.List(context.Background())
	require.NoError(t, err)
	require.Len(t, installs, 1)
	assert.Equal(t, "alpha", installs[0].Dependency)
	assert.Equal(t, "needy", installs[0].Module)
}
