package supervisor

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/vkore/internal/config"
	"github.com/mattjoyce/vkore/internal/events"
	"github.com/mattjoyce/vkore/internal/module"
	"github.com/mattjoyce/vkore/internal/state"
)

type memRecorder struct {
	mu       sync.Mutex
	launches []state.Launch
	exits    map[string]state.LaunchExit
}

func newMemRecorder() *memRecorder {
	return &memRecorder{exits: make(map[string]state.LaunchExit)}
}

func (m *memRecorder) RecordLaunch(_ context.Context, l state.Launch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.launches = append(m.launches, l)
	return nil
}

func (m *memRecorder) RecordExit(_ context.Context, id string, exit state.LaunchExit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exits[id] = exit
	return nil
}

func (m *memRecorder) launchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.launches)
}

func (m *memRecorder) exitCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.exits)
}

func (m *memRecorder) exit(id string) (state.LaunchExit, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.exits[id]
	return e, ok
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// scriptModule writes <dir>/<name>/<name>.sh and returns its descriptor.
func scriptModule(t *testing.T, name, body string) *module.Descriptor {
	t.Helper()
	dir := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	entry := filepath.Join(dir, name+".sh")
	require.NoError(t, os.WriteFile(entry, []byte(body), 0o755))
	return &module.Descriptor{
		Name:       name,
		Dir:        dir,
		Entrypoint: entry,
		Runtime:    []string{"/bin/sh"},
	}
}

func newTestSupervisor(t *testing.T, opts Options) (*Supervisor, *events.Hub, *memRecorder) {
	t.Helper()
	if opts.ShutdownGrace == 0 {
		opts.ShutdownGrace = 500 * time.Millisecond
	}
	hub := events.NewHub(1000)
	rec := newMemRecorder()
	s := New(opts, hub, rec, testLogger())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s, hub, rec
}

func waitDone(t *testing.T, h *Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("module %s did not finish", h.Module)
	}
}

func TestLaunchCapturesOutputAndExit(t *testing.T) {
	s, hub, rec := newTestSupervisor(t, Options{})
	d := scriptModule(t, "hello", "echo hello\necho oops >&2\npwd\n")

	h, err := s.Launch(context.Background(), d, TriggerAutostart)
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Equal(t, KindProcess, h.Kind)
	assert.NotZero(t, h.PID)

	waitDone(t, h)
	assert.Equal(t, StateExited, h.State())
	assert.Equal(t, 0, h.ExitCode())
	assert.Equal(t, 0, s.Running("hello"))

	var texts []string
	for _, l := range s.Output("hello") {
		texts = append(texts, l.Stream+":"+l.Text)
	}
	assert.Contains(t, texts, "stdout:hello")
	assert.Contains(t, texts, "stderr:oops")
	resolvedDir, _ := filepath.EvalSymlinks(d.Dir)
	assert.True(t, containsAny(texts, "stdout:"+d.Dir, "stdout:"+resolvedDir), "runs in the module directory: %v", texts)

	exit, ok := rec.exit(h.ID)
	require.True(t, ok)
	assert.Equal(t, string(StateExited), exit.State)
	assert.Contains(t, exit.OutputTail, "hello")

	types := map[string]int{}
	for _, ev := range hub.SnapshotSince(0) {
		types[ev.Type]++
	}
	assert.Equal(t, 1, types[events.TypeModuleLaunched])
	assert.Equal(t, 1, types[events.TypeModuleExited])
	assert.GreaterOrEqual(t, types[events.TypeModuleOutput], 3)
}

func containsAny(list []string, candidates ...string) bool {
	for _, l := range list {
		for _, c := range candidates {
			if l == c {
				return true
			}
		}
	}
	return false
}

func TestLaunchRecordsNonZeroExit(t *testing.T) {
	s, _, rec := newTestSupervisor(t, Options{})
	d := scriptModule(t, "bad", "exit 3\n")

	h, err := s.Launch(context.Background(), d, TriggerInterval)
	require.NoError(t, err)
	waitDone(t, h)

	assert.Equal(t, StateFailed, h.State())
	assert.Equal(t, 3, h.ExitCode())
	require.Error(t, h.Err())

	exit, ok := rec.exit(h.ID)
	require.True(t, ok)
	assert.Equal(t, 3, exit.ExitCode)
}

func TestLaunchDoesNotBlockOnRunningModule(t *testing.T) {
	s, _, _ := newTestSupervisor(t, Options{})
	d := scriptModule(t, "slow", "exec sleep 30\n")

	start := time.Now()
	h, err := s.Launch(context.Background(), d, TriggerInterval)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, StateRunning, h.State())
	assert.Equal(t, 1, s.Running("slow"))
}

func TestConcurrentInstancesOfSameModule(t *testing.T) {
	s, _, _ := newTestSupervisor(t, Options{})
	d := scriptModule(t, "overlap", "exec sleep 30\n")

	_, err := s.Launch(context.Background(), d, TriggerInterval)
	require.NoError(t, err)
	_, err = s.Launch(context.Background(), d, TriggerInterval)
	require.NoError(t, err)

	assert.Equal(t, 2, s.Running("overlap"))
	assert.Len(t, s.Snapshot(), 2)
}

func TestLaunchSpawnFailureIsReported(t *testing.T) {
	s, hub, rec := newTestSupervisor(t, Options{})
	d := scriptModule(t, "broken", "echo never\n")
	d.Runtime = []string{filepath.Join(t.TempDir(), "no-such-interpreter")}

	h, err := s.Launch(context.Background(), d, TriggerAutostart)
	require.Error(t, err)
	assert.Nil(t, h)

	var lerr *LaunchError
	require.True(t, errors.As(err, &lerr))
	assert.Equal(t, "broken", lerr.Module)
	assert.Equal(t, 0, s.Running("broken"))
	assert.Equal(t, 1, rec.launchCount())
	assert.Equal(t, 1, rec.exitCount())

	var exited int
	for _, ev := range hub.SnapshotSince(0) {
		if ev.Type == events.TypeModuleExited {
			exited++
		}
	}
	assert.Equal(t, 1, exited)
}

func TestRestartPolicies(t *testing.T) {
	tests := []struct {
		name         string
		restart      string
		maxRestarts  int
		script       string
		wantLaunches int
	}{
		{name: "none", restart: config.RestartNone, maxRestarts: 3, script: "exit 1\n", wantLaunches: 1},
		{name: "on-failure bounded", restart: config.RestartOnFailure, maxRestarts: 2, script: "exit 1\n", wantLaunches: 3},
		{name: "on-failure ignores success", restart: config.RestartOnFailure, maxRestarts: 2, script: "exit 0\n", wantLaunches: 1},
		{name: "always", restart: config.RestartAlways, maxRestarts: 1, script: "exit 0\n", wantLaunches: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, rec := newTestSupervisor(t, Options{
				Restart:      tt.restart,
				MaxRestarts:  tt.maxRestarts,
				RestartDelay: 10 * time.Millisecond,
			})
			d := scriptModule(t, "flaky", tt.script)

			_, err := s.Launch(context.Background(), d, TriggerAutostart)
			require.NoError(t, err)

			require.Eventually(t, func() bool {
				return rec.exitCount() == tt.wantLaunches && s.Running("flaky") == 0
			}, 5*time.Second, 10*time.Millisecond)

			// No further restarts beyond the bound.
			time.Sleep(100 * time.Millisecond)
			assert.Equal(t, tt.wantLaunches, rec.launchCount())
		})
	}
}

func TestCallableRunsInProcess(t *testing.T) {
	s, _, rec := newTestSupervisor(t, Options{})
	d := &module.Descriptor{Name: "inproc"}

	ran := make(chan struct{})
	s.RegisterCallable("inproc", func(ctx context.Context, logger *slog.Logger) error {
		logger.Info("hello from callable")
		close(ran)
		return nil
	})

	h, err := s.Launch(context.Background(), d, TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, KindCallable, h.Kind)
	assert.Zero(t, h.PID)

	<-ran
	waitDone(t, h)
	assert.Equal(t, StateExited, h.State())
	assert.Equal(t, 1, rec.exitCount())
}

func TestCallableFailureAndPanic(t *testing.T) {
	s, _, _ := newTestSupervisor(t, Options{})

	s.RegisterCallable("erring", func(context.Context, *slog.Logger) error {
		return errors.New("nope")
	})
	s.RegisterCallable("panicky", func(context.Context, *slog.Logger) error {
		panic("boom")
	})

	h1, err := s.Launch(context.Background(), &module.Descriptor{Name: "erring"}, TriggerManual)
	require.NoError(t, err)
	h2, err := s.Launch(context.Background(), &module.Descriptor{Name: "panicky"}, TriggerManual)
	require.NoError(t, err)

	waitDone(t, h1)
	waitDone(t, h2)
	assert.Equal(t, StateFailed, h1.State())
	assert.Equal(t, StateFailed, h2.State())
	assert.Contains(t, h2.Err().Error(), "panic: boom")
}

func TestShutdownTerminatesRunningModules(t *testing.T) {
	s, _, _ := newTestSupervisor(t, Options{ShutdownGrace: 300 * time.Millisecond})

	polite := scriptModule(t, "polite", "exec sleep 30\n")
	stubborn := scriptModule(t, "stubborn", "trap '' TERM\nwhile true; do sleep 0.05; done\n")

	blocked := make(chan struct{})
	s.RegisterCallable("waiter", func(ctx context.Context, _ *slog.Logger) error {
		close(blocked)
		<-ctx.Done()
		return ctx.Err()
	})

	hp, err := s.Launch(context.Background(), polite, TriggerAutostart)
	require.NoError(t, err)
	hs, err := s.Launch(context.Background(), stubborn, TriggerAutostart)
	require.NoError(t, err)
	hw, err := s.Launch(context.Background(), &module.Descriptor{Name: "waiter"}, TriggerAutostart)
	require.NoError(t, err)
	<-blocked

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	start := time.Now()
	require.NoError(t, s.Shutdown(ctx))
	assert.Less(t, time.Since(start), 4*time.Second)

	for _, h := range []*Handle{hp, hs, hw} {
		waitDone(t, h)
		assert.NotEqual(t, StateRunning, h.State())
	}

	_, err = s.Launch(context.Background(), polite, TriggerManual)
	require.ErrorIs(t, err, ErrShuttingDown)
}

func TestSnapshotKeepsLastFinished(t *testing.T) {
	s, _, _ := newTestSupervisor(t, Options{})
	d := scriptModule(t, "once", "true\n")

	h, err := s.Launch(context.Background(), d, TriggerAutostart)
	require.NoError(t, err)
	waitDone(t, h)

	snap := s.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, h.ID, snap[0].ID)
	assert.Equal(t, StateExited, snap[0].State)
	require.NotNil(t, snap[0].ExitCode)
	assert.Equal(t, 0, *snap[0].ExitCode)
}
