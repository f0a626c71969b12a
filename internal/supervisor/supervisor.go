// Package supervisor launches modules and watches them until they exit.
//
// Each launch is owned by one goroutine that drains the instance's output,
// waits for it to end, records the exit status and applies the restart
// policy. Callers get a Handle back immediately and never block on output.
package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/vkore/internal/config"
	"github.com/mattjoyce/vkore/internal/events"
	"github.com/mattjoyce/vkore/internal/module"
	"github.com/mattjoyce/vkore/internal/state"
)

// maxLineBytes bounds a single captured output line.
const maxLineBytes = 1 << 20

// ErrShuttingDown is returned by Launch once Shutdown has begun.
var ErrShuttingDown = errors.New("supervisor is shutting down")

// LaunchError reports a module that could not be started.
type LaunchError struct {
	Module string
	Err    error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch module %s: %v", e.Module, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// Callable is an in-process module entry point.
type Callable func(ctx context.Context, logger *slog.Logger) error

// LaunchRecorder persists launch history.
type LaunchRecorder interface {
	RecordLaunch(ctx context.Context, l state.Launch) error
	RecordExit(ctx context.Context, id string, exit state.LaunchExit) error
}

// Options controls lifecycle policy.
type Options struct {
	Restart       string
	MaxRestarts   int
	RestartDelay  time.Duration
	OutputLines   int
	ShutdownGrace time.Duration
}

// OptionsFromConfig maps the supervisor config section to Options.
func OptionsFromConfig(c config.SupervisorConfig) Options {
	return Options{
		Restart:       c.Restart,
		MaxRestarts:   c.MaxRestarts,
		RestartDelay:  c.RestartDelay,
		OutputLines:   c.OutputLines,
		ShutdownGrace: c.ShutdownGrace,
	}
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, any) {}

// Supervisor owns every running module instance.
type Supervisor struct {
	opts     Options
	hub      events.Publisher
	recorder LaunchRecorder
	logger   *slog.Logger

	mu        sync.Mutex
	active    map[string][]*Handle
	last      map[string]*Handle
	outputs   map[string]*OutputLog
	callables map[string]Callable
	closing   bool
	stop      chan struct{}
	wg        sync.WaitGroup
}

// New creates a supervisor. hub and recorder may be nil.
func New(opts Options, hub events.Publisher, recorder LaunchRecorder, logger *slog.Logger) *Supervisor {
	if hub == nil {
		hub = nopPublisher{}
	}
	if logger == nil {
		logger = slog.Default().With("component", "supervisor")
	}
	if opts.Restart == "" {
		opts.Restart = config.RestartNone
	}
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = 5 * time.Second
	}
	return &Supervisor{
		opts:      opts,
		hub:       hub,
		recorder:  recorder,
		logger:    logger,
		active:    make(map[string][]*Handle),
		last:      make(map[string]*Handle),
		outputs:   make(map[string]*OutputLog),
		callables: make(map[string]Callable),
		stop:      make(chan struct{}),
	}
}

// RegisterCallable makes module name run in-process instead of as a child.
func (s *Supervisor) RegisterCallable(name string, fn Callable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callables[name] = fn
}

// Launch starts one instance of d and returns without waiting for it.
func (s *Supervisor) Launch(ctx context.Context, d *module.Descriptor, trigger Trigger) (*Handle, error) {
	return s.launch(ctx, d, trigger, 0)
}

func (s *Supervisor) launch(ctx context.Context, d *module.Descriptor, trigger Trigger, restarts int) (*Handle, error) {
	if d == nil {
		return nil, &LaunchError{Err: errors.New("nil descriptor")}
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return nil, &LaunchError{Module: d.Name, Err: ErrShuttingDown}
	}
	fn, isCallable := s.callables[d.Name]
	out := s.outputLocked(d.Name)
	s.mu.Unlock()

	h := &Handle{
		ID:        uuid.NewString(),
		Module:    d.Name,
		Trigger:   trigger,
		Restarts:  restarts,
		StartedAt: time.Now(),
		state:     StateRunning,
		done:      make(chan struct{}),
	}
	logger := s.logger.With("module", d.Name, "launch_id", h.ID)

	var (
		run func() (State, int, error)
		err error
	)
	if isCallable {
		h.Kind = KindCallable
		run = s.prepareCallable(h, fn)
	} else {
		h.Kind = KindProcess
		run, err = s.prepareProcess(h, d, out, logger)
	}
	if err != nil {
		logger.Error("module launch failed", "error", err)
		h.setExit(StateFailed, -1, err)
		close(h.done)
		s.recordLaunch(ctx, h)
		s.recordExit(h, "")
		s.hub.Publish(events.TypeModuleExited, exitPayload(h))
		return nil, &LaunchError{Module: d.Name, Err: err}
	}

	s.mu.Lock()
	s.active[d.Name] = append(s.active[d.Name], h)
	s.wg.Add(1)
	closing := s.closing
	s.mu.Unlock()
	if closing {
		h.signal(syscall.SIGKILL)
	}

	s.recordLaunch(ctx, h)
	s.hub.Publish(events.TypeModuleLaunched, map[string]any{
		"module":    h.Module,
		"launch_id": h.ID,
		"kind":      h.Kind,
		"trigger":   h.Trigger,
		"pid":       h.PID,
		"restarts":  h.Restarts,
	})
	logger.Info("module launched", "kind", h.Kind, "trigger", h.Trigger, "pid", h.PID, "restarts", h.Restarts)

	go s.own(h, d, run, out, logger)
	return h, nil
}

func (s *Supervisor) prepareProcess(h *Handle, d *module.Descriptor, out *OutputLog, logger *slog.Logger) (func() (State, int, error), error) {
	argv := d.Command()
	if len(argv) == 0 || argv[0] == "" {
		return nil, errors.New("module has no entry point")
	}

	// Not CommandContext: the instance outlives the launching call.
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = d.Dir
	cmd.Env = append(os.Environ(),
		"VKORE_MODULE="+d.Name,
		"VKORE_MODULE_DIR="+d.Dir,
		"VKORE_LAUNCH_ID="+h.ID,
	)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}

	logger.Debug("spawning module", "argv", argv, "dir", d.Dir)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start process: %w", err)
	}
	h.cmd = cmd
	h.PID = cmd.Process.Pid

	return func() (State, int, error) {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.drain(h, out, "stdout", stdout, logger)
		}()
		go func() {
			defer wg.Done()
			s.drain(h, out, "stderr", stderr, logger)
		}()
		// Pipes must be fully read before Wait closes them.
		wg.Wait()
		return exitStatus(cmd.Wait())
	}, nil
}

func (s *Supervisor) prepareCallable(h *Handle, fn Callable) func() (State, int, error) {
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	logger := s.logger.With("module", h.Module, "launch_id", h.ID)

	return func() (State, int, error) {
		defer cancel()
		if err := runCallable(ctx, fn, logger); err != nil {
			return StateFailed, 1, err
		}
		return StateExited, 0, nil
	}
}

func runCallable(ctx context.Context, fn Callable, logger *slog.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx, logger)
}

// own runs on its own goroutine for the lifetime of one instance.
func (s *Supervisor) own(h *Handle, d *module.Descriptor, run func() (State, int, error), out *OutputLog, logger *slog.Logger) {
	defer s.wg.Done()

	st, code, err := run()
	h.setExit(st, code, err)

	s.mu.Lock()
	s.active[h.Module] = removeHandle(s.active[h.Module], h)
	if len(s.active[h.Module]) == 0 {
		delete(s.active, h.Module)
	}
	s.last[h.Module] = h
	s.mu.Unlock()

	if st == StateFailed {
		logger.Warn("module exited with failure", "exit_code", code, "error", err, "duration", time.Since(h.StartedAt))
	} else {
		logger.Info("module exited", "exit_code", code, "duration", time.Since(h.StartedAt))
	}

	s.recordExit(h, out.Tail(h.ID))
	s.hub.Publish(events.TypeModuleExited, exitPayload(h))
	close(h.done)

	s.maybeRestart(d, h, st, logger)
}

func (s *Supervisor) maybeRestart(d *module.Descriptor, h *Handle, st State, logger *slog.Logger) {
	if !s.shouldRestart(st, h.Restarts) {
		return
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		timer := time.NewTimer(s.opts.RestartDelay)
		defer timer.Stop()
		select {
		case <-s.stop:
			return
		case <-timer.C:
		}
		logger.Info("restarting module", "policy", s.opts.Restart, "restarts", h.Restarts+1)
		_, _ = s.launch(context.Background(), d, TriggerRestart, h.Restarts+1)
	}()
}

func (s *Supervisor) shouldRestart(st State, restarts int) bool {
	if restarts >= s.opts.MaxRestarts {
		return false
	}
	switch s.opts.Restart {
	case config.RestartAlways:
		return true
	case config.RestartOnFailure:
		return st == StateFailed
	default:
		return false
	}
}

// drain copies one output stream into the module log until EOF. The first
// line of each stream is surfaced at info level; the rest at debug.
func (s *Supervisor) drain(h *Handle, out *OutputLog, stream string, r io.Reader, logger *slog.Logger) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	first := true
	for scanner.Scan() {
		line := Line{
			Module:   h.Module,
			LaunchID: h.ID,
			Stream:   stream,
			Text:     scanner.Text(),
			At:       time.Now(),
		}
		out.Append(line)
		s.hub.Publish(events.TypeModuleOutput, line)
		if first {
			logger.Info("module output", "stream", stream, "line", line.Text)
			first = false
		} else {
			logger.Debug("module output", "stream", stream, "line", line.Text)
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Warn("module output read failed", "stream", stream, "error", err)
		// Keep the child from blocking on a full pipe.
		_, _ = io.Copy(io.Discard, r)
	}
}

// Running reports how many instances of name are alive.
func (s *Supervisor) Running(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active[name])
}

// Snapshot lists running instances plus the most recent finished instance of
// each module, sorted by module then start time.
func (s *Supervisor) Snapshot() []HandleInfo {
	s.mu.Lock()
	var hs []*Handle
	for _, list := range s.active {
		hs = append(hs, list...)
	}
	for _, h := range s.last {
		hs = append(hs, h)
	}
	s.mu.Unlock()

	out := make([]HandleInfo, 0, len(hs))
	for _, h := range hs {
		out = append(out, h.Info())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Module != out[j].Module {
			return out[i].Module < out[j].Module
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Output returns the retained output lines of a module, oldest first.
func (s *Supervisor) Output(name string) []Line {
	s.mu.Lock()
	out, ok := s.outputs[name]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return out.Lines()
}

// Log returns the output log of a module, creating it if needed.
func (s *Supervisor) Log(name string) *OutputLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outputLocked(name)
}

func (s *Supervisor) outputLocked(name string) *OutputLog {
	out, ok := s.outputs[name]
	if !ok {
		out = NewOutputLog(s.opts.OutputLines)
		s.outputs[name] = out
	}
	return out
}

// Shutdown stops restarts, sends SIGTERM to every running instance and
// SIGKILL to those still alive after the grace period. It returns once every
// owner goroutine has finished or ctx is done.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.closing {
		s.closing = true
		close(s.stop)
	}
	var running []*Handle
	for _, list := range s.active {
		running = append(running, list...)
	}
	s.mu.Unlock()

	if len(running) > 0 {
		s.logger.Info("stopping modules", "count", len(running))
	}
	for _, h := range running {
		h.signal(syscall.SIGTERM)
	}

	allDone := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(allDone)
	}()

	grace := time.NewTimer(s.opts.ShutdownGrace)
	defer grace.Stop()

	select {
	case <-allDone:
		return nil
	case <-grace.C:
		s.logger.Warn("modules did not exit after SIGTERM, sending SIGKILL")
		for _, h := range running {
			h.signal(syscall.SIGKILL)
		}
	case <-ctx.Done():
		for _, h := range running {
			h.signal(syscall.SIGKILL)
		}
		return ctx.Err()
	}

	select {
	case <-allDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Supervisor) recordLaunch(ctx context.Context, h *Handle) {
	if s.recorder == nil {
		return
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.recorder.RecordLaunch(rctx, state.Launch{
		ID:        h.ID,
		Module:    h.Module,
		Kind:      string(h.Kind),
		Trigger:   string(h.Trigger),
		Attempt:   h.Restarts,
		PID:       h.PID,
		State:     string(StateRunning),
		StartedAt: h.StartedAt,
	}); err != nil {
		s.logger.Warn("failed to record launch", "module", h.Module, "error", err)
	}
}

func (s *Supervisor) recordExit(h *Handle, tail string) {
	if s.recorder == nil {
		return
	}
	info := h.Info()
	exit := state.LaunchExit{
		State:      string(info.State),
		OutputTail: tail,
		LastError:  info.Error,
	}
	if info.ExitCode != nil {
		exit.ExitCode = *info.ExitCode
	}
	if info.ExitedAt != nil {
		exit.ExitedAt = *info.ExitedAt
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.recorder.RecordExit(ctx, h.ID, exit); err != nil {
		s.logger.Warn("failed to record exit", "module", h.Module, "error", err)
	}
}

func exitPayload(h *Handle) map[string]any {
	info := h.Info()
	payload := map[string]any{
		"module":    info.Module,
		"launch_id": info.ID,
		"state":     info.State,
		"restarts":  info.Restarts,
	}
	if info.ExitCode != nil {
		payload["exit_code"] = *info.ExitCode
	}
	if info.Error != "" {
		payload["error"] = info.Error
	}
	return payload
}

func exitStatus(err error) (State, int, error) {
	if err == nil {
		return StateExited, 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return StateFailed, exitErr.ExitCode(), err
	}
	return StateFailed, -1, err
}

func removeHandle(list []*Handle, h *Handle) []*Handle {
	out := list[:0]
	for _, x := range list {
		if x != h {
			out = append(out, x)
		}
	}
	return out
}
