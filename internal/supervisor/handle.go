package supervisor

import (
	"context"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// State is the lifecycle state of a launched instance.
type State string

const (
	StateRunning State = "running"
	StateExited  State = "exited"
	StateFailed  State = "failed"
)

// Trigger records why an instance was launched.
type Trigger string

const (
	TriggerAutostart Trigger = "autostart"
	TriggerInterval  Trigger = "interval"
	TriggerManual    Trigger = "manual"
	TriggerRestart   Trigger = "restart"
)

// Kind distinguishes child processes from in-process callables.
type Kind string

const (
	KindProcess  Kind = "process"
	KindCallable Kind = "callable"
)

// Handle is one supervised module instance. Only the supervisor mutates it;
// exit status is recorded by the goroutine that owns the instance.
type Handle struct {
	ID        string
	Module    string
	Kind      Kind
	Trigger   Trigger
	Restarts  int
	PID       int
	StartedAt time.Time

	mu       sync.Mutex
	state    State
	exitCode int
	exitedAt time.Time
	err      error
	done     chan struct{}

	cmd    *exec.Cmd
	cancel context.CancelFunc
}

// HandleInfo is a point-in-time view of a Handle.
type HandleInfo struct {
	ID        string     `json:"id"`
	Module    string     `json:"module"`
	Kind      Kind       `json:"kind"`
	Trigger   Trigger    `json:"trigger"`
	Restarts  int        `json:"restarts"`
	PID       int        `json:"pid,omitempty"`
	State     State      `json:"state"`
	ExitCode  *int       `json:"exit_code,omitempty"`
	StartedAt time.Time  `json:"started_at"`
	ExitedAt  *time.Time `json:"exited_at,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// Done is closed once the instance has ended and its status is recorded.
func (h *Handle) Done() <-chan struct{} { return h.done }

func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// ExitCode is meaningful only after Done is closed.
func (h *Handle) ExitCode() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitCode
}

func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *Handle) Info() HandleInfo {
	h.mu.Lock()
	defer h.mu.Unlock()

	info := HandleInfo{
		ID:        h.ID,
		Module:    h.Module,
		Kind:      h.Kind,
		Trigger:   h.Trigger,
		Restarts:  h.Restarts,
		PID:       h.PID,
		State:     h.state,
		StartedAt: h.StartedAt,
	}
	if h.state != StateRunning {
		code := h.exitCode
		exited := h.exitedAt
		info.ExitCode = &code
		info.ExitedAt = &exited
	}
	if h.err != nil {
		info.Error = h.err.Error()
	}
	return info
}

func (h *Handle) setExit(state State, code int, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = state
	h.exitCode = code
	h.err = err
	h.exitedAt = time.Now()
}

// signal delivers sig to the instance's process group. Callables are
// cancelled instead.
func (h *Handle) signal(sig syscall.Signal) {
	if h.cancel != nil {
		h.cancel()
		return
	}
	if h.cmd == nil || h.cmd.Process == nil {
		return
	}
	if err := syscall.Kill(-h.cmd.Process.Pid, sig); err != nil {
		_ = h.cmd.Process.Signal(sig)
	}
}
