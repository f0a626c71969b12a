package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mattjoyce/vkore/internal/config"
	"github.com/mattjoyce/vkore/internal/events"
	"github.com/mattjoyce/vkore/internal/module"
	"github.com/mattjoyce/vkore/internal/supervisor"
)

var (
	// ErrUnknownModule is returned by Trigger for a name that was never loaded.
	ErrUnknownModule = errors.New("unknown module")
	// ErrUnresolved is returned by Trigger for a module whose dependencies
	// could not be resolved at startup, or are still being resolved.
	ErrUnresolved = errors.New("module dependencies unresolved")
)

// reasonPending is reported for modules startup has not resolved yet.
const reasonPending = "dependency resolution pending"

// Options controls the tick loop.
type Options struct {
	Interval time.Duration
	Overlap  string
}

// OptionsFromConfig builds scheduler options from the service config.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Interval: cfg.Service.Tick(),
		Overlap:  cfg.Supervisor.Overlap,
	}
}

// ModuleStatus is the scheduler's view of one loaded module.
type ModuleStatus struct {
	Name      string `json:"name"`
	Autostart bool   `json:"autostart"`
	Interval  bool   `json:"interval"`
	Resolved  bool   `json:"resolved"`
	Reason    string `json:"reason,omitempty"`
}

type entry struct {
	desc     *module.Descriptor
	resolved bool
	reason   string
}

func (e *entry) status() ModuleStatus {
	return ModuleStatus{
		Name:      e.desc.Name,
		Autostart: e.desc.Autostart,
		Interval:  e.desc.Interval,
		Resolved:  e.resolved,
		Reason:    e.reason,
	}
}

// Scheduler resolves modules once, performs autostart launches and then
// launches interval modules on every tick until its context is cancelled.
type Scheduler struct {
	opts     Options
	launcher Launcher
	resolver Resolver
	events   events.Publisher
	logger   *slog.Logger

	// newTicker is swapped out in tests.
	newTicker func(time.Duration) (<-chan time.Time, func())

	ready chan struct{}

	mu       sync.RWMutex
	modules  map[string]*entry
	interval []*module.Descriptor
	ticks    int64
}

// New creates a scheduler. hub may be nil.
func New(opts Options, launcher Launcher, resolver Resolver, hub events.Publisher, logger *slog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = 60 * time.Second
	}
	if opts.Overlap == "" {
		opts.Overlap = config.OverlapAllow
	}
	if hub == nil {
		hub = events.NewHub(128)
	}
	if logger == nil {
		logger = slog.Default().With("component", "scheduler")
	}
	return &Scheduler{
		opts:      opts,
		launcher:  launcher,
		resolver:  resolver,
		events:    hub,
		logger:    logger,
		newTicker: realTicker,
		ready:     make(chan struct{}),
		modules:   make(map[string]*entry),
	}
}

func realTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Ready is closed once startup has resolved every module and issued the
// autostart launches, or given up because ctx was cancelled.
func (s *Scheduler) Ready() <-chan struct{} { return s.ready }

// Run performs startup and then ticks until ctx is done. The tick period is
// fixed for the lifetime of the loop. A tick that has begun always completes;
// cancellation is observed between ticks.
func (s *Scheduler) Run(ctx context.Context, descs []*module.Descriptor) error {
	s.startup(ctx, descs)
	close(s.ready)

	s.mu.RLock()
	scheduled := len(s.interval)
	s.mu.RUnlock()
	s.logger.Info("Starting tick loop", "interval", s.opts.Interval, "scheduled", scheduled, "overlap", s.opts.Overlap)

	tickC, stop := s.newTicker(s.opts.Interval)
	defer stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopped")
			return nil
		case <-tickC:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) startup(ctx context.Context, descs []*module.Descriptor) {
	sorted := make([]*module.Descriptor, len(descs))
	copy(sorted, descs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	// Every module is visible, as pending, before the first resolve.
	entries := make([]*entry, len(sorted))
	s.mu.Lock()
	for i, d := range sorted {
		entries[i] = &entry{desc: d, reason: reasonPending}
		s.modules[d.Name] = entries[i]
	}
	s.mu.Unlock()

	var started, scheduled int
	for _, e := range entries {
		if ctx.Err() != nil {
			return
		}
		d := e.desc

		if err := s.resolver.Resolve(ctx, d); err != nil {
			s.logger.Error("Module dependencies unresolved, module excluded", "module", d.Name, "error", err)
			s.events.Publish(events.TypeModuleUnresolved, map[string]any{
				"module": d.Name,
				"reason": err.Error(),
			})
			s.mu.Lock()
			e.reason = err.Error()
			s.mu.Unlock()
			continue
		}

		s.mu.Lock()
		e.resolved = true
		e.reason = ""
		if d.Interval {
			s.interval = append(s.interval, d)
		}
		s.mu.Unlock()

		if d.Interval {
			s.logger.Info(fmt.Sprintf("Scheduler: %s", d.Name), "module", d.Name)
			scheduled++
		}
		if d.Autostart {
			s.logger.Info(fmt.Sprintf("Autostart: %s", d.Name), "module", d.Name)
			s.launch(ctx, d, supervisor.TriggerAutostart)
			started++
		}
	}

	if started == 0 && scheduled == 0 {
		s.logger.Warn("no modules started or scheduled")
	}
}

// tick launches every interval module in name order. A failed launch is
// logged and the pass continues. The pass is not cut short by cancellation.
func (s *Scheduler) tick(ctx context.Context) {
	s.mu.Lock()
	s.ticks++
	n := s.ticks
	due := make([]*module.Descriptor, len(s.interval))
	copy(due, s.interval)
	s.mu.Unlock()

	s.logger.Debug("Scheduler tick", "tick", n, "due", len(due))
	s.events.Publish(events.TypeSchedulerTick, map[string]any{
		"tick": n,
		"due":  len(due),
	})

	for _, d := range due {
		if s.opts.Overlap == config.OverlapSkip {
			if running := s.launcher.Running(d.Name); running > 0 {
				s.events.Publish(events.TypeSchedulerSkipped, map[string]any{
					"module":  d.Name,
					"reason":  "still_running",
					"running": running,
				})
				s.logger.Info("Skipped interval launch, previous instance still running", "module", d.Name, "running", running)
				continue
			}
		}
		s.launch(ctx, d, supervisor.TriggerInterval)
	}
}

func (s *Scheduler) launch(ctx context.Context, d *module.Descriptor, trigger supervisor.Trigger) {
	if _, err := s.launcher.Launch(ctx, d, trigger); err != nil {
		s.logger.Error("Failed to launch module", "module", d.Name, "trigger", trigger, "error", err)
	}
}

// Trigger launches a resolved module on demand.
func (s *Scheduler) Trigger(ctx context.Context, name string) (*supervisor.Handle, error) {
	s.mu.RLock()
	e, ok := s.modules[name]
	var resolved bool
	var reason string
	if ok {
		resolved, reason = e.resolved, e.reason
	}
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModule, name)
	}
	if !resolved {
		return nil, fmt.Errorf("%w: %s: %s", ErrUnresolved, name, reason)
	}
	return s.launcher.Launch(ctx, e.desc, supervisor.TriggerManual)
}

// Modules returns the status of every loaded module, sorted by name.
func (s *Scheduler) Modules() []ModuleStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ModuleStatus, 0, len(s.modules))
	for _, e := range s.modules {
		out = append(out, e.status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Ticks reports how many ticks have fired.
func (s *Scheduler) Ticks() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ticks
}
