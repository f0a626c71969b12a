package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/vkore/internal/api"
	"github.com/mattjoyce/vkore/internal/config"
	"github.com/mattjoyce/vkore/internal/depresolve"
	"github.com/mattjoyce/vkore/internal/events"
	"github.com/mattjoyce/vkore/internal/lock"
	"github.com/mattjoyce/vkore/internal/log"
	"github.com/mattjoyce/vkore/internal/module"
	"github.com/mattjoyce/vkore/internal/scheduler"
	"github.com/mattjoyce/vkore/internal/state"
	"github.com/mattjoyce/vkore/internal/storage"
	"github.com/mattjoyce/vkore/internal/supervisor"
	"github.com/mattjoyce/vkore/internal/tui/watch"
)

// shutdownSlack is added to the supervisor's grace period so SIGKILL
// escalation can finish before the process exits.
const shutdownSlack = 2 * time.Second

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	resolvedPath, err := config.ResolveConfigPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
		return 1
	}
	if *configPath == "" {
		fmt.Fprintf(os.Stderr, "Using discovered config: %s\n", resolvedPath)
	}

	cfg, err := config.Load(resolvedPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("vkore starting", "version", version, "config", cfg.SourcePath, "tick_interval", cfg.Service.Tick().String())

	pidLockPath := lock.PathFor(cfg.State.Path)
	pidLock, err := lock.Acquire(pidLockPath)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			logger.Error("another instance holds the PID lock", "path", pidLockPath, "error", err)
		} else {
			logger.Error("failed to acquire PID lock", "path", pidLockPath, "error", err)
		}
		return 1
	}
	defer func() { _ = pidLock.Release() }()
	logger.Info("acquired PID lock", "path", pidLockPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.State.Path, "error", err)
		return 1
	}
	defer db.Close()
	logger.Info("database opened", "path", cfg.State.Path)

	launches := state.NewLaunchStore(db)
	installs := state.NewInstallStore(db)
	hub := events.NewHub(256)

	descs, err := module.Discover(cfg.ModulesDir, cfg.Runtimes, log.Func(log.WithComponent("registry")))
	if err != nil {
		logger.Error("module discovery failed", "modules_dir", cfg.ModulesDir, "error", err)
		return 1
	}
	registry := module.NewRegistry(descs)
	logger.Info("module discovery complete", "count", registry.Len())

	resolver := depresolve.New(
		depresolve.NewHTTPWhitelist(cfg.Registry.URL, cfg.Registry.Timeout),
		depresolve.NewGitFetcher(),
		cfg.DependenciesDir,
		installs,
		log.WithComponent("depresolve"),
	)
	sup := supervisor.New(supervisor.OptionsFromConfig(cfg.Supervisor), hub, launches, log.WithComponent("supervisor"))
	sched := scheduler.New(scheduler.OptionsFromConfig(cfg), sup, resolver, hub, log.WithComponent("scheduler"))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 2)

	go func() {
		if err := sched.Run(ctx, registry.All()); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("scheduler: %w", err)
		}
	}()

	if cfg.API.Enabled {
		apiServer := api.New(api.Config{
			Listen: cfg.API.Listen,
			APIKey: cfg.API.APIKey,
		}, api.Deps{
			Registry:  registry,
			Catalog:   sched,
			Processes: sup,
			History:   launches,
			Events:    hub,
		}, log.WithComponent("api"))
		go func() {
			if err := apiServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	logger.Info("vkore running (press Ctrl+C to stop)")

	code := 0
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		code = 1
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Supervisor.ShutdownGrace+shutdownSlack)
	defer shutdownCancel()
	if err := sup.Shutdown(shutdownCtx); err != nil {
		logger.Error("supervisor shutdown incomplete", "error", err)
		code = 1
	}

	logger.Info("vkore stopped")
	return code
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	apiURL := fs.String("api-url", "http://localhost:8080", "vkore API URL")
	apiKey := fs.String("api-key", os.Getenv(envAPIKey), "API Bearer Token")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if *apiKey == "" {
		fmt.Fprintf(os.Stderr, "Error: API key required. Use --api-key or %s env var.\n", envAPIKey)
		return 1
	}

	m := watch.New(*apiURL, *apiKey)
	p := tea.NewProgram(m)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}
