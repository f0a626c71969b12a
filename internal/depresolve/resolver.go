package depresolve

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattjoyce/vkore/internal/module"
	"github.com/mattjoyce/vkore/internal/state"
)

// InstallRecorder persists successful installs.
type InstallRecorder interface {
	RecordInstall(ctx context.Context, in state.Install) error
}

// Resolver checks a module's dependencies against the whitelist and fetches
// the missing ones into depsDir/<name>.
type Resolver struct {
	whitelist WhitelistSource
	fetcher   Fetcher
	depsDir   string
	recorder  InstallRecorder
	logger    *slog.Logger
}

// New creates a resolver. recorder may be nil.
func New(whitelist WhitelistSource, fetcher Fetcher, depsDir string, recorder InstallRecorder, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default().With("component", "depresolve")
	}
	return &Resolver{
		whitelist: whitelist,
		fetcher:   fetcher,
		depsDir:   depsDir,
		recorder:  recorder,
		logger:    logger,
	}
}

// Dir returns the local directory a dependency is materialized in.
func (r *Resolver) Dir(name string) string {
	return filepath.Join(r.depsDir, name)
}

// Resolve makes every dependency of d available locally. It is all-or-nothing
// with respect to the whitelist: no fetch happens unless every declared name
// is whitelisted. The returned error is a *ResolutionError.
func (r *Resolver) Resolve(ctx context.Context, d *module.Descriptor) error {
	if len(d.Dependencies) == 0 {
		return nil
	}

	wl, err := r.checkWhitelist(ctx, d)
	if err != nil {
		return err
	}

	for _, dep := range d.Dependencies {
		dest := r.Dir(dep.Name)
		if isDir(dest) {
			r.logger.Debug("dependency satisfied", "module", d.Name, "dependency", dep.Name, "path", dest)
			continue
		}

		source, _ := wl.Source(dep.Name)
		r.logger.Info("installing dependency", "module", d.Name, "dependency", dep.Name, "source", source)

		if err := r.fetcher.Fetch(ctx, source, dest); err != nil {
			return &ResolutionError{Module: d.Name, Dependency: dep.Name, Err: fmt.Errorf("%w: %v", ErrDownload, err)}
		}
		if !isDir(dest) {
			return &ResolutionError{Module: d.Name, Dependency: dep.Name, Err: fmt.Errorf("%w: %s missing after fetch", ErrDownload, dest)}
		}

		if r.recorder != nil {
			if err := r.recorder.RecordInstall(ctx, state.Install{
				Dependency:  dep.Name,
				Module:      d.Name,
				Source:      source,
				Path:        dest,
				InstalledAt: time.Now(),
			}); err != nil {
				r.logger.Warn("failed to record dependency install", "module", d.Name, "dependency", dep.Name, "error", err)
			}
		}
		r.logger.Info("dependency installed", "module", d.Name, "dependency", dep.Name, "path", dest)
	}
	return nil
}

// Check verifies every declared dependency is whitelisted without fetching.
func (r *Resolver) Check(ctx context.Context, d *module.Descriptor) error {
	if len(d.Dependencies) == 0 {
		return nil
	}
	_, err := r.checkWhitelist(ctx, d)
	return err
}

// Missing returns the declared dependencies not yet materialized locally.
func (r *Resolver) Missing(d *module.Descriptor) []module.Dependency {
	var out []module.Dependency
	for _, dep := range d.Dependencies {
		if !isDir(r.Dir(dep.Name)) {
			out = append(out, dep)
		}
	}
	return out
}

func (r *Resolver) checkWhitelist(ctx context.Context, d *module.Descriptor) (Whitelist, error) {
	for _, dep := range d.Dependencies {
		if err := ValidateName(dep.Name); err != nil {
			return nil, &ResolutionError{Module: d.Name, Dependency: dep.Name, Err: err}
		}
	}

	wl, err := r.whitelist.Fetch(ctx)
	if err != nil {
		return nil, &ResolutionError{Module: d.Name, Err: err}
	}

	for _, dep := range d.Dependencies {
		if _, ok := wl.Source(dep.Name); !ok {
			return nil, &ResolutionError{Module: d.Name, Dependency: dep.Name, Err: ErrNotWhitelisted}
		}
	}
	return wl, nil
}

// ValidateName rejects names that would escape the dependencies directory.
func ValidateName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("%w: empty", ErrInvalidName)
	case name == "." || name == ".." || strings.Contains(name, ".."):
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	case strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidName, name)
	}
	return nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
