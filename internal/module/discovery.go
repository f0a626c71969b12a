package module

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/mattjoyce/vkore/internal/manifest"
)

const (
	// ManifestFilename is the per-module manifest every module directory must carry.
	ManifestFilename = "manifest.yaml"

	sectionModule       = "module"
	sectionDependencies = "dependencies"
)

// validName is the module name grammar. Names appear in API paths, log
// attributes and entry file names.
var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// ValidationError reports a directory that is not a module: its name is not
// a valid module name or a required file is missing.
type ValidationError struct {
	Dir    string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("module %s is not valid: %s", filepath.Base(e.Dir), e.Reason)
}

// ManifestError reports a module whose manifest could not be read or lacks
// required fields.
type ManifestError struct {
	Dir string
	Err error
}

func (e *ManifestError) Error() string {
	return fmt.Sprintf("module %s manifest: %v", filepath.Base(e.Dir), e.Err)
}

func (e *ManifestError) Unwrap() error { return e.Err }

// Discover scans the immediate subdirectories of root for modules.
// A subdirectory qualifies when it holds manifest.yaml and an entry file named
// <dir><ext> for one of the runtime extensions. Invalid modules are logged but
// not fatal. The result is sorted by name.
func Discover(root string, runtimes map[string][]string, logger func(level, msg string, args ...any)) ([]*Descriptor, error) {
	if logger == nil {
		logger = func(level, msg string, args ...any) {}
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve modules root %q: %w", root, err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("modules root does not exist: %s", absRoot)
		}
		return nil, fmt.Errorf("failed to stat modules root %s: %w", absRoot, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("modules root is not a directory: %s", absRoot)
	}

	entries, err := os.ReadDir(absRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to scan modules root %s: %w", absRoot, err)
	}

	var out []*Descriptor
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(absRoot, entry.Name())
		if strings.HasPrefix(entry.Name(), ".") {
			logger("debug", "skipping hidden directory", "path", dir)
			continue
		}

		desc, err := Load(dir, runtimes)
		if err != nil {
			var verr *ValidationError
			if errors.As(err, &verr) {
				logger("warn", "module validation failed", "module", entry.Name(), "path", dir, "error", err.Error())
			} else {
				logger("warn", "module manifest rejected", "module", entry.Name(), "path", dir, "error", err.Error())
			}
			continue
		}

		logger("info", "loading module",
			"module", desc.Name,
			"name", desc.DisplayName,
			"version", desc.Version,
			"credit", desc.Credit(),
		)
		out = append(out, desc)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Load validates a single module directory and builds its descriptor.
func Load(dir string, runtimes map[string][]string) (*Descriptor, error) {
	name := filepath.Base(dir)
	if !validName.MatchString(name) {
		return nil, &ValidationError{Dir: dir, Reason: fmt.Sprintf("invalid module name %q (letters, digits, '-' and '_' only)", name)}
	}
	exts := sortedExtensions(runtimes)

	manifestPath := filepath.Join(dir, ManifestFilename)
	if !isRegularFile(manifestPath) {
		return nil, &ValidationError{Dir: dir, Reason: "missing " + ManifestFilename}
	}

	entrypoint, ext, ok := findEntrypoint(dir, name, exts)
	if !ok {
		return nil, &ValidationError{
			Dir:    dir,
			Reason: fmt.Sprintf("missing entry file %s{%s}", name, strings.Join(exts, ",")),
		}
	}

	secs, err := manifest.Read(manifestPath)
	if err != nil {
		return nil, &ManifestError{Dir: dir, Err: err}
	}

	mod, ok := secs.Section(sectionModule)
	if !ok {
		return nil, &ManifestError{Dir: dir, Err: fmt.Errorf("missing %q section", sectionModule)}
	}
	displayName := strings.TrimSpace(mod.String("name"))
	if displayName == "" {
		return nil, &ManifestError{Dir: dir, Err: fmt.Errorf("%s.name is required", sectionModule)}
	}

	desc := &Descriptor{
		Name:        name,
		DisplayName: displayName,
		Version:     mod.String("version"),
		Author:      mod.String("author"),
		Editor:      mod.String("modify"),
		Autostart:   mod.Bool("autostart"),
		Interval:    mod.Bool("interval"),
		Dir:         dir,
		Entrypoint:  entrypoint,
		Runtime:     append([]string(nil), runtimes[ext]...),
	}

	if deps, ok := secs.Section(sectionDependencies); ok {
		for _, key := range deps.Keys() {
			version, _ := deps.Get(key)
			desc.Dependencies = append(desc.Dependencies, Dependency{Name: key, Version: version})
		}
	}

	return desc, nil
}

func findEntrypoint(dir, name string, exts []string) (string, string, bool) {
	for _, ext := range exts {
		candidate := filepath.Join(dir, name+ext)
		if isRegularFile(candidate) {
			return candidate, ext, true
		}
	}
	return "", "", false
}

func sortedExtensions(runtimes map[string][]string) []string {
	exts := make([]string, 0, len(runtimes))
	for ext := range runtimes {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

func isRegularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
