// Package depresolve installs the third-party dependencies a module declares,
// restricted to the names published by a remote whitelist.
package depresolve

import (
	"errors"
	"fmt"
)

var (
	// ErrNotWhitelisted marks a dependency absent from the whitelist.
	ErrNotWhitelisted = errors.New("not whitelisted")
	// ErrDownload marks a fetch that failed or left no directory behind.
	ErrDownload = errors.New("download failed")
	// ErrRegistryUnavailable marks a whitelist that could not be fetched or decoded.
	ErrRegistryUnavailable = errors.New("dependency registry unavailable")
	// ErrInvalidName marks a dependency name that cannot be a directory name.
	ErrInvalidName = errors.New("invalid dependency name")
)

// ResolutionError reports why a module's dependency set could not be
// satisfied, e.g. "module weather: beta not whitelisted". Dependency is
// empty when the failure is not tied to one entry.
type ResolutionError struct {
	Module     string
	Dependency string
	Err        error
}

func (e *ResolutionError) Error() string {
	if e.Dependency == "" {
		return fmt.Sprintf("module %s: %v", e.Module, e.Err)
	}
	return fmt.Sprintf("module %s: %s %v", e.Module, e.Dependency, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }
