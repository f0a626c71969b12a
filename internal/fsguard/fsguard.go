// Package fsguard refuses state paths on network filesystems, where SQLite
// and flock(2) locking cannot be trusted.
package fsguard

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNetworkFilesystem marks a path that resolved to a network mount.
var ErrNetworkFilesystem = errors.New("network filesystem")

var errUnsupported = errors.New("filesystem type detection unsupported")

// Filesystem type names treated as remote, as reported by the platform
// detectors.
var networkTypes = map[string]bool{
	"afpfs":      true,
	"afs":        true,
	"cifs":       true,
	"fuse.sshfs": true,
	"nfs":        true,
	"nfs4":       true,
	"smb2":       true,
	"smbfs":      true,
	"webdav":     true,
}

// Detector reports the filesystem type name of an existing path.
type Detector func(path string) (string, error)

// RequireLocal fails with ErrNetworkFilesystem when path, or its nearest
// existing ancestor, lives on a network mount. field names the config
// setting the path came from. Platforms without detection always pass.
func RequireLocal(path, field string) error {
	return requireLocal(path, field, detectType)
}

func requireLocal(path, field string, detect Detector) error {
	if path == "" {
		return fmt.Errorf("%s is empty", field)
	}

	probe, err := nearestExisting(path)
	if err != nil {
		return fmt.Errorf("resolve %s %q: %w", field, path, err)
	}

	fsType, err := detect(probe)
	switch {
	case errors.Is(err, errUnsupported):
		return nil
	case err != nil:
		return fmt.Errorf("detect filesystem of %q: %w", probe, err)
	}

	if networkTypes[strings.ToLower(strings.TrimSpace(fsType))] {
		return fmt.Errorf("%s %q is on a %w (%s); file locking needs local disk, point %s at a local path",
			field, path, ErrNetworkFilesystem, fsType, field)
	}
	return nil
}

// nearestExisting walks up from path until it finds something that exists,
// so a database that has not been created yet is judged by its parent.
func nearestExisting(path string) (string, error) {
	candidate, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for {
		_, err := os.Stat(candidate)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(candidate)
		if parent == candidate {
			return "", fmt.Errorf("no existing ancestor")
		}
		candidate = parent
	}
}
