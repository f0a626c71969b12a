// Package lock keeps a single orchestrator instance per data directory.
package lock

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/mattjoyce/vkore/internal/fsguard"
)

// Filename is the lock file created next to the state database.
const Filename = "vkore.lock"

// ErrLocked is returned when another process holds the lock.
var ErrLocked = errors.New("another vkore instance is running")

// PIDLock is an exclusive flock(2) on a file that also records the holder's
// PID. The lock lives as long as the descriptor stays open.
type PIDLock struct {
	path string
	f    *os.File
}

// PathFor returns the lock path guarding the data directory of statePath.
func PathFor(statePath string) string {
	return filepath.Join(filepath.Dir(statePath), Filename)
}

// Acquire takes the lock at lockPath without blocking. When another process
// holds it the error wraps ErrLocked and names that process's PID.
func Acquire(lockPath string) (*PIDLock, error) {
	if lockPath == "" {
		return nil, errors.New("lock path is empty")
	}
	// flock(2) is advisory and unreliable over NFS and SMB.
	if err := fsguard.RequireLocal(lockPath, "state.path"); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if !errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("flock %s: %w", lockPath, err)
		}
		if holder, perr := ReadPID(lockPath); perr == nil {
			return nil, fmt.Errorf("%w (pid %d)", ErrLocked, holder)
		}
		return nil, ErrLocked
	}

	l := &PIDLock{path: lockPath, f: f}
	if err := l.writePID(os.Getpid()); err != nil {
		_ = l.Release()
		return nil, fmt.Errorf("record pid in %s: %w", lockPath, err)
	}
	return l, nil
}

func (l *PIDLock) writePID(pid int) error {
	if err := l.f.Truncate(0); err != nil {
		return err
	}
	if _, err := l.f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if _, err := l.f.WriteString(strconv.Itoa(pid) + "\n"); err != nil {
		return err
	}
	return l.f.Sync()
}

// ReadPID returns the PID recorded in a lock file.
func ReadPID(lockPath string) (int, error) {
	raw, err := os.ReadFile(lockPath)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, fmt.Errorf("%s does not hold a pid: %w", lockPath, err)
	}
	return pid, nil
}

// Path returns the lock file location.
func (l *PIDLock) Path() string { return l.path }

// Release drops the lock. It is safe to call on a released or nil lock.
func (l *PIDLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	f := l.f
	l.f = nil
	_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
	return f.Close()
}
