// Package runlock keeps two batch runs from sharing one state directory.
// The lock is a PID file; a file left behind by a dead process is reclaimed.
package runlock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// FileName is the lock file created inside the state directory.
const FileName = "nwbbatch-run.pid"

// ErrNotHeld is returned by Stop when no live run holds the lock.
var ErrNotHeld = errors.New("no batch run is in progress")

// HeldError reports that another live process owns the lock.
type HeldError struct {
	Path string
	PID  int
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("another batch run (pid %d) holds %s", e.PID, e.Path)
}

// Lock is a PID file owned by a batch run.
type Lock struct {
	Path string
}

// New returns the lock for stateDir without acquiring it.
func New(stateDir string) *Lock {
	return &Lock{Path: filepath.Join(stateDir, FileName)}
}

// Acquire takes the lock for the current process. A lock whose owner is
// no longer alive is taken over.
func (l *Lock) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.Path), 0755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	if pid, running := l.Holder(); running && pid != os.Getpid() {
		return &HeldError{Path: l.Path, PID: pid}
	}
	return l.writePID(os.Getpid())
}

// Release removes the lock if the current process owns it.
func (l *Lock) Release() error {
	pid, err := l.read()
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if pid != os.Getpid() {
		return fmt.Errorf("lock %s is owned by pid %d", l.Path, pid)
	}
	return os.Remove(l.Path)
}

func (l *Lock) writePID(pid int) error {
	return os.WriteFile(l.Path, []byte(strconv.Itoa(pid)+"\n"), 0o644)
}

func (l *Lock) read() (int, error) {
	data, err := os.ReadFile(l.Path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID file content: %w", err)
	}
	return pid, nil
}
