//go:build !windows

package runlock

import (
	"fmt"
	"syscall"
)

// Holder returns the PID recorded in the lock and whether that process is alive.
func (l *Lock) Holder() (int, bool) {
	pid, err := l.read()
	if err != nil {
		return 0, false
	}
	// Signal 0 tests if the process exists without sending a signal.
	err = syscall.Kill(pid, 0)
	return pid, err == nil
}

// Stop asks the run holding the lock to stop dispatching. In-flight
// sessions still finish.
func (l *Lock) Stop() (int, error) {
	pid, running := l.Holder()
	if !running {
		return 0, ErrNotHeld
	}
	if err := syscall.Kill(pid, syscall.SIGINT); err != nil {
		return pid, fmt.Errorf("signal pid %d: %w", pid, err)
	}
	return pid, nil
}
