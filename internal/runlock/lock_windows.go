//go:build windows

package runlock

import (
	"fmt"
	"os"
	"syscall"
)

// Holder returns the PID recorded in the lock and whether that process is alive.
// On Windows, uses os.FindProcess + a zero signal equivalent.
func (l *Lock) Holder() (int, bool) {
	pid, err := l.read()
	if err != nil {
		return 0, false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return pid, false
	}
	err = proc.Signal(syscall.Signal(0))
	return pid, err == nil
}

// Stop terminates the run holding the lock. Windows cannot deliver an
// interrupt to another console process, so in-flight sessions are lost.
func (l *Lock) Stop() (int, error) {
	pid, running := l.Holder()
	if !running {
		return 0, ErrNotHeld
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return pid, fmt.Errorf("find process %d: %w", pid, err)
	}
	return pid, proc.Kill()
}
