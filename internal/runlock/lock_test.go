package runlock

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquire_CreatesStateDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")
	l := New(dir)

	require.NoError(t, l.Acquire())

	pid, running := l.Holder()
	assert.True(t, running)
	assert.Equal(t, os.Getpid(), pid)
	assert.Equal(t, filepath.Join(dir, FileName), l.Path)
}

func TestAcquire_Reentrant(t *testing.T) {
	l := New(t.TempDir())
	require.NoError(t, l.Acquire())
	assert.NoError(t, l.Acquire(), "same process may re-acquire its own lock")
}

func TestAcquire_ReclaimsStaleLock(t *testing.T) {
	l := New(t.TempDir())
	// Use a very high PID that almost certainly doesn't exist.
	require.NoError(t, l.writePID(999999))

	require.NoError(t, l.Acquire())
	pid, err := l.read()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestAcquire_HeldByLiveProcess(t *testing.T) {
	l := New(t.TempDir())
	// PID 1 is always alive on unix-like systems.
	if _, err := os.FindProcess(1); err != nil {
		t.Skip("pid 1 not available")
	}
	require.NoError(t, l.writePID(1))
	if _, running := l.Holder(); !running {
		t.Skip("cannot observe pid 1 from this sandbox")
	}

	err := l.Acquire()
	require.Error(t, err)
	var held *HeldError
	require.True(t, errors.As(err, &held))
	assert.Equal(t, 1, held.PID)
	assert.Contains(t, err.Error(), "pid 1")
}

func TestRelease(t *testing.T) {
	l := New(t.TempDir())
	require.NoError(t, l.Acquire())

	require.NoError(t, l.Release())
	_, err := os.Stat(l.Path)
	assert.True(t, os.IsNotExist(err))

	assert.NoError(t, l.Release(), "releasing twice is a no-op")
}

func TestRelease_NotOwner(t *testing.T) {
	l := New(t.TempDir())
	require.NoError(t, l.writePID(999999))

	err := l.Release()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "owned by pid 999999")
}

func TestRead_InvalidContent(t *testing.T) {
	l := New(t.TempDir())
	require.NoError(t, os.WriteFile(l.Path, []byte("not-a-number\n"), 0o644))

	_, err := l.read()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid PID file content")

	_, running := l.Holder()
	assert.False(t, running)
}

func TestStop_NotHeld(t *testing.T) {
	l := New(t.TempDir())
	_, err := l.Stop()
	assert.ErrorIs(t, err, ErrNotHeld)

	require.NoError(t, l.writePID(999999))
	_, err = l.Stop()
	assert.ErrorIs(t, err, ErrNotHeld)
}
