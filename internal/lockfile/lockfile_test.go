package lockfile

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rompatchd.pid")

	lock, err := Acquire(path)
	require.NoError(t, err)
	assert.Equal(t, path, lock.Path())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), strings.TrimSpace(string(data)))

	require.NoError(t, lock.Release())

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestAcquireHeldLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rompatchd.pid")

	lock, err := Acquire(path)
	require.NoError(t, err)
	defer lock.Release()

	_, err = Acquire(path)
	require.ErrorIs(t, err, ErrLocked)

	pid, ok := HolderPID(path)
	require.True(t, ok)
	assert.Equal(t, os.Getpid(), pid)
}

func TestReacquireAfterRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rompatchd.pid")

	lock, err := Acquire(path)
	require.NoError(t, err)
	require.NoError(t, lock.Release())

	lock, err = Acquire(path)
	require.NoError(t, err)
	require.NoError(t, lock.Release())
}

func TestAcquireCreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "deep", "rompatchd.pid")

	lock, err := Acquire(path)
	require.NoError(t, err)
	defer lock.Release()

	_, err = os.Stat(filepath.Dir(path))
	require.NoError(t, err)
}

func TestReleaseTwice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rompatchd.pid")

	lock, err := Acquire(path)
	require.NoError(t, err)
	require.NoError(t, lock.Release())
	require.NoError(t, lock.Release())
}

func TestHolderPID(t *testing.T) {
	dir := t.TempDir()

	_, ok := HolderPID(filepath.Join(dir, "missing.pid"))
	assert.False(t, ok)

	junk := filepath.Join(dir, "junk.pid")
	require.NoError(t, os.WriteFile(junk, []byte("not a pid\n"), 0644))
	_, ok = HolderPID(junk)
	assert.False(t, ok)
}
