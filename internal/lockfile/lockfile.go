// Package lockfile guards against concurrent daemon instances with an
// exclusively locked pid file.
package lockfile

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// ErrLocked is returned when another process holds the lock.
var ErrLocked = errors.New("lockfile: already held by another process")

// Lock is a held pid file lock.
type Lock struct {
	path string
	file *os.File
}

// Acquire takes a non-blocking exclusive lock on the pid file at path,
// creating it and its parent directory as needed, and records the
// current pid in it. It returns ErrLocked while another process holds
// the lock.
func Acquire(path string) (*Lock, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("create lock directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := tryLock(f); err != nil {
		f.Close()
		if errors.Is(err, ErrLocked) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}

	// The pid is advisory, for diagnostics; the flock is the guard.
	if err := f.Truncate(0); err != nil {
		unlock(f)
		f.Close()
		return nil, fmt.Errorf("truncate lock file: %w", err)
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0); err != nil {
		unlock(f)
		f.Close()
		return nil, fmt.Errorf("write pid: %w", err)
	}

	return &Lock{path: path, file: f}, nil
}

// Path returns the pid file path.
func (l *Lock) Path() string {
	return l.path
}

// Release drops the lock and removes the pid file. Releasing an already
// released lock is a no-op.
func (l *Lock) Release() error {
	if l.file == nil {
		return nil
	}

	unlock(l.file)
	err := l.file.Close()
	l.file = nil

	if rmErr := os.Remove(l.path); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
		err = rmErr
	}
	return err
}

// HolderPID reads the pid recorded in the lock file at path. It reports
// false when the file is missing or holds no pid.
func HolderPID(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(string(bytes.TrimSpace(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}
