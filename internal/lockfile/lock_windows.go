//go:build windows

package lockfile

import (
	"errors"
	"os"
	"syscall"

	"golang.org/x/sys/windows"
)

const (
	lockfileExclusiveLock   = 0x2
	lockfileFailImmediately = 0x1
)

// tryLock acquires an exclusive non-blocking lock on f using LockFileEx.
func tryLock(f *os.File) error {
	handle := windows.Handle(f.Fd())
	var overlapped windows.Overlapped

	err := windows.LockFileEx(
		handle,
		lockfileExclusiveLock|lockfileFailImmediately,
		0, // reserved
		1, // lock 1 byte
		0, // high-order 32 bits of byte range
		&overlapped,
	)
	if err != nil {
		// ERROR_LOCK_VIOLATION
		if errors.Is(err, syscall.Errno(33)) {
			return ErrLocked
		}
		return err
	}
	return nil
}

// unlock releases the lock on f.
func unlock(f *os.File) error {
	handle := windows.Handle(f.Fd())
	var overlapped windows.Overlapped

	return windows.UnlockFileEx(
		handle,
		0, // reserved
		1, // unlock 1 byte
		0, // high-order 32 bits of byte range
		&overlapped,
	)
}
