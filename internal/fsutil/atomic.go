// Package fsutil provides atomic file write helpers.
//
// Both the catalog document and codec output files must never be observable
// in a half-written state, so every write goes through a temporary file in
// the destination directory followed by an atomic rename.
package fsutil

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// File permission constants.
const (
	// PermFile is the permission for regular output files.
	PermFile os.FileMode = 0644

	// PermDir is the permission for created directories.
	PermDir os.FileMode = 0755
)

// ErrAtomicWriteFailed indicates the final rename step failed.
var ErrAtomicWriteFailed = errors.New("fsutil: atomic write failed")

// AtomicWriter writes to a temporary file and renames it into place on
// Commit. An abandoned writer leaves no trace at the destination path.
type AtomicWriter struct {
	path     string
	tempFile *os.File
	tempPath string
}

// NewAtomicWriter creates a writer targeting path. The parent directory is
// created if missing. The temporary file lives in the same directory so the
// final rename stays on one filesystem.
func NewAtomicWriter(path string) (*AtomicWriter, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, PermDir); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	tempPath := path + ".tmp." + randomSuffix()
	tempFile, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, PermFile)
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}

	return &AtomicWriter{
		path:     path,
		tempFile: tempFile,
		tempPath: tempPath,
	}, nil
}

// Write writes data to the temporary file.
func (w *AtomicWriter) Write(p []byte) (n int, err error) {
	return w.tempFile.Write(p)
}

// Commit syncs, closes, and atomically moves the temporary file to the final
// path.
func (w *AtomicWriter) Commit() error {
	if err := w.tempFile.Sync(); err != nil {
		w.Abort()
		return fmt.Errorf("sync: %w", err)
	}

	if err := w.tempFile.Close(); err != nil {
		os.Remove(w.tempPath)
		return fmt.Errorf("close: %w", err)
	}

	if err := os.Rename(w.tempPath, w.path); err != nil {
		os.Remove(w.tempPath)
		return fmt.Errorf("%w: %v", ErrAtomicWriteFailed, err)
	}

	return nil
}

// Abort cancels the write and removes the temporary file.
func (w *AtomicWriter) Abort() {
	w.tempFile.Close()
	os.Remove(w.tempPath)
}

// WriteFile writes data to a file atomically.
func WriteFile(path string, data []byte) error {
	writer, err := NewAtomicWriter(path)
	if err != nil {
		return err
	}

	if _, err := writer.Write(data); err != nil {
		writer.Abort()
		return err
	}

	return writer.Commit()
}

// randomSuffix generates a random suffix for temporary files.
func randomSuffix() string {
	var b [8]byte
	rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
