// Package overlay presents a patched view of a ROM file without writing
// the patched image to disk. A Stream reads bytes from the backing file
// for ranges no patch touches and from in-memory hunk data for ranges a
// patch modifies, including ranges past the physical end of the file.
//
// Streams are built either from an explicit hunk list or directly from
// patch files; stacking several patches composes their hunk lists in
// order, with later patches taking precedence wherever they overlap.
package overlay

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"rompatch/pkg/patchfile"
)

// ErrClosed is returned by operations on a closed stream.
var ErrClosed = errors.New("overlay: stream closed")

// Stream is a read-only composite of a source file and an ordered hunk
// list. It satisfies io.Reader, io.ReaderAt, io.Seeker, and io.Closer;
// ReadAt is safe for concurrent use, the positioned calls are serialized
// internally.
type Stream struct {
	path     string
	fileSize int64
	size     int64
	hunks    []patchfile.Hunk

	mu   sync.RWMutex
	file *os.File
	pos  int64
}

var _ interface {
	io.Reader
	io.ReaderAt
	io.Seeker
	io.Closer
} = (*Stream)(nil)

// New opens sourcePath and overlays the given hunks on it. The stream's
// size is the larger of the file size and the furthest hunk end, so hunks
// may extend the view past the physical end of the file; a patch that
// shrinks its target cannot shrink the view. Later hunks in the list
// shadow earlier ones byte-for-byte where they overlap.
func New(sourcePath string, hunks []patchfile.Hunk) (*Stream, error) {
	file, err := os.Open(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat source: %w", err)
	}

	size := info.Size()
	for _, h := range hunks {
		if h.End() > size {
			size = h.End()
		}
	}

	return &Stream{
		path:     sourcePath,
		file:     file,
		fileSize: info.Size(),
		size:     size,
		hunks:    append([]patchfile.Hunk(nil), hunks...),
	}, nil
}

// NewPatched builds a stream presenting sourcePath as patched by a single
// patch file of any supported format.
func NewPatched(sourcePath, patchPath string) (*Stream, error) {
	hunks, _, err := patchfile.ExtractHunks(sourcePath, patchPath)
	if err != nil {
		return nil, fmt.Errorf("extract hunks: %w", err)
	}
	return New(sourcePath, hunks)
}

// NewMultiPatched builds a stream stacking several patches. Every patch's
// hunks are extracted against the same original source and concatenated
// in argument order, so at any offset more than one patch touches, the
// last patch given wins.
func NewMultiPatched(sourcePath string, patchPaths ...string) (*Stream, error) {
	var hunks []patchfile.Hunk
	for _, p := range patchPaths {
		h, _, err := patchfile.ExtractHunks(sourcePath, p)
		if err != nil {
			return nil, fmt.Errorf("extract hunks from %s: %w", p, err)
		}
		hunks = append(hunks, h...)
	}
	return New(sourcePath, hunks)
}

// Name returns the path of the backing source file.
func (s *Stream) Name() string {
	return s.path
}

// Size returns the total size of the patched view in bytes.
func (s *Stream) Size() int64 {
	return s.size
}

// Tell returns the current read position.
func (s *Stream) Tell() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pos
}

// Hunks returns the number of hunks overlaid on the source.
func (s *Stream) Hunks() int {
	return len(s.hunks)
}

// Read reads up to len(p) bytes from the current position and advances it.
func (s *Stream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return 0, ErrClosed
	}
	if s.pos >= s.size {
		return 0, io.EOF
	}

	n := len(p)
	if int64(n) > s.size-s.pos {
		n = int(s.size - s.pos)
	}
	if err := s.fill(p[:n], s.pos); err != nil {
		return 0, err
	}
	s.pos += int64(n)
	return n, nil
}

// ReadAt reads len(p) bytes starting at off without moving the stream
// position. It returns io.EOF with a short count when off+len(p) passes
// the end of the view.
func (s *Stream) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("overlay: negative read offset %d", off)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.file == nil {
		return 0, ErrClosed
	}
	if off >= s.size {
		return 0, io.EOF
	}

	n := len(p)
	if int64(n) > s.size-off {
		n = int(s.size - off)
	}
	if err := s.fill(p[:n], off); err != nil {
		return 0, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Seek sets the position for the next Read. Seeking past the end is
// allowed; the next Read reports io.EOF.
func (s *Stream) Seek(offset int64, whence int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return 0, ErrClosed
	}

	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = s.pos
	case io.SeekEnd:
		base = s.size
	default:
		return 0, fmt.Errorf("overlay: invalid whence %d", whence)
	}

	pos := base + offset
	if pos < 0 {
		return 0, fmt.Errorf("overlay: negative position %d", pos)
	}
	s.pos = pos
	return pos, nil
}

// Close releases the backing file. Further operations return ErrClosed.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return ErrClosed
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// fill composes the bytes for [off, off+len(buf)). The base layer comes
// from the backing file, zero past its physical end; hunks are then copied
// over it in list order, so the last hunk covering a byte decides it.
func (s *Stream) fill(buf []byte, off int64) error {
	base := 0
	if off < s.fileSize {
		want := len(buf)
		if int64(want) > s.fileSize-off {
			want = int(s.fileSize - off)
		}
		n, err := s.file.ReadAt(buf[:want], off)
		if err != nil && err != io.EOF {
			return fmt.Errorf("read source: %w", err)
		}
		base = n
	}
	for i := base; i < len(buf); i++ {
		buf[i] = 0
	}

	end := off + int64(len(buf))
	for _, h := range s.hunks {
		if h.End() <= off || h.Offset >= end {
			continue
		}
		from, to := h.Offset, h.End()
		if from < off {
			from = off
		}
		if to > end {
			to = end
		}
		copy(buf[from-off:to-off], h.Data[from-h.Offset:to-h.Offset])
	}
	return nil
}
