// Package watcher monitors patch directories and reports files that have
// settled long enough to be cataloged.
package watcher

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"rompatch/internal/hashutil"
)

// Op is the kind of change a watched patch file underwent.
type Op int

const (
	// OpAdd reports a patch file that was created or rewritten and has
	// held still for the stability window.
	OpAdd Op = iota
	// OpRemove reports a patch file that was deleted or renamed away.
	OpRemove
)

// String returns the string representation of the op.
func (o Op) String() string {
	switch o {
	case OpAdd:
		return "add"
	case OpRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// Event represents a settled change to a watched patch file. Remove
// events carry no digest.
type Event struct {
	Path      string
	Op        Op
	SHA1      string
	CRC32     uint32
	Size      int64
	Timestamp time.Time
}

// DefaultExtensions are the patch file extensions watched when no
// explicit list is configured.
var DefaultExtensions = []string{".ips", ".bps", ".ups"}

// Options configures a Watcher.
type Options struct {
	// Dirs are the directories to watch.
	Dirs []string
	// Recursive watches subdirectories as well.
	Recursive bool
	// Debounce is how long a file must stay quiet after its last
	// filesystem event before it is considered settled.
	Debounce time.Duration
	// Stability is how long the file's size and mtime must hold still
	// after the quiet period before it is hashed and reported.
	Stability time.Duration
	// Extensions limits watching to the given extensions. Empty means
	// DefaultExtensions.
	Extensions []string
}

// fileState tracks a file between its last filesystem event and the
// moment it is reported.
type fileState struct {
	lastEvent time.Time

	// Stability snapshot; snapAt is zero until one is taken.
	size    int64
	modTime time.Time
	snapAt  time.Time
}

// Watcher monitors directories for patch files settling into place.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	dirs      []string
	recursive bool
	debounce  time.Duration
	stability time.Duration
	exts      map[string]bool

	// State tracking: path -> settle progress
	state   map[string]*fileState
	stateMu sync.RWMutex

	// Event channel
	events chan Event
	errors chan error

	// Control
	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a new patch directory watcher.
func New(opts Options) (*Watcher, error) {
	if len(opts.Dirs) == 0 {
		return nil, errors.New("watcher: no directories to watch")
	}
	if opts.Debounce <= 0 {
		opts.Debounce = time.Second
	}
	if opts.Stability <= 0 {
		opts.Stability = 500 * time.Millisecond
	}

	exts := opts.Extensions
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	extSet := make(map[string]bool, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		extSet[ext] = true
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fsWatcher: fsWatcher,
		dirs:      opts.Dirs,
		recursive: opts.Recursive,
		debounce:  opts.Debounce,
		stability: opts.Stability,
		exts:      extSet,
		state:     make(map[string]*fileState),
		events:    make(chan Event, 100),
		errors:    make(chan error, 10),
		done:      make(chan struct{}),
	}

	return w, nil
}

// Events returns the channel of settled patch events.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Errors returns the channel of errors.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Start begins watching all configured directories. Files already
// present are not reported; the initial catalog scan covers those.
func (w *Watcher) Start() error {
	for _, dir := range w.dirs {
		absDir, err := filepath.Abs(dir)
		if err != nil {
			return err
		}

		info, err := os.Stat(absDir)
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return fmt.Errorf("watch %s: not a directory", dir)
		}

		if w.recursive {
			err = filepath.WalkDir(absDir, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if d.IsDir() {
					return w.fsWatcher.Add(path)
				}
				return nil
			})
			if err != nil {
				return err
			}
		} else {
			if err := w.fsWatcher.Add(absDir); err != nil {
				return err
			}
		}
	}

	w.wg.Add(2)
	go w.eventLoop()
	go w.settleLoop()

	return nil
}

// Stop gracefully shuts down the watcher.
func (w *Watcher) Stop() error {
	close(w.done)
	w.wg.Wait()
	close(w.events)
	close(w.errors)
	return w.fsWatcher.Close()
}

// watchesPath reports whether the path has a watched extension.
func (w *Watcher) watchesPath(path string) bool {
	return w.exts[strings.ToLower(filepath.Ext(path))]
}

// touch records filesystem activity on a file and re-arms its
// stability snapshot.
func (w *Watcher) touch(path string, now time.Time) {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()

	if st, ok := w.state[path]; ok {
		st.lastEvent = now
		st.snapAt = time.Time{}
		return
	}
	w.state[path] = &fileState{lastEvent: now}
}

// eventLoop handles fsnotify events.
func (w *Watcher) eventLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleFsEvent(event)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			default:
			}
		}
	}
}

// handleFsEvent routes a single fsnotify event.
func (w *Watcher) handleFsEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		w.stateMu.Lock()
		_, tracked := w.state[event.Name]
		delete(w.state, event.Name)
		w.stateMu.Unlock()

		if tracked || w.watchesPath(event.Name) {
			ev := Event{Path: event.Name, Op: OpRemove, Timestamp: time.Now()}
			select {
			case w.events <- ev:
			default:
			}
		}
		return
	}

	// Only track writes and creates
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}

	info, err := os.Stat(event.Name)
	if err != nil {
		return
	}

	if info.IsDir() {
		if w.recursive && event.Op&fsnotify.Create != 0 {
			w.watchTree(event.Name)
		}
		return
	}

	if !w.watchesPath(event.Name) {
		return
	}

	w.touch(event.Name, time.Now())
}

// watchTree registers a directory created after Start. Patch files
// inside arrive without their own events when the directory was moved
// in whole, so they are tracked here.
func (w *Watcher) watchTree(dir string) {
	now := time.Now()
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.fsWatcher.Add(path)
		}
		if w.watchesPath(path) {
			w.touch(path, now)
		}
		return nil
	})
	if err != nil {
		select {
		case w.errors <- err:
		default:
		}
	}
}

// tick returns the settle check interval.
func (w *Watcher) tick() time.Duration {
	step := w.debounce
	if w.stability < step {
		step = w.stability
	}
	step /= 2
	if step < 50*time.Millisecond {
		step = 50 * time.Millisecond
	}
	if step > time.Second {
		step = time.Second
	}
	return step
}

// settleLoop periodically checks for files that have settled.
func (w *Watcher) settleLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.tick())
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return

		case now := <-ticker.C:
			w.checkSettled(now)
		}
	}
}

// candidate is a quiet file copied out of the state map.
type candidate struct {
	path  string
	state fileState
}

// checkSettled finds files past the debounce window, verifies they held
// still for the stability window, and reports them. File I/O happens
// without the lock so eventLoop never blocks on hashing.
func (w *Watcher) checkSettled(now time.Time) {
	threshold := now.Add(-w.debounce)

	// Phase 1: collect quiet files while holding the lock (fast)
	var quiet []candidate
	w.stateMu.RLock()
	for path, st := range w.state {
		if st.lastEvent.Before(threshold) {
			quiet = append(quiet, candidate{path: path, state: *st})
		}
	}
	w.stateMu.RUnlock()

	for _, c := range quiet {
		info, err := os.Stat(c.path)
		if err != nil {
			// Vanished between the event and the check; the remove
			// event, if any, was already emitted.
			w.stateMu.Lock()
			delete(w.state, c.path)
			w.stateMu.Unlock()
			continue
		}

		// Phase 2: take or refresh the stability snapshot.
		if c.state.snapAt.IsZero() || info.Size() != c.state.size || !info.ModTime().Equal(c.state.modTime) {
			w.stateMu.Lock()
			if st, ok := w.state[c.path]; ok && st.lastEvent.Equal(c.state.lastEvent) {
				st.size = info.Size()
				st.modTime = info.ModTime()
				st.snapAt = now
			}
			w.stateMu.Unlock()
			continue
		}

		if now.Sub(c.state.snapAt) < w.stability {
			continue
		}

		// Phase 3: hash without the lock, then re-check for
		// modifications during hashing before reporting.
		sha, crc, size, err := hashutil.FileDigest(c.path)
		if err != nil {
			select {
			case w.errors <- err:
			default:
			}
			continue
		}

		w.stateMu.Lock()
		st, ok := w.state[c.path]
		if !ok || !st.lastEvent.Equal(c.state.lastEvent) {
			// Touched while hashing; let it settle again.
			w.stateMu.Unlock()
			continue
		}

		ev := Event{
			Path:      c.path,
			Op:        OpAdd,
			SHA1:      sha,
			CRC32:     crc,
			Size:      size,
			Timestamp: now,
		}

		select {
		case w.events <- ev:
			// Remove from state to prevent re-reporting until the
			// next modification.
			delete(w.state, c.path)
		default:
			// Event channel full, try again later
		}
		w.stateMu.Unlock()
	}
}

// WatchedDirs returns the list of configured directories.
func (w *Watcher) WatchedDirs() []string {
	return w.dirs
}

// TrackedFiles returns the current number of files waiting to settle.
func (w *Watcher) TrackedFiles() int {
	w.stateMu.RLock()
	defer w.stateMu.RUnlock()
	return len(w.state)
}
