package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rompatch/internal/hashutil"
)

func fastOptions(dirs ...string) Options {
	return Options{
		Dirs:      dirs,
		Debounce:  100 * time.Millisecond,
		Stability: 100 * time.Millisecond,
	}
}

func startWatcher(t *testing.T, opts Options) *Watcher {
	t.Helper()
	w, err := New(opts)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	t.Cleanup(func() { _ = w.Stop() })
	return w
}

func waitForEvent(t *testing.T, w *Watcher, timeout time.Duration) Event {
	t.Helper()
	select {
	case ev := <-w.Events():
		return ev
	case <-time.After(timeout):
		t.Fatal("timeout waiting for event")
		return Event{}
	}
}

func TestNewRequiresDirs(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
}

func TestNewAppliesDefaults(t *testing.T) {
	w, err := New(Options{Dirs: []string{t.TempDir()}})
	require.NoError(t, err)
	defer w.fsWatcher.Close()

	assert.Equal(t, time.Second, w.debounce)
	assert.Equal(t, 500*time.Millisecond, w.stability)
	assert.True(t, w.exts[".ips"])
	assert.True(t, w.exts[".bps"])
	assert.True(t, w.exts[".ups"])
}

func TestNewNormalizesExtensions(t *testing.T) {
	w, err := New(Options{
		Dirs:       []string{t.TempDir()},
		Extensions: []string{"IPS", ".Bps", " ups "},
	})
	require.NoError(t, err)
	defer w.fsWatcher.Close()

	assert.True(t, w.exts[".ips"])
	assert.True(t, w.exts[".bps"])
	assert.True(t, w.exts[".ups"])
	assert.Len(t, w.exts, 3)
}

func TestStartRejectsMissingDir(t *testing.T) {
	w, err := New(fastOptions(filepath.Join(t.TempDir(), "absent")))
	require.NoError(t, err)
	defer w.fsWatcher.Close()

	require.Error(t, w.Start())
}

func TestStartRejectsFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "patch.ips")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	w, err := New(fastOptions(file))
	require.NoError(t, err)
	defer w.fsWatcher.Close()

	require.Error(t, w.Start())
}

func TestStartStop(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, fastOptions(dir))

	assert.Equal(t, []string{dir}, w.WatchedDirs())
	assert.Equal(t, 0, w.TrackedFiles())
}

func TestReportsSettledPatch(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, fastOptions(dir))

	path := filepath.Join(dir, "quest.ips")
	content := []byte("PATCH somebody's hunks EOF")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	ev := waitForEvent(t, w, 5*time.Second)
	assert.Equal(t, path, ev.Path)
	assert.Equal(t, OpAdd, ev.Op)
	assert.Equal(t, int64(len(content)), ev.Size)

	sha, crc, _, err := hashutil.FileDigest(path)
	require.NoError(t, err)
	assert.Equal(t, sha, ev.SHA1)
	assert.Equal(t, crc, ev.CRC32)

	// Reported files leave the state map until touched again.
	assert.Equal(t, 0, w.TrackedFiles())
}

func TestIgnoresOtherExtensions(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, fastOptions(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("notes"), 0o644))

	select {
	case ev := <-w.Events():
		t.Fatalf("unexpected event for %s", ev.Path)
	case <-time.After(700 * time.Millisecond):
	}
	assert.Equal(t, 0, w.TrackedFiles())
}

func TestDebouncesRepeatedWrites(t *testing.T) {
	dir := t.TempDir()
	opts := fastOptions(dir)
	opts.Debounce = 300 * time.Millisecond
	w := startWatcher(t, opts)

	path := filepath.Join(dir, "quest.bps")
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte{'v', byte('0' + i)}, 0o644))
		time.Sleep(100 * time.Millisecond)
	}

	// Only the final settled content is reported.
	events := 0
	timeout := time.After(5 * time.Second)
	for events == 0 {
		select {
		case <-w.Events():
			events++
		case <-timeout:
			t.Fatal("timeout waiting for event")
		}
	}

	select {
	case ev := <-w.Events():
		t.Fatalf("unexpected second event for %s", ev.Path)
	case <-time.After(time.Second):
	}
	assert.Equal(t, 1, events)
}

func TestReportsRemove(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, fastOptions(dir))

	path := filepath.Join(dir, "quest.ups")
	require.NoError(t, os.WriteFile(path, []byte("UPS1 data"), 0o644))

	ev := waitForEvent(t, w, 5*time.Second)
	require.Equal(t, OpAdd, ev.Op)

	require.NoError(t, os.Remove(path))

	ev = waitForEvent(t, w, 5*time.Second)
	assert.Equal(t, OpRemove, ev.Op)
	assert.Equal(t, path, ev.Path)
	assert.Empty(t, ev.SHA1)
}

func TestRecursiveWatchPicksUpNewSubdir(t *testing.T) {
	dir := t.TempDir()
	opts := fastOptions(dir)
	opts.Recursive = true
	w := startWatcher(t, opts)

	sub := filepath.Join(dir, "translations")
	require.NoError(t, os.Mkdir(sub, 0o755))
	time.Sleep(300 * time.Millisecond)

	path := filepath.Join(sub, "nested.ips")
	require.NoError(t, os.WriteFile(path, []byte("PATCH nested EOF"), 0o644))

	ev := waitForEvent(t, w, 5*time.Second)
	assert.Equal(t, path, ev.Path)
	assert.Equal(t, OpAdd, ev.Op)
}

func TestNonRecursiveIgnoresSubdir(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "deep")
	require.NoError(t, os.Mkdir(sub, 0o755))

	w := startWatcher(t, fastOptions(dir))

	require.NoError(t, os.WriteFile(filepath.Join(sub, "nested.ips"), []byte("PATCH"), 0o644))

	select {
	case ev := <-w.Events():
		t.Fatalf("unexpected event for %s", ev.Path)
	case <-time.After(700 * time.Millisecond):
	}
}

func TestOpString(t *testing.T) {
	assert.Equal(t, "add", OpAdd.String())
	assert.Equal(t, "remove", OpRemove.String())
	assert.Equal(t, "unknown", Op(9).String())
}
