package library

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rompatch/internal/hashutil"
	"rompatch/internal/match"
)

var _ match.Hasher = (*Library)(nil)

func openLibrary(t *testing.T) *Library {
	t.Helper()
	lib, err := Open(filepath.Join(t.TempDir(), "library.db"))
	require.NoError(t, err)
	t.Cleanup(func() { lib.Close() })
	return lib
}

func writeROMFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func TestOpenCreatesParentDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deep", "nested", "library.db")

	lib, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, lib.Close())

	_, err = os.Stat(path)
	require.NoError(t, err)
}

func TestCloseNilDB(t *testing.T) {
	lib := &Library{}
	assert.NoError(t, lib.Close())
}

func TestDigest_MatchesDirectHash(t *testing.T) {
	lib := openLibrary(t)
	rom := writeROMFile(t, t.TempDir(), "game.sfc", []byte("rom payload"))

	wantSHA, wantCRC, wantSize, err := hashutil.FileDigest(rom)
	require.NoError(t, err)

	sha, crc, size, err := lib.Digest(rom)
	require.NoError(t, err)
	assert.Equal(t, wantSHA, sha)
	assert.Equal(t, wantCRC, crc)
	assert.Equal(t, wantSize, size)

	count, err := lib.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestDigest_ServesUnchangedFilesFromCache(t *testing.T) {
	lib := openLibrary(t)
	rom := writeROMFile(t, t.TempDir(), "game.sfc", []byte("rom payload"))

	_, _, _, err := lib.Digest(rom)
	require.NoError(t, err)

	rows, err := lib.All()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	firstHashedAt := rows[0].HashedAtNs

	// Unchanged size and mtime: the second call must not rehash.
	_, _, _, err = lib.Digest(rom)
	require.NoError(t, err)

	rows, err = lib.All()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, firstHashedAt, rows[0].HashedAtNs)
}

func TestDigest_RehashesWhenSizeChanges(t *testing.T) {
	lib := openLibrary(t)
	dir := t.TempDir()
	rom := writeROMFile(t, dir, "game.sfc", []byte("version one"))

	firstSHA, _, _, err := lib.Digest(rom)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(rom, []byte("version two, longer"), 0o644))

	sha, _, size, err := lib.Digest(rom)
	require.NoError(t, err)
	assert.NotEqual(t, firstSHA, sha)
	assert.Equal(t, int64(len("version two, longer")), size)

	count, err := lib.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestDigest_RehashesWhenMtimeChanges(t *testing.T) {
	lib := openLibrary(t)
	dir := t.TempDir()
	rom := writeROMFile(t, dir, "game.sfc", []byte("aaaa"))

	firstSHA, _, _, err := lib.Digest(rom)
	require.NoError(t, err)

	// Same length, different bytes; force a distinct mtime so staleness
	// does not depend on filesystem timestamp granularity.
	require.NoError(t, os.WriteFile(rom, []byte("bbbb"), 0o644))
	later := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(rom, later, later))

	sha, _, _, err := lib.Digest(rom)
	require.NoError(t, err)
	assert.NotEqual(t, firstSHA, sha)
}

func TestDigest_MissingFile(t *testing.T) {
	lib := openLibrary(t)
	_, _, _, err := lib.Digest(filepath.Join(t.TempDir(), "missing.sfc"))
	require.Error(t, err)
}

func TestForget(t *testing.T) {
	lib := openLibrary(t)
	rom := writeROMFile(t, t.TempDir(), "game.sfc", []byte("rom"))

	_, _, _, err := lib.Digest(rom)
	require.NoError(t, err)

	gone, err := lib.Forget(rom)
	require.NoError(t, err)
	assert.True(t, gone)

	gone, err = lib.Forget(rom)
	require.NoError(t, err)
	assert.False(t, gone)

	count, err := lib.Count()
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestPrune(t *testing.T) {
	lib := openLibrary(t)
	dir := t.TempDir()
	keep := writeROMFile(t, dir, "keep.sfc", []byte("keep"))
	drop := writeROMFile(t, dir, "drop.sfc", []byte("drop"))

	_, _, _, err := lib.Digest(keep)
	require.NoError(t, err)
	_, _, _, err = lib.Digest(drop)
	require.NoError(t, err)

	require.NoError(t, os.Remove(drop))

	pruned, err := lib.Prune()
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)

	paths, err := lib.Paths()
	require.NoError(t, err)
	absKeep, err := filepath.Abs(keep)
	require.NoError(t, err)
	assert.Equal(t, []string{absKeep}, paths)
}

func TestAll_OrderedByPath(t *testing.T) {
	lib := openLibrary(t)
	dir := t.TempDir()
	for _, name := range []string{"zebra.sfc", "alpha.sfc", "middle.sfc"} {
		rom := writeROMFile(t, dir, name, []byte(name))
		_, _, _, err := lib.Digest(rom)
		require.NoError(t, err)
	}

	rows, err := lib.All()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	for i := 1; i < len(rows); i++ {
		assert.Less(t, rows[i-1].Path, rows[i].Path)
	}
}

func TestScan(t *testing.T) {
	lib := openLibrary(t)
	dir := t.TempDir()
	writeROMFile(t, dir, "top.sfc", []byte("top"))
	writeROMFile(t, dir, "upper.SFC", []byte("upper"))
	writeROMFile(t, dir, "notes.txt", []byte("not a rom"))
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	writeROMFile(t, sub, "deep.gba", []byte("deep"))

	roms, err := lib.Scan(dir, ScanOptions{})
	require.NoError(t, err)
	assert.Len(t, roms, 2)

	roms, err = lib.Scan(dir, ScanOptions{Recursive: true})
	require.NoError(t, err)
	assert.Len(t, roms, 3)

	// Filters accept extensions with or without the leading dot.
	roms, err = lib.Scan(dir, ScanOptions{Recursive: true, Extensions: []string{"gba"}})
	require.NoError(t, err)
	require.Len(t, roms, 1)
	assert.Equal(t, "deep.gba", filepath.Base(roms[0].Path))
}

func TestScan_MissingDirectory(t *testing.T) {
	lib := openLibrary(t)
	_, err := lib.Scan(filepath.Join(t.TempDir(), "absent"), ScanOptions{})
	require.Error(t, err)
}
