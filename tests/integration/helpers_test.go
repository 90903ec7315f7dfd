//go:build integration

// Package integration holds end-to-end tests for rompatch.
//
// These tests cover the complete flow from patch files on disk through
// cataloging, matching, and the daemon's control socket.
//
// Run with: go test -tags=integration ./tests/integration/...
package integration

import (
	"encoding/binary"
	"hash/crc32"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"rompatch/internal/catalog"
	"rompatch/internal/library"
	"rompatch/pkg/patchfile"
)

// =============================================================================
// Test Environment Setup
// =============================================================================

// TestEnv holds the directories and stores an integration test works in.
type TestEnv struct {
	T        *testing.T
	TempDir  string
	PatchDir string
	ROMDir   string
	DataDir  string

	Catalog *catalog.Catalog
	Library *library.Library

	rng *rand.Rand
}

// NewTestEnv creates the directory layout every scenario starts from.
func NewTestEnv(t *testing.T) *TestEnv {
	t.Helper()

	tempDir := t.TempDir()
	env := &TestEnv{
		T:        t,
		TempDir:  tempDir,
		PatchDir: filepath.Join(tempDir, "patches"),
		ROMDir:   filepath.Join(tempDir, "roms"),
		DataDir:  filepath.Join(tempDir, "data"),
		rng:      rand.New(rand.NewSource(0x524f4d50)),
	}

	for _, dir := range []string{env.PatchDir, env.ROMDir, env.DataDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatalf("failed to create %s: %v", dir, err)
		}
	}
	return env
}

// OpenCatalog opens (or reopens) the catalog document under DataDir.
func (env *TestEnv) OpenCatalog() *catalog.Catalog {
	env.T.Helper()
	env.Catalog = catalog.Open(filepath.Join(env.DataDir, "catalog.json"))
	return env.Catalog
}

// OpenLibrary opens the ROM digest cache under DataDir.
func (env *TestEnv) OpenLibrary() *library.Library {
	env.T.Helper()

	lib, err := library.Open(filepath.Join(env.DataDir, "library.db"))
	if err != nil {
		env.T.Fatalf("failed to open library: %v", err)
	}
	env.Library = lib
	env.T.Cleanup(func() { lib.Close() })
	return lib
}

// =============================================================================
// ROM and Patch Builders
// =============================================================================

// MakeROM writes a deterministic pseudo-ROM into ROMDir and returns its
// path and content.
func (env *TestEnv) MakeROM(name string, size int) (string, []byte) {
	env.T.Helper()

	data := make([]byte, size)
	env.rng.Read(data)
	copy(data, "ROMPATCH TEST "+name)

	path := filepath.Join(env.ROMDir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		env.T.Fatalf("failed to write ROM %s: %v", name, err)
	}
	return path, data
}

// Mutate returns a copy of data with deterministic scattered edits and
// an optional appended tail. Edits XOR with a nonzero byte so every
// touched position really changes.
func (env *TestEnv) Mutate(data []byte, edits, grow int) []byte {
	env.T.Helper()

	out := make([]byte, len(data), len(data)+grow)
	copy(out, data)

	for i := 0; i < edits; i++ {
		length := 1 + env.rng.Intn(64)
		offset := env.rng.Intn(len(out) - length)
		for j := 0; j < length; j++ {
			out[offset+j] ^= byte(1 + env.rng.Intn(255))
		}
	}

	if grow > 0 {
		tail := make([]byte, grow)
		env.rng.Read(tail)
		out = append(out, tail...)
	}
	return out
}

// WritePatch encodes original to modified in the given format and writes
// the patch into PatchDir.
func (env *TestEnv) WritePatch(name string, format patchfile.Format, original, modified []byte) string {
	env.T.Helper()

	var data []byte
	switch format {
	case patchfile.FormatIPS:
		data = patchfile.DiffIPS(original, modified)
	case patchfile.FormatBPS:
		data = encodeBPS(original, modified)
	case patchfile.FormatUPS:
		data = encodeUPS(original, modified)
	default:
		env.T.Fatalf("cannot encode format %v", format)
	}

	path := filepath.Join(env.PatchDir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		env.T.Fatalf("failed to write patch %s: %v", name, err)
	}
	return path
}

// WriteSidecar drops a metadata sidecar next to the given patch file.
func (env *TestEnv) WriteSidecar(patchPath string, meta catalog.Metadata) {
	env.T.Helper()

	data, err := yaml.Marshal(meta)
	if err != nil {
		env.T.Fatalf("failed to marshal sidecar: %v", err)
	}

	base := patchPath[:len(patchPath)-len(filepath.Ext(patchPath))]
	if err := os.WriteFile(base+".yaml", data, 0644); err != nil {
		env.T.Fatalf("failed to write sidecar: %v", err)
	}
}

// encodeBPS emits a linear BPS patch: runs matching the source at the
// same offset become SourceRead actions, everything else TargetRead.
func encodeBPS(source, target []byte) []byte {
	const (
		opSourceRead = 0
		opTargetRead = 1
	)

	var actions []byte
	i := 0
	for i < len(target) {
		j := i
		for j < len(target) && j < len(source) && target[j] == source[j] {
			j++
		}
		if j > i {
			actions = patchfile.AppendNum(actions, uint64(j-i-1)<<2|opSourceRead)
			i = j
			continue
		}
		for j < len(target) && (j >= len(source) || target[j] != source[j]) {
			j++
		}
		actions = patchfile.AppendNum(actions, uint64(j-i-1)<<2|opTargetRead)
		actions = append(actions, target[i:j]...)
		i = j
	}

	buf := []byte("BPS1")
	buf = patchfile.AppendNum(buf, uint64(len(source)))
	buf = patchfile.AppendNum(buf, uint64(len(target)))
	buf = patchfile.AppendNum(buf, 0)
	buf = append(buf, actions...)
	buf = binary.LittleEndian.AppendUint32(buf, crc32.ChecksumIEEE(source))
	buf = binary.LittleEndian.AppendUint32(buf, crc32.ChecksumIEEE(target))
	return binary.LittleEndian.AppendUint32(buf, crc32.ChecksumIEEE(buf))
}

// encodeUPS emits an XOR-run UPS patch over the zero-padded pair.
func encodeUPS(source, target []byte) []byte {
	size := len(source)
	if len(target) > size {
		size = len(target)
	}

	var body []byte
	last := 0
	for i := 0; i < size; i++ {
		if byteAt(source, i) == byteAt(target, i) {
			continue
		}
		body = patchfile.AppendNum(body, uint64(i-last))
		for i < size && byteAt(source, i) != byteAt(target, i) {
			body = append(body, byteAt(source, i)^byteAt(target, i))
			i++
		}
		body = append(body, 0x00)
		last = i + 1
	}

	buf := []byte("UPS1")
	buf = patchfile.AppendNum(buf, uint64(len(source)))
	buf = patchfile.AppendNum(buf, uint64(len(target)))
	buf = append(buf, body...)
	buf = binary.LittleEndian.AppendUint32(buf, crc32.ChecksumIEEE(source))
	buf = binary.LittleEndian.AppendUint32(buf, crc32.ChecksumIEEE(target))
	return binary.LittleEndian.AppendUint32(buf, crc32.ChecksumIEEE(buf))
}

func byteAt(b []byte, i int) byte {
	if i < len(b) {
		return b[i]
	}
	return 0
}

// =============================================================================
// Assertion Helpers
// =============================================================================

// WaitFor polls cond until it holds or the timeout passes.
func WaitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %v", msg, err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error, msg string) {
	t.Helper()
	if err == nil {
		t.Fatalf("%s: expected error but got nil", msg)
	}
}

// AssertEqual fails the test if expected != actual.
func AssertEqual[T comparable](t *testing.T, expected, actual T, msg string) {
	t.Helper()
	if expected != actual {
		t.Fatalf("%s: expected %v, got %v", msg, expected, actual)
	}
}

// AssertTrue fails the test if condition is false.
func AssertTrue(t *testing.T, condition bool, msg string) {
	t.Helper()
	if !condition {
		t.Fatalf("%s: expected true", msg)
	}
}

// AssertFalse fails the test if condition is true.
func AssertFalse(t *testing.T, condition bool, msg string) {
	t.Helper()
	if condition {
		t.Fatalf("%s: expected false", msg)
	}
}
