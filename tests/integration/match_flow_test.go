//go:build integration

package integration

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"hash/crc32"
	"os"
	"testing"
	"time"

	"rompatch/internal/catalog"
	"rompatch/internal/library"
	"rompatch/internal/match"
	"rompatch/pkg/patchfile"
)

// TestLibraryDigestCache scans a ROM tree twice and checks digests are
// reused, then invalidated when content changes.
func TestLibraryDigestCache(t *testing.T) {
	env := NewTestEnv(t)
	lib := env.OpenLibrary()

	onePath, _ := env.MakeROM("one.sfc", 8*1024)
	env.MakeROM("two.sfc", 8*1024)

	opts := library.ScanOptions{Recursive: true, Extensions: []string{".sfc"}}
	first, err := lib.Scan(env.ROMDir, opts)
	AssertNoError(t, err, "first scan")
	AssertEqual(t, 2, len(first), "two ROMs scanned")

	hashedAt := make(map[string]int64)
	sha := make(map[string]string)
	for _, r := range first {
		AssertEqual(t, 40, len(r.SHA1), "sha1 length")
		AssertTrue(t, r.Size > 0, "size recorded")
		hashedAt[r.Path] = r.HashedAtNs
		sha[r.Path] = r.SHA1
	}

	second, err := lib.Scan(env.ROMDir, opts)
	AssertNoError(t, err, "second scan")
	for _, r := range second {
		AssertEqual(t, hashedAt[r.Path], r.HashedAtNs, "unchanged ROM is not re-hashed")
	}

	// Rewrite one ROM and push its mtime forward so the change is
	// unambiguous to the size+mtime key.
	data, err := os.ReadFile(onePath)
	AssertNoError(t, err, "read rom")
	data[0] ^= 0xFF
	AssertNoError(t, os.WriteFile(onePath, data, 0644), "rewrite rom")
	AssertNoError(t, os.Chtimes(onePath, time.Now(), time.Now().Add(2*time.Second)), "bump mtime")

	third, err := lib.Scan(env.ROMDir, opts)
	AssertNoError(t, err, "third scan")
	for _, r := range third {
		if r.Path == onePath {
			AssertTrue(t, r.HashedAtNs > hashedAt[r.Path], "changed ROM re-hashed")
			AssertTrue(t, r.SHA1 != sha[r.Path], "digest reflects new content")
		} else {
			AssertEqual(t, hashedAt[r.Path], r.HashedAtNs, "other ROM untouched")
		}
	}

	count, err := lib.Count()
	AssertNoError(t, err, "count")
	AssertEqual(t, 2, count, "two rows cached")
}

// TestLibraryPrune drops rows whose files are gone.
func TestLibraryPrune(t *testing.T) {
	env := NewTestEnv(t)
	lib := env.OpenLibrary()

	keepPath, _ := env.MakeROM("keep.gba", 4*1024)
	dropPath, _ := env.MakeROM("drop.gba", 4*1024)

	_, err := lib.Scan(env.ROMDir, library.ScanOptions{Extensions: []string{".gba"}})
	AssertNoError(t, err, "scan")

	AssertNoError(t, os.Remove(dropPath), "delete rom")
	pruned, err := lib.Prune()
	AssertNoError(t, err, "prune")
	AssertEqual(t, 1, pruned, "one stale row pruned")

	paths, err := lib.Paths()
	AssertNoError(t, err, "paths")
	AssertEqual(t, 1, len(paths), "one row left")
	AssertEqual(t, keepPath, paths[0], "surviving row is the live file")
}

// TestMatcherSignals builds a catalog spanning every match signal and
// checks ranking, filtering, and the unmatched report against one ROM.
func TestMatcherSignals(t *testing.T) {
	env := NewTestEnv(t)
	cat := env.OpenCatalog()
	lib := env.OpenLibrary()

	romPath, romData := env.MakeROM("Starlight Quest (USA).sfc", 32*1024)
	romSHA := sha1.Sum(romData)
	romCRC := fmt.Sprintf("%08x", crc32.ChecksumIEEE(romData))

	// Every patch carries distinct edits so the content-derived IDs
	// stay unique.
	addPatch := func(name, platform string, meta catalog.Metadata) *catalog.Entry {
		t.Helper()
		path := env.WritePatch(name, patchfile.FormatIPS, romData, env.Mutate(romData, 4, 0))
		if !meta.IsZero() {
			env.WriteSidecar(path, meta)
		}
		entry, err := cat.Add(path, catalog.AddOptions{Platform: platform})
		AssertNoError(t, err, "add "+name)
		return entry
	}

	bySHA := addPatch("mystery-hack.ips", "snes", catalog.Metadata{
		Title:         "Mystery Hack",
		TargetROMSHA1: hex.EncodeToString(romSHA[:]),
	})
	byCRC := addPatch("checksum-only.ips", "snes", catalog.Metadata{
		Title:          "Checksum Only",
		TargetROMCRC32: romCRC,
	})
	byName := addPatch("renamed.ips", "snes", catalog.Metadata{
		Title:         "Renamed Release",
		TargetROMName: "Starlight Quest (Japan)",
	})
	byFile := addPatch("starlight-quest-hard-mode.ips", "snes", catalog.Metadata{})
	addPatch("unrelated.ips", "gba", catalog.Metadata{Title: "Different Game"})

	matcher := match.New(cat, lib)

	matches, err := matcher.FindMatches(romPath, match.Options{Platform: "snes"})
	AssertNoError(t, err, "find matches")
	AssertEqual(t, 4, len(matches), "four entries carry a signal")

	AssertEqual(t, bySHA.PatchID, matches[0].Entry.PatchID, "SHA-1 hit ranks first")
	AssertEqual(t, match.Exact, matches[0].Confidence, "SHA-1 confidence")
	AssertEqual(t, 1.0, matches[0].Score, "SHA-1 score")

	AssertEqual(t, byCRC.PatchID, matches[1].Entry.PatchID, "CRC hit ranks second")
	AssertEqual(t, match.Exact, matches[1].Confidence, "CRC confidence")

	AssertEqual(t, byName.PatchID, matches[2].Entry.PatchID, "name hit ranks third")
	AssertEqual(t, match.High, matches[2].Confidence, "name plus platform reaches high")

	AssertEqual(t, byFile.PatchID, matches[3].Entry.PatchID, "filename hit ranks last")

	// Tightening the floor trims from the bottom.
	matches, err = matcher.FindMatches(romPath, match.Options{Platform: "snes", MinConfidence: match.Exact})
	AssertNoError(t, err, "exact-only matches")
	AssertEqual(t, 2, len(matches), "only hash hits are exact")

	best, err := matcher.FindBestMatch(romPath, match.Options{})
	AssertNoError(t, err, "best match")
	AssertTrue(t, best != nil, "a best match exists")
	AssertEqual(t, bySHA.PatchID, best.Entry.PatchID, "best match is the SHA-1 hit")
}

// TestMatcherBatchAndUnmatched runs the library-wide reports.
func TestMatcherBatchAndUnmatched(t *testing.T) {
	env := NewTestEnv(t)
	cat := env.OpenCatalog()
	lib := env.OpenLibrary()

	romPath, romData := env.MakeROM("Cave Runner (Europe).gba", 16*1024)
	strayPath, _ := env.MakeROM("Blank Cart (USA).gba", 16*1024)
	romSHA := sha1.Sum(romData)

	matchedPath := env.WritePatch("cave.ips", patchfile.FormatIPS, romData, env.Mutate(romData, 4, 0))
	env.WriteSidecar(matchedPath, catalog.Metadata{
		Title:         "Cave Runner Hard",
		TargetROMSHA1: hex.EncodeToString(romSHA[:]),
	})
	matched, err := cat.Add(matchedPath, catalog.AddOptions{Platform: "gba"})
	AssertNoError(t, err, "add matched patch")

	orphanPath := env.WritePatch("orphan.ips", patchfile.FormatIPS, romData, env.Mutate(romData, 6, 0))
	env.WriteSidecar(orphanPath, catalog.Metadata{
		Title:         "Lost Translation",
		TargetROMSHA1: "0000000000000000000000000000000000000000",
	})
	orphan, err := cat.Add(orphanPath, catalog.AddOptions{Platform: "gba"})
	AssertNoError(t, err, "add orphan patch")

	matcher := match.New(cat, lib)

	results := matcher.BatchMatch([]string{romPath, strayPath}, match.Options{})
	if _, ok := results[romPath]; !ok {
		t.Fatalf("expected matches for %s", romPath)
	}
	if _, ok := results[strayPath]; ok {
		t.Fatalf("stray ROM should match nothing")
	}

	unmatched := matcher.UnmatchedPatches([]string{romPath, strayPath}, "gba")
	AssertEqual(t, 1, len(unmatched), "one patch has no ROM")
	AssertEqual(t, orphan.PatchID, unmatched[0].PatchID, "the orphan is reported")
	for _, e := range unmatched {
		if e.PatchID == matched.PatchID {
			t.Fatalf("matched patch reported as unmatched")
		}
	}
}
