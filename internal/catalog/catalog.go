// Package catalog maintains the on-disk index of known patch files.
//
// The catalog is content-addressed: an entry's ID is derived from the
// patch file's bytes, so adding the same file twice is a no-op and two
// copies of one patch collapse into a single entry. All entries live in
// one JSON document that is rewritten atomically after every mutation;
// a missing or corrupt document is treated as an empty catalog, never
// as a fatal condition.
package catalog

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"rompatch/internal/fsutil"
	"rompatch/internal/hashutil"
	"rompatch/internal/logging"
	"rompatch/pkg/patchfile"
)

// documentVersion is written into every persisted catalog document.
const documentVersion = 1

// document is the persisted shape of the catalog.
type document struct {
	Version int       `json:"version"`
	Updated time.Time `json:"updated"`
	Patches []*Entry  `json:"patches"`
}

// Catalog is a durable, deduplicated index of patch files. All methods
// are safe for concurrent use; mutations serialize on an internal lock
// and persist before returning.
type Catalog struct {
	path string

	mu      sync.RWMutex
	entries map[string]*Entry
}

// Open loads the catalog document at path, or starts an empty catalog if
// the document is missing or unreadable. It never fails: an unusable
// document is logged and ignored, and the first successful mutation
// rewrites it.
func Open(path string) *Catalog {
	c := &Catalog{
		path:    path,
		entries: make(map[string]*Entry),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.Warn("catalog document unreadable, starting empty", "path", path, "error", err)
		}
		return c
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		logging.Warn("catalog document corrupt, starting empty", "path", path, "error", err)
		return c
	}

	for _, e := range doc.Patches {
		if e != nil && e.PatchID != "" {
			c.entries[e.PatchID] = e
		}
	}
	return c
}

// Path returns the catalog document's path.
func (c *Catalog) Path() string {
	return c.path
}

// Len returns the number of cataloged patches.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// AddOptions carries the optional fields of Add. The zero value is valid.
type AddOptions struct {
	// Metadata seeds the entry's descriptive record.
	Metadata Metadata

	// Platform tags the entry with a console family.
	Platform string
}

// Add catalogs the patch file at path. A missing file or one whose format
// is not recognized is a normal "not a patch" outcome: Add returns a nil
// entry and no error. A metadata sidecar next to the file (same stem,
// .yaml/.yml/.json) fills in fields opts.Metadata leaves empty. Adding a
// file whose bytes are already cataloged returns the existing entry
// unchanged without rewriting the document.
func (c *Catalog) Add(path string, opts AddOptions) (*Entry, error) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return nil, nil
	}

	format := patchfile.Detect(path)
	if format == patchfile.FormatUnknown {
		return nil, nil
	}

	sha, crc, size, err := hashutil.FileDigest(path)
	if err != nil {
		return nil, fmt.Errorf("hash patch: %w", err)
	}
	id := sha[:idLength]

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve path: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[id]; ok {
		return existing.clone(), nil
	}

	meta := opts.Metadata
	if sidecar, ok := SidecarMetadata(path); ok {
		meta.merge(sidecar)
	}
	if meta.Title == "" {
		meta.Title = stem(path)
	}

	entry := &Entry{
		PatchID:  id,
		Path:     abs,
		Format:   format,
		Metadata: meta,
		Size:     size,
		CRC32:    fmt.Sprintf("%08x", crc),
		Added:    time.Now().UTC(),
		Platform: opts.Platform,
	}
	c.entries[id] = entry

	if err := c.persistLocked(); err != nil {
		delete(c.entries, id)
		return nil, err
	}
	return entry.clone(), nil
}

// AddDirectory catalogs every patch file under dir, descending into
// subdirectories when recursive is set. Files that fail to add are
// skipped with a warning; the returned slice holds one entry per file
// that cataloged (or was already present).
func (c *Catalog) AddDirectory(dir string, opts AddOptions, recursive bool) ([]*Entry, error) {
	var added []*Entry

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if !recursive && path != dir {
				return fs.SkipDir
			}
			return nil
		}
		if !isPatchExt(path) {
			return nil
		}

		entry, err := c.Add(path, opts)
		if err != nil {
			logging.Warn("skipping patch", "path", path, "error", err)
			return nil
		}
		if entry != nil {
			added = append(added, entry)
		}
		return nil
	})
	if err != nil {
		return added, fmt.Errorf("scan %s: %w", dir, err)
	}
	return added, nil
}

// Remove deletes the entry with the given ID and rewrites the document.
// It reports whether an entry was removed.
func (c *Catalog) Remove(patchID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[patchID]
	if !ok {
		return false, nil
	}
	delete(c.entries, patchID)

	if err := c.persistLocked(); err != nil {
		c.entries[patchID] = entry
		return false, err
	}
	return true, nil
}

// Get returns the entry with the given ID.
func (c *Catalog) Get(patchID string) (*Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[patchID]
	if !ok {
		return nil, false
	}
	return entry.clone(), true
}

// All returns every entry ordered by add time.
func (c *Catalog) All() []*Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.allLocked()
}

func (c *Catalog) allLocked() []*Entry {
	entries := make([]*Entry, 0, len(c.entries))
	for _, e := range c.entries {
		entries = append(entries, e.clone())
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Added.Equal(entries[j].Added) {
			return entries[i].PatchID < entries[j].PatchID
		}
		return entries[i].Added.Before(entries[j].Added)
	})
	return entries
}

// UpdateMetadata replaces the entry's metadata and rewrites the document.
// It reports whether the entry exists.
func (c *Catalog) UpdateMetadata(patchID string, meta Metadata) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[patchID]
	if !ok {
		return false, nil
	}

	previous := entry.Metadata
	entry.Metadata = meta

	if err := c.persistLocked(); err != nil {
		entry.Metadata = previous
		return false, err
	}
	return true, nil
}

// SearchByPlatform returns entries whose platform tag equals platform,
// ignoring case.
func (c *Catalog) SearchByPlatform(platform string) []*Entry {
	return c.filter(func(e *Entry) bool {
		return strings.EqualFold(e.Platform, platform)
	})
}

// SearchByType returns entries whose metadata patch type equals
// patchType, ignoring case.
func (c *Catalog) SearchByType(patchType string) []*Entry {
	return c.filter(func(e *Entry) bool {
		return strings.EqualFold(e.Metadata.PatchType, patchType)
	})
}

// SearchByROMCRC32 returns entries targeting the given ROM CRC32,
// compared as hex strings ignoring case.
func (c *Catalog) SearchByROMCRC32(crc string) []*Entry {
	return c.filter(func(e *Entry) bool {
		return e.Metadata.TargetROMCRC32 != "" && strings.EqualFold(e.Metadata.TargetROMCRC32, crc)
	})
}

// SearchByROMSHA1 returns entries targeting the given ROM SHA-1,
// ignoring case.
func (c *Catalog) SearchByROMSHA1(sha string) []*Entry {
	return c.filter(func(e *Entry) bool {
		return e.Metadata.TargetROMSHA1 != "" && strings.EqualFold(e.Metadata.TargetROMSHA1, sha)
	})
}

// Search returns entries whose title, description, author, target ROM
// name, or tags contain the query, ignoring case.
func (c *Catalog) Search(query string) []*Entry {
	q := strings.ToLower(query)
	return c.filter(func(e *Entry) bool {
		return e.matchesQuery(q)
	})
}

func (c *Catalog) filter(keep func(*Entry) bool) []*Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []*Entry
	for _, e := range c.allLocked() {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

// Verify re-reads the entry's file and compares its checksum to the
// recorded value. On a match the entry is marked verified and the
// document rewritten; a missing file or a checksum mismatch clears the
// flag and returns false. An unknown ID returns false.
func (c *Catalog) Verify(patchID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[patchID]
	if !ok {
		return false
	}

	crc, _, err := hashutil.FileCRC32(entry.Path)
	if err != nil || fmt.Sprintf("%08x", crc) != entry.CRC32 {
		entry.Verified = false
		return false
	}

	entry.Verified = true
	if err := c.persistLocked(); err != nil {
		logging.Warn("persisting verify result failed", "patch_id", patchID, "error", err)
	}
	return true
}

// Stats aggregates the catalog's contents.
type Stats struct {
	TotalPatches int            `json:"total_patches"`
	TotalBytes   int64          `json:"total_bytes"`
	Verified     int            `json:"verified"`
	ByFormat     map[string]int `json:"by_format"`
	ByType       map[string]int `json:"by_type"`
	ByPlatform   map[string]int `json:"by_platform"`
}

// Statistics returns aggregate counts over all entries. Entries without
// a type or platform tag are not counted in those maps.
func (c *Catalog) Statistics() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := Stats{
		ByFormat:   make(map[string]int),
		ByType:     make(map[string]int),
		ByPlatform: make(map[string]int),
	}
	for _, e := range c.entries {
		stats.TotalPatches++
		stats.TotalBytes += e.Size
		if e.Verified {
			stats.Verified++
		}
		stats.ByFormat[e.Format.String()]++
		if e.Metadata.PatchType != "" {
			stats.ByType[e.Metadata.PatchType]++
		}
		if e.Platform != "" {
			stats.ByPlatform[e.Platform]++
		}
	}
	return stats
}

func (c *Catalog) persistLocked() error {
	doc := document{
		Version: documentVersion,
		Updated: time.Now().UTC(),
		Patches: c.allLocked(),
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode catalog: %w", err)
	}
	if err := fsutil.WriteFile(c.path, data); err != nil {
		return fmt.Errorf("write catalog: %w", err)
	}
	return nil
}

// stem returns the file name without directory or extension.
func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// isPatchExt reports whether the path carries one of the recognized patch
// extensions, ignoring case.
func isPatchExt(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, want := range patchfile.Extensions() {
		if ext == want {
			return true
		}
	}
	return false
}
