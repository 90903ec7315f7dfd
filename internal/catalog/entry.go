package catalog

import (
	"strings"
	"time"

	"rompatch/pkg/patchfile"
)

// idLength is the number of leading hex characters of the file's SHA-1
// kept as the patch ID. IDs are the catalog's primary key; two files with
// identical bytes always produce the same ID.
const idLength = 16

// Metadata is the free-form descriptive record attached to a catalog
// entry. Every field is optional; the catalog never rejects a patch for
// missing metadata.
type Metadata struct {
	Title          string   `json:"title,omitempty" yaml:"title"`
	Author         string   `json:"author,omitempty" yaml:"author"`
	Version        string   `json:"version,omitempty" yaml:"version"`
	Description    string   `json:"description,omitempty" yaml:"description"`
	Language       string   `json:"language,omitempty" yaml:"language"`
	PatchType      string   `json:"patch_type,omitempty" yaml:"patch_type"`
	SourceURL      string   `json:"source_url,omitempty" yaml:"source_url"`
	ReleaseDate    string   `json:"release_date,omitempty" yaml:"release_date"`
	TargetROMName  string   `json:"target_rom_name,omitempty" yaml:"target_rom_name"`
	TargetROMCRC32 string   `json:"target_rom_crc32,omitempty" yaml:"target_rom_crc32"`
	TargetROMSHA1  string   `json:"target_rom_sha1,omitempty" yaml:"target_rom_sha1"`
	Notes          string   `json:"notes,omitempty" yaml:"notes"`
	Tags           []string `json:"tags,omitempty" yaml:"tags"`
}

// IsZero reports whether no metadata field is set.
func (m Metadata) IsZero() bool {
	return m.Title == "" && m.Author == "" && m.Version == "" &&
		m.Description == "" && m.Language == "" && m.PatchType == "" &&
		m.SourceURL == "" && m.ReleaseDate == "" && m.TargetROMName == "" &&
		m.TargetROMCRC32 == "" && m.TargetROMSHA1 == "" && m.Notes == "" &&
		len(m.Tags) == 0
}

// merge fills every unset field of m from other. Set fields win.
func (m *Metadata) merge(other Metadata) {
	if m.Title == "" {
		m.Title = other.Title
	}
	if m.Author == "" {
		m.Author = other.Author
	}
	if m.Version == "" {
		m.Version = other.Version
	}
	if m.Description == "" {
		m.Description = other.Description
	}
	if m.Language == "" {
		m.Language = other.Language
	}
	if m.PatchType == "" {
		m.PatchType = other.PatchType
	}
	if m.SourceURL == "" {
		m.SourceURL = other.SourceURL
	}
	if m.ReleaseDate == "" {
		m.ReleaseDate = other.ReleaseDate
	}
	if m.TargetROMName == "" {
		m.TargetROMName = other.TargetROMName
	}
	if m.TargetROMCRC32 == "" {
		m.TargetROMCRC32 = other.TargetROMCRC32
	}
	if m.TargetROMSHA1 == "" {
		m.TargetROMSHA1 = other.TargetROMSHA1
	}
	if m.Notes == "" {
		m.Notes = other.Notes
	}
	if len(m.Tags) == 0 {
		m.Tags = other.Tags
	}
}

// Entry is one cataloged patch file.
type Entry struct {
	// PatchID is the truncated SHA-1 of the file's bytes.
	PatchID string `json:"patch_id"`

	// Path is the absolute path the patch was cataloged from.
	Path string `json:"path"`

	// Format is the detected patch format.
	Format patchfile.Format `json:"format"`

	// Metadata is the descriptive record supplied at add time or later.
	Metadata Metadata `json:"metadata"`

	// Size is the patch file's size in bytes.
	Size int64 `json:"size"`

	// CRC32 is the patch file's checksum as 8 hex characters, used for
	// tamper and staleness detection by Verify.
	CRC32 string `json:"crc32"`

	// Added is when the entry was first cataloged.
	Added time.Time `json:"added"`

	// Platform optionally tags the console family the patch targets.
	Platform string `json:"platform,omitempty"`

	// Verified reports whether the last Verify call confirmed the file
	// still matches its recorded checksum.
	Verified bool `json:"verified"`
}

// clone returns a deep copy safe to hand to callers.
func (e *Entry) clone() *Entry {
	c := *e
	c.Metadata.Tags = append([]string(nil), e.Metadata.Tags...)
	return &c
}

// matchesQuery reports whether the free-text query matches the entry's
// descriptive fields. The query must already be lowercased.
func (e *Entry) matchesQuery(query string) bool {
	for _, field := range []string{
		e.Metadata.Title,
		e.Metadata.Description,
		e.Metadata.Author,
		e.Metadata.TargetROMName,
	} {
		if strings.Contains(strings.ToLower(field), query) {
			return true
		}
	}
	for _, tag := range e.Metadata.Tags {
		if strings.Contains(strings.ToLower(tag), query) {
			return true
		}
	}
	return false
}
