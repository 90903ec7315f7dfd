// Package match ranks cataloged patches against ROM files.
//
// Matching is signal-based: exact content hashes short-circuit to a
// certain match, and failing that a weighted blend of name and platform
// heuristics produces a score in [0,1] that is bucketed into a coarse
// confidence level. An empty result is the normal "nothing fits" outcome,
// never an error.
package match

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"rompatch/internal/catalog"
	"rompatch/internal/hashutil"
)

// Confidence buckets a match score. Order matters: a higher value is a
// stronger match, and callers may use a Confidence as a minimum filter.
type Confidence int

const (
	// None marks a score of zero; such candidates are omitted entirely.
	None Confidence = iota
	// Low is any nonzero score below the Medium threshold.
	Low
	// Medium is a score of at least 0.4.
	Medium
	// High is a score of at least 0.7.
	High
	// Exact is a content-hash hit; heuristics can never reach it.
	Exact
)

// Scoring weights and thresholds. These are product-tuning values; tests
// assert on them directly.
const (
	// scoreExactSHA1 and scoreExactCRC are the short-circuit scores for
	// content-hash hits. The CRC score is marginally lower so a SHA-1
	// confirmed entry always outranks a CRC-only one.
	scoreExactSHA1 = 1.0
	scoreExactCRC  = 0.99

	weightNameExact    = 0.7
	weightNameContains = 0.4
	weightPatchFile    = 0.15
	weightPlatform     = 0.15

	// maxHeuristicScore caps blended scores so no pile of weak signals
	// can masquerade as a hash hit.
	maxHeuristicScore = 0.95

	thresholdHigh   = 0.7
	thresholdMedium = 0.4
)

// String returns the confidence's symbolic name.
func (c Confidence) String() string {
	switch c {
	case Exact:
		return "exact"
	case High:
		return "high"
	case Medium:
		return "medium"
	case Low:
		return "low"
	default:
		return "none"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (c Confidence) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Confidence) UnmarshalText(text []byte) error {
	parsed, err := ParseConfidence(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseConfidence maps a symbolic name to a Confidence.
func ParseConfidence(s string) (Confidence, error) {
	switch strings.ToLower(s) {
	case "exact":
		return Exact, nil
	case "high":
		return High, nil
	case "medium":
		return Medium, nil
	case "low":
		return Low, nil
	case "none", "":
		return None, nil
	default:
		return None, fmt.Errorf("match: unknown confidence %q", s)
	}
}

// Match is one scored candidate for a ROM.
type Match struct {
	Entry      *catalog.Entry `json:"entry"`
	Confidence Confidence     `json:"confidence"`
	Score      float64        `json:"score"`
	Reasons    []string       `json:"reasons"`
}

// Compatible reports whether the match is strong enough to act on
// without user confirmation.
func (m Match) Compatible() bool {
	return m.Confidence >= High
}

// Source yields the candidate entries to score. *catalog.Catalog
// satisfies it.
type Source interface {
	All() []*catalog.Entry
}

// Hasher resolves a ROM file's identity hashes. The library package's
// index satisfies it with cached lookups.
type Hasher interface {
	Digest(path string) (sha string, crc uint32, size int64, err error)
}

type fileHasher struct{}

func (fileHasher) Digest(path string) (string, uint32, int64, error) {
	return hashutil.FileDigest(path)
}

// Matcher scores catalog entries against ROM files. It holds no mutable
// state and is safe for concurrent use.
type Matcher struct {
	source Source
	hasher Hasher
}

// New builds a matcher over the given candidate source. hasher resolves
// ROM hashes; nil hashes each file directly.
func New(source Source, hasher Hasher) *Matcher {
	if hasher == nil {
		hasher = fileHasher{}
	}
	return &Matcher{source: source, hasher: hasher}
}

// Options carries the optional knobs of FindMatches.
type Options struct {
	// Platform is the ROM's console family, when the caller knows it.
	Platform string

	// MinConfidence drops matches below the given bucket.
	MinConfidence Confidence
}

// romSignature is the per-ROM data every candidate is scored against.
type romSignature struct {
	sha      string
	crc      string
	norm     string
	platform string
}

func (m *Matcher) signature(romPath string, platform string) (romSignature, error) {
	sha, crc, _, err := m.hasher.Digest(romPath)
	if err != nil {
		return romSignature{}, fmt.Errorf("hash ROM: %w", err)
	}
	base := filepath.Base(romPath)
	return romSignature{
		sha:      sha,
		crc:      fmt.Sprintf("%08x", crc),
		norm:     Normalize(strings.TrimSuffix(base, filepath.Ext(base))),
		platform: platform,
	}, nil
}

// FindMatches scores every catalog entry against the ROM at romPath and
// returns the matches at or above opts.MinConfidence, strongest first.
// An empty slice means nothing matched; only I/O failures error.
func (m *Matcher) FindMatches(romPath string, opts Options) ([]Match, error) {
	sig, err := m.signature(romPath, opts.Platform)
	if err != nil {
		return nil, err
	}

	var matches []Match
	for _, entry := range m.source.All() {
		match, ok := score(entry, sig)
		if !ok || match.Confidence < opts.MinConfidence {
			continue
		}
		matches = append(matches, match)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	return matches, nil
}

// FindBestMatch returns the strongest match for the ROM, or nil when
// nothing reaches opts.MinConfidence.
func (m *Matcher) FindBestMatch(romPath string, opts Options) (*Match, error) {
	matches, err := m.FindMatches(romPath, opts)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}
	return &matches[0], nil
}

// BatchMatch runs FindMatches over a ROM set. The result maps each ROM
// path to its matches; ROMs that cannot be read or that match nothing are
// absent from the map.
func (m *Matcher) BatchMatch(romPaths []string, opts Options) map[string][]Match {
	results := make(map[string][]Match)
	for _, rom := range romPaths {
		matches, err := m.FindMatches(rom, opts)
		if err != nil || len(matches) == 0 {
			continue
		}
		results[rom] = matches
	}
	return results
}

// UnmatchedPatches returns the catalog entries that no ROM in the set
// matches at High or Exact confidence. A non-empty platform restricts the
// candidate entries to that platform and feeds the platform signal.
func (m *Matcher) UnmatchedPatches(romPaths []string, platform string) []*catalog.Entry {
	sigs := make([]romSignature, 0, len(romPaths))
	for _, rom := range romPaths {
		sig, err := m.signature(rom, platform)
		if err != nil {
			continue
		}
		sigs = append(sigs, sig)
	}

	var unmatched []*catalog.Entry
	for _, entry := range m.source.All() {
		if platform != "" && !strings.EqualFold(entry.Platform, platform) {
			continue
		}
		claimed := false
		for _, sig := range sigs {
			if match, ok := score(entry, sig); ok && match.Compatible() {
				claimed = true
				break
			}
		}
		if !claimed {
			unmatched = append(unmatched, entry)
		}
	}
	return unmatched
}

// score rates one entry against one ROM signature. ok is false when no
// signal fires at all.
func score(entry *catalog.Entry, sig romSignature) (Match, bool) {
	meta := entry.Metadata

	if meta.TargetROMSHA1 != "" && strings.EqualFold(meta.TargetROMSHA1, sig.sha) {
		return Match{
			Entry:      entry,
			Confidence: Exact,
			Score:      scoreExactSHA1,
			Reasons:    []string{"SHA-1 matches the target ROM hash"},
		}, true
	}
	if meta.TargetROMCRC32 != "" && strings.EqualFold(meta.TargetROMCRC32, sig.crc) {
		return Match{
			Entry:      entry,
			Confidence: Exact,
			Score:      scoreExactCRC,
			Reasons:    []string{"CRC32 matches the target ROM checksum"},
		}, true
	}

	var total float64
	var reasons []string

	// Name signals compare against the declared target ROM name, falling
	// back to the entry title (usually the patch filename stem).
	entryNorm := Normalize(meta.TargetROMName)
	if entryNorm == "" {
		entryNorm = Normalize(meta.Title)
	}
	switch {
	case sig.norm != "" && sig.norm == entryNorm:
		total += weightNameExact
		reasons = append(reasons, "normalized names match exactly")
	case sig.norm != "" && entryNorm != "" &&
		(strings.Contains(sig.norm, entryNorm) || strings.Contains(entryNorm, sig.norm)):
		total += weightNameContains
		reasons = append(reasons, "normalized names overlap")
	}

	if sig.norm != "" {
		patchName := filepath.Base(entry.Path)
		patchNorm := Normalize(strings.TrimSuffix(patchName, filepath.Ext(patchName)))
		if strings.Contains(patchNorm, sig.norm) {
			total += weightPatchFile
			reasons = append(reasons, "patch filename references the ROM")
		}
	}

	if sig.platform != "" && strings.EqualFold(entry.Platform, sig.platform) {
		total += weightPlatform
		reasons = append(reasons, "platform matches")
	}

	if total > maxHeuristicScore {
		total = maxHeuristicScore
	}

	confidence := bucket(total)
	if confidence == None {
		return Match{}, false
	}
	return Match{Entry: entry, Confidence: confidence, Score: total, Reasons: reasons}, true
}

// bucket maps a heuristic score to its confidence level.
func bucket(score float64) Confidence {
	switch {
	case score >= thresholdHigh:
		return High
	case score >= thresholdMedium:
		return Medium
	case score > 0:
		return Low
	default:
		return None
	}
}
