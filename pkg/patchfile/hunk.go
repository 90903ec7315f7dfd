package patchfile

import (
	"fmt"
	"os"
)

// Hunk is a single contiguous modification a patch makes to its source:
// the byte offset, the original bytes at that offset as captured when the
// hunk was built, and the replacement bytes. Hunks are immutable once built
// and are never persisted; they are a pure function of (source bytes, patch
// bytes, format).
type Hunk struct {
	Offset   int64
	Original []byte
	Data     []byte
}

// End returns the exclusive end offset of the replacement range.
func (h Hunk) End() int64 {
	return h.Offset + int64(len(h.Data))
}

// hunkMergeRun is the length of an equal-byte streak that closes a hunk
// during generic diffing; shorter streaks merge neighboring differences
// into one hunk.
const hunkMergeRun = 4

// ExtractHunks computes the discrete modification ranges a patch produces
// over a source image, plus the patched image's total size. IPS hunks come
// straight from the record stream; BPS and UPS are cursor-based, so the
// patch is fully applied in memory and the result diffed against the source.
func ExtractHunks(sourcePath, patchPath string) ([]Hunk, int64, error) {
	format := Detect(patchPath)
	if format == FormatUnknown {
		return nil, 0, fmt.Errorf("%w: %s", ErrUnknownFormat, patchPath)
	}

	source, err := os.ReadFile(sourcePath)
	if err != nil {
		return nil, 0, fmt.Errorf("read source: %w", err)
	}
	patch, err := os.ReadFile(patchPath)
	if err != nil {
		return nil, 0, fmt.Errorf("read patch: %w", err)
	}

	return extractHunks(source, patch, format)
}

func extractHunks(source, patch []byte, format Format) ([]Hunk, int64, error) {
	switch format {
	case FormatIPS:
		return ipsHunks(source, patch)
	case FormatBPS, FormatUPS:
		out, _, err := ApplyBytes(source, patch, false)
		if err != nil {
			return nil, 0, err
		}
		return diffHunks(source, out), int64(len(out)), nil
	default:
		return nil, 0, ErrUnknownFormat
	}
}

// ipsHunks maps each IPS record to one hunk without diffing.
func ipsHunks(source, patch []byte) ([]Hunk, int64, error) {
	records, err := parseIPSRecords(patch)
	if err != nil {
		return nil, 0, err
	}

	size := int64(len(source))
	hunks := make([]Hunk, 0, len(records))
	for _, r := range records {
		if r.end() > size {
			size = r.end()
		}
		hunks = append(hunks, Hunk{
			Offset:   r.offset,
			Original: captureOriginal(source, r.offset, r.end()),
			Data:     r.payload(),
		})
	}
	return hunks, size, nil
}

// diffHunks scans two buffers for divergent regions, merging differences
// separated by fewer than hunkMergeRun equal bytes into a single hunk.
// Trailing original bytes past the modified buffer's end are a size change,
// not a hunk.
func diffHunks(original, modified []byte) []Hunk {
	var hunks []Hunk
	i := 0
	for i < len(modified) {
		if i < len(original) && original[i] == modified[i] {
			i++
			continue
		}

		start := i
		j, same := i, 0
		for j < len(modified) {
			if j < len(original) && original[j] == modified[j] {
				same++
				if same >= hunkMergeRun {
					j++
					break
				}
			} else {
				same = 0
			}
			j++
		}
		end := j - same

		hunks = append(hunks, Hunk{
			Offset:   int64(start),
			Original: captureOriginal(original, int64(start), int64(end)),
			Data:     append([]byte(nil), modified[start:end]...),
		})
		i = j
	}
	return hunks
}

// captureOriginal copies the source bytes in [start, end), clamped to the
// source's actual length.
func captureOriginal(source []byte, start, end int64) []byte {
	if start >= int64(len(source)) {
		return nil
	}
	if end > int64(len(source)) {
		end = int64(len(source))
	}
	return append([]byte(nil), source[start:end]...)
}
