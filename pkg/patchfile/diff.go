package patchfile

import (
	"fmt"
	"os"

	"rompatch/internal/fsutil"
)

// ipsBreakRun is the length of an equal-byte run that ends a divergent
// record during diff creation. Shorter equal runs are cheaper to embed in
// the record than the 5-byte header a new record would cost.
const ipsBreakRun = 6

// ipsEOFOffset is the 24-bit offset value whose bytes spell the stream
// terminator. A record must not begin there or readers stop early.
const ipsEOFOffset = 0x454F46

// CreateIPS diffs an original and modified file and writes an IPS patch
// reproducing the modification. Offsets beyond the format's 24-bit address
// space cannot be represented and are skipped; callers diffing images larger
// than 16 MiB should validate the offset range beforehand.
func CreateIPS(originalPath, modifiedPath, outPatchPath string) error {
	original, err := os.ReadFile(originalPath)
	if err != nil {
		return fmt.Errorf("read original: %w", err)
	}
	modified, err := os.ReadFile(modifiedPath)
	if err != nil {
		return fmt.Errorf("read modified: %w", err)
	}

	if err := fsutil.WriteFile(outPatchPath, DiffIPS(original, modified)); err != nil {
		return fmt.Errorf("write patch: %w", err)
	}
	return nil
}

// DiffIPS builds an IPS patch buffer from two in-memory images.
func DiffIPS(original, modified []byte) []byte {
	buf := []byte(magicIPS)

	i := 0
	for i < len(modified) {
		if i < len(original) && original[i] == modified[i] {
			i++
			continue
		}

		start := i
		if start > ipsMaxOffset {
			// Nothing past the 24-bit address space is representable.
			break
		}
		if start == ipsEOFOffset {
			start--
		}

		// Extend the record until the length cap or a long-enough equal run.
		j, same := i, 0
		for j < len(modified) && j-start < ipsMaxRecordLen {
			if j < len(original) && original[j] == modified[j] {
				same++
				if same >= ipsBreakRun {
					j++
					break
				}
			} else {
				same = 0
			}
			j++
		}
		end := j - same

		buf = appendIPSRecord(buf, start, modified[start:end])
		i = j
	}

	return append(buf, ipsTerminator...)
}

// appendIPSRecord appends one literal record: 3-byte big-endian offset,
// 2-byte big-endian length, payload.
func appendIPSRecord(buf []byte, offset int, data []byte) []byte {
	buf = append(buf, byte(offset>>16), byte(offset>>8), byte(offset))
	buf = append(buf, byte(len(data)>>8), byte(len(data)))
	return append(buf, data...)
}
