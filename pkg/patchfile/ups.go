package patchfile

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// UPS layout: a 4-byte "UPS1" marker, variable-length integers for source
// and target size, a stream of (skip, XOR run) pairs, and the same 12-byte
// CRC32 footer as BPS. The output starts as a copy of the source padded or
// truncated to the target size; each pair advances the cursor by the decoded
// skip and then XORs patch bytes into the output until a zero byte ends the
// run. The zero terminator is consumed without being applied and the cursor
// moves one position past it.

// applyUPS decodes and replays a UPS delta against source.
func applyUPS(source, patch []byte, verify bool) ([]byte, bool, error) {
	if len(patch) < len(magicUPS)+bpsFooterLen {
		return nil, false, fmt.Errorf("%w: UPS patch too short", ErrCorruptPatch)
	}
	if string(patch[:len(magicUPS)]) != magicUPS {
		return nil, false, fmt.Errorf("%w: bad UPS magic", ErrCorruptPatch)
	}

	footer := len(patch) - bpsFooterLen
	body := patch[:footer]
	pos := len(magicUPS)

	srcSize, n, err := DecodeNum(body[pos:])
	if err != nil {
		return nil, false, fmt.Errorf("decode UPS source size: %w", err)
	}
	pos += n

	tgtSize, n, err := DecodeNum(body[pos:])
	if err != nil {
		return nil, false, fmt.Errorf("decode UPS target size: %w", err)
	}
	pos += n

	if srcSize != uint64(len(source)) {
		return nil, false, fmt.Errorf("%w: UPS expects %d source bytes, have %d", ErrSourceSize, srcSize, len(source))
	}
	if tgtSize > maxDeclaredSize {
		return nil, false, fmt.Errorf("%w: UPS declares unreasonable target size %d", ErrCorruptPatch, tgtSize)
	}

	out := make([]byte, tgtSize)
	copy(out, source)
	tgtLen := int64(tgtSize)
	var cur int64

	for pos < footer {
		skip, n, err := DecodeNum(body[pos:])
		if err != nil {
			return nil, false, fmt.Errorf("decode UPS skip: %w", err)
		}
		pos += n
		if skip > maxDeclaredSize || cur+int64(skip) > maxDeclaredSize {
			return nil, false, fmt.Errorf("%w: UPS cursor out of range", ErrCorruptPatch)
		}
		cur += int64(skip)

		for {
			if pos >= footer {
				return nil, false, fmt.Errorf("%w: unterminated UPS run", ErrCorruptPatch)
			}
			b := body[pos]
			pos++
			if b == 0 {
				cur++
				break
			}
			// XOR bytes addressed past the declared target size are
			// discarded; shrinking patches may carry runs that cancel
			// source bytes beyond the target end.
			if cur < tgtLen {
				out[cur] ^= b
			}
			cur++
		}
	}

	valid := true
	if verify {
		srcCRC := binary.LittleEndian.Uint32(patch[footer:])
		tgtCRC := binary.LittleEndian.Uint32(patch[footer+4:])
		valid = crc32.ChecksumIEEE(source) == srcCRC && crc32.ChecksumIEEE(out) == tgtCRC
	}
	return out, valid, nil
}
