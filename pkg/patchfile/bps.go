package patchfile

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// BPS layout: a 4-byte "BPS1" marker, variable-length integers for source
// size, target size, and metadata length, the metadata bytes, an action
// stream, and a 12-byte footer of three little-endian CRC32 values (source,
// target, patch). Each action is one variable-length integer whose low two
// bits select the operation and whose remaining bits, plus one, give the run
// length. The two copy operations maintain persistent relative cursors moved
// by signed offsets.

// BPS actions.
const (
	bpsSourceRead = 0 // copy from source at the output cursor
	bpsTargetRead = 1 // copy literal bytes from the patch stream
	bpsSourceCopy = 2 // copy from source at the relocatable source cursor
	bpsTargetCopy = 3 // copy from already-written output at the relocatable target cursor
)

// bpsFooterLen is the three-CRC32 footer size shared by BPS and UPS.
const bpsFooterLen = 12

// applyBPS decodes and replays a BPS action stream against source. It
// returns the produced target buffer and, when verify is set, whether the
// recomputed source and target CRC32s match the footer.
func applyBPS(source, patch []byte, verify bool) ([]byte, bool, error) {
	if len(patch) < len(magicBPS)+bpsFooterLen {
		return nil, false, fmt.Errorf("%w: BPS patch too short", ErrCorruptPatch)
	}
	if string(patch[:len(magicBPS)]) != magicBPS {
		return nil, false, fmt.Errorf("%w: bad BPS magic", ErrCorruptPatch)
	}

	footer := len(patch) - bpsFooterLen
	body := patch[:footer]
	pos := len(magicBPS)

	srcSize, n, err := DecodeNum(body[pos:])
	if err != nil {
		return nil, false, fmt.Errorf("decode BPS source size: %w", err)
	}
	pos += n

	tgtSize, n, err := DecodeNum(body[pos:])
	if err != nil {
		return nil, false, fmt.Errorf("decode BPS target size: %w", err)
	}
	pos += n

	metaSize, n, err := DecodeNum(body[pos:])
	if err != nil {
		return nil, false, fmt.Errorf("decode BPS metadata size: %w", err)
	}
	pos += n

	if metaSize > uint64(footer-pos) {
		return nil, false, fmt.Errorf("%w: BPS metadata length exceeds patch", ErrCorruptPatch)
	}
	pos += int(metaSize)

	if srcSize != uint64(len(source)) {
		return nil, false, fmt.Errorf("%w: BPS expects %d source bytes, have %d", ErrSourceSize, srcSize, len(source))
	}
	if tgtSize > maxDeclaredSize {
		return nil, false, fmt.Errorf("%w: BPS declares unreasonable target size %d", ErrCorruptPatch, tgtSize)
	}

	out := make([]byte, tgtSize)
	srcLen := int64(len(source))
	tgtLen := int64(tgtSize)
	var outPos, srcRel, tgtRel int64

	for pos < footer {
		data, n, err := DecodeNum(body[pos:])
		if err != nil {
			return nil, false, fmt.Errorf("decode BPS action: %w", err)
		}
		pos += n
		length := int64(data>>2) + 1
		if outPos+length > tgtLen {
			return nil, false, fmt.Errorf("%w: BPS action writes past target size", ErrCorruptPatch)
		}

		switch data & 3 {
		case bpsSourceRead:
			if outPos+length > srcLen {
				return nil, false, fmt.Errorf("%w: BPS source read past source end", ErrCorruptPatch)
			}
			copy(out[outPos:outPos+length], source[outPos:outPos+length])
			outPos += length

		case bpsTargetRead:
			if int64(footer-pos) < length {
				return nil, false, fmt.Errorf("%w: BPS literal data truncated", ErrCorruptPatch)
			}
			copy(out[outPos:outPos+length], body[pos:pos+int(length)])
			pos += int(length)
			outPos += length

		case bpsSourceCopy:
			off, n, err := decodeSigned(body[pos:])
			if err != nil {
				return nil, false, fmt.Errorf("decode BPS source copy offset: %w", err)
			}
			pos += n
			srcRel += off
			if srcRel < 0 || srcRel+length > srcLen {
				return nil, false, fmt.Errorf("%w: BPS source copy out of range", ErrCorruptPatch)
			}
			copy(out[outPos:outPos+length], source[srcRel:srcRel+length])
			srcRel += length
			outPos += length

		case bpsTargetCopy:
			off, n, err := decodeSigned(body[pos:])
			if err != nil {
				return nil, false, fmt.Errorf("decode BPS target copy offset: %w", err)
			}
			pos += n
			tgtRel += off
			if tgtRel < 0 || tgtRel >= outPos {
				return nil, false, fmt.Errorf("%w: BPS target copy ahead of write cursor", ErrCorruptPatch)
			}
			// Byte-at-a-time on purpose: the run may overlap bytes it is
			// itself writing, which is how BPS encodes repetition.
			for i := int64(0); i < length; i++ {
				out[outPos] = out[tgtRel]
				outPos++
				tgtRel++
			}
		}
	}

	if outPos != tgtLen {
		return nil, false, fmt.Errorf("%w: BPS actions fill %d of %d target bytes", ErrCorruptPatch, outPos, tgtLen)
	}

	valid := true
	if verify {
		srcCRC := binary.LittleEndian.Uint32(patch[footer:])
		tgtCRC := binary.LittleEndian.Uint32(patch[footer+4:])
		valid = crc32.ChecksumIEEE(source) == srcCRC && crc32.ChecksumIEEE(out) == tgtCRC
	}
	return out, valid, nil
}
