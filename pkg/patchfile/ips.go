package patchfile

import "fmt"

// IPS layout: a 5-byte "PATCH" marker, a stream of records, and a 3-byte
// "EOF" terminator. Each record is a 3-byte big-endian offset followed by a
// 2-byte big-endian length. A zero length marks an RLE record: 2 bytes of
// run length and 1 fill byte follow instead of literal data. The format
// carries no checksum and addresses at most 16 MiB.

const (
	ipsTerminator = "EOF"

	// ipsMaxRecordLen is the largest run a single record can carry.
	ipsMaxRecordLen = 0xFFFF

	// ipsMaxOffset is the last offset the 3-byte address field can express.
	ipsMaxOffset = 0xFFFFFF
)

// ipsRecord is one decoded IPS record.
type ipsRecord struct {
	offset int64
	data   []byte // literal payload; nil for RLE records
	runLen int    // RLE run length
	fill   byte   // RLE fill value
	rle    bool
}

// end returns the exclusive end offset the record writes to.
func (r ipsRecord) end() int64 {
	if r.rle {
		return r.offset + int64(r.runLen)
	}
	return r.offset + int64(len(r.data))
}

// payload returns the bytes the record writes, materializing RLE runs.
func (r ipsRecord) payload() []byte {
	if !r.rle {
		return r.data
	}
	p := make([]byte, r.runLen)
	for i := range p {
		p[i] = r.fill
	}
	return p
}

// parseIPSRecords decodes the record stream of an IPS patch. The returned
// records alias the patch buffer for literal payloads.
func parseIPSRecords(patch []byte) ([]ipsRecord, error) {
	if len(patch) < len(magicIPS)+len(ipsTerminator) {
		return nil, fmt.Errorf("%w: IPS patch too short", ErrCorruptPatch)
	}
	if string(patch[:len(magicIPS)]) != magicIPS {
		return nil, fmt.Errorf("%w: bad IPS magic", ErrCorruptPatch)
	}

	var records []ipsRecord
	pos := len(magicIPS)
	for {
		if pos+3 > len(patch) {
			return nil, fmt.Errorf("%w: missing IPS terminator", ErrCorruptPatch)
		}
		if string(patch[pos:pos+3]) == ipsTerminator {
			return records, nil
		}

		offset := int64(patch[pos])<<16 | int64(patch[pos+1])<<8 | int64(patch[pos+2])
		pos += 3
		if pos+2 > len(patch) {
			return nil, fmt.Errorf("%w: truncated IPS record header at offset %d", ErrCorruptPatch, offset)
		}
		length := int(patch[pos])<<8 | int(patch[pos+1])
		pos += 2

		if length == 0 {
			// RLE record: 2-byte run length, 1 fill byte.
			if pos+3 > len(patch) {
				return nil, fmt.Errorf("%w: truncated IPS RLE record at offset %d", ErrCorruptPatch, offset)
			}
			runLen := int(patch[pos])<<8 | int(patch[pos+1])
			fill := patch[pos+2]
			pos += 3
			records = append(records, ipsRecord{offset: offset, runLen: runLen, fill: fill, rle: true})
			continue
		}

		if pos+length > len(patch) {
			return nil, fmt.Errorf("%w: truncated IPS record payload at offset %d", ErrCorruptPatch, offset)
		}
		records = append(records, ipsRecord{offset: offset, data: patch[pos : pos+length]})
		pos += length
	}
}

// applyIPS replays an IPS record stream over a copy of source, zero-extending
// the output whenever a record writes past the current end.
func applyIPS(source, patch []byte) ([]byte, error) {
	records, err := parseIPSRecords(patch)
	if err != nil {
		return nil, err
	}

	out := make([]byte, len(source))
	copy(out, source)

	for _, r := range records {
		out = growZero(out, r.end())
		if r.rle {
			for i := r.offset; i < r.end(); i++ {
				out[i] = r.fill
			}
			continue
		}
		copy(out[r.offset:r.end()], r.data)
	}
	return out, nil
}

// growZero extends buf with zero bytes until it is at least n long.
func growZero(buf []byte, n int64) []byte {
	if int64(len(buf)) >= n {
		return buf
	}
	grown := make([]byte, n)
	copy(grown, buf)
	return grown
}
