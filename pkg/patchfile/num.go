package patchfile

import "fmt"

// BPS and UPS share a byte-oriented variable-length integer encoding that is
// not a plain base-128 varint: after each continuation byte the running
// multiplier is shifted left seven bits and then added to the accumulator.
// The encoder below is the exact inverse and must stay bit-compatible with
// existing patch files.

// DecodeNum decodes one variable-length integer from the front of data,
// returning the value and the number of bytes consumed.
func DecodeNum(data []byte) (uint64, int, error) {
	var value uint64
	shift := uint64(1)
	for i := 0; i < len(data); i++ {
		b := data[i]
		value += uint64(b&0x7f) * shift
		if b&0x80 != 0 {
			return value, i + 1, nil
		}
		shift <<= 7
		value += shift
	}
	return 0, 0, fmt.Errorf("%w: unterminated variable-length integer", ErrCorruptPatch)
}

// AppendNum appends the variable-length encoding of v to buf.
func AppendNum(buf []byte, v uint64) []byte {
	for {
		x := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(buf, 0x80|x)
		}
		buf = append(buf, x)
		v--
	}
}

// decodeSigned decodes a signed relative offset: bit 0 of the decoded value
// is the sign and the magnitude is the value shifted right by one.
func decodeSigned(data []byte) (int64, int, error) {
	v, n, err := DecodeNum(data)
	if err != nil {
		return 0, 0, err
	}
	mag := int64(v >> 1)
	if v&1 != 0 {
		mag = -mag
	}
	return mag, n, nil
}

// appendSigned appends the signed relative offset encoding of v to buf.
func appendSigned(buf []byte, v int64) []byte {
	sign := uint64(0)
	if v < 0 {
		sign = 1
		v = -v
	}
	return AppendNum(buf, uint64(v)<<1|sign)
}
