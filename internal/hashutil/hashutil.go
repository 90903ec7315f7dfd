// Package hashutil provides the file and buffer hashing primitives shared by
// the catalog, matcher, and library packages.
//
// ROM identity is conventionally expressed as CRC32 (the checksum embedded in
// BPS/UPS footers and in most ROM databases) and SHA-1 (the hash used for
// catalog patch IDs and exact-match lookups), so those are the two primitives
// offered here.
package hashutil

import (
	"crypto/sha1"
	"encoding/hex"
	"hash/crc32"
	"io"
	"os"
)

// FileSHA1 computes the SHA-1 digest of a file using streaming.
// This handles large files efficiently without loading into memory.
func FileSHA1(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha1.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}

	return hex.EncodeToString(h.Sum(nil)), size, nil
}

// FileCRC32 computes the IEEE CRC32 checksum of a file using streaming.
func FileCRC32(path string) (uint32, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	h := crc32.NewIEEE()
	size, err := io.Copy(h, f)
	if err != nil {
		return 0, 0, err
	}

	return h.Sum32(), size, nil
}

// FileDigest computes a file's SHA-1 and CRC32 in a single pass. Callers
// needing both (catalog adds, ROM identification) should prefer this over
// two separate reads.
func FileDigest(path string) (sha string, crc uint32, size int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, 0, err
	}
	defer f.Close()

	sh := sha1.New()
	ch := crc32.NewIEEE()
	size, err = io.Copy(io.MultiWriter(sh, ch), f)
	if err != nil {
		return "", 0, 0, err
	}

	return hex.EncodeToString(sh.Sum(nil)), ch.Sum32(), size, nil
}

// CRC32 computes the IEEE CRC32 checksum of an in-memory buffer.
func CRC32(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// SHA1Hex computes the SHA-1 digest of an in-memory buffer as lowercase hex.
func SHA1Hex(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}
