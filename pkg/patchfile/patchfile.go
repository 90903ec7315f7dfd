// Package patchfile implements the three binary ROM patch formats: IPS
// (record-based), BPS (delta with copy actions), and UPS (XOR delta).
//
// The package offers four things:
//   - format detection from a file's magic prefix
//   - full-buffer application of a patch to a source image
//   - extraction of discrete modification ranges (hunks) from any patch,
//     used by the overlay package to present a patched view without
//     materializing it
//   - creation of IPS patches from an original/modified file pair
//
// All functions are pure with respect to their inputs and safe to call
// concurrently on independent files. Output files are written atomically;
// a failed application never leaves a partial file behind.
package patchfile

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"rompatch/internal/fsutil"
)

// Format identifies a patch file format.
type Format int

// Supported formats.
const (
	FormatUnknown Format = iota
	FormatIPS
	FormatBPS
	FormatUPS
)

// Magic prefixes identifying each format.
const (
	magicIPS = "PATCH"
	magicBPS = "BPS1"
	magicUPS = "UPS1"
)

// Package errors.
var (
	// ErrUnknownFormat indicates the patch file matches no supported magic.
	ErrUnknownFormat = errors.New("patchfile: unknown patch format")

	// ErrCorruptPatch indicates a structurally invalid patch stream.
	ErrCorruptPatch = errors.New("patchfile: corrupt patch data")

	// ErrSourceSize indicates the source does not match the size the patch
	// declares for it.
	ErrSourceSize = errors.New("patchfile: source size mismatch")
)

// maxDeclaredSize caps the source/target sizes a BPS or UPS header may
// declare. Sizes beyond this are treated as corruption rather than allocated.
const maxDeclaredSize = 1 << 31

// String returns the format's symbolic name.
func (f Format) String() string {
	switch f {
	case FormatIPS:
		return "IPS"
	case FormatBPS:
		return "BPS"
	case FormatUPS:
		return "UPS"
	default:
		return "Unknown"
	}
}

// MarshalText implements encoding.TextMarshaler. Formats serialize by
// symbolic name for forward compatibility.
func (f Format) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Format) UnmarshalText(text []byte) error {
	switch strings.ToUpper(string(text)) {
	case "IPS":
		*f = FormatIPS
	case "BPS":
		*f = FormatBPS
	case "UPS":
		*f = FormatUPS
	case "UNKNOWN", "":
		*f = FormatUnknown
	default:
		return fmt.Errorf("patchfile: unknown format name %q", text)
	}
	return nil
}

// Extensions returns the file extensions conventionally used by the
// supported formats.
func Extensions() []string {
	return []string{".ips", ".bps", ".ups"}
}

// DetectBytes identifies the patch format from a buffer's leading bytes.
func DetectBytes(data []byte) Format {
	if len(data) >= len(magicIPS) && string(data[:len(magicIPS)]) == magicIPS {
		return FormatIPS
	}
	if len(data) >= len(magicBPS) {
		switch string(data[:len(magicBPS)]) {
		case magicBPS:
			return FormatBPS
		case magicUPS:
			return FormatUPS
		}
	}
	return FormatUnknown
}

// Detect identifies the patch format by reading the shortest prefix needed.
// Any I/O failure yields FormatUnknown, never an error.
func Detect(path string) Format {
	f, err := os.Open(path)
	if err != nil {
		return FormatUnknown
	}
	defer f.Close()

	prefix := make([]byte, len(magicIPS))
	n, err := io.ReadFull(f, prefix)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return FormatUnknown
	}
	return DetectBytes(prefix[:n])
}

// ApplyOptions controls Apply.
type ApplyOptions struct {
	// OutputPath overrides the default "<stem>.patched<ext>" output path.
	OutputPath string

	// SkipVerify disables checksum verification for formats that carry one.
	SkipVerify bool
}

// ApplyResult summarizes a patch application attempt.
type ApplyResult struct {
	// Success reports whether an output file was produced.
	Success bool `json:"success"`

	// OutputPath is the path the patched image was written to.
	OutputPath string `json:"output_path,omitempty"`

	// OriginalSize is the source image size in bytes.
	OriginalSize int64 `json:"original_size"`

	// PatchedSize is the produced image size in bytes.
	PatchedSize int64 `json:"patched_size"`

	// Format is the patch format that was applied.
	Format Format `json:"format"`

	// Err carries the failure description when Success is false.
	Err string `json:"error,omitempty"`

	// ChecksumValid reports embedded-checksum verification. Always true for
	// IPS, which carries no checksum, and when verification is skipped.
	ChecksumValid bool `json:"checksum_valid"`
}

// Apply loads the source image, applies the patch, and writes the result.
// The output file is written atomically; on any failure no file appears at
// the output path. A checksum mismatch is reported through
// ApplyResult.ChecksumValid, not as an error, because the produced bytes may
// still be what the caller wants.
func Apply(sourcePath, patchPath string, opts ApplyOptions) (ApplyResult, error) {
	result := ApplyResult{Format: Detect(patchPath)}

	if result.Format == FormatUnknown {
		return applyFailed(result, fmt.Errorf("%w: %s", ErrUnknownFormat, patchPath))
	}

	source, err := os.ReadFile(sourcePath)
	if err != nil {
		return applyFailed(result, fmt.Errorf("read source: %w", err))
	}
	result.OriginalSize = int64(len(source))

	patch, err := os.ReadFile(patchPath)
	if err != nil {
		return applyFailed(result, fmt.Errorf("read patch: %w", err))
	}

	out, checksumValid, err := ApplyBytes(source, patch, !opts.SkipVerify)
	if err != nil {
		return applyFailed(result, err)
	}

	outputPath := opts.OutputPath
	if outputPath == "" {
		outputPath = defaultOutputPath(sourcePath)
	}
	if err := fsutil.WriteFile(outputPath, out); err != nil {
		return applyFailed(result, fmt.Errorf("write output: %w", err))
	}

	result.Success = true
	result.OutputPath = outputPath
	result.PatchedSize = int64(len(out))
	result.ChecksumValid = checksumValid
	return result, nil
}

// ApplyBytes applies a patch of any supported format to source in memory.
// It returns the produced buffer and whether embedded checksums (BPS/UPS)
// matched; verify=false skips checksum computation and reports true.
func ApplyBytes(source, patch []byte, verify bool) ([]byte, bool, error) {
	switch DetectBytes(patch) {
	case FormatIPS:
		out, err := applyIPS(source, patch)
		return out, true, err
	case FormatBPS:
		return applyBPS(source, patch, verify)
	case FormatUPS:
		return applyUPS(source, patch, verify)
	default:
		return nil, false, ErrUnknownFormat
	}
}

func applyFailed(result ApplyResult, err error) (ApplyResult, error) {
	result.Success = false
	result.Err = err.Error()
	return result, err
}

func defaultOutputPath(sourcePath string) string {
	ext := filepath.Ext(sourcePath)
	stem := strings.TrimSuffix(sourcePath, ext)
	return stem + ".patched" + ext
}
