package patchfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectBytes(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want Format
	}{
		{"ips", []byte("PATCH..."), FormatIPS},
		{"bps", []byte("BPS1...."), FormatBPS},
		{"ups", []byte("UPS1...."), FormatUPS},
		{"ips magic exactly", []byte("PATCH"), FormatIPS},
		{"bps magic exactly", []byte("BPS1"), FormatBPS},
		{"ups magic exactly", []byte("UPS1"), FormatUPS},
		{"garbage", []byte("GIF89a"), FormatUnknown},
		{"short prefix", []byte("UPS"), FormatUnknown},
		{"lowercase", []byte("patch"), FormatUnknown},
		{"empty", nil, FormatUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectBytes(tt.data))
		})
	}
}

func TestDetect_File(t *testing.T) {
	dir := t.TempDir()

	write := func(name string, data []byte) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, data, 0o644))
		return path
	}

	ips := write("a.ips", buildIPS(ipsLiteral(0, []byte{1})))
	assert.Equal(t, FormatIPS, Detect(ips))

	// A file holding nothing but the four magic bytes still identifies,
	// even though it is shorter than the detection prefix.
	bare := write("bare.ups", []byte("UPS1"))
	assert.Equal(t, FormatUPS, Detect(bare))

	junk := write("junk.bin", []byte{0xDE, 0xAD})
	assert.Equal(t, FormatUnknown, Detect(junk))

	empty := write("empty.ips", nil)
	assert.Equal(t, FormatUnknown, Detect(empty))

	assert.Equal(t, FormatUnknown, Detect(filepath.Join(dir, "missing.ips")))
}

func TestFormat_TextRoundTrip(t *testing.T) {
	for _, f := range []Format{FormatUnknown, FormatIPS, FormatBPS, FormatUPS} {
		text, err := f.MarshalText()
		require.NoError(t, err)

		var back Format
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, f, back)
	}

	var f Format
	require.NoError(t, f.UnmarshalText([]byte("bps")))
	assert.Equal(t, FormatBPS, f)

	require.Error(t, f.UnmarshalText([]byte("ZIP")))
}

func TestDefaultOutputPath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"game.sfc", "game.patched.sfc"},
		{"roms/game.gba", "roms/game.patched.gba"},
		{"noext", "noext.patched"},
		{"dir.d/file.nes", "dir.d/file.patched.nes"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, defaultOutputPath(tt.in), tt.in)
	}
}

func TestApply_IPS(t *testing.T) {
	dir := t.TempDir()

	sourcePath := filepath.Join(dir, "game.sfc")
	source := make([]byte, 16)
	require.NoError(t, os.WriteFile(sourcePath, source, 0o644))

	patchPath := filepath.Join(dir, "fix.ips")
	patch := buildIPS(ipsLiteral(4, []byte{0xAA, 0xBB, 0xCC}))
	require.NoError(t, os.WriteFile(patchPath, patch, 0o644))

	result, err := Apply(sourcePath, patchPath, ApplyOptions{})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Empty(t, result.Err)
	assert.Equal(t, FormatIPS, result.Format)
	assert.Equal(t, int64(16), result.OriginalSize)
	assert.Equal(t, int64(16), result.PatchedSize)
	assert.True(t, result.ChecksumValid)
	assert.Equal(t, filepath.Join(dir, "game.patched.sfc"), result.OutputPath)

	out, err := os.ReadFile(result.OutputPath)
	require.NoError(t, err)
	want := make([]byte, 16)
	copy(want[4:], []byte{0xAA, 0xBB, 0xCC})
	assert.Equal(t, want, out)

	// The source file is never touched.
	orig, err := os.ReadFile(sourcePath)
	require.NoError(t, err)
	assert.Equal(t, source, orig)
}

func TestApply_OutputPathOverride(t *testing.T) {
	dir := t.TempDir()

	sourcePath := filepath.Join(dir, "game.gb")
	require.NoError(t, os.WriteFile(sourcePath, []byte{0, 0, 0, 0}, 0o644))

	patchPath := filepath.Join(dir, "fix.ips")
	require.NoError(t, os.WriteFile(patchPath, buildIPS(ipsLiteral(0, []byte{7})), 0o644))

	outputPath := filepath.Join(dir, "out", "custom.gb")
	result, err := Apply(sourcePath, patchPath, ApplyOptions{OutputPath: outputPath})
	require.NoError(t, err)
	assert.Equal(t, outputPath, result.OutputPath)

	out, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	assert.Equal(t, []byte{7, 0, 0, 0}, out)
}

func TestApply_UnknownFormat(t *testing.T) {
	dir := t.TempDir()

	sourcePath := filepath.Join(dir, "game.nes")
	require.NoError(t, os.WriteFile(sourcePath, []byte{1, 2, 3}, 0o644))

	patchPath := filepath.Join(dir, "notapatch.ips")
	require.NoError(t, os.WriteFile(patchPath, []byte("hello"), 0o644))

	result, err := Apply(sourcePath, patchPath, ApplyOptions{})
	require.ErrorIs(t, err, ErrUnknownFormat)
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Err)

	_, statErr := os.Stat(filepath.Join(dir, "game.patched.nes"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestApply_MissingSource(t *testing.T) {
	dir := t.TempDir()

	patchPath := filepath.Join(dir, "fix.ips")
	require.NoError(t, os.WriteFile(patchPath, buildIPS(ipsLiteral(0, []byte{7})), 0o644))

	result, err := Apply(filepath.Join(dir, "missing.sfc"), patchPath, ApplyOptions{})
	require.Error(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, FormatIPS, result.Format)
}

func TestApply_CorruptPatchLeavesNoOutput(t *testing.T) {
	dir := t.TempDir()

	sourcePath := filepath.Join(dir, "game.sfc")
	require.NoError(t, os.WriteFile(sourcePath, make([]byte, 8), 0o644))

	// Valid magic, truncated body.
	patchPath := filepath.Join(dir, "broken.bps")
	require.NoError(t, os.WriteFile(patchPath, []byte("BPS1"), 0o644))

	result, err := Apply(sourcePath, patchPath, ApplyOptions{})
	require.ErrorIs(t, err, ErrCorruptPatch)
	assert.False(t, result.Success)

	_, statErr := os.Stat(filepath.Join(dir, "game.patched.sfc"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestApply_ChecksumMismatchStillWrites(t *testing.T) {
	dir := t.TempDir()

	source := []byte("ABCDEFGH")
	sourcePath := filepath.Join(dir, "game.md")
	require.NoError(t, os.WriteFile(sourcePath, source, 0o644))

	// Target CRC deliberately wrong: the output is still produced, the
	// mismatch surfaces only through ChecksumValid.
	patch := buildBPS(source, []byte("ABCDEFGH"), nil, bpsAction(bpsSourceRead, 8))
	patch[len(patch)-8] ^= 0xFF
	patchPath := filepath.Join(dir, "fix.bps")
	require.NoError(t, os.WriteFile(patchPath, patch, 0o644))

	result, err := Apply(sourcePath, patchPath, ApplyOptions{})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.False(t, result.ChecksumValid)

	out, err := os.ReadFile(result.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, source, out)

	// SkipVerify reports valid without checking.
	result, err = Apply(sourcePath, patchPath, ApplyOptions{
		OutputPath: filepath.Join(dir, "out2.md"),
		SkipVerify: true,
	})
	require.NoError(t, err)
	assert.True(t, result.ChecksumValid)
}
