package library

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"rompatch/internal/logging"
)

// DefaultExtensions covers the common cartridge and disk image suffixes.
var DefaultExtensions = []string{
	".sfc", ".smc", ".nes", ".fds",
	".gb", ".gbc", ".gba",
	".n64", ".z64", ".v64",
	".md", ".gen", ".smd", ".sms", ".gg", ".32x",
	".pce", ".ngp", ".ngc", ".ws", ".wsc",
	".bin", ".rom",
}

// ScanOptions controls a directory scan. A nil Extensions list means
// DefaultExtensions.
type ScanOptions struct {
	Recursive  bool
	Extensions []string
}

// Scan walks dir for ROM files, digests each through the cache, and
// returns the resulting rows. Files that fail to hash are skipped with
// a warning.
func (l *Library) Scan(dir string, opts ScanOptions) ([]ROM, error) {
	exts := extensionSet(opts.Extensions)

	var roms []ROM
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if !opts.Recursive && path != dir {
				return fs.SkipDir
			}
			return nil
		}
		if !exts[strings.ToLower(filepath.Ext(path))] {
			return nil
		}

		rom, err := l.digest(path)
		if err != nil {
			logging.Warn("skipping rom", "path", path, "error", err)
			return nil
		}
		roms = append(roms, rom)
		return nil
	})
	if err != nil {
		return roms, fmt.Errorf("scan %s: %w", dir, err)
	}
	return roms, nil
}

func extensionSet(exts []string) map[string]bool {
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	set := make(map[string]bool, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		set[ext] = true
	}
	return set
}
