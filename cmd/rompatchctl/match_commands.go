package main

import (
	"flag"
	"fmt"
	"os"

	"rompatch/internal/catalog"
	"rompatch/internal/config"
	"rompatch/internal/library"
	"rompatch/internal/match"
)

// newMatcher builds a matcher over the configured catalog. The ROM
// cache serves as the hasher when it opens, so repeated matching does
// not re-digest unchanged files; otherwise the matcher hashes directly.
func newMatcher(cfg *config.Config) (*match.Matcher, *catalog.Catalog, func()) {
	cat := catalog.Open(cfg.Catalog.Path)

	lib, err := library.Open(cfg.Library.CachePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: ROM cache unavailable, hashing directly: %v\n", err)
		return match.New(cat, nil), cat, func() {}
	}
	return match.New(cat, lib), cat, func() { lib.Close() }
}

func resolveConfidence(cfg *config.Config, override string) match.Confidence {
	s := override
	if s == "" {
		s = cfg.Match.MinConfidence
	}
	c, err := match.ParseConfidence(s)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid confidence: %v\n", err)
		os.Exit(1)
	}
	return c
}

func cmdMatch(args []string) {
	fs := flag.NewFlagSet("match", flag.ExitOnError)
	platform := fs.String("platform", "", "ROM platform hint")
	minConf := fs.String("min", "", "minimum confidence (exact, high, medium, low; default from config)")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: rompatchctl match [-platform P] [-min C] <rom>")
		os.Exit(1)
	}
	romPath := fs.Arg(0)

	cfg := loadConfig()
	matcher, _, closeFn := newMatcher(cfg)
	defer closeFn()

	matches, err := matcher.FindMatches(romPath, match.Options{
		Platform:      *platform,
		MinConfidence: resolveConfidence(cfg, *minConf),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Match failed: %v\n", err)
		os.Exit(1)
	}

	if len(matches) == 0 {
		fmt.Println("No matching patches found.")
		return
	}

	for i, m := range matches {
		if i > 0 {
			fmt.Println()
		}
		printMatch(m)
	}
	fmt.Printf("\n%d candidates\n", len(matches))
}

func cmdBest(args []string) {
	fs := flag.NewFlagSet("best", flag.ExitOnError)
	platform := fs.String("platform", "", "ROM platform hint")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: rompatchctl best [-platform P] <rom>")
		os.Exit(1)
	}
	romPath := fs.Arg(0)

	cfg := loadConfig()
	matcher, _, closeFn := newMatcher(cfg)
	defer closeFn()

	best, err := matcher.FindBestMatch(romPath, match.Options{Platform: *platform})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Match failed: %v\n", err)
		os.Exit(1)
	}
	if best == nil {
		fmt.Println("No compatible patch found.")
		os.Exit(1)
	}
	printMatch(*best)
}

func printMatch(m match.Match) {
	title := m.Entry.Metadata.Title
	if title == "" {
		title = m.Entry.Path
	}
	fmt.Printf("%-8s %.2f  %s  %s\n", m.Confidence, m.Score, m.Entry.PatchID, title)
	for _, reason := range m.Reasons {
		fmt.Printf("         - %s\n", reason)
	}
}

func cmdUnmatched(args []string) {
	fs := flag.NewFlagSet("unmatched", flag.ExitOnError)
	platform := fs.String("platform", "", "only consider patches for this platform")
	fs.Parse(args)

	cfg := loadConfig()
	matcher, cat, closeFn := newMatcher(cfg)
	defer closeFn()

	romPaths, err := collectROMPaths(cfg, fs.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	if len(romPaths) == 0 {
		fmt.Fprintln(os.Stderr, "No ROMs to check; pass paths or set library.rom_dirs in the config.")
		os.Exit(1)
	}

	entries := matcher.UnmatchedPatches(romPaths, *platform)
	if len(entries) == 0 {
		fmt.Printf("Every cataloged patch matched one of %d ROMs.\n", len(romPaths))
		return
	}

	fmt.Printf("%-16s %-6s %-10s  %s\n", "ID", "FORMAT", "PLATFORM", "TITLE")
	for _, e := range entries {
		fmt.Printf("%-16s %-6s %-10s  %s\n",
			e.PatchID, e.Format, orDash(e.Platform), e.Metadata.Title)
	}
	fmt.Printf("\n%d of %d patches unmatched against %d ROMs\n",
		len(entries), cat.Len(), len(romPaths))
}

// collectROMPaths expands the argument list into ROM file paths. File
// arguments pass through; directory arguments are scanned through the
// cache with the configured extension filter. No arguments means the
// configured ROM directories.
func collectROMPaths(cfg *config.Config, args []string) ([]string, error) {
	dirs := make([]string, 0, len(args))
	var paths []string

	if len(args) == 0 {
		dirs = append(dirs, cfg.Library.ROMDirs...)
	} else {
		for _, arg := range args {
			info, err := os.Stat(arg)
			if err != nil {
				return nil, err
			}
			if info.IsDir() {
				dirs = append(dirs, arg)
			} else {
				paths = append(paths, arg)
			}
		}
	}

	if len(dirs) == 0 {
		return paths, nil
	}

	lib, err := library.Open(cfg.Library.CachePath)
	if err != nil {
		return nil, fmt.Errorf("cannot scan directories without the ROM cache: %w", err)
	}
	defer lib.Close()

	for _, dir := range dirs {
		roms, err := lib.Scan(dir, library.ScanOptions{
			Recursive:  cfg.Library.Recursive,
			Extensions: cfg.Library.Extensions,
		})
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", dir, err)
		}
		for _, r := range roms {
			paths = append(paths, r.Path)
		}
	}
	return paths, nil
}
