package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"rompatch/internal/catalog"
)

func cmdCatalog(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: rompatchctl catalog <add|scan|list|show|remove|search|verify|stats> [args]")
		os.Exit(1)
	}

	sub := args[0]
	rest := args[1:]

	switch sub {
	case "add":
		cmdCatalogAdd(rest)
	case "scan":
		cmdCatalogScan(rest)
	case "list":
		cmdCatalogList(rest)
	case "show":
		cmdCatalogShow(rest)
	case "remove":
		cmdCatalogRemove(rest)
	case "search":
		cmdCatalogSearch(rest)
	case "verify":
		cmdCatalogVerify(rest)
	case "stats":
		cmdCatalogStats(rest)
	default:
		fmt.Fprintf(os.Stderr, "Unknown catalog command: %s\n", sub)
		os.Exit(1)
	}
}

// openCatalog opens the catalog document named by the config. Open never
// fails; a corrupt document is reported on stderr and treated as empty.
func openCatalog() *catalog.Catalog {
	cfg := loadConfig()
	return catalog.Open(cfg.Catalog.Path)
}

func cmdCatalogAdd(args []string) {
	fs := flag.NewFlagSet("catalog add", flag.ExitOnError)
	platform := fs.String("platform", "", "platform tag (default from config)")
	title := fs.String("title", "", "patch title")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: rompatchctl catalog add [-platform P] [-title T] <file...>")
		os.Exit(1)
	}

	cfg := loadConfig()
	cat := catalog.Open(cfg.Catalog.Path)

	opts := catalog.AddOptions{Platform: *platform}
	if opts.Platform == "" {
		opts.Platform = cfg.Catalog.Platform
	}
	if *title != "" {
		opts.Metadata.Title = *title
	}

	failed := false
	for _, path := range fs.Args() {
		entry, err := cat.Add(path, opts)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			failed = true
			continue
		}
		if entry == nil {
			fmt.Printf("skipped (not a patch): %s\n", path)
			continue
		}
		fmt.Printf("added %s  %-4s %s\n", entry.PatchID, entry.Format, path)
	}
	if failed {
		os.Exit(1)
	}
}

func cmdCatalogScan(args []string) {
	fs := flag.NewFlagSet("catalog scan", flag.ExitOnError)
	platform := fs.String("platform", "", "platform tag (default from config)")
	recursive := fs.Bool("recursive", true, "descend into subdirectories")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: rompatchctl catalog scan [-platform P] [-recursive] <dir...>")
		os.Exit(1)
	}

	cfg := loadConfig()
	cat := catalog.Open(cfg.Catalog.Path)

	opts := catalog.AddOptions{Platform: *platform}
	if opts.Platform == "" {
		opts.Platform = cfg.Catalog.Platform
	}

	total := 0
	for _, dir := range fs.Args() {
		entries, err := cat.AddDirectory(dir, opts, *recursive)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", dir, err)
			os.Exit(1)
		}
		fmt.Printf("cataloged %d patches from %s\n", len(entries), dir)
		total += len(entries)
	}
	if len(fs.Args()) > 1 {
		fmt.Printf("%d patches total\n", total)
	}
}

func cmdCatalogList(args []string) {
	fs := flag.NewFlagSet("catalog list", flag.ExitOnError)
	platform := fs.String("platform", "", "only list entries for this platform")
	format := fs.String("format", "", "only list entries of this format (ips, bps, ups)")
	fs.Parse(args)

	cat := openCatalog()

	var entries []*catalog.Entry
	if *platform != "" {
		entries = cat.SearchByPlatform(*platform)
	} else {
		entries = cat.All()
	}

	if *format != "" {
		filtered := entries[:0]
		for _, e := range entries {
			if strings.EqualFold(e.Format.String(), *format) {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}

	if len(entries) == 0 {
		fmt.Println("No patches cataloged.")
		return
	}

	fmt.Printf("%-16s %-6s %-10s %10s  %s\n", "ID", "FORMAT", "PLATFORM", "SIZE", "TITLE")
	for _, e := range entries {
		title := e.Metadata.Title
		if title == "" {
			title = filepath.Base(e.Path)
		}
		fmt.Printf("%-16s %-6s %-10s %10s  %s\n",
			e.PatchID, e.Format, orDash(e.Platform), formatBytes(e.Size), title)
	}
	fmt.Printf("\n%d patches\n", len(entries))
}

func cmdCatalogShow(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: rompatchctl catalog show <id>")
		os.Exit(1)
	}

	cat := openCatalog()
	entry, ok := cat.Get(args[0])
	if !ok {
		fmt.Fprintf(os.Stderr, "No catalog entry %s\n", args[0])
		os.Exit(1)
	}

	fmt.Printf("=== Patch %s ===\n", entry.PatchID)
	fmt.Printf("Path:      %s\n", entry.Path)
	fmt.Printf("Format:    %s\n", entry.Format)
	fmt.Printf("Size:      %s\n", formatBytes(entry.Size))
	fmt.Printf("CRC32:     %s\n", entry.CRC32)
	fmt.Printf("Platform:  %s\n", orDash(entry.Platform))
	fmt.Printf("Added:     %s\n", entry.Added.Format("2006-01-02 15:04:05"))
	fmt.Printf("Verified:  %v\n", entry.Verified)

	if entry.Metadata.IsZero() {
		return
	}
	m := entry.Metadata
	fmt.Println("\n=== Metadata ===")
	printIfSet("Title", m.Title)
	printIfSet("Author", m.Author)
	printIfSet("Version", m.Version)
	printIfSet("Description", m.Description)
	printIfSet("Language", m.Language)
	printIfSet("Type", m.PatchType)
	printIfSet("Source URL", m.SourceURL)
	printIfSet("Released", m.ReleaseDate)
	printIfSet("Target ROM", m.TargetROMName)
	printIfSet("Target CRC32", m.TargetROMCRC32)
	printIfSet("Target SHA-1", m.TargetROMSHA1)
	printIfSet("Notes", m.Notes)
	if len(m.Tags) > 0 {
		fmt.Printf("%-13s %s\n", "Tags:", strings.Join(m.Tags, ", "))
	}
}

func printIfSet(label, value string) {
	if value != "" {
		fmt.Printf("%-13s %s\n", label+":", value)
	}
}

func cmdCatalogRemove(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: rompatchctl catalog remove <id>")
		os.Exit(1)
	}

	cat := openCatalog()
	ok, err := cat.Remove(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Remove failed: %v\n", err)
		os.Exit(1)
	}
	if !ok {
		fmt.Fprintf(os.Stderr, "No catalog entry %s\n", args[0])
		os.Exit(1)
	}
	fmt.Printf("removed %s\n", args[0])
}

func cmdCatalogSearch(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: rompatchctl catalog search <query>")
		os.Exit(1)
	}

	cat := openCatalog()
	entries := cat.Search(strings.Join(args, " "))
	if len(entries) == 0 {
		fmt.Println("No matches.")
		return
	}

	fmt.Printf("%-16s %-6s %-10s  %s\n", "ID", "FORMAT", "PLATFORM", "TITLE")
	for _, e := range entries {
		fmt.Printf("%-16s %-6s %-10s  %s\n",
			e.PatchID, e.Format, orDash(e.Platform), e.Metadata.Title)
	}
}

func cmdCatalogVerify(args []string) {
	cat := openCatalog()

	ids := args
	if len(ids) == 0 {
		for _, e := range cat.All() {
			ids = append(ids, e.PatchID)
		}
	}
	if len(ids) == 0 {
		fmt.Println("Catalog is empty.")
		return
	}

	failed := 0
	for _, id := range ids {
		if _, ok := cat.Get(id); !ok {
			fmt.Printf("%-16s MISSING\n", id)
			failed++
			continue
		}
		if cat.Verify(id) {
			fmt.Printf("%-16s OK\n", id)
		} else {
			fmt.Printf("%-16s FAILED\n", id)
			failed++
		}
	}
	if failed > 0 {
		fmt.Fprintf(os.Stderr, "\n%d of %d entries failed verification\n", failed, len(ids))
		os.Exit(1)
	}
}

func cmdCatalogStats(args []string) {
	cat := openCatalog()
	stats := cat.Statistics()

	fmt.Println("=== Catalog Statistics ===")
	fmt.Printf("Patches:     %d\n", stats.TotalPatches)
	fmt.Printf("Total size:  %s\n", formatBytes(stats.TotalBytes))
	fmt.Printf("Verified:    %d\n", stats.Verified)
	printCountMap("By format", stats.ByFormat)
	printCountMap("By type", stats.ByType)
	printCountMap("By platform", stats.ByPlatform)
}

func printCountMap(header string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Printf("\n%s:\n", header)
	for _, k := range keys {
		fmt.Printf("  %-12s %d\n", k, counts[k])
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
