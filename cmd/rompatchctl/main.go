// rompatchctl is the control CLI for rompatch.
//
// It works directly against patch files and the catalog on disk, and
// talks to a running rompatchd over its control socket for the daemon
// subcommands.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"rompatch/internal/config"
	"rompatch/pkg/patchfile"
)

// Version is the rompatchctl version.
const Version = "1.0.0"

var (
	configPath = flag.String("config", "", "path to config file")
)

func main() {
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	cmd := flag.Arg(0)
	args := flag.Args()[1:]

	switch cmd {
	case "detect":
		if len(args) < 1 {
			fmt.Fprintln(os.Stderr, "Usage: rompatchctl detect <file...>")
			os.Exit(1)
		}
		cmdDetect(args)
	case "apply":
		cmdApply(args)
	case "create":
		cmdCreate(args)
	case "hunks":
		cmdHunks(args)
	case "catalog":
		cmdCatalog(args)
	case "match":
		cmdMatch(args)
	case "best":
		cmdBest(args)
	case "unmatched":
		cmdUnmatched(args)
	case "daemon":
		cmdDaemon(args)
	case "version":
		fmt.Printf("rompatchctl %s\n", Version)
	case "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `rompatchctl - Control utility for rompatch

Usage: rompatchctl [options] <command> [args]

Patch commands:
  detect <file...>              Identify the patch format of each file
  apply <rom> <patch>           Apply a patch to a ROM, writing a new file
  create <original> <modified>  Build an IPS patch from two ROM images
  hunks <rom> <patch>           List the regions a patch would change

Catalog commands:
  catalog add <file...>         Catalog patch files
  catalog scan <dir...>         Catalog every patch under a directory
  catalog list                  List cataloged patches
  catalog show <id>             Show one catalog entry in full
  catalog remove <id>           Remove a catalog entry
  catalog search <query>        Search entries by title, author, or tag
  catalog verify [id...]        Re-hash cataloged files against their IDs
  catalog stats                 Print catalog statistics

Match commands:
  match <rom>                   Rank cataloged patches against a ROM
  best <rom>                    Print the single best patch for a ROM
  unmatched [rom...]            List patches no scanned ROM satisfies

Daemon commands:
  daemon status                 Show daemon status
  daemon stats                  Dump daemon metrics as JSON
  daemon rescan                 Ask the daemon to rescan patches and ROMs
  daemon stop                   Stop the daemon
  daemon ping                   Measure control socket round-trip time

Other:
  version                       Print version
  help                          Show this help message

Options:
  -config <path>  Path to config file (default: platform data dir)`)
}

// loadConfig loads the config file named by -config, or the default
// location. Commands that only touch explicit file arguments never call
// this.
func loadConfig() *config.Config {
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func cmdDetect(args []string) {
	for _, path := range args {
		format := patchfile.Detect(path)
		fmt.Printf("%-8s %s\n", format, path)
	}
}

func cmdApply(args []string) {
	fs := flag.NewFlagSet("apply", flag.ExitOnError)
	output := fs.String("o", "", "output path (default <rom>.patched<ext>)")
	noVerify := fs.Bool("no-verify", false, "skip embedded checksum verification")
	fs.Parse(args)

	if fs.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "Usage: rompatchctl apply [-o output] [-no-verify] <rom> <patch>")
		os.Exit(1)
	}
	romPath := fs.Arg(0)
	patchPath := fs.Arg(1)

	result, err := patchfile.Apply(romPath, patchPath, patchfile.ApplyOptions{
		OutputPath: *output,
		SkipVerify: *noVerify,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Apply failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Applied %s patch\n", result.Format)
	fmt.Printf("  Input:    %s (%s)\n", romPath, formatBytes(result.OriginalSize))
	fmt.Printf("  Output:   %s (%s)\n", result.OutputPath, formatBytes(result.PatchedSize))
	if !*noVerify && !result.ChecksumValid {
		fmt.Println("  WARNING: output does not match the patch's embedded checksum")
	}
}

func cmdCreate(args []string) {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	output := fs.String("o", "", "output patch path (default <modified>.ips)")
	fs.Parse(args)

	if fs.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "Usage: rompatchctl create [-o output] <original> <modified>")
		os.Exit(1)
	}
	originalPath := fs.Arg(0)
	modifiedPath := fs.Arg(1)

	outPath := *output
	if outPath == "" {
		outPath = strings.TrimSuffix(modifiedPath, filepath.Ext(modifiedPath)) + ".ips"
	}

	if err := patchfile.CreateIPS(originalPath, modifiedPath, outPath); err != nil {
		fmt.Fprintf(os.Stderr, "Create failed: %v\n", err)
		os.Exit(1)
	}

	info, err := os.Stat(outPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Create failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %s (%s)\n", outPath, formatBytes(info.Size()))
}

func cmdHunks(args []string) {
	fs := flag.NewFlagSet("hunks", flag.ExitOnError)
	fs.Parse(args)

	if fs.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "Usage: rompatchctl hunks <rom> <patch>")
		os.Exit(1)
	}
	romPath := fs.Arg(0)
	patchPath := fs.Arg(1)

	hunks, patchedSize, err := patchfile.ExtractHunks(romPath, patchPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to extract hunks: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%d hunks, patched size %s\n\n", len(hunks), formatBytes(patchedSize))
	if len(hunks) == 0 {
		return
	}
	fmt.Printf("%-12s %10s\n", "OFFSET", "LENGTH")
	for _, h := range hunks {
		fmt.Printf("0x%08X   %10d\n", h.Offset, len(h.Data))
	}
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
