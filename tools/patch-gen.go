// patch-gen generates synthetic ROM images and matching patch files for
// exercising the patch codecs, catalog, and matcher without real game data.
//
// Each scenario writes an original ROM, the patched result, the patch in
// one or more formats, and a metadata sidecar carrying the original's
// checksums so the matcher's hash paths light up against the generated
// ROM.
//
// Usage:
//
//	go run tools/patch-gen.go -output testdata -scenario translation
//	go run tools/patch-gen.go -output testdata -scenario expansion -format bps
//	go run tools/patch-gen.go -list
package main

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"flag"
	"fmt"
	"hash/crc32"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"rompatch/internal/catalog"
	"rompatch/pkg/patchfile"
)

// Scenario defines the shape of one generated ROM hack.
type Scenario struct {
	Name        string
	Description string
	Edits       int // number of changed regions
	MaxEditLen  int // longest changed region, bytes
	GrowBytes   int // bytes appended beyond the original size
	PatchType   string
}

var scenarios = map[string]Scenario{
	"title-hack": {
		Name:        "Title Hack",
		Description: "A couple of tiny edits near the header",
		Edits:       2,
		MaxEditLen:  16,
		PatchType:   "hack",
	},
	"translation": {
		Name:        "Fan Translation",
		Description: "Many scattered text edits plus an expanded script block",
		Edits:       40,
		MaxEditLen:  96,
		GrowBytes:   8192,
		PatchType:   "translation",
	},
	"graphics": {
		Name:        "Graphics Pack",
		Description: "A few large tile regions redrawn in place",
		Edits:       6,
		MaxEditLen:  2048,
		PatchType:   "graphics",
	},
	"expansion": {
		Name:        "ROM Expansion",
		Description: "A new bank appended with light touch-ups to the original",
		Edits:       10,
		MaxEditLen:  64,
		GrowBytes:   65536,
		PatchType:   "hack",
	},
}

func main() {
	output := flag.String("output", "testdata", "output directory")
	scenarioName := flag.String("scenario", "translation", "scenario to generate")
	format := flag.String("format", "all", "patch format to emit (ips, bps, ups, all)")
	size := flag.Int("size", 128*1024, "original ROM size in bytes")
	seed := flag.Int64("seed", 1, "random seed")
	list := flag.Bool("list", false, "list scenarios and exit")
	flag.Parse()

	if *list {
		listScenarios()
		return
	}

	sc, ok := scenarios[*scenarioName]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown scenario: %s\n\n", *scenarioName)
		listScenarios()
		os.Exit(1)
	}

	formats, err := formatsToEmit(*format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(*output, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create output directory: %v\n", err)
		os.Exit(1)
	}

	rng := rand.New(rand.NewSource(*seed))
	original := buildROM(rng, *scenarioName, *size)
	modified := mutate(rng, sc, original)

	fmt.Printf("Scenario: %s (%s)\n", sc.Name, sc.Description)
	fmt.Printf("Original %d bytes, modified %d bytes, %d regions edited\n\n",
		len(original), len(modified), sc.Edits)

	romPath := filepath.Join(*output, *scenarioName+".rom")
	patchedPath := filepath.Join(*output, *scenarioName+"-patched.rom")
	mustWrite(romPath, original)
	mustWrite(patchedPath, modified)
	fmt.Printf("  %-32s %8d bytes\n", filepath.Base(romPath), len(original))
	fmt.Printf("  %-32s %8d bytes\n", filepath.Base(patchedPath), len(modified))

	failed := false
	for _, f := range formats {
		var patch []byte
		switch f {
		case "ips":
			patch = patchfile.DiffIPS(original, modified)
		case "bps":
			patch = encodeBPS(original, modified)
		case "ups":
			patch = encodeUPS(original, modified)
		}

		path := filepath.Join(*output, *scenarioName+"."+f)
		mustWrite(path, patch)

		status := verify(original, modified, patch)
		if status != "OK" {
			failed = true
		}
		fmt.Printf("  %-32s %8d bytes  %s\n", filepath.Base(path), len(patch), status)
	}

	sidecarPath := filepath.Join(*output, *scenarioName+".yaml")
	if err := writeSidecar(sidecarPath, sc, *scenarioName, original); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write sidecar: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("  %-32s metadata sidecar\n", filepath.Base(sidecarPath))

	if failed {
		fmt.Fprintln(os.Stderr, "\nSome patches did not verify; the generator is broken.")
		os.Exit(1)
	}
}

func listScenarios() {
	names := make([]string, 0, len(scenarios))
	for name := range scenarios {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Println("Available scenarios:")
	for _, name := range names {
		fmt.Printf("  %-14s %s\n", name, scenarios[name].Description)
	}
}

func formatsToEmit(s string) ([]string, error) {
	switch strings.ToLower(s) {
	case "all":
		return []string{"ips", "bps", "ups"}, nil
	case "ips", "bps", "ups":
		return []string{strings.ToLower(s)}, nil
	default:
		return nil, fmt.Errorf("unknown format %q (want ips, bps, ups, or all)", s)
	}
}

// buildROM fills a pseudo-ROM with seeded noise behind a recognizable
// header, so hexdumps of the fixtures are not pure static.
func buildROM(rng *rand.Rand, name string, size int) []byte {
	rom := make([]byte, size)
	rng.Read(rom)
	copy(rom, fmt.Sprintf("ROMPATCH SAMPLE %s", strings.ToUpper(name)))
	return rom
}

// mutate applies the scenario's edits to a copy of the original. Edits
// XOR with a nonzero byte so every touched position really changes.
func mutate(rng *rand.Rand, sc Scenario, original []byte) []byte {
	modified := make([]byte, len(original), len(original)+sc.GrowBytes)
	copy(modified, original)

	for i := 0; i < sc.Edits; i++ {
		length := 1 + rng.Intn(sc.MaxEditLen)
		offset := rng.Intn(len(modified) - length)
		for j := 0; j < length; j++ {
			modified[offset+j] ^= byte(1 + rng.Intn(255))
		}
	}

	if sc.GrowBytes > 0 {
		tail := make([]byte, sc.GrowBytes)
		rng.Read(tail)
		modified = append(modified, tail...)
	}
	return modified
}

// encodeBPS emits a linear BPS patch: runs matching the source at the
// same offset become SourceRead actions, everything else TargetRead with
// literal bytes.
func encodeBPS(source, target []byte) []byte {
	const (
		opSourceRead = 0
		opTargetRead = 1
	)

	var actions []byte
	i := 0
	for i < len(target) {
		j := i
		for j < len(target) && j < len(source) && target[j] == source[j] {
			j++
		}
		if j > i {
			actions = patchfile.AppendNum(actions, uint64(j-i-1)<<2|opSourceRead)
			i = j
			continue
		}
		for j < len(target) && (j >= len(source) || target[j] != source[j]) {
			j++
		}
		actions = patchfile.AppendNum(actions, uint64(j-i-1)<<2|opTargetRead)
		actions = append(actions, target[i:j]...)
		i = j
	}

	buf := []byte("BPS1")
	buf = patchfile.AppendNum(buf, uint64(len(source)))
	buf = patchfile.AppendNum(buf, uint64(len(target)))
	buf = patchfile.AppendNum(buf, 0)
	buf = append(buf, actions...)
	buf = binary.LittleEndian.AppendUint32(buf, crc32.ChecksumIEEE(source))
	buf = binary.LittleEndian.AppendUint32(buf, crc32.ChecksumIEEE(target))
	return binary.LittleEndian.AppendUint32(buf, crc32.ChecksumIEEE(buf))
}

// encodeUPS emits an XOR-run UPS patch over the zero-padded pair. The
// run terminator consumes one output position, so each skip starts one
// past it.
func encodeUPS(source, target []byte) []byte {
	size := len(source)
	if len(target) > size {
		size = len(target)
	}

	var body []byte
	last := 0
	for i := 0; i < size; i++ {
		if byteAt(source, i) == byteAt(target, i) {
			continue
		}
		body = patchfile.AppendNum(body, uint64(i-last))
		for i < size && byteAt(source, i) != byteAt(target, i) {
			body = append(body, byteAt(source, i)^byteAt(target, i))
			i++
		}
		body = append(body, 0x00)
		last = i + 1
	}

	buf := []byte("UPS1")
	buf = patchfile.AppendNum(buf, uint64(len(source)))
	buf = patchfile.AppendNum(buf, uint64(len(target)))
	buf = append(buf, body...)
	buf = binary.LittleEndian.AppendUint32(buf, crc32.ChecksumIEEE(source))
	buf = binary.LittleEndian.AppendUint32(buf, crc32.ChecksumIEEE(target))
	return binary.LittleEndian.AppendUint32(buf, crc32.ChecksumIEEE(buf))
}

func byteAt(b []byte, i int) byte {
	if i < len(b) {
		return b[i]
	}
	return 0
}

// verify applies the patch back to the original and checks the result.
func verify(original, modified, patch []byte) string {
	got, checksumOK, err := patchfile.ApplyBytes(original, patch, true)
	if err != nil {
		return fmt.Sprintf("FAILED: %v", err)
	}
	if !bytes.Equal(got, modified) {
		return "MISMATCH"
	}
	if !checksumOK {
		return "checksum warning"
	}
	return "OK"
}

func writeSidecar(path string, sc Scenario, scenarioName string, original []byte) error {
	sum := sha1.Sum(original)
	meta := catalog.Metadata{
		Title:          sc.Name,
		Author:         "patch-gen",
		Version:        "1.0",
		Description:    sc.Description,
		PatchType:      sc.PatchType,
		TargetROMName:  scenarioName + ".rom",
		TargetROMCRC32: fmt.Sprintf("%08x", crc32.ChecksumIEEE(original)),
		TargetROMSHA1:  hex.EncodeToString(sum[:]),
	}

	data, err := yaml.Marshal(meta)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func mustWrite(path string, data []byte) {
	if err := os.WriteFile(path, data, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write %s: %v\n", path, err)
		os.Exit(1)
	}
}
