// Command watch-test is a manual testing tool for the patch directory watcher.
//
// It watches the given directories and prints each patch file as it settles,
// until interrupted with Ctrl+C. Drop patch files into a watched directory,
// or copy one in slowly with dd, to see the debounce and stability windows
// in action.
//
// Usage:
//
//	go build -o watch-test ./tools/watch-test
//	./watch-test /tmp/patches
//	./watch-test -debounce 250ms -stability 100ms /tmp/patches
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rompatch/internal/watcher"
)

func main() {
	debounce := flag.Duration("debounce", time.Second, "quiet time after the last filesystem event")
	stability := flag.Duration("stability", 500*time.Millisecond, "size and mtime hold window")
	recursive := flag.Bool("recursive", true, "watch subdirectories")
	flag.Parse()

	dirs := flag.Args()
	if len(dirs) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: watch-test [options] <dir...>")
		os.Exit(1)
	}

	fmt.Println("Patch Watcher Test")
	fmt.Println("==================")
	fmt.Println()

	w, err := watcher.New(watcher.Options{
		Dirs:      dirs,
		Recursive: *recursive,
		Debounce:  *debounce,
		Stability: *stability,
	})
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}

	fmt.Print("Starting watcher... ")
	if err := w.Start(); err != nil {
		fmt.Printf("FAILED: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("OK")
	fmt.Println()
	fmt.Printf("Watching %d directories (debounce %s, stability %s). Press Ctrl+C to stop.\n",
		len(dirs), *debounce, *stability)
	fmt.Println()
	fmt.Println("Time     | Op     | Size     | CRC32    | Path")
	fmt.Println("---------|--------|----------|----------|-----")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	startTime := time.Now()
	var adds, removes int

	for {
		select {
		case <-sigChan:
			fmt.Println()
			fmt.Println("Received interrupt signal, stopping...")
			goto shutdown

		case ev, ok := <-w.Events():
			if !ok {
				goto shutdown
			}
			elapsed := time.Since(startTime).Truncate(time.Second)
			switch ev.Op {
			case watcher.OpAdd:
				adds++
				fmt.Printf("%8s | %-6s | %8d | %08x | %s\n",
					elapsed, ev.Op, ev.Size, ev.CRC32, ev.Path)
			case watcher.OpRemove:
				removes++
				fmt.Printf("%8s | %-6s | %8s | %8s | %s\n",
					elapsed, ev.Op, "-", "-", ev.Path)
			}

		case werr, ok := <-w.Errors():
			if !ok {
				goto shutdown
			}
			fmt.Printf("  [watch error: %v]\n", werr)
		}
	}

shutdown:
	fmt.Print("Stopping watcher... ")
	if err := w.Stop(); err != nil {
		fmt.Printf("FAILED: %v\n", err)
	} else {
		fmt.Println("OK")
	}

	fmt.Println()
	fmt.Println("Final Statistics")
	fmt.Println("----------------")
	fmt.Printf("Duration: %s\n", time.Since(startTime).Truncate(time.Millisecond))
	fmt.Printf("Added:    %d\n", adds)
	fmt.Printf("Removed:  %d\n", removes)
}
