package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"rompatch/internal/ipc"
)

func cmdDaemon(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: rompatchctl daemon <status|stats|rescan|stop|ping> [args]")
		os.Exit(1)
	}

	switch args[0] {
	case "status":
		cmdDaemonStatus(args[1:])
	case "stats":
		cmdDaemonStats()
	case "rescan":
		cmdDaemonRescan()
	case "stop":
		cmdDaemonStop()
	case "ping":
		cmdDaemonPing()
	default:
		fmt.Fprintf(os.Stderr, "Unknown daemon command: %s\n", args[0])
		os.Exit(1)
	}
}

// daemonClient connects to the control socket from the config and exits
// with a hint when no daemon is listening.
func daemonClient() *ipc.IPCClient {
	cfg := loadConfig()

	client := ipc.NewClient(ipc.ClientConfig{SocketPath: cfg.IPC.SocketPath})
	if err := client.Connect(); err != nil {
		if errors.Is(err, ipc.ErrDaemonNotRunning) {
			fmt.Fprintln(os.Stderr, "Cannot connect to daemon. Is rompatchd running?")
			fmt.Fprintln(os.Stderr, "Start it with: rompatchd")
		} else {
			fmt.Fprintf(os.Stderr, "Cannot connect to daemon: %v\n", err)
		}
		os.Exit(1)
	}
	return client
}

func cmdDaemonStatus(args []string) {
	fs := flag.NewFlagSet("daemon status", flag.ExitOnError)
	withMetrics := fs.Bool("metrics", false, "include metric counters")
	fs.Parse(args)

	client := daemonClient()
	defer client.Close()

	status, err := client.Status(*withMetrics)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Status request failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("=== rompatchd Status ===")
	fmt.Printf("Version:    %s\n", status.Version)
	fmt.Printf("Started:    %s\n", status.StartedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("Uptime:     %s\n", status.Uptime.Round(time.Second))
	fmt.Printf("Catalog:    %s (%d entries)\n", status.CatalogPath, status.CatalogEntries)
	fmt.Printf("ROM cache:  %d ROMs\n", status.LibraryROMs)
	if status.WatcherActive {
		fmt.Printf("Watcher:    active (%d dirs)\n", len(status.WatchedDirs))
		for _, dir := range status.WatchedDirs {
			fmt.Printf("  %s\n", dir)
		}
	} else {
		fmt.Println("Watcher:    inactive")
	}

	if len(status.Metrics) > 0 {
		keys := make([]string, 0, len(status.Metrics))
		for k := range status.Metrics {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		fmt.Println("\n=== Metrics ===")
		for _, k := range keys {
			fmt.Printf("%-28s %v\n", k, status.Metrics[k])
		}
	}
}

func cmdDaemonStats() {
	client := daemonClient()
	defer client.Close()

	stats, err := client.Stats()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Stats request failed: %v\n", err)
		os.Exit(1)
	}

	var out bytes.Buffer
	if err := json.Indent(&out, stats.Metrics, "", "  "); err != nil {
		os.Stdout.Write(stats.Metrics)
		fmt.Println()
		return
	}
	fmt.Println(out.String())
}

func cmdDaemonRescan() {
	client := daemonClient()
	defer client.Close()

	fmt.Println("Rescanning patch and ROM directories...")
	resp, err := client.Rescan()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Rescan failed: %v\n", err)
		os.Exit(1)
	}
	if !resp.Success {
		fmt.Fprintf(os.Stderr, "Rescan failed: %s\n", resp.Error)
		os.Exit(1)
	}
	fmt.Printf("Done in %s: %d patches added, %d ROMs indexed\n",
		resp.Duration.Round(time.Millisecond), resp.PatchesAdded, resp.ROMsIndexed)
}

func cmdDaemonStop() {
	client := daemonClient()
	defer client.Close()

	if err := client.Shutdown(); err != nil {
		fmt.Fprintf(os.Stderr, "Shutdown request failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Daemon is shutting down.")
}

func cmdDaemonPing() {
	client := daemonClient()
	defer client.Close()

	start := time.Now()
	if err := client.Ping(); err != nil {
		fmt.Fprintf(os.Stderr, "Ping failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("pong in %s\n", time.Since(start).Round(time.Microsecond))
}
