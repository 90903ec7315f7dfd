// rompatchd - ROM patch catalog daemon
//
// rompatchd keeps the patch catalog current: it scans the configured
// patch directories at startup, watches them for new and removed patch
// files, maintains the ROM digest cache, and serves the control socket
// rompatchctl talks to.
//
//	rompatchd                    Run with the default configuration
//	rompatchd -config conf.toml  Run with an explicit config file
//	rompatchd -version           Print the version and exit
//
// The process runs in the foreground; use your service manager to
// daemonize it.
package main

import (
	"flag"
	"fmt"
	"os"
)

// Version is the rompatchd release version.
const Version = "1.0.0"

var (
	configPath  = flag.String("config", "", "path to config file")
	showVersion = flag.Bool("version", false, "print version and exit")
)

func main() {
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Printf("rompatchd %s\n", Version)
		return
	}

	daemon, err := NewDaemon(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rompatchd: %v\n", err)
		os.Exit(1)
	}

	if err := daemon.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "rompatchd: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `rompatchd - ROM patch catalog daemon

Usage: rompatchd [options]

Options:
  -config <path>  Path to config file (default: <data dir>/config.toml)
  -version        Print version and exit

The daemon scans and watches the patch directories named in the config,
keeps the ROM digest cache warm, and serves the rompatchctl control
socket. It exits on SIGINT/SIGTERM or a 'rompatchctl daemon stop'.`)
}
