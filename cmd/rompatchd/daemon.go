package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"reflect"
	"strconv"
	"sync"
	"syscall"
	"time"

	"rompatch/internal/catalog"
	"rompatch/internal/config"
	"rompatch/internal/ipc"
	"rompatch/internal/library"
	"rompatch/internal/lockfile"
	"rompatch/internal/logging"
	"rompatch/internal/metrics"
	"rompatch/internal/watcher"
)

// Daemon ties the catalog, library, watcher, and control socket
// together for one rompatchd process.
type Daemon struct {
	loader *config.Loader
	logger *logging.Logger

	cat  *catalog.Catalog
	lib  *library.Library
	mx   *metrics.DaemonMetrics
	lock *lockfile.Lock

	server *ipc.Server

	cfgMu sync.RWMutex
	cfg   *config.Config

	watchMu sync.Mutex
	watcher *watcher.Watcher

	// Serializes the initial scan, watcher-triggered adds, and IPC
	// rescans against each other.
	scanMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

// NewDaemon loads the configuration (writing a default file on first
// run) and prepares a daemon. Nothing is started until Run.
func NewDaemon(configPath string) (*Daemon, error) {
	if configPath == "" {
		configPath = config.ConfigPath()
	}

	cfg, created, err := config.LoadOrCreate(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	logger, err := buildLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("configure logging: %w", err)
	}
	logging.SetDefault(logger)

	if created {
		logging.Info("wrote default config", "path", configPath)
	}

	loader := config.NewLoader(configPath)
	if _, err := loader.Load(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		loader:     loader,
		logger:     logger.WithComponent("daemon"),
		cfg:        cfg,
		ctx:        ctx,
		cancel:     cancel,
		shutdownCh: make(chan struct{}),
	}, nil
}

// Run brings the daemon up and blocks until a shutdown signal or a
// control-socket stop request arrives.
func (d *Daemon) Run() error {
	cfg := d.currentConfig()

	pidPath := filepath.Join(config.DataDir(), "rompatchd.pid")
	lock, err := lockfile.Acquire(pidPath)
	if err != nil {
		if errors.Is(err, lockfile.ErrLocked) {
			if pid, ok := lockfile.HolderPID(pidPath); ok {
				return fmt.Errorf("already running (pid %d)", pid)
			}
			return fmt.Errorf("already running")
		}
		return err
	}
	d.lock = lock
	defer d.lock.Release()

	d.mx = metrics.InitMetrics(nil)

	d.cat = catalog.Open(cfg.Catalog.Path)

	lib, err := library.Open(cfg.Library.CachePath)
	if err != nil {
		return fmt.Errorf("open library cache: %w", err)
	}
	d.lib = lib
	defer d.lib.Close()

	d.logger.Info("starting",
		"version", Version,
		"catalog", cfg.Catalog.Path,
		"entries", d.cat.Len())

	if patches, roms, err := d.scanAll(d.ctx); err != nil {
		d.logger.Warn("initial scan incomplete", "error", err)
	} else {
		d.logger.Info("initial scan done", "patches", patches, "roms", roms)
	}

	if cfg.Watch.Enabled && len(cfg.Watch.Dirs) > 0 {
		if err := d.startWatcher(cfg); err != nil {
			d.logger.Warn("watcher not started", "error", err)
		}
	}

	if cfg.IPC.Enabled {
		if err := d.startServer(cfg); err != nil {
			d.stopWatcher()
			return fmt.Errorf("start control socket: %w", err)
		}
		d.logger.Info("control socket ready", "path", d.server.SocketPath())
	}

	d.loader.OnChange(d.applyConfig)
	if err := d.loader.Watch(); err != nil {
		d.logger.Warn("config reload disabled", "error", err)
	}
	d.wg.Add(1)
	go d.reportLoaderErrors()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		d.logger.Info("signal received", "signal", sig.String())
	case <-d.shutdownCh:
		d.logger.Info("stop requested over control socket")
	}

	return d.shutdown()
}

// shutdown tears everything down in reverse start order.
func (d *Daemon) shutdown() error {
	d.cancel()

	if d.server != nil {
		if err := d.server.Stop(); err != nil {
			d.logger.Warn("control socket stop", "error", err)
		}
	}
	d.stopWatcher()
	d.loader.Close()
	d.wg.Wait()

	d.logger.Info("stopped")
	return nil
}

// requestShutdown is handed to the IPC handler as its shutdown trigger.
func (d *Daemon) requestShutdown() {
	d.shutdownOnce.Do(func() { close(d.shutdownCh) })
}

func (d *Daemon) currentConfig() *config.Config {
	d.cfgMu.RLock()
	defer d.cfgMu.RUnlock()
	return d.cfg
}

// scanAll walks the configured patch and ROM directories once,
// reporting how many patches are now cataloged beyond the starting
// count and how many ROM files were indexed.
func (d *Daemon) scanAll(ctx context.Context) (patches, roms int, err error) {
	d.scanMu.Lock()
	defer d.scanMu.Unlock()

	start := time.Now()
	defer func() {
		d.mx.RecordScan(time.Since(start))
		d.refreshGauges()
	}()

	cfg := d.currentConfig()
	before := d.cat.Len()
	var firstErr error

	for _, dir := range cfg.Watch.Dirs {
		if ctx.Err() != nil {
			return d.cat.Len() - before, roms, ctx.Err()
		}
		opts := catalog.AddOptions{Platform: cfg.Catalog.Platform}
		if _, err := d.cat.AddDirectory(dir, opts, cfg.Watch.Recursive); err != nil {
			d.logger.Warn("patch directory scan", "dir", dir, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	for _, dir := range cfg.Library.ROMDirs {
		if ctx.Err() != nil {
			return d.cat.Len() - before, roms, ctx.Err()
		}
		scanned, err := d.lib.Scan(dir, library.ScanOptions{
			Recursive:  cfg.Library.Recursive,
			Extensions: cfg.Library.Extensions,
		})
		if err != nil {
			d.logger.Warn("rom directory scan", "dir", dir, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		roms += len(scanned)
	}

	return d.cat.Len() - before, roms, firstErr
}

// rescan backs the control socket's rescan request.
func (d *Daemon) rescan(ctx context.Context) (int, int, error) {
	patches, roms, err := d.scanAll(ctx)
	if err == nil {
		d.logger.Info("rescan done", "patches", patches, "roms", roms)
	}
	return patches, roms, err
}

// startWatcher brings up the patch directory watcher and its event
// loop. Caller holds no locks.
func (d *Daemon) startWatcher(cfg *config.Config) error {
	d.watchMu.Lock()
	defer d.watchMu.Unlock()

	if d.watcher != nil {
		return nil
	}

	w, err := watcher.New(watcher.Options{
		Dirs:      cfg.Watch.Dirs,
		Recursive: cfg.Watch.Recursive,
		Debounce:  time.Duration(cfg.Watch.DebounceMs) * time.Millisecond,
		Stability: time.Duration(cfg.Watch.StabilityMs) * time.Millisecond,
	})
	if err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		return err
	}

	d.watcher = w
	d.mx.SetWatchedDirs(int64(len(w.WatchedDirs())))
	d.logger.Info("watching patch directories", "dirs", w.WatchedDirs())

	d.wg.Add(1)
	go d.watchLoop(w)
	return nil
}

func (d *Daemon) stopWatcher() {
	d.watchMu.Lock()
	defer d.watchMu.Unlock()

	if d.watcher == nil {
		return
	}
	d.watcher.Stop()
	d.watcher = nil
	d.mx.SetWatchedDirs(0)
}

// watchLoop drains one watcher's channels until they close.
func (d *Daemon) watchLoop(w *watcher.Watcher) {
	defer d.wg.Done()

	for {
		select {
		case ev, ok := <-w.Events():
			if !ok {
				return
			}
			d.handleWatchEvent(ev)
		case err, ok := <-w.Errors():
			if !ok {
				return
			}
			d.logger.Warn("watcher", "error", err)
			d.mx.RecordError()
		}
	}
}

func (d *Daemon) handleWatchEvent(ev watcher.Event) {
	d.mx.RecordWatcherEvent()

	switch ev.Op {
	case watcher.OpAdd:
		d.scanMu.Lock()
		entry, err := d.cat.Add(ev.Path, catalog.AddOptions{
			Platform: d.currentConfig().Catalog.Platform,
		})
		d.scanMu.Unlock()
		if err != nil {
			d.logger.Warn("catalog add", "path", ev.Path, "error", err)
			d.mx.RecordError()
			return
		}
		if entry == nil {
			d.logger.Debug("ignored file", "path", ev.Path)
			return
		}
		d.mx.RecordCatalogAdd(ev.Size)
		d.logger.Info("patch cataloged",
			"id", entry.PatchID,
			"format", entry.Format,
			"path", ev.Path)

	case watcher.OpRemove:
		removed := d.forgetPatchesAt(ev.Path)
		if removed > 0 {
			d.logger.Info("patch removed", "path", ev.Path, "entries", removed)
		}
	}

	d.refreshGauges()
}

// forgetPatchesAt drops every catalog entry pointing at path.
func (d *Daemon) forgetPatchesAt(path string) int {
	d.scanMu.Lock()
	defer d.scanMu.Unlock()

	removed := 0
	for _, e := range d.cat.All() {
		if e.Path != path {
			continue
		}
		ok, err := d.cat.Remove(e.PatchID)
		if err != nil {
			d.logger.Warn("catalog remove", "id", e.PatchID, "error", err)
			d.mx.RecordError()
			continue
		}
		if ok {
			removed++
			d.mx.RecordCatalogRemoval()
		}
	}
	return removed
}

func (d *Daemon) refreshGauges() {
	d.mx.SetCatalogEntries(int64(d.cat.Len()))
	if n, err := d.lib.Count(); err == nil {
		d.mx.SetLibraryROMs(int64(n))
	}
}

// startServer brings up the control socket.
func (d *Daemon) startServer(cfg *config.Config) error {
	handler := ipc.NewDaemonHandler(ipc.DaemonHandlerConfig{
		Version:       Version,
		Catalog:       d.cat,
		Library:       d.lib,
		Metrics:       d.mx,
		WatchedDirs:   d.watchedDirs,
		WatcherActive: d.watcherActive,
		Rescan:        d.rescan,
		Shutdown:      d.requestShutdown,
	})

	timeout := time.Duration(cfg.IPC.TimeoutSec) * time.Second
	serverCfg := ipc.ServerConfig{
		SocketPath:     cfg.IPC.SocketPath,
		SocketMode:     parseSocketMode(cfg.IPC.Permissions),
		ReadTimeout:    timeout,
		WriteTimeout:   timeout,
		MaxConnections: cfg.IPC.MaxConnections,
		Metrics:        d.mx,
	}

	server, err := ipc.NewServer(serverCfg, handler)
	if err != nil {
		return err
	}
	if err := server.Start(); err != nil {
		return err
	}

	d.server = server
	return nil
}

func (d *Daemon) watchedDirs() []string {
	d.watchMu.Lock()
	defer d.watchMu.Unlock()
	if d.watcher == nil {
		return nil
	}
	return d.watcher.WatchedDirs()
}

func (d *Daemon) watcherActive() bool {
	d.watchMu.Lock()
	defer d.watchMu.Unlock()
	return d.watcher != nil
}

// applyConfig reacts to a config file rewrite. Logging and watch
// settings apply live; catalog, library, and socket settings need a
// restart and only log a notice.
func (d *Daemon) applyConfig(newCfg *config.Config) {
	d.cfgMu.Lock()
	old := d.cfg
	d.cfg = newCfg
	d.cfgMu.Unlock()

	d.logger.Info("config reloaded")

	if old.Logging != newCfg.Logging {
		if logger, err := buildLogger(&newCfg.Logging); err != nil {
			d.logger.Warn("keeping old logging settings", "error", err)
		} else {
			logging.SetDefault(logger)
			d.logger = logger.WithComponent("daemon")
		}
	}

	if !reflect.DeepEqual(old.Watch, newCfg.Watch) {
		d.stopWatcher()
		if newCfg.Watch.Enabled && len(newCfg.Watch.Dirs) > 0 {
			if err := d.startWatcher(newCfg); err != nil {
				d.logger.Warn("watcher restart failed", "error", err)
			}
		}
	}

	if old.Catalog.Path != newCfg.Catalog.Path ||
		old.Library.CachePath != newCfg.Library.CachePath ||
		old.IPC != newCfg.IPC {
		d.logger.Warn("catalog, library, and ipc changes take effect on restart")
	}
}

// reportLoaderErrors logs reload failures so broken edits are visible.
func (d *Daemon) reportLoaderErrors() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case err, ok := <-d.loader.Errors():
			if !ok {
				return
			}
			d.logger.Warn("config reload", "error", err)
		}
	}
}

// buildLogger maps the logging config section onto a logger.
func buildLogger(lc *config.LoggingConfig) (*logging.Logger, error) {
	level, err := logging.ParseLevel(lc.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(lc.Format)
	if err != nil {
		return nil, err
	}

	return logging.New(&logging.Config{
		Level:    level,
		Format:   format,
		Output:   lc.Output,
		FilePath: lc.FilePath,
	})
}

// parseSocketMode parses an octal permission string, falling back to
// 0600. Validation has already rejected malformed values.
func parseSocketMode(perms string) os.FileMode {
	if perms == "" {
		return 0600
	}
	v, err := strconv.ParseUint(perms, 8, 32)
	if err != nil {
		return 0600
	}
	return os.FileMode(v)
}
