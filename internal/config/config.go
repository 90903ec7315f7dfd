// Package config handles configuration loading, validation, and management
// for rompatch.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"rompatch/internal/fsutil"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete rompatch configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Catalog configuration for the patch catalog document.
	Catalog CatalogConfig `toml:"catalog" json:"catalog" yaml:"catalog"`

	// Library configuration for the ROM digest cache.
	Library LibraryConfig `toml:"library" json:"library" yaml:"library"`

	// Watch configuration for patch directory monitoring.
	Watch WatchConfig `toml:"watch" json:"watch" yaml:"watch"`

	// Match configuration for ROM/patch matching.
	Match MatchConfig `toml:"match" json:"match" yaml:"match"`

	// IPC configuration for the daemon control socket.
	IPC IPCConfig `toml:"ipc" json:"ipc" yaml:"ipc"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`
}

// CatalogConfig holds patch catalog configuration.
type CatalogConfig struct {
	// Path is the location of the catalog JSON document.
	Path string `toml:"path" json:"path" yaml:"path"`

	// Platform tags entries added by directory scans, e.g. "SNES".
	// Empty leaves new entries untagged.
	Platform string `toml:"platform" json:"platform" yaml:"platform"`
}

// LibraryConfig holds ROM digest cache configuration.
type LibraryConfig struct {
	// CachePath is the location of the SQLite digest cache.
	CachePath string `toml:"cache_path" json:"cache_path" yaml:"cache_path"`

	// ROMDirs is the list of directories holding ROM images.
	ROMDirs []string `toml:"rom_dirs" json:"rom_dirs" yaml:"rom_dirs"`

	// Extensions restricts ROM scans to these suffixes.
	// Empty means the built-in default set.
	Extensions []string `toml:"extensions" json:"extensions" yaml:"extensions"`

	// Recursive determines whether ROM scans descend into subdirectories.
	Recursive bool `toml:"recursive" json:"recursive" yaml:"recursive"`
}

// WatchConfig holds patch directory watching configuration.
type WatchConfig struct {
	// Enabled determines whether the daemon watches patch directories.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Dirs is the list of patch directories to monitor.
	Dirs []string `toml:"dirs" json:"dirs" yaml:"dirs"`

	// Recursive determines whether to watch subdirectories.
	Recursive bool `toml:"recursive" json:"recursive" yaml:"recursive"`

	// DebounceMs is how long a file must be quiet after its last
	// filesystem event before it is cataloged.
	DebounceMs int `toml:"debounce_ms" json:"debounce_ms" yaml:"debounce_ms"`

	// StabilityMs is the interval between size checks used to confirm
	// a file has stopped growing.
	StabilityMs int `toml:"stability_ms" json:"stability_ms" yaml:"stability_ms"`
}

// MatchConfig holds matcher configuration.
type MatchConfig struct {
	// MinConfidence is the lowest confidence reported by match
	// commands: "none", "low", "medium", "high", or "exact".
	MinConfidence string `toml:"min_confidence" json:"min_confidence" yaml:"min_confidence"`
}

// IPCConfig holds daemon control socket configuration.
type IPCConfig struct {
	// Enabled determines whether the daemon serves the control socket.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// SocketPath is the Unix socket path, or a loopback host:port on
	// Windows.
	SocketPath string `toml:"socket_path" json:"socket_path" yaml:"socket_path"`

	// Permissions is the Unix socket mode (e.g. "0600").
	Permissions string `toml:"permissions" json:"permissions" yaml:"permissions"`

	// MaxConnections is the maximum concurrent client connections.
	MaxConnections int `toml:"max_connections" json:"max_connections" yaml:"max_connections"`

	// TimeoutSec is the per-connection read/write timeout.
	TimeoutSec int `toml:"timeout_sec" json:"timeout_sec" yaml:"timeout_sec"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the log format: "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is the log output: "stdout", "stderr", or "file".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the path to the log file (when Output is "file").
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	dir := DataDir()

	return &Config{
		Version: Version,
		Catalog: CatalogConfig{
			Path: filepath.Join(dir, "catalog.json"),
		},
		Library: LibraryConfig{
			CachePath: filepath.Join(dir, "library.db"),
			ROMDirs:   []string{},
			Recursive: true,
		},
		Watch: WatchConfig{
			Enabled:     true,
			Dirs:        []string{},
			Recursive:   true,
			DebounceMs:  1000,
			StabilityMs: 500,
		},
		Match: MatchConfig{
			MinConfidence: "low",
		},
		IPC: IPCConfig{
			Enabled:        true,
			SocketPath:     defaultSocketPath(),
			Permissions:    "0600",
			MaxConnections: 10,
			TimeoutSec:     30,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "text",
			Output:   "stderr",
			FilePath: filepath.Join(dir, "rompatchd.log"),
		},
	}
}

// DataDir returns the base rompatch data directory, honoring the
// ROMPATCH_DATA_DIR environment override.
func DataDir() string {
	if envDir := os.Getenv("ROMPATCH_DATA_DIR"); envDir != "" {
		return envDir
	}
	return PlatformDataDir()
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(DataDir(), "config.toml")
}

// Load reads configuration from the specified path. An empty path means
// ConfigPath(); a missing file yields the defaults. TOML, JSON, and YAML
// are recognized by extension, with auto-detection for anything else.
// Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = ConfigPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.ApplyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	switch filepath.Ext(path) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("decode TOML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode YAML: %w", err)
		}
	default:
		if err := autoDetectAndParse(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.ApplyEnvOverrides()
	return cfg, nil
}

// autoDetectAndParse attempts to parse the config in multiple formats.
func autoDetectAndParse(data []byte, cfg *Config) error {
	if _, err := toml.Decode(string(data), cfg); err == nil {
		return nil
	}
	if err := json.Unmarshal(data, cfg); err == nil {
		return nil
	}
	if err := yaml.Unmarshal(data, cfg); err == nil {
		return nil
	}
	return fmt.Errorf("unable to parse config file (tried TOML, JSON, YAML)")
}

// Save writes the configuration to path as TOML, atomically.
func (c *Config) Save(path string) error {
	if path == "" {
		path = ConfigPath()
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err := fsutil.WriteFile(path, buf.Bytes()); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// ApplyEnvOverrides applies environment variable overrides. Variables are
// prefixed with ROMPATCH_ and use underscores.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("ROMPATCH_CATALOG_PATH"); v != "" {
		c.Catalog.Path = v
	}
	if v := os.Getenv("ROMPATCH_PLATFORM"); v != "" {
		c.Catalog.Platform = v
	}
	if v := os.Getenv("ROMPATCH_CACHE_PATH"); v != "" {
		c.Library.CachePath = v
	}
	if v := os.Getenv("ROMPATCH_SOCKET_PATH"); v != "" {
		c.IPC.SocketPath = v
	}
	if v := os.Getenv("ROMPATCH_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("ROMPATCH_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
}

// EnsureDirectories creates the directories the daemon writes into.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		filepath.Dir(c.Catalog.Path),
		filepath.Dir(c.Library.CachePath),
	}
	if c.Logging.Output == "file" && c.Logging.FilePath != "" {
		dirs = append(dirs, filepath.Dir(c.Logging.FilePath))
	}
	if c.IPC.Enabled {
		// A host:port socket address has no parent directory; its Dir
		// is "." and is skipped below.
		dirs = append(dirs, filepath.Dir(c.IPC.SocketPath))
	}

	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Library.ROMDirs = append([]string{}, c.Library.ROMDirs...)
	clone.Library.Extensions = append([]string{}, c.Library.Extensions...)
	clone.Watch.Dirs = append([]string{}, c.Watch.Dirs...)
	return &clone
}

func defaultSocketPath() string {
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(os.Getenv("HOME"), "Library", "Application Support", "rompatch", "rompatchd.sock")
	case "linux":
		if xdgRuntime := os.Getenv("XDG_RUNTIME_DIR"); xdgRuntime != "" {
			return filepath.Join(xdgRuntime, "rompatchd.sock")
		}
		return "/tmp/rompatchd.sock"
	case "windows":
		return "127.0.0.1:46791"
	default:
		return "/tmp/rompatchd.sock"
	}
}
