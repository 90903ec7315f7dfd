// Package config handles configuration loading and validation for rompatch.
package config

import (
	"fmt"
	"regexp"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

var permissionsPattern = regexp.MustCompile(`^0[0-7]{3}$`)

// ValidateConfig performs comprehensive validation of the configuration.
func ValidateConfig(c *Config) error {
	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	errs = append(errs, validateCatalog(&c.Catalog)...)
	errs = append(errs, validateLibrary(&c.Library)...)
	errs = append(errs, validateWatch(&c.Watch)...)
	errs = append(errs, validateMatch(&c.Match)...)
	errs = append(errs, validateIPC(&c.IPC)...)
	errs = append(errs, validateLogging(&c.Logging)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateCatalog(c *CatalogConfig) ValidationErrors {
	var errs ValidationErrors

	if c.Path == "" {
		errs = append(errs, ValidationError{
			Field:   "catalog.path",
			Message: "catalog path is required",
		})
	}

	return errs
}

func validateLibrary(l *LibraryConfig) ValidationErrors {
	var errs ValidationErrors

	if l.CachePath == "" {
		errs = append(errs, ValidationError{
			Field:   "library.cache_path",
			Message: "cache path is required",
		})
	}

	for i, dir := range l.ROMDirs {
		if dir == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("library.rom_dirs[%d]", i),
				Message: "path cannot be empty",
			})
		}
	}

	for i, ext := range l.Extensions {
		if strings.TrimSpace(ext) == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("library.extensions[%d]", i),
				Message: "extension cannot be empty",
			})
		}
	}

	return errs
}

func validateWatch(w *WatchConfig) ValidationErrors {
	var errs ValidationErrors

	// Directories may not exist yet; only emptiness is an error.
	for i, dir := range w.Dirs {
		if dir == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("watch.dirs[%d]", i),
				Message: "path cannot be empty",
			})
		}
	}

	if !w.Enabled {
		return errs
	}

	if w.DebounceMs < 100 {
		errs = append(errs, ValidationError{
			Field:   "watch.debounce_ms",
			Message: "debounce must be at least 100ms",
		})
	}
	if w.DebounceMs > 60000 {
		errs = append(errs, ValidationError{
			Field:   "watch.debounce_ms",
			Message: "debounce cannot exceed 60000ms (1 minute)",
		})
	}

	if w.StabilityMs < 100 {
		errs = append(errs, ValidationError{
			Field:   "watch.stability_ms",
			Message: "stability interval must be at least 100ms",
		})
	}

	return errs
}

func validateMatch(m *MatchConfig) ValidationErrors {
	var errs ValidationErrors

	switch strings.ToLower(m.MinConfidence) {
	case "none", "low", "medium", "high", "exact":
		// Valid levels
	default:
		errs = append(errs, ValidationError{
			Field:   "match.min_confidence",
			Message: fmt.Sprintf("invalid confidence: %s (valid: none, low, medium, high, exact)", m.MinConfidence),
		})
	}

	return errs
}

func validateIPC(i *IPCConfig) ValidationErrors {
	var errs ValidationErrors

	if !i.Enabled {
		return errs
	}

	if i.SocketPath == "" {
		errs = append(errs, ValidationError{
			Field:   "ipc.socket_path",
			Message: "socket path is required when IPC is enabled",
		})
	}

	if i.Permissions != "" && !permissionsPattern.MatchString(i.Permissions) {
		errs = append(errs, ValidationError{
			Field:   "ipc.permissions",
			Message: fmt.Sprintf("invalid permissions format: %s (expected octal like 0600)", i.Permissions),
		})
	}

	if i.MaxConnections < 1 {
		errs = append(errs, ValidationError{
			Field:   "ipc.max_connections",
			Message: "max connections must be at least 1",
		})
	}

	if i.TimeoutSec < 1 {
		errs = append(errs, ValidationError{
			Field:   "ipc.timeout_sec",
			Message: "timeout must be at least 1 second",
		})
	}

	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch l.Level {
	case "debug", "info", "warn", "error":
		// Valid levels
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level: %s (valid: debug, info, warn, error)", l.Level),
		})
	}

	switch l.Format {
	case "text", "json":
		// Valid formats
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format: %s (valid: text, json)", l.Format),
		})
	}

	switch l.Output {
	case "stdout", "stderr":
		// Valid outputs
	case "file":
		if l.FilePath == "" {
			errs = append(errs, ValidationError{
				Field:   "logging.file_path",
				Message: "file path is required when output is 'file'",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("invalid log output: %s (valid: stdout, stderr, file)", l.Output),
		})
	}

	return errs
}
