package metrics

import (
	"time"
)

// DaemonMetrics holds all rompatchd-specific metrics.
type DaemonMetrics struct {
	registry *Registry

	// Counters
	AppliesTotal         *Counter
	ApplyErrorsTotal     *Counter
	HunkExtractionsTotal *Counter
	CatalogAddsTotal     *Counter
	CatalogRemovalsTotal *Counter
	MatchesTotal         *Counter
	ScansTotal           *Counter
	WatcherEventsTotal   *Counter
	ErrorsTotal          *Counter

	// Gauges
	CatalogEntries *Gauge
	LibraryROMs    *Gauge
	WatchedDirs    *Gauge
	IPCConnections *Gauge
	UptimeSeconds  *Gauge

	// Histograms
	ApplyDuration  *Histogram
	MatchDuration  *Histogram
	ScanDuration   *Histogram
	PatchSizeBytes *Histogram
}

// startTime records when metrics were initialized.
var startTime = time.Now()

// NewDaemonMetrics creates and registers all rompatchd metrics.
func NewDaemonMetrics(registry *Registry) *DaemonMetrics {
	if registry == nil {
		registry = Default()
	}

	m := &DaemonMetrics{
		registry: registry,

		// Counters
		AppliesTotal: registry.RegisterCounter(
			"applies_total",
			"Total number of patch applications",
		),
		ApplyErrorsTotal: registry.RegisterCounter(
			"apply_errors_total",
			"Total number of failed patch applications",
		),
		HunkExtractionsTotal: registry.RegisterCounter(
			"hunk_extractions_total",
			"Total number of hunk listings extracted from patches",
		),
		CatalogAddsTotal: registry.RegisterCounter(
			"catalog_adds_total",
			"Total number of patches added to the catalog",
		),
		CatalogRemovalsTotal: registry.RegisterCounter(
			"catalog_removals_total",
			"Total number of patches removed from the catalog",
		),
		MatchesTotal: registry.RegisterCounter(
			"matches_total",
			"Total number of match queries",
		),
		ScansTotal: registry.RegisterCounter(
			"scans_total",
			"Total number of directory scans",
		),
		WatcherEventsTotal: registry.RegisterCounter(
			"watcher_events_total",
			"Total number of filesystem events handled by the watcher",
		),
		ErrorsTotal: registry.RegisterCounter(
			"errors_total",
			"Total number of errors",
		),

		// Gauges
		CatalogEntries: registry.RegisterGauge(
			"catalog_entries",
			"Number of patches in the catalog",
		),
		LibraryROMs: registry.RegisterGauge(
			"library_roms",
			"Number of ROMs in the library index",
		),
		WatchedDirs: registry.RegisterGauge(
			"watched_dirs",
			"Number of directories under watch",
		),
		IPCConnections: registry.RegisterGauge(
			"ipc_connections",
			"Number of active control connections",
		),
		UptimeSeconds: registry.RegisterGauge(
			"uptime_seconds",
			"Number of seconds the daemon has been running",
		),

		// Histograms
		ApplyDuration: registry.RegisterHistogram(
			"apply_duration_seconds",
			"Duration of patch applications in seconds",
			DurationBuckets,
		),
		MatchDuration: registry.RegisterHistogram(
			"match_duration_seconds",
			"Duration of match queries in seconds",
			DurationBuckets,
		),
		ScanDuration: registry.RegisterHistogram(
			"scan_duration_seconds",
			"Duration of directory scans in seconds",
			DurationBuckets,
		),
		PatchSizeBytes: registry.RegisterHistogram(
			"patch_size_bytes",
			"Size of cataloged patches in bytes",
			SizeBuckets,
		),
	}

	return m
}

// RecordApply records a patch application.
func (m *DaemonMetrics) RecordApply(duration time.Duration, success bool) {
	m.AppliesTotal.Inc()
	m.ApplyDuration.ObserveDuration(duration)
	if !success {
		m.ApplyErrorsTotal.Inc()
		m.ErrorsTotal.Inc()
	}
}

// StartApplyTimer returns a timer for patch applications.
func (m *DaemonMetrics) StartApplyTimer() *HistogramTimer {
	return m.ApplyDuration.Timer()
}

// RecordHunkExtraction records a hunk listing.
func (m *DaemonMetrics) RecordHunkExtraction() {
	m.HunkExtractionsTotal.Inc()
}

// RecordCatalogAdd records a patch added to the catalog.
func (m *DaemonMetrics) RecordCatalogAdd(sizeBytes int64) {
	m.CatalogAddsTotal.Inc()
	m.PatchSizeBytes.Observe(float64(sizeBytes))
}

// RecordCatalogRemoval records a patch removed from the catalog.
func (m *DaemonMetrics) RecordCatalogRemoval() {
	m.CatalogRemovalsTotal.Inc()
}

// RecordMatch records a match query.
func (m *DaemonMetrics) RecordMatch(duration time.Duration) {
	m.MatchesTotal.Inc()
	m.MatchDuration.ObserveDuration(duration)
}

// StartMatchTimer returns a timer for match queries.
func (m *DaemonMetrics) StartMatchTimer() *HistogramTimer {
	return m.MatchDuration.Timer()
}

// RecordScan records a directory scan.
func (m *DaemonMetrics) RecordScan(duration time.Duration) {
	m.ScansTotal.Inc()
	m.ScanDuration.ObserveDuration(duration)
}

// RecordWatcherEvent records a filesystem event handled by the watcher.
func (m *DaemonMetrics) RecordWatcherEvent() {
	m.WatcherEventsTotal.Inc()
}

// RecordError records an error.
func (m *DaemonMetrics) RecordError() {
	m.ErrorsTotal.Inc()
}

// ConnectionOpened records an accepted control connection.
func (m *DaemonMetrics) ConnectionOpened() {
	m.IPCConnections.Inc()
}

// ConnectionClosed records a closed control connection.
func (m *DaemonMetrics) ConnectionClosed() {
	m.IPCConnections.Dec()
}

// SetCatalogEntries sets the catalog size.
func (m *DaemonMetrics) SetCatalogEntries(n int64) {
	m.CatalogEntries.Set(n)
}

// SetLibraryROMs sets the library index size.
func (m *DaemonMetrics) SetLibraryROMs(n int64) {
	m.LibraryROMs.Set(n)
}

// SetWatchedDirs sets the number of watched directories.
func (m *DaemonMetrics) SetWatchedDirs(n int64) {
	m.WatchedDirs.Set(n)
}

// UpdateUptime updates the uptime metric.
func (m *DaemonMetrics) UpdateUptime() {
	m.UptimeSeconds.Set(int64(time.Since(startTime).Seconds()))
}

// Registry returns the registry the metrics are registered in.
func (m *DaemonMetrics) Registry() *Registry {
	return m.registry
}

// Snapshot returns a snapshot of key metrics.
func (m *DaemonMetrics) Snapshot() map[string]interface{} {
	m.UpdateUptime()
	return map[string]interface{}{
		"applies_total":          m.AppliesTotal.Value(),
		"apply_errors_total":     m.ApplyErrorsTotal.Value(),
		"hunk_extractions_total": m.HunkExtractionsTotal.Value(),
		"catalog_adds_total":     m.CatalogAddsTotal.Value(),
		"catalog_removals_total": m.CatalogRemovalsTotal.Value(),
		"matches_total":          m.MatchesTotal.Value(),
		"scans_total":            m.ScansTotal.Value(),
		"watcher_events_total":   m.WatcherEventsTotal.Value(),
		"errors_total":           m.ErrorsTotal.Value(),
		"catalog_entries":        m.CatalogEntries.Value(),
		"library_roms":           m.LibraryROMs.Value(),
		"watched_dirs":           m.WatchedDirs.Value(),
		"ipc_connections":        m.IPCConnections.Value(),
		"uptime_seconds":         m.UptimeSeconds.Value(),
		"apply_avg_seconds":      m.ApplyDuration.Mean(),
		"match_avg_seconds":      m.MatchDuration.Mean(),
		"scan_avg_seconds":       m.ScanDuration.Mean(),
	}
}

// Global rompatchd metrics instance.
var defaultDaemonMetrics *DaemonMetrics

// GetMetrics returns the global rompatchd metrics instance.
func GetMetrics() *DaemonMetrics {
	if defaultDaemonMetrics == nil {
		defaultDaemonMetrics = NewDaemonMetrics(Default())
	}
	return defaultDaemonMetrics
}

// InitMetrics initializes the global rompatchd metrics with a custom registry.
func InitMetrics(registry *Registry) *DaemonMetrics {
	defaultDaemonMetrics = NewDaemonMetrics(registry)
	return defaultDaemonMetrics
}
