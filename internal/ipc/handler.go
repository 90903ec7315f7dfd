package ipc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"rompatch/internal/catalog"
	"rompatch/internal/library"
	"rompatch/internal/metrics"
)

// RescanFunc rescans the configured patch and ROM directories and
// reports how many patches were cataloged and ROMs indexed.
type RescanFunc func(ctx context.Context) (patches, roms int, err error)

// DaemonHandler implements the Handler interface for rompatchd.
type DaemonHandler struct {
	version   string
	startedAt time.Time

	catalog  *catalog.Catalog
	library  *library.Library
	daemonMx *metrics.DaemonMetrics

	watchedDirs   func() []string
	watcherActive func() bool
	rescan        RescanFunc
	shutdown      func()
}

// DaemonHandlerConfig configures the daemon handler.
type DaemonHandlerConfig struct {
	Version string

	Catalog *catalog.Catalog
	Library *library.Library
	Metrics *metrics.DaemonMetrics

	// WatchedDirs reports the directories currently under watch.
	WatchedDirs func() []string
	// WatcherActive reports whether the patch watcher is running.
	WatcherActive func() bool
	// Rescan re-walks the configured directories on demand.
	Rescan RescanFunc
	// Shutdown asks the daemon to exit.
	Shutdown func()
}

// NewDaemonHandler creates a new daemon handler.
func NewDaemonHandler(cfg DaemonHandlerConfig) *DaemonHandler {
	return &DaemonHandler{
		version:       cfg.Version,
		startedAt:     time.Now(),
		catalog:       cfg.Catalog,
		library:       cfg.Library,
		daemonMx:      cfg.Metrics,
		watchedDirs:   cfg.WatchedDirs,
		watcherActive: cfg.WatcherActive,
		rescan:        cfg.Rescan,
		shutdown:      cfg.Shutdown,
	}
}

// HandleMessage processes a control message.
func (h *DaemonHandler) HandleMessage(ctx context.Context, client *Client, msg *Message) (*Message, error) {
	switch msg.Header.Type {
	case MsgStatusRequest:
		return h.handleStatus(ctx, msg)

	case MsgStatsRequest:
		return h.handleStats(ctx, msg)

	case MsgRescan:
		return h.handleRescan(ctx, msg)

	case MsgShutdown:
		return h.handleShutdown(ctx, msg)

	default:
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest,
			fmt.Sprintf("unknown message type: %d", msg.Header.Type)), nil
	}
}

// handleStatus handles status requests.
func (h *DaemonHandler) handleStatus(_ context.Context, msg *Message) (*Message, error) {
	var req StatusRequest
	if len(msg.Payload) > 0 {
		if err := Decode(msg.Payload, &req); err != nil {
			return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "invalid status request"), nil
		}
	}

	resp := &StatusResponse{
		Version:   h.version,
		StartedAt: h.startedAt,
		Uptime:    time.Since(h.startedAt),
	}

	if h.catalog != nil {
		resp.CatalogPath = h.catalog.Path()
		resp.CatalogEntries = h.catalog.Len()
	}
	if h.library != nil {
		if n, err := h.library.Count(); err == nil {
			resp.LibraryROMs = n
		}
	}
	if h.watchedDirs != nil {
		resp.WatchedDirs = h.watchedDirs()
	}
	if h.watcherActive != nil {
		resp.WatcherActive = h.watcherActive()
	}

	if h.daemonMx != nil {
		h.daemonMx.SetCatalogEntries(int64(resp.CatalogEntries))
		h.daemonMx.SetLibraryROMs(int64(resp.LibraryROMs))
		if req.IncludeMetrics {
			resp.Metrics = h.daemonMx.Snapshot()
		}
	}

	return NewResponse(MsgStatusResp, msg.Header.RequestID, resp)
}

// handleStats dumps the full metrics registry.
func (h *DaemonHandler) handleStats(_ context.Context, msg *Message) (*Message, error) {
	if h.daemonMx == nil {
		return NewErrorMessage(msg.Header.RequestID, ErrNotFound, "metrics not enabled"), nil
	}

	var buf bytes.Buffer
	if err := h.daemonMx.Registry().WriteJSON(&buf); err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInternalError, err.Error()), nil
	}

	resp := &StatsResponse{Metrics: json.RawMessage(buf.Bytes())}
	return NewResponse(MsgStatsResp, msg.Header.RequestID, resp)
}

// handleRescan re-walks the configured directories.
func (h *DaemonHandler) handleRescan(ctx context.Context, msg *Message) (*Message, error) {
	if h.rescan == nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "rescan not available"), nil
	}

	start := time.Now()
	patches, roms, err := h.rescan(ctx)

	resp := &RescanResponse{
		Success:      err == nil,
		PatchesAdded: patches,
		ROMsIndexed:  roms,
		Duration:     time.Since(start),
	}
	if err != nil {
		resp.Error = err.Error()
	}

	return NewResponse(MsgRescanResp, msg.Header.RequestID, resp)
}

// handleShutdown acknowledges the request, then triggers shutdown once
// the ack has had time to reach the client.
func (h *DaemonHandler) handleShutdown(_ context.Context, msg *Message) (*Message, error) {
	if h.shutdown != nil {
		time.AfterFunc(100*time.Millisecond, h.shutdown)
	}
	return NewResponse(MsgShutdownResp, msg.Header.RequestID, &ShutdownResponse{Success: h.shutdown != nil})
}
