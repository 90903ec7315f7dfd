//go:build !windows

package ipc

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rompatch/internal/catalog"
	"rompatch/internal/library"
	"rompatch/internal/metrics"
)

func startServer(t *testing.T, handler Handler, mutate func(*ServerConfig)) *Server {
	t.Helper()

	cfg := DefaultServerConfig(t.TempDir())
	if mutate != nil {
		mutate(&cfg)
	}

	srv, err := NewServer(cfg, handler)
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Stop() })
	return srv
}

func connectClient(t *testing.T, socketPath string) *IPCClient {
	t.Helper()

	c := NewClient(ClientConfig{
		SocketPath:     socketPath,
		ConnectTimeout: 2 * time.Second,
		RequestTimeout: 5 * time.Second,
	})
	require.NoError(t, c.Connect())
	t.Cleanup(func() { c.Close() })
	return c
}

func newDaemonHandler(t *testing.T, cfg DaemonHandlerConfig) *DaemonHandler {
	t.Helper()

	dir := t.TempDir()
	if cfg.Catalog == nil {
		cfg.Catalog = catalog.Open(filepath.Join(dir, "catalog.json"))
	}
	if cfg.Library == nil {
		lib, err := library.Open(filepath.Join(dir, "library.db"))
		require.NoError(t, err)
		t.Cleanup(func() { lib.Close() })
		cfg.Library = lib
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewDaemonMetrics(metrics.NewRegistry("rompatch", ""))
	}
	if cfg.Version == "" {
		cfg.Version = "test"
	}
	return NewDaemonHandler(cfg)
}

func TestCleanupSocketMissingPath(t *testing.T) {
	assert.NoError(t, CleanupSocket(filepath.Join(t.TempDir(), "nope.sock")))
}

func TestCleanupSocketRejectsRegularFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "imposter.sock")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	err := CleanupSocket(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a socket")
}

func TestConnectToMissingSocket(t *testing.T) {
	c := NewClient(ClientConfig{
		SocketPath:     filepath.Join(t.TempDir(), "absent.sock"),
		ConnectTimeout: time.Second,
	})
	err := c.Connect()
	require.ErrorIs(t, err, ErrDaemonNotRunning)
}

func TestRequestWithoutConnect(t *testing.T) {
	c := NewClient(DefaultClientConfig(t.TempDir()))
	err := c.Ping()
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestPing(t *testing.T) {
	srv := startServer(t, newDaemonHandler(t, DaemonHandlerConfig{}), nil)
	c := connectClient(t, srv.SocketPath())

	require.NoError(t, c.Ping())
	assert.True(t, c.IsConnected())
}

func TestStatus(t *testing.T) {
	mx := metrics.NewDaemonMetrics(metrics.NewRegistry("rompatch", ""))
	mx.RecordApply(10*time.Millisecond, true)

	handler := newDaemonHandler(t, DaemonHandlerConfig{
		Version: "9.9.9",
		Metrics: mx,
		WatchedDirs: func() []string {
			return []string{"/patches/a", "/patches/b"}
		},
		WatcherActive: func() bool { return true },
	})

	srv := startServer(t, handler, nil)
	c := connectClient(t, srv.SocketPath())

	status, err := c.Status(false)
	require.NoError(t, err)
	assert.Equal(t, "9.9.9", status.Version)
	assert.Equal(t, 0, status.CatalogEntries)
	assert.Equal(t, 0, status.LibraryROMs)
	assert.Equal(t, []string{"/patches/a", "/patches/b"}, status.WatchedDirs)
	assert.True(t, status.WatcherActive)
	assert.Nil(t, status.Metrics)

	status, err = c.Status(true)
	require.NoError(t, err)
	require.NotNil(t, status.Metrics)
	assert.EqualValues(t, 1, status.Metrics["applies_total"])
}

func TestStats(t *testing.T) {
	mx := metrics.NewDaemonMetrics(metrics.NewRegistry("rompatch", ""))
	mx.RecordApply(5*time.Millisecond, true)

	srv := startServer(t, newDaemonHandler(t, DaemonHandlerConfig{Metrics: mx}), nil)
	c := connectClient(t, srv.SocketPath())

	stats, err := c.Stats()
	require.NoError(t, err)

	var dump map[string]any
	require.NoError(t, json.Unmarshal(stats.Metrics, &dump))
	assert.Contains(t, dump, "rompatch_applies_total")
}

func TestStatsWithoutMetrics(t *testing.T) {
	handler := NewDaemonHandler(DaemonHandlerConfig{Version: "test"})
	srv := startServer(t, handler, nil)
	c := connectClient(t, srv.SocketPath())

	_, err := c.Stats()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "metrics not enabled")
}

func TestRescan(t *testing.T) {
	handler := newDaemonHandler(t, DaemonHandlerConfig{
		Rescan: func(ctx context.Context) (int, int, error) {
			return 2, 3, nil
		},
	})

	srv := startServer(t, handler, nil)
	c := connectClient(t, srv.SocketPath())

	result, err := c.Rescan()
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.PatchesAdded)
	assert.Equal(t, 3, result.ROMsIndexed)
}

func TestRescanUnavailable(t *testing.T) {
	srv := startServer(t, newDaemonHandler(t, DaemonHandlerConfig{}), nil)
	c := connectClient(t, srv.SocketPath())

	_, err := c.Rescan()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rescan not available")
}

func TestShutdown(t *testing.T) {
	fired := make(chan struct{})
	handler := newDaemonHandler(t, DaemonHandlerConfig{
		Shutdown: func() { close(fired) },
	})

	srv := startServer(t, handler, nil)
	c := connectClient(t, srv.SocketPath())

	require.NoError(t, c.Shutdown())

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown callback never fired")
	}
}

func TestUnknownMessageType(t *testing.T) {
	srv := startServer(t, newDaemonHandler(t, DaemonHandlerConfig{}), nil)
	c := connectClient(t, srv.SocketPath())

	resp, err := c.request(MessageType(0x0999), nil, 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, MsgError, resp.Header.Type)

	var er ErrorResponse
	require.NoError(t, Decode(resp.Payload, &er))
	assert.Equal(t, ErrInvalidRequest, er.Code)
}

func TestClientCount(t *testing.T) {
	srv := startServer(t, newDaemonHandler(t, DaemonHandlerConfig{}), nil)

	c1 := connectClient(t, srv.SocketPath())
	require.NoError(t, c1.Ping())
	assert.Equal(t, 1, srv.ClientCount())

	c2 := connectClient(t, srv.SocketPath())
	require.NoError(t, c2.Ping())
	assert.Equal(t, 2, srv.ClientCount())

	c1.Close()
	require.Eventually(t, func() bool {
		return srv.ClientCount() == 1
	}, 2*time.Second, 20*time.Millisecond)
}

func TestMaxConnections(t *testing.T) {
	srv := startServer(t, newDaemonHandler(t, DaemonHandlerConfig{}), func(cfg *ServerConfig) {
		cfg.MaxConnections = 1
	})

	c1 := connectClient(t, srv.SocketPath())
	require.NoError(t, c1.Ping())

	// The second connection is accepted and immediately closed, so the
	// first request on it fails.
	c2 := NewClient(ClientConfig{
		SocketPath:     srv.SocketPath(),
		ConnectTimeout: time.Second,
		RequestTimeout: 2 * time.Second,
	})
	require.NoError(t, c2.Connect())
	defer c2.Close()

	require.Error(t, c2.Ping())
}

func TestStopClosesClients(t *testing.T) {
	srv := startServer(t, newDaemonHandler(t, DaemonHandlerConfig{}), nil)
	c := connectClient(t, srv.SocketPath())
	require.NoError(t, c.Ping())

	require.NoError(t, srv.Stop())

	// Socket is gone once the server stops.
	_, err := os.Lstat(srv.SocketPath())
	assert.True(t, os.IsNotExist(err))
}
