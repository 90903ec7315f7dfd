package ipc

import (
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// Common errors
var (
	ErrNotConnected     = errors.New("not connected to daemon")
	ErrTimeout          = errors.New("request timeout")
	ErrDaemonNotRunning = errors.New("daemon is not running")
)

// IPCClient talks to the rompatchd control socket. Requests are
// synchronous: one frame out, one frame back.
type IPCClient struct {
	mu         sync.Mutex
	conn       net.Conn
	socketPath string
	config     ClientConfig

	nextReqID atomic.Uint32
}

// ClientConfig configures the control client
type ClientConfig struct {
	SocketPath     string
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
}

// DefaultClientConfig returns sensible defaults
func DefaultClientConfig(dataDir string) ClientConfig {
	return ClientConfig{
		SocketPath:     filepath.Join(dataDir, "rompatchd.sock"),
		ConnectTimeout: 5 * time.Second,
		RequestTimeout: 30 * time.Second,
	}
}

// NewClient creates a new control client
func NewClient(cfg ClientConfig) *IPCClient {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	return &IPCClient{
		socketPath: cfg.SocketPath,
		config:     cfg,
	}
}

// Connect establishes a connection to the daemon
func (c *IPCClient) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	conn, err := dialControl(c.socketPath, c.config.ConnectTimeout)
	if err != nil {
		return err
	}

	c.conn = conn
	return nil
}

// Close closes the connection to the daemon
func (c *IPCClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// IsConnected returns whether the client is connected
func (c *IPCClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// request sends a request and waits for the matching response.
func (c *IPCClient) request(msgType MessageType, payload any, timeout time.Duration) (*Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, ErrNotConnected
	}

	var data []byte
	if payload != nil {
		var err error
		data, err = Encode(payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
	}

	reqID := c.nextReqID.Add(1)
	msg := NewMessage(msgType, reqID, data)

	deadline := time.Now().Add(timeout)
	c.conn.SetWriteDeadline(deadline)
	if err := msg.Write(c.conn); err != nil {
		return nil, fmt.Errorf("write message: %w", err)
	}

	for {
		c.conn.SetReadDeadline(deadline)
		resp, err := ReadMessage(c.conn)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return nil, ErrTimeout
			}
			return nil, err
		}

		// Server keepalives and stale replies are not ours.
		if resp.Header.Type == MsgPing || resp.Header.RequestID != reqID {
			continue
		}
		return resp, nil
	}
}

// asError converts an error frame into a Go error.
func asError(msg *Message) error {
	if msg.Header.Type != MsgError {
		return nil
	}
	var resp ErrorResponse
	if err := Decode(msg.Payload, &resp); err != nil {
		return errors.New("daemon returned an unreadable error")
	}
	return fmt.Errorf("daemon error: %s", resp.Message)
}

// Ping checks if the daemon is responsive
func (c *IPCClient) Ping() error {
	resp, err := c.request(MsgPing, nil, 5*time.Second)
	if err != nil {
		return err
	}

	if resp.Header.Type != MsgPong {
		return fmt.Errorf("unexpected response: %d", resp.Header.Type)
	}

	return nil
}

// Status requests the daemon status
func (c *IPCClient) Status(includeMetrics bool) (*StatusResponse, error) {
	req := &StatusRequest{IncludeMetrics: includeMetrics}

	resp, err := c.request(MsgStatusRequest, req, c.config.RequestTimeout)
	if err != nil {
		return nil, err
	}
	if err := asError(resp); err != nil {
		return nil, err
	}

	var status StatusResponse
	if err := Decode(resp.Payload, &status); err != nil {
		return nil, err
	}

	return &status, nil
}

// Stats requests the full metrics dump
func (c *IPCClient) Stats() (*StatsResponse, error) {
	resp, err := c.request(MsgStatsRequest, &StatsRequest{}, c.config.RequestTimeout)
	if err != nil {
		return nil, err
	}
	if err := asError(resp); err != nil {
		return nil, err
	}

	var stats StatsResponse
	if err := Decode(resp.Payload, &stats); err != nil {
		return nil, err
	}

	return &stats, nil
}

// Rescan asks the daemon to rescan its directories. Scans can take a
// while on large libraries, so the timeout is generous.
func (c *IPCClient) Rescan() (*RescanResponse, error) {
	resp, err := c.request(MsgRescan, &RescanRequest{}, 5*time.Minute)
	if err != nil {
		return nil, err
	}
	if err := asError(resp); err != nil {
		return nil, err
	}

	var result RescanResponse
	if err := Decode(resp.Payload, &result); err != nil {
		return nil, err
	}

	return &result, nil
}

// Shutdown asks the daemon to exit
func (c *IPCClient) Shutdown() error {
	resp, err := c.request(MsgShutdown, &ShutdownRequest{}, c.config.RequestTimeout)
	if err != nil {
		return err
	}
	if err := asError(resp); err != nil {
		return err
	}

	var result ShutdownResponse
	if err := Decode(resp.Payload, &result); err != nil {
		return err
	}
	if !result.Success {
		return errors.New("daemon refused shutdown")
	}

	return nil
}
