// Package ipc provides the control protocol between the rompatchd
// daemon and its clients.
//
// The protocol is a request/response exchange of frames: a fixed
// binary header followed by a JSON payload. Clients connect over a
// Unix socket, or a loopback TCP socket on Windows.
package ipc

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Protocol version for compatibility checking
const (
	ProtocolVersion = 1
	ProtocolMagic   = 0x52504348 // "RPCH"
)

// MessageType identifies the type of control message
type MessageType uint16

const (
	// Control messages (0x00xx)
	MsgPing         MessageType = 0x0001
	MsgPong         MessageType = 0x0002
	MsgError        MessageType = 0x0003
	MsgShutdown     MessageType = 0x0004
	MsgShutdownResp MessageType = 0x0005

	// Status messages (0x01xx)
	MsgStatusRequest MessageType = 0x0100
	MsgStatusResp    MessageType = 0x0101
	MsgStatsRequest  MessageType = 0x0102
	MsgStatsResp     MessageType = 0x0103

	// Scan operations (0x02xx)
	MsgRescan     MessageType = 0x0200
	MsgRescanResp MessageType = 0x0201
)

// Header is the fixed-size message header (16 bytes)
type Header struct {
	Magic     uint32      // Protocol magic number
	Version   uint8       // Protocol version
	Flags     uint8       // Message flags
	Type      MessageType // Message type
	RequestID uint32      // Request ID for correlation
	Length    uint32      // Payload length (not including header)
}

// HeaderSize is the size of the header in bytes
const HeaderSize = 16

// MaxPayloadSize bounds a single frame's payload.
const MaxPayloadSize = 16 * 1024 * 1024

// Header flags
const (
	FlagJSON uint8 = 0x01 // Payload is JSON encoded
)

// Message wraps a header and payload
type Message struct {
	Header  Header
	Payload []byte
}

// NewMessage creates a new message with the given type and payload
func NewMessage(msgType MessageType, requestID uint32, payload []byte) *Message {
	return &Message{
		Header: Header{
			Magic:     ProtocolMagic,
			Version:   ProtocolVersion,
			Flags:     FlagJSON,
			Type:      msgType,
			RequestID: requestID,
			Length:    uint32(len(payload)),
		},
		Payload: payload,
	}
}

// Write writes the header to a writer
func (h *Header) Write(w io.Writer) error {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	buf[4] = h.Version
	buf[5] = h.Flags
	binary.BigEndian.PutUint16(buf[6:8], uint16(h.Type))
	binary.BigEndian.PutUint32(buf[8:12], h.RequestID)
	binary.BigEndian.PutUint32(buf[12:16], h.Length)
	_, err := w.Write(buf)
	return err
}

// ReadHeader reads a header from a reader
func ReadHeader(r io.Reader) (*Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	h := &Header{
		Magic:     binary.BigEndian.Uint32(buf[0:4]),
		Version:   buf[4],
		Flags:     buf[5],
		Type:      MessageType(binary.BigEndian.Uint16(buf[6:8])),
		RequestID: binary.BigEndian.Uint32(buf[8:12]),
		Length:    binary.BigEndian.Uint32(buf[12:16]),
	}

	if h.Magic != ProtocolMagic {
		return nil, fmt.Errorf("invalid magic number: %x", h.Magic)
	}

	if h.Version > ProtocolVersion {
		return nil, fmt.Errorf("unsupported protocol version: %d", h.Version)
	}

	return h, nil
}

// Write writes the message to a writer
func (m *Message) Write(w io.Writer) error {
	if err := m.Header.Write(w); err != nil {
		return err
	}
	if len(m.Payload) > 0 {
		_, err := w.Write(m.Payload)
		return err
	}
	return nil
}

// ReadMessage reads a complete message from a reader
func ReadMessage(r io.Reader) (*Message, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}

	m := &Message{Header: *h}
	if h.Length > 0 {
		if h.Length > MaxPayloadSize {
			return nil, fmt.Errorf("payload too large: %d bytes", h.Length)
		}
		m.Payload = make([]byte, h.Length)
		if _, err := io.ReadFull(r, m.Payload); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// Request/Response payloads

// ErrorResponse is sent when an operation fails
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Error codes
const (
	ErrUnknown        = 1
	ErrInvalidRequest = 2
	ErrNotFound       = 3
	ErrInternalError  = 4
)

// StatusRequest requests daemon status
type StatusRequest struct {
	IncludeMetrics bool `json:"include_metrics,omitempty"`
}

// StatusResponse contains daemon status
type StatusResponse struct {
	Version        string         `json:"version"`
	StartedAt      time.Time      `json:"started_at"`
	Uptime         time.Duration  `json:"uptime"`
	CatalogPath    string         `json:"catalog_path"`
	CatalogEntries int            `json:"catalog_entries"`
	LibraryROMs    int            `json:"library_roms"`
	WatchedDirs    []string       `json:"watched_dirs,omitempty"`
	WatcherActive  bool           `json:"watcher_active"`
	Metrics        map[string]any `json:"metrics,omitempty"`
}

// StatsRequest requests the full metrics dump
type StatsRequest struct{}

// StatsResponse carries the metrics registry encoded as JSON
type StatsResponse struct {
	Metrics json.RawMessage `json:"metrics"`
}

// RescanRequest asks the daemon to rescan its patch and ROM directories
type RescanRequest struct{}

// RescanResponse reports the outcome of a rescan
type RescanResponse struct {
	Success      bool          `json:"success"`
	PatchesAdded int           `json:"patches_added"`
	ROMsIndexed  int           `json:"roms_indexed"`
	Duration     time.Duration `json:"duration"`
	Error        string        `json:"error,omitempty"`
}

// ShutdownRequest asks the daemon to exit
type ShutdownRequest struct{}

// ShutdownResponse acknowledges a shutdown request
type ShutdownResponse struct {
	Success bool `json:"success"`
}

// Encode encodes a payload to JSON bytes
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Decode decodes JSON bytes to a payload
func Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// NewErrorMessage creates an error message
func NewErrorMessage(requestID uint32, code int, message string) *Message {
	payload, _ := Encode(&ErrorResponse{
		Code:    code,
		Message: message,
	})
	return NewMessage(MsgError, requestID, payload)
}

// NewResponse creates a response message
func NewResponse(msgType MessageType, requestID uint32, v any) (*Message, error) {
	payload, err := Encode(v)
	if err != nil {
		return nil, err
	}
	return NewMessage(msgType, requestID, payload), nil
}
