package connection

import (
	"errors"
	"time"
)

// Errors
var (
	ErrInvalidURI    = errors.New("invalid relay uri")
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
	ErrEmptyFrame    = errors.New("zero-length frame")
	ErrClosed        = errors.New("connection closed")
)

// Transport names reported by Conn.Transport.
const (
	TransportStream    = "stream"
	TransportWebSocket = "websocket"
)

// DefaultMaxFrameSize bounds a single frame on either transport.
const DefaultMaxFrameSize = 16 << 20

// Config configures dialed and accepted connections.
type Config struct {
	DialTimeout  time.Duration // Timeout for TCP dial and WebSocket handshake
	WriteTimeout time.Duration // Write deadline for each frame
	MaxFrameSize int           // Largest accepted frame in bytes
	WSPath       string        // Request path used when dialing ws:// addresses
	PingInterval time.Duration // WebSocket keepalive ping interval (0 = disabled)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		DialTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Second,
		MaxFrameSize: DefaultMaxFrameSize,
		WSPath:       "/relay",
		PingInterval: 30 * time.Second,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DialTimeout <= 0 {
		c.DialTimeout = d.DialTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = d.MaxFrameSize
	}
	if c.WSPath == "" {
		c.WSPath = d.WSPath
	}
	return c
}

// Conn is one framed, bidirectional relay connection.
//
// ReadFrame must be called from a single goroutine. WriteFrame and Close are
// safe for concurrent use; WriteFrame after Close returns ErrClosed.
type Conn interface {
	// ReadFrame blocks until a whole frame has arrived.
	ReadFrame() ([]byte, error)

	// WriteFrame sends one frame, bounded by the configured write timeout.
	WriteFrame(frame []byte) error

	// SetReadDeadline bounds the current and future ReadFrame calls.
	SetReadDeadline(t time.Time) error

	// Close closes the underlying socket. Safe to call more than once.
	Close() error

	// RemoteAddr returns the peer address.
	RemoteAddr() string

	// Transport returns TransportStream or TransportWebSocket.
	Transport() string
}
