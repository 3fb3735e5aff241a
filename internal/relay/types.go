package relay

import (
	"context"
	"time"

	"github.com/rickgao/effekt/internal/connection"
	"github.com/rickgao/effekt/internal/router"
)

// Dispatcher is the part of a router the client needs. *router.Router
// implements it.
type Dispatcher interface {
	Fire(ctx context.Context, name string, payload router.Payload) error
	AddExtension(ext router.Extension) error
}

// Provider is a key/value configuration source.
type Provider interface {
	Get(key string) (any, bool)
}

// State is the server lifecycle state.
type State int

const (
	StateCreated State = iota
	StateListening
	StateRunning
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateListening:
		return "listening"
	case StateRunning:
		return "running"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ServerConfig configures a Server.
type ServerConfig struct {
	Address       string        // TCP listen address (host:port)
	WriteTimeout  time.Duration // Per-recipient write deadline
	ShutdownGrace time.Duration // Time granted to in-flight reads on Close
	MaxFrameSize  int           // Largest accepted frame in bytes
	PingInterval  time.Duration // WebSocket keepalive interval (0 = disabled)
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:       "localhost:6789",
		WriteTimeout:  5 * time.Second,
		ShutdownGrace: 2 * time.Second,
		MaxFrameSize:  connection.DefaultMaxFrameSize,
		PingInterval:  30 * time.Second,
	}
}

func (c ServerConfig) connConfig() connection.Config {
	return connection.Config{
		WriteTimeout: c.WriteTimeout,
		MaxFrameSize: c.MaxFrameSize,
		PingInterval: c.PingInterval,
	}
}

// ClientConfig configures a Client.
type ClientConfig struct {
	Transport          connection.Config
	ReconnectBaseDelay time.Duration // First background reconnect delay (0 = no background reconnect)
	ReconnectMaxDelay  time.Duration // Backoff cap
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Transport:          connection.DefaultConfig(),
		ReconnectBaseDelay: 1 * time.Second,
		ReconnectMaxDelay:  60 * time.Second,
	}
}

// ClientOption configures a Client.
type ClientOption func(*ClientConfig)

// WithClientConfig replaces the whole client configuration.
func WithClientConfig(cfg ClientConfig) ClientOption {
	return func(c *ClientConfig) {
		*c = cfg
	}
}

// WithTransport sets the dial and framing configuration.
func WithTransport(cfg connection.Config) ClientOption {
	return func(c *ClientConfig) {
		c.Transport = cfg
	}
}

// WithReconnectBackoff sets the background reconnect delays. A zero base
// disables background reconnection.
func WithReconnectBackoff(base, maxDelay time.Duration) ClientOption {
	return func(c *ClientConfig) {
		c.ReconnectBaseDelay = base
		c.ReconnectMaxDelay = maxDelay
	}
}

// Session describes one server-side connection.
type Session struct {
	ID             string
	RemoteAddr     string
	Transport      string
	ConnectedAt    time.Time
	DisconnectedAt time.Time // Zero while open
	FramesIn       uint64
	FramesOut      uint64
	Malformed      uint64
	CloseReason    string
}

// SessionObserver is notified when server sessions open and close. Calls are
// made from connection goroutines and must not block.
type SessionObserver interface {
	SessionOpened(s Session)
	SessionClosed(s Session)
}

// ClientInfo is a registry snapshot entry.
type ClientInfo struct {
	ID          string    `json:"id"`
	RemoteAddr  string    `json:"remote_addr"`
	Transport   string    `json:"transport"`
	ConnectedAt time.Time `json:"connected_at"`
	FramesIn    uint64    `json:"frames_in"`
	FramesOut   uint64    `json:"frames_out"`
	Malformed   uint64    `json:"malformed"`
}

// ServerStats contains server counters.
type ServerStats struct {
	State      string `json:"state"`
	Clients    int    `json:"clients"`
	Accepted   uint64 `json:"accepted"`
	Dropped    uint64 `json:"dropped"`
	FramesIn   uint64 `json:"frames_in"`
	Malformed  uint64 `json:"malformed"`
	Broadcasts uint64 `json:"broadcasts"`
	Delivered  uint64 `json:"delivered"`
}

// ClientStats contains client counters.
type ClientStats struct {
	Connected  bool
	Sent       uint64
	Received   uint64
	Malformed  uint64
	Dropped    uint64 // Frames abandoned after the inline reconnect failed
	Reconnects uint64
}
