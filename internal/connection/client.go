package connection

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Dial opens a relay connection to addr using the transport its scheme names.
func Dial(ctx context.Context, addr Address, cfg Config, logger *slog.Logger) (Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	switch addr.Scheme {
	case SchemeStream:
		d := net.Dialer{Timeout: cfg.DialTimeout}
		conn, err := d.DialContext(ctx, "tcp", addr.HostPort())
		if err != nil {
			return nil, err
		}
		logger.Debug("stream connected", "addr", addr.HostPort())
		return NewStreamConn(conn, cfg), nil

	case SchemeWebSocket:
		u := url.URL{
			Scheme: "ws",
			Host:   net.JoinHostPort(addr.Host, strconv.Itoa(addr.Port)),
			Path:   cfg.WSPath,
		}

		dialer := websocket.Dialer{
			HandshakeTimeout: cfg.DialTimeout,
		}
		conn, _, err := dialer.DialContext(ctx, u.String(), http.Header{})
		if err != nil {
			return nil, err
		}
		logger.Debug("websocket connected", "url", u.String())
		return NewWSConn(conn, cfg, logger), nil

	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURI, addr.Scheme)
	}
}

// wsConn carries one frame per WebSocket text message.
type wsConn struct {
	cfg    Config
	logger *slog.Logger
	conn   *websocket.Conn

	writeMu sync.Mutex

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewWSConn wraps an established WebSocket (dialed or upgraded).
func NewWSConn(conn *websocket.Conn, cfg Config, logger *slog.Logger) Conn {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	c := &wsConn{
		cfg:    cfg,
		logger: logger,
		conn:   conn,
		done:   make(chan struct{}),
	}

	conn.SetReadLimit(int64(cfg.MaxFrameSize))

	// Respond to peer pings; gorilla allows WriteControl concurrently with writers.
	conn.SetPingHandler(func(data string) error {
		return conn.WriteControl(
			websocket.PongMessage,
			[]byte(data),
			time.Now().Add(time.Second),
		)
	})

	if cfg.PingInterval > 0 {
		go c.heartbeatLoop()
	}

	return c
}

func (c *wsConn) ReadFrame() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		if err == websocket.ErrReadLimit {
			return nil, fmt.Errorf("%w: %v", ErrFrameTooLarge, err)
		}
		return nil, err
	}
	if len(data) == 0 {
		return nil, ErrEmptyFrame
	}
	return data, nil
}

func (c *wsConn) WriteFrame(frame []byte) error {
	if len(frame) > c.cfg.MaxFrameSize {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(frame), c.cfg.MaxFrameSize)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.isClosed() {
		return ErrClosed
	}

	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *wsConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// Close sends a close message and closes the socket.
func (c *wsConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.done)

	c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return c.conn.Close()
}

func (c *wsConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *wsConn) RemoteAddr() string {
	if a := c.conn.RemoteAddr(); a != nil {
		return a.String()
	}
	return ""
}

func (c *wsConn) Transport() string {
	return TransportWebSocket
}

// heartbeatLoop keeps idle connections alive through proxies.
func (c *wsConn) heartbeatLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
				c.logger.Debug("failed to send ping", "error", err)
			}
		}
	}
}
