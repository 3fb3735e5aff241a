package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/effekt/internal/codec"
	"github.com/rickgao/effekt/internal/connection"
	"github.com/rickgao/effekt/internal/router"
)

// attachment is one dispatcher bound to the client.
type attachment struct {
	d       Dispatcher
	passive bool
}

// Client bridges local routers to a relay server. It implements
// router.Extension.
type Client struct {
	id     string
	addr   connection.Address
	cfg    ClientConfig
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup

	// Serializes dials
	dialMu sync.Mutex

	// Connection state
	mu           sync.Mutex
	conn         connection.Conn
	connected    bool
	closed       bool
	reconnecting bool

	attachMu    sync.RWMutex
	attachments []*attachment

	// Stats
	sent       atomic.Uint64
	received   atomic.Uint64
	malformed  atomic.Uint64
	dropped    atomic.Uint64
	reconnects atomic.Uint64
}

// NewClient validates uri and attempts a first connection. A failed dial
// leaves the client disconnected and is not an error; the next send or an
// explicit Connect retries.
func NewClient(ctx context.Context, uri string, logger *slog.Logger, opts ...ClientOption) (*Client, error) {
	addr, err := connection.ParseURI(uri)
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = slog.Default()
	}

	cfg := DefaultClientConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.ReconnectMaxDelay < cfg.ReconnectBaseDelay {
		cfg.ReconnectMaxDelay = cfg.ReconnectBaseDelay
	}

	c := &Client{
		id:   uuid.NewString(),
		addr: addr,
		cfg:  cfg,
		done: make(chan struct{}),
	}
	c.logger = logger.With("component", "relay_client", "client", c.id, "addr", addr.String())
	c.ctx, c.cancel = context.WithCancel(context.Background())

	if err := c.Connect(ctx); err != nil {
		c.logger.Warn("initial connection failed", "error", err)
	}

	return c, nil
}

// ID returns the client identifier used to mark relayed events.
func (c *Client) ID() string {
	return c.id
}

// Addr returns the parsed server address.
func (c *Client) Addr() connection.Address {
	return c.addr
}

// Connect dials the server if not already connected and starts the inbound
// reader.
func (c *Client) Connect(ctx context.Context) error {
	c.dialMu.Lock()
	defer c.dialMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	conn, err := connection.Dial(ctx, c.addr, c.cfg.Transport, c.logger)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrConnectionFailed, c.addr, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.connected = true
	c.wg.Add(1)
	c.mu.Unlock()

	go c.readLoop(conn)

	c.logger.Info("relay connected", "transport", conn.Transport())
	return nil
}

// IsConnected returns current connection state.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Attach binds d to the client. Remote events are fired on every attached
// dispatcher. Unless passive, the client also becomes an extension of d so
// d's events are sent to the server. Attaching the same dispatcher again is
// a no-op, except that an active attach upgrades a passive one.
func (c *Client) Attach(d Dispatcher, passive bool) error {
	if d == nil {
		return ErrNilDispatcher
	}

	c.attachMu.Lock()
	defer c.attachMu.Unlock()

	for _, a := range c.attachments {
		if a.d != d {
			continue
		}
		if a.passive && !passive {
			if err := d.AddExtension(c); err != nil {
				return fmt.Errorf("attach: %w", err)
			}
			a.passive = false
			c.logger.Debug("attachment upgraded to active")
		}
		return nil
	}

	if !passive {
		if err := d.AddExtension(c); err != nil {
			return fmt.Errorf("attach: %w", err)
		}
	}
	c.attachments = append(c.attachments, &attachment{d: d, passive: passive})

	c.logger.Debug("dispatcher attached", "passive", passive, "attachments", len(c.attachments))
	return nil
}

// Attachments returns the number of attached dispatchers.
func (c *Client) Attachments() int {
	c.attachMu.RLock()
	defer c.attachMu.RUnlock()
	return len(c.attachments)
}

// OnEvent sends a locally fired event to the server. Events this client
// received from the server are not sent back. Failures are logged.
func (c *Client) OnEvent(ctx context.Context, name string, payload router.Payload) {
	if origin, ok := RelayedBy(ctx); ok && origin == c.id {
		return
	}

	if err := c.Emit(ctx, name, payload); err != nil {
		c.logger.Warn("relay send failed", "event", name, "error", err)
	}
}

// Emit encodes and sends one event.
func (c *Client) Emit(ctx context.Context, name string, payload router.Payload) error {
	frame, err := codec.Encode(name, payload)
	if err != nil {
		return err
	}
	return c.send(ctx, frame)
}

// send writes frame, reconnecting once inline if the connection is down or
// the write fails.
func (c *Client) send(ctx context.Context, frame []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		err := conn.WriteFrame(frame)
		if err == nil {
			c.sent.Add(1)
			return nil
		}
		c.logger.Warn("write failed, reconnecting", "error", err)
		c.detach(conn)
	}

	if err := c.Connect(ctx); err != nil {
		c.dropped.Add(1)
		if errors.Is(err, ErrClosed) {
			return err
		}
		c.scheduleReconnect()
		return fmt.Errorf("%w: %v", ErrBrokenConnection, err)
	}
	if conn != nil {
		c.reconnects.Add(1)
	}

	c.mu.Lock()
	conn = c.conn
	c.mu.Unlock()
	if conn == nil {
		c.dropped.Add(1)
		return fmt.Errorf("%w: %v", ErrBrokenConnection, ErrNotConnected)
	}

	if err := conn.WriteFrame(frame); err != nil {
		c.detach(conn)
		c.dropped.Add(1)
		c.scheduleReconnect()
		return fmt.Errorf("%w: %v", ErrBrokenConnection, err)
	}
	c.sent.Add(1)
	return nil
}

// detach marks conn broken if it is still the current connection and closes
// it. It reports whether conn was current.
func (c *Client) detach(conn connection.Conn) bool {
	c.mu.Lock()
	current := c.conn == conn
	if current {
		c.conn = nil
		c.connected = false
	}
	c.mu.Unlock()

	conn.Close()
	return current
}

// readLoop decodes inbound frames and fires them on every attachment.
func (c *Client) readLoop(conn connection.Conn) {
	defer c.wg.Done()

	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}

			if c.detach(conn) {
				c.logger.Warn("relay connection lost", "error", err)
				c.scheduleReconnect()
			}
			return
		}

		c.received.Add(1)

		f, err := codec.Decode(frame)
		if err != nil {
			c.malformed.Add(1)
			c.logger.Warn("malformed frame, skipping", "bytes", len(frame), "error", err)
			continue
		}

		c.deliver(f)
	}
}

// deliver fires f on every attached dispatcher, active and passive alike.
func (c *Client) deliver(f codec.Frame) {
	c.attachMu.RLock()
	targets := make([]Dispatcher, len(c.attachments))
	for i, a := range c.attachments {
		targets[i] = a.d
	}
	c.attachMu.RUnlock()

	ctx := withOrigin(c.ctx, c.id)
	for _, d := range targets {
		err := d.Fire(ctx, f.Event, f.Payload)
		switch {
		case err == nil:
		case errors.Is(err, router.ErrEventNotFound):
			c.logger.Debug("no listeners for relayed event", "event", f.Event)
		default:
			c.logger.Warn("relayed event dispatch failed", "event", f.Event, "error", err)
		}
	}
}

// scheduleReconnect starts the background reconnect loop unless it is
// disabled or already running.
func (c *Client) scheduleReconnect() {
	if c.cfg.ReconnectBaseDelay <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.reconnecting || c.connected {
		return
	}
	c.reconnecting = true
	c.wg.Add(1)
	go c.reconnectLoop()
}

// reconnectLoop retries Connect with exponential backoff until connected or
// closed.
func (c *Client) reconnectLoop() {
	defer c.wg.Done()

	wait := c.cfg.ReconnectBaseDelay
	maxWait := c.cfg.ReconnectMaxDelay
	attempt := 0

	for {
		select {
		case <-c.done:
			c.mu.Lock()
			c.reconnecting = false
			c.mu.Unlock()
			return
		case <-time.After(wait):
		}

		// The flag is cleared under the same lock the reader uses to mark
		// the connection broken, so a failure right after this check
		// schedules a new loop.
		c.mu.Lock()
		if c.connected || c.closed {
			c.reconnecting = false
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		attempt++
		c.logger.Info("attempting reconnection", "attempt", attempt)

		if err := c.Connect(c.ctx); err != nil {
			c.logger.Warn("reconnection failed", "attempt", attempt, "error", err)

			// Exponential backoff
			wait *= 2
			if wait > maxWait {
				wait = maxWait
			}
			continue
		}

		c.reconnects.Add(1)
		c.logger.Info("reconnected", "attempt", attempt)
		wait = c.cfg.ReconnectBaseDelay
	}
}

// Close stops the reader and any reconnect loop. Subsequent sends return
// ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	close(c.done)
	c.cancel()

	var err error
	if conn != nil {
		err = conn.Close()
	}

	c.wg.Wait()
	c.logger.Info("relay client closed")
	return err
}

// Stats returns current client counters.
func (c *Client) Stats() ClientStats {
	return ClientStats{
		Connected:  c.IsConnected(),
		Sent:       c.sent.Load(),
		Received:   c.received.Load(),
		Malformed:  c.malformed.Load(),
		Dropped:    c.dropped.Load(),
		Reconnects: c.reconnects.Load(),
	}
}
