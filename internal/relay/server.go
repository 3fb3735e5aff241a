package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rickgao/effekt/internal/codec"
	"github.com/rickgao/effekt/internal/connection"
)

// Server is the broadcast hub.
type Server struct {
	cfg      ServerConfig
	logger   *slog.Logger
	observer SessionObserver
	upgrader websocket.Upgrader

	// Lifecycle
	stateMu  sync.Mutex
	state    State
	listener net.Listener
	done     chan struct{}
	wg       sync.WaitGroup

	// Registry
	mu    sync.RWMutex
	peers map[string]*peer

	// Stats
	accepted   atomic.Uint64
	dropped    atomic.Uint64
	framesIn   atomic.Uint64
	malformed  atomic.Uint64
	broadcasts atomic.Uint64
	delivered  atomic.Uint64
}

// peer is one registered connection. It is owned by its handler goroutine;
// broadcasters only write to it. Writes are serialized by the connection and
// rejected once it is closed.
type peer struct {
	id          string
	conn        connection.Conn
	connectedAt time.Time
	logger      *slog.Logger

	alive     atomic.Bool
	framesIn  atomic.Uint64
	framesOut atomic.Uint64
	malformed atomic.Uint64

	removeOnce sync.Once
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithSessionObserver registers an observer for session open/close events.
func WithSessionObserver(o SessionObserver) ServerOption {
	return func(s *Server) {
		s.observer = o
	}
}

// NewServer creates a Server in the Created state.
func NewServer(cfg ServerConfig, logger *slog.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	d := DefaultServerConfig()
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = d.WriteTimeout
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = d.ShutdownGrace
	}
	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = d.MaxFrameSize
	}

	s := &Server{
		cfg:    cfg,
		logger: logger.With("component", "relay_server"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		done:  make(chan struct{}),
		peers: make(map[string]*peer),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Listen binds the TCP address.
func (s *Server) Listen() error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	switch s.state {
	case StateClosed:
		return ErrServerClosed
	case StateListening, StateRunning:
		return nil
	}

	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		s.logger.Error("cannot bind relay address", "addr", s.cfg.Address, "error", err)
		return fmt.Errorf("%w: %s: %v", ErrAddressInUse, s.cfg.Address, err)
	}

	s.listener = ln
	s.state = StateListening
	s.logger.Info("relay listening", "addr", ln.Addr().String())
	return nil
}

// Serve accepts stream connections until Close or ctx cancellation. It calls
// Listen first if needed.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}

	s.stateMu.Lock()
	if s.state == StateClosed {
		s.stateMu.Unlock()
		return ErrServerClosed
	}
	s.state = StateRunning
	ln := s.listener
	s.stateMu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()

	var tempDelay time.Duration
	for {
		c, err := ln.Accept()
		if err != nil {
			select {
			case <-s.done:
				return nil
			default:
			}

			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if tempDelay > time.Second {
					tempDelay = time.Second
				}
				s.logger.Warn("accept failed, retrying", "error", err, "delay", tempDelay)
				time.Sleep(tempDelay)
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		tempDelay = 0

		s.register(connection.NewStreamConn(c, s.cfg.connConfig()))
	}
}

// ListenAndServe binds and serves.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// HandleWS upgrades an HTTP request into a relay connection.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	if s.State() == StateClosed {
		http.Error(w, ErrServerClosed.Error(), http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	s.register(connection.NewWSConn(ws, s.cfg.connConfig(), s.logger))
}

// register adds conn to the registry and starts its handler.
func (s *Server) register(conn connection.Conn) {
	p := &peer{
		id:          uuid.NewString(),
		conn:        conn,
		connectedAt: time.Now(),
	}
	p.logger = s.logger.With("session", p.id, "remote", conn.RemoteAddr(), "transport", conn.Transport())
	p.alive.Store(true)

	s.stateMu.Lock()
	if s.state == StateClosed {
		s.stateMu.Unlock()
		conn.Close()
		return
	}
	s.wg.Add(1)
	s.mu.Lock()
	s.peers[p.id] = p
	count := len(s.peers)
	s.mu.Unlock()
	s.stateMu.Unlock()

	s.accepted.Add(1)
	p.logger.Info("client connected", "clients", count)

	if s.observer != nil {
		s.observer.SessionOpened(p.session(""))
	}

	go s.handle(p)
}

// handle reads frames from p until the connection ends or the server closes.
func (s *Server) handle(p *peer) {
	defer s.wg.Done()

	reason := "shutdown"
	defer func() { s.remove(p, reason) }()

	for p.alive.Load() {
		frame, err := p.conn.ReadFrame()
		if err != nil {
			reason = s.readFailure(p, err)
			return
		}

		p.framesIn.Add(1)
		s.framesIn.Add(1)

		f, err := codec.Decode(frame)
		if err != nil {
			p.malformed.Add(1)
			s.malformed.Add(1)
			p.logger.Warn("malformed frame, skipping", "bytes", len(frame), "error", err)
			continue
		}

		p.logger.Debug("frame received", "event", f.Event)
		s.broadcast(p, frame)
	}
}

func (s *Server) readFailure(p *peer, err error) string {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		return "closed"
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		return "closed"
	case !p.alive.Load():
		return "shutdown"
	case errors.Is(err, connection.ErrFrameTooLarge), errors.Is(err, connection.ErrEmptyFrame):
		p.logger.Warn("protocol error, closing connection", "error", err)
		return "protocol error"
	default:
		p.logger.Debug("read failed", "error", err)
		return "read error"
	}
}

// broadcast writes frame verbatim to every registered peer except sender.
// A failed write removes that recipient only. Peers already removed are
// skipped and not counted as dropped.
func (s *Server) broadcast(sender *peer, frame []byte) {
	s.mu.RLock()
	targets := make([]*peer, 0, len(s.peers))
	for _, p := range s.peers {
		if p != sender {
			targets = append(targets, p)
		}
	}
	s.mu.RUnlock()

	s.broadcasts.Add(1)

	for _, p := range targets {
		// Already on its way out; not a send failure.
		if !p.alive.Load() {
			continue
		}
		if err := p.conn.WriteFrame(frame); err != nil {
			if errors.Is(err, connection.ErrClosed) || !p.alive.Load() {
				continue
			}
			p.logger.Warn("dropping client, send failed", "error", err)
			s.dropped.Add(1)
			s.remove(p, "send failed")
			continue
		}
		p.framesOut.Add(1)
		s.delivered.Add(1)
	}
}

// remove unregisters p and closes its connection. Safe to call more than once.
func (s *Server) remove(p *peer, reason string) {
	p.removeOnce.Do(func() {
		p.alive.Store(false)

		s.mu.Lock()
		delete(s.peers, p.id)
		count := len(s.peers)
		s.mu.Unlock()

		p.conn.Close()
		p.logger.Info("client disconnected", "reason", reason, "clients", count)

		if s.observer != nil {
			sess := p.session(reason)
			sess.DisconnectedAt = time.Now()
			s.observer.SessionClosed(sess)
		}
	})
}

func (p *peer) session(reason string) Session {
	return Session{
		ID:          p.id,
		RemoteAddr:  p.conn.RemoteAddr(),
		Transport:   p.conn.Transport(),
		ConnectedAt: p.connectedAt,
		FramesIn:    p.framesIn.Load(),
		FramesOut:   p.framesOut.Load(),
		Malformed:   p.malformed.Load(),
		CloseReason: reason,
	}
}

// Close stops accepting, marks every connection not alive and gives
// in-flight reads ShutdownGrace to finish. It does not wait for handlers.
func (s *Server) Close() error {
	s.stateMu.Lock()
	if s.state == StateClosed {
		s.stateMu.Unlock()
		return nil
	}
	s.state = StateClosed
	close(s.done)
	ln := s.listener
	s.stateMu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}

	deadline := time.Now().Add(s.cfg.ShutdownGrace)

	s.mu.RLock()
	for _, p := range s.peers {
		p.alive.Store(false)
		p.conn.SetReadDeadline(deadline)
	}
	count := len(s.peers)
	s.mu.RUnlock()

	s.logger.Info("relay shutting down", "clients", count, "grace", s.cfg.ShutdownGrace)
	return err
}

// Shutdown closes the server and waits for every handler to exit or ctx to
// end. Connections still open when ctx ends are closed.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.Close()

	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return err
	case <-ctx.Done():
		s.mu.RLock()
		peers := make([]*peer, 0, len(s.peers))
		for _, p := range s.peers {
			peers = append(peers, p)
		}
		s.mu.RUnlock()

		for _, p := range peers {
			s.remove(p, "shutdown")
		}
		return ctx.Err()
	}
}

// State returns the lifecycle state.
func (s *Server) State() State {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

// Addr returns the bound listener address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ClientCount returns the number of registered connections.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.peers)
}

// Clients returns a registry snapshot ordered by connection time.
func (s *Server) Clients() []ClientInfo {
	s.mu.RLock()
	out := make([]ClientInfo, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, ClientInfo{
			ID:          p.id,
			RemoteAddr:  p.conn.RemoteAddr(),
			Transport:   p.conn.Transport(),
			ConnectedAt: p.connectedAt,
			FramesIn:    p.framesIn.Load(),
			FramesOut:   p.framesOut.Load(),
			Malformed:   p.malformed.Load(),
		})
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}

// Stats returns current server counters.
func (s *Server) Stats() ServerStats {
	return ServerStats{
		State:      s.State().String(),
		Clients:    s.ClientCount(),
		Accepted:   s.accepted.Load(),
		Dropped:    s.dropped.Load(),
		FramesIn:   s.framesIn.Load(),
		Malformed:  s.malformed.Load(),
		Broadcasts: s.broadcasts.Load(),
		Delivered:  s.delivered.Load(),
	}
}
