// Package clock emits an event on a router at a fixed interval.
package clock

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/effekt/internal/router"
)

// Errors
var (
	ErrInvalidInterval = errors.New("interval must be > 0")
	ErrAlreadyActive   = errors.New("clock already ticking")
)

// Dispatcher fires events. *router.Router implements it.
type Dispatcher interface {
	Fire(ctx context.Context, name string, payload router.Payload) error
}

// Clock fires one event repeatedly until stopped.
type Clock struct {
	d      Dispatcher
	logger *slog.Logger

	mu     sync.Mutex
	active bool
	gen    uint64
	cancel context.CancelFunc

	ticks    atomic.Uint64
	failures atomic.Uint64
}

// New creates a stopped Clock firing on d.
func New(d Dispatcher, logger *slog.Logger) *Clock {
	if logger == nil {
		logger = slog.Default()
	}
	return &Clock{
		d:      d,
		logger: logger.With("component", "clock"),
	}
}

// Tick fires event immediately and then every interval, blocking until Stop
// is called or ctx ends. Fire errors are logged and do not stop the clock.
func (c *Clock) Tick(ctx context.Context, event string, interval time.Duration, payload router.Payload) error {
	if interval <= 0 {
		return ErrInvalidInterval
	}

	runCtx, gen, err := c.activate(ctx)
	if err != nil {
		return err
	}
	defer c.deactivate(gen)

	c.run(runCtx, event, interval, payload)
	return ctx.Err()
}

// Start runs Tick on a new goroutine.
func (c *Clock) Start(ctx context.Context, event string, interval time.Duration, payload router.Payload) error {
	if interval <= 0 {
		return ErrInvalidInterval
	}

	runCtx, gen, err := c.activate(ctx)
	if err != nil {
		return err
	}

	go func() {
		defer c.deactivate(gen)
		c.run(runCtx, event, interval, payload)
	}()
	return nil
}

// Stop ends the current tick loop. It does not wait for an in-progress fire.
func (c *Clock) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.active {
		c.logger.Info("clock stopped", "ticks", c.ticks.Load())
	}
	c.active = false
}

// Active reports whether a tick loop is running.
func (c *Clock) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Ticks returns the number of fires attempted.
func (c *Clock) Ticks() uint64 {
	return c.ticks.Load()
}

// Failures returns the number of fires that returned an error.
func (c *Clock) Failures() uint64 {
	return c.failures.Load()
}

func (c *Clock) activate(ctx context.Context) (context.Context, uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active {
		return nil, 0, ErrAlreadyActive
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.gen++
	c.active = true
	c.cancel = cancel
	return runCtx, c.gen, nil
}

// deactivate clears the active state if loop gen is still the current one.
func (c *Clock) deactivate(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gen != gen || !c.active {
		return
	}
	c.cancel()
	c.cancel = nil
	c.active = false
}

// run is the main tick loop.
func (c *Clock) run(ctx context.Context, event string, interval time.Duration, payload router.Payload) {
	c.logger.Info("clock started", "event", event, "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Fire immediately on start.
	c.fire(ctx, event, payload)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			c.fire(ctx, event, payload)
		}
	}
}

func (c *Clock) fire(ctx context.Context, event string, payload router.Payload) {
	c.ticks.Add(1)
	if err := c.d.Fire(ctx, event, payload); err != nil {
		c.failures.Add(1)
		c.logger.Warn("tick fire failed", "event", event, "error", err)
	}
}
