package router

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Router dispatches named events to priority-ordered callbacks and to
// attached extensions.
type Router struct {
	cfg    config
	logger *slog.Logger

	// Writers are serialized by mu; readers load the current snapshots.
	mu         sync.Mutex
	table      atomic.Pointer[listenerTable]
	extensions atomic.Pointer[[]Extension]
	seq        uint64

	// Lifecycle
	closed    atomic.Bool
	inflight  atomic.Int64
	drained   chan struct{}
	drainOnce sync.Once

	// Stats
	fired          atomic.Uint64
	notFound       atomic.Uint64
	callbackErrors atomic.Uint64
	callbackPanics atomic.Uint64
}

// New creates a Router with an empty listener table.
func New(logger *slog.Logger, opts ...Option) *Router {
	if logger == nil {
		logger = slog.Default()
	}

	var cfg config
	for _, opt := range opts {
		opt(&cfg)
	}

	r := &Router{
		cfg:     cfg,
		logger:  logger,
		drained: make(chan struct{}),
	}
	r.table.Store(newListenerTable())
	r.extensions.Store(&[]Extension{})
	return r
}

// Register appends cb to the bucket for (name, priority).
func (r *Router) Register(name string, priority int, cb Callback) (Handle, error) {
	if priority < 0 {
		return Handle{}, fmt.Errorf("register %q at %d: %w", name, priority, ErrInvalidPriority)
	}
	if cb == nil {
		return Handle{}, fmt.Errorf("register %q: %w", name, ErrNilCallback)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed.Load() {
		return Handle{}, ErrClosed
	}

	r.seq++
	h := Handle{
		ID:       uuid.NewString(),
		Event:    name,
		Priority: priority,
		Seq:      r.seq,
	}
	r.table.Store(r.table.Load().with(name, priority, listener{handle: h, cb: cb}))

	r.logger.Debug("listener registered",
		"event", name,
		"priority", priority,
		"handle", h.ID,
	)

	return h, nil
}

// AddExtension attaches ext so it observes every fired event.
func (r *Router) AddExtension(ext Extension) error {
	if isNil(ext) {
		return ErrNotAnExtension
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed.Load() {
		return ErrClosed
	}

	cur := *r.extensions.Load()
	next := make([]Extension, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, ext)
	r.extensions.Store(&next)

	r.logger.Debug("extension attached", "extensions", len(next))
	return nil
}

// Fire dispatches payload to every callback registered for name, then
// notifies the extensions. It returns ErrEventNotFound (wrapped) when name
// was never registered, or a *DispatchError when callbacks failed.
func (r *Router) Fire(ctx context.Context, name string, payload Payload) error {
	r.inflight.Add(1)
	defer r.release()

	if r.closed.Load() {
		return ErrClosed
	}

	buckets, ok := r.table.Load().lookup(name)
	if !ok {
		r.notFound.Add(1)
		return fmt.Errorf("fire %q: %w", name, ErrEventNotFound)
	}
	r.fired.Add(1)

	if payload == nil {
		payload = Payload{}
	}

	var failures []*CallbackError
dispatch:
	for _, b := range buckets {
		for _, l := range b.listeners {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("fire %q: %w", name, err)
			}

			cerr := r.invoke(ctx, l, payload)
			if cerr == nil {
				continue
			}

			failures = append(failures, cerr)
			r.logger.Warn("callback failed",
				"event", name,
				"priority", b.priority,
				"handle", l.handle.ID,
				"error", cerr.Err,
			)
			if r.cfg.stopOnError {
				break dispatch
			}
		}
	}

	for _, ext := range *r.extensions.Load() {
		r.notify(ctx, ext, name, payload)
	}

	if len(failures) > 0 {
		return &DispatchError{Event: name, Failures: failures}
	}
	return nil
}

// invoke runs one callback, converting a panic into a CallbackError.
func (r *Router) invoke(ctx context.Context, l listener, payload Payload) (cerr *CallbackError) {
	defer func() {
		if rec := recover(); rec != nil {
			r.callbackPanics.Add(1)
			cerr = &CallbackError{
				Handle: l.handle,
				Err:    fmt.Errorf("%w: %v", ErrCallbackPanic, rec),
				Panic:  rec,
				Stack:  debug.Stack(),
			}
		}
	}()

	if err := l.cb(ctx, payload); err != nil {
		r.callbackErrors.Add(1)
		return &CallbackError{Handle: l.handle, Err: err}
	}
	return nil
}

// notify delivers one event to an extension. Extension panics are logged.
func (r *Router) notify(ctx context.Context, ext Extension, name string, payload Payload) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("extension panicked",
				"event", name,
				"panic", rec,
				"stack", string(debug.Stack()),
			)
		}
	}()
	ext.OnEvent(ctx, name, payload)
}

// Close rejects new operations and waits for in-flight Fire calls to return
// or for ctx to end.
func (r *Router) Close(ctx context.Context) error {
	// Under mu so no Register or AddExtension lands after Close returns.
	r.mu.Lock()
	already := r.closed.Swap(true)
	r.mu.Unlock()
	if already {
		return nil
	}
	if r.inflight.Load() == 0 {
		r.drainOnce.Do(func() { close(r.drained) })
	}

	select {
	case <-r.drained:
		r.logger.Debug("router closed")
		return nil
	case <-ctx.Done():
		r.logger.Warn("router close timed out", "inflight", r.inflight.Load())
		return ctx.Err()
	}
}

func (r *Router) release() {
	if r.inflight.Add(-1) == 0 && r.closed.Load() {
		r.drainOnce.Do(func() { close(r.drained) })
	}
}

// Events returns the registered event names, sorted.
func (r *Router) Events() []string {
	return r.table.Load().names()
}

// Priorities returns the priority buckets of name in dispatch order.
func (r *Router) Priorities(name string) []int {
	buckets, _ := r.table.Load().lookup(name)
	out := make([]int, len(buckets))
	for i, b := range buckets {
		out[i] = b.priority
	}
	return out
}

// Listeners returns the number of callbacks registered for name.
func (r *Router) Listeners(name string) int {
	buckets, _ := r.table.Load().lookup(name)
	n := 0
	for _, b := range buckets {
		n += len(b.listeners)
	}
	return n
}

// Extensions returns the number of attached extensions.
func (r *Router) Extensions() int {
	return len(*r.extensions.Load())
}

// Has reports whether name has ever been registered.
func (r *Router) Has(name string) bool {
	_, ok := r.table.Load().lookup(name)
	return ok
}

// Stats returns current dispatch counters.
func (r *Router) Stats() Stats {
	t := r.table.Load()
	return Stats{
		Events:         len(t.events),
		Listeners:      t.count,
		Extensions:     len(*r.extensions.Load()),
		Fired:          r.fired.Load(),
		NotFound:       r.notFound.Load(),
		CallbackErrors: r.callbackErrors.Load(),
		CallbackPanics: r.callbackPanics.Load(),
	}
}
