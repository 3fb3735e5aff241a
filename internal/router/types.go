package router

import (
	"context"
	"reflect"
)

// Payload is the key/value body of an event. Callbacks share the map passed
// to Fire and must not modify it.
type Payload = map[string]any

// Callback handles one event. A returned error does not stop dispatch of the
// remaining callbacks unless the Router was built with WithStopOnError.
type Callback func(ctx context.Context, payload Payload) error

// CallbackFunc adapts a callback that cannot fail.
func CallbackFunc(fn func(payload Payload)) Callback {
	return func(_ context.Context, payload Payload) error {
		fn(payload)
		return nil
	}
}

// Handle identifies one registration.
type Handle struct {
	ID       string // UUID assigned at registration
	Event    string
	Priority int
	Seq      uint64 // Router-wide registration counter
}

// Extension observes every event fired through a Router.
type Extension interface {
	OnEvent(ctx context.Context, name string, payload Payload)
}

// ExtensionFunc is a function adapter for Extension.
type ExtensionFunc func(ctx context.Context, name string, payload Payload)

// OnEvent implements the Extension interface.
func (f ExtensionFunc) OnEvent(ctx context.Context, name string, payload Payload) {
	f(ctx, name, payload)
}

// isNil reports whether ext is nil or a typed nil pointer.
func isNil(ext Extension) bool {
	if ext == nil {
		return true
	}
	v := reflect.ValueOf(ext)
	switch v.Kind() {
	case reflect.Pointer, reflect.Func, reflect.Map, reflect.Slice, reflect.Interface, reflect.Chan:
		return v.IsNil()
	}
	return false
}

// Stats contains dispatch counters.
type Stats struct {
	Events         int    // Distinct event names in the listener table
	Listeners      int    // Registered callbacks across all events
	Extensions     int    // Attached extensions
	Fired          uint64 // Successful lookups (dispatch started)
	NotFound       uint64 // Fire calls for unregistered names
	CallbackErrors uint64 // Callbacks that returned an error
	CallbackPanics uint64 // Callbacks that panicked
}

// config holds Router options.
type config struct {
	stopOnError bool
}

// Option configures a Router.
type Option func(*config)

// WithStopOnError makes the first failing callback abort the rest of the
// dispatch for that event. Extensions are still notified.
func WithStopOnError() Option {
	return func(c *config) {
		c.stopOnError = true
	}
}
