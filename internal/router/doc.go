// Package router implements the process-local event dispatch engine.
//
// A Router owns a listener table keyed by event name. Each event holds
// priority buckets; lower priorities run first and callbacks within a bucket
// run in registration order:
//
//	r := router.New(logger)
//	r.Register("ping", 0, first)
//	r.Register("ping", 5, later)
//	r.Register("ping", 0, second) // runs before later
//	err := r.Fire(ctx, "ping", router.Payload{"n": 1})
//
// Firing an event that has never been registered returns ErrEventNotFound
// and runs nothing. Callback failures (returned errors and panics) are
// isolated per invocation and reported together in a *DispatchError once the
// remaining callbacks have run.
//
// Extensions observe every fired event regardless of name. They are notified
// in attachment order after local dispatch completes. The relay client is an
// extension: attaching it forwards local emissions to the broadcast server.
//
// # Thread Safety
//
// Register, AddExtension and Fire may be called from any goroutine. The
// listener table is replaced copy-on-write, so a Fire in progress keeps the
// snapshot it started with and never observes a partially built bucket.
package router
