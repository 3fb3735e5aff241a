// Package database provides the PostgreSQL pool and migrations for the
// relay session audit store.
//
// The relay_sessions table records one row per server connection once it
// closes. Migrations are embedded and applied with goose.
package database
