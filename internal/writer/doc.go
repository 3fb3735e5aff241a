// Package writer persists relay session records.
//
// SessionWriter observes the relay server's session lifecycle and batches
// closed sessions into the relay_sessions table (PostgreSQL) through
// pgx.Batch. Inserts are append-only with ON CONFLICT DO NOTHING, so a
// replayed session is counted as a conflict rather than an error.
package writer
