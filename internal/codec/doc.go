// Package codec converts events to and from relay wire frames.
//
// A frame is a JSON document with exactly two top-level fields:
//
//	{"event": "ping", "payload": {"n": 1}}
//
// rendered as standard base64 text so it is byte-safe on any transport.
// Decoded integers that fit in 64 bits are int64; every other number is
// float64. Message boundaries are the transport's job (see package connection).
package codec
