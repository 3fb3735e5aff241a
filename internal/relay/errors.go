package relay

import (
	"errors"

	"github.com/rickgao/effekt/internal/connection"
)

// Errors
var (
	// ErrInvalidURI is returned by NewClient for a malformed relay URI.
	ErrInvalidURI = connection.ErrInvalidURI

	// ErrConnectionFailed is returned when a dial to the relay server fails.
	ErrConnectionFailed = errors.New("relay connection failed")

	// ErrBrokenConnection is returned when a frame could not be sent even
	// after one reconnect attempt.
	ErrBrokenConnection = errors.New("relay connection broken")

	// ErrAddressInUse is returned when the server cannot bind its address.
	ErrAddressInUse = errors.New("relay address unavailable")

	// ErrNotConnected is returned when there is no live connection.
	ErrNotConnected = errors.New("relay not connected")

	// ErrClosed is returned by operations on a closed client.
	ErrClosed = errors.New("relay client closed")

	// ErrServerClosed is returned by Serve and Listen after Close.
	ErrServerClosed = errors.New("relay server closed")

	// ErrNilDispatcher is returned when attaching a nil dispatcher.
	ErrNilDispatcher = errors.New("dispatcher cannot be nil")
)
