// Package connection implements the relay transports.
//
// Two transports carry relay frames:
//   - fkt:// is a raw TCP stream where each frame is prefixed with its
//     4-byte big-endian length
//   - ws:// is a WebSocket where each frame is one text message
//
// Both are exposed through the Conn interface so the relay client and server
// never look at framing details. ParseURI validates relay addresses of the
// form scheme://host:port.
package connection
