// Package relay shares router events between processes through a
// star-topology broadcast server.
//
// A Server accepts many connections (framed TCP and WebSocket) and re-sends
// every well-formed frame it receives, byte for byte, to every other
// connected peer. A Client holds one connection to a Server and bridges it to
// local routers:
//
//	client, err := relay.NewClient(ctx, "fkt://localhost:6789", logger)
//	client.Attach(r, false) // forward r's events and receive remote ones
//
// An active attachment registers the client as an extension of the router,
// so every event fired locally is sent to the server. A passive attachment
// only receives. Events received from the server are fired on every attached
// router with a context marked by RelayedBy, and the client does not send
// those events back out.
//
// Delivery is at-most-once. A broken connection is reconnected once inline
// when sending, and in the background with exponential backoff when the
// reader fails.
package relay
