// Package api is a client for the relayd admin HTTP endpoint.
//
// Endpoints:
//   - GET /health   server state and counters
//   - GET /clients  connected peers
//   - GET /version  build information
package api
