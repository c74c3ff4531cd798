// Package api provides the HTTP REST API and WebSocket server for NodeLink Core.
//
// It exposes the node registry, sub-device editing and command dispatch
// under /api/v1, and streams inbound node messages to WebSocket clients.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Domain errors map onto status codes by category: validation 400, not
// found 404, conflict 409, transport 503, anything else 500. Error bodies
// are {"status", "code", "message"}.
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
