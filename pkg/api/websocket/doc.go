// Package websocket provides live graph update streaming.
//
// Clients connect to /api/v1/sessions/:id/updates to receive the full
// current graph document every time the session's graph is replaced or
// its parameters change. The stream is snapshot-based, so a client
// that misses intermediate updates still converges on the latest
// state.
package websocket
