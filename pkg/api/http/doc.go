// Package http provides the HTTP REST API implementation.
//
// The HTTP server exposes endpoints for:
//   - Session lifecycle (create, get, list, delete)
//   - Graph submission and per-node parameter updates
//   - Audio execution (multipart upload in, zip of WAVs out)
//   - Generated pipeline source export
//   - Graph and parameter schema introspection
//   - Health checks and Prometheus metrics
//
// All /api/v1 routes require the X-User-ID header; a session is only
// visible to the identity that created it.
package http
