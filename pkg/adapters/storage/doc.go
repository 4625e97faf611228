// Package storage provides session store implementations.
//
// Implementations:
//   - redis: one JSON value per session plus a per-owner index list
//   - memory: in-process map for single-replica use and testing
package storage
