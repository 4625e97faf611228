// Package events provides update broadcaster implementations.
//
// Implementations:
//   - memory: per-session in-process fan-out with bounded channels
//   - redis: pub/sub relay layering cross-replica delivery on memory
package events
