// Package pipeline is the reference implementation of the pipeline
// compiler boundary.
//
// It owns the closed stage registry (gain, biquad, mix, fork),
// validates graph topology, expands multicast edges into explicit fork
// nodes, compiles a validated graph into an executable per-channel
// pipeline and generates portable source for export.
package pipeline
