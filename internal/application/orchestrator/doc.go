// Package orchestrator implements the core coordination logic for DSP
// graph sessions.
//
// The manager coordinates graph mutation and execution by:
//   - Validating candidate graphs through the pipeline compiler
//   - Persisting graph and derived forked graph atomically per session
//   - Broadcasting mutations to live subscribers
//   - Building the aligned multi-channel input buffer from uploads
//   - Demultiplexing execution results into per-output WAV artifacts
//
// Mutations on one session are serialized; unrelated sessions never
// contend.
package orchestrator
