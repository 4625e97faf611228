// Package audio implements the PCM WAV codec and channel
// reconciliation used by the execution path.
//
// Decoding accepts 16- and 32-bit uncompressed PCM; encoding always
// emits 16-bit PCM. Buffers are non-interleaved (channel-major) so
// that the orchestrator can truncate the frame axis and slice channel
// spans without copying.
package audio
