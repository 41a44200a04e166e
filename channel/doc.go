// Package channel owns the bidirectional protocol with the engine process.
//
// Ownership boundary:
// - frame codec over the engine transport
// - request correlation and completion
// - notification routing and per-target buffering
// - diagnostic stream demux
package channel
