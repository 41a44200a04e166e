// Package engine owns the media engine process boundary.
//
// Ownership boundary:
// - settings validation and invocation argument serialization
// - launching the engine locally or over SSH
// - observing engine exit exactly once
package engine
