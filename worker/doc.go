// Package worker supervises one external media engine process and mediates
// all communication with it: lifecycle, correlated requests, engine event
// delivery, and sub-entity creation.
//
// A Worker spawns the engine, performs the readiness handshake, and then
// exposes synchronous-looking typed calls over the asynchronous channel.
// Closing is idempotent; unexpected engine death fires dead listeners once,
// then close listeners.
package worker
