// Package simnet is the cooperative single-threaded runtime the simulation
// runs on: a discrete-event scheduler with a virtual clock, reliable
// in-memory byte-stream sockets with non-blocking callback semantics, and
// seeded random-number streams for reproducible runs.
//
// Callbacks run to completion and never overlap. All state is owned by one
// logical context, so nothing in this package takes a lock.
package simnet
