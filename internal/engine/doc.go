// Package engine contains the face state machine that drives the status-bar face.
// This is the heartbeat of the overlay: one Update per observed health sample.
//
// ARCHITECTURAL RULE: The Engine does NOT do I/O and does NOT lock.
// Callers that share an Engine across goroutines serialize access themselves
// (see package relay).
package engine
