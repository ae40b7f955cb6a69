// Package broadcast fans merged snapshots out to websocket clients using the actor pattern.
//
// A single goroutine owns the client set and processes register, unregister and broadcast
// commands in order, so membership changes never interleave with a broadcast. Each client
// has its own writer goroutine with a small bounded queue; a full queue drops the oldest
// frame or evicts the client, depending on the configured OverflowPolicy.
package broadcast
