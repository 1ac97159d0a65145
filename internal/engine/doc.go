// Package engine runs the rebalance protocol: one active session at a time,
// a fixed step order per flow, and a two-phase signing dispatcher.
//
// # Sessions
//
// Start opens a session and assigns it the next nonce. Only one session
// exists at a time. A session that has been open for the operations timeout,
// or whose flow has every sequence step signed, is cleared by the next Start.
//
// # Signing
//
// RequestStep validates a step against the active session, builds the
// unsigned transaction and hands its payload hash to the signer. The call
// returns a Pending handle at once; the signer runs on its own goroutine.
//
// Signer outcomes are queued and applied one at a time by Run (or Next).
// Applying a completion re-checks the session nonce and step order, because
// other operations may have been accepted while the signer was working. Only
// a completion that passes those checks writes to the caches and the log:
//
//	RequestStep ──► signer.Sign ──► queue ──► Complete ──► store
//	    │                                        │
//	    └────────────── Pending ◄────────────────┘
//
// Every operation that reads and then writes state holds the engine lock for
// its whole duration. Signer calls never hold it.
package engine
