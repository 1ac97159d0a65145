// Package store provides SQLite-backed durable storage for the rebalancer.
//
// Tables:
//   - sessions: the single active session (CHECK id = 1)
//   - activity_logs: one audit record per session nonce
//   - payload_hashes / signed_payloads: the two signature caches keyed by (nonce, step)
//   - workers / approved_identities: attestation gate state
//   - chain_configs: per-chain address books
//   - counters: the monotonic session nonce
//
// # Conventions
//
// Every multi-row mutation runs in one transaction, so a signature completion
// updates both caches and the activity log or none of them.
//
// List queries have a total ORDER BY and return empty slices, never nil.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
