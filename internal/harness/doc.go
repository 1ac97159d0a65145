// Package harness runs scripted scenarios against the rebalance engine.
//
// A scenario configures chains and workers, drives the engine through a
// list of actions and then checks assertions over the recorded trace and
// the final database state. The engine, gate and store are the production
// ones; only the clock, request ids, quote verifier and signer are
// replaced with deterministic stand-ins.
//
// # Scenario Format
//
//	name: bridge_happy_path
//	description: "A vault-to-lending flow signs every step in order"
//	chains: [1, 8453]
//	workers: [agent.near]
//	timeout: 30m
//	steps:
//	  - action: start
//	    flow: vault_to_lending
//	    source_chain: 1
//	    destination_chain: 8453
//	    amount: 1000
//	    expect: { nonce: 0 }
//	  - action: request
//	    step: vault_withdraw_to_allocate
//	    args: { amount: 1000, cross_chain_balance: 0 }
//	  - action: request
//	    step: bridge_burn
//	    label: burn
//	    hold: true
//	    args: { ... }
//	  - action: release
//	    label: burn
//	assertions:
//	  - type: trace_order
//	    events: [start, "complete:vault_withdraw_to_allocate"]
//	  - type: log_steps
//	    nonce: 0
//	    steps: [vault_withdraw_to_allocate]
//	  - type: final_state
//	    table: activity_logs
//	    where: { nonce: 0 }
//	    expect: { flow: vault_to_lending }
//
// A request without hold is signed at once and produces two events: the
// request and its completion. A held request waits until a release, fail
// or malform step names its label.
//
// # Assertion Types
//
//   - trace_contains: an event with the action (and step, outcome) exists
//   - trace_order: event keys appear in the given order
//   - trace_count: matching events appear exactly N times
//   - final_state: one table row matches the expected values
//   - log_steps: an activity log holds payloads for exactly these steps
//   - rejections: the engine counted exactly N rejections with this code
//
// # Deterministic Testing
//
// Each run uses a fresh in-memory SQLite database, a manual clock starting
// at testutil.Epoch and sequential request ids (req-1, req-2, ...). Traces
// contain no hashes or timestamps, so they are compared byte for byte
// against golden files with RunWithGolden.
package harness
