package domain

import "fmt"

// Flow is one supported cross-chain movement pattern.
type Flow uint8

const (
	// LendingToLending moves funds from a lending pool on one chain to a
	// lending pool on another.
	LendingToLending Flow = iota
	// VaultToLending allocates vault funds into a lending pool.
	VaultToLending
	// LendingToVault returns lending pool funds to the vault.
	LendingToVault
)

// Side says which end of a session a step executes on.
type Side uint8

const (
	Source Side = iota
	Destination
)

func (s Side) String() string {
	if s == Destination {
		return "destination"
	}
	return "source"
}

type flowDef struct {
	name      string
	sequence  []Step
	auxiliary []Step
	sides     map[Step]Side
}

// flowDefs is never mutated after init; accessors hand out copies.
var flowDefs = [...]flowDef{
	LendingToLending: {
		name:     "lending_to_lending",
		sequence: []Step{LendingWithdraw, BridgeBurn, BridgeMint, LendingSupply},
		auxiliary: []Step{
			BridgeApproveBeforeBurn,
			LendingApproveBeforeSupply,
		},
		sides: map[Step]Side{
			LendingWithdraw:            Source,
			BridgeApproveBeforeBurn:    Source,
			BridgeBurn:                 Source,
			BridgeMint:                 Destination,
			LendingApproveBeforeSupply: Destination,
			LendingSupply:              Destination,
		},
	},
	VaultToLending: {
		name:     "vault_to_lending",
		sequence: []Step{VaultWithdrawToAllocate, BridgeBurn, BridgeMint, LendingSupply},
		auxiliary: []Step{
			BridgeApproveBeforeBurn,
			LendingApproveBeforeSupply,
			VaultUpdateCrossChainBalance,
		},
		sides: map[Step]Side{
			VaultWithdrawToAllocate:      Source,
			VaultUpdateCrossChainBalance: Source,
			BridgeApproveBeforeBurn:      Source,
			BridgeBurn:                   Source,
			BridgeMint:                   Destination,
			LendingApproveBeforeSupply:   Destination,
			LendingSupply:                Destination,
		},
	},
	LendingToVault: {
		name:     "lending_to_vault",
		sequence: []Step{LendingWithdraw, BridgeBurn, BridgeMint, VaultDeposit},
		auxiliary: []Step{
			BridgeApproveBeforeBurn,
			VaultUpdateCrossChainBalance,
		},
		sides: map[Step]Side{
			LendingWithdraw:              Source,
			BridgeApproveBeforeBurn:      Source,
			BridgeBurn:                   Source,
			BridgeMint:                   Destination,
			VaultDeposit:                 Destination,
			VaultUpdateCrossChainBalance: Destination,
		},
	},
}

// AllFlows returns every supported flow.
func AllFlows() []Flow {
	return []Flow{LendingToLending, VaultToLending, LendingToVault}
}

// Valid reports whether f is a known flow.
func (f Flow) Valid() bool {
	return int(f) < len(flowDefs)
}

func (f Flow) String() string {
	if !f.Valid() {
		return fmt.Sprintf("flow(%d)", uint8(f))
	}
	return flowDefs[f].name
}

// Sequence returns the ordered steps a session of f must sign.
// The returned slice is a fresh copy.
func (f Flow) Sequence() []Step {
	if !f.Valid() {
		return nil
	}
	return append([]Step(nil), flowDefs[f].sequence...)
}

// Auxiliary returns the steps f permits outside the ordered sequence.
func (f Flow) Auxiliary() []Step {
	if !f.Valid() {
		return nil
	}
	return append([]Step(nil), flowDefs[f].auxiliary...)
}

// InSequence reports whether step is one of f's ordered steps.
func (f Flow) InSequence(step Step) bool {
	if !f.Valid() {
		return false
	}
	for _, s := range flowDefs[f].sequence {
		if s == step {
			return true
		}
	}
	return false
}

// Permits reports whether step may be signed in a session of f.
func (f Flow) Permits(step Step) bool {
	if !f.Valid() {
		return false
	}
	_, ok := flowDefs[f].sides[step]
	return ok
}

// SideOf reports which end of the session step runs on.
func (f Flow) SideOf(step Step) (Side, bool) {
	if !f.Valid() {
		return 0, false
	}
	side, ok := flowDefs[f].sides[step]
	return side, ok
}

// ChainFor selects the chain step executes on for a session between src and dst.
func (f Flow) ChainFor(step Step, src, dst ChainID) (ChainID, bool) {
	side, ok := f.SideOf(step)
	if !ok {
		return 0, false
	}
	if side == Destination {
		return dst, true
	}
	return src, true
}

// ParseFlow resolves a flow by name.
func ParseFlow(name string) (Flow, error) {
	for i, def := range flowDefs {
		if def.name == name {
			return Flow(i), nil
		}
	}
	return 0, fmt.Errorf("unknown flow %q", name)
}

func (f Flow) MarshalText() ([]byte, error) {
	if !f.Valid() {
		return nil, fmt.Errorf("unknown flow %d", uint8(f))
	}
	return []byte(flowDefs[f].name), nil
}

func (f *Flow) UnmarshalText(text []byte) error {
	parsed, err := ParseFlow(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}
