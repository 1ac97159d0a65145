package domain

import "fmt"

// Step identifies one transaction kind. The numeric value is the one-byte
// tag that prefixes every signed payload and keys the signature caches.
type Step uint8

const (
	LendingSupply                Step = 0
	LendingWithdraw              Step = 1
	LendingApproveBeforeSupply   Step = 2
	BridgeApproveBeforeBurn      Step = 3
	BridgeBurn                   Step = 4
	BridgeMint                   Step = 5
	VaultWithdrawToAllocate      Step = 6
	VaultUpdateCrossChainBalance Step = 7
	VaultDeposit                 Step = 8
	VaultSignCrossChainBalance   Step = 9
)

var stepNames = [...]string{
	LendingSupply:                "lending_supply",
	LendingWithdraw:              "lending_withdraw",
	LendingApproveBeforeSupply:   "lending_approve_before_supply",
	BridgeApproveBeforeBurn:      "bridge_approve_before_burn",
	BridgeBurn:                   "bridge_burn",
	BridgeMint:                   "bridge_mint",
	VaultWithdrawToAllocate:      "vault_withdraw_to_allocate",
	VaultUpdateCrossChainBalance: "vault_update_cross_chain_balance",
	VaultDeposit:                 "vault_deposit",
	VaultSignCrossChainBalance:   "vault_sign_cross_chain_balance",
}

// AllSteps returns every known step in tag order.
func AllSteps() []Step {
	steps := make([]Step, len(stepNames))
	for i := range stepNames {
		steps[i] = Step(i)
	}
	return steps
}

// Valid reports whether s is a known step tag.
func (s Step) Valid() bool {
	return int(s) < len(stepNames)
}

// Tag returns the payload prefix byte for s.
func (s Step) Tag() byte {
	return byte(s)
}

func (s Step) String() string {
	if !s.Valid() {
		return fmt.Sprintf("step(%d)", uint8(s))
	}
	return stepNames[s]
}

// ParseStep resolves a step by name.
func ParseStep(name string) (Step, error) {
	for i, n := range stepNames {
		if n == name {
			return Step(i), nil
		}
	}
	return 0, fmt.Errorf("unknown step %q", name)
}

// StepFromTag resolves a step from its payload tag.
func StepFromTag(tag byte) (Step, error) {
	s := Step(tag)
	if !s.Valid() {
		return 0, fmt.Errorf("unknown step tag %d", tag)
	}
	return s, nil
}

func (s Step) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("unknown step tag %d", uint8(s))
	}
	return []byte(stepNames[s]), nil
}

func (s *Step) UnmarshalText(text []byte) error {
	parsed, err := ParseStep(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
