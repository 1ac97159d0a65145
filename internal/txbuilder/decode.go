package txbuilder

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/Rebalancy/agent-contracts/internal/domain"
)

// Kinds lists every argument kind ParseArgs accepts.
func Kinds() []string {
	kinds := make([]string, 0, 11)
	for _, s := range domain.AllSteps() {
		if _, err := newStepArgs(s); err == nil {
			kinds = append(kinds, s.String())
		}
	}
	return append(kinds, VaultInvest{}.Kind(), VaultHarvest{}.Kind())
}

// ParseArgs decodes JSON arguments for the named kind. Unknown fields are
// rejected.
func ParseArgs(kind string, data []byte) (Args, error) {
	var target Args
	switch kind {
	case VaultInvest{}.Kind():
		target = &VaultInvest{}
	case VaultHarvest{}.Kind():
		target = &VaultHarvest{}
	default:
		step, err := domain.ParseStep(kind)
		if err != nil {
			return nil, fmt.Errorf("unknown argument kind %q", kind)
		}
		sa, err := newStepArgs(step)
		if err != nil {
			return nil, err
		}
		target = sa
	}
	if err := decodeStrict(data, target); err != nil {
		return nil, fmt.Errorf("%s args: %w", kind, err)
	}
	return deref(target), nil
}

// ParseStepArgs decodes JSON arguments for step.
func ParseStepArgs(step domain.Step, data []byte) (StepArgs, error) {
	target, err := newStepArgs(step)
	if err != nil {
		return nil, err
	}
	if err := decodeStrict(data, target); err != nil {
		return nil, fmt.Errorf("%s args: %w", step, err)
	}
	return deref(target).(StepArgs), nil
}

func newStepArgs(step domain.Step) (StepArgs, error) {
	switch step {
	case domain.LendingSupply:
		return &LendingSupply{}, nil
	case domain.LendingWithdraw:
		return &LendingWithdraw{}, nil
	case domain.LendingApproveBeforeSupply:
		return &LendingApprove{}, nil
	case domain.BridgeApproveBeforeBurn:
		return &BridgeApprove{}, nil
	case domain.BridgeBurn:
		return &BridgeBurn{}, nil
	case domain.BridgeMint:
		return &BridgeMint{}, nil
	case domain.VaultWithdrawToAllocate:
		return &VaultWithdrawToAllocate{}, nil
	case domain.VaultDeposit:
		return &VaultDeposit{}, nil
	case domain.VaultUpdateCrossChainBalance:
		return &VaultUpdateCrossChainBalance{}, nil
	default:
		return nil, fmt.Errorf("step %s has no transaction arguments", step)
	}
}

func decodeStrict(data []byte, v any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		data = []byte("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// deref turns the pointer used for decoding back into the value variant.
func deref(a Args) Args {
	switch v := a.(type) {
	case *LendingSupply:
		return *v
	case *LendingWithdraw:
		return *v
	case *LendingApprove:
		return *v
	case *BridgeApprove:
		return *v
	case *BridgeBurn:
		return *v
	case *BridgeMint:
		return *v
	case *VaultWithdrawToAllocate:
		return *v
	case *VaultDeposit:
		return *v
	case *VaultUpdateCrossChainBalance:
		return *v
	case *VaultInvest:
		return *v
	case *VaultHarvest:
		return *v
	}
	return a
}
