// Package txbuilder turns step arguments and a chain's address book into
// contract calls and unsigned EVM transactions.
//
// Every builder is pure: no I/O, no shared state. Calling one speculatively
// (dry runs, fee estimation by an external agent) has no side effects.
package txbuilder

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/Rebalancy/agent-contracts/internal/domain"
)

// Call is a built contract call.
type Call struct {
	To   common.Address `json:"to"`
	Data hexutil.Bytes  `json:"data"`
}

// Args is the sealed set of call arguments. Each variant builds exactly
// one kind of call; the unexported method keeps the set closed.
type Args interface {
	Kind() string
	build(cfg domain.ChainConfig) (Call, error)
}

// StepArgs are Args that correspond to a signable step.
type StepArgs interface {
	Args
	Step() domain.Step
}

// Build encodes args against cfg.
func Build(args Args, cfg domain.ChainConfig) (Call, error) {
	return args.build(cfg)
}

// LendingSupply deposits the bridged asset into the lending pool.
type LendingSupply struct {
	Amount *big.Int `json:"amount"`
}

// LendingWithdraw pulls the asset out of the lending pool to the agent.
type LendingWithdraw struct {
	Amount *big.Int `json:"amount"`
}

// LendingApprove lets the lending pool pull Amount of the asset.
type LendingApprove struct {
	Amount *big.Int `json:"amount"`
}

// BridgeApprove lets the bridge messenger burn Amount of the token.
type BridgeApprove struct {
	Amount *big.Int `json:"amount"`
}

// BridgeBurn starts a bridge transfer. MintRecipient and DestinationCaller
// accept a 20-byte address or a 32-byte hex word; DestinationCaller may be
// empty to allow any caller.
type BridgeBurn struct {
	Amount               *big.Int `json:"amount"`
	DestinationDomain    uint32   `json:"destination_domain"`
	MintRecipient        string   `json:"mint_recipient"`
	DestinationCaller    string   `json:"destination_caller,omitempty"`
	MaxFee               *big.Int `json:"max_fee,omitempty"`
	MinFinalityThreshold uint32   `json:"min_finality_threshold,omitempty"`
}

// BridgeMint completes a bridge transfer on the destination chain.
type BridgeMint struct {
	Message     hexutil.Bytes `json:"message"`
	Attestation hexutil.Bytes `json:"attestation"`
}

// VaultWithdrawToAllocate releases vault funds for cross-chain allocation.
type VaultWithdrawToAllocate struct {
	Amount            *big.Int `json:"amount"`
	CrossChainBalance *big.Int `json:"cross_chain_balance"`
}

// VaultDeposit returns allocated funds to the vault.
type VaultDeposit struct {
	Amount            *big.Int `json:"amount"`
	CrossChainBalance *big.Int `json:"cross_chain_balance"`
}

// VaultUpdateCrossChainBalance records the vault's cross-chain position.
type VaultUpdateCrossChainBalance struct {
	CrossChainBalance *big.Int `json:"cross_chain_balance"`
}

// VaultInvest and VaultHarvest are not session steps; they exist for
// dry-run encoding only.
type VaultInvest struct {
	Amount *big.Int `json:"amount"`
}

type VaultHarvest struct {
	YieldAmount *big.Int `json:"yield_amount"`
}

func (LendingSupply) Step() domain.Step                { return domain.LendingSupply }
func (LendingWithdraw) Step() domain.Step              { return domain.LendingWithdraw }
func (LendingApprove) Step() domain.Step               { return domain.LendingApproveBeforeSupply }
func (BridgeApprove) Step() domain.Step                { return domain.BridgeApproveBeforeBurn }
func (BridgeBurn) Step() domain.Step                   { return domain.BridgeBurn }
func (BridgeMint) Step() domain.Step                   { return domain.BridgeMint }
func (VaultWithdrawToAllocate) Step() domain.Step      { return domain.VaultWithdrawToAllocate }
func (VaultDeposit) Step() domain.Step                 { return domain.VaultDeposit }
func (VaultUpdateCrossChainBalance) Step() domain.Step { return domain.VaultUpdateCrossChainBalance }

func (a LendingSupply) Kind() string                { return a.Step().String() }
func (a LendingWithdraw) Kind() string              { return a.Step().String() }
func (a LendingApprove) Kind() string               { return a.Step().String() }
func (a BridgeApprove) Kind() string                { return a.Step().String() }
func (a BridgeBurn) Kind() string                   { return a.Step().String() }
func (a BridgeMint) Kind() string                   { return a.Step().String() }
func (a VaultWithdrawToAllocate) Kind() string      { return a.Step().String() }
func (a VaultDeposit) Kind() string                 { return a.Step().String() }
func (a VaultUpdateCrossChainBalance) Kind() string { return a.Step().String() }
func (VaultInvest) Kind() string                    { return "vault_invest" }
func (VaultHarvest) Kind() string                   { return "vault_harvest" }

func (a LendingSupply) build(cfg domain.ChainConfig) (Call, error) {
	pool, asset, onBehalf, err := lendingAddresses(cfg)
	if err != nil {
		return Call{}, err
	}
	amount, err := requireAmount("amount", a.Amount)
	if err != nil {
		return Call{}, err
	}
	data, err := pack(lendingPoolABI, "supply", asset, amount, onBehalf, cfg.Lending.ReferralCode)
	return Call{To: pool, Data: data}, err
}

func (a LendingWithdraw) build(cfg domain.ChainConfig) (Call, error) {
	pool, asset, onBehalf, err := lendingAddresses(cfg)
	if err != nil {
		return Call{}, err
	}
	amount, err := requireAmount("amount", a.Amount)
	if err != nil {
		return Call{}, err
	}
	data, err := pack(lendingPoolABI, "withdraw", asset, amount, onBehalf)
	return Call{To: pool, Data: data}, err
}

func (a LendingApprove) build(cfg domain.ChainConfig) (Call, error) {
	pool, asset, _, err := lendingAddresses(cfg)
	if err != nil {
		return Call{}, err
	}
	return approve(asset, pool, a.Amount)
}

func (a BridgeApprove) build(cfg domain.ChainConfig) (Call, error) {
	token, err := parseAddress("bridge.token_address", cfg.Bridge.TokenAddress)
	if err != nil {
		return Call{}, err
	}
	messenger, err := parseAddress("bridge.messenger_address", cfg.Bridge.MessengerAddress)
	if err != nil {
		return Call{}, err
	}
	return approve(token, messenger, a.Amount)
}

func (a BridgeBurn) build(cfg domain.ChainConfig) (Call, error) {
	messenger, err := parseAddress("bridge.messenger_address", cfg.Bridge.MessengerAddress)
	if err != nil {
		return Call{}, err
	}
	token, err := parseAddress("bridge.token_address", cfg.Bridge.TokenAddress)
	if err != nil {
		return Call{}, err
	}
	amount, err := requireAmount("amount", a.Amount)
	if err != nil {
		return Call{}, err
	}
	recipient, err := parseWord("mint_recipient", a.MintRecipient, false)
	if err != nil {
		return Call{}, err
	}
	caller, err := parseWord("destination_caller", a.DestinationCaller, true)
	if err != nil {
		return Call{}, err
	}
	maxFee := a.MaxFee
	if maxFee == nil {
		maxFee = new(big.Int)
	}
	if maxFee.Sign() < 0 {
		return Call{}, &FieldError{Field: "max_fee", Value: maxFee.String(), Err: ErrInvalidArgument}
	}
	data, err := pack(messengerABI, "depositForBurn",
		amount, a.DestinationDomain, recipient, token, caller, maxFee, a.MinFinalityThreshold)
	return Call{To: messenger, Data: data}, err
}

func (a BridgeMint) build(cfg domain.ChainConfig) (Call, error) {
	transmitter, err := parseAddress("bridge.transmitter_address", cfg.Bridge.TransmitterAddress)
	if err != nil {
		return Call{}, err
	}
	if len(a.Message) == 0 {
		return Call{}, &FieldError{Field: "message", Err: ErrInvalidArgument}
	}
	if len(a.Attestation) == 0 {
		return Call{}, &FieldError{Field: "attestation", Err: ErrInvalidArgument}
	}
	data, err := pack(transmitterABI, "receiveMessage", []byte(a.Message), []byte(a.Attestation))
	return Call{To: transmitter, Data: data}, err
}

func (a VaultWithdrawToAllocate) build(cfg domain.ChainConfig) (Call, error) {
	return vaultCall(cfg, "withdrawForCrossChainAllocation",
		field{"amount", a.Amount}, field{"cross_chain_balance", a.CrossChainBalance})
}

func (a VaultDeposit) build(cfg domain.ChainConfig) (Call, error) {
	return vaultCall(cfg, "returnFunds",
		field{"amount", a.Amount}, field{"cross_chain_balance", a.CrossChainBalance})
}

func (a VaultUpdateCrossChainBalance) build(cfg domain.ChainConfig) (Call, error) {
	return vaultCall(cfg, "updateCrossChainBalance", field{"cross_chain_balance", a.CrossChainBalance})
}

func (a VaultInvest) build(cfg domain.ChainConfig) (Call, error) {
	return vaultCall(cfg, "invest", field{"amount", a.Amount})
}

func (a VaultHarvest) build(cfg domain.ChainConfig) (Call, error) {
	return vaultCall(cfg, "harvest", field{"yield_amount", a.YieldAmount})
}

type field struct {
	name  string
	value *big.Int
}

func vaultCall(cfg domain.ChainConfig, method string, fields ...field) (Call, error) {
	vault, err := parseAddress("vault.vault_address", cfg.Vault.VaultAddress)
	if err != nil {
		return Call{}, err
	}
	args := make([]any, 0, len(fields))
	for _, f := range fields {
		v, err := requireAmount(f.name, f.value)
		if err != nil {
			return Call{}, err
		}
		args = append(args, v)
	}
	data, err := pack(vaultABI, method, args...)
	return Call{To: vault, Data: data}, err
}

func approve(token, spender common.Address, amount *big.Int) (Call, error) {
	v, err := requireAmount("amount", amount)
	if err != nil {
		return Call{}, err
	}
	data, err := pack(erc20ABI, "approve", spender, v)
	return Call{To: token, Data: data}, err
}

func lendingAddresses(cfg domain.ChainConfig) (pool, asset, onBehalf common.Address, err error) {
	if pool, err = parseAddress("lending.pool_address", cfg.Lending.PoolAddress); err != nil {
		return
	}
	if asset, err = parseAddress("lending.asset", cfg.Lending.Asset); err != nil {
		return
	}
	onBehalf, err = parseAddress("lending.on_behalf_of", cfg.Lending.OnBehalfOf)
	return
}

// ParseAddress validates a 20-byte hex address.
func ParseAddress(s string) (common.Address, error) {
	return parseAddress("address", s)
}

func parseAddress(name, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, &FieldError{Field: name, Value: s, Err: ErrMalformedAddress}
	}
	return common.HexToAddress(s), nil
}

// parseWord accepts a 20-byte address (left-padded) or a 32-byte word.
func parseWord(name, s string, optional bool) ([32]byte, error) {
	var word [32]byte
	if s == "" {
		if optional {
			return word, nil
		}
		return word, &FieldError{Field: name, Err: ErrMalformedAddress}
	}
	if common.IsHexAddress(s) {
		return common.BytesToHash(common.HexToAddress(s).Bytes()), nil
	}
	raw := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	b, err := hexutil.Decode("0x" + raw)
	if err != nil || len(b) != 32 {
		return word, &FieldError{Field: name, Value: s, Err: ErrMalformedAddress}
	}
	copy(word[:], b)
	return word, nil
}

func requireAmount(name string, v *big.Int) (*big.Int, error) {
	if v == nil {
		return nil, &FieldError{Field: name, Err: ErrInvalidArgument}
	}
	if v.Sign() < 0 || v.BitLen() > 256 {
		return nil, &FieldError{Field: name, Value: v.String(), Err: ErrInvalidArgument}
	}
	return v, nil
}
