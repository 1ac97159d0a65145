package txbuilder

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Partial carries the transaction fields the agent chooses (nonce, gas,
// fees). The builder fills in the destination and calldata.
type Partial struct {
	ChainID              uint64           `json:"chain_id"`
	Nonce                uint64           `json:"nonce"`
	GasLimit             uint64           `json:"gas_limit"`
	MaxFeePerGas         *big.Int         `json:"max_fee_per_gas"`
	MaxPriorityFeePerGas *big.Int         `json:"max_priority_fee_per_gas"`
	Value                *big.Int         `json:"value,omitempty"`
	AccessList           types.AccessList `json:"access_list,omitempty"`
}

// Unsigned assembles an EIP-1559 transaction from p and call.
func Unsigned(p Partial, call Call) (*types.Transaction, error) {
	if p.ChainID == 0 {
		return nil, &FieldError{Field: "chain_id", Err: ErrInvalidArgument}
	}
	to := call.To
	tx := &types.DynamicFeeTx{
		ChainID:    new(big.Int).SetUint64(p.ChainID),
		Nonce:      p.Nonce,
		GasTipCap:  orZero(p.MaxPriorityFeePerGas),
		GasFeeCap:  orZero(p.MaxFeePerGas),
		Gas:        p.GasLimit,
		To:         &to,
		Value:      orZero(p.Value),
		Data:       common.CopyBytes(call.Data),
		AccessList: p.AccessList,
	}
	return types.NewTx(tx), nil
}

// PayloadHash is the keccak256 of the transaction's signable encoding.
// It is what the signer signs and what the idempotency cache compares.
func PayloadHash(tx *types.Transaction) common.Hash {
	return types.LatestSignerForChainID(tx.ChainId()).Hash(tx)
}

// SignedBytes attaches a 65-byte r||s||v signature (v in {0,1}) and returns
// the typed-transaction envelope.
func SignedBytes(tx *types.Transaction, sig []byte) ([]byte, error) {
	if len(sig) != 65 {
		return nil, fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}
	signed, err := tx.WithSignature(types.LatestSignerForChainID(tx.ChainId()), sig)
	if err != nil {
		return nil, fmt.Errorf("attach signature: %w", err)
	}
	return signed.MarshalBinary()
}

// Sender recovers the signing address of an encoded signed transaction.
func Sender(raw []byte) (common.Address, error) {
	var tx types.Transaction
	if err := tx.UnmarshalBinary(raw); err != nil {
		return common.Address{}, fmt.Errorf("decode transaction: %w", err)
	}
	return types.Sender(types.LatestSignerForChainID(tx.ChainId()), &tx)
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
