package txbuilder

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EIP-712 domain of the vault's cross-chain balance snapshot.
const (
	SnapshotDomainName    = "RebalancerVault"
	SnapshotDomainVersion = "1"
	snapshotPrimaryType   = "CrossChainBalanceSnapshot"
)

// Snapshot is a vault cross-chain balance attestation. Its signing
// payload is an EIP-712 digest rather than a transaction.
type Snapshot struct {
	ChainID           uint64   `json:"chain_id"`
	VerifyingContract string   `json:"verifying_contract"`
	Balance           *big.Int `json:"balance"`
	Nonce             *big.Int `json:"nonce"`
	Deadline          *big.Int `json:"deadline"`
	Assets            *big.Int `json:"assets"`
	Receiver          string   `json:"receiver"`
}

// SnapshotDigest computes keccak256("\x19\x01" || domainSeparator || structHash).
func SnapshotDigest(s Snapshot) (common.Hash, error) {
	verifying, err := parseAddress("verifying_contract", s.VerifyingContract)
	if err != nil {
		return common.Hash{}, err
	}
	receiver, err := parseAddress("receiver", s.Receiver)
	if err != nil {
		return common.Hash{}, err
	}
	if s.ChainID == 0 {
		return common.Hash{}, &FieldError{Field: "chain_id", Err: ErrInvalidArgument}
	}
	values := map[string]*big.Int{
		"balance":  s.Balance,
		"nonce":    s.Nonce,
		"deadline": s.Deadline,
		"assets":   s.Assets,
	}
	for name, v := range values {
		if _, err := requireAmount(name, v); err != nil {
			return common.Hash{}, err
		}
	}

	typed := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			snapshotPrimaryType: {
				{Name: "balance", Type: "uint256"},
				{Name: "nonce", Type: "uint256"},
				{Name: "deadline", Type: "uint256"},
				{Name: "assets", Type: "uint256"},
				{Name: "receiver", Type: "address"},
			},
		},
		PrimaryType: snapshotPrimaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              SnapshotDomainName,
			Version:           SnapshotDomainVersion,
			ChainId:           (*math.HexOrDecimal256)(new(big.Int).SetUint64(s.ChainID)),
			VerifyingContract: verifying.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"balance":  s.Balance,
			"nonce":    s.Nonce,
			"deadline": s.Deadline,
			"assets":   s.Assets,
			"receiver": receiver.Hex(),
		},
	}

	digest, _, err := apitypes.TypedDataAndHash(typed)
	if err != nil {
		return common.Hash{}, fmt.Errorf("snapshot digest: %w", err)
	}
	return common.BytesToHash(digest), nil
}
