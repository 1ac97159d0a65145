package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/Rebalancy/agent-contracts/internal/domain"
)

// marshalAmount renders an amount as decimal TEXT. nil is stored as "0".
func marshalAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func unmarshalAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("unmarshal amount: invalid decimal %q", s)
	}
	return v, nil
}

// marshalTransactions encodes signed payloads as a JSON array of hex strings.
func marshalTransactions(txs []domain.SignedPayload) (string, error) {
	if txs == nil {
		txs = []domain.SignedPayload{}
	}
	return marshalJSON(txs, "transactions")
}

func unmarshalTransactions(data string) ([]domain.SignedPayload, error) {
	txs := []domain.SignedPayload{}
	if data == "" {
		return txs, nil
	}
	if err := json.Unmarshal([]byte(data), &txs); err != nil {
		return nil, fmt.Errorf("unmarshal transactions: %w", err)
	}
	return txs, nil
}

func marshalChainConfig(c domain.ChainConfig) (string, error) {
	return marshalJSON(c, "chain config")
}

func unmarshalChainConfig(data string) (domain.ChainConfig, error) {
	var c domain.ChainConfig
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return domain.ChainConfig{}, fmt.Errorf("unmarshal chain config: %w", err)
	}
	return c, nil
}

// marshalJSON encodes v with HTML escaping disabled and no trailing newline.
func marshalJSON(v any, what string) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("marshal %s: %w", what, err)
	}
	return strings.TrimSpace(buf.String()), nil
}
