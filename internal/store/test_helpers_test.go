package store

import (
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/Rebalancy/agent-contracts/internal/domain"
)

var testEpoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// createTestStore creates a new temp-dir store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testSession(flow domain.Flow) NewSession {
	return NewSession{
		Flow:             flow,
		SourceChain:      1,
		DestinationChain: 8453,
		ExpectedAmount:   big.NewInt(1_000_000),
		StartedAt:        testEpoch,
	}
}

func testChain(id domain.ChainID) domain.ChainConfig {
	return domain.ChainConfig{
		ChainID: id,
		Lending: domain.LendingConfig{
			Asset:        "0x1000000000000000000000000000000000000001",
			OnBehalfOf:   "0x1000000000000000000000000000000000000002",
			ReferralCode: 3,
			PoolAddress:  "0x1000000000000000000000000000000000000003",
		},
		Bridge: domain.BridgeConfig{
			MessengerAddress:   "0x2000000000000000000000000000000000000001",
			TransmitterAddress: "0x2000000000000000000000000000000000000002",
			TokenAddress:       "0x2000000000000000000000000000000000000003",
			Domain:             6,
		},
		Vault: domain.VaultConfig{VaultAddress: "0x3000000000000000000000000000000000000001"},
	}
}
