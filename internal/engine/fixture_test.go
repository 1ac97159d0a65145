package engine

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/Rebalancy/agent-contracts/internal/domain"
	"github.com/Rebalancy/agent-contracts/internal/gate"
	"github.com/Rebalancy/agent-contracts/internal/metrics"
	"github.com/Rebalancy/agent-contracts/internal/signer"
	"github.com/Rebalancy/agent-contracts/internal/store"
	"github.com/Rebalancy/agent-contracts/internal/testutil"
	"github.com/Rebalancy/agent-contracts/internal/txbuilder"
)

const (
	worker   = "agent.near"
	srcChain = domain.ChainID(1)
	dstChain = domain.ChainID(8453)
)

var testAmount = big.NewInt(1_000_000)

type fixture struct {
	e       *Engine
	store   *store.Store
	gate    *gate.Gate
	clock   *testutil.ManualClock
	metrics *metrics.Metrics
	att     testutil.Attestation
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newFixture builds an engine over a temp-dir store holding configs for
// chains 1 and 8453, with worker registered and approved.
func newFixture(t *testing.T, s signer.Signer, opts ...EngineOption) *fixture {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	for _, id := range []domain.ChainID{srcChain, dstChain} {
		require.NoError(t, st.AddChainConfig(ctx, testChain(id)))
	}

	clock := testutil.NewManualClock(testutil.Epoch)
	att := testutil.NewAttestation(`{"services":{"agent":{"image":"rebalancer:test"}}}`)
	g := gate.New(st, testutil.NewFakeVerifier(att), gate.WithClock(clock.Now), gate.WithLogger(quietLogger()))
	require.NoError(t, g.Approve(ctx, att.CodeIdentity))
	_, err = g.Register(ctx, att.Registration(worker, "sha256:test"))
	require.NoError(t, err)

	m := metrics.New(prometheus.NewRegistry())
	all := append([]EngineOption{
		WithClock(clock),
		WithRequestIDs(testutil.NewSequentialIDs("")),
		WithLogger(quietLogger()),
		WithMetrics(m),
	}, opts...)

	e := New(st, st, g, s, all...)
	t.Cleanup(e.Stop)

	return &fixture{e: e, store: st, gate: g, clock: clock, metrics: m, att: att}
}

func testChain(id domain.ChainID) domain.ChainConfig {
	return domain.ChainConfig{
		ChainID: id,
		Lending: domain.LendingConfig{
			Asset:       "0x1000000000000000000000000000000000000001",
			OnBehalfOf:  "0x1000000000000000000000000000000000000002",
			PoolAddress: "0x1000000000000000000000000000000000000003",
		},
		Bridge: domain.BridgeConfig{
			MessengerAddress:   "0x2000000000000000000000000000000000000001",
			TransmitterAddress: "0x2000000000000000000000000000000000000002",
			TokenAddress:       "0x2000000000000000000000000000000000000003",
			Domain:             uint32(id % 7),
		},
		Vault: domain.VaultConfig{VaultAddress: "0x3000000000000000000000000000000000000001"},
	}
}

func stepArgs(step domain.Step) txbuilder.StepArgs {
	switch step {
	case domain.LendingSupply:
		return txbuilder.LendingSupply{Amount: testAmount}
	case domain.LendingWithdraw:
		return txbuilder.LendingWithdraw{Amount: testAmount}
	case domain.LendingApproveBeforeSupply:
		return txbuilder.LendingApprove{Amount: testAmount}
	case domain.BridgeApproveBeforeBurn:
		return txbuilder.BridgeApprove{Amount: testAmount}
	case domain.BridgeBurn:
		return txbuilder.BridgeBurn{
			Amount:            testAmount,
			DestinationDomain: 6,
			MintRecipient:     "0x1000000000000000000000000000000000000002",
		}
	case domain.BridgeMint:
		return txbuilder.BridgeMint{Message: hexutil.Bytes{0xde, 0xad}, Attestation: hexutil.Bytes{0xbe, 0xef}}
	case domain.VaultWithdrawToAllocate:
		return txbuilder.VaultWithdrawToAllocate{Amount: testAmount, CrossChainBalance: testAmount}
	case domain.VaultDeposit:
		return txbuilder.VaultDeposit{Amount: testAmount, CrossChainBalance: big.NewInt(0)}
	case domain.VaultUpdateCrossChainBalance:
		return txbuilder.VaultUpdateCrossChainBalance{CrossChainBalance: testAmount}
	}
	panic("no test arguments for " + step.String())
}

func partial(chain domain.ChainID, txNonce uint64) txbuilder.Partial {
	return txbuilder.Partial{
		ChainID:              uint64(chain),
		Nonce:                txNonce,
		GasLimit:             250_000,
		MaxFeePerGas:         big.NewInt(2_000_000_000),
		MaxPriorityFeePerGas: big.NewInt(1_000_000_000),
	}
}

func (f *fixture) start(t *testing.T, flow domain.Flow) domain.ActiveSession {
	t.Helper()
	s, err := f.e.Start(context.Background(), worker, flow, srcChain, dstChain, testAmount)
	require.NoError(t, err)
	return s
}

// request asks for step with default arguments on the chain flow assigns it.
func (f *fixture) request(flow domain.Flow, args txbuilder.StepArgs, txNonce uint64) (*Pending, error) {
	chain, _ := flow.ChainFor(args.Step(), srcChain, dstChain)
	return f.e.RequestStep(context.Background(), worker, StepRequest{Args: args, Tx: partial(chain, txNonce)})
}

// apply waits for one signer completion and applies it.
func (f *fixture) apply(t *testing.T) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return f.e.Next(ctx)
}

// sign requests step and applies its completion, which must succeed.
// Only for fixtures built on a signer that answers on its own.
func (f *fixture) sign(t *testing.T, flow domain.Flow, step domain.Step) Result {
	t.Helper()
	p, err := f.request(flow, stepArgs(step), 0)
	require.NoError(t, err)
	require.NoError(t, f.apply(t))

	r, ok := p.Result()
	require.True(t, ok)
	require.NoError(t, r.Err)
	return r
}
