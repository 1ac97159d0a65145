package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Rebalancy/agent-contracts/internal/domain"
	"github.com/Rebalancy/agent-contracts/internal/engine"
	"github.com/Rebalancy/agent-contracts/internal/gate"
	"github.com/Rebalancy/agent-contracts/internal/metrics"
	"github.com/Rebalancy/agent-contracts/internal/signer"
	"github.com/Rebalancy/agent-contracts/internal/store"
	"github.com/Rebalancy/agent-contracts/internal/testutil"
	"github.com/Rebalancy/agent-contracts/internal/txbuilder"
)

// DefaultCompose is the app compose document of the workers a scenario
// registers at setup.
const DefaultCompose = `{"services":{"agent":{"image":"rebalancer-agent:scenario"}}}`

// completionTimeout bounds the wait for one signer completion.
const completionTimeout = 10 * time.Second

// Harness runs one scenario against a real engine.
//
// The engine, gate and store are the production ones. The clock, request
// ids, signer and quote verifier are deterministic stand-ins, so two runs
// of a scenario produce identical traces.
type Harness struct {
	store    *store.Store
	engine   *engine.Engine
	gate     *gate.Gate
	clock    *testutil.ManualClock
	signer   *testutil.HoldingSigner
	verifier *testutil.FakeVerifier
	metrics  *metrics.Metrics
	logger   *slog.Logger

	defaultCaller string
	pending       map[string]*engine.Pending
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
//
// Execution flow:
// 1. Create fresh in-memory database
// 2. Configure chains, approve the default code identity, register workers
// 3. Execute steps, checking each expect clause
// 4. Evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	return RunWithLogger(scenario, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// RunWithLogger is Run with engine and gate logs sent to logger.
func RunWithLogger(scenario *Scenario, logger *slog.Logger) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	h, err := setup(ctx, st, scenario, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to set up scenario: %w", err)
	}
	defer h.engine.Stop()

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.execute(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, step.Action, err)
		}
	}

	actx := &AssertionContext{Store: st, Metrics: h.metrics, Ctx: ctx}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}

	return result, nil
}

func setup(ctx context.Context, st *store.Store, s *Scenario, logger *slog.Logger) (*Harness, error) {
	chains := s.Chains
	if len(chains) == 0 {
		chains = []uint64{1, 8453}
	}
	for _, id := range chains {
		if err := st.AddChainConfig(ctx, ChainConfig(domain.ChainID(id))); err != nil {
			return nil, err
		}
	}

	clock := testutil.NewManualClock(testutil.Epoch)
	base := testutil.NewAttestation(DefaultCompose)
	verifier := testutil.NewFakeVerifier(base)
	// A private registry per run keeps counters scoped to the scenario.
	m := metrics.New(prometheus.NewRegistry())
	g := gate.New(st, verifier, gate.WithClock(clock.Now), gate.WithLogger(logger), gate.WithMetrics(m))

	if err := g.Approve(ctx, base.CodeIdentity); err != nil {
		return nil, err
	}
	workers := s.Workers
	if len(workers) == 0 {
		workers = []string{"agent.near"}
	}
	for _, w := range workers {
		if _, err := g.Register(ctx, base.Registration(w, "sha256:scenario")); err != nil {
			return nil, fmt.Errorf("register %s: %w", w, err)
		}
	}

	opts := []engine.EngineOption{
		engine.WithClock(clock),
		engine.WithRequestIDs(testutil.NewSequentialIDs("req")),
		engine.WithLogger(logger),
		engine.WithMetrics(m),
	}
	if s.Timeout != "" {
		d, err := time.ParseDuration(s.Timeout)
		if err != nil {
			return nil, err
		}
		opts = append(opts, engine.WithOperationsTimeout(d))
	}

	hs := testutil.NewHoldingSigner()
	return &Harness{
		store:         st,
		engine:        engine.New(st, st, g, hs, opts...),
		gate:          g,
		clock:         clock,
		signer:        hs,
		verifier:      verifier,
		metrics:       m,
		logger:        logger,
		defaultCaller: workers[0],
		pending:       make(map[string]*engine.Pending),
	}, nil
}

// ChainConfig is the address book scenarios use for chain id.
func ChainConfig(id domain.ChainID) domain.ChainConfig {
	return domain.ChainConfig{
		ChainID: id,
		Lending: domain.LendingConfig{
			Asset:       "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
			OnBehalfOf:  "0x1000000000000000000000000000000000000001",
			PoolAddress: "0xA238Dd80C259a72e81d7e4664a9801593F98d1c5",
		},
		Bridge: domain.BridgeConfig{
			MessengerAddress:   "0x28b5a0e9C621a5BadaA536219b3a228C8168cf5d",
			TransmitterAddress: "0x81D40F21F12A8F0E3252Bccb954D722d4c464B64",
			TokenAddress:       "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
			Domain:             uint32(id % 10),
		},
		Vault: domain.VaultConfig{VaultAddress: "0x3000000000000000000000000000000000000003"},
	}
}

// execute runs one step, records its trace events and checks its expect
// clause. A returned error aborts the scenario; rejections by the engine
// are outcomes, not errors.
func (h *Harness) execute(ctx context.Context, index int, s Step, result *Result) error {
	caller := s.Caller
	if caller == "" {
		caller = h.defaultCaller
	}

	ev := TraceEvent{Action: s.Action, Label: s.Label}
	var opErr error

	switch s.Action {
	case ActionStart:
		flow, err := domain.ParseFlow(s.Flow)
		if err != nil {
			return err
		}
		ev.Flow = flow.String()
		session, err := h.engine.Start(ctx, caller, flow,
			domain.ChainID(s.SourceChain), domain.ChainID(s.DestinationChain), big.NewInt(*s.Amount))
		opErr = err
		if err == nil {
			ev.Nonce = &session.Nonce
		}

	case ActionRequest:
		return h.request(ctx, index, s, caller, result)

	case ActionRelease, ActionFail, ActionMalform:
		p := h.pending[s.Label]
		if p == nil {
			return fmt.Errorf("label %q has no pending request", s.Label)
		}
		delete(h.pending, s.Label)
		ev.Step = p.Key.Step.String()
		ev.RequestID = p.ID
		h.decide(s.Action, p)
		opErr = h.apply(ctx)

	case ActionCompleteSession:
		nonce, err := h.engine.CompleteSession(ctx, caller, big.NewInt(*s.Amount))
		opErr = err
		if err == nil {
			ev.Nonce = &nonce
		}

	case ActionAbort:
		nonce, err := h.engine.AbortSession(ctx, caller)
		opErr = err
		if err == nil {
			ev.Nonce = &nonce
		}

	case ActionAdvance:
		d, err := time.ParseDuration(s.Duration)
		if err != nil {
			return err
		}
		h.clock.Advance(d)

	case ActionSnapshot:
		return h.snapshot(ctx, index, s, caller, result)

	case ActionRegister:
		ev.Caller = caller
		a := h.attestation(s.Compose)
		h.verifier.Trust(a)
		_, opErr = h.gate.Register(ctx, a.Registration(caller, "sha256:scenario"))

	case ActionApprove:
		opErr = h.gate.Approve(ctx, h.attestation(s.Compose).CodeIdentity)

	case ActionRevoke:
		_, opErr = h.gate.Revoke(ctx, h.attestation(s.Compose).CodeIdentity)

	default:
		return fmt.Errorf("unknown action %q", s.Action)
	}

	if err := h.record(index, s, ev, opErr, result); err != nil {
		return err
	}
	return nil
}

func (h *Harness) request(ctx context.Context, index int, s Step, caller string, result *Result) error {
	step, err := domain.ParseStep(s.Step)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(s.Args)
	if err != nil {
		return fmt.Errorf("encode args: %w", err)
	}
	args, err := txbuilder.ParseStepArgs(step, raw)
	if err != nil {
		return err
	}

	chain := domain.ChainID(s.ChainID)
	if chain == 0 {
		chain = h.chainFor(ctx, step)
	}
	p, err := h.engine.RequestStep(ctx, caller, engine.StepRequest{
		Args: args,
		Tx: txbuilder.Partial{
			ChainID:              uint64(chain),
			Nonce:                s.TxNonce,
			GasLimit:             300_000,
			MaxFeePerGas:         big.NewInt(3_000_000_000),
			MaxPriorityFeePerGas: big.NewInt(1_000_000_000),
		},
	})

	ev := TraceEvent{Action: ActionRequest, Label: s.Label, Step: step.String()}
	if err == nil {
		ev.RequestID = p.ID
		ev.Nonce = &p.Key.Nonce
	}

	// A held request's expect clause covers the request; otherwise it
	// covers the completion that follows.
	if err != nil || s.Hold {
		if err == nil {
			h.pending[s.Label] = p
		}
		return h.record(index, s, ev, err, result)
	}

	if err := h.record(index, Step{}, ev, nil, result); err != nil {
		return err
	}
	h.signer.Release(p.Hash)
	done := TraceEvent{Action: "complete", Label: s.Label, Step: ev.Step, RequestID: p.ID}
	return h.record(index, s, done, h.apply(ctx), result)
}

func (h *Harness) snapshot(ctx context.Context, index int, s Step, caller string, result *Result) error {
	raw, err := json.Marshal(s.Snapshot)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	var snap txbuilder.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	ev := TraceEvent{Action: ActionSnapshot}
	p, err := h.engine.SignBalanceSnapshot(ctx, caller, snap)
	if err != nil {
		return h.record(index, s, ev, err, result)
	}
	ev.RequestID = p.ID
	if err := h.record(index, Step{}, ev, nil, result); err != nil {
		return err
	}

	h.signer.Release(p.Hash)
	opErr := h.apply(ctx)
	if opErr == nil {
		r, _ := p.Result()
		if len(r.Signature) != 65 {
			result.AddError(fmt.Sprintf("step %d: snapshot signature is %d bytes", index, len(r.Signature)))
		}
	}
	done := TraceEvent{Action: "complete", RequestID: p.ID}
	return h.record(index, s, done, opErr, result)
}

// decide settles the signer's answer for p.
func (h *Harness) decide(action string, p *engine.Pending) {
	switch action {
	case ActionRelease:
		h.signer.Release(p.Hash)
	case ActionFail:
		h.signer.Fail(p.Hash, fmt.Errorf("signer unavailable"))
	case ActionMalform:
		h.signer.Respond(p.Hash, signer.Response{
			BigR: signer.AffinePoint{AffinePoint: "02"},
			S:    signer.Scalar{Scalar: "00"},
		})
	}
}

// apply waits for the one completion the signer was just allowed to
// produce and applies it.
func (h *Harness) apply(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, completionTimeout)
	defer cancel()
	err := h.engine.Next(ctx)
	if ctx.Err() != nil {
		return fmt.Errorf("no signer completion within %s", completionTimeout)
	}
	return err
}

func (h *Harness) chainFor(ctx context.Context, step domain.Step) domain.ChainID {
	session, found, err := h.engine.ActiveSession(ctx)
	if err != nil || !found {
		return 0
	}
	chain, _ := session.Flow.ChainFor(step, session.SourceChain, session.DestinationChain)
	return chain
}

func (h *Harness) attestation(compose string) testutil.Attestation {
	if compose == "" {
		compose = DefaultCompose
	}
	return testutil.NewAttestation(compose)
}

// record appends ev with the outcome of opErr and checks s's expect clause.
// Errors that carry no reason code abort the run.
func (h *Harness) record(index int, s Step, ev TraceEvent, opErr error, result *Result) error {
	ev.Outcome = OutcomeOK
	if opErr != nil {
		code := engine.CodeOf(opErr)
		if code == "" {
			return opErr
		}
		ev.Outcome = code
	}
	result.add(ev)

	h.logger.Info("scenario step",
		"step", index,
		"action", ev.Action,
		"outcome", ev.Outcome,
	)

	if s.Expect == nil {
		if ev.Outcome != OutcomeOK && s.Action != "" {
			result.AddError(fmt.Sprintf("step %d (%s): unexpected %s", index, s.Action, ev.Outcome))
		}
		return nil
	}

	want := OutcomeOK
	if s.Expect.Error != "" {
		want = s.Expect.Error
	}
	if ev.Outcome != want {
		result.AddError(fmt.Sprintf("step %d (%s): expected %s, got %s", index, s.Action, want, ev.Outcome))
	}
	if s.Expect.Nonce != nil {
		switch {
		case ev.Nonce == nil:
			result.AddError(fmt.Sprintf("step %d (%s): expected nonce %d, got none", index, s.Action, *s.Expect.Nonce))
		case *ev.Nonce != *s.Expect.Nonce:
			result.AddError(fmt.Sprintf("step %d (%s): expected nonce %d, got %d", index, s.Action, *s.Expect.Nonce, *ev.Nonce))
		}
	}
	return nil
}
