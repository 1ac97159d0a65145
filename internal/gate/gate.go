// Package gate decides which callers may drive the rebalancer.
//
// A worker registers with a remote-attestation quote. The quote is verified
// against its collateral at the current time, the code identity is derived
// from the report's RTMR3 and the worker's tcb_info, and the identity must be
// in the approved set. Authorization re-reads the approved set on every call,
// so a revocation takes effect on the caller's next request.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Rebalancy/agent-contracts/internal/domain"
	"github.com/Rebalancy/agent-contracts/internal/metrics"
)

// Report is the part of a verified attestation report the gate consumes.
type Report struct {
	RTMR3 []byte
}

// Verifier checks a quote against its collateral at now.
type Verifier interface {
	Verify(quote, collateral []byte, now time.Time) (Report, error)
}

// Store holds workers and the approved identity set.
type Store interface {
	PutWorker(ctx context.Context, w domain.Worker) error
	Worker(ctx context.Context, identity string) (domain.Worker, bool, error)
	IsApproved(ctx context.Context, codeIdentity string) (bool, error)
	ApproveIdentity(ctx context.Context, codeIdentity string, at time.Time) error
	RevokeIdentity(ctx context.Context, codeIdentity string) (bool, error)
}

// Registration is a worker's registration request.
type Registration struct {
	Caller     string
	Quote      []byte
	Collateral []byte
	Checksum   string
	TCBInfo    string
}

// Gate is the attestation gate.
type Gate struct {
	store    Store
	verifier Verifier
	now      func() time.Time
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// Option configures a Gate.
type Option func(*Gate)

// WithClock sets the time source used for quote verification.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gate) { g.metrics = m }
}

// New creates a gate over store and verifier.
func New(store Store, verifier Verifier, opts ...Option) *Gate {
	g := &Gate{
		store:    store,
		verifier: verifier,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Register verifies r and binds r.Caller to the derived code identity.
// Re-registration overwrites the caller's previous worker record.
func (g *Gate) Register(ctx context.Context, r Registration) (domain.Worker, error) {
	now := g.now()

	report, err := g.verifier.Verify(r.Quote, r.Collateral, now)
	if err != nil {
		return domain.Worker{}, g.deny("register", newError(CodeQuoteVerificationFailed, r.Caller, "quote is not verified", err))
	}

	info, err := ParseTCBInfo(r.TCBInfo)
	if err != nil {
		return domain.Worker{}, g.deny("register", newError(CodeMeasurementMismatch, r.Caller, "invalid tcb_info", err))
	}
	codeIdentity, err := CodeIdentity(info, report.RTMR3)
	if err != nil {
		return domain.Worker{}, g.deny("register", newError(CodeMeasurementMismatch, r.Caller, "code identity not derivable", err))
	}

	approved, err := g.store.IsApproved(ctx, codeIdentity)
	if err != nil {
		return domain.Worker{}, fmt.Errorf("register: %w", err)
	}
	if !approved {
		e := newError(CodeUnapprovedCodeIdentity, r.Caller, "code identity is not approved", nil)
		e.CodeIdentity = codeIdentity
		return domain.Worker{}, g.deny("register", e)
	}

	w := domain.Worker{
		Identity:     r.Caller,
		Checksum:     r.Checksum,
		CodeIdentity: codeIdentity,
		RegisteredAt: now.UTC(),
	}
	if err := g.store.PutWorker(ctx, w); err != nil {
		return domain.Worker{}, fmt.Errorf("register: %w", err)
	}

	g.metrics.GateDecision("register", "allow")
	g.logger.Info("worker registered", "caller", r.Caller, "code_identity", codeIdentity, "checksum", r.Checksum)
	return w, nil
}

// Authorize returns the caller's worker if its code identity is currently
// approved.
func (g *Gate) Authorize(ctx context.Context, caller string) (domain.Worker, error) {
	w, found, err := g.store.Worker(ctx, caller)
	if err != nil {
		return domain.Worker{}, fmt.Errorf("authorize: %w", err)
	}
	if !found {
		return domain.Worker{}, g.deny("authorize", newError(CodeWorkerNotRegistered, caller, "caller has no worker record", nil))
	}

	approved, err := g.store.IsApproved(ctx, w.CodeIdentity)
	if err != nil {
		return domain.Worker{}, fmt.Errorf("authorize: %w", err)
	}
	if !approved {
		e := newError(CodeUnapprovedCodeIdentity, caller, "code identity is no longer approved", nil)
		e.CodeIdentity = w.CodeIdentity
		return domain.Worker{}, g.deny("authorize", e)
	}

	g.metrics.GateDecision("authorize", "allow")
	return w, nil
}

// Approve adds codeIdentity to the approved set.
func (g *Gate) Approve(ctx context.Context, codeIdentity string) error {
	if err := g.store.ApproveIdentity(ctx, codeIdentity, g.now()); err != nil {
		return err
	}
	g.logger.Info("code identity approved", "code_identity", codeIdentity)
	return nil
}

// Revoke removes codeIdentity from the approved set. Workers bound to it
// fail their next Authorize; their records are kept.
func (g *Gate) Revoke(ctx context.Context, codeIdentity string) (bool, error) {
	removed, err := g.store.RevokeIdentity(ctx, codeIdentity)
	if err != nil {
		return false, err
	}
	if removed {
		g.logger.Info("code identity revoked", "code_identity", codeIdentity)
	}
	return removed, nil
}

// Worker returns the worker bound to identity.
func (g *Gate) Worker(ctx context.Context, identity string) (domain.Worker, bool, error) {
	return g.store.Worker(ctx, identity)
}

func (g *Gate) deny(op string, e *Error) error {
	g.metrics.GateDecision(op, string(e.Code))
	g.logger.Warn("gate denied", "op", op, "caller", e.Caller, "code", e.Code, "error", e.Message)
	return e
}
