package engine

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/Rebalancy/agent-contracts/internal/domain"
	"github.com/Rebalancy/agent-contracts/internal/metrics"
	"github.com/Rebalancy/agent-contracts/internal/store"
)

// Start opens a session for flow moving expected from src to dst and
// returns it. A stale session (timed out or finished) is cleared first.
func (e *Engine) Start(ctx context.Context, caller string, flow domain.Flow, src, dst domain.ChainID, expected *big.Int) (domain.ActiveSession, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.auth.Authorize(ctx, caller); err != nil {
		return domain.ActiveSession{}, err
	}

	if err := e.clearIfStale(ctx); err != nil {
		return domain.ActiveSession{}, err
	}

	if _, found, err := e.store.ActiveSession(ctx); err != nil {
		return domain.ActiveSession{}, err
	} else if found {
		return domain.ActiveSession{}, e.reject(newError(CodeSessionAlreadyActive, "another session is in progress"))
	}

	if !flow.Valid() {
		return domain.ActiveSession{}, e.reject(newError(CodeInvalidArgument, fmt.Sprintf("unknown flow %s", flow)))
	}
	if expected == nil || expected.Sign() < 0 {
		return domain.ActiveSession{}, e.reject(newError(CodeInvalidArgument, "expected amount must be non-negative"))
	}
	for _, id := range []domain.ChainID{src, dst} {
		ok, err := e.chains.IsSupported(ctx, id)
		if err != nil {
			return domain.ActiveSession{}, err
		}
		if !ok {
			return domain.ActiveSession{}, e.reject(newError(CodeUnsupportedChain, fmt.Sprintf("chain %d is not supported", id)).
				with("chain_id", fmt.Sprint(id)))
		}
	}

	session, err := e.store.StartSession(ctx, store.NewSession{
		Flow:             flow,
		SourceChain:      src,
		DestinationChain: dst,
		ExpectedAmount:   new(big.Int).Set(expected),
		StartedAt:        e.clock.Now(),
	})
	if errors.Is(err, store.ErrSessionActive) {
		return domain.ActiveSession{}, e.reject(newError(CodeSessionAlreadyActive, "another session is in progress"))
	}
	if err != nil {
		return domain.ActiveSession{}, fmt.Errorf("start session: %w", err)
	}

	e.metrics.SessionStarted(flow.String())
	e.logger.Info("session started",
		"nonce", session.Nonce,
		"flow", flow,
		"source_chain", src,
		"destination_chain", dst,
		"expected_amount", expected,
	)
	return session, nil
}

// CompleteSession records the actual amount moved and closes the session.
// Returns the closed session's nonce.
func (e *Engine) CompleteSession(ctx context.Context, caller string, actual *big.Int) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.auth.Authorize(ctx, caller); err != nil {
		return 0, err
	}
	if actual == nil || actual.Sign() < 0 {
		return 0, e.reject(newError(CodeInvalidArgument, "actual amount must be non-negative"))
	}

	session, found, err := e.store.ActiveSession(ctx)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, e.reject(newError(CodeNoActiveSession, "no session to complete"))
	}

	if err := e.store.CompleteSession(ctx, session.Nonce, actual, e.clock.Now()); err != nil {
		return 0, fmt.Errorf("complete session: %w", err)
	}

	e.metrics.SessionClosed(metrics.CloseCompleted)
	e.logger.Info("session completed", "nonce", session.Nonce, "actual_amount", actual)
	return session.Nonce, nil
}

// AbortSession closes the session without recording an outcome. Its log is
// kept. Returns the aborted session's nonce.
func (e *Engine) AbortSession(ctx context.Context, caller string) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.auth.Authorize(ctx, caller); err != nil {
		return 0, err
	}

	session, found, err := e.store.ClearSession(ctx, false)
	if err != nil {
		return 0, fmt.Errorf("abort session: %w", err)
	}
	if !found {
		return 0, e.reject(newError(CodeNoActiveSession, "no session to abort"))
	}

	e.metrics.SessionClosed(metrics.CloseAborted)
	e.logger.Info("session aborted", "nonce", session.Nonce)
	return session.Nonce, nil
}

// clearIfStale evicts a finished session (keeping its log) or a session
// whose age has reached the operations timeout (dropping its log).
// Caller must hold mu.
func (e *Engine) clearIfStale(ctx context.Context) error {
	session, found, err := e.store.ActiveSession(ctx)
	if err != nil || !found {
		return err
	}

	switch {
	case session.Finished:
		if _, _, err := e.store.ClearSession(ctx, false); err != nil {
			return fmt.Errorf("clear finished session: %w", err)
		}
		e.metrics.SessionClosed(metrics.CloseFinished)
		e.logger.Info("finished session cleared", "nonce", session.Nonce)

	case session.Age(e.clock.Now()) >= e.timeout:
		if _, _, err := e.store.ClearSession(ctx, true); err != nil {
			return fmt.Errorf("clear timed out session: %w", err)
		}
		e.metrics.SessionClosed(metrics.CloseTimedOut)
		e.logger.Warn("session timed out and cleared",
			"nonce", session.Nonce,
			"started_at", session.StartedAt,
			"timeout", e.timeout,
		)
	}
	return nil
}

// assertStepIsNext checks step against the first sequence step of session
// that has no signed payload. Caller must hold mu.
func (e *Engine) assertStepIsNext(ctx context.Context, session domain.ActiveSession, step domain.Step) error {
	signed, err := e.store.SignedSteps(ctx, session.Nonce)
	if err != nil {
		return err
	}
	expected, ok := nextStep(session.Flow, signed)
	if !ok {
		return newError(CodeFlowAlreadyFinished, "every step of the flow is signed").at(session.Nonce, step)
	}
	if expected != step {
		return newError(CodeWrongStepOrder, fmt.Sprintf("expected %s", expected)).
			at(session.Nonce, step).
			with("expected", expected.String())
	}
	return nil
}

// nextStep returns the first step of flow's sequence not in signed.
func nextStep(flow domain.Flow, signed []domain.Step) (domain.Step, bool) {
	have := make(map[domain.Step]bool, len(signed))
	for _, s := range signed {
		have[s] = true
	}
	for _, s := range flow.Sequence() {
		if !have[s] {
			return s, true
		}
	}
	return 0, false
}
