package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/Rebalancy/agent-contracts/internal/chainconfig"
	"github.com/Rebalancy/agent-contracts/internal/domain"
	"github.com/Rebalancy/agent-contracts/internal/metrics"
	"github.com/Rebalancy/agent-contracts/internal/signer"
	"github.com/Rebalancy/agent-contracts/internal/store"
	"github.com/Rebalancy/agent-contracts/internal/txbuilder"
)

// StepRequest asks for one step of the active session to be built and signed.
type StepRequest struct {
	Args txbuilder.StepArgs
	Tx   txbuilder.Partial
}

// Result is the outcome of a signature request.
//
// On success a step request carries Payload (tag || signed transaction) and a
// snapshot request carries Signature (r || s || v). On failure both are
// empty and Err says why.
type Result struct {
	Payload   domain.SignedPayload
	Signature []byte
	Err       error
}

// Pending is the handle of an in-flight signature request.
type Pending struct {
	ID   string
	Hash common.Hash

	// Key is the cache slot of a step request; zero for snapshots.
	Key domain.CacheKey

	snapshot bool
	tx       *types.Transaction
	issuedAt time.Time

	done   chan struct{}
	result Result
}

// Done is closed once the request has a result.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Result returns the outcome and whether it is available yet.
func (p *Pending) Result() (Result, bool) {
	select {
	case <-p.done:
		return p.result, true
	default:
		return Result{}, false
	}
}

// Wait blocks until the request resolves or ctx ends. The returned error is
// the request's failure, or ctx's.
func (p *Pending) Wait(ctx context.Context) (Result, error) {
	select {
	case <-p.done:
		return p.result, p.result.Err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// IsSnapshot reports whether the request signs a balance snapshot.
func (p *Pending) IsSnapshot() bool {
	return p.snapshot
}

func (p *Pending) resolve(r Result) {
	p.result = r
	close(p.done)
}

// RequestStep validates req against the active session, builds the unsigned
// transaction and dispatches it to the signer. Every validation failure is
// returned before the signer is called.
//
// Checks run in this order: authorization, active session, flow membership,
// finished flow, target chain, build, identical cached hash, step order.
// Auxiliary steps (approvals, balance updates) skip the step order check.
func (e *Engine) RequestStep(ctx context.Context, caller string, req StepRequest) (*Pending, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.auth.Authorize(ctx, caller); err != nil {
		return nil, err
	}
	if req.Args == nil {
		return nil, e.reject(newError(CodeInvalidArgument, "missing step arguments"))
	}
	step := req.Args.Step()

	session, found, err := e.store.ActiveSession(ctx)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, e.reject(newError(CodeNoActiveSession, "start a session first"))
	}
	if !session.Flow.Permits(step) {
		return nil, e.reject(newError(CodeStepNotInFlow, fmt.Sprintf("flow %s does not use this step", session.Flow)).at(session.Nonce, step))
	}
	if session.Finished {
		return nil, e.reject(newError(CodeFlowAlreadyFinished, "every step of the flow is signed").at(session.Nonce, step))
	}

	chain, _ := session.Flow.ChainFor(step, session.SourceChain, session.DestinationChain)
	if domain.ChainID(req.Tx.ChainID) != chain {
		return nil, e.reject(newError(CodeChainMismatch, fmt.Sprintf("step targets chain %d, transaction is for chain %d", chain, req.Tx.ChainID)).
			at(session.Nonce, step))
	}
	cfg, err := e.chains.ChainConfig(ctx, chain)
	if errors.Is(err, chainconfig.ErrNotConfigured) {
		return nil, e.reject(newError(CodeChainNotConfigured, fmt.Sprintf("chain %d has no configuration", chain)).at(session.Nonce, step).wrap(err))
	}
	if err != nil {
		return nil, err
	}

	tx, berr := buildTx(req, cfg)
	if berr != nil {
		return nil, e.reject(berr.at(session.Nonce, step))
	}
	hash := txbuilder.PayloadHash(tx)
	key := domain.CacheKey{Nonce: session.Nonce, Step: step}

	prev, cached, err := e.store.PayloadHash(ctx, key)
	if err != nil {
		return nil, err
	}
	if cached && prev == hash {
		return nil, e.reject(newError(CodeSignatureAlreadyCached, "read the cached signature instead").
			at(session.Nonce, step).
			with("payload_hash", hash.Hex()))
	}

	if session.Flow.InSequence(step) {
		if err := e.assertStepIsNext(ctx, session, step); err != nil {
			return nil, e.observe(err)
		}
	}

	p := e.dispatch(ctx, &Pending{Hash: hash, Key: key, tx: tx})
	e.logger.Info("signature requested",
		"request_id", p.ID,
		"nonce", key.Nonce,
		"step", step,
		"chain_id", chain,
		"payload_hash", hash.Hex(),
	)
	return p, nil
}

// SignBalanceSnapshot requests a signature over the vault's cross-chain
// balance snapshot digest. No session is needed and nothing is cached; the
// result's Signature is r || s || v.
func (e *Engine) SignBalanceSnapshot(ctx context.Context, caller string, snap txbuilder.Snapshot) (*Pending, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.auth.Authorize(ctx, caller); err != nil {
		return nil, err
	}

	digest, err := txbuilder.SnapshotDigest(snap)
	if err != nil {
		return nil, e.reject(builderError(err))
	}

	p := e.dispatch(ctx, &Pending{Hash: digest, snapshot: true})
	e.logger.Info("snapshot signature requested",
		"request_id", p.ID,
		"chain_id", snap.ChainID,
		"digest", digest.Hex(),
	)
	return p, nil
}

// dispatch registers p and hands its hash to the signer on a new goroutine.
// Caller must hold mu.
func (e *Engine) dispatch(ctx context.Context, p *Pending) *Pending {
	p.ID = e.ids.Generate()
	p.issuedAt = e.clock.Now()
	p.done = make(chan struct{})
	e.pending[p.ID] = p

	label := "snapshot"
	if !p.snapshot {
		label = p.Key.Step.String()
	}
	e.metrics.SignDispatched(label)

	req := signer.Request{PayloadHash: p.Hash, Path: e.keyPath, KeyVersion: e.keyVersion}
	signCtx := context.WithoutCancel(ctx)
	go func() {
		resp, err := e.signer.Sign(signCtx, req)
		if !e.queue.Enqueue(completion{RequestID: p.ID, Response: resp, Err: err}) {
			e.logger.Warn("signer completion dropped: engine stopped", "request_id", p.ID)
		}
	}()
	return p
}

// Complete applies a signer outcome to the request it answers. It is the
// second phase of every dispatch and re-validates what the first phase
// checked, since other calls may have been accepted in between.
//
// A completion for a superseded session, an out-of-order step, a signer
// failure or a malformed signature resolves the request with an error and
// leaves the caches and logs untouched. The same error is returned.
func (e *Engine) Complete(requestID string, resp signer.Response, signErr error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ctx := context.Background()

	p, ok := e.pending[requestID]
	if !ok {
		err := newError(CodeUnknownRequest, "no pending request with this id").with("request_id", requestID)
		e.logger.Warn("completion for unknown request", "request_id", requestID)
		return e.reject(err)
	}
	delete(e.pending, requestID)

	res, err := e.apply(ctx, p, resp, signErr)
	if err != nil {
		res = Result{Err: err}
	}

	outcome := metrics.OutcomeSigned
	switch {
	case errors.Is(err, ErrSignerFailed):
		outcome = metrics.OutcomeSignerFailed
	case err != nil:
		outcome = metrics.OutcomeRejected
		e.observe(err)
	}
	label := "snapshot"
	if !p.snapshot {
		label = p.Key.Step.String()
	}
	e.metrics.SignCompleted(label, outcome, e.clock.Now().Sub(p.issuedAt))

	if err != nil {
		e.logCompletionError(p, err)
	}
	p.resolve(res)
	return err
}

func (e *Engine) apply(ctx context.Context, p *Pending, resp signer.Response, signErr error) (Result, error) {
	if p.snapshot {
		if signErr != nil {
			return Result{}, newError(CodeSignerFailed, "signer request failed").wrap(signErr)
		}
		sig, err := signer.Assemble(resp)
		if err != nil {
			return Result{}, newError(CodeMalformedSignatureComponents, "invalid signer response").wrap(err)
		}
		e.logger.Info("snapshot signed", "request_id", p.ID, "digest", p.Hash.Hex())
		return Result{Signature: sig.Bytes()}, nil
	}

	nonce, step := p.Key.Nonce, p.Key.Step

	session, found, err := e.store.ActiveSession(ctx)
	if err != nil {
		return Result{}, err
	}
	if !found || session.Nonce != nonce {
		err := newError(CodeSessionNonceMismatch, "session changed while the signature was pending").at(nonce, step)
		if found {
			err = err.with("active_nonce", fmt.Sprint(session.Nonce))
		}
		return Result{}, err
	}
	if session.Finished {
		return Result{}, newError(CodeFlowAlreadyFinished, "flow finished while the signature was pending").at(nonce, step)
	}

	if session.Flow.InSequence(step) {
		if err := e.assertStepIsNext(ctx, session, step); err != nil {
			return Result{}, err
		}
	}

	if signErr != nil {
		return Result{}, newError(CodeSignerFailed, "signer request failed; the step can be retried").at(nonce, step).wrap(signErr)
	}

	sig, err := signer.Assemble(resp)
	if err != nil {
		return Result{}, newError(CodeMalformedSignatureComponents, "invalid signer response").at(nonce, step).wrap(err)
	}
	raw, err := txbuilder.SignedBytes(p.tx, sig.Bytes())
	if err != nil {
		return Result{}, newError(CodeMalformedSignatureComponents, "signature does not fit the transaction").at(nonce, step).wrap(err)
	}
	payload := domain.NewSignedPayload(step, raw)

	finish := false
	if session.Flow.InSequence(step) {
		signed, err := e.store.SignedSteps(ctx, nonce)
		if err != nil {
			return Result{}, err
		}
		_, more := nextStep(session.Flow, append(signed, step))
		finish = !more
	}

	if err := e.store.RecordSignature(ctx, store.SignatureRecord{
		Key:     p.Key,
		Hash:    p.Hash,
		Payload: payload,
		At:      e.clock.Now(),
		Finish:  finish,
	}); err != nil {
		return Result{}, fmt.Errorf("record signature: %w", err)
	}

	e.logger.Info("step signed",
		"request_id", p.ID,
		"nonce", nonce,
		"step", step,
		"payload_hash", p.Hash.Hex(),
		"finished", finish,
	)
	if finish {
		e.logger.Info("flow finished", "nonce", nonce, "flow", session.Flow)
	}
	return Result{Payload: payload}, nil
}

// buildTx runs the pure builder and maps its errors to engine codes.
func buildTx(req StepRequest, cfg domain.ChainConfig) (*types.Transaction, *Error) {
	call, err := txbuilder.Build(req.Args, cfg)
	if err != nil {
		return nil, builderError(err)
	}
	tx, err := txbuilder.Unsigned(req.Tx, call)
	if err != nil {
		return nil, builderError(err)
	}
	return tx, nil
}

func builderError(err error) *Error {
	if errors.Is(err, txbuilder.ErrMalformedAddress) {
		return newError(CodeMalformedAddress, "address argument does not parse").wrap(err)
	}
	return newError(CodeInvalidArgument, "transaction arguments rejected").wrap(err)
}

// observe counts err if it is an engine rejection.
func (e *Engine) observe(err error) error {
	var ee *Error
	if errors.As(err, &ee) {
		e.metrics.Rejected(string(ee.Code))
	}
	return err
}

func (e *Engine) logCompletionError(p *Pending, err error) {
	attrs := []any{
		"error", err,
		"request_id", p.ID,
		"payload_hash", p.Hash.Hex(),
	}
	if p.snapshot {
		attrs = append(attrs, "kind", "snapshot")
	} else {
		attrs = append(attrs, "nonce", p.Key.Nonce, "step", p.Key.Step)
	}

	switch {
	case errors.Is(err, ErrSignerFailed):
		e.logger.Error("signer failed; returning empty result", attrs...)
	case errors.Is(err, ErrSessionNonceMismatch):
		e.logger.Warn("late completion ignored", attrs...)
	default:
		e.logger.Error("completion rejected", attrs...)
	}
}
