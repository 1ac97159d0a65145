package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Rebalancy/agent-contracts/internal/domain"
	"github.com/Rebalancy/agent-contracts/internal/metrics"
	"github.com/Rebalancy/agent-contracts/internal/signer"
	"github.com/Rebalancy/agent-contracts/internal/store"
)

// DefaultOperationsTimeout is how long a session may stay open before the
// next Start evicts it.
const DefaultOperationsTimeout = 30 * time.Minute

// ChainSource resolves chain configuration. Implemented by *store.Store and
// *chainconfig.Registry.
type ChainSource interface {
	ChainConfig(ctx context.Context, id domain.ChainID) (domain.ChainConfig, error)
	IsSupported(ctx context.Context, id domain.ChainID) (bool, error)
}

// Authorizer decides whether caller may drive the engine. Implemented by
// *gate.Gate.
type Authorizer interface {
	Authorize(ctx context.Context, caller string) (domain.Worker, error)
}

// Engine coordinates the single active session, the signing dispatcher and
// the signature caches.
//
// Thread-safety model:
//   - Every operation that reads-then-writes session or cache state holds mu
//     for its whole duration, so operations are atomic with respect to each
//     other.
//   - Signer calls run on their own goroutines and never hold mu. Their
//     outcomes are queued and applied by Run (or Next) under mu.
type Engine struct {
	mu sync.Mutex

	store  *store.Store
	chains ChainSource
	auth   Authorizer
	signer signer.Signer

	clock      Clock
	ids        RequestIDGenerator
	queue      *completionQueue
	pending    map[string]*Pending
	timeout    time.Duration
	keyPath    string
	keyVersion uint32

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithOperationsTimeout sets the session eviction age.
//
// Default: 30 minutes (DefaultOperationsTimeout)
func WithOperationsTimeout(d time.Duration) EngineOption {
	return func(e *Engine) { e.timeout = d }
}

// WithKeyPath sets the logical signing key path and version.
//
// Default: "ethereum-1", version 0
func WithKeyPath(path string, version uint32) EngineOption {
	return func(e *Engine) {
		e.keyPath = path
		e.keyVersion = version
	}
}

// WithClock sets the time source. Default: SystemClock.
func WithClock(c Clock) EngineOption {
	return func(e *Engine) { e.clock = c }
}

// WithRequestIDs sets the request id generator. Default: UUIDv7Generator.
func WithRequestIDs(g RequestIDGenerator) EngineOption {
	return func(e *Engine) { e.ids = g }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics sets the collectors. Default: nil, which records nothing.
func WithMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// New creates an Engine.
//
// chains is consulted for supported chains and step configuration, auth
// gates every mutating call, and s receives every signature request.
func New(st *store.Store, chains ChainSource, auth Authorizer, s signer.Signer, opts ...EngineOption) *Engine {
	e := &Engine{
		store:      st,
		chains:     chains,
		auth:       auth,
		signer:     s,
		clock:      SystemClock{},
		ids:        UUIDv7Generator{},
		queue:      newCompletionQueue(),
		pending:    make(map[string]*Pending),
		timeout:    DefaultOperationsTimeout,
		keyPath:    signer.DefaultKeyPath,
		keyVersion: signer.DefaultKeyVersion,
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Run applies signer completions until ctx is cancelled or Stop is called.
//
// ERROR HANDLING: a rejected completion is logged with its request context
// and processing continues. The rejection has already been delivered to the
// request's Pending handle.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting")

	for {
		if err := e.Next(ctx); err != nil {
			if errors.Is(err, errQueueClosed) {
				e.logger.Info("engine stopping: queue closed")
				return nil
			}
			if ctx.Err() != nil {
				e.logger.Info("engine stopping: context cancelled")
				return ctx.Err()
			}
		}
	}
}

var errQueueClosed = errors.New("completion queue closed")

// Next blocks until one queued completion is available and applies it.
// Returns the completion's rejection, if any.
func (e *Engine) Next(ctx context.Context) error {
	for {
		if c, ok := e.queue.TryDequeue(); ok {
			return e.Complete(c.RequestID, c.Response, c.Err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.queue.Wait():
			// The signal channel closes with the queue, so this fires
			// immediately once stopped.
			if e.queue.Closed() && e.queue.Len() == 0 {
				return errQueueClosed
			}
		}
	}
}

// Stop closes the completion queue, which causes Run to return. Signer
// outcomes arriving afterwards are dropped and logged.
func (e *Engine) Stop() {
	e.queue.Close()
}

// PendingCount returns the number of signature requests awaiting completion.
func (e *Engine) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// ActiveSession returns the current session, if any.
func (e *Engine) ActiveSession(ctx context.Context) (domain.ActiveSession, bool, error) {
	return e.store.ActiveSession(ctx)
}

// ActivityLog returns the log for nonce, if any.
func (e *Engine) ActivityLog(ctx context.Context, nonce uint64) (domain.ActivityLog, bool, error) {
	return e.store.ActivityLog(ctx, nonce)
}

// LatestLogs returns up to count logs, newest first.
func (e *Engine) LatestLogs(ctx context.Context, count int) ([]domain.ActivityLog, error) {
	return e.store.LatestLogs(ctx, count)
}

// Transactions returns the signed payloads logged for nonce; empty if the
// nonce is unknown.
func (e *Engine) Transactions(ctx context.Context, nonce uint64) ([]domain.SignedPayload, error) {
	return e.store.Transactions(ctx, nonce)
}

// Signature returns the cached signed payload for key without re-signing.
func (e *Engine) Signature(ctx context.Context, key domain.CacheKey) (domain.SignedPayload, bool, error) {
	return e.store.SignedPayload(ctx, key)
}

// PayloadHash returns the cached payload hash for key.
func (e *Engine) PayloadHash(ctx context.Context, key domain.CacheKey) (common.Hash, bool, error) {
	return e.store.PayloadHash(ctx, key)
}

func (e *Engine) reject(err *Error) *Error {
	e.metrics.Rejected(string(err.Code))
	return err
}
