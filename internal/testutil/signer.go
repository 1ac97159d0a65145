package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Rebalancy/agent-contracts/internal/signer"
)

// DevRoot is the root secret of the signer returned by NewLocalSigner.
const DevRoot = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

// NewLocalSigner returns a signer.Local over DevRoot. It panics on error,
// which can only mean DevRoot was edited into something invalid.
func NewLocalSigner() *signer.Local {
	l, err := signer.NewLocal(DevRoot)
	if err != nil {
		panic(fmt.Sprintf("testutil: dev signer: %v", err))
	}
	return l
}

type outcome struct {
	release bool
	resp    signer.Response
	err     error
}

// HoldingSigner blocks every Sign call until the test decides its outcome.
//
// Outcomes are keyed by payload hash. Release signs with a real local key,
// Fail returns an error and Respond returns a canned response. An outcome
// may be decided before or after the Sign call arrives; each one is
// consumed by exactly one Sign call.
//
// Thread-safety: safe for concurrent use.
type HoldingSigner struct {
	inner *signer.Local

	mu       sync.Mutex
	slots    map[common.Hash]chan outcome
	requests []signer.Request
	arrived  chan signer.Request
}

// NewHoldingSigner creates a holding signer backed by NewLocalSigner.
func NewHoldingSigner() *HoldingSigner {
	return &HoldingSigner{
		inner:   NewLocalSigner(),
		slots:   make(map[common.Hash]chan outcome),
		arrived: make(chan signer.Request, 64),
	}
}

// Sign records req and waits for its outcome or ctx.
func (s *HoldingSigner) Sign(ctx context.Context, req signer.Request) (signer.Response, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	ch := s.slotLocked(req.PayloadHash)
	s.mu.Unlock()

	select {
	case s.arrived <- req:
	default:
	}

	select {
	case o := <-ch:
		if o.release {
			return s.inner.Sign(ctx, req)
		}
		return o.resp, o.err
	case <-ctx.Done():
		return signer.Response{}, ctx.Err()
	}
}

// Release lets the request for hash be signed by the local key.
func (s *HoldingSigner) Release(hash common.Hash) {
	s.slot(hash) <- outcome{release: true}
}

// Fail makes the request for hash return err.
func (s *HoldingSigner) Fail(hash common.Hash, err error) {
	s.slot(hash) <- outcome{err: err}
}

// Respond makes the request for hash return resp.
func (s *HoldingSigner) Respond(hash common.Hash, resp signer.Response) {
	s.slot(hash) <- outcome{resp: resp}
}

// Arrived delivers requests as they reach Sign. Buffered; extra arrivals
// beyond the buffer are not delivered but are still recorded.
func (s *HoldingSigner) Arrived() <-chan signer.Request {
	return s.arrived
}

// Requests returns every request seen so far, in arrival order.
func (s *HoldingSigner) Requests() []signer.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]signer.Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// Address returns the address whose key Release signs with.
func (s *HoldingSigner) Address(path string, version uint32) (common.Address, error) {
	return s.inner.Address(path, version)
}

func (s *HoldingSigner) slot(hash common.Hash) chan outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slotLocked(hash)
}

func (s *HoldingSigner) slotLocked(hash common.Hash) chan outcome {
	ch, ok := s.slots[hash]
	if !ok {
		ch = make(chan outcome, 1)
		s.slots[hash] = ch
	}
	return ch
}
