// Package domain holds the rebalancer's shared vocabulary: flows, steps,
// sessions, activity logs, workers and chain configuration.
package domain

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ChainID is an EVM chain identifier.
type ChainID uint64

// CacheKey addresses one step of one session in the signature caches.
type CacheKey struct {
	Nonce uint64 `json:"nonce"`
	Step  Step   `json:"step"`
}

func (k CacheKey) String() string {
	return fmt.Sprintf("%d/%s", k.Nonce, k.Step)
}

// ActiveSession is the single in-flight rebalance.
type ActiveSession struct {
	Nonce            uint64    `json:"nonce"`
	Flow             Flow      `json:"flow"`
	SourceChain      ChainID   `json:"source_chain"`
	DestinationChain ChainID   `json:"destination_chain"`
	StartedAt        time.Time `json:"started_at"`

	// Finished is set once every sequence step has a signed payload.
	// The session stays in place until the next Start clears it.
	Finished bool `json:"finished"`
}

// Age returns how long the session has been open at now.
func (s ActiveSession) Age(now time.Time) time.Duration {
	return now.Sub(s.StartedAt)
}

// ActivityLog is the audit record of one session.
type ActivityLog struct {
	Nonce            uint64          `json:"nonce"`
	Flow             Flow            `json:"flow"`
	SourceChain      ChainID         `json:"source_chain"`
	DestinationChain ChainID         `json:"destination_chain"`
	ExpectedAmount   *big.Int        `json:"expected_amount"`
	ActualAmount     *big.Int        `json:"actual_amount,omitempty"`
	StartedAt        time.Time       `json:"started_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	Transactions     []SignedPayload `json:"transactions"`
}

// ReplaceTransaction drops any payload carrying p's tag and appends p.
func (l *ActivityLog) ReplaceTransaction(p SignedPayload) {
	tag, ok := p.Tag()
	if !ok {
		return
	}
	kept := make([]SignedPayload, 0, len(l.Transactions)+1)
	for _, t := range l.Transactions {
		if existing, ok := t.Tag(); ok && existing == tag {
			continue
		}
		kept = append(kept, t)
	}
	l.Transactions = append(kept, p)
}

// SignedPayload is a step tag followed by signed transaction bytes.
type SignedPayload []byte

// NewSignedPayload prefixes signedTx with step's tag.
func NewSignedPayload(step Step, signedTx []byte) SignedPayload {
	p := make(SignedPayload, 0, len(signedTx)+1)
	p = append(p, step.Tag())
	return append(p, signedTx...)
}

// Tag returns the leading tag byte.
func (p SignedPayload) Tag() (byte, bool) {
	if len(p) == 0 {
		return 0, false
	}
	return p[0], true
}

// Step decodes the leading tag.
func (p SignedPayload) Step() (Step, error) {
	tag, ok := p.Tag()
	if !ok {
		return 0, fmt.Errorf("empty signed payload")
	}
	return StepFromTag(tag)
}

// Transaction returns the signed transaction bytes without the tag.
func (p SignedPayload) Transaction() []byte {
	if len(p) == 0 {
		return nil
	}
	return p[1:]
}

func (p SignedPayload) MarshalText() ([]byte, error) {
	return hexutil.Bytes(p).MarshalText()
}

func (p *SignedPayload) UnmarshalText(text []byte) error {
	var b hexutil.Bytes
	if err := b.UnmarshalText(text); err != nil {
		return err
	}
	*p = SignedPayload(b)
	return nil
}

func (p SignedPayload) String() string {
	return hexutil.Encode(p)
}

// Worker binds a caller identity to an attested code identity.
type Worker struct {
	Identity     string    `json:"identity"`
	Checksum     string    `json:"checksum"`
	CodeIdentity string    `json:"code_identity"`
	RegisteredAt time.Time `json:"registered_at"`
}
