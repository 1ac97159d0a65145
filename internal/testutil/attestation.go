package testutil

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Rebalancy/agent-contracts/internal/gate"
)

// ErrUnknownQuote is returned by FakeVerifier for quotes it was not given.
var ErrUnknownQuote = errors.New("quote signature invalid")

// Attestation is a self-consistent set of registration inputs: a quote the
// FakeVerifier accepts, the RTMR3 it reports and a tcb_info whose event log
// replays to it.
type Attestation struct {
	Quote        []byte
	Collateral   []byte
	RTMR3        []byte
	TCBInfo      string
	AppCompose   string
	CodeIdentity string
}

// NewAttestation builds an attestation for the given app compose document.
// The code identity is its SHA-256, hex encoded.
func NewAttestation(appCompose string) Attestation {
	sum := sha256.Sum256([]byte(appCompose))
	identity := hex.EncodeToString(sum[:])

	events := []gate.Event{
		event(0, "boot", "firmware"),
		event(3, "system-preparing", ""),
		event(3, "app-id", "5a1fa3a4b08f1b6c"),
		event(3, "compose-hash", identity),
		event(3, "instance-id", "7f0e"),
		event(3, "boot-mr-done", ""),
	}
	rtmr3, err := gate.ReplayRTMR3(events)
	if err != nil {
		panic(fmt.Sprintf("testutil: replay: %v", err))
	}

	info := gate.TCBInfo{
		RTMR3:      hex.EncodeToString(rtmr3),
		AppCompose: appCompose,
		EventLog:   events,
	}
	raw, err := json.Marshal(info)
	if err != nil {
		panic(fmt.Sprintf("testutil: tcb_info: %v", err))
	}

	return Attestation{
		Quote:        []byte("quote:" + identity),
		Collateral:   []byte("collateral"),
		RTMR3:        rtmr3,
		TCBInfo:      string(raw),
		AppCompose:   appCompose,
		CodeIdentity: identity,
	}
}

// Registration returns the gate registration of caller using a.
func (a Attestation) Registration(caller, checksum string) gate.Registration {
	return gate.Registration{
		Caller:     caller,
		Quote:      a.Quote,
		Collateral: a.Collateral,
		Checksum:   checksum,
		TCBInfo:    a.TCBInfo,
	}
}

func event(imr uint32, name, payload string) gate.Event {
	return gate.Event{
		IMR:          imr,
		EventType:    0x08000001,
		Digest:       hex.EncodeToString(gate.EventDigest(name, payload)),
		Event:        name,
		EventPayload: payload,
	}
}

// FakeVerifier accepts the quotes of attestations it was given.
//
// Thread-safety: safe for concurrent use.
type FakeVerifier struct {
	mu      sync.Mutex
	reports map[string]gate.Report
	err     error
	seen    []time.Time
}

// NewFakeVerifier creates a verifier trusting attestations.
func NewFakeVerifier(attestations ...Attestation) *FakeVerifier {
	v := &FakeVerifier{reports: make(map[string]gate.Report)}
	for _, a := range attestations {
		v.Trust(a)
	}
	return v
}

// Trust makes a's quote verify.
func (v *FakeVerifier) Trust(a Attestation) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.reports[string(a.Quote)] = gate.Report{RTMR3: a.RTMR3}
}

// FailWith makes every verification fail with err; nil restores normal
// behaviour.
func (v *FakeVerifier) FailWith(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.err = err
}

// Verify implements gate.Verifier.
func (v *FakeVerifier) Verify(quote, _ []byte, now time.Time) (gate.Report, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.seen = append(v.seen, now)

	if v.err != nil {
		return gate.Report{}, v.err
	}
	r, ok := v.reports[string(quote)]
	if !ok {
		return gate.Report{}, ErrUnknownQuote
	}
	return r, nil
}

// Times returns the verification times passed to Verify.
func (v *FakeVerifier) Times() []time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]time.Time, len(v.seen))
	copy(out, v.seen)
	return out
}
