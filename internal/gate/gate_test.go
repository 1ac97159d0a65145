package gate_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rebalancy/agent-contracts/internal/gate"
	"github.com/Rebalancy/agent-contracts/internal/metrics"
	"github.com/Rebalancy/agent-contracts/internal/store"
	tu "github.com/Rebalancy/agent-contracts/internal/testutil"
)

type fixture struct {
	gate     *gate.Gate
	store    *store.Store
	verifier *tu.FakeVerifier
	clock    *tu.ManualClock
	metrics  *metrics.Metrics
	att      tu.Attestation
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "gate.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	att := tu.NewAttestation(`{"services":{"agent":{"image":"rebalancer:1.4.0"}}}`)
	clock := tu.NewManualClock(tu.Epoch)
	m := metrics.New(prometheus.NewRegistry())
	v := tu.NewFakeVerifier(att)

	return &fixture{
		gate:     gate.New(st, v, gate.WithClock(clock.Now), gate.WithMetrics(m)),
		store:    st,
		verifier: v,
		clock:    clock,
		metrics:  m,
		att:      att,
	}
}

func TestRegister_Unapproved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.gate.Register(ctx, f.att.Registration("agent.near", "sha256:abc"))
	require.ErrorIs(t, err, gate.ErrUnapprovedCodeIdentity)

	var ge *gate.Error
	require.True(t, errors.As(err, &ge))
	assert.Equal(t, f.att.CodeIdentity, ge.CodeIdentity)
	assert.Equal(t, "agent.near", ge.Caller)

	_, found, err := f.store.Worker(ctx, "agent.near")
	require.NoError(t, err)
	assert.False(t, found, "rejected registration must not store a worker")

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.GateDecisions.WithLabelValues("register", string(gate.CodeUnapprovedCodeIdentity))))
}

func TestRegister_Approved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.gate.Approve(ctx, f.att.CodeIdentity))

	w, err := f.gate.Register(ctx, f.att.Registration("agent.near", "sha256:abc"))
	require.NoError(t, err)
	assert.Equal(t, "agent.near", w.Identity)
	assert.Equal(t, "sha256:abc", w.Checksum)
	assert.Equal(t, f.att.CodeIdentity, w.CodeIdentity)
	assert.Equal(t, tu.Epoch, w.RegisteredAt)

	stored, found, err := f.gate.Worker(ctx, "agent.near")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, w, stored)

	assert.Equal(t, []time.Time{tu.Epoch}, f.verifier.Times())
}

func TestRegister_QuoteRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.gate.Approve(ctx, f.att.CodeIdentity))

	reg := f.att.Registration("agent.near", "sha256:abc")
	reg.Quote = []byte("forged")

	_, err := f.gate.Register(ctx, reg)
	assert.ErrorIs(t, err, gate.ErrQuoteVerificationFailed)
	assert.ErrorIs(t, err, tu.ErrUnknownQuote)

	_, found, err := f.store.Worker(ctx, "agent.near")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRegister_MeasurementMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.gate.Approve(ctx, f.att.CodeIdentity))

	other := tu.NewAttestation("a different compose file")

	tests := []struct {
		name    string
		tcbInfo string
	}{
		{name: "event log of another app", tcbInfo: other.TCBInfo},
		{name: "unparseable", tcbInfo: "{"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := f.att.Registration("agent.near", "sha256:abc")
			reg.TCBInfo = tt.tcbInfo

			_, err := f.gate.Register(ctx, reg)
			assert.ErrorIs(t, err, gate.ErrMeasurementMismatch)
		})
	}
}

func rewriteTCBInfo(t *testing.T, raw string, edit func(*gate.TCBInfo)) string {
	t.Helper()
	info, err := gate.ParseTCBInfo(raw)
	require.NoError(t, err)
	edit(&info)
	out, err := json.Marshal(info)
	require.NoError(t, err)
	return string(out)
}

func TestRegister_RewrittenComposePayload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sum := sha256.Sum256([]byte("someone else's app"))
	forged := hex.EncodeToString(sum[:])
	require.NoError(t, f.gate.Approve(ctx, forged))

	tests := []struct {
		name string
		edit func(*gate.TCBInfo)
	}{
		{
			name: "payload rewritten and app compose dropped",
			edit: func(info *gate.TCBInfo) {
				info.AppCompose = ""
				for i := range info.EventLog {
					if info.EventLog[i].Event == "compose-hash" {
						info.EventLog[i].EventPayload = forged
					}
				}
			},
		},
		{
			name: "payload and app compose rewritten",
			edit: func(info *gate.TCBInfo) {
				info.AppCompose = "someone else's app"
				for i := range info.EventLog {
					if info.EventLog[i].Event == "compose-hash" {
						info.EventLog[i].EventPayload = forged
					}
				}
			},
		},
		{
			name: "app compose dropped",
			edit: func(info *gate.TCBInfo) { info.AppCompose = "" },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := f.att.Registration("attacker.near", "sha256:abc")
			reg.TCBInfo = rewriteTCBInfo(t, f.att.TCBInfo, tt.edit)

			_, err := f.gate.Register(ctx, reg)
			require.ErrorIs(t, err, gate.ErrMeasurementMismatch)

			_, found, err := f.store.Worker(ctx, "attacker.near")
			require.NoError(t, err)
			assert.False(t, found)
		})
	}
}

func TestRegister_ComposeHashOnlyFromIMR3(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sum := sha256.Sum256([]byte("someone else's app"))
	forged := hex.EncodeToString(sum[:])
	require.NoError(t, f.gate.Approve(ctx, forged))

	reg := f.att.Registration("attacker.near", "sha256:abc")
	reg.TCBInfo = rewriteTCBInfo(t, f.att.TCBInfo, func(info *gate.TCBInfo) {
		early := gate.Event{
			IMR:          0,
			Digest:       hex.EncodeToString(gate.EventDigest("compose-hash", forged)),
			Event:        "compose-hash",
			EventPayload: forged,
		}
		info.EventLog = append([]gate.Event{early}, info.EventLog...)
	})

	_, err := f.gate.Register(ctx, reg)
	require.ErrorIs(t, err, gate.ErrUnapprovedCodeIdentity)

	var ge *gate.Error
	require.True(t, errors.As(err, &ge))
	assert.Equal(t, f.att.CodeIdentity, ge.CodeIdentity, "identity comes from the measured imr 3 event")
}

func TestAuthorize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.gate.Authorize(ctx, "stranger.near")
	assert.ErrorIs(t, err, gate.ErrWorkerNotRegistered)

	require.NoError(t, f.gate.Approve(ctx, f.att.CodeIdentity))
	_, err = f.gate.Register(ctx, f.att.Registration("agent.near", "sha256:abc"))
	require.NoError(t, err)

	w, err := f.gate.Authorize(ctx, "agent.near")
	require.NoError(t, err)
	assert.Equal(t, f.att.CodeIdentity, w.CodeIdentity)
}

func TestRevoke_TakesEffectOnNextAuthorize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.gate.Approve(ctx, f.att.CodeIdentity))
	_, err := f.gate.Register(ctx, f.att.Registration("agent.near", "sha256:abc"))
	require.NoError(t, err)
	_, err = f.gate.Authorize(ctx, "agent.near")
	require.NoError(t, err)

	removed, err := f.gate.Revoke(ctx, "0x"+f.att.CodeIdentity)
	require.NoError(t, err)
	assert.True(t, removed)

	_, err = f.gate.Authorize(ctx, "agent.near")
	assert.ErrorIs(t, err, gate.ErrUnapprovedCodeIdentity)

	// The worker record survives; re-approval restores access.
	_, found, err := f.gate.Worker(ctx, "agent.near")
	require.NoError(t, err)
	assert.True(t, found)

	require.NoError(t, f.gate.Approve(ctx, f.att.CodeIdentity))
	_, err = f.gate.Authorize(ctx, "agent.near")
	assert.NoError(t, err)

	removed, err = f.gate.Revoke(ctx, "ffff")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestReregistration_Overwrites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	next := tu.NewAttestation("compose v2")
	f.verifier.Trust(next)
	require.NoError(t, f.gate.Approve(ctx, f.att.CodeIdentity))
	require.NoError(t, f.gate.Approve(ctx, next.CodeIdentity))

	_, err := f.gate.Register(ctx, f.att.Registration("agent.near", "sha256:v1"))
	require.NoError(t, err)

	f.clock.Advance(1)
	w, err := f.gate.Register(ctx, next.Registration("agent.near", "sha256:v2"))
	require.NoError(t, err)

	stored, _, err := f.gate.Worker(ctx, "agent.near")
	require.NoError(t, err)
	assert.Equal(t, w, stored)
	assert.Equal(t, next.CodeIdentity, stored.CodeIdentity)
	assert.Equal(t, "sha256:v2", stored.Checksum)
}
