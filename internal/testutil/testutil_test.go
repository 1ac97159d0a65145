package testutil

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rebalancy/agent-contracts/internal/gate"
	"github.com/Rebalancy/agent-contracts/internal/signer"
)

func TestManualClock(t *testing.T) {
	c := NewManualClock(time.Time{})
	assert.Equal(t, Epoch, c.Now())

	got := c.Advance(90 * time.Second)
	assert.Equal(t, Epoch.Add(90*time.Second), got)
	assert.Equal(t, got, c.Now())

	later := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.Set(later)
	assert.Equal(t, later, c.Now())
}

func TestSequentialIDs(t *testing.T) {
	g := NewSequentialIDs("")
	assert.Equal(t, "req-1", g.Generate())
	assert.Equal(t, "req-2", g.Generate())

	g = NewSequentialIDs("snap")
	assert.Equal(t, "snap-1", g.Generate())
}

func TestHoldingSigner_ReleaseSignsWithLocalKey(t *testing.T) {
	s := NewHoldingSigner()
	hash := common.HexToHash("0x01")
	req := signer.Request{PayloadHash: hash, Path: signer.DefaultKeyPath}

	s.Release(hash)
	resp, err := s.Sign(context.Background(), req)
	require.NoError(t, err)

	sig, err := signer.Assemble(resp)
	require.NoError(t, err)
	addr, err := signer.Recover(hash, sig.Bytes())
	require.NoError(t, err)
	want, err := s.Address(signer.DefaultKeyPath, 0)
	require.NoError(t, err)
	assert.Equal(t, want, addr)
	assert.Len(t, s.Requests(), 1)
}

func TestHoldingSigner_BlocksUntilDecided(t *testing.T) {
	s := NewHoldingSigner()
	hash := common.HexToHash("0x02")
	boom := errors.New("boom")

	done := make(chan error, 1)
	go func() {
		_, err := s.Sign(context.Background(), signer.Request{PayloadHash: hash})
		done <- err
	}()

	select {
	case req := <-s.Arrived():
		assert.Equal(t, hash, req.PayloadHash)
	case <-time.After(time.Second):
		t.Fatal("request did not arrive")
	}

	select {
	case <-done:
		t.Fatal("sign returned before an outcome was decided")
	default:
	}

	s.Fail(hash, boom)
	select {
	case err := <-done:
		assert.ErrorIs(t, err, boom)
	case <-time.After(time.Second):
		t.Fatal("sign did not return")
	}
}

func TestHoldingSigner_HonoursContext(t *testing.T) {
	s := NewHoldingSigner()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Sign(ctx, signer.Request{PayloadHash: common.HexToHash("0x03")})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAttestation_DerivesItsCodeIdentity(t *testing.T) {
	a := NewAttestation(`{"services":{"agent":{"image":"rebalancer:1"}}}`)

	info, err := gate.ParseTCBInfo(a.TCBInfo)
	require.NoError(t, err)
	id, err := gate.CodeIdentity(info, a.RTMR3)
	require.NoError(t, err)
	assert.Equal(t, a.CodeIdentity, id)
}

func TestFakeVerifier(t *testing.T) {
	a := NewAttestation("compose-a")
	v := NewFakeVerifier(a)

	r, err := v.Verify(a.Quote, a.Collateral, Epoch)
	require.NoError(t, err)
	assert.Equal(t, a.RTMR3, r.RTMR3)

	_, err = v.Verify([]byte("forged"), nil, Epoch)
	assert.ErrorIs(t, err, ErrUnknownQuote)

	boom := errors.New("collateral expired")
	v.FailWith(boom)
	_, err = v.Verify(a.Quote, a.Collateral, Epoch)
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, []time.Time{Epoch, Epoch, Epoch}, v.Times())
}
