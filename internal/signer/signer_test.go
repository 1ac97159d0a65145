package signer

import (
	"bytes"
	"context"
	"encoding/hex"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRoot = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestAssemble_FixedResponse(t *testing.T) {
	point := append([]byte{0x03}, bytes.Repeat([]byte{0xab}, 32)...)
	scalar := bytes.Repeat([]byte{0xcd}, 32)

	sig, err := Assemble(Response{
		BigR:       AffinePoint{AffinePoint: hex.EncodeToString(point)},
		S:          Scalar{Scalar: hex.EncodeToString(scalar)},
		RecoveryID: 1,
	})
	require.NoError(t, err)

	assert.Equal(t, point[1:33], sig.R[:])
	assert.Equal(t, scalar, sig.S[:])
	assert.Equal(t, uint8(1), sig.V)

	raw := sig.Bytes()
	require.Len(t, raw, 65)
	assert.Equal(t, point[1:33], raw[:32])
	assert.Equal(t, scalar, raw[32:64])
	assert.Equal(t, byte(1), raw[64])
}

func TestAssemble_Malformed(t *testing.T) {
	good := hex.EncodeToString(bytes.Repeat([]byte{0x02}, 33))
	scalar := hex.EncodeToString(bytes.Repeat([]byte{0x01}, 32))

	tests := []struct {
		name string
		resp Response
	}{
		{"short point", Response{BigR: AffinePoint{"02abcd"}, S: Scalar{scalar}}},
		{"bad point hex", Response{BigR: AffinePoint{"zz"}, S: Scalar{scalar}}},
		{"short scalar", Response{BigR: AffinePoint{good}, S: Scalar{"01"}}},
		{"long scalar", Response{BigR: AffinePoint{good}, S: Scalar{scalar + "00"}}},
		{"bad scalar hex", Response{BigR: AffinePoint{good}, S: Scalar{"xyz"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Assemble(tt.resp)
			require.ErrorIs(t, err, ErrMalformedComponents)
		})
	}
}

func TestAssemble_AcceptsPrefixedHex(t *testing.T) {
	point := "0x02" + hex.EncodeToString(bytes.Repeat([]byte{0x11}, 32))
	scalar := "0x" + hex.EncodeToString(bytes.Repeat([]byte{0x22}, 32))

	sig, err := Assemble(Response{BigR: AffinePoint{point}, S: Scalar{scalar}})
	require.NoError(t, err)
	assert.Equal(t, byte(0x11), sig.R[0])
	assert.Equal(t, byte(0x22), sig.S[31])
}

func TestLocal_SignsRecoverably(t *testing.T) {
	l, err := NewLocal(testRoot)
	require.NoError(t, err)

	hash := crypto.Keccak256Hash([]byte("payload"))
	resp, err := l.Sign(context.Background(), Request{PayloadHash: hash, Path: DefaultKeyPath, KeyVersion: DefaultKeyVersion})
	require.NoError(t, err)

	sig, err := Assemble(resp)
	require.NoError(t, err)

	addr, err := Recover(hash, sig.Bytes())
	require.NoError(t, err)

	want, err := l.Address(DefaultKeyPath, DefaultKeyVersion)
	require.NoError(t, err)
	assert.Equal(t, want, addr)
}

func TestLocal_KeysArePerPathAndVersion(t *testing.T) {
	l, err := NewLocal("0x" + testRoot)
	require.NoError(t, err)

	a, err := l.Address("ethereum-1", 0)
	require.NoError(t, err)
	b, err := l.Address("ethereum-1", 1)
	require.NoError(t, err)
	c, err := l.Address("ethereum-2", 0)
	require.NoError(t, err)
	again, err := l.Address("ethereum-1", 0)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Equal(t, a, again)
}

func TestLocal_Errors(t *testing.T) {
	_, err := NewLocal("abcd")
	require.Error(t, err)

	l, err := NewLocal(testRoot)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Sign(ctx, Request{Path: DefaultKeyPath})
	require.ErrorIs(t, err, context.Canceled)
}
