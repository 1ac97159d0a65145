// Package signer defines the threshold-signer protocol the engine talks to
// and turns its responses into recoverable secp256k1 signatures.
//
// A request carries a 32-byte payload hash plus a logical key path and
// version. A response carries the big R point (compressed, hex), the s
// scalar (hex) and the recovery id. The engine's signature is
//
//	r = affine_point[1:33], s = scalar, v = recovery_id
package signer

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Defaults for the logical signing key.
const (
	DefaultKeyPath    = "ethereum-1"
	DefaultKeyVersion = uint32(0)
)

// ErrMalformedComponents is returned when a response does not decode to a
// 32-byte r and a 32-byte s.
var ErrMalformedComponents = errors.New("malformed signature components")

// Request asks the signer to sign PayloadHash with the key at Path/KeyVersion.
type Request struct {
	PayloadHash common.Hash `json:"payload_hash"`
	Path        string      `json:"path"`
	KeyVersion  uint32      `json:"key_version"`
}

// Response is the signer's answer.
type Response struct {
	BigR       AffinePoint `json:"big_r"`
	S          Scalar      `json:"s"`
	RecoveryID uint8       `json:"recovery_id"`
}

// AffinePoint is the hex-encoded compressed R point.
type AffinePoint struct {
	AffinePoint string `json:"affine_point"`
}

// Scalar is the hex-encoded s value.
type Scalar struct {
	Scalar string `json:"scalar"`
}

// Signer produces signatures. Sign may block; implementations must honour
// ctx cancellation.
type Signer interface {
	Sign(ctx context.Context, req Request) (Response, error)
}

// Func adapts a function to the Signer interface.
type Func func(ctx context.Context, req Request) (Response, error)

func (f Func) Sign(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// Signature is an assembled recoverable signature.
type Signature struct {
	R [32]byte
	S [32]byte
	V uint8
}

// Bytes returns r || s || v.
func (s Signature) Bytes() []byte {
	out := make([]byte, 0, 65)
	out = append(out, s.R[:]...)
	out = append(out, s.S[:]...)
	return append(out, s.V)
}

// Assemble extracts (r, s, v) from a signer response.
func Assemble(resp Response) (Signature, error) {
	point, err := decodeHex(resp.BigR.AffinePoint)
	if err != nil {
		return Signature{}, fmt.Errorf("%w: big_r: %v", ErrMalformedComponents, err)
	}
	if len(point) < 33 {
		return Signature{}, fmt.Errorf("%w: big_r is %d bytes, want at least 33", ErrMalformedComponents, len(point))
	}
	r := point[1:33]

	s, err := decodeHex(resp.S.Scalar)
	if err != nil {
		return Signature{}, fmt.Errorf("%w: s: %v", ErrMalformedComponents, err)
	}
	if len(s) != 32 {
		return Signature{}, fmt.Errorf("%w: s is %d bytes, want 32", ErrMalformedComponents, len(s))
	}

	var sig Signature
	copy(sig.R[:], r)
	copy(sig.S[:], s)
	sig.V = resp.RecoveryID
	return sig, nil
}

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X"))
}
