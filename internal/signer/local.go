package signer

import (
	"context"
	"crypto/ecdsa"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Local is a development signer that derives one secp256k1 key per
// (path, key version) from a root key. It speaks the same protocol as the
// threshold service so scenarios and the CLI can run end to end offline.
type Local struct {
	root []byte

	mu   sync.Mutex
	keys map[string]*ecdsa.PrivateKey
}

// NewLocal creates a signer from a hex-encoded 32-byte root key.
func NewLocal(rootHex string) (*Local, error) {
	root, err := decodeHex(rootHex)
	if err != nil {
		return nil, fmt.Errorf("decode root key: %w", err)
	}
	if len(root) != 32 {
		return nil, fmt.Errorf("root key must be 32 bytes, got %d", len(root))
	}
	return &Local{root: root, keys: make(map[string]*ecdsa.PrivateKey)}, nil
}

// Sign implements Signer.
func (l *Local) Sign(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	key, err := l.key(req.Path, req.KeyVersion)
	if err != nil {
		return Response{}, err
	}
	sig, err := crypto.Sign(req.PayloadHash.Bytes(), key)
	if err != nil {
		return Response{}, fmt.Errorf("sign: %w", err)
	}

	// The recovery id's low bit is the parity of R.y, which selects the
	// compressed point prefix.
	v := sig[64]
	point := make([]byte, 33)
	point[0] = 0x02 | (v & 1)
	copy(point[1:], sig[:32])

	return Response{
		BigR:       AffinePoint{AffinePoint: hex.EncodeToString(point)},
		S:          Scalar{Scalar: hex.EncodeToString(sig[32:64])},
		RecoveryID: v,
	}, nil
}

// Address returns the Ethereum address of the key at path/version.
func (l *Local) Address(path string, version uint32) (common.Address, error) {
	key, err := l.key(path, version)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(key.PublicKey), nil
}

func (l *Local) key(path string, version uint32) (*ecdsa.PrivateKey, error) {
	id := fmt.Sprintf("%s#%d", path, version)

	l.mu.Lock()
	defer l.mu.Unlock()

	if key, ok := l.keys[id]; ok {
		return key, nil
	}
	var ver [4]byte
	binary.BigEndian.PutUint32(ver[:], version)
	key, err := crypto.ToECDSA(crypto.Keccak256(l.root, []byte(path), ver[:]))
	if err != nil {
		return nil, fmt.Errorf("derive key %s: %w", id, err)
	}
	l.keys[id] = key
	return key, nil
}

// Recover returns the address that produced sig (r||s||v) over hash.
func Recover(hash common.Hash, sig []byte) (common.Address, error) {
	pub, err := crypto.SigToPub(hash.Bytes(), sig)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}
