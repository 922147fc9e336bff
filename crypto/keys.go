package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"github.com/latticenode/node/core"
)

// PrivateKey wraps ed25519 private key bytes. Generalized from the
// teacher's wallet key type to also sign votes and, for epoch signers,
// epoch-upgrade blocks.
type PrivateKey []byte

// GenerateKeyPair generates a new ed25519 key pair, returning the account
// (public key) directly as a core.Account since the two share
// representation.
func GenerateKeyPair() (PrivateKey, core.Account, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, core.Account{}, err
	}
	return PrivateKey(priv), core.HashFromBytes(pub), nil
}

// Public derives the account (ed25519 public key) from the private key.
func (priv PrivateKey) Public() core.Account {
	pub := ed25519.PrivateKey(priv).Public().(ed25519.PublicKey)
	return core.HashFromBytes(pub)
}

// Sign signs data and returns a raw 64-byte ed25519 signature.
func (priv PrivateKey) Sign(data []byte) [64]byte {
	sig := ed25519.Sign(ed25519.PrivateKey(priv), data)
	var out [64]byte
	copy(out[:], sig)
	return out
}

// PrivateKeyFromBytes validates and wraps a raw ed25519 private key.
func PrivateKeyFromBytes(b []byte) (PrivateKey, error) {
	if len(b) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("crypto: private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(b))
	}
	return PrivateKey(b), nil
}

// Verify checks a raw 64-byte signature against data under account's
// ed25519 public key.
func Verify(account core.Account, data []byte, sig [64]byte) bool {
	return ed25519.Verify(ed25519.PublicKey(account[:]), data, sig[:])
}
