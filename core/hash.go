// Package core defines the block-lattice data model: accounts, amounts,
// the five block shapes, sidebands and the per-account/per-pending records
// the ledger and active-transactions engine operate over.
package core

import (
	"bytes"
	"encoding/hex"
	"errors"
)

// HashSize is the width of a block hash (a BLAKE2b-256 output) or an
// account key (an ed25519 public key).
const HashSize = 32

// Hash is a 32-byte BLAKE2b digest, used both for block hashes and (via
// Account) for ed25519 public keys.
type Hash [HashSize]byte

// ZeroHash is the canonical "no value" hash: the zero previous-hash of an
// open block, the zero link of a change block, the zero representative
// sentinel before the genesis account is credited.
var ZeroHash = Hash{}

// IsZero reports whether h is the all-zero hash.
func (h Hash) IsZero() bool {
	return h == ZeroHash
}

// String returns the lowercase hex encoding of h.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Bytes returns a copy of the underlying 32 bytes.
func (h Hash) Bytes() []byte {
	b := make([]byte, HashSize)
	copy(b, h[:])
	return b
}

// Cmp orders hashes byte-lexicographically; used only for deterministic
// iteration order, never for consensus semantics.
func (h Hash) Cmp(o Hash) int {
	return bytes.Compare(h[:], o[:])
}

// HashFromHex decodes a hex string into a Hash.
func HashFromHex(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, err
	}
	if len(b) != HashSize {
		return h, errors.New("core: hash must be 32 bytes")
	}
	copy(h[:], b)
	return h, nil
}

// HashFromBytes copies b into a Hash. Panics if len(b) != HashSize; callers
// are expected to check lengths from a trusted decode path first.
func HashFromBytes(b []byte) Hash {
	var h Hash
	if len(b) != HashSize {
		panic("core: HashFromBytes requires exactly 32 bytes")
	}
	copy(h[:], b)
	return h
}

// Account is a 32-byte ed25519 public key identifying an on-chain identity.
// It shares the Hash representation because the wire format, hex encoding
// and storage key width are identical.
type Account = Hash

// BlockHash identifies a block by its content digest.
type BlockHash = Hash
