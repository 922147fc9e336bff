// Package crypto provides the node's hashing and signature primitives:
// BLAKE2b-256 block hashing (spec.md §6) and ed25519 signing, following the
// same thin-wrapper style as the teacher's crypto package but swapping
// SHA-256 for BLAKE2b to match the wire-format spec.
package crypto

import (
	"golang.org/x/crypto/blake2b"
)

// Hash256 returns the 32-byte BLAKE2b-256 digest of the concatenation of
// data. Concatenating the field slices at the call site (rather than
// requiring callers to pre-join them) avoids an extra allocation per block
// hashed and mirrors how the wire layout is itself just concatenated
// fields.
func Hash256(data ...[]byte) [32]byte {
	h, err := blake2b.New256(nil)
	if err != nil {
		// blake2b.New256 only fails for an oversized key, which we never
		// pass; a failure here would be a programming error.
		panic("crypto: blake2b.New256: " + err.Error())
	}
	for _, d := range data {
		h.Write(d)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Hash64 returns a 64-byte BLAKE2b digest, used by the work-difficulty
// check (spec.md §4.1's insufficient_work path) the same way nano derives
// a proof-of-work digest from account/previous-hash and a nonce.
func Hash64(data ...[]byte) [64]byte {
	h, err := blake2b.New512(nil)
	if err != nil {
		panic("crypto: blake2b.New512: " + err.Error())
	}
	for _, d := range data {
		h.Write(d)
	}
	var out [64]byte
	copy(out[:], h.Sum(nil))
	return out
}
