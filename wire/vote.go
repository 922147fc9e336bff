package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/latticenode/node/core"
	"github.com/latticenode/node/crypto"
)

// Vote is a representative's endorsement of one or more block hashes
// (spec.md §6). Sequence is unsigned; a strictly higher sequence always
// wins for the same (Account, block hash) pair.
type Vote struct {
	Account   core.Account
	Signature [64]byte
	Sequence  uint64
	Hashes    []core.Hash
}

// signingPreimage returns the bytes the vote signature covers: sequence
// followed by each hash, matching the wire order in spec.md §6.
func (v *Vote) signingPreimage() []byte {
	out := make([]byte, 8, 8+len(v.Hashes)*core.HashSize)
	binary.BigEndian.PutUint64(out, v.Sequence)
	for _, h := range v.Hashes {
		out = append(out, h.Bytes()...)
	}
	return out
}

// Sign signs the vote with priv and sets Account accordingly.
func (v *Vote) Sign(priv crypto.PrivateKey) {
	v.Account = priv.Public()
	v.Signature = priv.Sign(v.signingPreimage())
}

// Verify checks the vote's signature.
func (v *Vote) Verify() bool {
	return crypto.Verify(v.Account, v.signingPreimage(), v.Signature)
}

// Encode serializes the vote to its wire form.
func (v *Vote) Encode() []byte {
	out := make([]byte, 0, 32+64+8+len(v.Hashes)*core.HashSize)
	out = append(out, v.Account.Bytes()...)
	out = append(out, v.Signature[:]...)
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], v.Sequence)
	out = append(out, seq[:]...)
	for _, h := range v.Hashes {
		out = append(out, h.Bytes()...)
	}
	return out
}

// DecodeVote parses the wire form produced by Encode (hash-list form only;
// the full-block variant is a transport-layer optimization out of scope
// per spec.md §1).
func DecodeVote(data []byte) (*Vote, error) {
	if len(data) < 32+64+8 {
		return nil, fmt.Errorf("wire: vote truncated")
	}
	v := &Vote{}
	v.Account = core.HashFromBytes(data[0:32])
	copy(v.Signature[:], data[32:96])
	v.Sequence = binary.BigEndian.Uint64(data[96:104])
	rest := data[104:]
	if len(rest)%core.HashSize != 0 {
		return nil, fmt.Errorf("wire: vote hash list misaligned")
	}
	for i := 0; i < len(rest); i += core.HashSize {
		v.Hashes = append(v.Hashes, core.HashFromBytes(rest[i:i+core.HashSize]))
	}
	return v, nil
}
