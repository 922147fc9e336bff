// Package wire implements the binary wire formats from spec.md §6: the
// five fixed-layout block encodings, their BLAKE2b-256 hash preimages, and
// the vote envelope. Grounded in the teacher's core.Block/core.Transaction
// Hash/Sign/Verify trio, but using the spec's fixed byte layout instead of
// a JSON envelope, because the spec mandates exact field offsets (notably
// state's big-endian work field) that JSON cannot express.
package wire

import (
	"encoding/binary"

	"github.com/latticenode/node/core"
	"github.com/latticenode/node/crypto"
)

// statePreamble is the fixed 8-byte little-endian preamble prepended to the
// state-block hash preimage (spec.md §6), distinguishing it from the four
// legacy shapes which share no common tag.
var statePreamble = [8]byte{6, 0, 0, 0, 0, 0, 0, 0}

// HashBlock computes the BLAKE2b-256 hash of block over the fields
// specified for its shape, excluding signature and work.
func HashBlock(b *core.Block) core.Hash {
	switch b.Type {
	case core.BlockSend:
		bal := b.Balance.Bytes16()
		return crypto.Hash256(b.Previous.Bytes(), b.Destination.Bytes(), bal[:])
	case core.BlockReceive:
		return crypto.Hash256(b.Previous.Bytes(), b.Source.Bytes())
	case core.BlockOpen:
		return crypto.Hash256(b.Source.Bytes(), b.Representative.Bytes(), b.Account.Bytes())
	case core.BlockChange:
		return crypto.Hash256(b.Previous.Bytes(), b.Representative.Bytes())
	case core.BlockState:
		bal := b.Balance.Bytes16()
		return crypto.Hash256(
			statePreamble[:],
			b.Account.Bytes(), b.Previous.Bytes(), b.Representative.Bytes(),
			bal[:], b.Link.Bytes(),
		)
	default:
		panic("wire: unknown block type")
	}
}

// SignBlock hashes block, signs the hash with priv, stores the signature
// on block and returns the hash. Work is left unchanged for the caller to
// set (work generation is out of scope per spec.md §1).
func SignBlock(b *core.Block, priv crypto.PrivateKey) core.Hash {
	h := HashBlock(b)
	b.Signature = priv.Sign(h[:])
	return h
}

// VerifyBlockSignature checks that account's signature over block's hash
// is valid.
func VerifyBlockSignature(b *core.Block, account core.Account) bool {
	h := HashBlock(b)
	return crypto.Verify(account, h[:], b.Signature)
}

// WorkLittleEndian and WorkBigEndian encode the 8-byte work value. Every
// legacy shape uses little-endian; state blocks use big-endian (spec.md
// §6: "State's work is big-endian (historical)").
func WorkLittleEndian(work uint64) [8]byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], work)
	return b
}

func WorkBigEndian(work uint64) [8]byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], work)
	return b
}

// EncodeBlock serializes b into its fixed wire layout (spec.md §6).
func EncodeBlock(b *core.Block) []byte {
	switch b.Type {
	case core.BlockSend:
		bal := b.Balance.Bytes16()
		w := WorkLittleEndian(b.Work)
		out := make([]byte, 0, 32+32+16+64+8)
		out = append(out, b.Previous.Bytes()...)
		out = append(out, b.Destination.Bytes()...)
		out = append(out, bal[:]...)
		out = append(out, b.Signature[:]...)
		out = append(out, w[:]...)
		return out
	case core.BlockReceive:
		w := WorkLittleEndian(b.Work)
		out := make([]byte, 0, 32+32+64+8)
		out = append(out, b.Previous.Bytes()...)
		out = append(out, b.Source.Bytes()...)
		out = append(out, b.Signature[:]...)
		out = append(out, w[:]...)
		return out
	case core.BlockOpen:
		w := WorkLittleEndian(b.Work)
		out := make([]byte, 0, 32+32+32+64+8)
		out = append(out, b.Source.Bytes()...)
		out = append(out, b.Representative.Bytes()...)
		out = append(out, b.Account.Bytes()...)
		out = append(out, b.Signature[:]...)
		out = append(out, w[:]...)
		return out
	case core.BlockChange:
		w := WorkLittleEndian(b.Work)
		out := make([]byte, 0, 32+32+64+8)
		out = append(out, b.Previous.Bytes()...)
		out = append(out, b.Representative.Bytes()...)
		out = append(out, b.Signature[:]...)
		out = append(out, w[:]...)
		return out
	case core.BlockState:
		bal := b.Balance.Bytes16()
		w := WorkBigEndian(b.Work)
		out := make([]byte, 0, 32*4+16+64+8)
		out = append(out, b.Account.Bytes()...)
		out = append(out, b.Previous.Bytes()...)
		out = append(out, b.Representative.Bytes()...)
		out = append(out, bal[:]...)
		out = append(out, b.Link.Bytes()...)
		out = append(out, b.Signature[:]...)
		out = append(out, w[:]...)
		return out
	default:
		panic("wire: unknown block type")
	}
}
