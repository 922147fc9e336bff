// Package work implements proof-of-work threshold verification (spec.md
// §4.1's insufficient_work check) and the difficulty-to-multiplier
// normalization used by active transactions (spec.md §4.2). Work
// *generation* is explicitly out of scope (spec.md §1 non-goals:
// "GPU-accelerated proof-of-work generation"); only verification lives
// here.
package work

import (
	"encoding/binary"

	"github.com/latticenode/node/core"
	"github.com/latticenode/node/crypto"
)

// Kind distinguishes the difficulty threshold a block must meet: ordinary
// sends/opens/changes, receives (cheaper, since the network cares less
// about receive spam), and epoch blocks.
type Kind uint8

const (
	KindNormal Kind = iota
	KindReceive
	KindEpoch
)

// Digest computes the 64-bit work value for (root, work) the same way
// nano derives it: BLAKE2b-512 of the work nonce (8 bytes LE) concatenated
// with the block's root (previous, or account for opens), truncated and
// read back as a little-endian uint64 so that higher work always yields a
// lexicographically "further" digest under the threshold comparison.
func Digest(root core.Hash, nonce uint64) uint64 {
	var nb [8]byte
	binary.LittleEndian.PutUint64(nb[:], nonce)
	full := crypto.Hash64(nb[:], root.Bytes())
	// nano reads the first 8 bytes of the digest as the comparable value.
	return binary.LittleEndian.Uint64(full[:8])
}

// Validate reports whether work meets or exceeds threshold for root.
func Validate(root core.Hash, work uint64, threshold uint64) bool {
	return Digest(root, work) >= threshold
}

// Thresholds maps (epoch, kind) to the minimum work digest, mirroring
// nano's per-epoch work_thresholds table (grounded in
// futurehead/lib/blocks.cpp's threshold table shape, see DESIGN.md).
type Thresholds struct {
	byEpoch map[core.Epoch]map[Kind]uint64
}

// NewThresholds builds a Thresholds table from an explicit map, letting
// callers outside the package (notably tests, which can't brute-force a
// mainnet-grade work digest) substitute a trivially low threshold.
func NewThresholds(byEpoch map[core.Epoch]map[Kind]uint64) *Thresholds {
	return &Thresholds{byEpoch: byEpoch}
}

// DefaultThresholds returns thresholds calibrated the way nano's mainnet
// ones are structured: epoch_2 receives get an easier threshold than
// everything else, and each later epoch may raise the bar.
func DefaultThresholds() *Thresholds {
	t := &Thresholds{byEpoch: map[core.Epoch]map[Kind]uint64{
		core.Epoch0: {KindNormal: 0xffffffc000000000, KindReceive: 0xffffffc000000000, KindEpoch: 0xffffffc000000000},
		core.Epoch1: {KindNormal: 0xffffffc000000000, KindReceive: 0xffffffc000000000, KindEpoch: 0xffffffc000000000},
		core.Epoch2: {KindNormal: 0xfffffff800000000, KindReceive: 0xfffffe0000000000, KindEpoch: 0xfffffff800000000},
	}}
	return t
}

// Threshold returns the minimum work digest for (epoch, kind), falling
// back to the epoch_1 normal threshold for unknown (epoch, kind) pairs.
func (t *Thresholds) Threshold(epoch core.Epoch, kind Kind) uint64 {
	if m, ok := t.byEpoch[epoch]; ok {
		if v, ok := m[kind]; ok {
			return v
		}
	}
	return t.byEpoch[core.Epoch1][KindNormal]
}

// Multiplier normalizes a block's work digest against the epoch_1 base
// threshold (spec.md §4.2): a block requiring higher work gets a higher
// multiplier regardless of which epoch-specific threshold it was actually
// validated against. Uses the distance from the maximum uint64 (smaller
// distance = more leading ones = harder work) so the ratio stays finite
// and well-ordered even for digests very close to the baseline.
func (t *Thresholds) Multiplier(digest uint64) float64 {
	base := t.byEpoch[core.Epoch1][KindNormal]
	baseDist := float64(^uint64(0) - base)
	dist := float64(^uint64(0) - digest)
	if dist <= 0 {
		dist = 1
	}
	return baseDist / dist
}

// DigestForMultiplier is the inverse of Multiplier: given a target
// multiplier, returns the work digest active transactions' trended
// difficulty publishes (spec.md §4.2 request loop step 2). Clamped to
// never exceed the maximum representable digest.
func (t *Thresholds) DigestForMultiplier(multiplier float64) uint64 {
	base := t.byEpoch[core.Epoch1][KindNormal]
	baseDist := float64(^uint64(0) - base)
	if multiplier <= 0 {
		multiplier = 1
	}
	dist := baseDist / multiplier
	if dist <= 0 || dist >= baseDist {
		return base
	}
	return ^uint64(0) - uint64(dist)
}
