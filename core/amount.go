package core

import (
	"fmt"
	"math/big"
)

// AmountSize is the wire width of an Amount: a 128-bit unsigned integer.
const AmountSize = 16

// Amount is a 128-bit unsigned quantity (balance or transfer amount). The
// zero value is zero. Amount is immutable; arithmetic methods return a new
// value and never mutate the receiver.
type Amount struct {
	v *big.Int
}

var maxAmount = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

// big returns the underlying big.Int, treating a nil v (the zero Amount) as
// zero by returning a freshly allocated zero big.Int.
func (a Amount) big() *big.Int {
	if a.v == nil {
		return new(big.Int)
	}
	return a.v
}

// NewAmount constructs an Amount from a uint64.
func NewAmount(u uint64) Amount {
	return Amount{v: new(big.Int).SetUint64(u)}
}

// AmountFromBig constructs an Amount from a big.Int, which must be
// non-negative and fit in 128 bits.
func AmountFromBig(b *big.Int) (Amount, error) {
	if b.Sign() < 0 {
		return Amount{}, fmt.Errorf("core: amount must be non-negative")
	}
	if b.Cmp(maxAmount) > 0 {
		return Amount{}, fmt.Errorf("core: amount exceeds 128 bits")
	}
	return Amount{v: new(big.Int).Set(b)}, nil
}

// MaxAmount is 2^128 - 1, the genesis supply.
func MaxAmount() Amount {
	return Amount{v: new(big.Int).Set(maxAmount)}
}

// IsZero reports whether a is zero.
func (a Amount) IsZero() bool { return a.big().Sign() == 0 }

// Cmp compares a to o: -1, 0, or 1.
func (a Amount) Cmp(o Amount) int { return a.big().Cmp(o.big()) }

// Add returns a+o. Callers must ensure the ledger-level invariant that
// totals never exceed 2^128-1; Add itself does not clamp.
func (a Amount) Add(o Amount) Amount { return Amount{v: new(big.Int).Add(a.big(), o.big())} }

// Sub returns a-o. Panics if o > a, since balances never go negative in a
// correctly validated chain; callers must check Cmp first when the inputs
// are untrusted (see ledger's negative_spend checks).
func (a Amount) Sub(o Amount) Amount {
	if a.Cmp(o) < 0 {
		panic("core: amount underflow")
	}
	return Amount{v: new(big.Int).Sub(a.big(), o.big())}
}

// MulFrac returns floor(a * num / den), used by the election quorum
// predicate (delta = online_weight_stake * quorum_fraction). den must be
// positive; callers validate quorum fractions at config load time.
func (a Amount) MulFrac(num, den int64) Amount {
	n := new(big.Int).Mul(a.big(), big.NewInt(num))
	n.Div(n, big.NewInt(den))
	return Amount{v: n}
}

// String renders the decimal representation.
func (a Amount) String() string { return a.big().String() }

// Bytes16 encodes a as 16 big-endian bytes, matching the wire layout of
// send.balance / state.balance.
func (a Amount) Bytes16() [AmountSize]byte {
	var out [AmountSize]byte
	b := a.big().Bytes()
	copy(out[AmountSize-len(b):], b)
	return out
}

// AmountFromBytes16 decodes 16 big-endian bytes into an Amount.
func AmountFromBytes16(b [AmountSize]byte) Amount {
	return Amount{v: new(big.Int).SetBytes(b[:])}
}
