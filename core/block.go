package core

import "fmt"

// BlockType tags which of the five wire shapes a Block holds. Per the
// design notes this models block polymorphism as a single tagged variant
// rather than five unrelated structs implementing a shared interface: the
// methods below (Root, BalanceField, LinkField, RepresentativeField,
// Validate, ...) switch on Type, and ledger/election code matches on it the
// same way.
type BlockType uint8

const (
	BlockOpen BlockType = iota
	BlockSend
	BlockReceive
	BlockChange
	BlockState
)

func (t BlockType) String() string {
	switch t {
	case BlockOpen:
		return "open"
	case BlockSend:
		return "send"
	case BlockReceive:
		return "receive"
	case BlockChange:
		return "change"
	case BlockState:
		return "state"
	default:
		return "unknown"
	}
}

// Details records the state-block-only bits persisted in the sideband:
// whether the block is a send, a receive, or an epoch upgrade, and which
// epoch the account is at after the block commits.
type Details struct {
	Epoch     Epoch
	IsSend    bool
	IsReceive bool
	IsEpoch   bool
}

// Block is the union of all five on-chain block shapes. Only the fields
// relevant to Type are meaningful; others are the zero value. This mirrors
// nano's account_info/state_block union while staying a plain struct, which
// is simpler to (de)serialize and to match on than an interface hierarchy.
type Block struct {
	Type BlockType

	// Account is populated for "open" (first block) and "state" blocks.
	// For legacy send/receive/change it is resolved indirectly via the
	// account_info/frontier lookup and cached onto the sideband once known.
	Account Hash

	// Previous is the account's prior head. Zero for "open" blocks.
	Previous Hash

	// Representative names the account's delegate. Populated for open,
	// change and state blocks (state always carries the full tuple).
	Representative Hash

	// Balance is the account's balance after this block. Populated for
	// send and state blocks (legacy receive/open derive it from the
	// pending entry and are not self-describing on the wire).
	Balance Amount

	// Link is the state-block polymorphic field: a send destination, a
	// receive source, or a registered epoch marker. Zero for change.
	Link Hash

	// Destination is the legacy send block's recipient.
	Destination Hash

	// Source is the legacy receive/open block's matching send hash.
	Source Hash

	Signature [64]byte
	Work      uint64

	// Sideband is populated by the ledger at commit time; nil before that.
	Sideband *Sideband
}

// Root computes the block's qualified-root-defining root: Previous if
// non-zero, else Account.
func (b *Block) Root() Hash {
	return RootOf(b.Previous, b.Account)
}

// QualifiedRoot computes the election slot identity for this block.
func (b *Block) QualifiedRoot() QualifiedRoot {
	return QualifiedRootOf(b.Previous, b.Account)
}

// BalanceField returns the balance explicitly carried on the wire by this
// block shape, or (zero, false) for shapes that don't carry one directly
// (legacy receive/open, whose resulting balance is derived by the ledger
// from the account's prior balance plus the pending amount).
func (b *Block) BalanceField() (Amount, bool) {
	switch b.Type {
	case BlockSend, BlockState:
		return b.Balance, true
	default:
		return Amount{}, false
	}
}

// LinkField returns the state block's link, or the legacy equivalent
// (destination for send, source for receive/open) so that callers can
// treat "what this block points at" uniformly regardless of shape.
func (b *Block) LinkField() Hash {
	switch b.Type {
	case BlockState:
		return b.Link
	case BlockSend:
		return b.Destination
	case BlockReceive, BlockOpen:
		return b.Source
	default:
		return ZeroHash
	}
}

// RepresentativeField returns the representative this block sets, if any.
func (b *Block) RepresentativeField() (Hash, bool) {
	switch b.Type {
	case BlockOpen, BlockChange, BlockState:
		return b.Representative, true
	default:
		return ZeroHash, false
	}
}

// Validate performs shape-level structural checks that have nothing to do
// with chain state (those live in the ledger): required fields are
// non-zero where the shape demands it.
func (b *Block) Validate() error {
	switch b.Type {
	case BlockOpen:
		if b.Source.IsZero() || b.Account.IsZero() {
			return fmt.Errorf("core: open block requires source and account")
		}
	case BlockSend:
		if b.Previous.IsZero() {
			return fmt.Errorf("core: send block requires previous")
		}
	case BlockReceive:
		if b.Previous.IsZero() || b.Source.IsZero() {
			return fmt.Errorf("core: receive block requires previous and source")
		}
	case BlockChange:
		if b.Previous.IsZero() {
			return fmt.Errorf("core: change block requires previous")
		}
	case BlockState:
		if b.Account.IsZero() {
			return fmt.Errorf("core: state block requires account")
		}
	default:
		return fmt.Errorf("core: unknown block type %d", b.Type)
	}
	return nil
}
