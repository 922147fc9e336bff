// Package ledger implements the block validation state machine from
// spec.md §4.1: Process runs the deterministic per-shape validator and
// commits on progress, Rollback reverse-applies a committed block, and a
// set of O(1) derived queries read back balance/amount/account/weight
// from the sideband once a block is committed. Grounded in the teacher's
// core.Blockchain.AddBlock (single mutating entry point, closed error
// enumeration) generalized from a single append-only chain to a
// block-lattice with per-account chains, pending entries and a
// representative-weight cache.
package ledger

import (
	"errors"
	"fmt"
	"sync"

	"github.com/latticenode/node/config"
	"github.com/latticenode/node/core"
	"github.com/latticenode/node/store"
	"github.com/latticenode/node/work"
)

// ProcessCode is the closed enumeration of Ledger.Process outcomes
// (spec.md §4.1).
type ProcessCode int

const (
	Progress ProcessCode = iota
	BadSignature
	Old
	NegativeSpend
	Fork
	Unreceivable
	GapPrevious
	GapSource
	OpenedBurnAccount
	BalanceMismatch
	RepresentativeMismatch
	BlockPosition
	InsufficientWork
)

func (c ProcessCode) String() string {
	switch c {
	case Progress:
		return "progress"
	case BadSignature:
		return "bad_signature"
	case Old:
		return "old"
	case NegativeSpend:
		return "negative_spend"
	case Fork:
		return "fork"
	case Unreceivable:
		return "unreceivable"
	case GapPrevious:
		return "gap_previous"
	case GapSource:
		return "gap_source"
	case OpenedBurnAccount:
		return "opened_burn_account"
	case BalanceMismatch:
		return "balance_mismatch"
	case RepresentativeMismatch:
		return "representative_mismatch"
	case BlockPosition:
		return "block_position"
	case InsufficientWork:
		return "insufficient_work"
	default:
		return "unknown"
	}
}

// ProcessResult carries the outcome of Process. Fields beyond Code are
// only meaningful when Code == Progress.
type ProcessResult struct {
	Code            ProcessCode
	Hash            core.Hash
	Account         core.Account
	Amount          core.Amount
	PreviousBalance core.Amount
	PendingAccount  core.Account // sender account consumed by a receive/open, zero otherwise
	Verified        bool
}

// ErrRollbackConfirmed is returned by Rollback when the target block (or
// one of its dependents) is at or below its account's confirmation
// height; rollback never crosses a confirmed block (spec.md §4.1).
var ErrRollbackConfirmed = errors.New("ledger: refusing to roll back a confirmed block")

// Ledger is the single mutating entry point for block validation. It
// holds the representative-weight cache and the epoch_2 one-shot latch
// in memory; the store holds everything durable.
type Ledger struct {
	store      store.Store
	thresholds *work.Thresholds
	cfg        *config.Config

	weightMu sync.RWMutex
	weights  map[core.Account]core.Amount

	epoch2Mu      sync.Mutex
	epoch2Started bool
	onEpoch2      []func()
}

// New builds a Ledger backed by st, using cfg for epoch signers/links and
// work thresholds. The weight cache starts with the stored genesis
// account's balance credited to its representative (SeedGenesis runs
// first); other stored accounts are not read into it.
func New(st store.Store, cfg *config.Config) *Ledger {
	l := &Ledger{
		store:      st,
		thresholds: cfg.WorkThresholds(),
		cfg:        cfg,
		weights:    make(map[core.Account]core.Amount),
	}
	if genesis, err := core.HashFromHex(cfg.GenesisAccount); err == nil {
		txn := st.TxBeginRead()
		if info, err := st.GetAccount(txn, genesis); err == nil {
			l.weights[info.Representative] = info.Balance
		}
		st.TxDiscard(txn)
	}
	return l
}

// NewWithThresholds is New with an explicit work.Thresholds override,
// used by tests to substitute a trivially satisfiable threshold instead
// of brute-forcing a mainnet-grade proof of work.
func NewWithThresholds(st store.Store, cfg *config.Config, thresholds *work.Thresholds) *Ledger {
	l := New(st, cfg)
	l.thresholds = thresholds
	return l
}

// OnEpoch2Started registers a callback fired exactly once, the moment the
// first epoch_2 block commits (spec.md §4.1). Registering after the
// transition already happened never fires — callers needing that case
// should check HasEpoch2Started first.
func (l *Ledger) OnEpoch2Started(fn func()) {
	l.epoch2Mu.Lock()
	defer l.epoch2Mu.Unlock()
	l.onEpoch2 = append(l.onEpoch2, fn)
}

// HasEpoch2Started reports whether the one-shot epoch_2 latch has fired.
func (l *Ledger) HasEpoch2Started() bool {
	l.epoch2Mu.Lock()
	defer l.epoch2Mu.Unlock()
	return l.epoch2Started
}

func (l *Ledger) maybeLatchEpoch2(epoch core.Epoch) {
	if epoch < core.Epoch2 {
		return
	}
	l.epoch2Mu.Lock()
	already := l.epoch2Started
	l.epoch2Started = true
	callbacks := append([]func(){}, l.onEpoch2...)
	l.epoch2Mu.Unlock()
	if already {
		return
	}
	for _, cb := range callbacks {
		cb()
	}
}

// Process validates block under txn and, on progress, commits it. txn
// must be a write transaction; the ledger never mutates on any other
// outcome (spec.md §4.1 "side-effect-free on failure").
func (l *Ledger) Process(txn store.Txn, block *core.Block) (*ProcessResult, error) {
	switch block.Type {
	case core.BlockState:
		return l.processState(txn, block)
	case core.BlockSend:
		return l.processLegacySend(txn, block)
	case core.BlockReceive:
		return l.processLegacyReceive(txn, block)
	case core.BlockOpen:
		return l.processLegacyOpen(txn, block)
	case core.BlockChange:
		return l.processLegacyChange(txn, block)
	default:
		return nil, fmt.Errorf("ledger: unknown block type %d", block.Type)
	}
}

// adjustWeight moves bal between representatives in the weight cache:
// subtracted from oldRep (if non-zero), added to newRep (if non-zero).
// Rollback calls this with old/new swapped to reverse a commit exactly.
func (l *Ledger) adjustWeight(oldRep core.Hash, oldBal core.Amount, newRep core.Hash, newBal core.Amount) {
	l.weightMu.Lock()
	defer l.weightMu.Unlock()
	if !oldRep.IsZero() {
		l.weights[oldRep] = l.weights[oldRep].Sub(oldBal)
	}
	if !newRep.IsZero() {
		l.weights[newRep] = l.weights[newRep].Add(newBal)
	}
}

// Weight returns the cached representative weight for account, zero if
// never credited. During initial sync before bootstrap completes, a real
// deployment would fall back to bootstrap-seeded weights; this core
// leaves that substitution to the Bootstrapper collaborator (spec.md
// §4.1 "During initial sync ... return bootstrap-seeded weights").
func (l *Ledger) Weight(account core.Account) core.Amount {
	l.weightMu.RLock()
	defer l.weightMu.RUnlock()
	return l.weights[account]
}

// Balance returns the O(1) balance of hash from its sideband.
func (l *Ledger) Balance(txn store.Txn, hash core.Hash) (core.Amount, error) {
	b, err := l.store.GetBlock(txn, hash)
	if err != nil {
		return core.Amount{}, err
	}
	if b.Sideband == nil {
		return core.Amount{}, fmt.Errorf("ledger: block %s has no sideband", hash)
	}
	return b.Sideband.Balance, nil
}

// Amount returns the transfer amount of hash: the absolute balance delta
// it caused, zero for change/epoch blocks.
func (l *Ledger) Amount(txn store.Txn, hash core.Hash) (core.Amount, error) {
	b, err := l.store.GetBlock(txn, hash)
	if err != nil {
		return core.Amount{}, err
	}
	prevBalance := core.Amount{}
	if !b.Previous.IsZero() {
		prevBalance, err = l.Balance(txn, b.Previous)
		if err != nil {
			return core.Amount{}, err
		}
	}
	switch b.Type {
	case core.BlockSend:
		return prevBalance.Sub(b.Sideband.Balance), nil
	case core.BlockReceive, core.BlockOpen:
		return b.Sideband.Balance.Sub(prevBalance), nil
	case core.BlockState:
		switch {
		case b.Sideband.Details.IsSend:
			return prevBalance.Sub(b.Sideband.Balance), nil
		case b.Sideband.Details.IsReceive:
			return b.Sideband.Balance.Sub(prevBalance), nil
		default:
			return core.Amount{}, nil
		}
	default:
		return core.Amount{}, nil
	}
}

// Account returns the owning account of hash, from the sideband for
// legacy shapes or the block body itself for open/state.
func (l *Ledger) Account(txn store.Txn, hash core.Hash) (core.Account, error) {
	b, err := l.store.GetBlock(txn, hash)
	if err != nil {
		return core.Account{}, err
	}
	if b.Sideband != nil && !b.Sideband.Account.IsZero() {
		return b.Sideband.Account, nil
	}
	return b.Account, nil
}

// BlockDestination returns the account a committed block sends to, or the
// zero hash if it is not a send (spec.md §4.1).
func (l *Ledger) BlockDestination(b *core.Block) core.Hash {
	switch b.Type {
	case core.BlockSend:
		return b.Destination
	case core.BlockState:
		if b.Sideband != nil && b.Sideband.Details.IsSend {
			return b.Link
		}
	}
	return core.ZeroHash
}

// DependentBlocks returns up to two hashes whose presence is required to
// validate or confirm b: previous (if non-zero), and for receives the
// source (spec.md §4.1).
func (l *Ledger) DependentBlocks(b *core.Block) [2]core.Hash {
	var deps [2]core.Hash
	deps[0] = b.Previous
	switch b.Type {
	case core.BlockReceive:
		deps[1] = b.Source
	case core.BlockOpen:
		deps[1] = b.Source
	case core.BlockState:
		if b.Sideband != nil && b.Sideband.Details.IsReceive {
			deps[1] = b.Link
		}
	}
	return deps
}

// IsEpochLink reports whether link is a registered epoch marker, and
// which epoch it upgrades to (spec.md §4.1).
func (l *Ledger) IsEpochLink(link core.Hash) (core.Epoch, bool) {
	return l.cfg.IsEpochLink(link)
}

// representativeAsOf walks backward from hash until it finds a block
// shape that carries an explicit representative field (open, change,
// state), since only those shapes can change the account's
// representative; sends and legacy receives leave it unchanged. Returns
// the zero hash for the zero (no-block) input.
func (l *Ledger) representativeAsOf(txn store.Txn, hash core.Hash) (core.Hash, error) {
	for !hash.IsZero() {
		b, err := l.store.GetBlock(txn, hash)
		if err != nil {
			return core.Hash{}, err
		}
		if rep, ok := b.RepresentativeField(); ok {
			return rep, nil
		}
		hash = b.Previous
	}
	return core.Hash{}, nil
}

func sidebandHeightOf(b *core.Block) int64 {
	if b.Sideband == nil {
		return 0
	}
	return b.Sideband.Height
}

func sidebandEpochOf(b *core.Block) core.Epoch {
	if b.Sideband == nil {
		return core.EpochUnknown
	}
	return b.Sideband.Details.Epoch
}
