package store

import (
	"sort"
	"sync"
	"time"

	"github.com/latticenode/node/core"
	"github.com/latticenode/node/wire"
)

// Memory is an in-memory Store, grounded in the teacher's
// internal/testutil in-memory DB: every table is a Go map guarded by one
// RWMutex. A read transaction holds the read lock from TxBeginRead until
// it is committed or discarded, so no commit lands during it; a write
// transaction buffers its mutations as closures and applies them under
// the write lock on commit.
type Memory struct {
	mu sync.RWMutex

	accounts      map[core.Account]core.AccountInfo
	blocks        map[core.Hash]core.Block
	pending       map[core.PendingKey]core.PendingInfo
	confHeight    map[core.Account]core.ConfirmationHeightInfo
	frontiers     map[core.Hash]core.Account
	unchecked     map[core.Hash][]uncheckedEntry
	version       int
}

type uncheckedEntry struct {
	block   core.Block
	arrived time.Time
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		accounts:   make(map[core.Account]core.AccountInfo),
		blocks:     make(map[core.Hash]core.Block),
		pending:    make(map[core.PendingKey]core.PendingInfo),
		confHeight: make(map[core.Account]core.ConfirmationHeightInfo),
		frontiers:  make(map[core.Hash]core.Account),
		unchecked:  make(map[core.Hash][]uncheckedEntry),
	}
}

// memTxn buffers write-transaction mutations as closures applied in order
// on commit, which keeps the table-specific logic next to each operation
// instead of duplicating a diff structure per table.
type memTxn struct {
	write bool
	ops   []func(*Memory)
}

func (t *memTxn) isWrite() bool { return t.write }

func (m *Memory) TxBeginRead() Txn  { m.mu.RLock(); return &memTxn{write: false} }
func (m *Memory) TxBeginWrite() Txn { return &memTxn{write: true} }

func (m *Memory) TxCommit(txn Txn) error {
	t := txn.(*memTxn)
	if !t.write {
		m.mu.RUnlock()
		return nil
	}
	m.mu.Lock()
	for _, op := range t.ops {
		op(m)
	}
	m.mu.Unlock()
	return nil
}

func (m *Memory) TxDiscard(txn Txn) {
	t := txn.(*memTxn)
	if !t.write {
		m.mu.RUnlock()
	}
	// Discarding a write txn simply drops its buffered ops.
}

func (m *Memory) record(txn Txn, op func(*Memory)) {
	t := txn.(*memTxn)
	t.ops = append(t.ops, op)
}

// ---- Accounts ----

func (m *Memory) GetAccount(txn Txn, account core.Account) (*core.AccountInfo, error) {
	m.rlockIfRead(txn)
	defer m.runlockIfRead(txn)
	info, ok := m.accounts[account]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := info
	return &cp, nil
}

func (m *Memory) PutAccount(txn Txn, account core.Account, info *core.AccountInfo) error {
	cp := *info
	m.record(txn, func(m *Memory) { m.accounts[account] = cp })
	return nil
}

func (m *Memory) DelAccount(txn Txn, account core.Account) error {
	m.record(txn, func(m *Memory) { delete(m.accounts, account) })
	return nil
}

// ---- Blocks ----

func (m *Memory) BlockExists(txn Txn, hash core.Hash) bool {
	m.rlockIfRead(txn)
	defer m.runlockIfRead(txn)
	_, ok := m.blocks[hash]
	return ok
}

func (m *Memory) GetBlock(txn Txn, hash core.Hash) (*core.Block, error) {
	m.rlockIfRead(txn)
	defer m.runlockIfRead(txn)
	b, ok := m.blocks[hash]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := b
	return &cp, nil
}

func (m *Memory) PutBlock(txn Txn, hash core.Hash, block *core.Block) error {
	cp := *block
	m.record(txn, func(m *Memory) { m.blocks[hash] = cp })
	return nil
}

func (m *Memory) DelBlock(txn Txn, hash core.Hash) error {
	m.record(txn, func(m *Memory) { delete(m.blocks, hash) })
	return nil
}

func (m *Memory) BlockCount(txn Txn) int64 {
	m.rlockIfRead(txn)
	defer m.runlockIfRead(txn)
	return int64(len(m.blocks))
}

// ---- Pending ----

func (m *Memory) GetPending(txn Txn, key core.PendingKey) (*core.PendingInfo, error) {
	m.rlockIfRead(txn)
	defer m.runlockIfRead(txn)
	p, ok := m.pending[key]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := p
	return &cp, nil
}

func (m *Memory) PutPending(txn Txn, key core.PendingKey, info *core.PendingInfo) error {
	cp := *info
	m.record(txn, func(m *Memory) { m.pending[key] = cp })
	return nil
}

func (m *Memory) DelPending(txn Txn, key core.PendingKey) error {
	m.record(txn, func(m *Memory) { delete(m.pending, key) })
	return nil
}

func (m *Memory) PendingAny(txn Txn, destination core.Account) bool {
	m.rlockIfRead(txn)
	defer m.runlockIfRead(txn)
	for k := range m.pending {
		if k.Destination == destination {
			return true
		}
	}
	return false
}

// ---- Confirmation height ----

func (m *Memory) GetConfirmationHeight(txn Txn, account core.Account) (*core.ConfirmationHeightInfo, error) {
	m.rlockIfRead(txn)
	defer m.runlockIfRead(txn)
	c, ok := m.confHeight[account]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := c
	return &cp, nil
}

func (m *Memory) PutConfirmationHeight(txn Txn, account core.Account, info *core.ConfirmationHeightInfo) error {
	cp := *info
	m.record(txn, func(m *Memory) { m.confHeight[account] = cp })
	return nil
}

func (m *Memory) DelConfirmationHeight(txn Txn, account core.Account) error {
	m.record(txn, func(m *Memory) { delete(m.confHeight, account) })
	return nil
}

// ---- Frontiers ----

func (m *Memory) GetFrontier(txn Txn, hash core.Hash) (core.Account, bool) {
	m.rlockIfRead(txn)
	defer m.runlockIfRead(txn)
	a, ok := m.frontiers[hash]
	return a, ok
}

func (m *Memory) PutFrontier(txn Txn, hash core.Hash, account core.Account) error {
	m.record(txn, func(m *Memory) { m.frontiers[hash] = account })
	return nil
}

func (m *Memory) DelFrontier(txn Txn, hash core.Hash) error {
	m.record(txn, func(m *Memory) { delete(m.frontiers, hash) })
	return nil
}

// ---- Unchecked ----

func (m *Memory) PutUnchecked(txn Txn, dependency core.Hash, block *core.Block, arrived time.Time) error {
	cp := *block
	m.record(txn, func(m *Memory) {
		m.unchecked[dependency] = append(m.unchecked[dependency], uncheckedEntry{block: cp, arrived: arrived})
	})
	return nil
}

func (m *Memory) GetUnchecked(txn Txn, dependency core.Hash) ([]*core.Block, error) {
	m.rlockIfRead(txn)
	defer m.runlockIfRead(txn)
	entries := m.unchecked[dependency]
	sorted := make([]uncheckedEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].arrived.Before(sorted[j].arrived) })
	out := make([]*core.Block, len(sorted))
	for i := range sorted {
		b := sorted[i].block
		out[i] = &b
	}
	return out, nil
}

func (m *Memory) DelUnchecked(txn Txn, dependency core.Hash, blockHash core.Hash) error {
	m.record(txn, func(m *Memory) {
		entries := m.unchecked[dependency]
		filtered := entries[:0]
		for _, e := range entries {
			if wire.HashBlock(&e.block) != blockHash {
				filtered = append(filtered, e)
			}
		}
		if len(filtered) == 0 {
			delete(m.unchecked, dependency)
		} else {
			m.unchecked[dependency] = filtered
		}
	})
	return nil
}

// ---- Meta ----

func (m *Memory) GetVersion(txn Txn) (int, error) {
	m.rlockIfRead(txn)
	defer m.runlockIfRead(txn)
	return m.version, nil
}

func (m *Memory) PutVersion(txn Txn, version int) error {
	m.record(txn, func(m *Memory) { m.version = version })
	return nil
}

// ---- helpers ----

func (m *Memory) rlockIfRead(txn Txn) {
	// Read transactions already hold RLock from TxBeginRead; operations
	// performed against a write transaction before commit read the
	// not-yet-mutated committed state, consistent with "writes are
	// buffered until commit".
	if !txn.isWrite() {
		return
	}
	m.mu.RLock()
}

func (m *Memory) runlockIfRead(txn Txn) {
	if !txn.isWrite() {
		return
	}
	m.mu.RUnlock()
}
