// Package store defines the Store trait external collaborator contract
// from spec.md §6 — the transactional KV tables the ledger and
// confirmation-height processor require — plus two implementations: an
// in-memory Memory store for tests (grounded in the teacher's
// internal/testutil in-memory DB) and a goleveldb-backed LevelStore for
// production (grounded in storage.LevelDB/storage.LevelBlockStore).
//
// The block processor and confirmation-height processor serialize their
// write transactions through one shared WriteQueue (spec.md §5). The queue
// only orders callers that acquire it: blockproc's unchecked-table
// cleanup and active.Transactions.Restart open write transactions
// without it.
package store

import (
	"time"

	"github.com/latticenode/node/core"
)

// Txn is an opaque transaction handle. Read transactions observe a
// consistent snapshot; write transactions buffer mutations until
// TxCommit. Implementations type-assert their own concrete txn type
// internally; callers only ever pass the handle they were given back.
type Txn interface {
	isWrite() bool
}

// Store is the full external contract the ledger, block processor and
// confirmation-height processor require.
type Store interface {
	TxBeginRead() Txn
	TxBeginWrite() Txn
	TxCommit(Txn) error
	TxDiscard(Txn)

	// Accounts
	GetAccount(txn Txn, account core.Account) (*core.AccountInfo, error)
	PutAccount(txn Txn, account core.Account, info *core.AccountInfo) error
	DelAccount(txn Txn, account core.Account) error

	// Blocks (all types share one table keyed by hash; sideband is
	// persisted alongside the body per spec.md §3).
	BlockExists(txn Txn, hash core.Hash) bool
	GetBlock(txn Txn, hash core.Hash) (*core.Block, error)
	PutBlock(txn Txn, hash core.Hash, block *core.Block) error
	DelBlock(txn Txn, hash core.Hash) error
	BlockCount(txn Txn) int64

	// Pending (unreceived sends)
	GetPending(txn Txn, key core.PendingKey) (*core.PendingInfo, error)
	PutPending(txn Txn, key core.PendingKey, info *core.PendingInfo) error
	DelPending(txn Txn, key core.PendingKey) error
	PendingAny(txn Txn, destination core.Account) bool

	// Confirmation height
	GetConfirmationHeight(txn Txn, account core.Account) (*core.ConfirmationHeightInfo, error)
	PutConfirmationHeight(txn Txn, account core.Account, info *core.ConfirmationHeightInfo) error
	DelConfirmationHeight(txn Txn, account core.Account) error

	// Frontiers (legacy non-state blocks only: hash -> account)
	GetFrontier(txn Txn, hash core.Hash) (core.Account, bool)
	PutFrontier(txn Txn, hash core.Hash, account core.Account) error
	DelFrontier(txn Txn, hash core.Hash) error

	// Unchecked: blocks gapped on a missing dependency, keyed by that
	// dependency hash plus the block's hash, with arrival time stored
	// alongside (spec.md §7 "Gap errors").
	PutUnchecked(txn Txn, dependency core.Hash, block *core.Block, arrived time.Time) error
	GetUnchecked(txn Txn, dependency core.Hash) ([]*core.Block, error)
	DelUnchecked(txn Txn, dependency core.Hash, blockHash core.Hash) error

	// Meta (schema version)
	GetVersion(txn Txn) (int, error)
	PutVersion(txn Txn, version int) error
}

// WriteQueue serializes distinct writers (block processor vs
// confirmation-height processor) onto a single write transaction at a
// time, per spec.md §5's "writes are serialized by a single-writer
// queue". It is a one-slot channel used as a semaphore rather than an
// actual FIFO queue, since no writer needs to inspect the queue depth.
type WriteQueue struct {
	ch chan struct{}
}

// NewWriteQueue returns a WriteQueue with a single permit.
func NewWriteQueue() *WriteQueue {
	q := &WriteQueue{ch: make(chan struct{}, 1)}
	q.ch <- struct{}{}
	return q
}

// Acquire blocks until the single write permit is available.
func (q *WriteQueue) Acquire() { <-q.ch }

// Release returns the write permit.
func (q *WriteQueue) Release() { q.ch <- struct{}{} }
