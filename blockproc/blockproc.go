// Package blockproc implements the Block Processor from spec.md §2/§7: a
// single-threaded pipeline that pulls unvalidated blocks off a bounded
// input queue, runs them through ledger.Process, emits post-commit
// observers, stashes gapped blocks in the unchecked table and re-queues
// them once their dependency commits, and routes forks into active
// transactions for vote-driven resolution.
//
// Grounded on the teacher's consensus.PoA.Run (ticker/channel-driven
// single worker goroutine) for the loop shape, and on
// core.Blockchain.AddBlock's single mutating entry point for why this
// processor, not callers, owns the write transaction around
// ledger.Process.
package blockproc

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/latticenode/node/active"
	"github.com/latticenode/node/core"
	"github.com/latticenode/node/events"
	"github.com/latticenode/node/ledger"
	"github.com/latticenode/node/store"
	"github.com/latticenode/node/wire"
)

// defaultQueueSize bounds the input queue (spec.md §5 "Block processor
// has a bounded input queue").
const defaultQueueSize = 8192

// item is a queued block plus whether it was submitted as a
// locally-originated block (wallet-signed), which controls whether a
// successful commit immediately starts an election (spec.md §2's flow
// diagram: "if fork or wallet-locally-originated) active.insert creates
// Election").
type item struct {
	block *core.Block
	local bool
}

// uncheckedRecord tracks one stashed block's position in the unchecked
// table, kept here rather than queried back from the store because the
// Store trait (spec.md §6) has no cross-dependency-key iterator: this is
// the same caller-maintained-index workaround active.Transactions uses
// for its frontier-scan candidate set (see DESIGN.md).
type uncheckedRecord struct {
	dependency core.Hash
	blockHash  core.Hash
	arrived    time.Time
}

// Processor is the block-processing pipeline. Observer notification on
// commit (spec.md §7's "emits post-events") happens downstream: active
// transactions' election callbacks and the confirmation-height processor
// both hold the same *events.Emitter Processor's caller wires them with, so
// Processor drives them rather than emitting directly.
type Processor struct {
	store      store.Store
	writeQueue *store.WriteQueue
	ledger     *ledger.Ledger
	active     *active.Transactions

	queue chan item

	mu        sync.Mutex
	unchecked []uncheckedRecord
}

// New builds a Processor. active may be nil in tests that only exercise
// commit/gap/unchecked behavior without election wiring.
func New(st store.Store, wq *store.WriteQueue, l *ledger.Ledger, txs *active.Transactions) *Processor {
	return &Processor{
		store:      st,
		writeQueue: wq,
		ledger:     l,
		active:     txs,
		queue:      make(chan item, defaultQueueSize),
	}
}

// Enqueue submits a network-received (or otherwise non-local) block.
func (p *Processor) Enqueue(block *core.Block) {
	p.enqueue(item{block: block, local: false})
}

// EnqueueLocal submits a wallet-signed block originated by this node,
// which starts an election immediately on commit rather than waiting for
// a fork or an external activation path to notice it.
func (p *Processor) EnqueueLocal(block *core.Block) {
	p.enqueue(item{block: block, local: true})
}

// QueueLen reports the number of blocks awaiting processing.
func (p *Processor) QueueLen() int {
	return len(p.queue)
}

func (p *Processor) enqueue(it item) {
	select {
	case p.queue <- it:
		return
	default:
	}
	// Queue is full. Spec.md §5: "overflow drops from the oldest
	// unprocessed unchecked entries" rather than the newest live
	// submission, so make room there first.
	if p.evictOldestUnchecked() {
		select {
		case p.queue <- it:
			return
		default:
		}
	}
	log.Printf("[blockproc] input queue full, dropping block %s", wire.HashBlock(it.block))
}

// Run drains the queue until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case it := <-p.queue:
			p.processOne(it)
		}
	}
}

func (p *Processor) processOne(it item) {
	p.writeQueue.Acquire()
	txn := p.store.TxBeginWrite()
	result, err := p.ledger.Process(txn, it.block)
	if err != nil {
		p.store.TxDiscard(txn)
		p.writeQueue.Release()
		log.Printf("[blockproc] process %s: %v", wire.HashBlock(it.block), err)
		return
	}

	switch result.Code {
	case ledger.Progress:
		if err := p.store.TxCommit(txn); err != nil {
			p.writeQueue.Release()
			log.Printf("[blockproc] commit %s: %v", result.Hash, err)
			return
		}
		p.writeQueue.Release()
		p.onCommitted(it.block, result, it.local)

	case ledger.GapPrevious, ledger.GapSource:
		p.store.TxDiscard(txn)
		p.writeQueue.Release()
		p.stashUnchecked(it.block, result.Code)

	case ledger.Fork:
		p.store.TxDiscard(txn)
		p.writeQueue.Release()
		p.onFork(it.block)

	default:
		p.store.TxDiscard(txn)
		p.writeQueue.Release()
		log.Printf("[blockproc] rejected block %s: %s", wire.HashBlock(it.block), result.Code)
	}
}

// onCommitted runs spec.md §2/§7's post-commit steps: note the account
// for active transactions' frontier scan, start an election immediately
// for a locally-originated block, and re-queue anything that was waiting
// on this hash as a dependency.
func (p *Processor) onCommitted(block *core.Block, result *ledger.ProcessResult, local bool) {
	if p.active != nil {
		p.active.NoteAccount(result.Account)
		if local {
			p.active.Insert(block, events.ConfirmationActiveQuorum)
		}
	}
	p.requeueDependents(result.Hash)
}

// onFork routes a competing block at an existing qualified root into the
// election that decides it (creating one if none is live), per spec.md
// §7's "routed to fork resolution, which consults the current winner in
// the existing election (creating one if needed)". The fork side is not
// written to the store here: if it wins the vote, re-committing it
// requires a rollback of the local chain first (ledger.Rollback), which
// is outside this processor's single-block pipeline and left to the
// operator/bootstrap path (see DESIGN.md) since automating it without a
// real Bootstrapper to fetch the winning side's dependents would risk
// acting on a vote-cache race alone.
func (p *Processor) onFork(block *core.Block) {
	if p.active == nil {
		return
	}
	p.active.Insert(block, events.ConfirmationActiveQuorum)
}

// stashUnchecked records block in the unchecked table keyed by its
// missing dependency (spec.md §7 "Gap errors"), to be re-queued once that
// dependency commits.
func (p *Processor) stashUnchecked(block *core.Block, code ledger.ProcessCode) {
	dep := p.missingDependency(block, code)
	if dep.IsZero() {
		log.Printf("[blockproc] %s on block with no resolvable dependency, dropping", code)
		return
	}
	hash := wire.HashBlock(block)
	now := time.Now()

	p.writeQueue.Acquire()
	txn := p.store.TxBeginWrite()
	if err := p.store.PutUnchecked(txn, dep, block, now); err != nil {
		p.store.TxDiscard(txn)
		p.writeQueue.Release()
		log.Printf("[blockproc] stash unchecked %s: %v", hash, err)
		return
	}
	if err := p.store.TxCommit(txn); err != nil {
		p.writeQueue.Release()
		log.Printf("[blockproc] commit unchecked %s: %v", hash, err)
		return
	}
	p.writeQueue.Release()

	p.mu.Lock()
	p.unchecked = append(p.unchecked, uncheckedRecord{dependency: dep, blockHash: hash, arrived: now})
	p.mu.Unlock()
}

// missingDependency derives the hash a gapped block is waiting on, using
// the same two-slot (previous, source/link) shape ledger.DependentBlocks
// exposes, since Process itself does not hand back which slot gapped. A
// gapped state block has no sideband yet, so DependentBlocks cannot mark
// it a receive; for gap_source its missing dependency is its link.
func (p *Processor) missingDependency(block *core.Block, code ledger.ProcessCode) core.Hash {
	deps := p.ledger.DependentBlocks(block)
	if code == ledger.GapPrevious {
		return deps[0]
	}
	if block.Type == core.BlockState {
		return block.Link
	}
	return deps[1]
}

// requeueDependents re-submits every block that was stashed waiting on
// hash, now that it has committed (spec.md §7: "when that dependency
// later commits, the block is re-queued").
func (p *Processor) requeueDependents(hash core.Hash) {
	txn := p.store.TxBeginRead()
	waiting, err := p.store.GetUnchecked(txn, hash)
	p.store.TxDiscard(txn)
	if err != nil || len(waiting) == 0 {
		return
	}

	for _, b := range waiting {
		blockHash := wire.HashBlock(b)
		delTxn := p.store.TxBeginWrite()
		if err := p.store.DelUnchecked(delTxn, hash, blockHash); err != nil {
			p.store.TxDiscard(delTxn)
			continue
		}
		if err := p.store.TxCommit(delTxn); err != nil {
			continue
		}
		p.removeUncheckedRecord(hash, blockHash)
		p.enqueue(item{block: b, local: false})
	}
}

func (p *Processor) removeUncheckedRecord(dependency, blockHash core.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, r := range p.unchecked {
		if r.dependency == dependency && r.blockHash == blockHash {
			p.unchecked = append(p.unchecked[:i], p.unchecked[i+1:]...)
			return
		}
	}
}

// evictOldestUnchecked drops the longest-stashed unchecked block to make
// room in the input queue under sustained overflow. Returns whether an
// entry was evicted.
func (p *Processor) evictOldestUnchecked() bool {
	p.mu.Lock()
	if len(p.unchecked) == 0 {
		p.mu.Unlock()
		return false
	}
	oldest := p.unchecked[0]
	p.unchecked = p.unchecked[1:]
	p.mu.Unlock()

	txn := p.store.TxBeginWrite()
	defer p.store.TxDiscard(txn)
	if err := p.store.DelUnchecked(txn, oldest.dependency, oldest.blockHash); err != nil {
		return false
	}
	if err := p.store.TxCommit(txn); err != nil {
		return false
	}
	log.Printf("[blockproc] evicted oldest unchecked entry %s (dependency %s)", oldest.blockHash, oldest.dependency)
	return true
}

// UncheckedLen reports how many blocks are currently stashed awaiting a
// dependency, for tests and telemetry.
func (p *Processor) UncheckedLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.unchecked)
}
