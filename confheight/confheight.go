// Package confheight implements the Confirmation Height Processor from
// spec.md §4.4: a dedicated worker that walks a confirmed block's account
// chain, pushes unmet cross-account receive dependencies onto a recursive
// stack, and commits batched per-account confirmation-height advances in
// single write transactions, firing a cemented observer per block.
//
// Grounded on the teacher's consensus.PoA.Run (ticker-driven loop checking
// a done channel) for the worker shape, and on ledger.Ledger's single
// write-transaction-per-commit discipline for the crash-safety guarantee:
// a batch either fully commits or not at all, and the next pass always
// re-reads the stored height, so a crash mid-batch loses no cemented state
// and never double-cements.
package confheight

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/latticenode/node/core"
	"github.com/latticenode/node/events"
	"github.com/latticenode/node/ledger"
	"github.com/latticenode/node/store"
)

// pollInterval bounds how long Run sleeps between checking for new work
// when the signal channel and the stop flag both have nothing to report.
const pollInterval = 200 * time.Millisecond

// defaultMaxBatch caps the number of blocks cemented in a single write
// transaction (spec.md §4.4 "batch size is bounded ... to cap
// write-transaction duration and observer latency").
const defaultMaxBatch = 4096

// request is a pending cementation target. typ is non-empty only for a
// directly-enqueued target (spec.md §4.3's "enqueue winner into the
// confirmation-height processor" or a frontier-scan catch-up); it is left
// empty for dependency targets the walk pushes internally, so the
// already-cemented short-circuit only fires an observer for the caller's
// own request, not for every internal dependency check.
type request struct {
	hash core.Hash
	typ  events.ConfirmationType
}

// Processor is the confirmation-height worker (spec.md §5: "only writer to
// the confirmation-height table").
type Processor struct {
	store      store.Store
	writeQueue *store.WriteQueue
	ledger     *ledger.Ledger
	emitter    *events.Emitter
	maxBatch   int

	mu      sync.Mutex
	pending []request
	signal  chan struct{}

	// AfterCement is called once per account after a batch advances that
	// account's confirmation height, so active transactions can
	// chain-activate the next uncemented block (spec.md §4.2 activate).
	// Wired at construction by cmd/node rather than imported directly,
	// since active already depends on confheight and the reverse edge
	// would cycle.
	AfterCement func(account core.Account)
}

// New builds a Processor. wq must be the same WriteQueue the block
// processor uses, so the two writers never open overlapping transactions
// (spec.md §5).
func New(st store.Store, wq *store.WriteQueue, l *ledger.Ledger, emitter *events.Emitter) *Processor {
	return &Processor{
		store:      st,
		writeQueue: wq,
		ledger:     l,
		emitter:    emitter,
		maxBatch:   defaultMaxBatch,
		signal:     make(chan struct{}, 1),
	}
}

// Enqueue schedules hash for cementation (spec.md §4.4 "input: a queue of
// block hashes considered confirmed by their election").
func (p *Processor) Enqueue(hash core.Hash, typ events.ConfirmationType) {
	p.mu.Lock()
	p.pending = append(p.pending, request{hash: hash, typ: typ})
	p.mu.Unlock()
	select {
	case p.signal <- struct{}{}:
	default:
	}
}

// PendingLen reports queue depth, used by active transactions to throttle
// frontier-confirmation scans (spec.md §5, confirmed_frontiers_max_pending_size).
func (p *Processor) PendingLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

func (p *Processor) dequeue() (request, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pending) == 0 {
		return request{}, false
	}
	r := p.pending[0]
	p.pending = p.pending[1:]
	return r, true
}

// Run drains the queue until ctx is cancelled. Spec.md §5 calls for a
// dedicated confirmation-height thread; the node's stop() joins this after
// the block processor.
func (p *Processor) Run(ctx context.Context) {
	for {
		r, ok := p.dequeue()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-p.signal:
				continue
			case <-time.After(pollInterval):
				continue
			}
		}
		if err := p.process(ctx, r); err != nil {
			log.Printf("[confheight] process %s: %v", r.hash, err)
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// ProcessOne runs a single enqueued target synchronously, for tests and
// for a caller (e.g. bootstrap catch-up) that wants to wait for the result.
func (p *Processor) ProcessOne(ctx context.Context, hash core.Hash, typ events.ConfirmationType) error {
	return p.process(ctx, request{hash: hash, typ: typ})
}

// process runs the LIFO dependency-stack walk for one enqueued target
// (spec.md §4.4 steps 1-4).
func (p *Processor) process(ctx context.Context, r request) error {
	stack := []request{r}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		popped, dep, err := p.step(top)
		if err != nil {
			return err
		}
		if dep != nil {
			stack = append(stack, *dep)
			continue
		}
		if popped {
			stack = stack[:len(stack)-1]
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return nil
}

// step processes one stack entry: if it is already cemented, pops it
// (firing already_cemented for a top-level request). Otherwise it collects
// the uncemented chain segment on that account, commits as much of it as
// has no unmet cross-account dependency, and either pops (fully committed),
// pushes a dependency (spec.md §4.4 step 2's "source-block dependency"), or
// returns popped=false/dep=nil to continue the same target next call when
// the batch was truncated by maxBatch.
func (p *Processor) step(target request) (popped bool, dep *request, err error) {
	p.writeQueue.Acquire()
	defer p.writeQueue.Release()

	txn := p.store.TxBeginWrite()
	defer p.store.TxDiscard(txn)

	targetBlock, err := p.store.GetBlock(txn, target.hash)
	if err != nil {
		return false, nil, fmt.Errorf("confheight: get target block: %w", err)
	}
	account, err := p.ledger.Account(txn, target.hash)
	if err != nil {
		return false, nil, fmt.Errorf("confheight: account of target: %w", err)
	}
	if targetBlock.Sideband.Height <= p.confirmedHeight(txn, account) {
		if target.typ != "" {
			p.emitConfirmed(txn, target.hash, account, events.ConfirmationAlreadyCemented)
		}
		return true, nil, nil
	}

	frontier := p.frontier(txn, account)
	chain, hashes, err := p.collectChain(txn, target.hash, frontier)
	if err != nil {
		return false, nil, fmt.Errorf("confheight: collect chain: %w", err)
	}

	blockedAt := -1
	var depHash core.Hash
	for i, b := range chain {
		deps := p.ledger.DependentBlocks(b)
		source := deps[1]
		if source.IsZero() {
			continue
		}
		sourceAccount, err := p.ledger.Account(txn, source)
		if err != nil {
			return false, nil, fmt.Errorf("confheight: account of dependency: %w", err)
		}
		sourceBlock, err := p.store.GetBlock(txn, source)
		if err != nil {
			return false, nil, fmt.Errorf("confheight: get dependency block: %w", err)
		}
		if sourceBlock.Sideband.Height > p.confirmedHeight(txn, sourceAccount) {
			blockedAt = i
			depHash = source
			break
		}
	}

	committable, committableHashes := chain, hashes
	if blockedAt >= 0 {
		committable, committableHashes = chain[:blockedAt], hashes[:blockedAt]
	}
	truncated := false
	if len(committable) > p.maxBatch {
		committable, committableHashes = committable[:p.maxBatch], committableHashes[:p.maxBatch]
		truncated = true
	}

	if len(committable) > 0 {
		last := committable[len(committable)-1]
		lastHash := committableHashes[len(committableHashes)-1]

		// Amounts must be read before commit: once the write transaction
		// commits, reusing it for reads is not guaranteed safe.
		amounts := make([]core.Amount, len(committable))
		for i, h := range committableHashes {
			amt, err := p.ledger.Amount(txn, h)
			if err != nil {
				return false, nil, fmt.Errorf("confheight: amount of %s: %w", h, err)
			}
			amounts[i] = amt
		}

		if err := p.store.PutConfirmationHeight(txn, account, &core.ConfirmationHeightInfo{
			Height:   last.Sideband.Height,
			Frontier: lastHash,
		}); err != nil {
			return false, nil, fmt.Errorf("confheight: put confirmation height: %w", err)
		}
		if err := p.store.TxCommit(txn); err != nil {
			return false, nil, fmt.Errorf("confheight: commit: %w", err)
		}
		for i, h := range committableHashes {
			typ := events.ConfirmationInactiveHeight
			if h == target.hash && target.typ != "" {
				typ = target.typ
			}
			dest := p.ledger.BlockDestination(committable[i])
			p.emitter.EmitBlockConfirmed(events.BlockConfirmed{
				Hash:    h,
				Account: account,
				Amount:  amounts[i],
				IsSend:  !dest.IsZero(),
				Type:    typ,
			})
		}
		if p.AfterCement != nil {
			p.AfterCement(account)
		}
	}

	if blockedAt >= 0 {
		return false, &request{hash: depHash}, nil
	}
	if truncated {
		return false, nil, nil
	}
	return true, nil, nil
}

// confirmedHeight returns account's stored confirmation height, treating a
// not-yet-seen account as height 0 (spec.md §4.1 seeds {0, zero} on open,
// so in practice this only matters for never-opened accounts, which cannot
// appear here since they own no committed block).
func (p *Processor) confirmedHeight(txn store.Txn, account core.Account) int64 {
	info, err := p.store.GetConfirmationHeight(txn, account)
	if err != nil {
		return 0
	}
	return info.Height
}

func (p *Processor) frontier(txn store.Txn, account core.Account) core.Hash {
	info, err := p.store.GetConfirmationHeight(txn, account)
	if err != nil {
		return core.ZeroHash
	}
	return info.Frontier
}

// collectChain walks backward from target via Previous until it reaches
// frontier (the account's current confirmed tip) or a zero previous (an
// open block), returning blocks and hashes in ascending height order.
func (p *Processor) collectChain(txn store.Txn, target, frontier core.Hash) ([]*core.Block, []core.Hash, error) {
	var blocks []*core.Block
	var hashes []core.Hash
	h := target
	for {
		b, err := p.store.GetBlock(txn, h)
		if err != nil {
			return nil, nil, err
		}
		blocks = append(blocks, b)
		hashes = append(hashes, h)
		if b.Previous.IsZero() || b.Previous == frontier {
			break
		}
		h = b.Previous
	}
	for i, j := 0, len(blocks)-1; i < j; i, j = i+1, j-1 {
		blocks[i], blocks[j] = blocks[j], blocks[i]
		hashes[i], hashes[j] = hashes[j], hashes[i]
	}
	return blocks, hashes, nil
}

// emitConfirmed fires an already-cemented duplicate-request observer. It
// runs only from step's pre-commit already-cemented branch, so reading
// through txn here is still safe.
func (p *Processor) emitConfirmed(txn store.Txn, hash core.Hash, account core.Account, typ events.ConfirmationType) {
	b, err := p.store.GetBlock(txn, hash)
	if err != nil {
		return
	}
	amt, err := p.ledger.Amount(txn, hash)
	if err != nil {
		return
	}
	dest := p.ledger.BlockDestination(b)
	p.emitter.EmitBlockConfirmed(events.BlockConfirmed{
		Hash:    hash,
		Account: account,
		Amount:  amt,
		IsSend:  !dest.IsZero(),
		Type:    typ,
	})
}
