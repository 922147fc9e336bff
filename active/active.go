// Package active implements Active Transactions from spec.md §4.2: the
// dual-indexed live-election collection, its insertion and prioritization
// rules, the adjusted-multiplier dependency-ordering pass, the request-loop
// driver thread, frontier confirmation scanning, account activation, vote
// ingress, and the inactive-votes/recently-confirmed/recently-dropped
// caches.
//
// Grounded in the teacher's consensus.PoA for the request-loop shape
// (collaborators injected as constructor parameters, a ticker-driven Run
// that blocks until stopped, bracketed log tags), and in go-ethereum's
// core package for the recency-bounded LRU caches
// (github.com/hashicorp/golang-lru), which this domain needs for
// inactive_votes_cache and recently_dropped_cache the same way
// go-ethereum bounds its block/header caches.
package active

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/latticenode/node/collab"
	"github.com/latticenode/node/config"
	"github.com/latticenode/node/confheight"
	"github.com/latticenode/node/core"
	"github.com/latticenode/node/election"
	"github.com/latticenode/node/events"
	"github.com/latticenode/node/ledger"
	"github.com/latticenode/node/store"
	"github.com/latticenode/node/wire"
	"github.com/latticenode/node/work"
)

// epsilonStep is the per-level offset the adjusted-multiplier pass adds to
// a connected component's mean multiplier (spec.md §4.2): small enough
// that no realistic dependency-chain depth lets ε·level cross into a
// neighboring component's mean, but large enough to survive float64
// rounding at the multiplier magnitudes Thresholds.Multiplier produces.
const epsilonStep = 1e-9

const (
	recentlyConfirmedCapacity = 65536
	recentlyDroppedCapacity   = 65536
	inactiveVotesCapacity     = 65536
	recentlyDroppedWindow     = 2 * time.Minute
	frontierScanBudget        = 64
	// dependencyActivationThreshold is the confirm-req count spec.md §4.2
	// step 5 calls "failed to confirm within a threshold" before an
	// election's winner is queued for dependency activation.
	dependencyActivationThreshold = 4
)

// confirmedEntry is one slot in the recently-confirmed FIFO.
type confirmedEntry struct {
	root core.QualifiedRoot
	hash core.Hash
}

// recentlyConfirmedCache is a bounded FIFO of (qualified-root, winner-hash)
// pairs (spec.md §4.2 "Recently-confirmed cache"). It is hand-rolled
// rather than built on hashicorp/golang-lru because its eviction policy is
// insertion order, not access recency — the two diverge the moment a
// tombstoned root is looked up again, which is the cache's entire purpose.
type recentlyConfirmedCache struct {
	mu      sync.Mutex
	order   []core.QualifiedRoot
	entries map[core.QualifiedRoot]confirmedEntry
	hashes  map[core.Hash]struct{}
	cap     int
}

func newRecentlyConfirmedCache(capacity int) *recentlyConfirmedCache {
	return &recentlyConfirmedCache{
		entries: make(map[core.QualifiedRoot]confirmedEntry),
		hashes:  make(map[core.Hash]struct{}),
		cap:     capacity,
	}
}

func (c *recentlyConfirmedCache) ContainsRoot(root core.QualifiedRoot) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[root]
	return ok
}

func (c *recentlyConfirmedCache) ContainsHash(hash core.Hash) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.hashes[hash]
	return ok
}

func (c *recentlyConfirmedCache) Push(root core.QualifiedRoot, hash core.Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[root]; !exists {
		c.order = append(c.order, root)
	}
	c.entries[root] = confirmedEntry{root: root, hash: hash}
	c.hashes[hash] = struct{}{}
	for len(c.order) > c.cap {
		oldest := c.order[0]
		c.order = c.order[1:]
		old := c.entries[oldest]
		delete(c.entries, oldest)
		delete(c.hashes, old.hash)
	}
}

// inactiveVoteEntry accumulates voters for a block hash active
// transactions has not yet seen (spec.md §4.2 "Inactive votes cache").
type inactiveVoteEntry struct {
	voters map[core.Account]struct{}
	weight core.Amount
}

// pendingDependency is a winner hash queued for step 5's activate-dependencies
// pass (spec.md §4.2).
type pendingDependency struct {
	hash core.Hash
}

// InsertResult is the outcome of Insert (spec.md §4.2 "insert").
type InsertResult struct {
	Election *election.Election
	Inserted bool
}

// VoteResult classifies how Vote processed an incoming ballot (spec.md
// §4.2 "Vote ingress").
type VoteResult int

const (
	VoteProcessed VoteResult = iota
	VoteReplay
	VoteIndeterminate
)

// Transactions is the live-election index and request-loop driver (spec.md
// §4.2). It owns every *election.Election it creates: callers reach
// elections only through Insert's returned handle or through Vote/Activate,
// never by walking the index directly, the same discipline
// core.Blockchain uses for its own block map in the teacher.
type Transactions struct {
	mu sync.Mutex

	byRoot   map[core.QualifiedRoot]*election.Election
	byHash   map[core.Hash]*election.Election
	raw      map[core.QualifiedRoot]float64 // last known raw normalized multiplier
	adjusted map[core.QualifiedRoot]float64 // adjusted_multiplier, recomputed by the BFS pass
	worklist []core.QualifiedRoot

	multiplierHistory []float64

	pendingDeps []pendingDependency

	frontierCandidates map[core.Account]struct{}
	watched            map[core.Account]struct{}

	recentlyConfirmed *recentlyConfirmedCache
	recentlyDropped   *lru.Cache
	inactiveVotes     *lru.Cache

	ledger       *ledger.Ledger
	store        store.Store
	cfg          *config.Config
	emitter      *events.Emitter
	confheight   *confheight.Processor
	broadcaster  collab.VoteBroadcaster
	bootstrapper collab.Bootstrapper
	thresholds   *work.Thresholds

	representativesFn func() []core.Account
}

// New builds a Transactions index. confheightProcessor, broadcaster and
// bootstrapper may be nil (e.g. in unit tests that only exercise Insert
// and the caches); the corresponding side effects are skipped.
func New(cfg *config.Config, st store.Store, l *ledger.Ledger, emitter *events.Emitter, confheightProcessor *confheight.Processor, broadcaster collab.VoteBroadcaster, bootstrapper collab.Bootstrapper) *Transactions {
	dropped, err := lru.New(recentlyDroppedCapacity)
	if err != nil {
		// lru.New only errors for size <= 0, which the package constant
		// above never is.
		panic(err)
	}
	inactive, err := lru.New(inactiveVotesCapacity)
	if err != nil {
		panic(err)
	}
	return &Transactions{
		byRoot:             make(map[core.QualifiedRoot]*election.Election),
		byHash:             make(map[core.Hash]*election.Election),
		raw:                make(map[core.QualifiedRoot]float64),
		adjusted:           make(map[core.QualifiedRoot]float64),
		frontierCandidates: make(map[core.Account]struct{}),
		watched:            make(map[core.Account]struct{}),
		recentlyConfirmed:  newRecentlyConfirmedCache(recentlyConfirmedCapacity),
		recentlyDropped:    dropped,
		inactiveVotes:      inactive,
		ledger:             l,
		store:              st,
		cfg:                cfg,
		emitter:            emitter,
		confheight:         confheightProcessor,
		broadcaster:        broadcaster,
		bootstrapper:       bootstrapper,
		thresholds:         cfg.WorkThresholds(),
	}
}

// SetRepresentatives registers the callback Transactions uses to discover
// the current principal-representative set for confirm-req solicitation.
// Peer/weight discovery is out of scope for this core (spec.md §1), so the
// request loop requests nothing from representatives until a collaborator
// wires this in.
func (t *Transactions) SetRepresentatives(fn func() []core.Account) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.representativesFn = fn
}

func (t *Transactions) representatives() []core.Account {
	t.mu.Lock()
	fn := t.representativesFn
	t.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn()
}

// Watch marks account as wallet-watched, exempting its non-prioritized
// election from eviction past election_time_to_live (spec.md §4.2
// "Prioritized vs non-prioritized").
func (t *Transactions) Watch(account core.Account) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.watched[account] = struct{}{}
	t.frontierCandidates[account] = struct{}{}
}

// NoteAccount records account as a frontier-scan candidate. blockproc
// calls this for every account it touches; the Store trait has no
// full-table account iterator (spec.md §6 does not require one), so the
// frontier confirmation scan works over this caller-maintained set instead
// of a ledger-wide walk.
func (t *Transactions) NoteAccount(account core.Account) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frontierCandidates[account] = struct{}{}
}

// Len reports the number of live elections.
func (t *Transactions) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byRoot)
}

// Find returns the election for root, if one is live.
func (t *Transactions) Find(root core.QualifiedRoot) (*election.Election, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byRoot[root]
	return e, ok
}

func (t *Transactions) normalizedMultiplier(b *core.Block) float64 {
	digest := work.Digest(b.Root(), b.Work)
	return t.thresholds.Multiplier(digest)
}

// Insert creates or updates an election for block (spec.md §4.2 "insert").
func (t *Transactions) Insert(block *core.Block, confirmationType events.ConfirmationType) InsertResult {
	root := block.QualifiedRoot()
	hash := wire.HashBlock(block)
	now := time.Now()

	t.mu.Lock()
	existing, ok := t.byRoot[root]
	t.mu.Unlock()
	if ok {
		t.publishToExisting(existing, block, now)
		return InsertResult{Election: existing, Inserted: false}
	}

	if t.recentlyConfirmed.ContainsRoot(root) {
		return InsertResult{Inserted: false}
	}

	multiplier := t.normalizedMultiplier(block)
	tuning := election.Tuning{
		QuorumNumerator:   t.cfg.QuorumFractionNumerator,
		QuorumDenominator: t.cfg.QuorumFractionDenominator,
		OnlineWeightStake: core.NewAmount(t.cfg.OnlineWeightMinimum),
		TimeToLive:        t.cfg.ElectionTimeToLive,
		Grace:             election.DefaultGrace,
	}
	e := election.New(root, block, t.ledger, tuning, now)
	t.wireElection(e, root, hash, confirmationType)

	t.mu.Lock()
	t.byRoot[root] = e
	t.byHash[hash] = e
	t.raw[root] = multiplier
	t.adjusted[root] = multiplier
	t.worklist = append(t.worklist, root)

	var cachedVoters map[core.Account]struct{}
	if v, found := t.inactiveVotes.Get(hash); found {
		cachedVoters = v.(*inactiveVoteEntry).voters
		t.inactiveVotes.Remove(hash)
	}
	t.mu.Unlock()

	// Replay cached inactive votes after releasing t.mu: a replayed vote
	// can cross quorum immediately, and the confirmed callback below
	// re-enters Transactions to erase the election.
	for voter := range cachedVoters {
		e.Vote(voter, 0, hash, now)
	}

	return InsertResult{Election: e, Inserted: true}
}

// publishToExisting adds block to an already-live election (spec.md §4.2
// "Update on new block for existing root").
func (t *Transactions) publishToExisting(e *election.Election, block *core.Block, now time.Time) {
	multiplier := t.normalizedMultiplier(block)
	if !e.Publish(block, now) {
		return
	}
	hash := wire.HashBlock(block)
	root := e.Root()
	t.mu.Lock()
	t.byHash[hash] = e
	if multiplier > t.raw[root] {
		t.raw[root] = multiplier
		t.worklist = append(t.worklist, root)
	}
	t.mu.Unlock()
}

// wireElection attaches the confirmed/cleanup callbacks that keep the
// index, caches and confirmation-height queue in sync with an election's
// lifecycle (spec.md §4.3 "On quorum" / "Cleanup").
func (t *Transactions) wireElection(e *election.Election, root core.QualifiedRoot, hash core.Hash, confirmationType events.ConfirmationType) {
	e.OnConfirmed(func(winner *core.Block) {
		winnerHash := wire.HashBlock(winner)
		t.recentlyConfirmed.Push(root, winnerHash)
		if t.confheight != nil {
			t.confheight.Enqueue(winnerHash, confirmationType)
		}
		t.eraseElection(e, root)
	})
	e.OnCleanup(func() {
		t.recentlyDropped.Add(root, time.Now())
		t.eraseElection(e, root)
		t.emitter.EmitActiveStopped(events.ActiveStopped{Hash: hash})
	})
}

func (t *Transactions) eraseElection(e *election.Election, root core.QualifiedRoot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.byRoot[root] != e {
		return
	}
	delete(t.byRoot, root)
	delete(t.raw, root)
	delete(t.adjusted, root)
	for h := range e.Blocks() {
		if t.byHash[h] == e {
			delete(t.byHash, h)
		}
	}
}

// dependencyGraphLocked builds the forward/backward adjacency the
// adjusted-multiplier BFS walks (spec.md §4.2 "Adjusted multiplier"):
// parentOf[root] are roots whose winner block root depends on directly
// (previous/source/link), childOf[root] are roots explicitly recorded as
// dependents of root's winner. t.mu must be held.
func (t *Transactions) dependencyGraphLocked() (parentOf, childOf map[core.QualifiedRoot][]core.QualifiedRoot) {
	parentOf = make(map[core.QualifiedRoot][]core.QualifiedRoot)
	childOf = make(map[core.QualifiedRoot][]core.QualifiedRoot)
	for root, e := range t.byRoot {
		_, winner := e.Winner()
		if winner == nil {
			continue
		}
		for _, dep := range t.ledger.DependentBlocks(winner) {
			if dep.IsZero() {
				continue
			}
			if pe, ok := t.byHash[dep]; ok && pe.Root() != root {
				parentOf[root] = append(parentOf[root], pe.Root())
			}
		}
		for _, dhash := range e.Dependents() {
			if de, ok := t.byHash[dhash]; ok && de.Root() != root {
				childOf[root] = append(childOf[root], de.Root())
			}
		}
	}
	return parentOf, childOf
}

// recomputeAdjustedMultipliers runs the BFS pass over every component
// touched since the last pass (spec.md §4.2 "Adjusted multiplier").
func (t *Transactions) recomputeAdjustedMultipliers() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.worklist) == 0 {
		return
	}
	queue := t.worklist
	t.worklist = nil

	parentOf, childOf := t.dependencyGraphLocked()

	type node struct {
		root  core.QualifiedRoot
		level int
	}
	visited := make(map[core.QualifiedRoot]bool)
	for _, start := range queue {
		if visited[start] {
			continue
		}
		if _, ok := t.byRoot[start]; !ok {
			continue
		}
		component := []node{{start, 0}}
		visited[start] = true
		sum := t.raw[start]
		for i := 0; i < len(component); i++ {
			cur := component[i]
			for _, p := range parentOf[cur.root] {
				if !visited[p] {
					visited[p] = true
					sum += t.raw[p]
					component = append(component, node{p, cur.level + 1})
				}
			}
			for _, c := range childOf[cur.root] {
				if !visited[c] {
					visited[c] = true
					sum += t.raw[c]
					component = append(component, node{c, cur.level - 1})
				}
			}
		}
		mean := sum / float64(len(component))
		for _, n := range component {
			t.adjusted[n.root] = mean + float64(n.level)*epsilonStep
		}
	}
}

func medianOf(vals []float64) float64 {
	if len(vals) == 0 {
		return 1
	}
	sorted := append([]float64{}, vals...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// updateTrendedMultiplier computes the median of the top-cutoff adjusted
// multipliers, pushes it into the ring buffer, and returns the moving
// average (spec.md §4.2 request loop step 2).
func (t *Transactions) updateTrendedMultiplier() float64 {
	t.mu.Lock()
	vals := make([]float64, 0, len(t.adjusted))
	for _, m := range t.adjusted {
		vals = append(vals, m)
	}
	cutoff := t.cfg.PrioritizedCutoff()
	window := t.cfg.MultiplierHistoryWindow
	t.mu.Unlock()

	sort.Sort(sort.Reverse(sort.Float64Slice(vals)))
	if len(vals) > cutoff {
		vals = vals[:cutoff]
	}
	median := medianOf(vals)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.multiplierHistory = append(t.multiplierHistory, median)
	if window > 0 && len(t.multiplierHistory) > window {
		t.multiplierHistory = t.multiplierHistory[len(t.multiplierHistory)-window:]
	}
	sum := 0.0
	for _, v := range t.multiplierHistory {
		sum += v
	}
	trended := sum / float64(len(t.multiplierHistory))
	t.emitter.EmitDifficulty(t.thresholds.DigestForMultiplier(trended))
	return trended
}

// frontierConfirmationScan implements spec.md §4.2 request loop step 3:
// when the confirmation-height queue has headroom, start elections on the
// accounts with the most uncemented blocks, up to budget.
func (t *Transactions) frontierConfirmationScan(budget int) {
	if t.confheight != nil && t.confheight.PendingLen() >= t.cfg.ConfirmedFrontiersMaxPendingSize {
		return
	}

	t.mu.Lock()
	candidates := make([]core.Account, 0, len(t.frontierCandidates))
	for a := range t.frontierCandidates {
		candidates = append(candidates, a)
	}
	t.mu.Unlock()
	if len(candidates) == 0 {
		return
	}

	type gap struct {
		account core.Account
		depth   int64
	}
	var gaps []gap
	txn := t.store.TxBeginRead()
	for _, a := range candidates {
		info, err := t.store.GetAccount(txn, a)
		if err != nil {
			continue
		}
		height := int64(0)
		if confInfo, err := t.store.GetConfirmationHeight(txn, a); err == nil {
			height = confInfo.Height
		}
		if info.BlockCount > height {
			gaps = append(gaps, gap{a, info.BlockCount - height})
		}
	}
	t.store.TxDiscard(txn)

	sort.Slice(gaps, func(i, j int) bool { return gaps[i].depth > gaps[j].depth })
	if len(gaps) > budget {
		gaps = gaps[:budget]
	}
	for _, g := range gaps {
		t.Activate(g.account)
	}
}

// canVote reports whether every dependency of b is already cemented
// (spec.md §4.2 "activate"'s can_vote check), so an election is never
// started for a block this node cannot yet validate to quorum.
func (t *Transactions) canVote(txn store.Txn, b *core.Block) bool {
	for _, dep := range t.ledger.DependentBlocks(b) {
		if dep.IsZero() {
			continue
		}
		depAccount, err := t.ledger.Account(txn, dep)
		if err != nil {
			return false
		}
		depBlock, err := t.store.GetBlock(txn, dep)
		if err != nil {
			return false
		}
		height := int64(0)
		if confInfo, err := t.store.GetConfirmationHeight(txn, depAccount); err == nil {
			height = confInfo.Height
		}
		if depBlock.Sideband.Height > height {
			return false
		}
	}
	return true
}

// Activate starts an election for account's next uncemented block, if any
// (spec.md §4.2 "activate"). The confirmation-height processor calls this
// through AfterCement to chain-activate the next block once each cement
// lands; the frontier scan and dependency activation also call it.
func (t *Transactions) Activate(account core.Account) (*election.Election, bool) {
	txn := t.store.TxBeginRead()
	defer t.store.TxDiscard(txn)

	info, err := t.store.GetAccount(txn, account)
	if err != nil {
		return nil, false
	}
	height := int64(0)
	frontier := core.ZeroHash
	if confInfo, err := t.store.GetConfirmationHeight(txn, account); err == nil {
		height, frontier = confInfo.Height, confInfo.Frontier
	}
	if info.BlockCount <= height {
		return nil, false
	}

	var next core.Hash
	if height == 0 {
		next = info.Open
	} else {
		// Sideband.Successor is not filled in on commit, so find the
		// block whose previous is the frontier by walking back from head.
		for cur := info.Head; !cur.IsZero() && cur != frontier; {
			b, err := t.store.GetBlock(txn, cur)
			if err != nil {
				return nil, false
			}
			if b.Previous == frontier {
				next = cur
				break
			}
			cur = b.Previous
		}
	}
	if next.IsZero() {
		return nil, false
	}
	block, err := t.store.GetBlock(txn, next)
	if err != nil {
		return nil, false
	}
	if !t.canVote(txn, block) {
		return nil, false
	}
	result := t.Insert(block, events.ConfirmationActiveQuorum)
	return result.Election, result.Inserted
}

// Restart re-inserts an election for root if it was dropped within the
// last two minutes and block's work exceeds the ledger-stored copy
// (spec.md §4.2 "Restart").
func (t *Transactions) Restart(block *core.Block) (*election.Election, bool) {
	root := block.QualifiedRoot()
	droppedAtAny, ok := t.recentlyDropped.Get(root)
	if !ok {
		return nil, false
	}
	if time.Since(droppedAtAny.(time.Time)) > recentlyDroppedWindow {
		return nil, false
	}

	hash := wire.HashBlock(block)
	txn := t.store.TxBeginWrite()
	defer t.store.TxDiscard(txn)
	stored, err := t.store.GetBlock(txn, hash)
	if err != nil || block.Work <= stored.Work {
		return nil, false
	}
	stored.Work = block.Work
	if err := t.store.PutBlock(txn, hash, stored); err != nil {
		return nil, false
	}
	if err := t.store.TxCommit(txn); err != nil {
		return nil, false
	}

	t.recentlyDropped.Remove(root)
	result := t.Insert(stored, events.ConfirmationActiveQuorum)
	return result.Election, result.Inserted
}

func (t *Transactions) cacheInactiveVote(hash core.Hash, voter core.Account) {
	t.mu.Lock()
	var entry *inactiveVoteEntry
	if v, ok := t.inactiveVotes.Get(hash); ok {
		entry = v.(*inactiveVoteEntry)
	} else {
		entry = &inactiveVoteEntry{voters: make(map[core.Account]struct{})}
	}
	firstTime := false
	if _, already := entry.voters[voter]; !already {
		entry.voters[voter] = struct{}{}
		entry.weight = entry.weight.Add(t.ledger.Weight(voter))
		firstTime = true
	}
	t.inactiveVotes.Add(hash, entry)
	weight := entry.weight
	minimum := core.NewAmount(t.cfg.OnlineWeightMinimum)
	t.mu.Unlock()

	if firstTime && weight.Cmp(minimum) > 0 && t.bootstrapper != nil {
		if err := t.bootstrapper.ScheduleLazy(context.Background(), hash); err != nil {
			log.Printf("[active] schedule lazy bootstrap for %s: %v", hash, err)
		}
	}
}

// Vote delivers a representative's ballot to every live election its
// hashes name (spec.md §4.2 "Vote ingress").
func (t *Transactions) Vote(v *wire.Vote) VoteResult {
	now := time.Now()
	anyProcessed := false
	allReplay := true

	for _, hash := range v.Hashes {
		t.mu.Lock()
		e, ok := t.byHash[hash]
		t.mu.Unlock()
		if ok {
			processed, replay := e.Vote(v.Account, v.Sequence, hash, now)
			if processed {
				anyProcessed = true
			}
			if !replay {
				allReplay = false
			}
			continue
		}
		if t.recentlyConfirmed.ContainsHash(hash) {
			continue
		}
		allReplay = false
		t.cacheInactiveVote(hash, v.Account)
	}

	result := VoteIndeterminate
	code := events.VoteCodeIndeterminate
	switch {
	case anyProcessed:
		result, code = VoteProcessed, events.VoteCodeVote
	case allReplay:
		result, code = VoteReplay, events.VoteCodeReplay
	}
	t.emitter.EmitVote(events.VoteReceived{Account: v.Account, Sequence: v.Sequence, Code: code})
	return result
}

func (t *Transactions) notePendingDependency(hash core.Hash) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range t.pendingDeps {
		if p.hash == hash {
			return
		}
	}
	t.pendingDeps = append(t.pendingDeps, pendingDependency{hash: hash})
}

// transitionElections runs spec.md §4.2 request loop step 4: tick every
// live election's TransitionTime in descending adjusted-multiplier order,
// soliciting confirm-req only from the top prioritized cutoff.
func (t *Transactions) transitionElections() {
	type ranked struct {
		root core.QualifiedRoot
		e    *election.Election
		adj  float64
	}

	t.mu.Lock()
	rankedElections := make([]ranked, 0, len(t.byRoot))
	for root, e := range t.byRoot {
		rankedElections = append(rankedElections, ranked{root: root, e: e, adj: t.adjusted[root]})
	}
	cutoff := t.cfg.PrioritizedCutoff()
	t.mu.Unlock()

	sort.Slice(rankedElections, func(i, j int) bool { return rankedElections[i].adj > rankedElections[j].adj })

	now := time.Now()
	reps := t.representatives()
	for i, r := range rankedElections {
		var publish func(*core.Block)
		var requestConfirmation func(*core.Block, []core.Account)
		if i < cutoff && t.broadcaster != nil {
			broadcaster := t.broadcaster
			publish = func(b *core.Block) {
				if err := broadcaster.Publish(context.Background(), b); err != nil {
					log.Printf("[active] publish %s: %v", wire.HashBlock(b), err)
				}
			}
			requestConfirmation = func(b *core.Block, unvoted []core.Account) {
				if err := broadcaster.RequestConfirmation(context.Background(), b, unvoted); err != nil {
					log.Printf("[active] request confirmation %s: %v", wire.HashBlock(b), err)
				}
			}
		}

		r.e.TransitionTime(now, reps, publish, requestConfirmation)

		if !r.e.State().IsTerminal() && r.e.ConfirmationRequestCount() >= dependencyActivationThreshold {
			winnerHash, _ := r.e.Winner()
			t.notePendingDependency(winnerHash)
		}
	}
}

func (t *Transactions) walkBack(txn store.Txn, from core.Hash, steps int64) (core.Hash, error) {
	h := from
	for i := int64(0); i < steps; i++ {
		b, err := t.store.GetBlock(txn, h)
		if err != nil {
			return core.Hash{}, err
		}
		if b.Previous.IsZero() {
			return h, nil
		}
		h = b.Previous
	}
	return h, nil
}

// activateDependencies runs spec.md §4.2 request loop step 5: for each
// stalled election's winner, activate the first unconfirmed block on its
// account plus a bisection point halfway back toward the confirmed
// frontier (capped at 128 blocks), recording the original hash as the
// newly activated election's dependent.
func (t *Transactions) activateDependencies() {
	t.mu.Lock()
	deps := t.pendingDeps
	t.pendingDeps = nil
	t.mu.Unlock()
	if len(deps) == 0 {
		return
	}

	txn := t.store.TxBeginRead()
	defer t.store.TxDiscard(txn)
	for _, dep := range deps {
		account, err := t.ledger.Account(txn, dep.hash)
		if err != nil {
			continue
		}
		info, err := t.store.GetAccount(txn, account)
		if err != nil {
			continue
		}
		height := int64(0)
		if confInfo, err := t.store.GetConfirmationHeight(txn, account); err == nil {
			height = confInfo.Height
		}
		if info.BlockCount <= height {
			continue
		}

		if e, inserted := t.Activate(account); inserted {
			e.AddDependent(dep.hash)
		}

		back := (info.BlockCount - height) / 2
		if back > 128 {
			back = 128
		}
		if back <= 0 {
			continue
		}
		bisectHash, err := t.walkBack(txn, info.Head, back)
		if err != nil {
			continue
		}
		bisectBlock, err := t.store.GetBlock(txn, bisectHash)
		if err != nil || !t.canVote(txn, bisectBlock) {
			continue
		}
		result := t.Insert(bisectBlock, events.ConfirmationActiveQuorum)
		if result.Inserted {
			result.Election.AddDependent(dep.hash)
		}
	}
}

func (t *Transactions) tick() {
	t.recomputeAdjustedMultipliers()
	t.updateTrendedMultiplier()
	t.frontierConfirmationScan(frontierScanBudget)
	t.transitionElections()
	t.activateDependencies()
}

// Run drives the request-loop thread (spec.md §4.2 "Request loop") until
// ctx is cancelled.
func (t *Transactions) Run(ctx context.Context) {
	interval := t.cfg.RequestLoopInterval
	if interval <= 0 {
		interval = config.DefaultRequestLoopInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.tick()
		}
	}
}
