// Package election implements the per-root vote-tally state machine from
// spec.md §4.3: Vote, Publish, TransitionTime, the quorum predicates and
// cleanup. Grounded on the teacher's consensus.PoA, which takes its
// collaborators (ledger, mempool, emitter) as constructor parameters and
// guards its own mutable state with its own lock rather than reaching back
// into a shared node object — the same shape applies here one level down:
// active.Transactions owns a map of *Election and never touches an
// election's internals except through its exported methods.
package election

import (
	"sync"
	"time"

	"github.com/latticenode/node/core"
	"github.com/latticenode/node/wire"
)

// State is the election lifecycle enumeration from spec.md §4.3.
type State int

const (
	StatePassive State = iota
	StateActive
	StateBroadcasting
	StateConfirmedQuorum
	StateExpiredConfirmed
	StateExpiredUnconfirmed
)

func (s State) String() string {
	switch s {
	case StatePassive:
		return "passive"
	case StateActive:
		return "active"
	case StateBroadcasting:
		return "broadcasting"
	case StateConfirmedQuorum:
		return "confirmed_quorum"
	case StateExpiredConfirmed:
		return "expired_confirmed"
	case StateExpiredUnconfirmed:
		return "expired_unconfirmed"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether an election in this state is done being
// driven by the request loop (confirmed one way or another, or expired).
func (s State) IsTerminal() bool {
	return s == StateConfirmedQuorum || s == StateExpiredConfirmed || s == StateExpiredUnconfirmed
}

// WeightSource is the narrow representative-weight lookup an election
// needs to retally. *ledger.Ledger satisfies this without election
// importing the ledger package, the way the teacher's consensus.PoA takes
// a core.State interface rather than a concrete state type.
type WeightSource interface {
	Weight(account core.Account) core.Amount
}

// VoteInfo is the per-representative entry in an election's last_votes
// table (spec.md §4.3).
type VoteInfo struct {
	Hash     core.Hash
	Sequence uint64
	Time     time.Time
}

// notAnAccount is the synthetic "not-an-account" representative key seeded
// with the election's initial block (spec.md §4.3), so a freshly created
// election already has a winner before any real vote arrives. No ed25519
// public key is ever the zero hash, so it cannot collide with a real rep.
var notAnAccount = core.Hash{}

// Tuning holds the quorum and timing knobs an election needs, supplied by
// active.Transactions from config.Config at construction.
type Tuning struct {
	QuorumNumerator   int64
	QuorumDenominator int64
	OnlineWeightStake core.Amount
	TimeToLive        time.Duration
	Grace             time.Duration
}

// DefaultGrace is the passive-to-active delay spec.md §4.3 calls "a short
// grace period" without naming a duration; picked to give near-simultaneous
// local votes a chance to land before the first confirm-req goes out.
const DefaultGrace = 200 * time.Millisecond

// Election is the per-qualified-root vote tally and lifecycle state
// machine (spec.md §4.3).
type Election struct {
	mu sync.Mutex

	root    core.QualifiedRoot
	blocks  map[core.Hash]*core.Block
	lastVotes map[core.Account]VoteInfo
	tally   map[core.Hash]core.Amount

	winner core.Hash
	state  State

	confirmationRequestCount int
	lastReqTime              time.Time
	electionStart            time.Time

	dependents []core.Hash

	weights WeightSource
	tuning  Tuning

	confirmedOnce bool
	onConfirmed   []func(winner *core.Block)
	cleanedUpOnce bool
	onCleanup     []func()
}

// New creates an election for root, seeded with initial as both the first
// candidate block and the synthetic not-an-account winner (spec.md §4.3).
func New(root core.QualifiedRoot, initial *core.Block, weights WeightSource, tuning Tuning, now time.Time) *Election {
	hash := wire.HashBlock(initial)
	e := &Election{
		root:      root,
		blocks:    map[core.Hash]*core.Block{hash: initial},
		lastVotes: map[core.Account]VoteInfo{notAnAccount: {Hash: hash, Sequence: 0, Time: now}},
		tally:     map[core.Hash]core.Amount{},
		winner:    hash,
		state:     StatePassive,
		electionStart: now,
		weights:   weights,
		tuning:    tuning,
	}
	return e
}

// Root returns the qualified root this election competes over.
func (e *Election) Root() core.QualifiedRoot { return e.root }

// State returns the current lifecycle state.
func (e *Election) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Winner returns the current winning hash and block.
func (e *Election) Winner() (core.Hash, *core.Block) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.winner, e.blocks[e.winner]
}

// Blocks returns a snapshot copy of the candidate block set.
func (e *Election) Blocks() map[core.Hash]*core.Block {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[core.Hash]*core.Block, len(e.blocks))
	for h, b := range e.blocks {
		out[h] = b
	}
	return out
}

// Tally returns a snapshot copy of the current vote tally.
func (e *Election) Tally() map[core.Hash]core.Amount {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[core.Hash]core.Amount, len(e.tally))
	for h, a := range e.tally {
		out[h] = a
	}
	return out
}

// ElectionStart, LastRequestTime and ConfirmationRequestCount expose the
// fields the request loop orders elections and solicits confirm-reqs by.
func (e *Election) ElectionStart() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.electionStart
}

func (e *Election) LastRequestTime() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastReqTime
}

func (e *Election) ConfirmationRequestCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.confirmationRequestCount
}

// AddDependent records hash as depending on this election's winner, so
// Cleanup can clear the back-edge (spec.md §4.3 "clears dependent-block
// back-edges").
func (e *Election) AddDependent(hash core.Hash) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dependents = append(e.dependents, hash)
}

// Dependents returns the hashes recorded via AddDependent.
func (e *Election) Dependents() []core.Hash {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]core.Hash{}, e.dependents...)
}

// OnConfirmed registers fn to be called exactly once, the moment this
// election reaches quorum. Called outside the election's lock, the same
// discipline events.Emitter uses for its own handlers.
func (e *Election) OnConfirmed(fn func(winner *core.Block)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onConfirmed = append(e.onConfirmed, fn)
}

// OnCleanup registers fn to be called exactly once, when Cleanup runs
// (on expiry past the time-to-live, or an explicit Cleanup call).
// Reaching quorum does not call it.
func (e *Election) OnCleanup(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onCleanup = append(e.onCleanup, fn)
}

// Vote applies a single representative's ballot for hash (spec.md §4.3):
// a rep with no prior entry, or a strictly higher sequence, always wins;
// a sequence tie with a different hash goes to the newer arrival; a tie on
// (sequence, hash) is a replay.
func (e *Election) Vote(rep core.Account, sequence uint64, hash core.Hash, now time.Time) (processed, replay bool) {
	e.mu.Lock()
	existing, ok := e.lastVotes[rep]
	switch {
	case !ok, sequence > existing.Sequence, sequence == existing.Sequence && hash != existing.Hash:
		// accept
	default:
		e.mu.Unlock()
		return false, true
	}
	e.lastVotes[rep] = VoteInfo{Hash: hash, Sequence: sequence, Time: now}
	justConfirmed, winnerBlock := e.retallyLocked(now)
	e.mu.Unlock()
	if justConfirmed {
		e.fireConfirmed(winnerBlock)
	}
	return true, false
}

// Publish adds a conflicting block to the election (spec.md §4.3): inserts
// it into blocks and triggers a retally, since existing votes may already
// favor the newcomer (see spec.md §8 scenario 3).
func (e *Election) Publish(block *core.Block, now time.Time) bool {
	hash := wire.HashBlock(block)
	e.mu.Lock()
	if _, exists := e.blocks[hash]; exists {
		e.mu.Unlock()
		return false
	}
	e.blocks[hash] = block
	justConfirmed, winnerBlock := e.retallyLocked(now)
	e.mu.Unlock()
	if justConfirmed {
		e.fireConfirmed(winnerBlock)
	}
	return true
}

// retallyLocked recomputes the tally and winner; e.mu must be held. Returns
// whether this call is the one that crossed quorum, and the winner block to
// hand confirmed observers if so.
func (e *Election) retallyLocked(now time.Time) (justConfirmed bool, winnerBlock *core.Block) {
	tally := make(map[core.Hash]core.Amount, len(e.blocks))
	for rep, vi := range e.lastVotes {
		w := e.weights.Weight(rep)
		tally[vi.Hash] = tally[vi.Hash].Add(w)
	}
	e.tally = tally

	winner := e.winner
	best := tally[winner]
	for h, t := range tally {
		if h == winner {
			continue
		}
		if _, known := e.blocks[h]; !known {
			continue
		}
		if t.Cmp(best) > 0 {
			winner, best = h, t
		}
	}
	e.winner = winner

	if e.confirmedOnce || e.state.IsTerminal() {
		return false, nil
	}
	delta := e.tuning.OnlineWeightStake.MulFrac(e.tuning.QuorumNumerator, e.tuning.QuorumDenominator)
	if best.Cmp(delta) <= 0 {
		return false, nil
	}
	if now.Sub(e.electionStart) >= e.tuning.TimeToLive {
		e.state = StateExpiredConfirmed
	} else {
		e.state = StateConfirmedQuorum
	}
	e.confirmedOnce = true
	return true, e.blocks[winner]
}

func (e *Election) fireConfirmed(winner *core.Block) {
	e.mu.Lock()
	cbs := append([]func(*core.Block){}, e.onConfirmed...)
	e.mu.Unlock()
	for _, fn := range cbs {
		fn(winner)
	}
}

// TransitionTime is called each request-loop tick (spec.md §4.3): drives
// passive→active after the grace period, then active/broadcasting ticks
// rebroadcast the winner and solicit confirm-req from reps that have not
// yet voted, and ages out unconfirmed elections past the time-to-live.
// publish/requestConfirmation are nil-safe no-ops so callers without a
// live VoteBroadcaster (tests) can still exercise state transitions.
func (e *Election) TransitionTime(now time.Time, representatives []core.Account, publish func(*core.Block), requestConfirmation func(*core.Block, []core.Account)) {
	e.mu.Lock()
	if e.state.IsTerminal() {
		e.mu.Unlock()
		return
	}
	if e.state == StatePassive {
		if now.Sub(e.electionStart) >= e.tuning.Grace {
			e.state = StateActive
		}
		e.mu.Unlock()
		return
	}
	if now.Sub(e.electionStart) >= e.tuning.TimeToLive {
		e.state = StateExpiredUnconfirmed
		e.mu.Unlock()
		e.Cleanup()
		return
	}

	winner := e.blocks[e.winner]
	var unvoted []core.Account
	for _, rep := range representatives {
		if _, voted := e.lastVotes[rep]; !voted {
			unvoted = append(unvoted, rep)
		}
	}
	e.confirmationRequestCount++
	e.lastReqTime = now
	e.state = StateBroadcasting
	e.mu.Unlock()

	if winner == nil {
		return
	}
	if publish != nil {
		publish(winner)
	}
	if requestConfirmation != nil && len(unvoted) > 0 {
		requestConfirmation(winner, unvoted)
	}
}

// Cleanup tears the election down (spec.md §4.3): clears dependent-block
// back-edges and fires any registered cleanup callbacks exactly once. The
// network publish-filter this clears in the original is out of scope here
// (no network transport is implemented, per spec.md §1).
func (e *Election) Cleanup() {
	e.mu.Lock()
	if e.cleanedUpOnce {
		e.mu.Unlock()
		return
	}
	e.cleanedUpOnce = true
	e.dependents = nil
	cbs := append([]func(){}, e.onCleanup...)
	e.mu.Unlock()
	for _, fn := range cbs {
		fn()
	}
}
