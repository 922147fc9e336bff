package election_test

import (
	"testing"
	"time"

	"github.com/latticenode/node/core"
	"github.com/latticenode/node/election"
	"github.com/latticenode/node/wire"
)

// fakeWeights is a trivial election.WeightSource for tests, avoiding a real
// ledger/store setup.
type fakeWeights map[core.Hash]core.Amount

func (f fakeWeights) Weight(account core.Account) core.Amount { return f[account] }

func testTuning() election.Tuning {
	return election.Tuning{
		QuorumNumerator:   67,
		QuorumDenominator: 100,
		OnlineWeightStake: core.NewAmount(100),
		TimeToLive:        time.Minute,
		Grace:             time.Millisecond,
	}
}

func changeBlock(account, rep core.Hash, bal uint64) *core.Block {
	return &core.Block{
		Type:           core.BlockState,
		Account:        account,
		Previous:       core.Hash{1},
		Representative: rep,
		Balance:        core.NewAmount(bal),
	}
}

// TestVoteSequenceRules checks the three sequence outcomes: new rep
// accepted, higher sequence accepted, tie-same-hash is a replay.
func TestVoteSequenceRules(t *testing.T) {
	initial := changeBlock(core.Hash{9}, core.Hash{9}, 1)
	initialHash := wire.HashBlock(initial)
	weights := fakeWeights{}
	e := election.New(core.QualifiedRootOf(initial.Previous, initial.Account), initial, weights, testTuning(), time.Now())

	rep := core.Hash{2}
	now := time.Now()
	if processed, replay := e.Vote(rep, 1, initialHash, now); !processed || replay {
		t.Fatalf("first vote: got processed=%v replay=%v, want true/false", processed, replay)
	}
	if processed, replay := e.Vote(rep, 1, initialHash, now); processed || !replay {
		t.Fatalf("same seq+hash replay: got processed=%v replay=%v, want false/true", processed, replay)
	}
	if processed, replay := e.Vote(rep, 2, initialHash, now); !processed || replay {
		t.Fatalf("higher seq: got processed=%v replay=%v, want true/false", processed, replay)
	}
}

// TestVoteSequenceTieNewHashWins checks that a sequence tie with a
// different hash goes to the newer arrival rather than being a replay.
func TestVoteSequenceTieNewHashWins(t *testing.T) {
	initial := changeBlock(core.Hash{9}, core.Hash{9}, 1)
	fork := changeBlock(core.Hash{9}, core.Hash{8}, 1)
	weights := fakeWeights{}
	e := election.New(core.QualifiedRootOf(initial.Previous, initial.Account), initial, weights, testTuning(), time.Now())
	e.Publish(fork, time.Now())

	rep := core.Hash{2}
	now := time.Now()
	e.Vote(rep, 5, wire.HashBlock(initial), now)
	if processed, replay := e.Vote(rep, 5, wire.HashBlock(fork), now); !processed || replay {
		t.Fatalf("tie with different hash: got processed=%v replay=%v, want true/false", processed, replay)
	}
}

// TestQuorumPersistsAfterLowerWeightVote is testable property 7 (spec.md
// §8): once winner.tally > delta is observed, the final winner does not
// change even if later votes with lower weight arrive for another block.
func TestQuorumPersistsAfterLowerWeightVote(t *testing.T) {
	initial := changeBlock(core.Hash{9}, core.Hash{9}, 1)
	fork := changeBlock(core.Hash{9}, core.Hash{8}, 1)
	bigRep := core.Hash{1}
	smallRep := core.Hash{2}
	weights := fakeWeights{bigRep: core.NewAmount(100), smallRep: core.NewAmount(1)}

	e := election.New(core.QualifiedRootOf(initial.Previous, initial.Account), initial, weights, testTuning(), time.Now())
	e.Publish(fork, time.Now())

	now := time.Now()
	e.Vote(bigRep, 1, wire.HashBlock(initial), now)
	if got := e.State(); got != election.StateConfirmedQuorum {
		t.Fatalf("state after quorum vote: got %v want confirmed_quorum", got)
	}
	winnerHash, _ := e.Winner()
	if winnerHash != wire.HashBlock(initial) {
		t.Fatalf("winner after quorum: got %s want initial", winnerHash)
	}

	// A later, lower-weight vote for the fork must not move the winner.
	e.Vote(smallRep, 1, wire.HashBlock(fork), now)
	winnerHash, _ = e.Winner()
	if winnerHash != wire.HashBlock(initial) {
		t.Fatalf("winner after low-weight vote: got %s want unchanged initial", winnerHash)
	}
}

// TestPublishRetalliesCachedVotes is spec.md §8 scenario 3: a vote cached
// before the conflicting block arrives still decides the election once
// Publish brings the block in.
func TestPublishRetalliesCachedVotes(t *testing.T) {
	initial := changeBlock(core.Hash{9}, core.Hash{9}, 1) // S_a
	fork := changeBlock(core.Hash{9}, core.Hash{8}, 1)     // S_b
	rep := core.Hash{1}
	weights := fakeWeights{rep: core.NewAmount(1000)}

	e := election.New(core.QualifiedRootOf(initial.Previous, initial.Account), initial, weights, testTuning(), time.Now())

	now := time.Now()
	// The vote for S_b arrives before S_b itself; active would cache it in
	// inactive_votes and replay it here once publish creates the blocks
	// entry. We simulate the replay directly via Vote, since retally only
	// counts votes for hashes present in e.blocks.
	e.Vote(rep, 1, wire.HashBlock(fork), now)
	winnerHash, _ := e.Winner()
	if winnerHash != wire.HashBlock(initial) {
		t.Fatalf("winner before fork arrives: got %s want initial (vote for unknown hash ignored)", winnerHash)
	}

	if ok := e.Publish(fork, now); !ok {
		t.Fatalf("Publish: want true for a new block")
	}
	winnerHash, _ = e.Winner()
	if winnerHash != wire.HashBlock(fork) {
		t.Fatalf("winner after publish: got %s want fork", winnerHash)
	}
	if got := e.State(); got != election.StateConfirmedQuorum {
		t.Fatalf("state after publish crosses quorum: got %v want confirmed_quorum", got)
	}
}

// TestTransitionTimeLifecycle walks passive -> active/broadcasting and
// checks expiry past time-to-live.
func TestTransitionTimeLifecycle(t *testing.T) {
	initial := changeBlock(core.Hash{9}, core.Hash{9}, 1)
	weights := fakeWeights{}
	tuning := testTuning()
	start := time.Now()
	e := election.New(core.QualifiedRootOf(initial.Previous, initial.Account), initial, weights, tuning, start)

	if got := e.State(); got != election.StatePassive {
		t.Fatalf("initial state: got %v want passive", got)
	}
	e.TransitionTime(start, nil, nil, nil)
	if got := e.State(); got != election.StatePassive {
		t.Fatalf("state before grace elapses: got %v want passive", got)
	}

	afterGrace := start.Add(tuning.Grace * 2)
	e.TransitionTime(afterGrace, nil, nil, nil)
	if got := e.State(); got != election.StateActive {
		t.Fatalf("state after grace: got %v want active", got)
	}

	var published *core.Block
	var requested []core.Account
	e.TransitionTime(afterGrace, []core.Account{{7}}, func(b *core.Block) { published = b }, func(b *core.Block, reps []core.Account) { requested = reps })
	if got := e.State(); got != election.StateBroadcasting {
		t.Fatalf("state after first active tick: got %v want broadcasting", got)
	}
	if published == nil {
		t.Error("expected winner block to be published")
	}
	if len(requested) != 1 {
		t.Errorf("expected confirm-req to 1 unvoted rep, got %d", len(requested))
	}
	if e.ConfirmationRequestCount() != 1 {
		t.Errorf("confirmation request count: got %d want 1", e.ConfirmationRequestCount())
	}

	cleanedUp := false
	e.OnCleanup(func() { cleanedUp = true })
	expired := start.Add(tuning.TimeToLive * 2)
	e.TransitionTime(expired, nil, nil, nil)
	if got := e.State(); got != election.StateExpiredUnconfirmed {
		t.Fatalf("state after ttl: got %v want expired_unconfirmed", got)
	}
	if !cleanedUp {
		t.Error("expected Cleanup to fire onCleanup callback")
	}
}

// TestOnConfirmedFiresOnce checks the confirmed callback fires exactly once
// even though retally runs again on subsequent votes.
func TestOnConfirmedFiresOnce(t *testing.T) {
	initial := changeBlock(core.Hash{9}, core.Hash{9}, 1)
	rep := core.Hash{1}
	other := core.Hash{2}
	weights := fakeWeights{rep: core.NewAmount(1000), other: core.NewAmount(1000)}
	e := election.New(core.QualifiedRootOf(initial.Previous, initial.Account), initial, weights, testTuning(), time.Now())

	fired := 0
	e.OnConfirmed(func(*core.Block) { fired++ })

	now := time.Now()
	e.Vote(rep, 1, wire.HashBlock(initial), now)
	e.Vote(other, 1, wire.HashBlock(initial), now)
	if fired != 1 {
		t.Errorf("onConfirmed fire count: got %d want 1", fired)
	}
}
