package active_test

import (
	"testing"

	"github.com/latticenode/node/active"
	"github.com/latticenode/node/config"
	"github.com/latticenode/node/core"
	"github.com/latticenode/node/crypto"
	"github.com/latticenode/node/events"
	"github.com/latticenode/node/ledger"
	"github.com/latticenode/node/store"
	"github.com/latticenode/node/wire"
	"github.com/latticenode/node/work"
)

func zeroThresholds() *work.Thresholds {
	return work.NewThresholds(map[core.Epoch]map[work.Kind]uint64{
		core.Epoch0: {work.KindNormal: 0, work.KindReceive: 0, work.KindEpoch: 0},
		core.Epoch1: {work.KindNormal: 0, work.KindReceive: 0, work.KindEpoch: 0},
		core.Epoch2: {work.KindNormal: 0, work.KindReceive: 0, work.KindEpoch: 0},
	})
}

type harness struct {
	l   *ledger.Ledger
	st  store.Store
	em  *events.Emitter
	cfg *config.Config
	t   *active.Transactions
}

func newHarness(tst *testing.T) (*harness, crypto.PrivateKey, core.Account) {
	tst.Helper()
	genesisPriv, genesisAccount, err := crypto.GenerateKeyPair()
	if err != nil {
		tst.Fatalf("GenerateKeyPair: %v", err)
	}
	cfg := config.DefaultConfig()
	cfg.GenesisAccount = genesisAccount.String()
	cfg.GenesisRepresentative = genesisAccount.String()
	cfg.ActiveElectionsSize = 10
	st := store.NewMemory()
	if err := ledger.SeedGenesis(st, cfg); err != nil {
		tst.Fatalf("SeedGenesis: %v", err)
	}
	l := ledger.NewWithThresholds(st, cfg, zeroThresholds())
	em := events.New()
	txs := active.New(cfg, st, l, em, nil, nil, nil)
	return &harness{l: l, st: st, em: em, cfg: cfg, t: txs}, genesisPriv, genesisAccount
}

func mustProcess(tst *testing.T, l *ledger.Ledger, txn store.Txn, b *core.Block) {
	tst.Helper()
	res, err := l.Process(txn, b)
	if err != nil {
		tst.Fatalf("Process: %v", err)
	}
	if res.Code != ledger.Progress {
		tst.Fatalf("Process: got %v want progress", res.Code)
	}
}

func changeFrom(genesisAccount core.Account, previous core.Hash, balance core.Amount) *core.Block {
	return &core.Block{
		Type: core.BlockState, Account: genesisAccount, Previous: previous,
		Representative: genesisAccount, Balance: balance,
	}
}

// TestInsertNewRootStartsElection checks the baseline insertion path: a
// block with no live election for its root starts a new one whose winner
// is the inserted block itself.
func TestInsertNewRootStartsElection(t *testing.T) {
	h, genesisPriv, genesisAccount := newHarness(t)

	txn := h.st.TxBeginWrite()
	info, _ := h.st.GetAccount(txn, genesisAccount)
	c1 := changeFrom(genesisAccount, info.Head, info.Balance)
	wire.SignBlock(c1, genesisPriv)
	mustProcess(t, h.l, txn, c1)
	if err := h.st.TxCommit(txn); err != nil {
		t.Fatalf("TxCommit: %v", err)
	}

	result := h.t.Insert(c1, events.ConfirmationActiveQuorum)
	if !result.Inserted || result.Election == nil {
		t.Fatalf("Insert: got inserted=%v election=%v, want a new election", result.Inserted, result.Election)
	}
	if h.t.Len() != 1 {
		t.Fatalf("Len: got %d want 1", h.t.Len())
	}
	winnerHash, _ := result.Election.Winner()
	if winnerHash != wire.HashBlock(c1) {
		t.Fatalf("winner: got %s want c1", winnerHash)
	}
}

// TestInsertExistingRootUpdates checks that inserting a second block for
// an already-live root publishes to the existing election rather than
// starting a second one (spec.md §4.2 "update on new block for existing
// root").
func TestInsertExistingRootUpdates(t *testing.T) {
	h, genesisPriv, genesisAccount := newHarness(t)

	txn := h.st.TxBeginWrite()
	info, _ := h.st.GetAccount(txn, genesisAccount)
	fork1 := changeFrom(genesisAccount, info.Head, info.Balance)
	fork1.Representative = core.Hash{1}
	wire.SignBlock(fork1, genesisPriv)

	fork2 := changeFrom(genesisAccount, info.Head, info.Balance)
	fork2.Representative = core.Hash{2}
	wire.SignBlock(fork2, genesisPriv)
	h.st.TxDiscard(txn)

	first := h.t.Insert(fork1, events.ConfirmationActiveQuorum)
	if !first.Inserted {
		t.Fatalf("first Insert: want inserted=true")
	}
	second := h.t.Insert(fork2, events.ConfirmationActiveQuorum)
	if second.Inserted {
		t.Fatalf("second Insert: want inserted=false (existing root)")
	}
	if second.Election != first.Election {
		t.Fatalf("second Insert: want same election handle as first")
	}
	if h.t.Len() != 1 {
		t.Fatalf("Len: got %d want 1 (one election, two candidate blocks)", h.t.Len())
	}
}

// TestVoteCrossesQuorumAndErasesElection exercises Vote driving an
// election to confirmed_quorum, which must erase the election from both
// indices via the OnConfirmed callback without deadlocking.
func TestVoteCrossesQuorumAndErasesElection(t *testing.T) {
	h, genesisPriv, genesisAccount := newHarness(t)

	txn := h.st.TxBeginWrite()
	info, _ := h.st.GetAccount(txn, genesisAccount)
	c1 := changeFrom(genesisAccount, info.Head, info.Balance)
	wire.SignBlock(c1, genesisPriv)
	mustProcess(t, h.l, txn, c1)
	if err := h.st.TxCommit(txn); err != nil {
		t.Fatalf("TxCommit: %v", err)
	}
	c1Hash := wire.HashBlock(c1)

	result := h.t.Insert(c1, events.ConfirmationActiveQuorum)
	if !result.Inserted {
		t.Fatalf("Insert: want inserted=true")
	}

	var stopped []core.Hash
	h.em.OnActiveStopped(func(v events.ActiveStopped) { stopped = append(stopped, v.Hash) })

	rep := genesisAccount // the only representative with weight
	v := &wire.Vote{Account: rep, Sequence: 1, Hashes: []core.Hash{c1Hash}}
	outcome := h.t.Vote(v)
	if outcome != active.VoteProcessed {
		t.Fatalf("Vote outcome: got %v want VoteProcessed", outcome)
	}

	if h.t.Len() != 0 {
		t.Fatalf("Len after quorum: got %d want 0 (election erased on confirm)", h.t.Len())
	}
	if len(stopped) != 0 {
		t.Fatalf("active_stopped fired on a confirmed election: got %v want none", stopped)
	}
	if _, ok := h.t.Find(c1.QualifiedRoot()); ok {
		t.Fatalf("Find: election still indexed by root after confirm")
	}
}

// TestInactiveVoteCachedThenReplayedOnInsert is spec.md §4.2's "inactive
// votes cache": a vote for a hash with no live election is cached, then
// replayed the moment an election is created for that hash, and can cross
// quorum immediately on replay.
func TestInactiveVoteCachedThenReplayedOnInsert(t *testing.T) {
	h, genesisPriv, genesisAccount := newHarness(t)

	txn := h.st.TxBeginWrite()
	info, _ := h.st.GetAccount(txn, genesisAccount)
	c1 := changeFrom(genesisAccount, info.Head, info.Balance)
	wire.SignBlock(c1, genesisPriv)
	mustProcess(t, h.l, txn, c1)
	if err := h.st.TxCommit(txn); err != nil {
		t.Fatalf("TxCommit: %v", err)
	}
	c1Hash := wire.HashBlock(c1)

	rep := genesisAccount // the only representative with weight
	outcome := h.t.Vote(&wire.Vote{Account: rep, Sequence: 1, Hashes: []core.Hash{c1Hash}})
	if outcome != active.VoteIndeterminate {
		t.Fatalf("Vote on unknown hash: got %v want VoteIndeterminate", outcome)
	}

	result := h.t.Insert(c1, events.ConfirmationActiveQuorum)
	if !result.Inserted {
		t.Fatalf("Insert: want inserted=true")
	}
	if h.t.Len() != 0 {
		t.Fatalf("Len after replay: got %d want 0 (cached vote alone reaches quorum)", h.t.Len())
	}
}

// TestRestartOverwritesWorkInPlace checks spec.md §4.2 "Restart": a higher
// work value for a recently-dropped root re-inserts an election, and the
// stored block's hash is unaffected by the work field change (wire.
// HashBlock excludes Work from the preimage).
func TestRestartOverwritesWorkInPlace(t *testing.T) {
	h, genesisPriv, genesisAccount := newHarness(t)

	txn := h.st.TxBeginWrite()
	info, _ := h.st.GetAccount(txn, genesisAccount)
	c1 := changeFrom(genesisAccount, info.Head, info.Balance)
	c1.Work = 1
	wire.SignBlock(c1, genesisPriv)
	mustProcess(t, h.l, txn, c1)
	if err := h.st.TxCommit(txn); err != nil {
		t.Fatalf("TxCommit: %v", err)
	}
	c1Hash := wire.HashBlock(c1)

	result := h.t.Insert(c1, events.ConfirmationActiveQuorum)
	if !result.Inserted {
		t.Fatalf("Insert: want inserted=true")
	}
	result.Election.Cleanup()
	if h.t.Len() != 0 {
		t.Fatalf("Len after cleanup: got %d want 0", h.t.Len())
	}

	higherWork := &core.Block{}
	*higherWork = *c1
	higherWork.Work = 2
	_, restarted := h.t.Restart(higherWork)
	if !restarted {
		t.Fatalf("Restart: want true for higher work on a recently-dropped root")
	}

	readTxn := h.st.TxBeginRead()
	defer h.st.TxDiscard(readTxn)
	stored, err := h.st.GetBlock(readTxn, c1Hash)
	if err != nil {
		t.Fatalf("GetBlock: %v", err)
	}
	if stored.Work != 2 {
		t.Fatalf("stored work: got %d want 2", stored.Work)
	}
}

// TestActivateSkipsUnvotableBlock checks spec.md §4.2 activate's can_vote
// gate: a receive block whose source send is not yet cemented must not
// start an election.
func TestActivateSkipsUnvotableBlock(t *testing.T) {
	h, genesisPriv, genesisAccount := newHarness(t)
	destPriv, destAccount, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	txn := h.st.TxBeginWrite()
	info, _ := h.st.GetAccount(txn, genesisAccount)
	send1 := &core.Block{Type: core.BlockState, Account: genesisAccount, Previous: info.Head, Representative: genesisAccount, Balance: info.Balance.Sub(core.NewAmount(10)), Link: destAccount}
	wire.SignBlock(send1, genesisPriv)
	mustProcess(t, h.l, txn, send1)
	send1Hash := wire.HashBlock(send1)
	// A write transaction does not see its own uncommitted writes, so
	// send1 is committed before the open that receives it.
	if err := h.st.TxCommit(txn); err != nil {
		t.Fatalf("TxCommit: %v", err)
	}
	txn = h.st.TxBeginWrite()

	open := &core.Block{Type: core.BlockState, Account: destAccount, Previous: core.ZeroHash, Representative: destAccount, Balance: core.NewAmount(10), Link: send1Hash}
	wire.SignBlock(open, destPriv)
	mustProcess(t, h.l, txn, open)
	if err := h.st.TxCommit(txn); err != nil {
		t.Fatalf("TxCommit: %v", err)
	}

	// send1 is not yet confirmed (no confirmation-height advance beyond
	// the genesis open), so open's dependency is unmet.
	_, started := h.t.Activate(destAccount)
	if started {
		t.Fatalf("Activate: want false while the matching send is uncemented")
	}
	if h.t.Len() != 0 {
		t.Fatalf("Len: got %d want 0", h.t.Len())
	}
}

// TestRecentlyConfirmedCacheDropsReinsertion checks that re-inserting a
// block for a root already in the recently-confirmed cache is rejected
// outright, rather than starting a duplicate election.
func TestRecentlyConfirmedCacheDropsReinsertion(t *testing.T) {
	h, genesisPriv, genesisAccount := newHarness(t)

	txn := h.st.TxBeginWrite()
	info, _ := h.st.GetAccount(txn, genesisAccount)
	c1 := changeFrom(genesisAccount, info.Head, info.Balance)
	wire.SignBlock(c1, genesisPriv)
	mustProcess(t, h.l, txn, c1)
	if err := h.st.TxCommit(txn); err != nil {
		t.Fatalf("TxCommit: %v", err)
	}
	c1Hash := wire.HashBlock(c1)

	result := h.t.Insert(c1, events.ConfirmationActiveQuorum)
	rep := genesisAccount // the only representative with weight
	h.t.Vote(&wire.Vote{Account: rep, Sequence: 1, Hashes: []core.Hash{c1Hash}})
	if h.t.Len() != 0 {
		t.Fatalf("Len after confirm: got %d want 0", h.t.Len())
	}

	again := h.t.Insert(c1, events.ConfirmationActiveQuorum)
	if again.Inserted {
		t.Fatalf("re-Insert after confirm: want inserted=false")
	}
	_ = result
}

// TestWatchMarksFrontierCandidate checks that, for a watched account with
// an uncemented block past its confirmed frontier, Activate (the call the
// frontier scan makes per candidate) starts an election for that block.
func TestWatchMarksFrontierCandidate(t *testing.T) {
	h, genesisPriv, genesisAccount := newHarness(t)

	txn := h.st.TxBeginWrite()
	info, _ := h.st.GetAccount(txn, genesisAccount)
	c1 := changeFrom(genesisAccount, info.Head, info.Balance)
	wire.SignBlock(c1, genesisPriv)
	mustProcess(t, h.l, txn, c1)
	if err := h.st.TxCommit(txn); err != nil {
		t.Fatalf("TxCommit: %v", err)
	}

	h.t.Watch(genesisAccount)
	e, started := h.t.Activate(genesisAccount)
	if !started || e == nil {
		t.Fatalf("Activate after Watch: want an election to start for the uncemented change block")
	}
}
