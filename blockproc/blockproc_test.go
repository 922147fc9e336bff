package blockproc_test

import (
	"context"
	"testing"
	"time"

	"github.com/latticenode/node/active"
	"github.com/latticenode/node/blockproc"
	"github.com/latticenode/node/collab"
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

// noopCollab satisfies collab.VoteBroadcaster and collab.Bootstrapper with
// no-ops; blockproc's own tests never exercise vote broadcast or bootstrap.
type noopCollab struct{}

func (noopCollab) RequestConfirmation(context.Context, *core.Block, []core.Account) error {
	return nil
}
func (noopCollab) Publish(context.Context, *core.Block) error      { return nil }
func (noopCollab) BroadcastVote(context.Context, *wire.Vote) error { return nil }
func (noopCollab) ScheduleLazy(context.Context, core.Hash) error   { return nil }

var (
	_ collab.VoteBroadcaster = noopCollab{}
	_ collab.Bootstrapper    = noopCollab{}
)

type harness struct {
	t     *testing.T
	st    store.Store
	l     *ledger.Ledger
	em    *events.Emitter
	cfg   *config.Config
	txs   *active.Transactions
	p     *blockproc.Processor
	gPriv crypto.PrivateKey
	gAcct core.Account

	cancel context.CancelFunc
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	genesisPriv, genesisAccount, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	cfg := config.DefaultConfig()
	cfg.GenesisAccount = genesisAccount.String()
	cfg.GenesisRepresentative = genesisAccount.String()

	st := store.NewMemory()
	if err := ledger.SeedGenesis(st, cfg); err != nil {
		t.Fatalf("SeedGenesis: %v", err)
	}
	l := ledger.NewWithThresholds(st, cfg, zeroThresholds())
	em := events.New()
	wq := store.NewWriteQueue()
	txs := active.New(cfg, st, l, em, nil, noopCollab{}, noopCollab{})
	p := blockproc.New(st, wq, l, txs)

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{t: t, st: st, l: l, em: em, cfg: cfg, txs: txs, p: p, gPriv: genesisPriv, gAcct: genesisAccount, cancel: cancel}
	go p.Run(ctx)
	t.Cleanup(cancel)
	return h
}

func (h *harness) headOf(account core.Account) (core.Hash, core.Amount, core.Hash) {
	h.t.Helper()
	txn := h.st.TxBeginRead()
	defer h.st.TxDiscard(txn)
	info, err := h.st.GetAccount(txn, account)
	if err != nil {
		h.t.Fatalf("GetAccount: %v", err)
	}
	return info.Head, info.Balance, info.Representative
}

func (h *harness) sendFrom(priv crypto.PrivateKey, account, dest core.Account, amount core.Amount) *core.Block {
	h.t.Helper()
	head, balance, rep := h.headOf(account)
	b := &core.Block{
		Type:           core.BlockState,
		Account:        account,
		Previous:       head,
		Representative: rep,
		Balance:        balance.Sub(amount),
		Link:           dest,
	}
	wire.SignBlock(b, priv)
	return b
}

func openFor(priv crypto.PrivateKey, account core.Account, sendHash core.Hash, amount core.Amount) *core.Block {
	b := &core.Block{
		Type:           core.BlockState,
		Account:        account,
		Previous:       core.ZeroHash,
		Representative: account,
		Balance:        amount,
		Link:           sendHash,
	}
	wire.SignBlock(b, priv)
	return b
}

func (h *harness) waitUntil(cond func() bool) {
	h.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	h.t.Fatalf("condition never became true")
}

func (h *harness) blockExists(hash core.Hash) bool {
	txn := h.st.TxBeginRead()
	defer h.st.TxDiscard(txn)
	return h.st.BlockExists(txn, hash)
}

// TestEnqueueCommitsProgress feeds a well-formed send through the running
// pipeline and waits for it to land in the store.
func TestEnqueueCommitsProgress(t *testing.T) {
	h := newHarness(t)
	_, destAccount, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	send := h.sendFrom(h.gPriv, h.gAcct, destAccount, core.NewAmount(1000))
	h.p.Enqueue(send)

	hash := wire.HashBlock(send)
	h.waitUntil(func() bool { return h.blockExists(hash) })
}

// TestGapPreviousStashesThenResolves submits a block whose previous has not
// arrived yet, checks it lands in the unchecked count, then submits the
// missing previous and checks the gapped block is re-queued and committed.
func TestGapPreviousStashesThenResolves(t *testing.T) {
	h := newHarness(t)
	destPriv, destAccount, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	send1 := h.sendFrom(h.gPriv, h.gAcct, destAccount, core.NewAmount(500))
	send1Hash := wire.HashBlock(send1)

	_, _, rep := h.headOf(h.gAcct)
	send2 := &core.Block{
		Type:           core.BlockState,
		Account:        h.gAcct,
		Previous:       send1Hash, // not yet committed: gap_previous
		Representative: rep,
		Balance:        send1.Balance.Sub(core.NewAmount(100)),
		Link:           destAccount,
	}
	wire.SignBlock(send2, h.gPriv)

	h.p.Enqueue(send2)
	h.waitUntil(func() bool { return h.p.UncheckedLen() == 1 })

	if h.blockExists(wire.HashBlock(send2)) {
		t.Fatalf("gapped block should not be committed yet")
	}

	h.p.Enqueue(send1)
	h.waitUntil(func() bool { return h.blockExists(send1Hash) })
	h.waitUntil(func() bool { return h.blockExists(wire.HashBlock(send2)) })
	h.waitUntil(func() bool { return h.p.UncheckedLen() == 0 })

	destOpen := openFor(destPriv, destAccount, send1Hash, core.NewAmount(500))
	h.p.Enqueue(destOpen)
	h.waitUntil(func() bool { return h.blockExists(wire.HashBlock(destOpen)) })
}

// TestForkRoutesIntoActiveWithoutCommitting submits two competing sends
// sharing the same previous; the second is reported as a fork and must not
// be persisted, but must start (or join) an election at that root.
func TestForkRoutesIntoActiveWithoutCommitting(t *testing.T) {
	h := newHarness(t)
	_, destA, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	_, destB, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	sendA := h.sendFrom(h.gPriv, h.gAcct, destA, core.NewAmount(100))
	h.p.Enqueue(sendA)
	h.waitUntil(func() bool { return h.blockExists(wire.HashBlock(sendA)) })

	_, balance, rep := h.headOf(h.gAcct)
	sendB := &core.Block{
		Type:           core.BlockState,
		Account:        h.gAcct,
		Previous:       sendA.Previous, // same root as sendA: fork
		Representative: rep,
		Balance:        balance.Sub(core.NewAmount(200)),
		Link:           destB,
	}
	wire.SignBlock(sendB, h.gPriv)

	h.p.Enqueue(sendB)

	h.waitUntil(func() bool { return h.txs.Len() == 1 })
	if h.blockExists(wire.HashBlock(sendB)) {
		t.Fatalf("losing fork side should not be committed")
	}
}

// TestGapSourceStashesUnchecked checks that a receive block citing a
// source hash this node has never seen is stashed rather than rejected,
// keyed by the missing source (gap_source, as opposed to gap_previous).
func TestGapSourceStashesUnchecked(t *testing.T) {
	h := newHarness(t)
	destPriv, destAccount, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	missing, err := core.HashFromHex("1111111111111111111111111111111111111111111111111111111111111111111111"[:64])
	if err != nil {
		t.Fatalf("HashFromHex: %v", err)
	}
	gapped := openFor(destPriv, destAccount, missing, core.NewAmount(500))
	h.p.Enqueue(gapped)
	h.waitUntil(func() bool { return h.p.UncheckedLen() == 1 })

	if h.blockExists(wire.HashBlock(gapped)) {
		t.Fatalf("gapped open block should not be committed yet")
	}
}
