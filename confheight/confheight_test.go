package confheight_test

import (
	"context"
	"testing"

	"github.com/latticenode/node/config"
	"github.com/latticenode/node/confheight"
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
	p   *confheight.Processor
	cfg *config.Config
}

func newHarness(t *testing.T) (*harness, crypto.PrivateKey, core.Account) {
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
	p := confheight.New(st, store.NewWriteQueue(), l, em)
	return &harness{l: l, st: st, em: em, p: p, cfg: cfg}, genesisPriv, genesisAccount
}

func mustProcess(t *testing.T, l *ledger.Ledger, txn store.Txn, b *core.Block) {
	t.Helper()
	res, err := l.Process(txn, b)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Code != ledger.Progress {
		t.Fatalf("Process: got %v want progress", res.Code)
	}
}

// TestAlreadyCementedShortCircuit exercises step 1 of spec.md §4.4.
func TestAlreadyCementedShortCircuit(t *testing.T) {
	h, genesisPriv, genesisAccount := newHarness(t)

	txn := h.st.TxBeginWrite()
	info, err := h.st.GetAccount(txn, genesisAccount)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	change := &core.Block{
		Type: core.BlockState, Account: genesisAccount, Previous: info.Head,
		Representative: genesisAccount, Balance: info.Balance,
	}
	wire.SignBlock(change, genesisPriv)
	mustProcess(t, h.l, txn, change)
	if err := h.st.TxCommit(txn); err != nil {
		t.Fatalf("TxCommit: %v", err)
	}

	var fired []events.ConfirmationType
	h.em.OnBlockConfirmed(func(v events.BlockConfirmed) { fired = append(fired, v.Type) })

	genesisOpenHash := info.Open
	if err := h.p.ProcessOne(context.Background(), genesisOpenHash, events.ConfirmationActiveQuorum); err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}
	if len(fired) != 1 || fired[0] != events.ConfirmationAlreadyCemented {
		t.Fatalf("fired: got %v want [already_cemented]", fired)
	}
}

// TestSingleAccountBatch checks a chain of two new blocks cements in one
// batch and advances the height monotonically (testable properties 1, 5).
func TestSingleAccountBatch(t *testing.T) {
	h, genesisPriv, genesisAccount := newHarness(t)

	txn := h.st.TxBeginWrite()
	info, _ := h.st.GetAccount(txn, genesisAccount)
	c1 := &core.Block{Type: core.BlockState, Account: genesisAccount, Previous: info.Head, Representative: genesisAccount, Balance: info.Balance}
	wire.SignBlock(c1, genesisPriv)
	mustProcess(t, h.l, txn, c1)
	c1Hash := wire.HashBlock(c1)
	// A write transaction does not see its own uncommitted writes, so c1
	// is committed before c2 builds on it.
	if err := h.st.TxCommit(txn); err != nil {
		t.Fatalf("TxCommit: %v", err)
	}
	txn = h.st.TxBeginWrite()

	c2 := &core.Block{Type: core.BlockState, Account: genesisAccount, Previous: c1Hash, Representative: genesisAccount, Balance: info.Balance}
	wire.SignBlock(c2, genesisPriv)
	mustProcess(t, h.l, txn, c2)
	c2Hash := wire.HashBlock(c2)
	if err := h.st.TxCommit(txn); err != nil {
		t.Fatalf("TxCommit: %v", err)
	}

	var firedHashes []core.Hash
	h.em.OnBlockConfirmed(func(v events.BlockConfirmed) { firedHashes = append(firedHashes, v.Hash) })

	if err := h.p.ProcessOne(context.Background(), c2Hash, events.ConfirmationActiveQuorum); err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}
	if len(firedHashes) != 2 {
		t.Fatalf("fired count: got %d want 2 (c1 and c2 in one batch)", len(firedHashes))
	}

	readTxn := h.st.TxBeginRead()
	defer h.st.TxDiscard(readTxn)
	confInfo, err := h.st.GetConfirmationHeight(readTxn, genesisAccount)
	if err != nil {
		t.Fatalf("GetConfirmationHeight: %v", err)
	}
	if confInfo.Height != 3 {
		t.Errorf("height: got %d want 3 (open + 2 changes)", confInfo.Height)
	}
	if confInfo.Frontier != c2Hash {
		t.Errorf("frontier: got %s want %s", confInfo.Frontier, c2Hash)
	}
}

// TestCrossAccountDependencyOrdering is spec.md §8 scenario 4: confirming a
// receive before its paired send is cemented must first cement the send's
// account, in a separate batch, before the receiving account advances.
func TestCrossAccountDependencyOrdering(t *testing.T) {
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
	// A write transaction does not see its own uncommitted writes, so each
	// block is committed before the next one that depends on it.
	if err := h.st.TxCommit(txn); err != nil {
		t.Fatalf("TxCommit: %v", err)
	}
	txn = h.st.TxBeginWrite()

	send2 := &core.Block{Type: core.BlockState, Account: genesisAccount, Previous: send1Hash, Representative: genesisAccount, Balance: info.Balance.Sub(core.NewAmount(20)), Link: destAccount}
	wire.SignBlock(send2, genesisPriv)
	mustProcess(t, h.l, txn, send2)
	send2Hash := wire.HashBlock(send2)
	if err := h.st.TxCommit(txn); err != nil {
		t.Fatalf("TxCommit: %v", err)
	}
	txn = h.st.TxBeginWrite()

	open := &core.Block{Type: core.BlockState, Account: destAccount, Previous: core.ZeroHash, Representative: destAccount, Balance: core.NewAmount(10), Link: send1Hash}
	wire.SignBlock(open, destPriv)
	mustProcess(t, h.l, txn, open)
	openHash := wire.HashBlock(open)
	if err := h.st.TxCommit(txn); err != nil {
		t.Fatalf("TxCommit: %v", err)
	}
	txn = h.st.TxBeginWrite()

	recv2 := &core.Block{Type: core.BlockState, Account: destAccount, Previous: openHash, Representative: destAccount, Balance: core.NewAmount(20), Link: send2Hash}
	wire.SignBlock(recv2, destPriv)
	mustProcess(t, h.l, txn, recv2)
	recv2Hash := wire.HashBlock(recv2)
	if err := h.st.TxCommit(txn); err != nil {
		t.Fatalf("TxCommit: %v", err)
	}

	ctx := context.Background()
	if err := h.p.ProcessOne(ctx, recv2Hash, events.ConfirmationActiveQuorum); err != nil {
		t.Fatalf("ProcessOne(recv2): %v", err)
	}

	readTxn := h.st.TxBeginRead()
	genesisConf, err := h.st.GetConfirmationHeight(readTxn, genesisAccount)
	if err != nil {
		t.Fatalf("GetConfirmationHeight(genesis): %v", err)
	}
	destConf, err := h.st.GetConfirmationHeight(readTxn, destAccount)
	if err != nil {
		t.Fatalf("GetConfirmationHeight(dest): %v", err)
	}
	h.st.TxDiscard(readTxn)

	if genesisConf.Height != 3 {
		t.Errorf("genesis height: got %d want 3 (open, send1, send2 cemented as a dependency)", genesisConf.Height)
	}
	if destConf.Height != 2 {
		t.Errorf("dest height: got %d want 2 (open + recv2)", destConf.Height)
	}
	if destConf.Frontier != recv2Hash {
		t.Errorf("dest frontier: got %s want %s", destConf.Frontier, recv2Hash)
	}
}

// TestAfterCementHook checks the chain-activation hook fires once per
// account per ProcessOne call that advances it.
func TestAfterCementHook(t *testing.T) {
	h, genesisPriv, genesisAccount := newHarness(t)
	var notified []core.Account
	h.p.AfterCement = func(a core.Account) { notified = append(notified, a) }

	txn := h.st.TxBeginWrite()
	info, _ := h.st.GetAccount(txn, genesisAccount)
	c1 := &core.Block{Type: core.BlockState, Account: genesisAccount, Previous: info.Head, Representative: genesisAccount, Balance: info.Balance}
	wire.SignBlock(c1, genesisPriv)
	mustProcess(t, h.l, txn, c1)
	c1Hash := wire.HashBlock(c1)
	if err := h.st.TxCommit(txn); err != nil {
		t.Fatalf("TxCommit: %v", err)
	}

	if err := h.p.ProcessOne(context.Background(), c1Hash, events.ConfirmationActiveQuorum); err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}
	if len(notified) != 1 || notified[0] != genesisAccount {
		t.Fatalf("AfterCement calls: got %v want [genesisAccount]", notified)
	}
}
