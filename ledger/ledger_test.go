package ledger_test

import (
	"testing"

	"github.com/latticenode/node/config"
	"github.com/latticenode/node/core"
	"github.com/latticenode/node/crypto"
	"github.com/latticenode/node/ledger"
	"github.com/latticenode/node/store"
	"github.com/latticenode/node/wire"
	"github.com/latticenode/node/work"
)

// zeroThresholds lets these tests commit blocks without burning CPU on a
// real proof of work search.
func zeroThresholds() *work.Thresholds {
	return work.NewThresholds(map[core.Epoch]map[work.Kind]uint64{
		core.Epoch0: {work.KindNormal: 0, work.KindReceive: 0, work.KindEpoch: 0},
		core.Epoch1: {work.KindNormal: 0, work.KindReceive: 0, work.KindEpoch: 0},
		core.Epoch2: {work.KindNormal: 0, work.KindReceive: 0, work.KindEpoch: 0},
	})
}

func newTestLedger(t *testing.T) (*ledger.Ledger, store.Store, *config.Config, crypto.PrivateKey, core.Account) {
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
	return l, st, cfg, genesisPriv, genesisAccount
}

func mustProcess(t *testing.T, l *ledger.Ledger, txn store.Txn, b *core.Block) *ledger.ProcessResult {
	t.Helper()
	res, err := l.Process(txn, b)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	return res
}

// TestSendOpenReceiveFlow walks the canonical three-block flow: genesis
// sends to a fresh account, which opens its chain with the matching
// state receive.
func TestSendOpenReceiveFlow(t *testing.T) {
	l, st, _, genesisPriv, genesisAccount := newTestLedger(t)
	destPriv, destAccount, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	txn := st.TxBeginWrite()
	info, err := st.GetAccount(txn, genesisAccount)
	if err != nil {
		t.Fatalf("GetAccount genesis: %v", err)
	}

	sendAmount := core.NewAmount(1_000_000)
	newBalance := info.Balance.Sub(sendAmount)
	send := &core.Block{
		Type:           core.BlockState,
		Account:        genesisAccount,
		Previous:       info.Head,
		Representative: info.Representative,
		Balance:        newBalance,
		Link:           destAccount,
	}
	sendHash := wire.SignBlock(send, genesisPriv)

	res := mustProcess(t, l, txn, send)
	if res.Code != ledger.Progress {
		t.Fatalf("send Process: got %v want progress", res.Code)
	}
	if res.Amount.Cmp(sendAmount) != 0 {
		t.Errorf("send amount: got %s want %s", res.Amount, sendAmount)
	}
	// A write transaction does not see its own uncommitted writes, so the
	// send is committed before the open that depends on it.
	if err := st.TxCommit(txn); err != nil {
		t.Fatalf("TxCommit send: %v", err)
	}
	txn = st.TxBeginWrite()

	open := &core.Block{
		Type:           core.BlockState,
		Account:        destAccount,
		Previous:       core.ZeroHash,
		Representative: destAccount,
		Balance:        sendAmount,
		Link:           sendHash,
	}
	wire.SignBlock(open, destPriv)

	res = mustProcess(t, l, txn, open)
	if res.Code != ledger.Progress {
		t.Fatalf("open Process: got %v want progress", res.Code)
	}
	if res.PendingAccount != genesisAccount {
		t.Errorf("pending account: got %s want %s", res.PendingAccount, genesisAccount)
	}

	if err := st.TxCommit(txn); err != nil {
		t.Fatalf("TxCommit: %v", err)
	}

	readTxn := st.TxBeginRead()
	defer st.TxDiscard(readTxn)
	bal, err := l.Balance(readTxn, wire.HashBlock(open))
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if bal.Cmp(sendAmount) != 0 {
		t.Errorf("destination balance: got %s want %s", bal, sendAmount)
	}
	if w := l.Weight(destAccount); w.Cmp(sendAmount) != 0 {
		t.Errorf("destination weight: got %s want %s", w, sendAmount)
	}
}

// TestOldAndForkDetection checks the replay and fork result codes.
func TestOldAndForkDetection(t *testing.T) {
	l, st, _, genesisPriv, genesisAccount := newTestLedger(t)

	txn := st.TxBeginWrite()
	info, err := st.GetAccount(txn, genesisAccount)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}

	change := &core.Block{
		Type:           core.BlockState,
		Account:        genesisAccount,
		Previous:       info.Head,
		Representative: genesisAccount,
		Balance:        info.Balance,
		Link:           core.ZeroHash,
	}
	wire.SignBlock(change, genesisPriv)
	if res := mustProcess(t, l, txn, change); res.Code != ledger.Progress {
		t.Fatalf("first change: got %v want progress", res.Code)
	}
	// Commit so the replay and fork checks below see the change.
	if err := st.TxCommit(txn); err != nil {
		t.Fatalf("TxCommit: %v", err)
	}
	txn = st.TxBeginWrite()

	if res := mustProcess(t, l, txn, change); res.Code != ledger.Old {
		t.Errorf("replay: got %v want old", res.Code)
	}

	forker, forkerAccount, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	fork := &core.Block{
		Type:           core.BlockState,
		Account:        genesisAccount,
		Previous:       info.Head, // same previous as the already-committed change: a fork
		Representative: forkerAccount,
		Balance:        info.Balance,
		Link:           core.ZeroHash,
	}
	wire.SignBlock(fork, forker)
	if res := mustProcess(t, l, txn, fork); res.Code != ledger.BadSignature {
		t.Errorf("fork signed by wrong key: got %v want bad_signature", res.Code)
	}

	wire.SignBlock(fork, genesisPriv)
	if res := mustProcess(t, l, txn, fork); res.Code != ledger.Fork {
		t.Errorf("fork: got %v want fork", res.Code)
	}
}

// TestInsufficientWork uses the real default thresholds (never satisfied
// by a zero nonce) to confirm the ledger rejects underpowered work.
func TestInsufficientWork(t *testing.T) {
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
	l := ledger.New(st, cfg)

	txn := st.TxBeginWrite()
	defer st.TxDiscard(txn)
	info, err := st.GetAccount(txn, genesisAccount)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	change := &core.Block{
		Type:           core.BlockState,
		Account:        genesisAccount,
		Previous:       info.Head,
		Representative: genesisAccount,
		Balance:        info.Balance,
		Link:           core.ZeroHash,
	}
	wire.SignBlock(change, genesisPriv)
	if res := mustProcess(t, l, txn, change); res.Code != ledger.InsufficientWork {
		t.Errorf("zero-work change: got %v want insufficient_work", res.Code)
	}
}

// TestRollbackSendRestoresPending rolls back an unreceived send and
// checks the pending entry and balance are both undone.
func TestRollbackSendRestoresPending(t *testing.T) {
	l, st, _, genesisPriv, genesisAccount := newTestLedger(t)
	_, destAccount, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	txn := st.TxBeginWrite()
	info, err := st.GetAccount(txn, genesisAccount)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	sendAmount := core.NewAmount(42)
	send := &core.Block{
		Type:           core.BlockState,
		Account:        genesisAccount,
		Previous:       info.Head,
		Representative: info.Representative,
		Balance:        info.Balance.Sub(sendAmount),
		Link:           destAccount,
	}
	wire.SignBlock(send, genesisPriv)
	res := mustProcess(t, l, txn, send)
	if res.Code != ledger.Progress {
		t.Fatalf("send Process: got %v want progress", res.Code)
	}
	sendHash := wire.HashBlock(send)
	// A write transaction does not see its own uncommitted writes, so the
	// send and the rollback each commit before the next step reads them.
	if err := st.TxCommit(txn); err != nil {
		t.Fatalf("TxCommit send: %v", err)
	}

	txn = st.TxBeginWrite()
	if err := l.Rollback(txn, sendHash); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if err := st.TxCommit(txn); err != nil {
		t.Fatalf("TxCommit rollback: %v", err)
	}
	txn = st.TxBeginRead()
	defer st.TxDiscard(txn)

	if st.BlockExists(txn, sendHash) {
		t.Error("rolled-back block still present")
	}
	if _, err := st.GetPending(txn, core.PendingKey{Destination: destAccount, Send: sendHash}); err == nil {
		t.Error("pending entry should have been removed by rollback")
	}
	restored, err := st.GetAccount(txn, genesisAccount)
	if err != nil {
		t.Fatalf("GetAccount after rollback: %v", err)
	}
	if restored.Balance.Cmp(info.Balance) != 0 {
		t.Errorf("restored balance: got %s want %s", restored.Balance, info.Balance)
	}
	if restored.Head != info.Head {
		t.Errorf("restored head: got %s want %s", restored.Head, info.Head)
	}
}
