package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	lvutil "github.com/syndtr/goleveldb/leveldb/util"

	"github.com/latticenode/node/core"
	"github.com/latticenode/node/wire"
)

// Key prefixes, one per table, exactly as storage.LevelBlockStore keys its
// "block:" and "height:" entries — every table in this Store trait gets
// its own prefix over one LevelDB instance.
const (
	prefixAccount    = "a:"
	prefixBlock      = "b:"
	prefixSideband   = "s:"
	prefixPending    = "p:"
	prefixConfHeight = "c:"
	prefixFrontier   = "f:"
	prefixUnchecked  = "u:"
	keyMetaVersion   = "meta:version"
)

// LevelStore implements Store on top of goleveldb, grounded in the
// teacher's storage.LevelDB/storage.LevelBlockStore.
type LevelStore struct {
	db *leveldb.DB
}

// OpenLevelStore opens (or creates) a LevelDB database at path.
func OpenLevelStore(path string) (*LevelStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("store: open leveldb %q: %w", path, err)
	}
	return &LevelStore{db: db}, nil
}

// Close releases the underlying LevelDB handle.
func (l *LevelStore) Close() error { return l.db.Close() }

// levelTxn is either a read snapshot or a write batch; the struct pattern
// mirrors Memory's memTxn deliberately so both stores read the same way
// from the ledger's point of view.
type levelTxn struct {
	write    bool
	snapshot *leveldb.Snapshot
	batch    *leveldb.Batch
}

func (t *levelTxn) isWrite() bool { return t.write }

func (l *LevelStore) TxBeginRead() Txn {
	snap, err := l.db.GetSnapshot()
	if err != nil {
		// A snapshot only fails if the DB is already closed; surface a
		// transaction that returns ErrNotFound for everything rather than
		// panicking mid-pipeline.
		return &levelTxn{write: false}
	}
	return &levelTxn{write: false, snapshot: snap}
}

func (l *LevelStore) TxBeginWrite() Txn {
	return &levelTxn{write: true, batch: new(leveldb.Batch)}
}

func (l *LevelStore) TxCommit(txn Txn) error {
	t := txn.(*levelTxn)
	if !t.write {
		if t.snapshot != nil {
			t.snapshot.Release()
		}
		return nil
	}
	return l.db.Write(t.batch, nil)
}

func (l *LevelStore) TxDiscard(txn Txn) {
	t := txn.(*levelTxn)
	if !t.write && t.snapshot != nil {
		t.snapshot.Release()
	}
}

func (l *LevelStore) get(txn Txn, key []byte) ([]byte, error) {
	t := txn.(*levelTxn)
	if t.write {
		// Reads inside an uncommitted write txn see committed DB state;
		// the ledger never reads back its own uncommitted writes within
		// one block's processing.
		v, err := l.db.Get(key, nil)
		if err == leveldb.ErrNotFound {
			return nil, core.ErrNotFound
		}
		return v, err
	}
	if t.snapshot == nil {
		return nil, core.ErrNotFound
	}
	v, err := t.snapshot.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, core.ErrNotFound
	}
	return v, err
}

func (l *LevelStore) put(txn Txn, key, val []byte) error {
	txn.(*levelTxn).batch.Put(key, val)
	return nil
}

func (l *LevelStore) del(txn Txn, key []byte) error {
	txn.(*levelTxn).batch.Delete(key)
	return nil
}

// ---- Accounts ----

func (l *LevelStore) GetAccount(txn Txn, account core.Account) (*core.AccountInfo, error) {
	v, err := l.get(txn, append([]byte(prefixAccount), account.Bytes()...))
	if err != nil {
		return nil, err
	}
	var jv jsonAccountInfo
	if err := json.Unmarshal(v, &jv); err != nil {
		return nil, err
	}
	return jv.toCore()
}

func (l *LevelStore) PutAccount(txn Txn, account core.Account, info *core.AccountInfo) error {
	data, err := json.Marshal(fromCoreAccountInfo(info))
	if err != nil {
		return err
	}
	return l.put(txn, append([]byte(prefixAccount), account.Bytes()...), data)
}

func (l *LevelStore) DelAccount(txn Txn, account core.Account) error {
	return l.del(txn, append([]byte(prefixAccount), account.Bytes()...))
}

// ---- Blocks ----

func (l *LevelStore) blockKey(hash core.Hash) []byte   { return append([]byte(prefixBlock), hash.Bytes()...) }
func (l *LevelStore) sidebandKey(hash core.Hash) []byte { return append([]byte(prefixSideband), hash.Bytes()...) }

func (l *LevelStore) BlockExists(txn Txn, hash core.Hash) bool {
	_, err := l.get(txn, l.blockKey(hash))
	return err == nil
}

func (l *LevelStore) GetBlock(txn Txn, hash core.Hash) (*core.Block, error) {
	typeAndBody, err := l.get(txn, l.blockKey(hash))
	if err != nil {
		return nil, err
	}
	if len(typeAndBody) < 1 {
		return nil, fmt.Errorf("store: corrupt block record for %s", hash)
	}
	typ := core.BlockType(typeAndBody[0])
	block, err := wire.DecodeBlock(typ, typeAndBody[1:])
	if err != nil {
		return nil, err
	}
	sbRaw, err := l.get(txn, l.sidebandKey(hash))
	if err == nil {
		sb, err := wire.DecodeSideband(typ, sbRaw)
		if err != nil {
			return nil, err
		}
		// The encoded sideband omits the balance that send and state
		// bodies already carry; restore it for O(1) balance lookup.
		if typ == core.BlockSend || typ == core.BlockState {
			sb.Balance = block.Balance
		}
		block.Sideband = sb
	}
	return block, nil
}

func (l *LevelStore) PutBlock(txn Txn, hash core.Hash, block *core.Block) error {
	body := wire.EncodeBlock(block)
	rec := append([]byte{byte(block.Type)}, body...)
	if err := l.put(txn, l.blockKey(hash), rec); err != nil {
		return err
	}
	if block.Sideband != nil {
		sb := wire.EncodeSideband(block.Type, block.Sideband)
		if err := l.put(txn, l.sidebandKey(hash), sb); err != nil {
			return err
		}
	}
	return nil
}

func (l *LevelStore) DelBlock(txn Txn, hash core.Hash) error {
	if err := l.del(txn, l.blockKey(hash)); err != nil {
		return err
	}
	return l.del(txn, l.sidebandKey(hash))
}

func (l *LevelStore) BlockCount(txn Txn) int64 {
	t := txn.(*levelTxn)
	var it iteratorLike
	if t.write {
		it = l.db.NewIterator(lvutil.BytesPrefix([]byte(prefixBlock)), nil)
	} else if t.snapshot != nil {
		it = t.snapshot.NewIterator(lvutil.BytesPrefix([]byte(prefixBlock)), nil)
	} else {
		return 0
	}
	defer it.Release()
	var n int64
	for it.Next() {
		n++
	}
	return n
}

type iteratorLike interface {
	Next() bool
	Release()
}

// ---- Pending ----

func (l *LevelStore) pendingKey(key core.PendingKey) []byte {
	k := append([]byte(prefixPending), key.Destination.Bytes()...)
	return append(k, key.Send.Bytes()...)
}

func (l *LevelStore) GetPending(txn Txn, key core.PendingKey) (*core.PendingInfo, error) {
	v, err := l.get(txn, l.pendingKey(key))
	if err != nil {
		return nil, err
	}
	var jv jsonPendingInfo
	if err := json.Unmarshal(v, &jv); err != nil {
		return nil, err
	}
	return jv.toCore()
}

func (l *LevelStore) PutPending(txn Txn, key core.PendingKey, info *core.PendingInfo) error {
	data, err := json.Marshal(fromCorePendingInfo(info))
	if err != nil {
		return err
	}
	return l.put(txn, l.pendingKey(key), data)
}

func (l *LevelStore) DelPending(txn Txn, key core.PendingKey) error {
	return l.del(txn, l.pendingKey(key))
}

func (l *LevelStore) PendingAny(txn Txn, destination core.Account) bool {
	t := txn.(*levelTxn)
	prefix := append([]byte(prefixPending), destination.Bytes()...)
	var it iteratorLike
	if t.write {
		it = l.db.NewIterator(lvutil.BytesPrefix(prefix), nil)
	} else if t.snapshot != nil {
		it = t.snapshot.NewIterator(lvutil.BytesPrefix(prefix), nil)
	} else {
		return false
	}
	defer it.Release()
	return it.Next()
}

// ---- Confirmation height ----

func (l *LevelStore) confHeightKey(account core.Account) []byte {
	return append([]byte(prefixConfHeight), account.Bytes()...)
}

func (l *LevelStore) GetConfirmationHeight(txn Txn, account core.Account) (*core.ConfirmationHeightInfo, error) {
	v, err := l.get(txn, l.confHeightKey(account))
	if err != nil {
		return nil, err
	}
	var jv jsonConfHeight
	if err := json.Unmarshal(v, &jv); err != nil {
		return nil, err
	}
	return jv.toCore()
}

func (l *LevelStore) PutConfirmationHeight(txn Txn, account core.Account, info *core.ConfirmationHeightInfo) error {
	data, err := json.Marshal(fromCoreConfHeight(info))
	if err != nil {
		return err
	}
	return l.put(txn, l.confHeightKey(account), data)
}

func (l *LevelStore) DelConfirmationHeight(txn Txn, account core.Account) error {
	return l.del(txn, l.confHeightKey(account))
}

// ---- Frontiers ----

func (l *LevelStore) frontierKey(hash core.Hash) []byte {
	return append([]byte(prefixFrontier), hash.Bytes()...)
}

func (l *LevelStore) GetFrontier(txn Txn, hash core.Hash) (core.Account, bool) {
	v, err := l.get(txn, l.frontierKey(hash))
	if err != nil {
		return core.Account{}, false
	}
	acc, err := core.HashFromHex(string(v))
	if err != nil {
		return core.Account{}, false
	}
	return acc, true
}

func (l *LevelStore) PutFrontier(txn Txn, hash core.Hash, account core.Account) error {
	return l.put(txn, l.frontierKey(hash), []byte(account.String()))
}

func (l *LevelStore) DelFrontier(txn Txn, hash core.Hash) error {
	return l.del(txn, l.frontierKey(hash))
}

// ---- Unchecked ----

func (l *LevelStore) uncheckedKey(dependency, blockHash core.Hash) []byte {
	k := append([]byte(prefixUnchecked), dependency.Bytes()...)
	return append(k, blockHash.Bytes()...)
}

func (l *LevelStore) PutUnchecked(txn Txn, dependency core.Hash, block *core.Block, arrived time.Time) error {
	h := wire.HashBlock(block)
	rec := jsonUnchecked{
		Type:    byte(block.Type),
		Body:    wire.EncodeBlock(block),
		Arrived: arrived.UnixNano(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return l.put(txn, l.uncheckedKey(dependency, h), data)
}

func (l *LevelStore) GetUnchecked(txn Txn, dependency core.Hash) ([]*core.Block, error) {
	t := txn.(*levelTxn)
	prefix := append([]byte(prefixUnchecked), dependency.Bytes()...)
	var it iteratorWithKV
	if t.write {
		it = l.db.NewIterator(lvutil.BytesPrefix(prefix), nil)
	} else if t.snapshot != nil {
		it = t.snapshot.NewIterator(lvutil.BytesPrefix(prefix), nil)
	} else {
		return nil, nil
	}
	defer it.Release()

	type entry struct {
		block   *core.Block
		arrived int64
	}
	var entries []entry
	for it.Next() {
		var rec jsonUnchecked
		if err := json.Unmarshal(it.Value(), &rec); err != nil {
			return nil, err
		}
		b, err := wire.DecodeBlock(core.BlockType(rec.Type), rec.Body)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry{block: b, arrived: rec.Arrived})
	}
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].arrived < entries[j-1].arrived; j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
	out := make([]*core.Block, len(entries))
	for i, e := range entries {
		out[i] = e.block
	}
	return out, nil
}

type iteratorWithKV interface {
	Next() bool
	Value() []byte
	Release()
}

func (l *LevelStore) DelUnchecked(txn Txn, dependency core.Hash, blockHash core.Hash) error {
	return l.del(txn, l.uncheckedKey(dependency, blockHash))
}

// ---- Meta ----

func (l *LevelStore) GetVersion(txn Txn) (int, error) {
	v, err := l.get(txn, []byte(keyMetaVersion))
	if err == core.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(v) != 4 {
		return 0, fmt.Errorf("store: corrupt meta version record")
	}
	return int(v[0])<<24 | int(v[1])<<16 | int(v[2])<<8 | int(v[3]), nil
}

func (l *LevelStore) PutVersion(txn Txn, version int) error {
	v := []byte{byte(version >> 24), byte(version >> 16), byte(version >> 8), byte(version)}
	return l.put(txn, []byte(keyMetaVersion), v)
}
