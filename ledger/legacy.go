package ledger

import (
	"errors"
	"time"

	"github.com/latticenode/node/core"
	"github.com/latticenode/node/store"
	"github.com/latticenode/node/wire"
	"github.com/latticenode/node/work"
)

// legacy blocks (send/receive/change) don't carry their account directly;
// it's resolved via the frontier table keyed by their previous hash, the
// same way the original pre-state-block protocol tracked chain heads.

func (l *Ledger) frontierAccount(txn store.Txn, previous core.Hash) (core.Account, *core.AccountInfo, ProcessCode, error) {
	account, ok := l.store.GetFrontier(txn, previous)
	if !ok {
		return core.Account{}, nil, GapPrevious, nil
	}
	info, err := l.store.GetAccount(txn, account)
	if err != nil {
		return core.Account{}, nil, 0, err
	}
	return account, info, Progress, nil
}

func (l *Ledger) processLegacySend(txn store.Txn, block *core.Block) (*ProcessResult, error) {
	hash := wire.HashBlock(block)
	if l.store.BlockExists(txn, hash) {
		return &ProcessResult{Code: Old, Hash: hash}, nil
	}
	account, info, code, err := l.frontierAccount(txn, block.Previous)
	if err != nil {
		return nil, err
	}
	if code != Progress {
		return &ProcessResult{Code: code, Hash: hash}, nil
	}
	if !wire.VerifyBlockSignature(block, account) {
		return &ProcessResult{Code: BadSignature, Hash: hash}, nil
	}
	if block.Previous != info.Head {
		return &ProcessResult{Code: Fork, Hash: hash}, nil
	}
	if block.Balance.Cmp(info.Balance) > 0 {
		return &ProcessResult{Code: NegativeSpend, Hash: hash}, nil
	}
	amount := info.Balance.Sub(block.Balance)

	threshold := l.thresholds.Threshold(core.Epoch0, work.KindNormal)
	if !work.Validate(block.Root(), block.Work, threshold) {
		return &ProcessResult{Code: InsufficientWork, Hash: hash}, nil
	}

	if err := l.applyLegacyCommit(txn, block, hash, account, info, true, block.Balance, info.Representative); err != nil {
		return nil, err
	}
	key := core.PendingKey{Destination: block.Destination, Send: hash}
	if err := l.store.PutPending(txn, key, &core.PendingInfo{Source: account, Amount: amount, Epoch: core.Epoch0}); err != nil {
		return nil, err
	}

	return &ProcessResult{Code: Progress, Hash: hash, Account: account, Amount: amount, PreviousBalance: info.Balance, Verified: true}, nil
}

func (l *Ledger) processLegacyReceive(txn store.Txn, block *core.Block) (*ProcessResult, error) {
	hash := wire.HashBlock(block)
	if l.store.BlockExists(txn, hash) {
		return &ProcessResult{Code: Old, Hash: hash}, nil
	}
	account, info, code, err := l.frontierAccount(txn, block.Previous)
	if err != nil {
		return nil, err
	}
	if code != Progress {
		return &ProcessResult{Code: code, Hash: hash}, nil
	}
	if !wire.VerifyBlockSignature(block, account) {
		return &ProcessResult{Code: BadSignature, Hash: hash}, nil
	}
	if block.Previous != info.Head {
		return &ProcessResult{Code: Fork, Hash: hash}, nil
	}
	if !l.store.BlockExists(txn, block.Source) {
		return &ProcessResult{Code: GapSource, Hash: hash}, nil
	}
	key := core.PendingKey{Destination: account, Send: block.Source}
	pending, perr := l.store.GetPending(txn, key)
	if perr != nil {
		if errors.Is(perr, core.ErrNotFound) {
			return &ProcessResult{Code: Unreceivable, Hash: hash}, nil
		}
		return nil, perr
	}
	if pending.Epoch != core.Epoch0 {
		// legacy receive cannot consume an epoch-upgraded send (spec.md §4.1).
		return &ProcessResult{Code: Unreceivable, Hash: hash}, nil
	}
	newBalance := info.Balance.Add(pending.Amount)

	threshold := l.thresholds.Threshold(core.Epoch0, work.KindReceive)
	if !work.Validate(block.Root(), block.Work, threshold) {
		return &ProcessResult{Code: InsufficientWork, Hash: hash}, nil
	}

	if err := l.applyLegacyCommit(txn, block, hash, account, info, true, newBalance, info.Representative); err != nil {
		return nil, err
	}
	if err := l.store.DelPending(txn, key); err != nil {
		return nil, err
	}

	return &ProcessResult{Code: Progress, Hash: hash, Account: account, Amount: pending.Amount, PreviousBalance: info.Balance, PendingAccount: pending.Source, Verified: true}, nil
}

func (l *Ledger) processLegacyOpen(txn store.Txn, block *core.Block) (*ProcessResult, error) {
	hash := wire.HashBlock(block)
	if l.store.BlockExists(txn, hash) {
		return &ProcessResult{Code: Old, Hash: hash}, nil
	}
	if block.Account.IsZero() {
		return &ProcessResult{Code: OpenedBurnAccount, Hash: hash}, nil
	}
	_, err := l.store.GetAccount(txn, block.Account)
	if err == nil {
		return &ProcessResult{Code: Fork, Hash: hash}, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}
	if !wire.VerifyBlockSignature(block, block.Account) {
		return &ProcessResult{Code: BadSignature, Hash: hash}, nil
	}
	if !l.store.BlockExists(txn, block.Source) {
		return &ProcessResult{Code: GapSource, Hash: hash}, nil
	}
	key := core.PendingKey{Destination: block.Account, Send: block.Source}
	pending, perr := l.store.GetPending(txn, key)
	if perr != nil {
		if errors.Is(perr, core.ErrNotFound) {
			return &ProcessResult{Code: Unreceivable, Hash: hash}, nil
		}
		return nil, perr
	}
	if pending.Epoch != core.Epoch0 {
		return &ProcessResult{Code: Unreceivable, Hash: hash}, nil
	}

	threshold := l.thresholds.Threshold(core.Epoch0, work.KindNormal)
	if !work.Validate(block.Root(), block.Work, threshold) {
		return &ProcessResult{Code: InsufficientWork, Hash: hash}, nil
	}

	if err := l.applyLegacyCommit(txn, block, hash, block.Account, nil, false, pending.Amount, block.Representative); err != nil {
		return nil, err
	}
	if err := l.store.DelPending(txn, key); err != nil {
		return nil, err
	}

	return &ProcessResult{Code: Progress, Hash: hash, Account: block.Account, Amount: pending.Amount, PendingAccount: pending.Source, Verified: true}, nil
}

func (l *Ledger) processLegacyChange(txn store.Txn, block *core.Block) (*ProcessResult, error) {
	hash := wire.HashBlock(block)
	if l.store.BlockExists(txn, hash) {
		return &ProcessResult{Code: Old, Hash: hash}, nil
	}
	account, info, code, err := l.frontierAccount(txn, block.Previous)
	if err != nil {
		return nil, err
	}
	if code != Progress {
		return &ProcessResult{Code: code, Hash: hash}, nil
	}
	if !wire.VerifyBlockSignature(block, account) {
		return &ProcessResult{Code: BadSignature, Hash: hash}, nil
	}
	if block.Previous != info.Head {
		return &ProcessResult{Code: Fork, Hash: hash}, nil
	}

	threshold := l.thresholds.Threshold(core.Epoch0, work.KindNormal)
	if !work.Validate(block.Root(), block.Work, threshold) {
		return &ProcessResult{Code: InsufficientWork, Hash: hash}, nil
	}

	if err := l.applyLegacyCommit(txn, block, hash, account, info, true, info.Balance, block.Representative); err != nil {
		return nil, err
	}

	return &ProcessResult{Code: Progress, Hash: hash, Account: account, PreviousBalance: info.Balance, Verified: true}, nil
}

// applyLegacyCommit writes a legacy-shape block's body, sideband and
// frontier entry, and updates account_info / the weight cache the same
// way commitState does for state blocks. oldInfo is nil when opened is
// false (the block is an open, the account's first block).
func (l *Ledger) applyLegacyCommit(txn store.Txn, block *core.Block, hash core.Hash, account core.Account, oldInfo *core.AccountInfo, opened bool, newBalance core.Amount, newRep core.Hash) error {
	height := int64(1)
	oldHead, oldRep, oldBal, openHash := core.Hash{}, core.Hash{}, core.Amount{}, hash
	if opened {
		height = oldInfo.BlockCount + 1
		oldHead = oldInfo.Head
		oldRep = oldInfo.Representative
		oldBal = oldInfo.Balance
		openHash = oldInfo.Open
	}

	now := time.Now().UTC()
	block.Account = account
	block.Sideband = &core.Sideband{Account: account, Balance: newBalance, Height: height, Timestamp: now, Details: core.Details{Epoch: core.Epoch0}}
	if err := l.store.PutBlock(txn, hash, block); err != nil {
		return err
	}
	if err := l.store.PutFrontier(txn, hash, account); err != nil {
		return err
	}
	if opened && !oldHead.IsZero() {
		if err := l.store.DelFrontier(txn, oldHead); err != nil {
			return err
		}
	}

	l.adjustWeight(oldRep, oldBal, newRep, newBalance)

	newInfo := &core.AccountInfo{Head: hash, Representative: newRep, Open: openHash, Balance: newBalance, Modified: now, BlockCount: height, Epoch: core.Epoch0}
	if err := l.store.PutAccount(txn, account, newInfo); err != nil {
		return err
	}
	if !opened {
		if err := l.store.PutConfirmationHeight(txn, account, &core.ConfirmationHeightInfo{Height: 0, Frontier: core.Hash{}}); err != nil {
			return err
		}
	}
	return nil
}
