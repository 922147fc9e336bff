package ledger

import (
	"errors"
	"time"

	"github.com/latticenode/node/core"
	"github.com/latticenode/node/store"
	"github.com/latticenode/node/wire"
	"github.com/latticenode/node/work"
)

// processState validates and, on progress, commits a state block: either
// a plain send/receive/change or an epoch upgrade, per spec.md §4.1.
func (l *Ledger) processState(txn store.Txn, block *core.Block) (*ProcessResult, error) {
	hash := wire.HashBlock(block)
	if l.store.BlockExists(txn, hash) {
		return &ProcessResult{Code: Old, Hash: hash}, nil
	}
	if block.Account.IsZero() {
		return &ProcessResult{Code: OpenedBurnAccount, Hash: hash}, nil
	}

	info, infoErr := l.store.GetAccount(txn, block.Account)
	opened := infoErr == nil
	if infoErr != nil && !errors.Is(infoErr, core.ErrNotFound) {
		return nil, infoErr
	}
	previousBalance := core.Amount{}
	if opened {
		previousBalance = info.Balance
	}

	// Epoch candidacy: a registered link marker with an unchanged balance
	// (spec.md §4.1 "whose balance == previous balance, so it cannot also
	// be a send"). Signature must verify under the epoch signer key, else
	// this falls through to the regular state validator.
	if epochOrd, isMarker := l.cfg.IsEpochLink(block.Link); isMarker && block.Balance.Cmp(previousBalance) == 0 {
		if signer, ok := l.cfg.EpochSigner(epochOrd); ok && wire.VerifyBlockSignature(block, signer) {
			return l.processEpoch(txn, block, hash, info, opened, epochOrd, previousBalance)
		}
	}

	if !wire.VerifyBlockSignature(block, block.Account) {
		return &ProcessResult{Code: BadSignature, Hash: hash}, nil
	}

	if opened {
		if block.Previous.IsZero() {
			return &ProcessResult{Code: Fork, Hash: hash}, nil
		}
		if !l.store.BlockExists(txn, block.Previous) {
			return &ProcessResult{Code: GapPrevious, Hash: hash}, nil
		}
		if block.Previous != info.Head {
			return &ProcessResult{Code: Fork, Hash: hash}, nil
		}
	} else {
		if !block.Previous.IsZero() {
			return &ProcessResult{Code: GapPrevious, Hash: hash}, nil
		}
		if block.Link.IsZero() {
			return &ProcessResult{Code: GapSource, Hash: hash}, nil
		}
	}

	var (
		amount         core.Amount
		isSend         bool
		isReceive      bool
		pendingAccount core.Account
		epoch          = core.Epoch0
	)
	if opened {
		epoch = info.Epoch
	}

	switch {
	case opened && block.Balance.Cmp(info.Balance) < 0:
		isSend = true
		amount = info.Balance.Sub(block.Balance)
	case !block.Link.IsZero():
		isReceive = true
		if !l.store.BlockExists(txn, block.Link) {
			return &ProcessResult{Code: GapSource, Hash: hash}, nil
		}
		key := core.PendingKey{Destination: block.Account, Send: block.Link}
		pending, perr := l.store.GetPending(txn, key)
		if perr != nil {
			if errors.Is(perr, core.ErrNotFound) {
				return &ProcessResult{Code: Unreceivable, Hash: hash}, nil
			}
			return nil, perr
		}
		amount = pending.Amount
		if block.Balance.Cmp(previousBalance.Add(amount)) != 0 {
			return &ProcessResult{Code: BalanceMismatch, Hash: hash}, nil
		}
		epoch = epoch.Max(pending.Epoch)
		pendingAccount = pending.Source
	default:
		if block.Balance.Cmp(previousBalance) != 0 {
			return &ProcessResult{Code: BalanceMismatch, Hash: hash}, nil
		}
	}

	kind := work.KindNormal
	if isReceive {
		kind = work.KindReceive
	}
	threshold := l.thresholds.Threshold(epoch, kind)
	if !work.Validate(block.Root(), block.Work, threshold) {
		return &ProcessResult{Code: InsufficientWork, Hash: hash}, nil
	}

	details := core.Details{Epoch: epoch, IsSend: isSend, IsReceive: isReceive}
	if err := l.commitState(txn, block, hash, info, opened, block.Balance, block.Representative, details); err != nil {
		return nil, err
	}
	if isSend {
		key := core.PendingKey{Destination: block.Link, Send: hash}
		if err := l.store.PutPending(txn, key, &core.PendingInfo{Source: block.Account, Amount: amount, Epoch: epoch}); err != nil {
			return nil, err
		}
	} else if isReceive {
		if err := l.store.DelPending(txn, core.PendingKey{Destination: block.Account, Send: block.Link}); err != nil {
			return nil, err
		}
	}

	return &ProcessResult{
		Code:            Progress,
		Hash:            hash,
		Account:         block.Account,
		Amount:          amount,
		PreviousBalance: previousBalance,
		PendingAccount:  pendingAccount,
		Verified:        true,
	}, nil
}

// processEpoch validates and commits an epoch upgrade block (spec.md
// §4.1 "Epoch block").
func (l *Ledger) processEpoch(txn store.Txn, block *core.Block, hash core.Hash, info *core.AccountInfo, opened bool, epochOrd core.Epoch, previousBalance core.Amount) (*ProcessResult, error) {
	if opened {
		if block.Previous != info.Head || block.Representative != info.Representative {
			return &ProcessResult{Code: RepresentativeMismatch, Hash: hash}, nil
		}
		if epochOrd != info.Epoch+1 {
			return &ProcessResult{Code: BlockPosition, Hash: hash}, nil
		}
	} else {
		if !block.Previous.IsZero() || !block.Representative.IsZero() {
			return &ProcessResult{Code: BlockPosition, Hash: hash}, nil
		}
		if !l.store.PendingAny(txn, block.Account) {
			return &ProcessResult{Code: BlockPosition, Hash: hash}, nil
		}
		if epochOrd <= core.Epoch0 {
			return &ProcessResult{Code: BlockPosition, Hash: hash}, nil
		}
	}

	threshold := l.thresholds.Threshold(epochOrd, work.KindEpoch)
	if !work.Validate(block.Root(), block.Work, threshold) {
		return &ProcessResult{Code: InsufficientWork, Hash: hash}, nil
	}

	rep := block.Representative
	if opened {
		rep = info.Representative
	}
	details := core.Details{Epoch: epochOrd, IsEpoch: true}
	if err := l.commitState(txn, block, hash, info, opened, previousBalance, rep, details); err != nil {
		return nil, err
	}
	l.maybeLatchEpoch2(epochOrd)

	return &ProcessResult{
		Code:            Progress,
		Hash:            hash,
		Account:         block.Account,
		PreviousBalance: previousBalance,
		Verified:        true,
	}, nil
}

// commitState writes block with its sideband and updates account_info,
// the representative-weight cache, the legacy frontier table (in case the
// account's prior chain was legacy) and, for a first block, seeds
// confirmation height at {0, zero} (spec.md §4.1 "on progress").
func (l *Ledger) commitState(txn store.Txn, block *core.Block, hash core.Hash, oldInfo *core.AccountInfo, opened bool, newBalance core.Amount, newRep core.Hash, details core.Details) error {
	height := int64(1)
	oldHead, oldRep, oldBal := core.Hash{}, core.Hash{}, core.Amount{}
	openHash := hash
	if opened {
		height = oldInfo.BlockCount + 1
		oldHead = oldInfo.Head
		oldRep = oldInfo.Representative
		oldBal = oldInfo.Balance
		openHash = oldInfo.Open
	}

	now := time.Now().UTC()
	block.Sideband = &core.Sideband{Account: block.Account, Balance: newBalance, Height: height, Timestamp: now, Details: details}
	if err := l.store.PutBlock(txn, hash, block); err != nil {
		return err
	}
	if opened && !oldHead.IsZero() {
		if err := l.store.DelFrontier(txn, oldHead); err != nil {
			return err
		}
	}

	l.adjustWeight(oldRep, oldBal, newRep, newBalance)

	newInfo := &core.AccountInfo{Head: hash, Representative: newRep, Open: openHash, Balance: newBalance, Modified: now, BlockCount: height, Epoch: details.Epoch}
	if err := l.store.PutAccount(txn, block.Account, newInfo); err != nil {
		return err
	}
	if !opened {
		if err := l.store.PutConfirmationHeight(txn, block.Account, &core.ConfirmationHeightInfo{Height: 0, Frontier: core.Hash{}}); err != nil {
			return err
		}
	}
	return nil
}
