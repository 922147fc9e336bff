package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/latticenode/node/core"
	"github.com/latticenode/node/store"
)

// Rollback reverse-applies the block at hash, cascading as required by
// spec.md §4.1: rolling back a send whose proceeds were already received
// first rolls back that receive on the destination account, and rolling
// back any non-head block first rolls back its account's later blocks
// down to it. Rollback refuses to cross a confirmed block; on that path
// it returns ErrRollbackConfirmed and leaves the transaction untouched by
// this call (earlier cascaded rollbacks performed before the refusal are
// not itself re-applied, matching "the whole rollback fails" by leaving
// the offending sub-call as the first and only mutation attempted for
// that hash).
func (l *Ledger) Rollback(txn store.Txn, hash core.Hash) error {
	block, err := l.store.GetBlock(txn, hash)
	if err != nil {
		return err
	}
	account, err := l.Account(txn, hash)
	if err != nil {
		return err
	}
	if err := l.guardNotConfirmed(txn, account, block); err != nil {
		return err
	}

	// Cascade: if hash isn't the account's current head, roll back
	// descendants first so we only ever reverse the head block.
	for {
		info, err := l.store.GetAccount(txn, account)
		if err != nil {
			return err
		}
		if info.Head == hash {
			break
		}
		successor, err := l.findSuccessor(txn, account, hash)
		if err != nil {
			return err
		}
		if err := l.Rollback(txn, successor); err != nil {
			return err
		}
	}

	switch block.Type {
	case core.BlockState:
		return l.rollbackState(txn, block, hash, account)
	default:
		return l.rollbackLegacy(txn, block, hash, account)
	}
}

func (l *Ledger) guardNotConfirmed(txn store.Txn, account core.Account, block *core.Block) error {
	confHeight, err := l.store.GetConfirmationHeight(txn, account)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil
		}
		return err
	}
	if sidebandHeightOf(block) != 0 && sidebandHeightOf(block) <= confHeight.Height {
		return fmt.Errorf("%w: account=%s height=%d confirmed=%d", ErrRollbackConfirmed, account, sidebandHeightOf(block), confHeight.Height)
	}
	return nil
}

// findSuccessor walks from the account's current head back to target,
// returning the block immediately after target on that chain.
func (l *Ledger) findSuccessor(txn store.Txn, account core.Account, target core.Hash) (core.Hash, error) {
	info, err := l.store.GetAccount(txn, account)
	if err != nil {
		return core.Hash{}, err
	}
	cur := info.Head
	for !cur.IsZero() {
		b, err := l.store.GetBlock(txn, cur)
		if err != nil {
			return core.Hash{}, err
		}
		if b.Previous == target {
			return cur, nil
		}
		cur = b.Previous
	}
	return core.Hash{}, fmt.Errorf("ledger: %s is not an ancestor of account %s head", target, account)
}

// findReceivingBlock walks destination's chain looking for the block
// whose link/source equals sendHash, i.e. the receive that consumed it.
func (l *Ledger) findReceivingBlock(txn store.Txn, destination core.Account, sendHash core.Hash) (core.Hash, error) {
	info, err := l.store.GetAccount(txn, destination)
	if err != nil {
		return core.Hash{}, err
	}
	cur := info.Head
	for !cur.IsZero() {
		b, err := l.store.GetBlock(txn, cur)
		if err != nil {
			return core.Hash{}, err
		}
		switch b.Type {
		case core.BlockReceive, core.BlockOpen:
			if b.Source == sendHash {
				return cur, nil
			}
		case core.BlockState:
			if b.Sideband != nil && b.Sideband.Details.IsReceive && b.Link == sendHash {
				return cur, nil
			}
		}
		cur = b.Previous
	}
	return core.Hash{}, fmt.Errorf("ledger: no block on %s receives send %s", destination, sendHash)
}

func (l *Ledger) rollbackState(txn store.Txn, block *core.Block, hash core.Hash, account core.Account) error {
	oldInfo, err := l.store.GetAccount(txn, account)
	if err != nil {
		return err
	}
	isSend := block.Sideband != nil && block.Sideband.Details.IsSend
	isReceive := block.Sideband != nil && block.Sideband.Details.IsReceive

	if isSend {
		if err := l.uncommitSend(txn, account, block.Link, hash); err != nil {
			return err
		}
	}
	if isReceive {
		if err := l.recreatePending(txn, account, block.Link); err != nil {
			return err
		}
	}

	if block.Previous.IsZero() {
		if err := l.store.DelAccount(txn, account); err != nil {
			return err
		}
		if err := l.store.DelConfirmationHeight(txn, account); err != nil {
			return err
		}
		l.adjustWeight(oldInfo.Representative, oldInfo.Balance, core.Hash{}, core.Amount{})
	} else {
		prevBlock, err := l.store.GetBlock(txn, block.Previous)
		if err != nil {
			return err
		}
		prevRep, err := l.representativeAsOf(txn, block.Previous)
		if err != nil {
			return err
		}
		newInfo := &core.AccountInfo{
			Head:           block.Previous,
			Representative: prevRep,
			Open:           oldInfo.Open,
			Balance:        prevBlock.Sideband.Balance,
			Modified:       time.Now().UTC(),
			BlockCount:     sidebandHeightOf(prevBlock),
			Epoch:          sidebandEpochOf(prevBlock),
		}
		if err := l.store.PutAccount(txn, account, newInfo); err != nil {
			return err
		}
		l.adjustWeight(oldInfo.Representative, oldInfo.Balance, prevRep, prevBlock.Sideband.Balance)
	}

	return l.store.DelBlock(txn, hash)
}

func (l *Ledger) rollbackLegacy(txn store.Txn, block *core.Block, hash core.Hash, account core.Account) error {
	oldInfo, err := l.store.GetAccount(txn, account)
	if err != nil {
		return err
	}

	switch block.Type {
	case core.BlockSend:
		if err := l.uncommitSend(txn, account, block.Destination, hash); err != nil {
			return err
		}
	case core.BlockReceive:
		if err := l.recreatePending(txn, account, block.Source); err != nil {
			return err
		}
	case core.BlockOpen:
		if err := l.recreatePending(txn, account, block.Source); err != nil {
			return err
		}
	}

	if err := l.store.DelFrontier(txn, hash); err != nil {
		return err
	}

	if block.Type == core.BlockOpen {
		if err := l.store.DelAccount(txn, account); err != nil {
			return err
		}
		if err := l.store.DelConfirmationHeight(txn, account); err != nil {
			return err
		}
		l.adjustWeight(oldInfo.Representative, oldInfo.Balance, core.Hash{}, core.Amount{})
		return l.store.DelBlock(txn, hash)
	}

	prevBlock, err := l.store.GetBlock(txn, block.Previous)
	if err != nil {
		return err
	}
	prevRep, err := l.representativeAsOf(txn, block.Previous)
	if err != nil {
		return err
	}
	newInfo := &core.AccountInfo{
		Head:           block.Previous,
		Representative: prevRep,
		Open:           oldInfo.Open,
		Balance:        prevBlock.Sideband.Balance,
		Modified:       time.Now().UTC(),
		BlockCount:     sidebandHeightOf(prevBlock),
		Epoch:          core.Epoch0,
	}
	if err := l.store.PutAccount(txn, account, newInfo); err != nil {
		return err
	}
	l.adjustWeight(oldInfo.Representative, oldInfo.Balance, prevRep, prevBlock.Sideband.Balance)
	if err := l.store.PutFrontier(txn, block.Previous, account); err != nil {
		return err
	}
	return l.store.DelBlock(txn, hash)
}

// uncommitSend removes the pending entry a send created, first cascading
// a rollback of the receive that consumed it if one already has.
func (l *Ledger) uncommitSend(txn store.Txn, sender core.Account, destination core.Hash, sendHash core.Hash) error {
	key := core.PendingKey{Destination: destination, Send: sendHash}
	if _, err := l.store.GetPending(txn, key); err != nil {
		if !errors.Is(err, core.ErrNotFound) {
			return err
		}
		receiving, err := l.findReceivingBlock(txn, destination, sendHash)
		if err != nil {
			return err
		}
		if err := l.Rollback(txn, receiving); err != nil {
			return err
		}
	}
	return l.store.DelPending(txn, key)
}

// recreatePending restores the pending entry a receive or open
// consumed, reconstructing it from the still-committed send block.
func (l *Ledger) recreatePending(txn store.Txn, destination core.Account, sendHash core.Hash) error {
	sendBlock, err := l.store.GetBlock(txn, sendHash)
	if err != nil {
		return err
	}
	sender, err := l.Account(txn, sendHash)
	if err != nil {
		return err
	}
	amount, err := l.Amount(txn, sendHash)
	if err != nil {
		return err
	}
	key := core.PendingKey{Destination: destination, Send: sendHash}
	return l.store.PutPending(txn, key, &core.PendingInfo{Source: sender, Amount: amount, Epoch: sidebandEpochOf(sendBlock)})
}
