package ledger

import (
	"errors"
	"fmt"

	"github.com/latticenode/node/config"
	"github.com/latticenode/node/core"
	"github.com/latticenode/node/store"
	"github.com/latticenode/node/wire"
)

// SeedGenesis writes the genesis account's open block directly into st,
// bypassing Process: an ordinary open block requires a pending entry from
// a prior send, which by definition cannot exist before any chain does
// (config.GenesisBlock). It is a no-op if the genesis account is already
// opened, so node startup can call it unconditionally on every boot.
func SeedGenesis(st store.Store, cfg *config.Config) error {
	block, sideband, err := cfg.GenesisBlock()
	if err != nil {
		return fmt.Errorf("ledger: genesis: %w", err)
	}

	txn := st.TxBeginWrite()
	defer st.TxDiscard(txn)

	if _, err := st.GetAccount(txn, block.Account); err == nil {
		return nil // already seeded
	} else if !errors.Is(err, core.ErrNotFound) {
		return err
	}

	hash := wire.HashBlock(block)
	block.Sideband = sideband
	if err := st.PutBlock(txn, hash, block); err != nil {
		return err
	}
	if err := st.PutFrontier(txn, hash, block.Account); err != nil {
		return err
	}
	info := &core.AccountInfo{
		Head:           hash,
		Representative: block.Representative,
		Open:           hash,
		Balance:        sideband.Balance,
		Modified:       sideband.Timestamp,
		BlockCount:     1,
		Epoch:          core.Epoch0,
	}
	if err := st.PutAccount(txn, block.Account, info); err != nil {
		return err
	}
	if err := st.PutConfirmationHeight(txn, block.Account, &core.ConfirmationHeightInfo{Height: 1, Frontier: hash}); err != nil {
		return err
	}
	return st.TxCommit(txn)
}
