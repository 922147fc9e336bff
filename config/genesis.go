package config

import (
	"fmt"
	"time"

	"github.com/latticenode/node/core"
)

// GenesisHash is computed deterministically from the genesis account so
// every node derives the same synthetic "first block" hash without it
// being signed by anyone (the genesis supply is not received from a
// send — it exists by protocol fiat, same as nano's live network).
func GenesisHash(account core.Account) core.Hash {
	// Reuse the account bytes directly as the genesis block hash: it is
	// never validated as a real block hash (genesis is seeded directly
	// into the store, not processed through the ledger), only used as a
	// stable Previous/Frontier reference.
	return account
}

// GenesisBlock builds the synthetic open block seeded directly into the
// store at node bootstrap (see ledger.SeedGenesis). It deliberately is not
// run through ledger.Process: an ordinary open block requires a prior
// send's pending entry, which cannot exist before any chain does.
func (c *Config) GenesisBlock() (*core.Block, *core.Sideband, error) {
	account, err := core.HashFromHex(c.GenesisAccount)
	if err != nil {
		return nil, nil, fmt.Errorf("config: genesis_account: %w", err)
	}
	rep, err := core.HashFromHex(c.GenesisRepresentative)
	if err != nil {
		rep = account
	}
	block := &core.Block{
		Type:           core.BlockOpen,
		Account:        account,
		Source:         GenesisHash(account),
		Representative: rep,
	}
	sideband := &core.Sideband{
		Account:   account,
		Balance:   core.MaxAmount(),
		Height:    1,
		Timestamp: time.Unix(0, 0).UTC(),
		Details:   core.Details{Epoch: core.Epoch0},
	}
	return block, sideband, nil
}
