package wallet

import (
	"fmt"
	"sync"

	"github.com/latticenode/node/collab"
	"github.com/latticenode/node/core"
	"github.com/latticenode/node/crypto"
	"github.com/latticenode/node/wire"
)

// Wallet holds a set of locally-controlled private keys and implements
// collab.Wallet: sign blocks on behalf of whichever of those keys a
// caller names; PrivateKey hands out a raw key for anything else, such
// as vote bodies. Generalized from the
// teacher's single-key Wallet to hold the node's own voting key plus
// whatever epoch-signer test keys a deployment configures, since both are
// "keys this node can sign with" from collab.Wallet's point of view.
type Wallet struct {
	mu   sync.RWMutex
	keys map[core.Account]crypto.PrivateKey
}

var _ collab.Wallet = (*Wallet)(nil)

// New creates an empty Wallet.
func New() *Wallet {
	return &Wallet{keys: make(map[core.Account]crypto.PrivateKey)}
}

// Generate creates a fresh key pair, adds it to the wallet, and returns
// its account.
func (w *Wallet) Generate() (core.Account, error) {
	priv, account, err := crypto.GenerateKeyPair()
	if err != nil {
		return core.Account{}, err
	}
	w.Add(priv)
	return account, nil
}

// Add registers an existing private key with the wallet.
func (w *Wallet) Add(priv crypto.PrivateKey) core.Account {
	account := priv.Public()
	w.mu.Lock()
	w.keys[account] = priv
	w.mu.Unlock()
	return account
}

// Accounts returns every account this wallet can sign for.
func (w *Wallet) Accounts() []core.Account {
	w.mu.RLock()
	defer w.mu.RUnlock()
	accounts := make([]core.Account, 0, len(w.keys))
	for account := range w.keys {
		accounts = append(accounts, account)
	}
	return accounts
}

// Sign signs block on behalf of account if this wallet holds its key,
// setting block's signature in place. Returns (false, nil) — not an
// error — when account is not locally controlled, since callers may fan
// a signing request out over every voting representative and expect most
// to decline.
func (w *Wallet) Sign(account core.Account, block *core.Block) (bool, error) {
	w.mu.RLock()
	priv, ok := w.keys[account]
	w.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if block.Account != account {
		return false, fmt.Errorf("wallet: block.Account %s does not match signing account %s", block.Account, account)
	}
	wire.SignBlock(block, priv)
	return true, nil
}

// PrivateKey returns the raw private key for account, for callers (such
// as vote signing) that need it directly rather than through the narrower
// collab.Wallet surface. ok is false if account is not held.
func (w *Wallet) PrivateKey(account core.Account) (crypto.PrivateKey, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	priv, ok := w.keys[account]
	return priv, ok
}

// Save encrypts every held key under password and writes them to path.
func (w *Wallet) Save(path, password string) error {
	w.mu.RLock()
	keys := make([]crypto.PrivateKey, 0, len(w.keys))
	for _, priv := range w.keys {
		keys = append(keys, priv)
	}
	w.mu.RUnlock()
	return saveKeystore(path, password, keys)
}

// Load decrypts the keystore at path under password and adds every key
// it contains to the wallet.
func (w *Wallet) Load(path, password string) error {
	keys, err := loadKeystore(path, password)
	if err != nil {
		return err
	}
	w.mu.Lock()
	for _, priv := range keys {
		w.keys[priv.Public()] = priv
	}
	w.mu.Unlock()
	return nil
}

// Open loads a Wallet from an existing keystore file.
func Open(path, password string) (*Wallet, error) {
	w := New()
	if err := w.Load(path, password); err != nil {
		return nil, err
	}
	return w, nil
}
