// Package wallet provides local key storage and signing for voting keys
// and epoch-signer test keys (spec.md §1's collab.Wallet collaborator).
// Generalized from the teacher's single-key AES-GCM keystore to hold
// multiple keys side by side, since a node typically needs one voting key
// plus whatever epoch-signer keys its tests or deployment configure.
package wallet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"os"

	"github.com/latticenode/node/crypto"
	"golang.org/x/crypto/pbkdf2"
)

// keystoreEntry is one encrypted key within the keystore file.
type keystoreEntry struct {
	Account    string `json:"account"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	CipherText string `json:"cipher_text"`
}

// keystoreFile is the on-disk envelope: a salted/nonced AES-GCM entry per
// key, each independently decryptable with the same password.
type keystoreFile struct {
	Entries []keystoreEntry `json:"entries"`
}

// pbkdf2Iterations matches the teacher's keystore.go derivation cost.
const pbkdf2Iterations = 210_000

func deriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, 32, sha256.New)
}

func sealEntry(priv crypto.PrivateKey, password string) (keystoreEntry, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return keystoreEntry{}, err
	}
	key := deriveKey(password, salt)

	block, err := aes.NewCipher(key)
	if err != nil {
		return keystoreEntry{}, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return keystoreEntry{}, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return keystoreEntry{}, err
	}
	cipherText := gcm.Seal(nil, nonce, priv, nil)

	return keystoreEntry{
		Account:    priv.Public().String(),
		Salt:       hex.EncodeToString(salt),
		Nonce:      hex.EncodeToString(nonce),
		CipherText: hex.EncodeToString(cipherText),
	}, nil
}

func openEntry(e keystoreEntry, password string) (crypto.PrivateKey, error) {
	salt, err := hex.DecodeString(e.Salt)
	if err != nil {
		return nil, err
	}
	nonce, err := hex.DecodeString(e.Nonce)
	if err != nil {
		return nil, err
	}
	cipherText, err := hex.DecodeString(e.CipherText)
	if err != nil {
		return nil, err
	}

	key := deriveKey(password, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	privBytes, err := gcm.Open(nil, nonce, cipherText, nil)
	if err != nil {
		return nil, errors.New("wallet: wrong password or corrupted keystore entry")
	}
	return crypto.PrivateKeyFromBytes(privBytes)
}

// saveKeystore writes every key in keys (each encrypted independently
// under password) to path as formatted JSON.
func saveKeystore(path, password string, keys []crypto.PrivateKey) error {
	ks := keystoreFile{Entries: make([]keystoreEntry, 0, len(keys))}
	for _, priv := range keys {
		entry, err := sealEntry(priv, password)
		if err != nil {
			return err
		}
		ks.Entries = append(ks.Entries, entry)
	}
	data, err := json.MarshalIndent(ks, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// loadKeystore decrypts every entry in the keystore file at path.
func loadKeystore(path, password string) ([]crypto.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var ks keystoreFile
	if err := json.Unmarshal(data, &ks); err != nil {
		return nil, err
	}
	keys := make([]crypto.PrivateKey, 0, len(ks.Entries))
	for _, entry := range ks.Entries {
		priv, err := openEntry(entry, password)
		if err != nil {
			return nil, err
		}
		keys = append(keys, priv)
	}
	return keys, nil
}
