package crypto

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/accounts/keystore"
)

// Scrypt cost of new keystores. Tests lower it.
var (
	keystoreScryptN = keystore.StandardScryptN
	keystoreScryptP = keystore.StandardScryptP
)

// SaveOperatorKeystore encrypts the operator key into a v3 keystore file at
// path. The file is written through a scratch directory and renamed into
// place with 0600 permissions.
func SaveOperatorKeystore(path string, key OperatorKey, passphrase string) error {
	if key.PrivateKey == nil {
		return ErrNilKey
	}
	if path == "" {
		return errors.New("crypto: empty keystore path")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	scratch, err := os.MkdirTemp(dir, "operator-key-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(scratch)

	ks := keystore.NewKeyStore(scratch, keystoreScryptN, keystoreScryptP)
	if _, err := ks.ImportECDSA(key.PrivateKey.PrivateKey, passphrase); err != nil {
		return fmt.Errorf("crypto: import operator key: %w", err)
	}

	entries, err := os.ReadDir(scratch)
	if err != nil {
		return err
	}
	if len(entries) != 1 {
		return fmt.Errorf("crypto: expected one keystore file, found %d", len(entries))
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.Rename(filepath.Join(scratch, entries[0].Name()), path); err != nil {
		return err
	}
	return os.Chmod(path, 0o600)
}

// LoadOperatorKeystore decrypts the operator key stored at path.
func LoadOperatorKeystore(path, passphrase string) (OperatorKey, error) {
	if path == "" {
		return OperatorKey{}, errors.New("crypto: empty keystore path")
	}
	keyJSON, err := os.ReadFile(path)
	if err != nil {
		return OperatorKey{}, err
	}
	decrypted, err := keystore.DecryptKey(keyJSON, passphrase)
	if err != nil {
		return OperatorKey{}, fmt.Errorf("crypto: decrypt operator key: %w", err)
	}
	return OperatorKey{&PrivateKey{PrivateKey: decrypted.PrivateKey}}, nil
}
