package crypto

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/keystore"
)

func TestMain(m *testing.M) {
	keystoreScryptN = keystore.LightScryptN
	keystoreScryptP = keystore.LightScryptP
	os.Exit(m.Run())
}

func TestKeystoreUsesStandardScryptByDefault(t *testing.T) {
	n, p := keystoreScryptN, keystoreScryptP
	keystoreScryptN, keystoreScryptP = keystore.StandardScryptN, keystore.StandardScryptP
	t.Cleanup(func() { keystoreScryptN, keystoreScryptP = n, p })

	path := filepath.Join(t.TempDir(), "operator.keystore")
	if err := SaveOperatorKeystore(path, OperatorKey{mustKey(t)}, "secret"); err != nil {
		t.Fatalf("save: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var doc struct {
		Crypto struct {
			KDF       string         `json:"kdf"`
			KDFParams map[string]any `json:"kdfparams"`
		} `json:"crypto"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("decode keystore: %v", err)
	}
	if doc.Crypto.KDF != "scrypt" {
		t.Fatalf("expected scrypt kdf, got %q", doc.Crypto.KDF)
	}
	if got := doc.Crypto.KDFParams["n"]; got != float64(keystore.StandardScryptN) {
		t.Fatalf("expected scrypt n %d, got %v", keystore.StandardScryptN, got)
	}
	if got := doc.Crypto.KDFParams["p"]; got != float64(keystore.StandardScryptP) {
		t.Fatalf("expected scrypt p %d, got %v", keystore.StandardScryptP, got)
	}
}
