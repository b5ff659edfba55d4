package main

import (
	"encoding/hex"
	"path/filepath"
	"testing"

	"bcrnode/cmd/internal/passphrase"
	"bcrnode/config"
	"bcrnode/crypto"
)

const testPassEnv = "BANKNODED_TEST_PASS"

func TestOperatorKeySourceInline(t *testing.T) {
	priv, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	cfg := config.Default()
	cfg.Banknode.OperatorKey = hex.EncodeToString(priv.Bytes())

	keys, err := operatorKeySource(cfg, passphrase.NewSource(testPassEnv))
	if err != nil {
		t.Fatalf("key source: %v", err)
	}
	got, err := keys()
	if err != nil {
		t.Fatalf("load key: %v", err)
	}
	if !got.PubKey().Equal(priv.PubKey()) {
		t.Fatalf("inline key mismatch")
	}
}

func TestOperatorKeySourceRejectsBadInlineKey(t *testing.T) {
	cfg := config.Default()
	cfg.Banknode.OperatorKey = "not-a-key"
	if _, err := operatorKeySource(cfg, passphrase.NewSource(testPassEnv)); err == nil {
		t.Fatalf("expected error for malformed operator key")
	}
}

func TestOperatorKeySourceKeystore(t *testing.T) {
	priv, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	path := filepath.Join(t.TempDir(), "operator.keystore")
	if err := crypto.SaveOperatorKeystore(path, crypto.OperatorKey{PrivateKey: priv}, "s3cret"); err != nil {
		t.Fatalf("save keystore: %v", err)
	}
	t.Setenv(testPassEnv, "s3cret")

	cfg := config.Default()
	cfg.Banknode.OperatorKeystorePath = path
	keys, err := operatorKeySource(cfg, passphrase.NewSource(testPassEnv))
	if err != nil {
		t.Fatalf("key source: %v", err)
	}
	for i := 0; i < 2; i++ {
		got, err := keys()
		if err != nil {
			t.Fatalf("load key: %v", err)
		}
		if !got.PubKey().Equal(priv.PubKey()) {
			t.Fatalf("keystore key mismatch")
		}
	}
}

func TestOperatorKeySourceWrongPassphrase(t *testing.T) {
	priv, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	path := filepath.Join(t.TempDir(), "operator.keystore")
	if err := crypto.SaveOperatorKeystore(path, crypto.OperatorKey{PrivateKey: priv}, "s3cret"); err != nil {
		t.Fatalf("save keystore: %v", err)
	}
	t.Setenv(testPassEnv, "wrong")

	cfg := config.Default()
	cfg.Banknode.OperatorKeystorePath = path
	keys, err := operatorKeySource(cfg, passphrase.NewSource(testPassEnv))
	if err != nil {
		t.Fatalf("key source: %v", err)
	}
	if _, err := keys(); err == nil {
		t.Fatalf("expected decrypt failure")
	}
}

func TestGenerateOperatorKey(t *testing.T) {
	t.Setenv(testPassEnv, "fresh-pass")
	cfg := config.Default()
	cfg.Banknode.PassphraseEnv = testPassEnv
	cfg.Banknode.OperatorKeystorePath = filepath.Join(t.TempDir(), "operator.keystore")

	if err := generateOperatorKey(cfg); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := crypto.LoadOperatorKeystore(cfg.Banknode.OperatorKeystorePath, "fresh-pass"); err != nil {
		t.Fatalf("load generated keystore: %v", err)
	}
	if err := generateOperatorKey(cfg); err == nil {
		t.Fatalf("expected refusal to overwrite an existing keystore")
	}
}
