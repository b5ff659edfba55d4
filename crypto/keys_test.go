package crypto

import (
	"encoding/hex"
	"errors"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/btcec"
	"github.com/btcsuite/btcutil"
)

func TestAddressRoundTrip(t *testing.T) {
	key := mustKey(t)
	id := key.PubKey().KeyID()
	encoded := id.Address().String()

	decoded, err := DecodeAddress(encoded)
	if err != nil {
		t.Fatalf("decode %s: %v", encoded, err)
	}
	got, ok := decoded.KeyID()
	if !ok {
		t.Fatalf("expected pay-to-pubkey-hash address")
	}
	if got != id {
		t.Fatalf("key id mismatch: %s != %s", got, id)
	}
}

func TestDecodeAddressRejectsGarbage(t *testing.T) {
	if _, err := DecodeAddress("not-an-address"); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress, got %v", err)
	}
}

func TestKeyIDMatchesBTCUtilHash(t *testing.T) {
	key := mustKey(t)
	pub := key.PubKey()
	addr, err := pub.KeyID().Address().BTCUtil()
	if err != nil {
		t.Fatalf("btcutil address: %v", err)
	}
	want, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(pub.Bytes()), NetParams)
	if err != nil {
		t.Fatalf("expected address: %v", err)
	}
	if addr.EncodeAddress() != want.EncodeAddress() {
		t.Fatalf("address mismatch: %s != %s", addr.EncodeAddress(), want.EncodeAddress())
	}
}

func TestParsePrivateKeyFormats(t *testing.T) {
	key := mustKey(t)

	fromHex, err := ParsePrivateKey(hex.EncodeToString(key.Bytes()))
	if err != nil {
		t.Fatalf("parse hex: %v", err)
	}
	if !fromHex.PubKey().Equal(key.PubKey()) {
		t.Fatalf("hex key mismatch")
	}

	priv, _ := btcec.PrivKeyFromBytes(btcec.S256(), key.Bytes())
	wif, err := btcutil.NewWIF(priv, NetParams, true)
	if err != nil {
		t.Fatalf("wif: %v", err)
	}
	fromWIF, err := ParseOperatorKey(wif.String())
	if err != nil {
		t.Fatalf("parse wif: %v", err)
	}
	if !fromWIF.PubKey().Equal(key.PubKey()) {
		t.Fatalf("wif key mismatch")
	}

	if _, err := ParsePrivateKey(""); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey for empty input, got %v", err)
	}
}

func TestPublicKeyFromBytes(t *testing.T) {
	key := mustKey(t)
	parsed, err := PublicKeyFromBytes(key.PubKey().Bytes())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !parsed.Equal(key.PubKey()) {
		t.Fatalf("parsed key mismatch")
	}
	if _, err := PublicKeyFromBytes([]byte{0x02}); err == nil {
		t.Fatalf("expected short key to fail")
	}
}

func TestOperatorKeystoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "operator.json")
	key := OperatorKey{mustKey(t)}
	if err := SaveOperatorKeystore(path, key, "secret"); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := LoadOperatorKeystore(path, "secret")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !loaded.PubKey().Equal(key.PubKey()) {
		t.Fatalf("keystore returned a different key")
	}
	if _, err := LoadOperatorKeystore(path, "wrong"); err == nil {
		t.Fatalf("expected wrong passphrase to fail")
	}
}
