package crypto

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcutil"
	"github.com/btcsuite/btcutil/base58"
	"github.com/ethereum/go-ethereum/crypto"
)

// Bitcredit address version bytes.
const (
	PubKeyHashAddrID byte = 0x0c
	ScriptHashAddrID byte = 0x05
	PrivateKeyID     byte = 0x8c
)

// NetParams describes the address encoding of the Bitcredit main network. Only
// the fields used for base58 addresses, scripts and WIF keys are populated.
var NetParams = &chaincfg.Params{
	Name:             "bitcredit",
	PubKeyHashAddrID: PubKeyHashAddrID,
	ScriptHashAddrID: ScriptHashAddrID,
	PrivateKeyID:     PrivateKeyID,
}

var (
	ErrInvalidAddress = errors.New("crypto: invalid address")
	ErrInvalidKey     = errors.New("crypto: invalid private key")
)

// KeyID is the hash160 of a compressed public key. It is the identity a
// pay-to-pubkey-hash output commits to.
type KeyID [20]byte

func (id KeyID) String() string {
	return hex.EncodeToString(id[:])
}

// Address encodes the key identity as a base58check pay-to-pubkey-hash address.
func (id KeyID) Address() Address {
	return Address{version: PubKeyHashAddrID, hash: id}
}

// Address represents a base58check encoded Bitcredit address.
type Address struct {
	version byte
	hash    [20]byte
}

func (a Address) String() string {
	return base58.CheckEncode(a.hash[:], a.version)
}

// KeyID returns the key identity behind a pay-to-pubkey-hash address.
func (a Address) KeyID() (KeyID, bool) {
	if a.version != PubKeyHashAddrID {
		return KeyID{}, false
	}
	return KeyID(a.hash), true
}

// BTCUtil converts the address into the btcutil representation used by the
// script helpers.
func (a Address) BTCUtil() (btcutil.Address, error) {
	switch a.version {
	case PubKeyHashAddrID:
		return btcutil.NewAddressPubKeyHash(a.hash[:], NetParams)
	case ScriptHashAddrID:
		return btcutil.NewAddressScriptHashFromHash(a.hash[:], NetParams)
	default:
		return nil, fmt.Errorf("%w: unknown version 0x%02x", ErrInvalidAddress, a.version)
	}
}

func DecodeAddress(addrStr string) (Address, error) {
	decoded, version, err := base58.CheckDecode(strings.TrimSpace(addrStr))
	if err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(decoded) != 20 {
		return Address{}, fmt.Errorf("%w: payload is %d bytes", ErrInvalidAddress, len(decoded))
	}
	if version != PubKeyHashAddrID && version != ScriptHashAddrID {
		return Address{}, fmt.Errorf("%w: unknown version 0x%02x", ErrInvalidAddress, version)
	}
	var a Address
	a.version = version
	copy(a.hash[:], decoded)
	return a, nil
}

// --- Key Management ---

type PrivateKey struct {
	*ecdsa.PrivateKey
}

type PublicKey struct {
	*ecdsa.PublicKey
}

func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Bytes returns the byte representation of the private key.
func (k *PrivateKey) Bytes() []byte {
	return crypto.FromECDSA(k.PrivateKey)
}

func (k *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{&k.PrivateKey.PublicKey}
}

// Bytes returns the 33 byte compressed encoding of the public key.
func (k *PublicKey) Bytes() []byte {
	if k == nil || k.PublicKey == nil {
		return nil
	}
	return crypto.CompressPubkey(k.PublicKey)
}

// KeyID returns hash160 of the compressed public key.
func (k *PublicKey) KeyID() KeyID {
	var id KeyID
	copy(id[:], btcutil.Hash160(k.Bytes()))
	return id
}

// Equal reports whether both keys describe the same curve point.
func (k *PublicKey) Equal(other *PublicKey) bool {
	if k == nil || other == nil || k.PublicKey == nil || other.PublicKey == nil {
		return false
	}
	return bytes.Equal(k.Bytes(), other.Bytes())
}

func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	key, err := crypto.ToECDSA(b)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// PublicKeyFromBytes parses a compressed or uncompressed secp256k1 public key.
func PublicKeyFromBytes(b []byte) (*PublicKey, error) {
	switch len(b) {
	case 33:
		pub, err := crypto.DecompressPubkey(b)
		if err != nil {
			return nil, err
		}
		return &PublicKey{pub}, nil
	case 65:
		pub, err := crypto.UnmarshalPubkey(b)
		if err != nil {
			return nil, err
		}
		return &PublicKey{pub}, nil
	default:
		return nil, fmt.Errorf("crypto: invalid public key length %d", len(b))
	}
}

// ParsePrivateKey accepts either a WIF encoded key or a 32 byte hex string.
func ParsePrivateKey(s string) (*PrivateKey, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x")); err == nil && len(raw) == 32 {
		key, err := PrivateKeyFromBytes(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		return key, nil
	}
	wif, err := btcutil.DecodeWIF(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if !wif.IsForNet(NetParams) {
		return nil, fmt.Errorf("%w: wrong network", ErrInvalidKey)
	}
	key, err := PrivateKeyFromBytes(wif.PrivKey.Serialize())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return key, nil
}

// CollateralKey is the key controlling the collateral output. It signs
// announcements only.
type CollateralKey struct {
	*PrivateKey
}

// OperatorKey is the banknode's operational key. It signs every ping so the
// collateral key can stay in a cold wallet once the node is announced.
type OperatorKey struct {
	*PrivateKey
}

// ParseOperatorKey parses an operator key from its WIF or hex form.
func ParseOperatorKey(s string) (OperatorKey, error) {
	key, err := ParsePrivateKey(s)
	if err != nil {
		return OperatorKey{}, err
	}
	return OperatorKey{key}, nil
}
