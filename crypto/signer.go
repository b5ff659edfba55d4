package crypto

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/ethereum/go-ethereum/crypto"
)

// MessageMagic is prepended to every signed message so a signature can never
// be replayed as a transaction signature.
const MessageMagic = "Bitcredit Signed Message:\n"

// SignatureLength is the size of a recoverable R||S||V signature.
const SignatureLength = crypto.SignatureLength

var (
	ErrNilKey           = errors.New("crypto: nil key")
	ErrSignatureInvalid = errors.New("crypto: signature does not match public key")
)

// MessageHash returns the double SHA-256 digest that is actually signed for
// the supplied message.
func MessageHash(message []byte) []byte {
	var buf bytes.Buffer
	// Writes to a bytes.Buffer cannot fail.
	_ = wire.WriteVarString(&buf, 0, MessageMagic)
	_ = wire.WriteVarBytes(&buf, 0, message)
	return chainhash.DoubleHashB(buf.Bytes())
}

// SignMessage produces a deterministic (RFC 6979) recoverable signature of
// message with key.
func SignMessage(key *PrivateKey, message []byte) ([]byte, error) {
	if key == nil || key.PrivateKey == nil {
		return nil, ErrNilKey
	}
	sig, err := crypto.Sign(MessageHash(message), key.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: sign message: %w", err)
	}
	return sig, nil
}

// VerifyMessage recovers the signer of message from sig and checks that it
// matches pub.
func VerifyMessage(pub *PublicKey, sig, message []byte) error {
	if pub == nil || pub.PublicKey == nil {
		return ErrNilKey
	}
	if len(sig) != SignatureLength {
		return fmt.Errorf("%w: length %d", ErrSignatureInvalid, len(sig))
	}
	hash := MessageHash(message)
	recovered, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	if !pub.Equal(&PublicKey{recovered}) {
		return ErrSignatureInvalid
	}
	if !crypto.VerifySignature(pub.Bytes(), hash, sig[:64]) {
		return ErrSignatureInvalid
	}
	return nil
}
