package crypto

import (
	"fmt"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Verifier checks a signature over a message against an expected signer
// identity, expressed as the 20-byte address recovered from the signature.
// The state keeper uses this to re-verify every transaction it applies,
// even though the mempool already admitted it (defense in depth).
type Verifier interface {
	// RecoverAddress recovers the signer's address from sig over the hash of
	// msg, or returns an error if the signature is malformed.
	RecoverAddress(msg, sig []byte) ([20]byte, error)
}

// ECDSAVerifier is the default Verifier, backed by go-ethereum's
// secp256k1 implementation (the signature scheme the settlement contract
// itself expects).
type ECDSAVerifier struct {
	hasher Hasher
}

// NewECDSAVerifier returns the default Verifier, hashing messages with h
// before recovery.
func NewECDSAVerifier(h Hasher) ECDSAVerifier {
	return ECDSAVerifier{hasher: h}
}

// RecoverAddress implements Verifier.
func (v ECDSAVerifier) RecoverAddress(msg, sig []byte) ([20]byte, error) {
	if len(sig) != 65 {
		return [20]byte{}, fmt.Errorf("crypto: signature must be 65 bytes, got %d", len(sig))
	}
	digest := v.hasher.Hash(msg)
	pub, err := gethcrypto.SigToPub(digest, sig)
	if err != nil {
		return [20]byte{}, fmt.Errorf("crypto: recover signer: %w", err)
	}
	return gethcrypto.PubkeyToAddress(*pub), nil
}
