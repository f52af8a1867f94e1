package signerstrategy

import (
	"crypto/ed25519"
	"fmt"
)

// Ed25519Strategy verifies signatures for standard Hedera account keys.
// Grounded on the Ed25519 verification path of the teacher's
// attestation/strategy.Ed25519Strategy, stripped of the attestation-message
// envelope and domain separation: here the signed payload is the frozen
// transaction's raw bytes, not a derived attestation hash.
type Ed25519Strategy struct{}

// NewEd25519Strategy returns a stateless Ed25519 verifier.
func NewEd25519Strategy() *Ed25519Strategy {
	return &Ed25519Strategy{}
}

// Scheme implements Strategy.
func (s *Ed25519Strategy) Scheme() Scheme {
	return SchemeEd25519
}

// Verify implements Strategy.
func (s *Ed25519Strategy) Verify(publicKey, message, signature []byte) (bool, error) {
	if len(publicKey) != ed25519.PublicKeySize {
		return false, fmt.Errorf("signerstrategy: ed25519 public key must be %d bytes, got %d", ed25519.PublicKeySize, len(publicKey))
	}
	if len(signature) != ed25519.SignatureSize {
		return false, fmt.Errorf("signerstrategy: ed25519 signature must be %d bytes, got %d", ed25519.SignatureSize, len(signature))
	}
	return ed25519.Verify(ed25519.PublicKey(publicKey), message, signature), nil
}
