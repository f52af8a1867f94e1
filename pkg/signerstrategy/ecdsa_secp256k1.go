package signerstrategy

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// ECDSASecp256k1Strategy verifies signatures for EVM-style Hedera account
// keys (HIP-583 ECDSA accounts, also used by Hedera's EVM-compatible smart
// contract accounts). Grounded on the secp256k1 recovery/verification
// helpers the teacher imports from go-ethereum/crypto throughout
// pkg/execution (e.g. commitment_builder.go's Keccak256-based selector
// hashing uses the same package).
type ECDSASecp256k1Strategy struct{}

// NewECDSASecp256k1Strategy returns a stateless secp256k1 verifier.
func NewECDSASecp256k1Strategy() *ECDSASecp256k1Strategy {
	return &ECDSASecp256k1Strategy{}
}

// Scheme implements Strategy.
func (s *ECDSASecp256k1Strategy) Scheme() Scheme {
	return SchemeECDSASecp256k1
}

// Verify implements Strategy. The message is Keccak256-hashed before
// verification, matching how Hedera's EVM-compatible accounts sign
// transaction digests. signature may be a bare 64-byte (R||S) signature
// verified against the given public key, or a 65-byte recoverable
// signature (R||S||V), in which case the recovered public key is compared
// against publicKey instead of calling VerifySignature directly.
func (s *ECDSASecp256k1Strategy) Verify(publicKey, message, signature []byte) (bool, error) {
	digest := crypto.Keccak256(message)

	switch len(signature) {
	case 64:
		if len(publicKey) != 33 && len(publicKey) != 65 {
			return false, fmt.Errorf("signerstrategy: secp256k1 public key must be 33 or 65 bytes, got %d", len(publicKey))
		}
		return crypto.VerifySignature(publicKey, digest, signature), nil
	case 65:
		recovered, err := crypto.SigToPub(digest, signature)
		if err != nil {
			return false, fmt.Errorf("signerstrategy: recover public key: %w", err)
		}
		recoveredBytes := crypto.FromECDSAPub(recovered)
		if len(publicKey) == 33 {
			compressed := crypto.CompressPubkey(recovered)
			return bytes.Equal(compressed, publicKey), nil
		}
		return bytes.Equal(recoveredBytes, publicKey), nil
	default:
		return false, fmt.Errorf("signerstrategy: secp256k1 signature must be 64 or 65 bytes, got %d", len(signature))
	}
}
