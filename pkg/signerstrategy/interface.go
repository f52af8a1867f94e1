// Package signerstrategy provides pluggable cryptographic signature
// verification for participant public keys admitted to a signing session.
//
// A session's eligible keys are not all guaranteed to share one curve: a
// Hedera account key can be Ed25519 (the network default) or ECDSA
// secp256k1 (the newer account-key type used by EVM-compatible accounts).
// Rather than branch on key type inline, verification is dispatched through
// a small Strategy interface, one implementation per scheme.
package signerstrategy

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Scheme identifies the cryptographic signature scheme of a public key.
type Scheme string

const (
	// SchemeEd25519 covers standard Hedera account keys.
	SchemeEd25519 Scheme = "ed25519"

	// SchemeECDSASecp256k1 covers EVM-style account keys.
	SchemeECDSASecp256k1 Scheme = "ecdsa-secp256k1"
)

// IsValid reports whether s is a known scheme.
func (s Scheme) IsValid() bool {
	switch s {
	case SchemeEd25519, SchemeECDSASecp256k1:
		return true
	default:
		return false
	}
}

// Strategy verifies a signature over an arbitrary message (the frozen
// transaction bytes, in practice) for one signature scheme. Implementations
// must be safe for concurrent use; they hold no per-session state.
type Strategy interface {
	// Scheme returns the scheme identifier this strategy verifies.
	Scheme() Scheme

	// Verify reports whether signature is a valid signature by publicKey
	// over message. A malformed key or signature is an error, not a false
	// verdict, so callers can distinguish INVALID_SIGNATURE from a
	// caller-side bug.
	Verify(publicKey, message, signature []byte) (bool, error)
}

// Registry dispatches verification to the strategy registered for a key's
// scheme.
type Registry struct {
	strategies map[Scheme]Strategy
}

// NewRegistry builds a Registry from the given strategies, keyed by their
// own Scheme(). Later entries with a duplicate scheme overwrite earlier
// ones.
func NewRegistry(strategies ...Strategy) *Registry {
	r := &Registry{strategies: make(map[Scheme]Strategy, len(strategies))}
	for _, s := range strategies {
		r.strategies[s.Scheme()] = s
	}
	return r
}

// DefaultRegistry returns a Registry wired with the Ed25519 and ECDSA
// secp256k1 strategies, the two key types Hedera accounts actually use.
func DefaultRegistry() *Registry {
	return NewRegistry(NewEd25519Strategy(), NewECDSASecp256k1Strategy())
}

// Verify looks up the strategy for scheme and verifies the signature. It
// returns an error (rather than false) for an unregistered scheme so the
// session manager can surface a distinct diagnostic instead of a generic
// INVALID_SIGNATURE.
func (r *Registry) Verify(scheme Scheme, publicKey, message, signature []byte) (bool, error) {
	strat, ok := r.strategies[scheme]
	if !ok {
		return false, fmt.Errorf("signerstrategy: no verifier registered for scheme %q", scheme)
	}
	return strat.Verify(publicKey, message, signature)
}

// ParseKeyID splits a session's eligible-key identifier into its scheme and
// raw key bytes. Keys are admitted to a session as "<scheme>:<hex>"
// (e.g. "ed25519:<64 hex chars of the raw 32-byte key>", "ecdsa-secp256k1:04ab..."), which
// keeps the scheme visible at every layer that stores or displays the key
// rather than requiring a side-table lookup or a fixed-format byte sniff.
func ParseKeyID(keyID string) (Scheme, []byte, error) {
	parts := strings.SplitN(keyID, ":", 2)
	if len(parts) != 2 {
		return "", nil, fmt.Errorf("signerstrategy: key id %q is not in \"scheme:hex\" form", keyID)
	}
	scheme := Scheme(parts[0])
	if !scheme.IsValid() {
		return "", nil, fmt.Errorf("signerstrategy: unknown scheme %q", parts[0])
	}
	raw, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", nil, fmt.Errorf("signerstrategy: key id %q has invalid hex payload: %w", keyID, err)
	}
	return scheme, raw, nil
}
