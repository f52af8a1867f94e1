package signerstrategy

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
)

func TestEd25519Strategy_VerifyRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	msg := []byte("frozen-tx-bytes")
	sig := ed25519.Sign(priv, msg)

	strat := NewEd25519Strategy()
	ok, err := strat.Verify(pub, msg, sig)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !ok {
		t.Fatal("expected signature to verify")
	}

	tampered := append([]byte(nil), msg...)
	tampered[0] ^= 0xFF
	ok, err = strat.Verify(pub, tampered, sig)
	if err != nil {
		t.Fatalf("verify tampered: %v", err)
	}
	if ok {
		t.Fatal("expected tampered message to fail verification")
	}
}

func TestEd25519Strategy_RejectsWrongSizes(t *testing.T) {
	strat := NewEd25519Strategy()
	if _, err := strat.Verify([]byte{1, 2, 3}, []byte("m"), make([]byte, ed25519.SignatureSize)); err == nil {
		t.Fatal("expected error for short public key")
	}
	if _, err := strat.Verify(make([]byte, ed25519.PublicKeySize), []byte("m"), []byte{1}); err == nil {
		t.Fatal("expected error for short signature")
	}
}

func TestECDSASecp256k1Strategy_VerifyRecoverableSignature(t *testing.T) {
	priv, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	msg := []byte("frozen-tx-bytes")
	digest := crypto.Keccak256(msg)
	sig, err := crypto.Sign(digest, priv)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	strat := NewECDSASecp256k1Strategy()
	pubBytes := crypto.FromECDSAPub(&priv.PublicKey)

	ok, err := strat.Verify(pubBytes, msg, sig)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !ok {
		t.Fatal("expected recoverable signature to verify")
	}
}

func TestECDSASecp256k1Strategy_VerifyBareSignature(t *testing.T) {
	priv, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	msg := []byte("frozen-tx-bytes")
	digest := crypto.Keccak256(msg)
	sig, err := crypto.Sign(digest, priv)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	bare := sig[:64]

	strat := NewECDSASecp256k1Strategy()
	pubBytes := crypto.CompressPubkey(&priv.PublicKey)

	ok, err := strat.Verify(pubBytes, msg, bare)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !ok {
		t.Fatal("expected bare signature to verify against compressed key")
	}
}

func TestRegistry_UnknownScheme(t *testing.T) {
	r := NewRegistry(NewEd25519Strategy())
	_, err := r.Verify(SchemeECDSASecp256k1, nil, nil, nil)
	if err == nil {
		t.Fatal("expected error for unregistered scheme")
	}
}
