package connstring

import "testing"

func TestEncodeDecode_RoundTrip(t *testing.T) {
	cs := ConnectionString{ServerURL: "wss://coordinator.example/ws", SessionID: "abc123", PIN: "1234", HasPIN: true}
	encoded := Encode(cs)
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded != cs {
		t.Fatalf("round trip mismatch: got %+v, want %+v", decoded, cs)
	}
}

func TestDecode_TolerantOfMissingPIN(t *testing.T) {
	cs := ConnectionString{ServerURL: "wss://coordinator.example/ws", SessionID: "abc123"}
	encoded := Encode(cs)
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.HasPIN {
		t.Fatal("expected no PIN")
	}
}

func TestDecode_RejectsMissingPrefix(t *testing.T) {
	if _, err := Decode("not-a-connection-string"); err == nil {
		t.Fatal("expected error for missing prefix")
	}
}
