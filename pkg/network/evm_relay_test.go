package network

import (
	"encoding/json"
	"testing"
)

func TestParseContractCall(t *testing.T) {
	raw, _ := json.Marshal(map[string]any{
		"contractId":         "0.0.2001",
		"functionParameters": "deadbeef",
	})
	call, ok := parseContractCall(raw)
	if !ok {
		t.Fatal("expected contract call to parse")
	}
	if len(call.data) != 4 {
		t.Fatalf("expected 4 bytes of call data, got %d", len(call.data))
	}
}

func TestParseContractCall_NotAContractCall(t *testing.T) {
	raw, _ := json.Marshal(map[string]any{"transfers": []map[string]any{}})
	_, ok := parseContractCall(raw)
	if ok {
		t.Fatal("expected non-contract envelope to not parse as a contract call")
	}
}

func TestReceiptID_Deterministic(t *testing.T) {
	sigs := map[string][]byte{"K1": []byte("sig1"), "K2": []byte("sig2")}
	a := receiptID([]byte("frozen"), sigs)
	b := receiptID([]byte("frozen"), sigs)
	if a != b {
		t.Fatalf("expected deterministic receipt id, got %s vs %s", a, b)
	}
	if len(a) != 24 {
		t.Fatalf("expected 24-char receipt id, got %d", len(a))
	}
}
