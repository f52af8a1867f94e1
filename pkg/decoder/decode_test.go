package decoder

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

func TestDecode_Transfer(t *testing.T) {
	raw, _ := json.Marshal(map[string]any{
		"transfers": []map[string]any{
			{"accountId": "0.0.1001", "amount": -100},
			{"accountId": "0.0.1002", "amount": 100},
		},
		"validStart":    1700000000000,
		"validDuration": 180,
	})

	tx, err := Decode(raw, nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if tx.TypeTag != TxTransfer {
		t.Fatalf("expected transfer, got %s", tx.TypeTag)
	}
	if len(tx.FullChecksum) != 64 || len(tx.ShortChecksum) != 16 {
		t.Fatalf("unexpected checksum lengths: full=%d short=%d", len(tx.FullChecksum), len(tx.ShortChecksum))
	}
	amounts := tx.ExtractAmounts()
	if len(amounts) != 2 {
		t.Fatalf("expected 2 amounts, got %d", len(amounts))
	}
}

func TestDecode_UnknownType(t *testing.T) {
	raw, _ := json.Marshal(map[string]any{"someField": "x"})
	tx, err := Decode(raw, nil)
	var unk *UnknownTypeError
	if !errors.As(err, &unk) {
		t.Fatalf("expected UnknownTypeError, got %v", err)
	}
	if tx.TypeTag != TxUnknown {
		t.Fatalf("expected unknown type tag, got %s", tx.TypeTag)
	}
}

func TestDecode_MalformedBytes(t *testing.T) {
	_, err := Decode([]byte("not json"), nil)
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
}

const testABIJSON = `[{"type":"function","name":"transfer","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}]}]`

func buildCallData(t *testing.T, fnName string, to common.Address, amount int64) string {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(testABIJSON))
	if err != nil {
		t.Fatalf("parse abi: %v", err)
	}
	method := parsed.Methods[fnName]
	packed, err := method.Inputs.Pack(to, big.NewInt(amount))
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	data := append(append([]byte{}, method.ID...), packed...)
	return "0x" + hex.EncodeToString(data)
}

func TestDecode_ContractExecute_SelectorMatch(t *testing.T) {
	to := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	callData := buildCallData(t, "transfer", to, 42)
	raw, _ := json.Marshal(map[string]any{
		"contractId":         "0.0.2001",
		"functionParameters": callData,
	})

	tx, err := Decode(raw, &ContractABI{JSON: testABIJSON, FunctionName: "transfer"})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if tx.TypeTag != TxContractExecute {
		t.Fatalf("expected contract-execute, got %s", tx.TypeTag)
	}
	if tx.ContractCall == nil || !tx.ContractCall.SelectorVerified {
		t.Fatal("expected verified contract call")
	}
	if tx.FunctionName != "transfer" {
		t.Fatalf("expected function name transfer, got %s", tx.FunctionName)
	}
}

func TestDecode_ContractExecute_SelectorMismatch(t *testing.T) {
	callData := "0xdeadbeef" + strings.Repeat("00", 32)
	raw, _ := json.Marshal(map[string]any{
		"contractId":         "0.0.2001",
		"functionParameters": callData,
	})

	_, err := Decode(raw, &ContractABI{JSON: testABIJSON, FunctionName: "transfer"})
	var mismatch *SelectorMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected SelectorMismatchError, got %v", err)
	}
}

func TestValidateMetadata_AmountMismatch(t *testing.T) {
	raw, _ := json.Marshal(map[string]any{
		"transfers": []map[string]any{{"accountId": "0.0.1001", "amount": 100}},
	})
	tx, _ := Decode(raw, nil)

	result := ValidateMetadata(tx, ClaimedMetadata{HasAmount: true, Amount: 999})
	if result.Valid {
		t.Fatal("expected amount mismatch to invalidate metadata")
	}
	if _, ok := result.Mismatches["amount"]; !ok {
		t.Fatal("expected amount mismatch entry")
	}
}

func TestValidateMetadata_UrgencyWarning(t *testing.T) {
	raw, _ := json.Marshal(map[string]any{
		"transfers": []map[string]any{{"accountId": "0.0.1001", "amount": 100}},
	})
	tx, _ := Decode(raw, nil)

	result := ValidateMetadata(tx, ClaimedMetadata{Description: "URGENT: act now or this expires today"})
	if len(result.Warnings) == 0 {
		t.Fatal("expected urgency warning")
	}
}

func TestValidateMetadata_UnverifiedContractCall(t *testing.T) {
	to := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	callData := buildCallData(t, "transfer", to, 42)
	raw, _ := json.Marshal(map[string]any{
		"contractId":         "0.0.2001",
		"functionParameters": callData,
	})
	tx, err := Decode(raw, nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	result := ValidateMetadata(tx, ClaimedMetadata{FunctionName: "transfer"})
	if len(result.Warnings) == 0 {
		t.Fatal("expected unverified-metadata warning when no ABI was supplied")
	}
}
