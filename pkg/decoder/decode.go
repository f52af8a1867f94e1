package decoder

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ContractABI is the optional, coordinator-supplied ABI context for a
// contract-execute transaction. FunctionName is the function the
// transaction CLAIMS to call; Decode derives that function's selector from
// JSON itself and compares it against the actual call-data bytes, rather
// than trusting FunctionName's caller to have gotten the selector right.
type ContractABI struct {
	JSON         string
	FunctionName string
}

// predicate is one entry in the structural dispatch table: it reports
// whether fields carries the shape of its transaction family. Predicates
// are tried in order, most specific first, and the first match wins — a
// transfer's "transfers" key and a token-mint's "mintTokenId" key never
// collide, but ordering still matters for families that share optional
// fields (file-update vs file-append, both keyed on "fileId").
type predicate struct {
	typeTag TxType
	match   func(fields map[string]any) bool
}

func has(fields map[string]any, keys ...string) bool {
	for _, k := range keys {
		if _, ok := fields[k]; !ok {
			return false
		}
	}
	return true
}

var predicates = []predicate{
	{TxContractExecute, func(f map[string]any) bool { return has(f, "contractId", "functionParameters") }},
	{TxContractDelete, func(f map[string]any) bool { return has(f, "deleteContractId") }},
	{TxContractCreate, func(f map[string]any) bool { return has(f, "contractInitcode") }},
	{TxTokenCreate, func(f map[string]any) bool { return has(f, "tokenName", "tokenSymbol") }},
	{TxTokenMint, func(f map[string]any) bool { return has(f, "mintTokenId") }},
	{TxTokenBurn, func(f map[string]any) bool { return has(f, "burnTokenId") }},
	{TxTokenAssociate, func(f map[string]any) bool { return has(f, "associateTokenIds") }},
	{TxTokenDissociate, func(f map[string]any) bool { return has(f, "dissociateTokenIds") }},
	{TxTokenUpdate, func(f map[string]any) bool { return has(f, "updateTokenId") }},
	{TxTokenDelete, func(f map[string]any) bool { return has(f, "deleteTokenId") }},
	{TxAccountCreate, func(f map[string]any) bool { return has(f, "newAccountKey") }},
	{TxAccountUpdate, func(f map[string]any) bool { return has(f, "updateAccountId") }},
	{TxAccountDelete, func(f map[string]any) bool { return has(f, "deleteAccountId") }},
	{TxScheduleCreate, func(f map[string]any) bool { return has(f, "scheduledTxBytes") }},
	{TxScheduleSign, func(f map[string]any) bool { return has(f, "signScheduleId") }},
	{TxScheduleDelete, func(f map[string]any) bool { return has(f, "deleteScheduleId") }},
	{TxFileAppend, func(f map[string]any) bool { return has(f, "fileId", "appendContents") }},
	{TxFileUpdate, func(f map[string]any) bool { return has(f, "fileId", "updateContents") }},
	{TxFileDelete, func(f map[string]any) bool { return has(f, "deleteFileId") }},
	{TxFileCreate, func(f map[string]any) bool { return has(f, "fileContents") }},
	{TxTopicMessageSubmit, func(f map[string]any) bool { return has(f, "topicId", "message") }},
	{TxTopicDelete, func(f map[string]any) bool { return has(f, "deleteTopicId") }},
	{TxTopicCreate, func(f map[string]any) bool { return has(f, "topicMemo") }},
	{TxTransfer, func(f map[string]any) bool { return has(f, "transfers") }},
}

// Decode parses frozen transaction bytes into a DecodedTx. contractABI may
// be nil; when non-nil and the transaction structurally resolves to
// contract-execute, Decode performs the selector-mismatch safety check and
// returns *SelectorMismatchError if it fails. A malformed payload returns
// *DecodeError; a payload matching no known family returns *UnknownTypeError
// alongside a still-valid, still-checksummed DecodedTx.
func Decode(raw []byte, contractABI *ContractABI) (*DecodedTx, error) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, &DecodeError{Reason: fmt.Sprintf("not a well-formed transaction envelope: %v", err)}
	}
	if len(fields) == 0 {
		return nil, &DecodeError{Reason: "empty transaction envelope"}
	}

	full := sha256.Sum256(raw)
	fullHex := hex.EncodeToString(full[:])

	tx := &DecodedTx{
		FullChecksum:  fullHex,
		ShortChecksum: fullHex[:16],
		RawBytes:      raw,
		Fields:        fields,
	}

	if vs, ok := fields["validStart"]; ok {
		if n, ok := asInt64(vs); ok {
			tx.ValidStartMillis = n
		}
	}
	if vd, ok := fields["validDuration"]; ok {
		if n, ok := asInt64(vd); ok {
			tx.ValidDurationSeconds = n
		}
	}

	tx.TypeTag = TxUnknown
	for _, p := range predicates {
		if p.match(fields) {
			tx.TypeTag = p.typeTag
			break
		}
	}

	if tx.TypeTag == TxContractExecute {
		if err := decodeContractCall(tx, contractABI); err != nil {
			return nil, err
		}
	}

	if tx.TypeTag == TxUnknown {
		return tx, &UnknownTypeError{}
	}
	return tx, nil
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}

// decodeContractCall verifies the actual 4-byte selector in
// functionParameters against the selector of the function the caller claims
// is invoked, then unpacks the remaining call data for display. This is the
// security-critical check: without it a renamed or spoofed call could be
// signed under a reassuring but false function name.
func decodeContractCall(tx *DecodedTx, contractABI *ContractABI) error {
	raw, _ := tx.Fields["functionParameters"].(string)
	data, err := hexutil.Decode(normalizeHex(raw))
	if err != nil {
		return &DecodeError{Reason: fmt.Sprintf("functionParameters is not valid hex: %v", err)}
	}
	if len(data) < 4 {
		return &DecodeError{Reason: "functionParameters shorter than a selector"}
	}

	var actual [4]byte
	copy(actual[:], data[:4])

	if contractABI == nil {
		// No ABI supplied: decode is still valid, but unverified — the
		// session manager surfaces this as the metadata "unverified"
		// warning rather than blocking signing.
		tx.FunctionName = ""
		return nil
	}

	parsed, err := abi.JSON(strings.NewReader(contractABI.JSON))
	if err != nil {
		return &DecodeError{Reason: fmt.Sprintf("invalid contract ABI: %v", err)}
	}
	method, ok := parsed.Methods[contractABI.FunctionName]
	if !ok {
		return &DecodeError{Reason: fmt.Sprintf("ABI has no function named %q", contractABI.FunctionName)}
	}

	var expected [4]byte
	copy(expected[:], method.ID)

	if expected != actual {
		return &SelectorMismatchError{
			FunctionName:     contractABI.FunctionName,
			ExpectedSelector: expected,
			ActualSelector:   actual,
		}
	}

	params := map[string]any{}
	if len(data) > 4 {
		values, err := method.Inputs.Unpack(data[4:])
		if err != nil {
			return &DecodeError{Reason: fmt.Sprintf("ABI-matched selector but arguments failed to unpack: %v", err)}
		}
		for i, arg := range method.Inputs {
			if i < len(values) {
				params[arg.Name] = values[i]
			}
		}
	}

	tx.FunctionName = contractABI.FunctionName
	tx.ContractCall = &ContractCall{
		Name:             contractABI.FunctionName,
		Params:           params,
		ActualSelector:   actual,
		ExpectedSelector: expected,
		SelectorVerified: true,
	}
	return nil
}

func normalizeHex(s string) string {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return "0x" + s
	}
	return s
}
