package decoder

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

// urgencyWordPattern flags coordinator-supplied display metadata that tries
// to pressure a signer into acting without review — a social-engineering
// signal worth surfacing even though it doesn't affect the underlying
// transaction.
var urgencyWordPattern = regexp.MustCompile(`(?i)\b(urgent|immediately|asap|hurry|quickly|now|emergency)\b`)

// amountTolerance is the relative tolerance allowed between a decoded
// amount and the matching metadata-claimed amount before it's reported as a
// mismatch, absorbing floating point/unit-conversion noise.
const amountTolerance = 1e-4

// typeAliases maps metadata-supplied free-form type labels (as a UI might
// display them) onto the canonical TxType they correspond to, so that
// "token transfer" and "transfer" aren't flagged as a mismatch against each
// other.
var typeAliases = map[string]TxType{
	"transfer":              TxTransfer,
	"crypto transfer":       TxTransfer,
	"token transfer":        TxTransfer,
	"associate":             TxTokenAssociate,
	"token associate":       TxTokenAssociate,
	"dissociate":            TxTokenDissociate,
	"token dissociate":      TxTokenDissociate,
	"mint":                  TxTokenMint,
	"token mint":            TxTokenMint,
	"burn":                  TxTokenBurn,
	"token burn":            TxTokenBurn,
	"contract call":         TxContractExecute,
	"contract execute":      TxContractExecute,
	"smart contract call":   TxContractExecute,
	"contract deploy":       TxContractCreate,
	"contract create":       TxContractCreate,
	"topic message":         TxTopicMessageSubmit,
	"submit message":        TxTopicMessageSubmit,
}

// ExtractAmounts projects every value-bearing field of the decoded
// transaction into a flat Amount list, for display and for metadata
// cross-checks.
func (tx *DecodedTx) ExtractAmounts() []Amount {
	var out []Amount
	if raw, ok := tx.Fields["transfers"].([]any); ok {
		for _, item := range raw {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			acct, _ := m["accountId"].(string)
			val, _ := asFloat(m["amount"])
			out = append(out, Amount{AccountID: acct, Value: val})
		}
	}
	for _, key := range []string{"amount", "mintAmount", "burnAmount"} {
		if v, ok := tx.Fields[key]; ok {
			if val, ok := asFloat(v); ok {
				acct, _ := tx.Fields["accountId"].(string)
				out = append(out, Amount{AccountID: acct, Value: val})
			}
		}
	}
	return out
}

// ExtractAccounts collects every Hedera-style account-ID field referenced
// by the transaction, deduplicated.
func (tx *DecodedTx) ExtractAccounts() []string {
	seen := map[string]bool{}
	var out []string
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, key := range []string{
		"accountId", "updateAccountId", "deleteAccountId",
		"contractId", "deleteContractId",
	} {
		if v, ok := tx.Fields[key].(string); ok {
			add(v)
		}
	}
	if raw, ok := tx.Fields["transfers"].([]any); ok {
		for _, item := range raw {
			if m, ok := item.(map[string]any); ok {
				if v, ok := m["accountId"].(string); ok {
					add(v)
				}
			}
		}
	}
	return out
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// ClaimedMetadata is the untrusted display metadata a coordinator attaches
// to a session's frozen transaction — the text participants see before they
// sign. None of it is trusted for the signing decision itself; ValidateMetadata
// exists to catch it disagreeing with what was actually decoded.
type ClaimedMetadata struct {
	Type         string
	Amount       float64
	HasAmount    bool
	FunctionName string
	Description  string
}

// ValidateMetadata cross-checks claimed against the verified DecodedTx,
// returning warnings (non-blocking) and mismatches (the caller decides
// whether these block signing — the decoder itself never blocks on
// metadata, only on SELECTOR_MISMATCH at decode time).
func ValidateMetadata(tx *DecodedTx, claimed ClaimedMetadata) MetadataValidation {
	result := MetadataValidation{Valid: true, Mismatches: map[string]string{}}

	if claimed.Type != "" {
		normalized := strings.ToLower(strings.TrimSpace(claimed.Type))
		alias, known := typeAliases[normalized]
		if known && alias != tx.TypeTag {
			result.Valid = false
			result.Mismatches["type"] = fmt.Sprintf("metadata claims %q, decoded transaction is %q", claimed.Type, tx.TypeTag)
		}
	}

	if claimed.HasAmount {
		amounts := tx.ExtractAmounts()
		matched := false
		for _, a := range amounts {
			if relativelyEqual(a.Value, claimed.Amount, amountTolerance) {
				matched = true
				break
			}
		}
		if !matched && len(amounts) > 0 {
			result.Valid = false
			result.Mismatches["amount"] = fmt.Sprintf("metadata claims amount %v, no decoded transfer is within tolerance", claimed.Amount)
		}
	}

	if claimed.FunctionName != "" && tx.TypeTag == TxContractExecute {
		if tx.FunctionName == "" {
			result.Warnings = append(result.Warnings, "contract call metadata is unverified: no ABI was supplied to confirm the function name")
		} else if tx.FunctionName != claimed.FunctionName {
			result.Valid = false
			result.Mismatches["functionName"] = fmt.Sprintf("metadata claims function %q, ABI-verified function is %q", claimed.FunctionName, tx.FunctionName)
		}
	}

	if urgencyWordPattern.MatchString(claimed.Description) || urgencyWordPattern.MatchString(claimed.Type) {
		result.Warnings = append(result.Warnings, "description uses urgency language commonly associated with social-engineering pressure")
	}

	if claimed.Type != "" || claimed.HasAmount || claimed.FunctionName != "" || claimed.Description != "" {
		result.Warnings = append(result.Warnings, "metadata is unverified")
	}

	return result
}

func relativelyEqual(a, b, tolerance float64) bool {
	if a == b {
		return true
	}
	denom := math.Max(math.Abs(a), math.Abs(b))
	if denom == 0 {
		return true
	}
	return math.Abs(a-b)/denom <= tolerance
}
