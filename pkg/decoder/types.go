// Package decoder implements TransactionDecoder: parsing of frozen
// transaction bytes into a trustworthy structural view, independent of any
// untrusted metadata supplied alongside them.
//
// Grounded on the teacher's selector-verification pattern
// (pkg/execution/commitment_builder.go's computeFunctionSelector /
// verifyStep, pkg/execution/cross_contract_verification.go's ABI usage) and
// its checksum/constant-time-compare idiom (pkg/merkle/tree.go).
package decoder

import "fmt"

// TxType is a stable, closed enumeration of transaction families. Values
// are assigned by structural predicate, never by reading a self-declared
// "type" field out of the frozen bytes — the frozen envelope does not
// carry one, precisely so a minified or renamed encoder upstream cannot
// mislabel a transaction.
type TxType string

const (
	TxTransfer            TxType = "transfer"
	TxTokenAssociate      TxType = "token-associate"
	TxTokenDissociate     TxType = "token-dissociate"
	TxTokenCreate         TxType = "token-create"
	TxTokenMint           TxType = "token-mint"
	TxTokenBurn           TxType = "token-burn"
	TxTokenUpdate         TxType = "token-update"
	TxTokenDelete         TxType = "token-delete"
	TxAccountCreate       TxType = "account-create"
	TxAccountUpdate       TxType = "account-update"
	TxAccountDelete       TxType = "account-delete"
	TxContractCreate      TxType = "contract-create"
	TxContractExecute     TxType = "contract-execute"
	TxContractDelete      TxType = "contract-delete"
	TxTopicCreate         TxType = "topic-create"
	TxTopicMessageSubmit  TxType = "topic-message-submit"
	TxTopicDelete         TxType = "topic-delete"
	TxFileCreate          TxType = "file-create"
	TxFileAppend          TxType = "file-append"
	TxFileUpdate          TxType = "file-update"
	TxFileDelete          TxType = "file-delete"
	TxScheduleCreate      TxType = "schedule-create"
	TxScheduleSign        TxType = "schedule-sign"
	TxScheduleDelete      TxType = "schedule-delete"
	TxUnknown             TxType = "unknown"
)

// Amount is a single value transfer extracted from a decoded transaction,
// used for display and for cross-checking untrusted metadata.
type Amount struct {
	AccountID string
	Value     float64
}

// ContractCall holds the verified-safe view of a contract-execute
// transaction's call data.
type ContractCall struct {
	Name             string
	Params           map[string]any
	ActualSelector   [4]byte
	ExpectedSelector [4]byte
	SelectorVerified bool
}

// DecodedTx is the trustworthy, structurally-derived view of a frozen
// transaction.
type DecodedTx struct {
	TypeTag       TxType
	FullChecksum  string
	ShortChecksum string
	RawBytes      []byte

	// Fields is the raw structural field map the predicates matched
	// against; individual accessor methods below project out the pieces
	// callers actually need.
	Fields map[string]any

	// ValidStartMillis / ValidDurationSeconds are populated when present,
	// used to derive tx_expires_at.
	ValidStartMillis     int64
	ValidDurationSeconds int64

	// ContractCall is populated only for TxContractExecute, and only once
	// ABI/selector verification has succeeded.
	ContractCall *ContractCall

	// FunctionName mirrors ContractCall.Name for metadata cross-checks
	// when ContractCall is absent (no ABI supplied).
	FunctionName string
}

// DecodeError reports a malformed-bytes failure (the DECODE_FAIL wire code).
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoder: decode failed: %s", e.Reason)
}

// SelectorMismatchError reports an ABI/selector disagreement on a
// contract-execute transaction. This is non-recoverable: the transaction is
// unsafe to sign.
type SelectorMismatchError struct {
	FunctionName     string
	ExpectedSelector [4]byte
	ActualSelector   [4]byte
}

func (e *SelectorMismatchError) Error() string {
	return fmt.Sprintf(
		"decoder: selector mismatch for function %q: expected %x, actual %x — this transaction does not call the function it claims to",
		e.FunctionName, e.ExpectedSelector, e.ActualSelector,
	)
}

// UnknownTypeError reports that no structural predicate matched; callers
// treat the transaction as opaque (still checksummed, never signable with
// confidence).
type UnknownTypeError struct{}

func (e *UnknownTypeError) Error() string {
	return "decoder: no known transaction family matched these bytes"
}

// MetadataValidation is the result of cross-checking coordinator-supplied,
// untrusted metadata against a DecodedTx's verified fields.
type MetadataValidation struct {
	Valid      bool
	Warnings   []string
	Mismatches map[string]string
}
