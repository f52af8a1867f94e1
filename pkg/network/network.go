// Package network implements the Network adapter: the blockchain
// submission boundary SessionManager calls once a session's threshold of
// signatures has been collected.
//
// Adapted from the teacher's pkg/ethereum/client.go, trimmed to the calls
// SessionManager actually needs (submission, health) and wrapped behind the
// Network interface the session layer depends on, so a non-EVM relay (the
// out-of-scope Hedera SDK submission path) can be substituted without
// touching pkg/session.
package network

import "context"

// SubmitResult is what the coordinator reports back to participants as
// TRANSACTION_EXECUTED's receipt.
type SubmitResult struct {
	TransactionID string
	Status        string
	Receipt       map[string]any
}

// Network submits an already-collected-enough-signatures transaction to the
// target chain. SessionManager never inspects the transaction bytes beyond
// what TransactionDecoder already verified; submission is the out-of-scope
// blockchain SDK's job, represented here as a narrow capability interface.
type Network interface {
	// Submit relays frozenTx together with the collected signatures
	// (keyed by public key) to the network. A non-nil error is always
	// NETWORK_ERROR-class and may be retried by the caller.
	Submit(ctx context.Context, frozenTx []byte, signatures map[string][]byte) (*SubmitResult, error)

	// Health reports whether the underlying connection is usable.
	Health(ctx context.Context) error
}
