package session

import (
	"github.com/certen/independant-validator/pkg/network"
	"github.com/certen/independant-validator/pkg/store"
)

// OnSessionEvent is the fixed enumerated set of domain events a
// SessionManager emits. SignalingServer implements it to turn each event
// into the corresponding wire broadcast; tests implement it to assert on
// transitions without a transport in the loop.
//
// A capability interface rather than a string-keyed handler map, per the
// design note collapsing "dynamic event emitters" to a fixed typed set —
// grounded on the teacher's own preference for small single-purpose
// interfaces over generic dispatch (e.g. pkg/batch's PeerManager
// interface).
type OnSessionEvent interface {
	TransactionReceived(view store.View)
	SignatureAccepted(view store.View, publicKey string, thresholdMet bool)
	SignatureRejected(sessionID, participantID, publicKey, message string)
	ThresholdMet(view store.View)
	TransactionExecuted(view store.View, result *network.SubmitResult)
	ExecutionFailed(view store.View, message string)
	ParticipantConnected(view store.View, participantID string)
	ParticipantReady(view store.View, participantID, publicKey string, eligible, allReady bool)
	ParticipantDisconnected(view store.View, participantID string)
	SessionExpired(view store.View)
	SessionCancelled(view store.View, reason string)
}

// NoopEvents is a zero-value OnSessionEvent implementation, convenient to
// embed in tests that only care about a subset of events.
type NoopEvents struct{}

func (NoopEvents) TransactionReceived(store.View)                              {}
func (NoopEvents) SignatureAccepted(store.View, string, bool)                  {}
func (NoopEvents) SignatureRejected(string, string, string, string)            {}
func (NoopEvents) ThresholdMet(store.View)                                     {}
func (NoopEvents) TransactionExecuted(store.View, *network.SubmitResult)       {}
func (NoopEvents) ExecutionFailed(store.View, string)                          {}
func (NoopEvents) ParticipantConnected(store.View, string)                     {}
func (NoopEvents) ParticipantReady(store.View, string, string, bool, bool)     {}
func (NoopEvents) ParticipantDisconnected(store.View, string)                  {}
func (NoopEvents) SessionExpired(store.View)                                   {}
func (NoopEvents) SessionCancelled(store.View, string)                         {}
