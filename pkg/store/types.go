// Package store implements SessionStore: the authoritative in-memory
// holder of session and participant state.
//
// Grounded on the teacher's peer-registry idiom
// (pkg/batch/peer_manager.go's HTTPPeerManager: RWMutex-guarded maps,
// copy-out accessors so callers can never mutate internal state by
// reference) generalized from a flat peer table to a two-level
// session/participant table with per-session write serialization.
package store

import (
	"sync"
	"time"

	"github.com/certen/independant-validator/pkg/decoder"
)

// Status is a session's position in its state machine.
type Status string

const (
	StatusWaiting             Status = "waiting"
	StatusTransactionReceived Status = "transaction-received"
	StatusSigning             Status = "signing"
	StatusExecuting           Status = "executing"
	StatusCompleted           Status = "completed"
	StatusExpired             Status = "expired"
	StatusCancelled           Status = "cancelled"
)

// IsTerminal reports whether a status admits no further state changes.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusExpired, StatusCancelled:
		return true
	default:
		return false
	}
}

// ParticipantStatus is a participant's lifecycle position within a session.
type ParticipantStatus string

const (
	ParticipantConnected    ParticipantStatus = "connected"
	ParticipantReady        ParticipantStatus = "ready"
	ParticipantReviewing    ParticipantStatus = "reviewing"
	ParticipantSigning      ParticipantStatus = "signing"
	ParticipantSigned       ParticipantStatus = "signed"
	ParticipantRejected     ParticipantStatus = "rejected"
	ParticipantDisconnected ParticipantStatus = "disconnected"
)

// Participant is one authenticated connection bound to a session.
type Participant struct {
	ParticipantID string
	Status        ParticipantStatus
	PublicKey     string
	Eligible      bool
	Label         string
	ConnectedAt   time.Time
	DisconnectedAt time.Time
}

// Copy returns a value copy safe to hand to callers outside the store.
func (p *Participant) Copy() Participant {
	return *p
}

// ContractABI mirrors decoder.ContractABI; duplicated here (rather than
// imported by value) so SessionStore's data model doesn't couple callers to
// the decoder package merely to construct a Session.
type ContractABI struct {
	JSON         string
	FunctionName string
}

// Session is the authoritative record for one multi-party approval round.
type Session struct {
	SessionID            string
	PIN                  string
	Status               Status
	Threshold            int
	EligibleKeys         map[string]bool
	ExpectedParticipants int

	FrozenTx           []byte
	TxDetails          *decoder.DecodedTx
	Metadata           map[string]any
	MetadataValidation *decoder.MetadataValidation
	ContractABI        *ContractABI

	Participants map[string]*Participant
	Signatures   map[string][]byte

	CreatedAt   time.Time
	ExpiresAt   time.Time
	TxExpiresAt time.Time

	Receipt map[string]any

	mu sync.Mutex
}

// View is an immutable snapshot of a Session, safe to read without holding
// any lock and safe to broadcast.
type View struct {
	SessionID            string
	Status               Status
	Threshold            int
	EligibleKeys         []string
	ExpectedParticipants int
	FrozenTx             []byte
	TxDetails            *decoder.DecodedTx
	Metadata             map[string]any
	MetadataValidation   *decoder.MetadataValidation
	ContractABI          *ContractABI
	Participants         map[string]Participant
	Signatures           map[string][]byte
	CreatedAt            time.Time
	ExpiresAt            time.Time
	TxExpiresAt          time.Time
	Receipt              map[string]any
}

// HasEligibleKey reports whether publicKey is a member of this view's
// eligible-key set.
func (v View) HasEligibleKey(publicKey string) bool {
	for _, k := range v.EligibleKeys {
		if k == publicKey {
			return true
		}
	}
	return false
}

func (s *Session) snapshotLocked() View {
	keys := make([]string, 0, len(s.EligibleKeys))
	for k := range s.EligibleKeys {
		keys = append(keys, k)
	}
	participants := make(map[string]Participant, len(s.Participants))
	for id, p := range s.Participants {
		participants[id] = p.Copy()
	}
	sigs := make(map[string][]byte, len(s.Signatures))
	for k, v := range s.Signatures {
		cp := make([]byte, len(v))
		copy(cp, v)
		sigs[k] = cp
	}
	return View{
		SessionID:            s.SessionID,
		Status:               s.Status,
		Threshold:            s.Threshold,
		EligibleKeys:         keys,
		ExpectedParticipants: s.ExpectedParticipants,
		FrozenTx:             s.FrozenTx,
		TxDetails:            s.TxDetails,
		Metadata:             s.Metadata,
		MetadataValidation:   s.MetadataValidation,
		ContractABI:          s.ContractABI,
		Participants:         participants,
		Signatures:           sigs,
		CreatedAt:            s.CreatedAt,
		ExpiresAt:            s.ExpiresAt,
		TxExpiresAt:          s.TxExpiresAt,
		Receipt:              s.Receipt,
	}
}
