// Package signaling implements the WebSocket transport that carries the
// JSON frame protocol between participant clients and a session.Manager.
package signaling

import (
	"encoding/base64"
	"encoding/json"

	"github.com/certen/independant-validator/pkg/decoder"
	"github.com/certen/independant-validator/pkg/store"
)

func base64Encode(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

// Frame is the envelope every client<->server message uses.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Client -> server payload types. Field names mirror the wire protocol in
// spec.md §6 exactly (camelCase, no participantId — the connection's
// participant identity is bound at AUTH time, never re-sent by the client).

type authPayload struct {
	SessionID string `json:"sessionId"`
	PIN       string `json:"pin"`
	Role      string `json:"role"`
	Label     string `json:"label,omitempty"`
}

type participantReadyPayload struct {
	PublicKey string `json:"publicKey"`
}

type signatureSubmitPayload struct {
	PublicKey string `json:"publicKey"`
	Signature string `json:"signature"`
}

type transactionRejectedPayload struct {
	Reason string `json:"reason"`
}

// Server -> client payload types.

// Stats is the small population summary carried on several broadcasts so
// clients can render progress without re-deriving it from the full
// participant list.
type Stats struct {
	ParticipantsConnected int `json:"participantsConnected"`
	ParticipantsReady     int `json:"participantsReady"`
	SignaturesCollected   int `json:"signaturesCollected"`
	SignaturesRequired    int `json:"signaturesRequired"`
}

// TxDetailsDTO is the wire-shaped projection of decoder.DecodedTx sent to
// clients as txDetails. RawBytes is deliberately omitted — clients already
// receive the frozen transaction itself under frozenTransaction.base64 and
// independently recompute the checksum if they want proof the two match.
type TxDetailsDTO struct {
	TypeTag       string           `json:"typeTag"`
	FullChecksum  string           `json:"fullChecksum"`
	ShortChecksum string           `json:"shortChecksum"`
	Fields        map[string]any   `json:"fields"`
	FunctionName  string           `json:"functionName,omitempty"`
	ContractCall  *ContractCallDTO `json:"contractCall,omitempty"`
}

type ContractCallDTO struct {
	Name             string         `json:"name"`
	Params           map[string]any `json:"params"`
	SelectorVerified bool           `json:"selectorVerified"`
}

func txDetailsDTO(tx *decoder.DecodedTx) *TxDetailsDTO {
	if tx == nil {
		return nil
	}
	dto := &TxDetailsDTO{
		TypeTag:       string(tx.TypeTag),
		FullChecksum:  tx.FullChecksum,
		ShortChecksum: tx.ShortChecksum,
		Fields:        tx.Fields,
		FunctionName:  tx.FunctionName,
	}
	if tx.ContractCall != nil {
		dto.ContractCall = &ContractCallDTO{
			Name:             tx.ContractCall.Name,
			Params:           tx.ContractCall.Params,
			SelectorVerified: tx.ContractCall.SelectorVerified,
		}
	}
	return dto
}

// SessionInfo is the client-facing projection of a store.View, sent inside
// AUTH_SUCCESS and reused anywhere a full session snapshot is useful.
type SessionInfo struct {
	SessionID            string         `json:"sessionId"`
	Status               string         `json:"status"`
	Threshold            int            `json:"threshold"`
	EligiblePublicKeys   []string       `json:"eligiblePublicKeys"`
	ExpectedParticipants int            `json:"expectedParticipants"`
	ExpiresAt            int64          `json:"expiresAt"`
	Stats                Stats          `json:"stats"`
	TxDetails            *TxDetailsDTO  `json:"txDetails,omitempty"`
	FrozenTransaction    *frozenTxDTO   `json:"frozenTransaction,omitempty"`
	Metadata             map[string]any `json:"metadata,omitempty"`
	ContractInterface    string         `json:"contractInterface,omitempty"`
}

type frozenTxDTO struct {
	Base64 string `json:"base64"`
}

func sessionStats(v store.View) Stats {
	stats := Stats{SignaturesRequired: v.Threshold, SignaturesCollected: len(v.Signatures)}
	for _, p := range v.Participants {
		switch p.Status {
		case store.ParticipantDisconnected:
			// not counted as connected
		default:
			stats.ParticipantsConnected++
		}
		if p.Status == store.ParticipantReady || p.Status == store.ParticipantSigned {
			stats.ParticipantsReady++
		}
	}
	return stats
}

func toSessionInfo(v store.View) SessionInfo {
	info := SessionInfo{
		SessionID:            v.SessionID,
		Status:               string(v.Status),
		Threshold:            v.Threshold,
		EligiblePublicKeys:   v.EligibleKeys,
		ExpectedParticipants: v.ExpectedParticipants,
		ExpiresAt:            v.ExpiresAt.UnixMilli(),
		Stats:                sessionStats(v),
		TxDetails:            txDetailsDTO(v.TxDetails),
		Metadata:             v.Metadata,
	}
	if v.FrozenTx != nil {
		info.FrozenTransaction = &frozenTxDTO{Base64: base64Encode(v.FrozenTx)}
	}
	if v.ContractABI != nil {
		info.ContractInterface = v.ContractABI.JSON
	}
	return info
}

type authSuccessPayload struct {
	ParticipantID string      `json:"participantId"`
	SessionInfo   SessionInfo `json:"sessionInfo"`
}

type authFailedPayload struct {
	Message string `json:"message"`
}

type transactionReceivedPayload struct {
	FrozenTransaction frozenTxDTO       `json:"frozenTransaction"`
	TxDetails         *TxDetailsDTO     `json:"txDetails"`
	Metadata          map[string]any    `json:"metadata,omitempty"`
	ContractInterface string            `json:"contractInterface,omitempty"`
	Warnings          []string          `json:"warnings,omitempty"`
	Mismatches        map[string]string `json:"mismatches,omitempty"`
}

type signatureAcceptedPayload struct {
	Success             bool   `json:"success"`
	PublicKey           string `json:"publicKey"`
	SignaturesCollected int    `json:"signaturesCollected"`
	SignaturesRequired  int    `json:"signaturesRequired"`
	ThresholdMet        bool   `json:"thresholdMet"`
}

type signatureRejectedPayload struct {
	Message   string `json:"message"`
	PublicKey string `json:"publicKey,omitempty"`
	Code      string `json:"code,omitempty"`
}

type thresholdMetPayload struct {
	SignaturesCollected int `json:"signaturesCollected"`
	SignaturesRequired  int `json:"signaturesRequired"`
}

type transactionExecutedPayload struct {
	TransactionID string         `json:"transactionId"`
	Status        string         `json:"status"`
	Receipt       map[string]any `json:"receipt,omitempty"`
}

type participantConnectedPayload struct {
	ParticipantID string `json:"participantId"`
	Stats         Stats  `json:"stats"`
}

type participantReadyBroadcastPayload struct {
	ParticipantID string `json:"participantId"`
	PublicKey     string `json:"publicKey,omitempty"`
	Stats         Stats  `json:"stats"`
	AllReady      bool   `json:"allReady"`
}

type participantDisconnectedPayload struct {
	ParticipantID string `json:"participantId"`
}

type errorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Frame type constants, mirroring the wire protocol exactly. Note
// PARTICIPANT_READY is reused in both directions (client "I'm ready, here's
// my key" and server "here's who just became ready"), distinguished by
// payload shape, not by a separate type string, matching spec.md §6.
const (
	TypeAuth                = "AUTH"
	TypeParticipantReady    = "PARTICIPANT_READY"
	TypeSignatureSubmit     = "SIGNATURE_SUBMIT"
	TypeTransactionRejected = "TRANSACTION_REJECTED"
	TypePing                = "PING"

	TypeAuthSuccess           = "AUTH_SUCCESS"
	TypeAuthFailed            = "AUTH_FAILED"
	TypeTransactionReceived   = "TRANSACTION_RECEIVED"
	TypeSignatureAccepted     = "SIGNATURE_ACCEPTED"
	TypeSignatureRejected     = "SIGNATURE_REJECTED"
	TypeThresholdMet          = "THRESHOLD_MET"
	TypeTransactionExecuted   = "TRANSACTION_EXECUTED"
	TypeParticipantConnected  = "PARTICIPANT_CONNECTED"
	TypeParticipantDisconnect = "PARTICIPANT_DISCONNECTED"
	TypeSessionExpired        = "SESSION_EXPIRED"
	TypeError                 = "ERROR"
	TypePong                  = "PONG"
)

func mustFrame(frameType string, payload any) Frame {
	raw, _ := json.Marshal(payload)
	return Frame{Type: frameType, Payload: raw}
}
