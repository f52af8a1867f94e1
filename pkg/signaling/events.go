package signaling

import (
	"github.com/certen/independant-validator/pkg/audit"
	"github.com/certen/independant-validator/pkg/network"
	"github.com/certen/independant-validator/pkg/session"
	"github.com/certen/independant-validator/pkg/store"
)

// Server implements session.OnSessionEvent: every domain event the
// SessionManager emits is turned into the corresponding wire broadcast
// here, the one place the protocol's server->client shape is assembled.
var _ session.OnSessionEvent = (*Server)(nil)

func (s *Server) TransactionReceived(view store.View) {
	payload := transactionReceivedPayload{
		TxDetails:         txDetailsDTO(view.TxDetails),
		Metadata:          view.Metadata,
	}
	if view.FrozenTx != nil {
		payload.FrozenTransaction = frozenTxDTO{Base64: base64Encode(view.FrozenTx)}
	}
	if view.ContractABI != nil {
		payload.ContractInterface = view.ContractABI.JSON
	}
	if view.MetadataValidation != nil {
		payload.Warnings = view.MetadataValidation.Warnings
		payload.Mismatches = view.MetadataValidation.Mismatches
	}
	s.broadcast(view.SessionID, mustFrame(TypeTransactionReceived, payload))
}

func (s *Server) SignatureAccepted(view store.View, publicKey string, thresholdMet bool) {
	s.broadcast(view.SessionID, mustFrame(TypeSignatureAccepted, signatureAcceptedPayload{
		Success:             true,
		PublicKey:           publicKey,
		SignaturesCollected: len(view.Signatures),
		SignaturesRequired:  view.Threshold,
		ThresholdMet:        thresholdMet,
	}))
}

func (s *Server) SignatureRejected(sessionID, participantID, publicKey, message string) {
	s.mu.RLock()
	set := s.conns[sessionID]
	var target *conn
	for c := range set {
		if c.participantID == participantID {
			target = c
			break
		}
	}
	s.mu.RUnlock()
	if target != nil {
		target.send(mustFrame(TypeSignatureRejected, signatureRejectedPayload{
			Message:   message,
			PublicKey: publicKey,
		}))
	}
}

func (s *Server) ThresholdMet(view store.View) {
	s.broadcast(view.SessionID, mustFrame(TypeThresholdMet, thresholdMetPayload{
		SignaturesCollected: len(view.Signatures),
		SignaturesRequired:  view.Threshold,
	}))
}

func (s *Server) TransactionExecuted(view store.View, result *network.SubmitResult) {
	payload := transactionExecutedPayload{Status: "SUCCESS"}
	if result != nil {
		payload.TransactionID = result.TransactionID
		payload.Status = result.Status
		payload.Receipt = result.Receipt
	}
	s.broadcast(view.SessionID, mustFrame(TypeTransactionExecuted, payload))
	transactionID := ""
	if result != nil {
		transactionID = result.TransactionID
	}
	s.recordOutcome(view, audit.OutcomeCompleted, transactionID, "")
	s.closeSession(view.SessionID, 1000, "session completed")
}

func (s *Server) ExecutionFailed(view store.View, message string) {
	s.broadcast(view.SessionID, mustFrame(TypeError, errorPayload{
		Message: message,
		Code:    string(session.CodeNetworkError),
	}))
	s.recordOutcome(view, audit.OutcomeCancelled, "", message)
	s.closeSession(view.SessionID, 4010, "session cancelled")
}

func (s *Server) ParticipantConnected(view store.View, participantID string) {
	s.broadcast(view.SessionID, mustFrame(TypeParticipantConnected, participantConnectedPayload{
		ParticipantID: participantID,
		Stats:         sessionStats(view),
	}))
}

func (s *Server) ParticipantReady(view store.View, participantID, publicKey string, eligible, allReady bool) {
	s.broadcast(view.SessionID, mustFrame(TypeParticipantReady, participantReadyBroadcastPayload{
		ParticipantID: participantID,
		PublicKey:     publicKey,
		Stats:         sessionStats(view),
		AllReady:      allReady,
	}))
	if !eligible {
		s.mu.RLock()
		set := s.conns[view.SessionID]
		var target *conn
		for c := range set {
			if c.participantID == participantID {
				target = c
				break
			}
		}
		s.mu.RUnlock()
		if target != nil {
			target.send(mustFrame(TypeError, errorPayload{
				Message: "this public key is not in the session's eligible list",
				Code:    string(session.CodeNotEligible),
			}))
		}
	}
}

func (s *Server) ParticipantDisconnected(view store.View, participantID string) {
	s.broadcast(view.SessionID, mustFrame(TypeParticipantDisconnect, participantDisconnectedPayload{
		ParticipantID: participantID,
	}))
}

func (s *Server) SessionExpired(view store.View) {
	s.broadcast(view.SessionID, mustFrame(TypeSessionExpired, struct{}{}))
	s.recordOutcome(view, audit.OutcomeExpired, "", "session expired before threshold was met")
	s.closeSession(view.SessionID, 4000, "session expired")
}

func (s *Server) SessionCancelled(view store.View, reason string) {
	s.broadcast(view.SessionID, mustFrame(TypeError, errorPayload{
		Message: reason,
		Code:    "SESSION_CANCELLED",
	}))
	s.recordOutcome(view, audit.OutcomeCancelled, "", reason)
	s.closeSession(view.SessionID, 4010, "session cancelled")
}
