// Package session implements SessionManager: the sole mediator of every
// effect that can change a session's state. It orchestrates TransactionDecoder,
// SessionStore, TimerController, and the Signer/Network capabilities injected
// at construction, and emits OnSessionEvent notifications for the
// SignalingServer to broadcast.
//
// Grounded on the teacher's consensus coordination idiom
// (pkg/batch/consensus_coordinator.go: a single struct owning a store, a
// peer/broadcast capability, and a logger, with each public method doing
// exactly one state-machine intent and returning a typed result) — the
// same shape, applied to session approval instead of attestation batches.
package session

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/certen/independant-validator/pkg/decoder"
	"github.com/certen/independant-validator/pkg/metrics"
	"github.com/certen/independant-validator/pkg/network"
	"github.com/certen/independant-validator/pkg/signerstrategy"
	"github.com/certen/independant-validator/pkg/store"
	"github.com/certen/independant-validator/pkg/timer"
)

const (
	// DefaultTimeout is used when CreateSessionRequest.TimeoutMillis is 0.
	DefaultTimeout = 15 * time.Minute

	executionRetries    = 3
	executionBackoffMin = 1 * time.Second
)

// Manager is the SessionManager.
type Manager struct {
	store   *store.Store
	timers  *timer.Controller
	signers *signerstrategy.Registry
	net     network.Network
	events  OnSessionEvent
	metrics *metrics.Metrics
	logger  *log.Logger
}

// Config configures a Manager.
type Config struct {
	Store   *store.Store
	Timers  *timer.Controller
	Signers *signerstrategy.Registry
	Network network.Network
	Events  OnSessionEvent
	// Metrics receives session-lifecycle and timer-population counters.
	// Nil disables instrumentation.
	Metrics *metrics.Metrics
	Logger  *log.Logger
}

// New builds a Manager. Signers defaults to signerstrategy.DefaultRegistry()
// and Events to NoopEvents{} when nil, matching the teacher's nil-defaulting
// constructor idiom.
func New(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[SessionManager] ", log.LstdFlags)
	}
	signers := cfg.Signers
	if signers == nil {
		signers = signerstrategy.DefaultRegistry()
	}
	events := cfg.Events
	if events == nil {
		events = NoopEvents{}
	}
	return &Manager{
		store:   cfg.Store,
		timers:  cfg.Timers,
		signers: signers,
		net:     cfg.Network,
		events:  events,
		metrics: cfg.Metrics,
		logger:  logger,
	}
}

// reportTimerPopulation refreshes the TimersActive gauge from the shared
// TimerController's current count. Called after every schedule/cancel so
// the gauge tracks the controller (which pkg/signaling also schedules
// against) rather than duplicating a separate counter.
func (m *Manager) reportTimerPopulation() {
	if m.metrics == nil {
		return
	}
	stats := m.timers.Stats()
	m.metrics.TimersActive.Set(float64(stats.CountOnce + stats.CountInterval))
}

// SetEvents rebinds the manager's event sink. Used to break the
// construction cycle between Manager and SignalingServer: the server
// needs a *Manager to call into, and implements OnSessionEvent itself, so
// it's built with a provisional NoopEvents manager and then wired in here
// once both exist.
func (m *Manager) SetEvents(events OnSessionEvent) {
	if events == nil {
		events = NoopEvents{}
	}
	m.events = events
}

// CreateSessionRequest are the coordinator-supplied parameters for a new
// session.
type CreateSessionRequest struct {
	PIN                  string
	Threshold            int
	EligibleKeys         []string
	ExpectedParticipants int
	TimeoutMillis        int64
}

// CreateSession generates a session_id, registers the session's expiry
// timer, and stores it in waiting status.
func (m *Manager) CreateSession(req CreateSessionRequest) (store.View, error) {
	if req.Threshold <= 0 || req.Threshold > len(req.EligibleKeys) {
		return store.View{}, newError(CodeAuthFailed, "threshold must be positive and at most len(eligible_keys)")
	}
	timeout := time.Duration(req.TimeoutMillis) * time.Millisecond
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	sessionID := uuid.NewString()
	now := time.Now()

	keys := make(map[string]bool, len(req.EligibleKeys))
	for _, k := range req.EligibleKeys {
		keys[k] = true
	}

	sess := &store.Session{
		SessionID:            sessionID,
		PIN:                  req.PIN,
		Status:               store.StatusWaiting,
		Threshold:            req.Threshold,
		EligibleKeys:         keys,
		ExpectedParticipants: req.ExpectedParticipants,
		Participants:         make(map[string]*store.Participant),
		Signatures:           make(map[string][]byte),
		CreatedAt:            now,
		ExpiresAt:            now.Add(timeout),
	}
	view := m.store.Put(sess)

	m.timers.ScheduleOnce(timeout, expiryTimerName(sessionID), func() {
		m.expireSession(sessionID)
	})
	m.reportTimerPopulation()

	if m.metrics != nil {
		m.metrics.SessionsCreated.Inc()
		m.metrics.SessionsActive.Inc()
	}

	return view, nil
}

// Authenticate performs the constant-time PIN check, admits a new
// participant on success, and returns its freshly assigned participant_id.
func (m *Manager) Authenticate(sessionID, pin, role, label string) (string, store.View, error) {
	view, err := m.store.Get(sessionID)
	if err != nil {
		return "", store.View{}, newError(CodeAuthFailed, "session not found")
	}
	if view.Status.IsTerminal() {
		return "", store.View{}, newError(CodeAuthFailed, "session is no longer accepting connections")
	}
	ok, err := m.store.CheckPIN(sessionID, pin)
	if err != nil || !ok {
		return "", store.View{}, newError(CodeAuthFailed, "invalid credentials")
	}

	participantID := uuid.NewString()
	p := &store.Participant{
		ParticipantID: participantID,
		Status:        store.ParticipantConnected,
		Label:         label,
		ConnectedAt:   time.Now(),
	}
	newView, err := m.store.PutParticipant(sessionID, p)
	if err != nil {
		return "", store.View{}, newError(CodeAuthFailed, "session no longer exists")
	}
	m.events.ParticipantConnected(newView, participantID)
	return participantID, newView, nil
}

// SetReady records a participant's public key and advances it to ready.
// Returns whether the key is eligible and whether every expected
// participant is now ready.
func (m *Manager) SetReady(sessionID, participantID, publicKey string) (store.View, bool, bool, error) {
	view, eligible, err := m.store.SetParticipantReady(sessionID, participantID, publicKey)
	if err != nil {
		return store.View{}, false, false, newError(CodeAuthFailed, "participant not found")
	}
	allReady := countReady(view) >= view.ExpectedParticipants
	m.events.ParticipantReady(view, participantID, publicKey, eligible, allReady)
	return view, eligible, allReady, nil
}

func countReady(v store.View) int {
	n := 0
	for _, p := range v.Participants {
		if p.Status == store.ParticipantReady || p.Status == store.ParticipantSigned {
			n++
		}
	}
	return n
}

// InjectTransaction decodes frozenB64, stores the result, transitions the
// session to transaction-received, and broadcasts TRANSACTION_RECEIVED.
// Permitted only while the session is in waiting status.
func (m *Manager) InjectTransaction(sessionID string, frozenB64 string, metadata map[string]any, abi *decoder.ContractABI) (store.View, error) {
	view, err := m.store.Get(sessionID)
	if err != nil {
		return store.View{}, newError(CodeSessionExpired, "session not found")
	}
	if view.Status == store.StatusWaiting && time.Now().After(view.ExpiresAt) {
		m.expireSession(sessionID)
		return store.View{}, newError(CodeSessionExpired, "session expired before transaction was injected")
	}
	if view.Status != store.StatusWaiting {
		return store.View{}, newError(CodeSessionNotAcceptingSignature, "transaction already injected")
	}

	raw, err := base64.StdEncoding.DecodeString(frozenB64)
	if err != nil {
		return store.View{}, newError(CodeDecodeFail, "frozen transaction is not valid base64")
	}

	tx, err := decoder.Decode(raw, abi)
	switch e := err.(type) {
	case nil:
		// fully resolved type, nothing further to check
	case *decoder.UnknownTypeError:
		// still a usable, opaque DecodedTx; injection proceeds
	case *decoder.SelectorMismatchError:
		return store.View{}, newError(CodeSelectorMismatch, e.Error())
	default:
		return store.View{}, newError(CodeDecodeFail, e.Error())
	}

	var txExpiresAt time.Time
	if tx.ValidStartMillis > 0 && tx.ValidDurationSeconds > 0 {
		txExpiresAt = time.UnixMilli(tx.ValidStartMillis).Add(time.Duration(tx.ValidDurationSeconds) * time.Second)
	}

	validation := decoder.ValidateMetadata(tx, claimedMetadata(metadata))

	newView, err := m.store.InjectTransaction(sessionID, raw, tx, metadata, &validation, txExpiresAt)
	if err != nil {
		return store.View{}, newError(CodeDecodeFail, err.Error())
	}

	if !txExpiresAt.IsZero() {
		m.timers.ScheduleOnce(time.Until(txExpiresAt), txExpiryTimerName(sessionID), func() {
			m.expireSession(sessionID)
		})
		m.reportTimerPopulation()
	}

	newView, _ = m.store.TransitionStatus(sessionID, store.StatusTransactionReceived)
	m.events.TransactionReceived(newView)
	return newView, nil
}

// SubmitSignature validates and, if accepted, records a participant's
// signature, advancing the state machine and triggering execution once
// threshold is met.
func (m *Manager) SubmitSignature(sessionID, participantID, publicKey, signatureB64 string) (store.View, bool, error) {
	view, err := m.store.Get(sessionID)
	if err != nil {
		return store.View{}, false, newError(CodeSessionExpired, "session not found")
	}
	if view.Status != store.StatusTransactionReceived && view.Status != store.StatusSigning {
		return store.View{}, false, newError(CodeSessionNotAcceptingSignature, "session is not accepting signatures")
	}
	if !view.HasEligibleKey(publicKey) {
		return store.View{}, false, newError(CodeNotEligible, "public key is not in this session's eligible set")
	}

	sigBytes, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return store.View{}, false, newError(CodeInvalidSignature, "signature is not valid base64")
	}

	// A key that already has a different signature on file is a duplicate,
	// checked before verification; identical bytes fall through and are
	// accepted idempotently by InsertSignatureIfAbsent.
	if existing, ok := view.Signatures[publicKey]; ok && !bytes.Equal(existing, sigBytes) {
		return store.View{}, false, newError(CodeDuplicateSignature, "a different signature is already on file for this key")
	}

	scheme, keyBytes, err := signerstrategy.ParseKeyID(publicKey)
	if err != nil {
		return store.View{}, false, newError(CodeInvalidSignature, err.Error())
	}
	ok, err := m.signers.Verify(scheme, keyBytes, view.FrozenTx, sigBytes)
	if err != nil {
		return store.View{}, false, newError(CodeInvalidSignature, err.Error())
	}
	if !ok {
		return store.View{}, false, newError(CodeInvalidSignature, "signature verification failed")
	}

	newView, inserted, err := m.store.InsertSignatureIfAbsent(sessionID, publicKey, sigBytes)
	if err == store.ErrDuplicateSignature {
		return store.View{}, false, newError(CodeDuplicateSignature, "a different signature is already on file for this key")
	}
	if err != nil {
		return store.View{}, false, newError(CodeSessionExpired, "session no longer exists")
	}

	if inserted && newView.Status == store.StatusTransactionReceived {
		newView, _ = m.store.TransitionStatus(sessionID, store.StatusSigning)
	}

	thresholdMet := len(newView.Signatures) >= newView.Threshold
	m.events.SignatureAccepted(newView, publicKey, thresholdMet)

	if thresholdMet {
		// TransitionStatusIfCurrent fires the executing transition exactly
		// once even if two signature submissions cross the threshold
		// concurrently: only the caller that actually performs the
		// signing→executing move triggers execution.
		triggeredView, triggered, _ := m.store.TransitionStatusIfCurrent(sessionID, store.StatusSigning, store.StatusExecuting)
		if triggered {
			newView = triggeredView
			m.timers.CancelByPrefix(sessionPrefix(sessionID))
			m.reportTimerPopulation()
			m.events.ThresholdMet(newView)
			go m.executeTransaction(sessionID)
		}
	}

	return newView, thresholdMet, nil
}

// RejectTransaction marks a participant rejected; if the remaining
// non-rejected eligible participants can no longer reach threshold, the
// session is cancelled immediately.
func (m *Manager) RejectTransaction(sessionID, participantID, reason string) (store.View, error) {
	view, err := m.store.Mutate(sessionID, func(sess *store.Session) error {
		p, ok := sess.Participants[participantID]
		if !ok {
			return errSessionNotFound
		}
		p.Status = store.ParticipantRejected
		return nil
	})
	if err != nil {
		return store.View{}, newError(CodeSessionNotAcceptingSignature, "participant not found")
	}

	remaining := 0
	for _, p := range view.Participants {
		if p.Status != store.ParticipantRejected {
			remaining++
		}
	}
	if remaining < view.Threshold {
		view, _ = m.store.TransitionStatus(sessionID, store.StatusCancelled)
		m.timers.CancelByPrefix(sessionPrefix(sessionID))
		m.reportTimerPopulation()
		if m.metrics != nil {
			m.metrics.SessionsCancelled.Inc()
			m.metrics.SessionsActive.Dec()
		}
		m.events.SessionCancelled(view, "insufficient remaining participants to reach threshold")
	}
	return view, nil
}

// executeTransaction performs the blockchain submission with bounded
// exponential-backoff retry (1s, 2s, 4s). On success the session completes;
// on exhausted retries it is cancelled.
func (m *Manager) executeTransaction(sessionID string) {
	view, err := m.store.Get(sessionID)
	if err != nil {
		return
	}

	backoff := executionBackoffMin
	var lastErr error
	for attempt := 1; attempt <= executionRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		result, err := m.net.Submit(ctx, view.FrozenTx, view.Signatures)
		cancel()
		if err == nil {
			newView, _ := m.store.Mutate(sessionID, func(sess *store.Session) error {
				sess.Receipt = result.Receipt
				return nil
			})
			newView, _ = m.store.TransitionStatus(sessionID, store.StatusCompleted)
			m.timers.CancelByPrefix(sessionPrefix(sessionID))
			m.reportTimerPopulation()
			if m.metrics != nil {
				m.metrics.SessionsCompleted.Inc()
				m.metrics.SessionsActive.Dec()
			}
			m.events.TransactionExecuted(newView, result)
			return
		}
		lastErr = err
		m.logger.Printf("session %s: execution attempt %d/%d failed: %v", sessionID, attempt, executionRetries, err)
		if attempt < executionRetries {
			time.Sleep(backoff)
			backoff *= 2
		}
	}

	newView, _ := m.store.TransitionStatus(sessionID, store.StatusCancelled)
	m.timers.CancelByPrefix(sessionPrefix(sessionID))
	m.reportTimerPopulation()
	if m.metrics != nil {
		m.metrics.SessionsCancelled.Inc()
		m.metrics.SessionsActive.Dec()
	}
	m.events.ExecutionFailed(newView, fmt.Sprintf("network submission failed after %d attempts: %v", executionRetries, lastErr))
}

// MarkDisconnected records a participant as disconnected, leaving its
// signatures (keyed by public key, not participant_id) untouched so a
// reconnection within the window preserves them.
func (m *Manager) MarkDisconnected(sessionID, participantID string) (store.View, error) {
	view, err := m.store.MarkDisconnected(sessionID, participantID, time.Now())
	if err != nil {
		return store.View{}, err
	}
	m.events.ParticipantDisconnected(view, participantID)
	return view, nil
}

// CancelSession is the coordinator-initiated cancellation path.
func (m *Manager) CancelSession(sessionID, reason string) (store.View, error) {
	view, err := m.store.TransitionStatus(sessionID, store.StatusCancelled)
	if err != nil {
		return store.View{}, err
	}
	m.timers.CancelByPrefix(sessionPrefix(sessionID))
	m.reportTimerPopulation()
	if m.metrics != nil {
		m.metrics.SessionsCancelled.Inc()
		m.metrics.SessionsActive.Dec()
	}
	m.events.SessionCancelled(view, reason)
	return view, nil
}

func (m *Manager) expireSession(sessionID string) {
	view, err := m.store.TransitionStatus(sessionID, store.StatusExpired)
	if err != nil {
		return
	}
	if view.Status != store.StatusExpired {
		return
	}
	m.timers.CancelByPrefix(sessionPrefix(sessionID))
	m.reportTimerPopulation()
	if m.metrics != nil {
		m.metrics.SessionsExpired.Inc()
		m.metrics.SessionsActive.Dec()
	}
	m.events.SessionExpired(view)
}

// claimedMetadata projects the coordinator-supplied, untrusted metadata map
// (the shape a REST/admin caller hands InjectTransaction) into the typed
// form decoder.ValidateMetadata expects.
func claimedMetadata(metadata map[string]any) decoder.ClaimedMetadata {
	var claimed decoder.ClaimedMetadata
	if metadata == nil {
		return claimed
	}
	if v, ok := metadata["type"].(string); ok {
		claimed.Type = v
	}
	if v, ok := metadata["functionName"].(string); ok {
		claimed.FunctionName = v
	}
	if v, ok := metadata["description"].(string); ok {
		claimed.Description = v
	}
	switch v := metadata["amount"].(type) {
	case float64:
		claimed.Amount = v
		claimed.HasAmount = true
	case int64:
		claimed.Amount = float64(v)
		claimed.HasAmount = true
	case int:
		claimed.Amount = float64(v)
		claimed.HasAmount = true
	}
	return claimed
}

func sessionPrefix(sessionID string) string {
	return "session:" + sessionID + ":"
}

func expiryTimerName(sessionID string) string {
	return sessionPrefix(sessionID) + "expiry"
}

func txExpiryTimerName(sessionID string) string {
	return sessionPrefix(sessionID) + "tx-expiry"
}
