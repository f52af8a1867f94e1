package store

import (
	"crypto/subtle"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/certen/independant-validator/pkg/decoder"
)

var (
	// ErrNotFound is returned when a session_id has no matching entry.
	ErrNotFound = errors.New("store: session not found")

	// ErrDuplicateSignature is returned by InsertSignatureIfAbsent when the
	// public key already has a DIFFERENT signature on file. An identical
	// resubmission is treated as a no-op success, not this error.
	ErrDuplicateSignature = errors.New("store: signature already present for this public key")
)

// Store is the in-memory SessionStore. Reads return independent snapshots;
// writes are serialized per session via each Session's own mutex, so
// unrelated sessions never contend with one another.
//
// Grounded on the teacher's HTTPPeerManager (pkg/batch/peer_manager.go):
// same RWMutex-guarded top-level map plus copy-out accessor idiom, here
// split into a coarse map lock (membership only) and a per-session lock
// (session contents), since sessions here are long-lived, much larger, and
// individually mutated far more often than the teacher's flat peer list.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	sweepInterval time.Duration
	stopSweep     chan struct{}
	sweepOnce     sync.Once

	logger *log.Logger
}

// Config configures a Store.
type Config struct {
	// SweepInterval is how often the expiry sweep runs. Defaults to 10s.
	SweepInterval time.Duration
	Logger        *log.Logger
}

// New creates a Store and starts its background expiry sweep.
func New(cfg Config) *Store {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[SessionStore] ", log.LstdFlags)
	}
	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	s := &Store{
		sessions:      make(map[string]*Session),
		sweepInterval: interval,
		stopSweep:     make(chan struct{}),
		logger:        logger,
	}
	go s.sweepLoop()
	return s
}

// Put inserts a newly created session. The caller owns session_id
// generation; Put replaces any existing entry stored under the same ID.
func (s *Store) Put(sess *Session) View {
	s.mu.Lock()
	s.sessions[sess.SessionID] = sess
	s.mu.Unlock()

	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.snapshotLocked()
}

// CheckPIN performs a constant-time comparison of candidate against the
// session's stored PIN. The PIN itself never leaves the store — View
// deliberately has no PIN field, so callers elsewhere in the process cannot
// accidentally log or broadcast it.
func (s *Store) CheckPIN(sessionID, candidate string) (bool, error) {
	s.mu.RLock()
	sess, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return false, ErrNotFound
	}
	sess.mu.Lock()
	pin := sess.PIN
	sess.mu.Unlock()
	return constantTimeEqual(pin, candidate), nil
}

// Get returns a read-only snapshot of a session.
func (s *Store) Get(sessionID string) (View, error) {
	s.mu.RLock()
	sess, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return View{}, ErrNotFound
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.snapshotLocked(), nil
}

// Mutate serializes fn against the named session's write lock and returns
// the resulting snapshot. fn mutates sess in place and returns an error to
// abort (no snapshot is still returned — callers should check err first).
func (s *Store) Mutate(sessionID string, fn func(sess *Session) error) (View, error) {
	s.mu.RLock()
	sess, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return View{}, ErrNotFound
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if err := fn(sess); err != nil {
		return View{}, err
	}
	return sess.snapshotLocked(), nil
}

// PutParticipant inserts or replaces a participant record.
func (s *Store) PutParticipant(sessionID string, p *Participant) (View, error) {
	return s.Mutate(sessionID, func(sess *Session) error {
		sess.Participants[p.ParticipantID] = p
		return nil
	})
}

// SetParticipantReady records a participant's public key and advances it to
// ready. eligible reports whether publicKey was a member of eligible_keys,
// for the caller to surface a not-in-eligible-list warning.
func (s *Store) SetParticipantReady(sessionID, participantID, publicKey string) (View, bool, error) {
	var eligible bool
	view, err := s.Mutate(sessionID, func(sess *Session) error {
		p, ok := sess.Participants[participantID]
		if !ok {
			return errors.New("store: participant not found")
		}
		eligible = sess.EligibleKeys[publicKey]
		p.PublicKey = publicKey
		p.Eligible = eligible
		p.Status = ParticipantReady
		return nil
	})
	return view, eligible, err
}

// MarkDisconnected sets a participant's status to disconnected and stamps
// DisconnectedAt, used by the signaling layer to start the 60s reconnection
// window.
func (s *Store) MarkDisconnected(sessionID, participantID string, at time.Time) (View, error) {
	return s.Mutate(sessionID, func(sess *Session) error {
		p, ok := sess.Participants[participantID]
		if !ok {
			return errors.New("store: participant not found")
		}
		p.Status = ParticipantDisconnected
		p.DisconnectedAt = at
		return nil
	})
}

// InsertSignatureIfAbsent inserts a signature for publicKey if none is
// present. If one is already present and byte-identical, it's a no-op
// success (inserted=false, err=nil). If present and different, returns
// ErrDuplicateSignature.
func (s *Store) InsertSignatureIfAbsent(sessionID, publicKey string, signature []byte) (view View, inserted bool, err error) {
	view, err = s.Mutate(sessionID, func(sess *Session) error {
		existing, ok := sess.Signatures[publicKey]
		if ok {
			if bytesEqual(existing, signature) {
				inserted = false
				return nil
			}
			return ErrDuplicateSignature
		}
		sess.Signatures[publicKey] = signature
		inserted = true
		return nil
	})
	return view, inserted, err
}

// TransitionStatus moves a session to newStatus. Re-entering the session's
// current status, or attempting any transition out of a terminal status, is
// a no-op (not an error) — terminal states admit no further state changes.
func (s *Store) TransitionStatus(sessionID string, newStatus Status) (View, error) {
	return s.Mutate(sessionID, func(sess *Session) error {
		if sess.Status.IsTerminal() || sess.Status == newStatus {
			return nil
		}
		sess.Status = newStatus
		return nil
	})
}

// TransitionStatusIfCurrent moves a session to newStatus only if it is
// currently exactly expected, atomically with the check. changed reports
// whether this call performed the transition — used by callers (threshold
// detection racing two concurrent signature submissions) that must trigger
// a one-time side effect exactly once on the transition, not on every call
// that happens to observe the target status.
func (s *Store) TransitionStatusIfCurrent(sessionID string, expected, newStatus Status) (view View, changed bool, err error) {
	view, err = s.Mutate(sessionID, func(sess *Session) error {
		if sess.Status == expected {
			sess.Status = newStatus
			changed = true
		}
		return nil
	})
	return view, changed, err
}

// InjectTransaction stores the frozen transaction and its decoded view.
// frozen_tx is immutable once set; InjectTransaction refuses to overwrite
// an existing one.
func (s *Store) InjectTransaction(sessionID string, frozen []byte, details *decoder.DecodedTx, metadata map[string]any, validation *decoder.MetadataValidation, txExpiresAt time.Time) (View, error) {
	return s.Mutate(sessionID, func(sess *Session) error {
		if sess.FrozenTx != nil {
			return errors.New("store: frozen transaction already set")
		}
		sess.FrozenTx = frozen
		sess.TxDetails = details
		sess.Metadata = metadata
		sess.MetadataValidation = validation
		if !txExpiresAt.IsZero() {
			sess.TxExpiresAt = txExpiresAt
		}
		return nil
	})
}

// Delete removes a session entirely. Call after destroying all of its
// timers/connections.
func (s *Store) Delete(sessionID string) {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
}

// All returns a snapshot of every session currently stored, for the sweep
// loop and for admin introspection.
func (s *Store) All() []View {
	s.mu.RLock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.RUnlock()

	views := make([]View, 0, len(sessions))
	for _, sess := range sessions {
		sess.mu.Lock()
		views = append(views, sess.snapshotLocked())
		sess.mu.Unlock()
	}
	return views
}

func (s *Store) sweepLoop() {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweepExpired()
		case <-s.stopSweep:
			return
		}
	}
}

func (s *Store) sweepExpired() {
	now := time.Now()
	s.mu.Lock()
	var expired []string
	for id, sess := range s.sessions {
		sess.mu.Lock()
		if sess.ExpiresAt.Before(now) {
			expired = append(expired, id)
		}
		sess.mu.Unlock()
	}
	for _, id := range expired {
		delete(s.sessions, id)
	}
	s.mu.Unlock()
	if len(expired) > 0 {
		s.logger.Printf("expiry sweep removed %d session(s): %v", len(expired), expired)
	}
}

// Close stops the background sweep. Safe to call once.
func (s *Store) Close() {
	s.sweepOnce.Do(func() { close(s.stopSweep) })
}

// constantTimeEqual compares two PINs in time independent of where they
// first differ, per the spec's requirement that PIN comparison time must
// not leak the position of the first differing character.
func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		subtle.ConstantTimeCompare([]byte(b), []byte(b))
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
