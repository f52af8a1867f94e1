// Package audit implements a write-only compliance export of terminal
// session outcomes. Spec.md's non-goals exclude persistent storage of live
// session *state* (sessions are in-memory with a bounded lifetime), but say
// nothing about exporting a durable record of what was decided once a
// session reaches a terminal status — this package is that export, never
// consulted to rehydrate live session state.
//
// Grounded on the teacher's pkg/firestore.AuditTrailService (its
// enabled/no-op client wrapper, the same nil-defaulted *log.Logger
// constructor idiom) generalized from proof-cycle forensics to
// session-outcome receipts, plus pkg/database's repository style for the
// Postgres-backed sink.
package audit

import (
	"context"
	"log"
	"time"
)

// Outcome is the terminal status a session reached, mirroring
// store.Status's terminal values without importing pkg/store (audit sinks
// should not need the full session data model to record a receipt).
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeExpired   Outcome = "expired"
	OutcomeCancelled Outcome = "cancelled"
)

// Receipt is the durable record written when a session reaches a terminal
// state: who signed, what was decided, and how it turned out.
type Receipt struct {
	SessionID     string
	Outcome       Outcome
	Threshold     int
	Signers       []string // public keys, in the order signatures were accepted is not preserved — sorted
	TxChecksum    string   // decoder.DecodedTx.FullChecksum, empty if no transaction was ever injected
	TransactionID string   // set only for OutcomeCompleted
	FailureReason string   // set for OutcomeExpired/OutcomeCancelled when known
	CreatedAt     time.Time
	ClosedAt      time.Time
}

// Sink receives terminal-outcome receipts. Implementations must tolerate
// being disabled (a no-op Record) so the coordinator can run with no
// external compliance store configured at all.
type Sink interface {
	Record(ctx context.Context, receipt Receipt) error
	Health(ctx context.Context) error
	Close() error
}

// NoopSink discards every receipt. The default when no audit sink is
// configured.
type NoopSink struct{}

func (NoopSink) Record(context.Context, Receipt) error { return nil }
func (NoopSink) Health(context.Context) error          { return nil }
func (NoopSink) Close() error                          { return nil }

// MultiSink fans a receipt out to every wrapped sink, recording every
// error it encounters rather than stopping at the first failure — an
// operator running both Firestore and Postgres sinks wants both attempts
// made even if one backend is down.
type MultiSink struct {
	Sinks  []Sink
	logger *log.Logger
}

// NewMultiSink builds a MultiSink. A nil logger defaults like every other
// component in this module.
func NewMultiSink(logger *log.Logger, sinks ...Sink) *MultiSink {
	if logger == nil {
		logger = log.New(log.Writer(), "[audit] ", log.LstdFlags)
	}
	return &MultiSink{Sinks: sinks, logger: logger}
}

func (m *MultiSink) Record(ctx context.Context, receipt Receipt) error {
	var firstErr error
	for _, s := range m.Sinks {
		if err := s.Record(ctx, receipt); err != nil {
			m.logger.Printf("audit sink failed to record session %s: %v", receipt.SessionID, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (m *MultiSink) Health(ctx context.Context) error {
	for _, s := range m.Sinks {
		if err := s.Health(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (m *MultiSink) Close() error {
	var firstErr error
	for _, s := range m.Sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
