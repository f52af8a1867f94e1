package store

import (
	"testing"
	"time"
)

func newTestSession(id string) *Session {
	return &Session{
		SessionID:    id,
		PIN:          "1234",
		Status:       StatusWaiting,
		Threshold:    2,
		EligibleKeys: map[string]bool{"K1": true, "K2": true, "K3": true},
		ExpectedParticipants: 3,
		Participants: make(map[string]*Participant),
		Signatures:   make(map[string][]byte),
		CreatedAt:    time.Now(),
		ExpiresAt:    time.Now().Add(time.Hour),
	}
}

func TestStore_PutAndGet(t *testing.T) {
	s := New(Config{})
	defer s.Close()

	s.Put(newTestSession("sess-1"))
	view, err := s.Get("sess-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if view.Status != StatusWaiting {
		t.Fatalf("expected waiting, got %s", view.Status)
	}
	if len(view.EligibleKeys) != 3 {
		t.Fatalf("expected 3 eligible keys, got %d", len(view.EligibleKeys))
	}
}

func TestStore_GetMissing(t *testing.T) {
	s := New(Config{})
	defer s.Close()
	if _, err := s.Get("nope"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_InsertSignatureIfAbsent(t *testing.T) {
	s := New(Config{})
	defer s.Close()
	s.Put(newTestSession("sess-1"))

	view, inserted, err := s.InsertSignatureIfAbsent("sess-1", "K1", []byte("sig-a"))
	if err != nil || !inserted {
		t.Fatalf("expected insert, got inserted=%v err=%v", inserted, err)
	}
	if len(view.Signatures) != 1 {
		t.Fatalf("expected 1 signature, got %d", len(view.Signatures))
	}

	// Identical resubmission: idempotent no-op.
	_, inserted, err = s.InsertSignatureIfAbsent("sess-1", "K1", []byte("sig-a"))
	if err != nil {
		t.Fatalf("expected no error on identical resubmission, got %v", err)
	}
	if inserted {
		t.Fatal("expected idempotent no-op, not a fresh insert")
	}

	// Different bytes: duplicate error.
	_, _, err = s.InsertSignatureIfAbsent("sess-1", "K1", []byte("sig-b"))
	if err != ErrDuplicateSignature {
		t.Fatalf("expected ErrDuplicateSignature, got %v", err)
	}
}

func TestStore_TransitionStatus_TerminalIsNoOp(t *testing.T) {
	s := New(Config{})
	defer s.Close()
	s.Put(newTestSession("sess-1"))

	if _, err := s.TransitionStatus("sess-1", StatusCompleted); err != nil {
		t.Fatalf("transition to completed: %v", err)
	}
	view, err := s.TransitionStatus("sess-1", StatusSigning)
	if err != nil {
		t.Fatalf("transition after terminal: %v", err)
	}
	if view.Status != StatusCompleted {
		t.Fatalf("expected status to remain completed, got %s", view.Status)
	}
}

func TestStore_SetParticipantReady_FlagsIneligibleKey(t *testing.T) {
	s := New(Config{})
	defer s.Close()
	sess := newTestSession("sess-1")
	sess.Participants["p1"] = &Participant{ParticipantID: "p1", Status: ParticipantConnected}
	s.Put(sess)

	_, eligible, err := s.SetParticipantReady("sess-1", "p1", "NOT-AN-ELIGIBLE-KEY")
	if err != nil {
		t.Fatalf("set ready: %v", err)
	}
	if eligible {
		t.Fatal("expected ineligible key to be flagged")
	}
}

func TestStore_Delete(t *testing.T) {
	s := New(Config{})
	defer s.Close()
	s.Put(newTestSession("sess-1"))
	s.Delete("sess-1")
	if _, err := s.Get("sess-1"); err != ErrNotFound {
		t.Fatalf("expected deletion, got %v", err)
	}
}

func TestStore_ViewIsIndependentSnapshot(t *testing.T) {
	s := New(Config{})
	defer s.Close()
	s.Put(newTestSession("sess-1"))

	view, _ := s.Get("sess-1")
	view.EligibleKeys = append(view.EligibleKeys, "INJECTED")

	fresh, _ := s.Get("sess-1")
	if len(fresh.EligibleKeys) == len(view.EligibleKeys) {
		t.Fatal("mutating a returned view leaked into store state")
	}
}
