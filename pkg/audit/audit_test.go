package audit

import (
	"context"
	"errors"
	"testing"
)

type fakeSink struct {
	recordErr error
	records   []Receipt
}

func (f *fakeSink) Record(_ context.Context, r Receipt) error {
	f.records = append(f.records, r)
	return f.recordErr
}
func (f *fakeSink) Health(context.Context) error { return nil }
func (f *fakeSink) Close() error                 { return nil }

func TestMultiSink_RecordsToEverySink(t *testing.T) {
	a := &fakeSink{}
	b := &fakeSink{}
	m := NewMultiSink(nil, a, b)

	receipt := Receipt{SessionID: "s1", Outcome: OutcomeCompleted}
	if err := m.Record(context.Background(), receipt); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if len(a.records) != 1 || len(b.records) != 1 {
		t.Fatalf("expected both sinks to receive the receipt, got a=%d b=%d", len(a.records), len(b.records))
	}
}

func TestMultiSink_OneSinkFailingDoesNotStopTheOthers(t *testing.T) {
	failing := &fakeSink{recordErr: errors.New("boom")}
	ok := &fakeSink{}
	m := NewMultiSink(nil, failing, ok)

	err := m.Record(context.Background(), Receipt{SessionID: "s1"})
	if err == nil {
		t.Fatal("expected the failing sink's error to propagate")
	}
	if len(ok.records) != 1 {
		t.Fatalf("expected the healthy sink to still receive the receipt, got %d", len(ok.records))
	}
}

func TestNoopSink_NeverFails(t *testing.T) {
	var s Sink = NoopSink{}
	if err := s.Record(context.Background(), Receipt{}); err != nil {
		t.Fatalf("NoopSink.Record: %v", err)
	}
	if err := s.Health(context.Background()); err != nil {
		t.Fatalf("NoopSink.Health: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("NoopSink.Close: %v", err)
	}
}

func TestFirestoreSink_DisabledIsNoop(t *testing.T) {
	sink, err := NewFirestoreSink(context.Background(), FirestoreConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewFirestoreSink: %v", err)
	}
	if err := sink.Record(context.Background(), Receipt{SessionID: "s1"}); err != nil {
		t.Fatalf("expected disabled sink to no-op, got: %v", err)
	}
	if err := sink.Health(context.Background()); err != nil {
		t.Fatalf("expected disabled sink health check to pass, got: %v", err)
	}
}

func TestPostgresSink_DisabledIsNoop(t *testing.T) {
	sink, err := NewPostgresSink(context.Background(), PostgresConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewPostgresSink: %v", err)
	}
	if err := sink.Record(context.Background(), Receipt{SessionID: "s1"}); err != nil {
		t.Fatalf("expected disabled sink to no-op, got: %v", err)
	}
	if err := sink.Health(context.Background()); err != nil {
		t.Fatalf("expected disabled sink health check to pass, got: %v", err)
	}
}
