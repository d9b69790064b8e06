package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"payment-reconciliation-engine/pkg/logger"
)

func TestNewEvent(t *testing.T) {
	a := NewEvent(EventObligationClaimed, "ob-1", map[string]interface{}{"claim_key": "k"})
	b := NewEvent(EventObligationClaimed, "ob-1", nil)

	if a.ID == "" || a.ID == b.ID {
		t.Errorf("event IDs should be unique and non-empty: %q, %q", a.ID, b.ID)
	}
	if a.OccurredAt.IsZero() {
		t.Error("OccurredAt not set")
	}
}

func TestMemorySink(t *testing.T) {
	sink := &MemorySink{}
	ctx := context.Background()

	_ = sink.Publish(ctx, NewEvent(EventFraudIndicators, "pay-1", nil))
	_ = sink.Publish(ctx, NewEvent(EventObligationClaimed, "ob-1", nil))

	if got := len(sink.Events()); got != 2 {
		t.Fatalf("Events() = %d, want 2", got)
	}
	if got := sink.OfType(EventFraudIndicators); len(got) != 1 || got[0].Subject != "pay-1" {
		t.Errorf("OfType() = %v", got)
	}

	sink.Err = errors.New("down")
	if err := sink.Publish(ctx, NewEvent(EventFraudIndicators, "pay-2", nil)); err == nil {
		t.Error("expected error from failing sink")
	}
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	log, err := logger.NewLogger(&logger.Config{Level: logger.InfoLevel, Format: logger.JSONFormat, Writer: &buf})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	event := NewEvent(EventReconciliationCompleted, "acct-1", map[string]interface{}{"matched": 3})
	if err := NewLogSink(log).Publish(context.Background(), event); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not JSON: %v (%s)", err, buf.String())
	}
	if entry["event_type"] != EventReconciliationCompleted || entry["component"] != "audit" {
		t.Errorf("log entry = %v", entry)
	}
	if entry["payload.matched"] != float64(3) {
		t.Errorf("payload.matched = %v, want 3", entry["payload.matched"])
	}
}

func TestMultiSink(t *testing.T) {
	ok := &MemorySink{}
	failing := &MemorySink{Err: errors.New("down")}
	after := &MemorySink{}

	err := MultiSink{ok, failing, after}.Publish(context.Background(), NewEvent(EventFraudIndicators, "pay-1", nil))
	if err == nil {
		t.Error("expected first error to be returned")
	}
	if len(ok.Events()) != 1 || len(after.Events()) != 1 {
		t.Error("every healthy sink should receive the event")
	}
}
