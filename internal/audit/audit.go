// Package audit publishes engine events (claims, completed reconciliations,
// fraud indicators) to a downstream sink for alerting.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"payment-reconciliation-engine/pkg/logger"
)

// Event types
const (
	EventFraudIndicators         = "fraud.indicators"
	EventReconciliationCompleted = "reconciliation.completed"
	EventObligationClaimed       = "obligation.claimed"
)

// Event is one audit record
type Event struct {
	ID         string                 `json:"id" bson:"event_id"`
	Type       string                 `json:"type" bson:"type"`
	Subject    string                 `json:"subject" bson:"subject"`
	Payload    map[string]interface{} `json:"payload,omitempty" bson:"payload,omitempty"`
	OccurredAt time.Time              `json:"occurredAt" bson:"occurred_at"`
}

// NewEvent creates an event with a fresh ID
func NewEvent(eventType, subject string, payload map[string]interface{}) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		Subject:    subject,
		Payload:    payload,
		OccurredAt: time.Now().UTC(),
	}
}

// Sink receives audit events
type Sink interface {
	Publish(ctx context.Context, event Event) error
}

// LogSink writes events to the structured log
type LogSink struct {
	logger logger.Logger
}

// NewLogSink creates a sink on log, or the global logger when nil
func NewLogSink(log logger.Logger) *LogSink {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &LogSink{logger: log.WithComponent("audit")}
}

// Publish logs the event at info level
func (s *LogSink) Publish(_ context.Context, event Event) error {
	fields := logger.Fields{
		"event_id":   event.ID,
		"event_type": event.Type,
		"subject":    event.Subject,
	}
	for k, v := range event.Payload {
		fields["payload."+k] = v
	}
	s.logger.WithFields(fields).Info("Audit event")
	return nil
}

// MemorySink records events in memory
type MemorySink struct {
	mu     sync.Mutex
	events []Event
	// Err, when set, is returned by Publish instead of recording
	Err error
}

// Publish records the event
func (s *MemorySink) Publish(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Err != nil {
		return s.Err
	}
	s.events = append(s.events, event)
	return nil
}

// Events returns the recorded events in publish order
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// OfType returns the recorded events of one type
func (s *MemorySink) OfType(eventType string) []Event {
	var out []Event
	for _, e := range s.Events() {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// MultiSink publishes to every sink and returns the first error
type MultiSink []Sink

// Publish fans the event out
func (m MultiSink) Publish(ctx context.Context, event Event) error {
	var firstErr error
	for _, s := range m {
		if err := s.Publish(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
