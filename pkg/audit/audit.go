// Package audit provides the explicit audit-event sink passed to every
// Tollgate component. Components record decisions (usage accepted, alert
// fired, model selected, degraded operation) through a Sink instead of
// writing ambient log lines.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Event types recorded by Tollgate components.
const (
	TypeUsageRecorded    = "usage.recorded"
	TypeUsageDuplicate   = "usage.duplicate"
	TypeBudgetCreated    = "budget.created"
	TypeBudgetUpdated    = "budget.updated"
	TypeBudgetDeleted    = "budget.deleted"
	TypeBudgetRollover   = "budget.rollover"
	TypeAlertFired       = "alert.fired"
	TypeAlertAcked       = "alert.acknowledged"
	TypeNotification     = "alert.notification"
	TypeModelSelected    = "selection.selected"
	TypeSelectionFailed  = "selection.failed"
	TypeFallbackAdvanced = "fallback.advanced"
	TypeReconciled       = "usage.reconciled"
	TypeDegraded         = "degraded"
	TypeCatalogReloaded  = "catalog.reloaded"
)

// Event is a single audit record.
type Event struct {
	// Type classifies the event (see the Type* constants).
	Type string

	// Time is when the event occurred. Zero means now.
	Time time.Time

	// Component names the emitter ("ledger", "monitor", "selection", ...).
	Component string

	// BudgetID, ModelID and RequestID are optional correlation keys.
	BudgetID  string
	ModelID   string
	RequestID string

	// Message is a short human-readable summary.
	Message string

	// Fields carries event-specific attributes.
	Fields map[string]any
}

// Sink receives audit events. Implementations must be safe for concurrent use.
type Sink interface {
	Record(ctx context.Context, event Event)
}

// Discard is a Sink that drops every event.
var Discard Sink = discard{}

type discard struct{}

func (discard) Record(context.Context, Event) {}

// OrDiscard returns s, or Discard when s is nil.
func OrDiscard(s Sink) Sink {
	if s == nil {
		return Discard
	}
	return s
}

// SlogSink writes events as structured log records.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink creates a sink writing to logger with an "audit" attribute.
// A nil logger uses slog.Default().
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger.With("audit", true)}
}

// Record implements Sink.
func (s *SlogSink) Record(ctx context.Context, event Event) {
	attrs := make([]any, 0, 12+2*len(event.Fields))
	attrs = append(attrs, "event", event.Type)
	if event.Component != "" {
		attrs = append(attrs, "component", event.Component)
	}
	if event.BudgetID != "" {
		attrs = append(attrs, "budget_id", event.BudgetID)
	}
	if event.ModelID != "" {
		attrs = append(attrs, "model_id", event.ModelID)
	}
	if event.RequestID != "" {
		attrs = append(attrs, "request_id", event.RequestID)
	}
	for k, v := range event.Fields {
		attrs = append(attrs, k, v)
	}

	level := slog.LevelInfo
	if event.Type == TypeDegraded || event.Type == TypeSelectionFailed {
		level = slog.LevelWarn
	}

	msg := event.Message
	if msg == "" {
		msg = event.Type
	}
	s.logger.Log(ctx, level, msg, attrs...)
}

// MemorySink keeps events in memory. It is intended for tests.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Record implements Sink.
func (m *MemorySink) Record(_ context.Context, event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
	m.mu.Lock()
	m.events = append(m.events, event)
	m.mu.Unlock()
}

// Events returns a copy of all recorded events.
func (m *MemorySink) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// OfType returns recorded events whose Type equals eventType.
func (m *MemorySink) OfType(eventType string) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, e := range m.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}
