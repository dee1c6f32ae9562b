// Package audit records who did what to a patient's personal data.
//
// Recording is a side effect of a lifecycle operation. A failing sink is logged
// and never propagated, so the operation it describes still commits.
package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hengadev/gdprvault/internal/monitoring"
)

// Action names an audited operation.
type Action string

const (
	ActionErasureFile     Action = "erasure.file"
	ActionErasureEvaluate Action = "erasure.evaluate"
	ActionErasureCancel   Action = "erasure.cancel"
	ActionErasureExecute  Action = "erasure.execute"
	ActionPIIWrite        Action = "pii.write"
	ActionPIIDecrypt      Action = "pii.decrypt"
	ActionPIIReencrypt    Action = "pii.reencrypt"
)

// Sensitive reports whether the action reads or destroys personal data.
func (a Action) Sensitive() bool {
	return a == ActionPIIDecrypt || a == ActionErasureExecute
}

// Outcome is the result of an audited operation.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Event is one audit record.
type Event struct {
	ID        string         `json:"id"`
	ClinicID  int64          `json:"clinic_id"`
	Actor     string         `json:"actor"`
	Action    Action         `json:"action"`
	Resource  string         `json:"resource"`
	Outcome   Outcome        `json:"outcome"`
	Timestamp time.Time      `json:"timestamp"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// PatientResource formats the resource name of a patient.
func PatientResource(patientID int64) string {
	return fmt.Sprintf("patient:%d", patientID)
}

// RequestResource formats the resource name of an erasure request.
func RequestResource(requestID string) string {
	return "erasure_request:" + requestID
}

// Sink persists audit events.
type Sink interface {
	Record(ctx context.Context, event Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, event Event) error

func (f SinkFunc) Record(ctx context.Context, event Event) error { return f(ctx, event) }

// LogSink writes events to the structured log.
type LogSink struct {
	logger monitoring.Logger
}

// securityLogger is implemented by *monitoring.StructuredLogger.
type securityLogger interface {
	LogSecurityEvent(ctx context.Context, event string, severity string, args ...any)
}

func NewLogSink(logger monitoring.Logger) *LogSink {
	if logger == nil {
		logger = monitoring.NewDiscardLogger()
	}
	return &LogSink{logger: logger}
}

// Record logs e. Decrypts and executions go out as security events when the
// logger supports them; a failed one is raised to medium severity.
func (s *LogSink) Record(ctx context.Context, e Event) error {
	args := []any{
		"audit_id", e.ID,
		"clinic_id", e.ClinicID,
		"actor", e.Actor,
		"action", string(e.Action),
		"resource", e.Resource,
		"outcome", string(e.Outcome),
		"timestamp", e.Timestamp,
	}
	if sec, ok := s.logger.(securityLogger); ok && e.Action.Sensitive() {
		severity := "low"
		if e.Outcome == OutcomeFailure {
			severity = "medium"
		}
		sec.LogSecurityEvent(ctx, string(e.Action), severity, args...)
		return nil
	}
	s.logger.Info("audit", args...)
	return nil
}

// MultiSink fans an event out to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Record(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Record(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MemorySink keeps events in memory.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (m *MemorySink) Record(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

// Events returns a copy of everything recorded so far.
func (m *MemorySink) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// ByAction returns the recorded events with the given action.
func (m *MemorySink) ByAction(action Action) []Event {
	var out []Event
	for _, e := range m.Events() {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

// Recorder stamps events and hands them to a sink, swallowing sink failures.
type Recorder struct {
	sink   Sink
	logger monitoring.Logger
	now    func() time.Time
}

func NewRecorder(sink Sink, logger monitoring.Logger, now func() time.Time) *Recorder {
	if logger == nil {
		logger = monitoring.NewDiscardLogger()
	}
	if sink == nil {
		sink = NewLogSink(logger)
	}
	if now == nil {
		now = time.Now
	}
	return &Recorder{sink: sink, logger: logger, now: now}
}

// Record fills ID and Timestamp when unset and delivers the event once.
func (r *Recorder) Record(ctx context.Context, e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = r.now().UTC()
	}
	if e.Outcome == "" {
		e.Outcome = OutcomeSuccess
	}
	if err := r.sink.Record(ctx, e); err != nil {
		r.logger.Error("audit write failed",
			"audit_id", e.ID,
			"actor", e.Actor,
			"action", string(e.Action),
			"resource", e.Resource,
			"outcome", string(e.Outcome),
			"error", err,
		)
	}
}

// OutcomeOf returns OutcomeFailure when err is non-nil.
func OutcomeOf(err error) Outcome {
	if err != nil {
		return OutcomeFailure
	}
	return OutcomeSuccess
}
