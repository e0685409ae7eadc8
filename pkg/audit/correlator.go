package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aegis-labs/govern/pkg/canonicalize"
	"github.com/aegis-labs/govern/pkg/siem"
	"github.com/aegis-labs/govern/pkg/store"
	"github.com/google/uuid"
)

// Sink receives emitted SIEM events for external dashboards. Delivery is
// fire-and-forget: sink failures must never fail the governing decision.
type Sink interface {
	Push(ctx context.Context, events []siem.Event)
}

// Entry is the input to one correlated commit.
type Entry struct {
	Actor         string
	Action        string
	WorkflowStep  string
	JiraReference *siem.JiraReference
	Inputs        map[string]interface{}
	Outputs       map[string]interface{}
	Controls      []string
	// ComplianceResult is "pass"/"fail" or empty when no report applies.
	ComplianceResult string
	// Events describes the SIEM events to derive. Empty means one default
	// event for the workflow step at informational severity.
	Events []DerivedEvent
}

// DerivedEvent names one SIEM event to derive from an audit record.
type DerivedEvent struct {
	Type     siem.EventType
	Severity siem.Severity
	Payload  map[string]interface{}
}

// Correlator writes audit records and derives their SIEM events.
//
// Write ordering is the component's contract: the audit record is durably
// written before any SIEM event referencing its id exists, so a joiner can
// never observe an orphan SIEM event. If the audit write fails the whole
// commit fails and the governed action must be treated as not having
// happened.
type Correlator struct {
	store        store.RecordStore
	sink         Sink
	source       string
	auditorAgent string
	clock        func() time.Time
	logger       *slog.Logger
}

// NewCorrelator creates a correlator. sink may be nil.
func NewCorrelator(recordStore store.RecordStore, sink Sink, source, auditorAgent string) *Correlator {
	return &Correlator{
		store:        recordStore,
		sink:         sink,
		source:       source,
		auditorAgent: auditorAgent,
		clock:        time.Now,
		logger:       slog.Default().With("component", "audit"),
	}
}

// WithClock overrides the clock for deterministic testing.
func (c *Correlator) WithClock(clock func() time.Time) *Correlator {
	c.clock = clock
	return c
}

// Commit writes one audit record, then derives and stores its SIEM events.
// The returned events all carry the record's audit_id as siem_event_id.
func (c *Correlator) Commit(ctx context.Context, entry Entry) (*Record, []siem.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, fmt.Errorf("commit cancelled before audit write: %w", err)
	}

	ts := c.clock().UTC().Truncate(time.Millisecond)
	auditID := uuid.New().String()

	evidenceHash, err := canonicalize.EvidenceHash(entry.Inputs, entry.Outputs, ts)
	if err != nil {
		return nil, nil, fmt.Errorf("evidence hash: %w", err)
	}

	record := &Record{
		AuditID:               auditID,
		Timestamp:             ts,
		Actor:                 entry.Actor,
		Action:                entry.Action,
		WorkflowStep:          entry.WorkflowStep,
		JiraReference:         entry.JiraReference,
		Inputs:                entry.Inputs,
		Outputs:               entry.Outputs,
		PolicyControlsChecked: entry.Controls,
		ComplianceResult:      entry.ComplianceResult,
		EvidenceHash:          evidenceHash,
		AuditorAgent:          c.auditorAgent,
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal audit record: %w", err)
	}

	// The audit write comes first and its failure is fatal: no action
	// without audit.
	if _, err := c.store.Append(ctx, store.EntryTypeAuditRecord, auditID, entry.Actor, payload); err != nil {
		return nil, nil, fmt.Errorf("audit write failed: %w", err)
	}

	events, err := c.deriveEvents(ctx, record, entry)
	if err != nil {
		// The audit record stands; event derivation problems are logged
		// and surfaced but the action is governed.
		c.logger.Error("siem derivation incomplete", "audit_id", auditID, "error", err)
	}

	if c.sink != nil && len(events) > 0 {
		c.sink.Push(ctx, events)
	}
	return record, events, nil
}

func (c *Correlator) deriveEvents(ctx context.Context, record *Record, entry Entry) ([]siem.Event, error) {
	derived := entry.Events
	if len(derived) == 0 {
		derived = []DerivedEvent{{
			Type:     EventTypeForStep(entry.WorkflowStep),
			Severity: siem.SeverityInfo,
		}}
	}

	events := make([]siem.Event, 0, len(derived))
	for _, d := range derived {
		mapping := siem.Map(d.Type, d.Severity)
		if record.ComplianceResult == "fail" {
			mapping = siem.Escalate(mapping)
		}

		payload := d.Payload
		if payload == nil {
			payload = map[string]interface{}{
				"actor":         record.Actor,
				"action":        record.Action,
				"workflow_step": record.WorkflowStep,
			}
		}

		event := siem.Event{
			SiemEventID:      record.AuditID,
			Timestamp:        record.Timestamp,
			Source:           c.source,
			OCSFMapping:      mapping,
			Payload:          payload,
			ComplianceResult: record.ComplianceResult,
			JiraReference:    record.JiraReference,
		}

		eventBytes, err := json.Marshal(event)
		if err != nil {
			return events, fmt.Errorf("marshal siem event: %w", err)
		}
		if _, err := c.store.Append(ctx, store.EntryTypeSiemEvent, fmt.Sprintf("%s/siem/%d", record.AuditID, len(events)), record.Actor, eventBytes); err != nil {
			return events, fmt.Errorf("siem event write: %w", err)
		}
		events = append(events, event)
	}
	return events, nil
}

// EmitBudgetEvent implements the budget monitor's Alerter: threshold and
// breaker events are governed like everything else, with their own audit
// record so the correlation invariant holds for them too.
func (c *Correlator) EmitBudgetEvent(ctx context.Context, agentID string, eventType siem.EventType, severity siem.Severity, payload map[string]interface{}) error {
	_, _, err := c.Commit(ctx, Entry{
		Actor:        agentID,
		Action:       string(eventType),
		WorkflowStep: StepBudgetMonitor,
		Inputs:       payload,
		Events:       []DerivedEvent{{Type: eventType, Severity: severity, Payload: payload}},
	})
	return err
}
