package governance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aegis-labs/govern/pkg/approval"
	"github.com/aegis-labs/govern/pkg/audit"
	"github.com/aegis-labs/govern/pkg/budget"
	"github.com/aegis-labs/govern/pkg/compliance"
	"github.com/aegis-labs/govern/pkg/siem"
	"github.com/aegis-labs/govern/pkg/tiers"
)

// ChecksFunc supplies the compliance checks to run for a request. The
// engine stays agnostic of where resources come from.
type ChecksFunc func(req ActionRequest) []compliance.Check

// Engine runs action requests through the full governance pipeline.
type Engine struct {
	gate       *approval.Gate
	aggregator *compliance.Aggregator
	checks     ChecksFunc
	correlator *audit.Correlator
	monitor    *budget.Monitor
	policy     *ViolationPolicy
	logger     *slog.Logger
}

// NewEngine wires the pipeline. checks and policy may be nil: nil checks
// means an empty compliance run, nil policy falls back to the static
// tier-policy blocking rule.
func NewEngine(gate *approval.Gate, aggregator *compliance.Aggregator, checks ChecksFunc,
	correlator *audit.Correlator, monitor *budget.Monitor, policy *ViolationPolicy) *Engine {
	return &Engine{
		gate:       gate,
		aggregator: aggregator,
		checks:     checks,
		correlator: correlator,
		monitor:    monitor,
		policy:     policy,
		logger:     slog.Default().With("component", "governance"),
	}
}

// Decide runs one request through the pipeline and returns the decision.
//
// Every deny and allow is committed to the audit store before Decide
// returns; only malformed requests (ErrInvalidRequest) leave no record.
// An audit write failure is returned as an error: the action must not
// proceed ungoverned, callers retry with backoff.
func (e *Engine) Decide(ctx context.Context, req ActionRequest) (*Decision, error) {
	controls, err := e.validate(req)
	if err != nil {
		return nil, err
	}

	tier := tiers.Tier(req.Tier)
	env := tiers.Environment(req.Environment)

	// Breaker veto first: an open breaker denies everything for the agent,
	// no matter what the rest of the pipeline would say.
	if err := e.monitor.Allow(ctx, req.AgentID); err != nil {
		severity := siem.SeverityHigh
		eventType := siem.EventBudgetThreshold
		if errors.Is(err, budget.ErrBreakerOpen) {
			severity = siem.SeverityCritical
			eventType = siem.EventBudgetBreaker
		}
		return e.commitDenial(ctx, req, nil, audit.StepBudgetMonitor, eventType, severity,
			[]string{err.Error()})
	}

	// Approval gate.
	gateResult := e.gate.Validate(ctx, controls, req.CRID, req.AgentID)
	jiraRef := jiraReference(req.CRID, gateResult.CR)
	if !gateResult.Allowed {
		return e.commitDenial(ctx, req, jiraRef, audit.StepApprovalGate,
			siem.EventApprovalDenied, siem.SeverityHigh, gateResult.Reasons)
	}

	// Compliance run.
	var checks []compliance.Check
	if e.checks != nil {
		checks = e.checks(req)
	}
	report := e.aggregator.Run(ctx, checks)
	_, failed, warnings := report.Counts()

	// Violation policy: blocking vs advisory. Fail-closed on policy error.
	var reasons []string
	outcome := OutcomeAllow
	if failed > 0 {
		blocks, perr := e.blocks(tier, env, controls, report)
		if perr != nil {
			e.logger.Error("violation policy error, failing closed",
				"agent_id", req.AgentID, "error", perr)
			blocks = true
			reasons = append(reasons, fmt.Sprintf("violation policy unavailable: %v", perr))
		}
		if blocks {
			outcome = OutcomeDeny
			reasons = append(reasons, fmt.Sprintf("%d compliance check(s) failed (score %.1f)", failed, report.Score))
		} else {
			outcome = OutcomeWarn
			reasons = append(reasons, fmt.Sprintf("%d compliance check(s) failed, advisory at %s in %s", failed, tier, env))
		}
	} else if warnings > 0 {
		outcome = OutcomeWarn
		reasons = append(reasons, fmt.Sprintf("%d compliance check(s) degraded to warning", warnings))
	}

	record, events, err := e.correlator.Commit(ctx, audit.Entry{
		Actor:            req.AgentID,
		Action:           req.ActionClass,
		WorkflowStep:     audit.StepPolicyEvaluation,
		JiraReference:    jiraRef,
		Inputs:           requestInputs(req),
		Outputs:          map[string]interface{}{"decision": string(outcome), "score": report.Score},
		Controls:         controls.Mitigations,
		ComplianceResult: string(report.OverallResult),
		Events: []audit.DerivedEvent{
			{Type: audit.EventTypeForStep(audit.StepPolicyEvaluation), Severity: siem.SeverityInfo},
			{Type: siem.EventComplianceCheck, Severity: complianceSeverity(outcome)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("governance commit: %w", err)
	}

	decision := &Decision{
		Decision:         outcome,
		Reasons:          reasons,
		AuditID:          record.AuditID,
		SiemEventIDs:     eventIDs(events),
		ComplianceReport: report,
	}
	if outcome == OutcomeDeny {
		return decision, nil
	}

	// The action proceeds, so its cost counts against the budget. Threshold
	// crossings emit their own correlated events through the monitor.
	if req.CostEstimate > 0 {
		if _, _, err := e.monitor.Apply(ctx, req.AgentID, req.CostEstimate); err != nil {
			e.logger.Error("budget apply failed after allow",
				"agent_id", req.AgentID, "audit_id", record.AuditID, "error", err)
			decision.Reasons = append(decision.Reasons,
				fmt.Sprintf("budget accounting degraded: %v", err))
		}
	}

	return decision, nil
}

// validate rejects malformed requests before anything governable happens.
func (e *Engine) validate(req ActionRequest) (tiers.RequiredControls, error) {
	if req.AgentID == "" {
		return tiers.RequiredControls{}, fmt.Errorf("%w: agent_id is required", ErrInvalidRequest)
	}
	if req.CostEstimate < 0 {
		return tiers.RequiredControls{}, fmt.Errorf("%w: cost_estimate must be >= 0, got %d",
			ErrInvalidRequest, req.CostEstimate)
	}
	controls, err := tiers.Evaluate(tiers.Tier(req.Tier), tiers.Environment(req.Environment),
		tiers.ActionClass(req.ActionClass))
	if err != nil {
		return tiers.RequiredControls{}, fmt.Errorf("%w: %s", ErrInvalidRequest, err)
	}
	return controls, nil
}

func (e *Engine) blocks(tier tiers.Tier, env tiers.Environment, controls tiers.RequiredControls, report *compliance.Report) (bool, error) {
	if e.policy == nil {
		return controls.BlockingViolations, nil
	}
	return e.policy.Blocks(tier, env, report)
}

// commitDenial writes the denial's audit record and SIEM event and returns
// the deny decision. The denial itself is a governed outcome: it must be
// auditable, so a failed audit write is still fatal.
func (e *Engine) commitDenial(ctx context.Context, req ActionRequest, jiraRef *siem.JiraReference,
	step string, eventType siem.EventType, severity siem.Severity, reasons []string) (*Decision, error) {
	record, events, err := e.correlator.Commit(ctx, audit.Entry{
		Actor:         req.AgentID,
		Action:        req.ActionClass,
		WorkflowStep:  step,
		JiraReference: jiraRef,
		Inputs:        requestInputs(req),
		Outputs:       map[string]interface{}{"decision": string(OutcomeDeny), "reasons": reasons},
		Events:        []audit.DerivedEvent{{Type: eventType, Severity: severity}},
	})
	if err != nil {
		return nil, fmt.Errorf("governance commit: %w", err)
	}
	return &Decision{
		Decision:     OutcomeDeny,
		Reasons:      reasons,
		AuditID:      record.AuditID,
		SiemEventIDs: eventIDs(events),
	}, nil
}

func jiraReference(crID string, cr *approval.ChangeRequest) *siem.JiraReference {
	if cr != nil {
		return &siem.JiraReference{CRID: cr.CRID, ApproverRole: cr.ApproverRole, Status: string(cr.Status)}
	}
	if crID != "" {
		return &siem.JiraReference{CRID: crID}
	}
	return nil
}

func requestInputs(req ActionRequest) map[string]interface{} {
	return map[string]interface{}{
		"agent_id":      req.AgentID,
		"tier":          req.Tier,
		"environment":   req.Environment,
		"action_class":  req.ActionClass,
		"cr_id":         req.CRID,
		"cost_estimate": req.CostEstimate,
	}
}

func complianceSeverity(outcome Outcome) siem.Severity {
	switch outcome {
	case OutcomeDeny:
		return siem.SeverityHigh
	case OutcomeWarn:
		return siem.SeverityMedium
	default:
		return siem.SeverityInfo
	}
}

func eventIDs(events []siem.Event) []string {
	ids := make([]string, 0, len(events))
	for _, ev := range events {
		ids = append(ids, ev.SiemEventID)
	}
	return ids
}
