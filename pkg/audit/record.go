// Package audit produces correlated, hashed, immutable audit and SIEM
// records. One correlator instance serves the whole control plane so the
// correlation invariant (siem_event_id == audit_id) holds everywhere.
package audit

import (
	"time"

	"github.com/aegis-labs/govern/pkg/siem"
)

// Record is one immutable audit record. Field names are a bit-exact wire
// contract; they are consumed by external SIEM joiners and dashboards.
type Record struct {
	AuditID               string                 `json:"audit_id"`
	Timestamp             time.Time              `json:"timestamp"`
	Actor                 string                 `json:"actor"`
	Action                string                 `json:"action"`
	WorkflowStep          string                 `json:"workflow_step"`
	JiraReference         *siem.JiraReference    `json:"jira_reference,omitempty"`
	Inputs                map[string]interface{} `json:"inputs,omitempty"`
	Outputs               map[string]interface{} `json:"outputs,omitempty"`
	PolicyControlsChecked []string               `json:"policy_controls_checked,omitempty"`
	ComplianceResult      string                 `json:"compliance_result,omitempty"`
	EvidenceHash          string                 `json:"evidence_hash"`
	AuditorAgent          string                 `json:"auditor_agent"`
}

// Workflow steps recorded by the control plane.
const (
	StepPolicyEvaluation = "policy_evaluation"
	StepApprovalGate     = "approval_gate"
	StepComplianceCheck  = "compliance_check"
	StepActionExecution  = "action_execution"
	StepBudgetMonitor    = "budget_monitor"
)

// stepEventTypes is the fixed (workflow_step) → OCSF event-type table used
// when the caller does not name an event type explicitly.
var stepEventTypes = map[string]siem.EventType{
	StepPolicyEvaluation: siem.EventAPICall,
	StepApprovalGate:     siem.EventIAMChange,
	StepComplianceCheck:  siem.EventComplianceCheck,
	StepActionExecution:  siem.EventResourceAccess,
	StepBudgetMonitor:    siem.EventBudgetThreshold,
}

// EventTypeForStep resolves the default event type for a workflow step.
func EventTypeForStep(step string) siem.EventType {
	if t, ok := stepEventTypes[step]; ok {
		return t
	}
	return siem.EventAPICall
}
