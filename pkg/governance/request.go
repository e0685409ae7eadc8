// Package governance is the decision engine: it runs an action request
// through policy evaluation, the approval gate, compliance checks, audit
// correlation, and the budget breaker, and returns the final decision with
// its evidence.
package governance

import (
	"errors"

	"github.com/aegis-labs/govern/pkg/compliance"
)

// ErrInvalidRequest marks a request that is malformed before anything
// governable occurred. No audit record is produced for these.
var ErrInvalidRequest = errors.New("invalid request")

// ActionRequest is the caller's submission. CostEstimate is in cents.
type ActionRequest struct {
	AgentID      string `json:"agent_id"`
	Tier         int    `json:"tier"`
	Environment  string `json:"environment"`
	ActionClass  string `json:"action_class"`
	CRID         string `json:"cr_id,omitempty"`
	CostEstimate int64  `json:"cost_estimate"`
}

// Outcome is the final verdict for an action request.
type Outcome string

const (
	OutcomeAllow Outcome = "allow"
	OutcomeDeny  Outcome = "deny"
	OutcomeWarn  Outcome = "warn"
)

// Decision is the engine's response. Reasons are sufficient to reproduce
// the decision without access to internal state.
type Decision struct {
	Decision         Outcome            `json:"decision"`
	Reasons          []string           `json:"reasons"`
	AuditID          string             `json:"audit_id,omitempty"`
	SiemEventIDs     []string           `json:"siem_event_ids,omitempty"`
	ComplianceReport *compliance.Report `json:"compliance_report,omitempty"`
}
