// Package tiers defines agent privilege tiers and the static policy table
// that maps (tier, environment, action class) to required controls.
// Tiers range from 1 (read-only) to 4 (architect).
package tiers

import (
	"errors"
	"fmt"
)

// Tier is an agent privilege level. The set is closed: valid tiers are 1-4.
type Tier int

const (
	TierReadOnly  Tier = 1
	TierDeveloper Tier = 2
	TierOperator  Tier = 3
	TierArchitect Tier = 4
)

// Environment identifies a deployment environment.
type Environment string

const (
	EnvDev     Environment = "dev"
	EnvStaging Environment = "staging"
	EnvProd    Environment = "prod"
)

// ActionClass categorizes what an agent action does.
type ActionClass string

const (
	ActionRead   ActionClass = "read"
	ActionWrite  ActionClass = "write"
	ActionDeploy ActionClass = "deploy"
	ActionAdmin  ActionClass = "admin"
)

var (
	ErrInvalidTier        = errors.New("invalid tier")
	ErrInvalidEnvironment = errors.New("invalid environment")
	ErrInvalidActionClass = errors.New("invalid action class")
)

// RequiredControls is the output of a policy evaluation: the mitigations and
// gates an action must satisfy before it may proceed.
type RequiredControls struct {
	Mitigations          []string `json:"mitigations"`
	RequiresApproval     bool     `json:"requires_approval"`
	RequiresThreatModel  bool     `json:"requires_threat_model"`
	RequiredApproverRole string   `json:"required_approver_role,omitempty"`
	// BlockingViolations controls whether a failed compliance report blocks
	// the action or is recorded as advisory only.
	BlockingViolations bool `json:"blocking_violations"`
}

// Control identifiers referenced in the policy table and audit records.
const (
	ControlBudget      = "GOV-BUDGET-001"
	ControlApproval    = "GOV-APPROVAL-001"
	ControlThreatModel = "GOV-TM-001"
	ControlReadOnly    = "GOV-RO-001"
	ControlAuditTrail  = "GOV-AUDIT-001"
)

// Approver roles required per tier for gated actions.
var approverRoles = map[Tier]string{
	TierOperator:  "Change Manager",
	TierArchitect: "CAB Chair",
}

var validEnvironments = map[Environment]bool{
	EnvDev:     true,
	EnvStaging: true,
	EnvProd:    true,
}

var validActionClasses = map[ActionClass]bool{
	ActionRead:   true,
	ActionWrite:  true,
	ActionDeploy: true,
	ActionAdmin:  true,
}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	return t >= TierReadOnly && t <= TierArchitect
}

func (t Tier) String() string {
	switch t {
	case TierReadOnly:
		return "tier-1"
	case TierDeveloper:
		return "tier-2"
	case TierOperator:
		return "tier-3"
	case TierArchitect:
		return "tier-4"
	default:
		return fmt.Sprintf("tier-%d", int(t))
	}
}

// ApproverRole returns the approver role required for gated actions at this
// tier, or "" when the tier never requires approval.
func (t Tier) ApproverRole() string {
	return approverRoles[t]
}

// Evaluate resolves the controls required for an action. It is a pure
// function over the static policy table and has no side effects.
//
// The gating law: approval is required iff tier >= 3 and the environment is
// not dev. Threat modelling follows the same boundary.
func Evaluate(tier Tier, env Environment, class ActionClass) (RequiredControls, error) {
	if !tier.Valid() {
		return RequiredControls{}, fmt.Errorf("%w: %d (valid: 1-4)", ErrInvalidTier, int(tier))
	}
	if !validEnvironments[env] {
		return RequiredControls{}, fmt.Errorf("%w: %q (valid: dev, staging, prod)", ErrInvalidEnvironment, env)
	}
	if !validActionClasses[class] {
		return RequiredControls{}, fmt.Errorf("%w: %q (valid: read, write, deploy, admin)", ErrInvalidActionClass, class)
	}

	rc := RequiredControls{
		Mitigations: []string{ControlAuditTrail},
	}

	switch tier {
	case TierReadOnly:
		// Tier 1 agents are read-only: no approval, no threat model.
		rc.Mitigations = append(rc.Mitigations, ControlReadOnly)
	case TierDeveloper:
		// Tier 2 is dev-scoped and carries the budget control.
		rc.Mitigations = append(rc.Mitigations, ControlBudget)
	case TierOperator, TierArchitect:
		rc.Mitigations = append(rc.Mitigations, ControlBudget)
		if env != EnvDev {
			rc.RequiresApproval = true
			rc.RequiresThreatModel = true
			rc.RequiredApproverRole = approverRoles[tier]
			rc.Mitigations = append(rc.Mitigations, ControlApproval, ControlThreatModel)
			// Failed compliance blocks high-tier actions outside dev.
			rc.BlockingViolations = true
		}
	}

	return rc, nil
}
