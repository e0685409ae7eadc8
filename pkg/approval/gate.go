package approval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aegis-labs/govern/pkg/tiers"
)

// ReasonUnavailable is the reason reported whenever the approval source
// cannot be consulted. The wording is a contract with downstream tooling.
const ReasonUnavailable = "approval source unavailable"

// Result is the gate's verdict. Reasons are human-readable and sufficient
// to reproduce the decision without consulting internal state.
type Result struct {
	Allowed bool           `json:"allowed"`
	Reasons []string       `json:"reasons,omitempty"`
	CR      *ChangeRequest `json:"change_request,omitempty"`
}

// Gate validates change-request approval for gated actions.
type Gate struct {
	tracker Tracker
	logger  *slog.Logger
}

// NewGate creates a gate over the given tracker.
func NewGate(tracker Tracker) *Gate {
	return &Gate{
		tracker: tracker,
		logger:  slog.Default().With("component", "approval"),
	}
}

func denied(reasons ...string) Result {
	return Result{Allowed: false, Reasons: reasons}
}

// Validate checks that the referenced change request authorizes the acting
// agent. When the controls do not require approval it allows immediately.
//
// Every other path is fail-closed: a missing CR, wrong status, approver role
// mismatch, missing agent reference, or an unreachable tracker all deny.
func (g *Gate) Validate(ctx context.Context, controls tiers.RequiredControls, crID, agentID string) Result {
	if !controls.RequiresApproval {
		return Result{Allowed: true}
	}

	if crID == "" {
		return denied("approval required but no change request referenced")
	}

	cr, err := g.tracker.GetChangeRequest(ctx, crID)
	if err != nil {
		g.logger.Warn("tracker unreachable, failing closed", "cr_id", crID, "error", err)
		return denied(ReasonUnavailable)
	}
	if cr == nil {
		return denied(fmt.Sprintf("%s not found in tracker", crID))
	}

	if cr.Status != StatusApproved {
		return denied(fmt.Sprintf("%s not approved (status=%s)", cr.CRID, cr.Status))
	}

	if cr.ApproverRole == "" {
		return denied(fmt.Sprintf("%s has no approver role recorded", cr.CRID))
	}
	if !roleMatches(cr.ApproverRole, controls.RequiredApproverRole) {
		return denied(fmt.Sprintf("%s approver role %q does not satisfy required role %q",
			cr.CRID, cr.ApproverRole, controls.RequiredApproverRole))
	}

	if agentID != "" && !strings.Contains(strings.ToLower(cr.Summary), strings.ToLower(agentID)) {
		return denied(fmt.Sprintf("%s does not reference acting agent %q", cr.CRID, agentID))
	}

	return Result{Allowed: true, CR: cr}
}

// roleMatches tolerates the varied role representations trackers expose:
// case-insensitive, substring in either direction.
func roleMatches(got, required string) bool {
	if required == "" {
		return true
	}
	g, r := strings.ToLower(got), strings.ToLower(required)
	return strings.Contains(g, r) || strings.Contains(r, g)
}
