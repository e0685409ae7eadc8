// Package approval implements the fail-closed approval gate over an
// external change-request tracker. Availability of the approval system is
// never substituted for approval itself: a tracker timeout or outage denies.
package approval

import "context"

// Status is the lifecycle state of a change request in the external tracker.
type Status string

const (
	StatusDraft    Status = "Draft"
	StatusPending  Status = "Pending"
	StatusApproved Status = "Approved"
	StatusRejected Status = "Rejected"
)

// ChangeRequest is a read-only view of an externally tracked approval
// record. The control plane never mutates it.
type ChangeRequest struct {
	CRID         string `json:"cr_id"`
	Status       Status `json:"status"`
	ApproverRole string `json:"approver_role"`
	Summary      string `json:"summary"`
}

// Tracker fetches change requests from the external system. Implementations
// must honor the context deadline; the gate treats any error as a denial.
type Tracker interface {
	GetChangeRequest(ctx context.Context, crID string) (*ChangeRequest, error)
}
