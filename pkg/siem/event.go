// Package siem defines the SIEM event schema and the fixed OCSF taxonomy
// used to normalize governance events for downstream security tooling.
package siem

import "time"

// JiraReference carries the change-request linkage into SIEM events.
// Field names are a wire contract shared with the audit store.
type JiraReference struct {
	CRID         string `json:"cr_id,omitempty"`
	ApproverRole string `json:"approver_role,omitempty"`
	Status       string `json:"status,omitempty"`
}

// OCSFMapping places an event in the Open Cybersecurity Schema Framework
// taxonomy. category_uid is 1-6, severity_id is 1-5.
type OCSFMapping struct {
	CategoryUID int `json:"category_uid"`
	ClassUID    int `json:"class_uid"`
	SeverityID  int `json:"severity_id"`
}

// Event is one normalized SIEM record.
//
// SiemEventID equals the audit_id of the audit record it correlates with.
// That string equality is the sole correlation mechanism between the two
// stores; joiners must never rely on timestamp proximity.
type Event struct {
	SiemEventID      string                 `json:"siem_event_id"`
	Timestamp        time.Time              `json:"timestamp"`
	Source           string                 `json:"source"`
	OCSFMapping      OCSFMapping            `json:"ocsf_mapping"`
	Payload          map[string]interface{} `json:"payload"`
	ComplianceResult string                 `json:"compliance_result,omitempty"`
	JiraReference    *JiraReference         `json:"jira_reference,omitempty"`
}
