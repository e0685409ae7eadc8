package siem

// EventType names a governance event for OCSF normalization.
type EventType string

const (
	EventComplianceCheck EventType = "compliance_check"
	EventSecurityFinding EventType = "security_finding"
	EventIAMChange       EventType = "iam_change"
	EventAPICall         EventType = "api_call"
	EventAuthentication  EventType = "authentication"
	EventResourceAccess  EventType = "resource_access"
	EventBudgetThreshold EventType = "budget_threshold"
	EventBudgetBreaker   EventType = "budget_breaker"
	EventApprovalDenied  EventType = "approval_denied"
)

// Severity levels in OCSF order.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// OCSF category UIDs.
const (
	CategorySystem      = 1
	CategoryFindings    = 2
	CategoryIAM         = 3
	CategoryNetwork     = 4
	CategoryDiscovery   = 5
	CategoryApplication = 6
)

// OCSF class UIDs (subset used by the control plane).
const (
	ClassAuthentication    = 3001
	ClassAccountChange     = 3005
	ClassComplianceFinding = 2001
	ClassDetectionFinding  = 2004
	ClassAPIActivity       = 6003
	ClassWebActivity       = 6004
)

var severityIDs = map[Severity]int{
	SeverityInfo:     1,
	SeverityLow:      2,
	SeverityMedium:   3,
	SeverityHigh:     4,
	SeverityCritical: 5,
}

var eventTaxonomy = map[EventType]struct{ category, class int }{
	EventComplianceCheck: {CategoryFindings, ClassComplianceFinding},
	EventSecurityFinding: {CategoryFindings, ClassDetectionFinding},
	EventIAMChange:       {CategoryIAM, ClassAccountChange},
	EventAPICall:         {CategoryApplication, ClassAPIActivity},
	EventAuthentication:  {CategoryIAM, ClassAuthentication},
	EventResourceAccess:  {CategoryApplication, ClassAPIActivity},
	EventBudgetThreshold: {CategoryFindings, ClassDetectionFinding},
	EventBudgetBreaker:   {CategoryFindings, ClassDetectionFinding},
	EventApprovalDenied:  {CategoryIAM, ClassAccountChange},
}

// Map resolves an event type and severity to its OCSF placement. Unknown
// event types fall back to api_call semantics; unknown severities map to
// informational, matching the original emitter's tolerant behavior.
func Map(eventType EventType, severity Severity) OCSFMapping {
	tax, ok := eventTaxonomy[eventType]
	if !ok {
		tax = eventTaxonomy[EventAPICall]
	}
	sev, ok := severityIDs[severity]
	if !ok {
		sev = 1
	}
	return OCSFMapping{
		CategoryUID: tax.category,
		ClassUID:    tax.class,
		SeverityID:  sev,
	}
}

// Escalate bumps the severity by one level when the correlated compliance
// result is a failure. Floor 1, ceiling 5.
func Escalate(m OCSFMapping) OCSFMapping {
	m.SeverityID++
	if m.SeverityID < 1 {
		m.SeverityID = 1
	}
	if m.SeverityID > 5 {
		m.SeverityID = 5
	}
	return m
}
