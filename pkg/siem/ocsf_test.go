package siem_test

import (
	"testing"

	"github.com/aegis-labs/govern/pkg/siem"
	"github.com/stretchr/testify/assert"
)

func TestMapKnownTypes(t *testing.T) {
	cases := []struct {
		eventType siem.EventType
		severity  siem.Severity
		want      siem.OCSFMapping
	}{
		{siem.EventComplianceCheck, siem.SeverityInfo, siem.OCSFMapping{CategoryUID: 2, ClassUID: 2001, SeverityID: 1}},
		{siem.EventSecurityFinding, siem.SeverityHigh, siem.OCSFMapping{CategoryUID: 2, ClassUID: 2004, SeverityID: 4}},
		{siem.EventIAMChange, siem.SeverityMedium, siem.OCSFMapping{CategoryUID: 3, ClassUID: 3005, SeverityID: 3}},
		{siem.EventAuthentication, siem.SeverityLow, siem.OCSFMapping{CategoryUID: 3, ClassUID: 3001, SeverityID: 2}},
		{siem.EventAPICall, siem.SeverityInfo, siem.OCSFMapping{CategoryUID: 6, ClassUID: 6003, SeverityID: 1}},
		{siem.EventBudgetBreaker, siem.SeverityCritical, siem.OCSFMapping{CategoryUID: 2, ClassUID: 2004, SeverityID: 5}},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, siem.Map(tc.eventType, tc.severity), "%s/%s", tc.eventType, tc.severity)
	}
}

func TestMapUnknownFallsBack(t *testing.T) {
	m := siem.Map("mystery_event", "shrug")
	assert.Equal(t, siem.OCSFMapping{CategoryUID: 6, ClassUID: 6003, SeverityID: 1}, m)
}

func TestEscalateCeiling(t *testing.T) {
	m := siem.Map(siem.EventComplianceCheck, siem.SeverityMedium)
	assert.Equal(t, 4, siem.Escalate(m).SeverityID)

	m = siem.Map(siem.EventComplianceCheck, siem.SeverityCritical)
	assert.Equal(t, 5, siem.Escalate(m).SeverityID, "severity must cap at 5")
}
