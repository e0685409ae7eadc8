// Package compliance runs named governance checks and aggregates their
// results into a scored report. A single misbehaving check degrades the
// report, never the pipeline.
package compliance

import (
	"math"
	"time"
)

// Status is the outcome of one check.
type Status string

const (
	StatusPass    Status = "pass"
	StatusFail    Status = "fail"
	StatusWarning Status = "warning"
)

// OverallResult is the report-level verdict.
type OverallResult string

const (
	ResultPass OverallResult = "pass"
	ResultFail OverallResult = "fail"
)

// CheckResult is one check's outcome. Created fresh per aggregator run and
// never mutated afterwards.
type CheckResult struct {
	ControlID   string `json:"control_id"`
	CheckName   string `json:"check_name"`
	Status      Status `json:"status"`
	Details     string `json:"details,omitempty"`
	ResourceRef string `json:"resource_ref,omitempty"`
}

// Report aggregates the results of one compliance run.
//
// Score = passed / (passed+failed+warnings) * 100, rounded to one decimal.
// OverallResult is fail iff any check failed; warnings lower the score but
// never force failure.
type Report struct {
	ReportID      string        `json:"report_id"`
	GeneratedAt   time.Time     `json:"generated_at"`
	Checks        []CheckResult `json:"checks"`
	Score         float64       `json:"score"`
	OverallResult OverallResult `json:"overall_result"`
}

// Counts returns the pass/fail/warning tallies.
func (r *Report) Counts() (passed, failed, warnings int) {
	for _, c := range r.Checks {
		switch c.Status {
		case StatusPass:
			passed++
		case StatusFail:
			failed++
		case StatusWarning:
			warnings++
		}
	}
	return
}

// Score computes the report score for the given tallies. Pure and
// deterministic; an empty run scores 0.
func Score(passed, failed, warnings int) float64 {
	total := passed + failed + warnings
	if total == 0 {
		return 0
	}
	raw := float64(passed) / float64(total) * 100
	return math.Round(raw*10) / 10
}
