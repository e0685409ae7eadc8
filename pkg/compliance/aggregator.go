package compliance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Probe is the capability a check wraps: an idempotent, read-only predicate
// against external state.
type Probe func(ctx context.Context) (Status, string, string, error)

// Check is one named compliance check.
type Check struct {
	ControlID string
	Name      string
	Probe     Probe
}

// Aggregator executes an ordered set of checks sequentially, each wrapped
// with its own timeout, and scores the resulting report.
type Aggregator struct {
	checkTimeout time.Duration
	clock        func() time.Time
	logger       *slog.Logger
}

// NewAggregator creates an aggregator. checkTimeout bounds every individual
// check; zero means a 10 second default.
func NewAggregator(checkTimeout time.Duration) *Aggregator {
	if checkTimeout <= 0 {
		checkTimeout = 10 * time.Second
	}
	return &Aggregator{
		checkTimeout: checkTimeout,
		clock:        time.Now,
		logger:       slog.Default().With("component", "compliance"),
	}
}

// WithClock overrides the clock for deterministic testing.
func (a *Aggregator) WithClock(clock func() time.Time) *Aggregator {
	a.clock = clock
	return a
}

// Run executes the checks in order and returns the scored report. A check
// that times out, errors, or panics is recorded as a warning with
// "check aborted: <cause>" details; it never aborts the run.
func (a *Aggregator) Run(ctx context.Context, checks []Check) *Report {
	results := make([]CheckResult, 0, len(checks))
	for _, check := range checks {
		results = append(results, a.runOne(ctx, check))
	}

	report := &Report{
		ReportID:    uuid.New().String(),
		GeneratedAt: a.clock().UTC(),
		Checks:      results,
	}
	passed, failed, warnings := report.Counts()
	report.Score = Score(passed, failed, warnings)
	report.OverallResult = ResultPass
	if failed > 0 {
		report.OverallResult = ResultFail
	}
	return report
}

func (a *Aggregator) runOne(ctx context.Context, check Check) (result CheckResult) {
	result = CheckResult{
		ControlID: check.ControlID,
		CheckName: check.Name,
	}

	checkCtx, cancel := context.WithTimeout(ctx, a.checkTimeout)
	defer cancel()

	type outcome struct {
		status      Status
		details     string
		resourceRef string
		err         error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		status, details, ref, err := check.Probe(checkCtx)
		done <- outcome{status, details, ref, err}
	}()

	select {
	case <-checkCtx.Done():
		a.logger.Warn("check aborted", "check", check.Name, "cause", checkCtx.Err())
		result.Status = StatusWarning
		result.Details = fmt.Sprintf("check aborted: %v", checkCtx.Err())
	case out := <-done:
		if out.err != nil {
			a.logger.Warn("check aborted", "check", check.Name, "cause", out.err)
			result.Status = StatusWarning
			result.Details = fmt.Sprintf("check aborted: %v", out.err)
			result.ResourceRef = out.resourceRef
			return
		}
		result.Status = out.status
		result.Details = out.details
		result.ResourceRef = out.resourceRef
	}
	return
}
