// Package budget tracks per-agent cumulative spend and enforces the cost
// circuit breaker. All amounts are integer cents; threshold comparisons are
// integer arithmetic so boundary behavior is exact, never floating point.
package budget

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrBreakerOpen is returned for any request once the agent's breaker
	// has opened within the current period.
	ErrBreakerOpen = errors.New("budget circuit breaker open")

	ErrUnknownAgent = errors.New("no budget state for agent")
)

// BreakerState is the circuit breaker latch. The only transition within a
// period is closed → open; reopening requires rollover or an explicit reset.
type BreakerState string

const (
	BreakerClosed BreakerState = "closed"
	BreakerOpen   BreakerState = "open"
)

// Thresholds evaluated on every spend application, in percent of the
// effective limit. Crossing 90 opens the breaker.
var Thresholds = []int{50, 75, 90}

// BreakerThreshold is the percentage at which the breaker latches open.
const BreakerThreshold = 90

// State is the per-agent, per-period budget state: the one long-lived
// mutable entity in the control plane.
type State struct {
	AgentID        string       `json:"agent_id"`
	PeriodStart    time.Time    `json:"period_start"`
	PeriodEnd      time.Time    `json:"period_end"`
	DailyLimit     int64        `json:"daily_limit"`
	MonthlyLimit   int64        `json:"monthly_limit"`
	CumulativeCost int64        `json:"cumulative_cost"`
	Breaker        BreakerState `json:"breaker"`
}

// EffectiveLimit is the threshold base for the current period: the smaller
// of the daily limit and the monthly limit prorated to one day of the
// period's month. A zero limit is absent, not a cap of zero; a nonzero
// monthly limit never prorates below one cent.
func (s *State) EffectiveLimit() int64 {
	var monthly int64
	if s.MonthlyLimit > 0 {
		monthly = s.MonthlyLimit / daysInMonth(s.PeriodStart)
		if monthly < 1 {
			monthly = 1
		}
	}
	if monthly > 0 && (s.DailyLimit <= 0 || monthly < s.DailyLimit) {
		return monthly
	}
	return s.DailyLimit
}

// daysInMonth returns the number of days in the UTC month containing t.
func daysInMonth(t time.Time) int64 {
	t = t.UTC()
	return int64(time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day())
}

// Crossing reports which thresholds a single spend application crossed.
type Crossing struct {
	// Percents lists the threshold edges crossed by this delta, ascending.
	Percents []int
	// BreakerOpened is true iff this application latched the breaker.
	BreakerOpened bool
}

// crossings computes threshold edges between the old and updated cumulative
// cost. A threshold is crossed when old was strictly below it and updated is
// at or above it; a cost landing exactly on the boundary crosses.
func crossings(old, updated, limit int64) Crossing {
	var c Crossing
	if limit <= 0 {
		return c
	}
	for _, pct := range Thresholds {
		if old*100 < limit*int64(pct) && updated*100 >= limit*int64(pct) {
			c.Percents = append(c.Percents, pct)
			if pct == BreakerThreshold {
				c.BreakerOpened = true
			}
		}
	}
	return c
}

// Store is the pluggable budget state store. Apply must be one atomic
// read-modify-write: concurrent deltas are never lost, and the breaker
// transition is atomic with the threshold check that triggers it.
type Store interface {
	// Apply adds delta to the agent's cumulative cost and returns the
	// post-application state plus the thresholds this delta crossed.
	Apply(ctx context.Context, agentID string, delta int64) (*State, Crossing, error)

	// Get returns the agent's current state without modifying it.
	Get(ctx context.Context, agentID string) (*State, error)

	// SetLimits configures the agent's limits (cents).
	SetLimits(ctx context.Context, agentID string, daily, monthly int64) error

	// Rollover starts a new period: cumulative cost resets to zero and the
	// breaker closes.
	Rollover(ctx context.Context, agentID string) error

	// Reset is the manual administrative breaker reset.
	Reset(ctx context.Context, agentID string) error
}
