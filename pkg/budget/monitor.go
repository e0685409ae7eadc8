package budget

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aegis-labs/govern/pkg/siem"
)

// Alerter receives budget SIEM events. The correlator implements this; the
// indirection keeps the budget package free of audit-store wiring.
type Alerter interface {
	EmitBudgetEvent(ctx context.Context, agentID string, eventType siem.EventType, severity siem.Severity, payload map[string]interface{}) error
}

// Monitor applies cost deltas through a Store and turns threshold crossings
// into SIEM events. It also hosts the cross-cutting veto: once an agent's
// breaker is open, Allow denies everything for that agent until rollover.
type Monitor struct {
	store   Store
	alerter Alerter
	logger  *slog.Logger
}

// NewMonitor creates a monitor. alerter may be nil (events are dropped with
// a log line; the spend accounting itself never depends on alert delivery).
func NewMonitor(store Store, alerter Alerter) *Monitor {
	return &Monitor{
		store:   store,
		alerter: alerter,
		logger:  slog.Default().With("component", "budget"),
	}
}

// Allow is the breaker veto. It overrides any allow the rest of the
// decision pipeline would produce.
func (m *Monitor) Allow(ctx context.Context, agentID string) error {
	st, err := m.store.Get(ctx, agentID)
	if err != nil {
		// Fail closed: unknown budget state is not permission.
		return fmt.Errorf("budget state unavailable: %w", err)
	}
	if st.Breaker == BreakerOpen {
		return ErrBreakerOpen
	}
	return nil
}

// Apply records a cost delta and emits one SIEM event per threshold crossed:
// informational at 50%, warning at 75%, critical at 90% where the breaker
// latches open.
func (m *Monitor) Apply(ctx context.Context, agentID string, delta int64) (*State, Crossing, error) {
	st, crossing, err := m.store.Apply(ctx, agentID, delta)
	if err != nil {
		return nil, Crossing{}, fmt.Errorf("apply cost delta: %w", err)
	}

	for _, pct := range crossing.Percents {
		eventType := siem.EventBudgetThreshold
		severity := siem.SeverityInfo
		switch pct {
		case 75:
			severity = siem.SeverityMedium
		case BreakerThreshold:
			eventType = siem.EventBudgetBreaker
			severity = siem.SeverityCritical
		}

		payload := map[string]interface{}{
			"agent_id":        agentID,
			"threshold_pct":   pct,
			"cumulative_cost": st.CumulativeCost,
			"effective_limit": st.EffectiveLimit(),
			"breaker":         string(st.Breaker),
		}
		if m.alerter == nil {
			m.logger.Warn("budget threshold crossed, no alerter configured",
				"agent_id", agentID, "threshold_pct", pct)
			continue
		}
		if err := m.alerter.EmitBudgetEvent(ctx, agentID, eventType, severity, payload); err != nil {
			// Alert delivery failure must not unwind the spend accounting.
			m.logger.Error("budget event emission failed",
				"agent_id", agentID, "threshold_pct", pct, "error", err)
		}
	}

	return st, crossing, nil
}

// SetLimits, Rollover, and Reset pass through to the store.

func (m *Monitor) SetLimits(ctx context.Context, agentID string, daily, monthly int64) error {
	return m.store.SetLimits(ctx, agentID, daily, monthly)
}

func (m *Monitor) Rollover(ctx context.Context, agentID string) error {
	return m.store.Rollover(ctx, agentID)
}

func (m *Monitor) Reset(ctx context.Context, agentID string) error {
	return m.store.Reset(ctx, agentID)
}

// State returns the agent's current budget state.
func (m *Monitor) State(ctx context.Context, agentID string) (*State, error) {
	return m.store.Get(ctx, agentID)
}
