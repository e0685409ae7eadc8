package budget_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aegis-labs/govern/pkg/budget"
	"github.com/aegis-labs/govern/pkg/siem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedEvent struct {
	agentID   string
	eventType siem.EventType
	severity  siem.Severity
	payload   map[string]interface{}
}

type captureAlerter struct {
	mu     sync.Mutex
	events []capturedEvent
}

func (c *captureAlerter) EmitBudgetEvent(ctx context.Context, agentID string, eventType siem.EventType, severity siem.Severity, payload map[string]interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, capturedEvent{agentID, eventType, severity, payload})
	return nil
}

func fixedClock() func() time.Time {
	t0 := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	return func() time.Time { return t0 }
}

func TestBreakerTripsAtNinetyPercent(t *testing.T) {
	// daily_limit=100 (10000 cents), cumulative 89 then +2 → 91, crosses 90%.
	store := budget.NewMemoryStore(10_000, 500_000).WithClock(fixedClock())
	alerter := &captureAlerter{}
	monitor := budget.NewMonitor(store, alerter)
	ctx := context.Background()

	st, crossing, err := monitor.Apply(ctx, "agent-1", 8_900)
	require.NoError(t, err)
	assert.Equal(t, budget.BreakerClosed, st.Breaker)
	assert.Equal(t, []int{50, 75}, crossing.Percents)

	st, crossing, err = monitor.Apply(ctx, "agent-1", 200)
	require.NoError(t, err)
	assert.Equal(t, int64(9_100), st.CumulativeCost)
	assert.Equal(t, budget.BreakerOpen, st.Breaker)
	assert.True(t, crossing.BreakerOpened)

	last := alerter.events[len(alerter.events)-1]
	assert.Equal(t, siem.EventBudgetBreaker, last.eventType)
	assert.Equal(t, siem.SeverityCritical, last.severity)
	assert.Equal(t, 5, siem.Map(last.eventType, last.severity).SeverityID)
}

func TestExactBoundaryTrips(t *testing.T) {
	// Cost landing exactly on 90.000% must open the breaker.
	store := budget.NewMemoryStore(10_000, 500_000).WithClock(fixedClock())
	monitor := budget.NewMonitor(store, nil)

	st, crossing, err := monitor.Apply(context.Background(), "agent-1", 9_000)
	require.NoError(t, err)
	assert.Equal(t, budget.BreakerOpen, st.Breaker)
	assert.True(t, crossing.BreakerOpened)
}

func TestAllowVetoOnceOpen(t *testing.T) {
	store := budget.NewMemoryStore(10_000, 500_000).WithClock(fixedClock())
	monitor := budget.NewMonitor(store, nil)
	ctx := context.Background()

	require.NoError(t, monitor.Allow(ctx, "agent-1"))

	_, _, err := monitor.Apply(ctx, "agent-1", 9_500)
	require.NoError(t, err)

	assert.ErrorIs(t, monitor.Allow(ctx, "agent-1"), budget.ErrBreakerOpen)
}

func TestBreakerIrreversibleWithinPeriod(t *testing.T) {
	store := budget.NewMemoryStore(10_000, 500_000).WithClock(fixedClock())
	monitor := budget.NewMonitor(store, nil)
	ctx := context.Background()

	_, _, err := monitor.Apply(ctx, "agent-1", 9_500)
	require.NoError(t, err)

	// No sequence of further spend closes it.
	for i := 0; i < 5; i++ {
		st, _, err := monitor.Apply(ctx, "agent-1", 10)
		require.NoError(t, err)
		assert.Equal(t, budget.BreakerOpen, st.Breaker)
	}
	assert.ErrorIs(t, monitor.Allow(ctx, "agent-1"), budget.ErrBreakerOpen)
}

func TestManualResetAndRollover(t *testing.T) {
	store := budget.NewMemoryStore(10_000, 500_000).WithClock(fixedClock())
	monitor := budget.NewMonitor(store, nil)
	ctx := context.Background()

	_, _, err := monitor.Apply(ctx, "agent-1", 9_500)
	require.NoError(t, err)

	require.NoError(t, monitor.Reset(ctx, "agent-1"))
	require.NoError(t, monitor.Allow(ctx, "agent-1"))

	st, err := monitor.State(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, int64(9_500), st.CumulativeCost, "reset closes the breaker but keeps spend")

	require.NoError(t, monitor.Rollover(ctx, "agent-1"))
	st, err = monitor.State(ctx, "agent-1")
	require.NoError(t, err)
	assert.Zero(t, st.CumulativeCost)
	assert.Equal(t, budget.BreakerClosed, st.Breaker)
}

func TestPeriodRolloverResetsAutomatically(t *testing.T) {
	now := time.Date(2025, 6, 15, 23, 0, 0, 0, time.UTC)
	store := budget.NewMemoryStore(10_000, 500_000).WithClock(func() time.Time { return now })
	monitor := budget.NewMonitor(store, nil)
	ctx := context.Background()

	_, _, err := monitor.Apply(ctx, "agent-1", 9_500)
	require.NoError(t, err)
	assert.ErrorIs(t, monitor.Allow(ctx, "agent-1"), budget.ErrBreakerOpen)

	// Next UTC day: new period, breaker closes, cost resets.
	now = now.Add(2 * time.Hour)
	require.NoError(t, monitor.Allow(ctx, "agent-1"))
	st, err := monitor.State(ctx, "agent-1")
	require.NoError(t, err)
	assert.Zero(t, st.CumulativeCost)
}

func TestEffectiveLimitUsesSmaller(t *testing.T) {
	store := budget.NewMemoryStore(0, 0).WithClock(fixedClock())
	monitor := budget.NewMonitor(store, nil)
	ctx := context.Background()

	// June has 30 days, so 240_000 monthly prorates to 8_000 per day,
	// undercutting the 50_000 daily limit.
	require.NoError(t, monitor.SetLimits(ctx, "agent-1", 50_000, 240_000))

	st, _, err := monitor.Apply(ctx, "agent-1", 7_500)
	require.NoError(t, err)
	assert.Equal(t, int64(8_000), st.EffectiveLimit())
	assert.Equal(t, budget.BreakerOpen, st.Breaker, "93.75% of the prorated monthly limit")
}

func TestZeroMonthlyLimitIsAbsent(t *testing.T) {
	store := budget.NewMemoryStore(0, 0).WithClock(fixedClock())
	monitor := budget.NewMonitor(store, nil)
	ctx := context.Background()

	require.NoError(t, monitor.SetLimits(ctx, "agent-1", 10_000, 0))

	st, _, err := monitor.Apply(ctx, "agent-1", 9_500)
	require.NoError(t, err)
	assert.Equal(t, int64(10_000), st.EffectiveLimit())
	assert.Equal(t, budget.BreakerOpen, st.Breaker, "daily limit still latches when monthly is unset")
}

func TestThresholdEventsFireOncePerEdge(t *testing.T) {
	store := budget.NewMemoryStore(10_000, 500_000).WithClock(fixedClock())
	alerter := &captureAlerter{}
	monitor := budget.NewMonitor(store, alerter)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		_, _, err := monitor.Apply(ctx, "agent-1", 1_000) // 10% steps
		require.NoError(t, err)
	}

	// Only the 50% edge has been crossed.
	require.Len(t, alerter.events, 1)
	assert.Equal(t, siem.EventBudgetThreshold, alerter.events[0].eventType)
	assert.Equal(t, siem.SeverityInfo, alerter.events[0].severity)
}

func TestConcurrentApplyLosesNoUpdates(t *testing.T) {
	store := budget.NewMemoryStore(1_000_000_000, 1_000_000_000).WithClock(fixedClock())
	monitor := budget.NewMonitor(store, nil)
	ctx := context.Background()

	const workers = 50
	const perWorker = 40
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_, _, err := monitor.Apply(ctx, "agent-1", 7)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	st, err := monitor.State(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, int64(workers*perWorker*7), st.CumulativeCost,
		"final cumulative cost must equal the exact sum of all deltas")
}

func TestConcurrentBreakerLatchIsSingleTransition(t *testing.T) {
	store := budget.NewMemoryStore(10_000, 500_000).WithClock(fixedClock())
	monitor := budget.NewMonitor(store, nil)
	ctx := context.Background()

	var opened int64
	var mu sync.Mutex
	var wg sync.WaitGroup
	for w := 0; w < 30; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, crossing, err := monitor.Apply(ctx, "agent-1", 400)
			assert.NoError(t, err)
			if crossing.BreakerOpened {
				mu.Lock()
				opened++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), opened, "exactly one caller observes the closed→open edge")
}
