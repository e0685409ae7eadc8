package budget

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements Store in memory. The mutex makes every Apply one
// atomic read-modify-write, matching the contract the durable backends
// provide transactionally.
type MemoryStore struct {
	mu             sync.Mutex
	states         map[string]*State
	defaultDaily   int64
	defaultMonthly int64
	clock          func() time.Time
}

// NewMemoryStore creates a store with default limits applied to agents that
// have no explicit limits configured.
func NewMemoryStore(defaultDaily, defaultMonthly int64) *MemoryStore {
	return &MemoryStore{
		states:         make(map[string]*State),
		defaultDaily:   defaultDaily,
		defaultMonthly: defaultMonthly,
		clock:          time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (s *MemoryStore) WithClock(clock func() time.Time) *MemoryStore {
	s.clock = clock
	return s
}

// periodBounds returns the UTC daily period containing now.
func periodBounds(now time.Time) (time.Time, time.Time) {
	now = now.UTC()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 1)
}

// stateLocked returns the agent's state for the current period, creating or
// rolling it over as needed. Caller holds the mutex.
func (s *MemoryStore) stateLocked(agentID string) *State {
	now := s.clock()
	start, end := periodBounds(now)

	st, ok := s.states[agentID]
	if !ok {
		st = &State{
			AgentID:      agentID,
			PeriodStart:  start,
			PeriodEnd:    end,
			DailyLimit:   s.defaultDaily,
			MonthlyLimit: s.defaultMonthly,
			Breaker:      BreakerClosed,
		}
		s.states[agentID] = st
		return st
	}

	// Period rollover: the only path that resets cost and closes the
	// breaker automatically.
	if !now.UTC().Before(st.PeriodEnd) {
		st.PeriodStart = start
		st.PeriodEnd = end
		st.CumulativeCost = 0
		st.Breaker = BreakerClosed
	}
	return st
}

func (s *MemoryStore) Apply(ctx context.Context, agentID string, delta int64) (*State, Crossing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stateLocked(agentID)
	old := st.CumulativeCost
	st.CumulativeCost += delta

	crossing := crossings(old, st.CumulativeCost, st.EffectiveLimit())
	if st.CumulativeCost*100 >= st.EffectiveLimit()*BreakerThreshold && st.EffectiveLimit() > 0 {
		st.Breaker = BreakerOpen
	}

	snapshot := *st
	return &snapshot, crossing, nil
}

func (s *MemoryStore) Get(ctx context.Context, agentID string) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stateLocked(agentID)
	snapshot := *st
	return &snapshot, nil
}

func (s *MemoryStore) SetLimits(ctx context.Context, agentID string, daily, monthly int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stateLocked(agentID)
	st.DailyLimit = daily
	st.MonthlyLimit = monthly
	return nil
}

func (s *MemoryStore) Rollover(ctx context.Context, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stateLocked(agentID)
	start, end := periodBounds(s.clock())
	st.PeriodStart = start
	st.PeriodEnd = end
	st.CumulativeCost = 0
	st.Breaker = BreakerClosed
	return nil
}

func (s *MemoryStore) Reset(ctx context.Context, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stateLocked(agentID)
	st.Breaker = BreakerClosed
	return nil
}
