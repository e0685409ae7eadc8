package budget

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// applyScript performs the cumulative-cost increment, threshold detection,
// and breaker latch as one atomic Redis operation. Running it as a single
// Lua script is what makes two concurrent callers unable to both observe
// "closed" and slip past the 90% boundary.
//
// KEYS[1] = budget key (budget:<agent>:<period>)
// ARGV[1] = cost delta (cents)
// ARGV[2] = effective limit (cents)
// Returns {cumulative, breaker, crossed50, crossed75, crossed90}
var applyScript = redis.NewScript(`
local key = KEYS[1]
local delta = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])

local old = tonumber(redis.call("HGET", key, "cumulative") or "0")
local breaker = redis.call("HGET", key, "breaker") or "closed"
local cum = old + delta
redis.call("HSET", key, "cumulative", cum)

local crossed = {0, 0, 0}
local pcts = {50, 75, 90}
if limit > 0 then
    for i, pct in ipairs(pcts) do
        if old * 100 < limit * pct and cum * 100 >= limit * pct then
            crossed[i] = 1
        end
    end
    if cum * 100 >= limit * 90 then
        breaker = "open"
        redis.call("HSET", key, "breaker", breaker)
    end
end

-- Expire two periods out so stale agents self-clean.
redis.call("EXPIRE", key, 172800)

return {cum, breaker, crossed[1], crossed[2], crossed[3]}
`)

// RedisStore implements Store on Redis. Limits live in a plain hash; spend
// application goes through applyScript so the read-modify-write is atomic
// across any number of control-plane instances.
type RedisStore struct {
	client         *redis.Client
	defaultDaily   int64
	defaultMonthly int64
	clock          func() time.Time
}

// NewRedisStore creates a store against the given Redis address.
func NewRedisStore(addr, password string, db int, defaultDaily, defaultMonthly int64) *RedisStore {
	return &RedisStore{
		client:         redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}),
		defaultDaily:   defaultDaily,
		defaultMonthly: defaultMonthly,
		clock:          time.Now,
	}
}

// NewRedisStoreWithClient wraps an existing client (used by tests).
func NewRedisStoreWithClient(client *redis.Client, defaultDaily, defaultMonthly int64) *RedisStore {
	return &RedisStore{
		client:         client,
		defaultDaily:   defaultDaily,
		defaultMonthly: defaultMonthly,
		clock:          time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (s *RedisStore) WithClock(clock func() time.Time) *RedisStore {
	s.clock = clock
	return s
}

func (s *RedisStore) periodKey(agentID string) (string, time.Time, time.Time) {
	start, end := periodBounds(s.clock())
	return fmt.Sprintf("budget:%s:%s", agentID, start.Format("2006-01-02")), start, end
}

func (s *RedisStore) limitsKey(agentID string) string {
	return "budget_limits:" + agentID
}

func (s *RedisStore) limits(ctx context.Context, agentID string) (int64, int64, error) {
	vals, err := s.client.HMGet(ctx, s.limitsKey(agentID), "daily", "monthly").Result()
	if err != nil {
		return 0, 0, fmt.Errorf("fetch limits: %w", err)
	}
	daily, monthly := s.defaultDaily, s.defaultMonthly
	if v, ok := vals[0].(string); ok {
		fmt.Sscanf(v, "%d", &daily)
	}
	if v, ok := vals[1].(string); ok {
		fmt.Sscanf(v, "%d", &monthly)
	}
	return daily, monthly, nil
}

func (s *RedisStore) Apply(ctx context.Context, agentID string, delta int64) (*State, Crossing, error) {
	key, start, end := s.periodKey(agentID)
	daily, monthly, err := s.limits(ctx, agentID)
	if err != nil {
		return nil, Crossing{}, err
	}
	st := &State{
		AgentID: agentID, PeriodStart: start, PeriodEnd: end,
		DailyLimit: daily, MonthlyLimit: monthly, Breaker: BreakerClosed,
	}

	res, err := applyScript.Run(ctx, s.client, []string{key}, delta, st.EffectiveLimit()).Result()
	if err != nil {
		return nil, Crossing{}, fmt.Errorf("redis budget apply: %w", err)
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) != 5 {
		return nil, Crossing{}, fmt.Errorf("unexpected script result %v", res)
	}

	cum, _ := vals[0].(int64)
	breaker, _ := vals[1].(string)
	st.CumulativeCost = cum
	st.Breaker = BreakerState(breaker)

	var crossing Crossing
	for i, pct := range Thresholds {
		if flag, _ := vals[2+i].(int64); flag == 1 {
			crossing.Percents = append(crossing.Percents, pct)
			if pct == BreakerThreshold {
				crossing.BreakerOpened = true
			}
		}
	}
	return st, crossing, nil
}

func (s *RedisStore) Get(ctx context.Context, agentID string) (*State, error) {
	key, start, end := s.periodKey(agentID)
	daily, monthly, err := s.limits(ctx, agentID)
	if err != nil {
		return nil, err
	}

	vals, err := s.client.HMGet(ctx, key, "cumulative", "breaker").Result()
	if err != nil {
		return nil, fmt.Errorf("fetch budget state: %w", err)
	}
	st := &State{
		AgentID: agentID, PeriodStart: start, PeriodEnd: end,
		DailyLimit: daily, MonthlyLimit: monthly, Breaker: BreakerClosed,
	}
	if v, ok := vals[0].(string); ok {
		fmt.Sscanf(v, "%d", &st.CumulativeCost)
	}
	if v, ok := vals[1].(string); ok && v == string(BreakerOpen) {
		st.Breaker = BreakerOpen
	}
	return st, nil
}

func (s *RedisStore) SetLimits(ctx context.Context, agentID string, daily, monthly int64) error {
	return s.client.HSet(ctx, s.limitsKey(agentID), "daily", daily, "monthly", monthly).Err()
}

func (s *RedisStore) Rollover(ctx context.Context, agentID string) error {
	key, _, _ := s.periodKey(agentID)
	return s.client.Del(ctx, key).Err()
}

func (s *RedisStore) Reset(ctx context.Context, agentID string) error {
	key, _, _ := s.periodKey(agentID)
	return s.client.HSet(ctx, key, "breaker", string(BreakerClosed)).Err()
}
