package budget

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore implements Store using PostgreSQL. The spend application is
// a single upsert, so the increment and the breaker latch commit atomically;
// concurrent deltas serialize on the row and none are lost.
type PostgresStore struct {
	db             *sql.DB
	defaultDaily   int64
	defaultMonthly int64
	clock          func() time.Time
}

// NewPostgresStore wraps an existing database handle.
func NewPostgresStore(db *sql.DB, defaultDaily, defaultMonthly int64) *PostgresStore {
	return &PostgresStore{
		db:             db,
		defaultDaily:   defaultDaily,
		defaultMonthly: defaultMonthly,
		clock:          time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (s *PostgresStore) WithClock(clock func() time.Time) *PostgresStore {
	s.clock = clock
	return s
}

// Migrate creates the budget table.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS agent_budgets (
			agent_id        TEXT NOT NULL,
			period_key      TEXT NOT NULL,
			daily_limit     BIGINT NOT NULL,
			monthly_limit   BIGINT NOT NULL,
			cumulative_cost BIGINT NOT NULL DEFAULT 0,
			breaker         TEXT NOT NULL DEFAULT 'closed',
			PRIMARY KEY (agent_id, period_key)
		)`)
	return err
}

// effectiveLimitExpr mirrors State.EffectiveLimit in SQL: a zero limit is
// absent (NULLIF drops it from LEAST), the monthly limit is prorated to one
// day of the month with a floor of one cent, and both limits absent yields 0.
// GREATEST must stay inside the CASE because Postgres GREATEST also skips
// NULL arguments.
const effectiveLimitExpr = `COALESCE(LEAST(NULLIF(%[1]s, 0), CASE WHEN %[2]s > 0 THEN GREATEST(%[2]s / $6, 1) END), 0)`

var applyQuery = fmt.Sprintf(`
	INSERT INTO agent_budgets (agent_id, period_key, daily_limit, monthly_limit, cumulative_cost, breaker)
	VALUES ($1, $2, $3, $4, $5,
		CASE WHEN $5 * 100 >= %[1]s * 90 AND %[1]s > 0 THEN 'open' ELSE 'closed' END)
	ON CONFLICT (agent_id, period_key) DO UPDATE SET
		cumulative_cost = agent_budgets.cumulative_cost + $5,
		breaker = CASE
			WHEN (agent_budgets.cumulative_cost + $5) * 100 >= %[2]s * 90 AND %[2]s > 0
			THEN 'open'
			ELSE agent_budgets.breaker
		END
	RETURNING cumulative_cost, breaker, daily_limit, monthly_limit`,
	fmt.Sprintf(effectiveLimitExpr, "$3", "$4"),
	fmt.Sprintf(effectiveLimitExpr, "agent_budgets.daily_limit", "agent_budgets.monthly_limit"))

func (s *PostgresStore) Apply(ctx context.Context, agentID string, delta int64) (*State, Crossing, error) {
	start, end := periodBounds(s.clock())
	st := &State{AgentID: agentID, PeriodStart: start, PeriodEnd: end}

	row := s.db.QueryRowContext(ctx, applyQuery,
		agentID, start.Format("2006-01-02"), s.defaultDaily, s.defaultMonthly, delta, daysInMonth(start))

	var breaker string
	if err := row.Scan(&st.CumulativeCost, &breaker, &st.DailyLimit, &st.MonthlyLimit); err != nil {
		return nil, Crossing{}, fmt.Errorf("apply budget delta: %w", err)
	}
	st.Breaker = BreakerState(breaker)

	// The statement is atomic, so old = new - delta is exact.
	crossing := crossings(st.CumulativeCost-delta, st.CumulativeCost, st.EffectiveLimit())
	return st, crossing, nil
}

func (s *PostgresStore) Get(ctx context.Context, agentID string) (*State, error) {
	start, end := periodBounds(s.clock())
	st := &State{
		AgentID: agentID, PeriodStart: start, PeriodEnd: end,
		DailyLimit: s.defaultDaily, MonthlyLimit: s.defaultMonthly, Breaker: BreakerClosed,
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT cumulative_cost, breaker, daily_limit, monthly_limit
		FROM agent_budgets WHERE agent_id = $1 AND period_key = $2`,
		agentID, start.Format("2006-01-02"))

	var breaker string
	err := row.Scan(&st.CumulativeCost, &breaker, &st.DailyLimit, &st.MonthlyLimit)
	if err == sql.ErrNoRows {
		return st, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get budget state: %w", err)
	}
	st.Breaker = BreakerState(breaker)
	return st, nil
}

func (s *PostgresStore) SetLimits(ctx context.Context, agentID string, daily, monthly int64) error {
	start, _ := periodBounds(s.clock())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_budgets (agent_id, period_key, daily_limit, monthly_limit)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (agent_id, period_key) DO UPDATE SET
			daily_limit = EXCLUDED.daily_limit,
			monthly_limit = EXCLUDED.monthly_limit`,
		agentID, start.Format("2006-01-02"), daily, monthly)
	if err != nil {
		return fmt.Errorf("set limits: %w", err)
	}
	return nil
}

func (s *PostgresStore) Rollover(ctx context.Context, agentID string) error {
	start, _ := periodBounds(s.clock())
	_, err := s.db.ExecContext(ctx, `
		UPDATE agent_budgets SET cumulative_cost = 0, breaker = 'closed'
		WHERE agent_id = $1 AND period_key = $2`,
		agentID, start.Format("2006-01-02"))
	return err
}

func (s *PostgresStore) Reset(ctx context.Context, agentID string) error {
	start, _ := periodBounds(s.clock())
	_, err := s.db.ExecContext(ctx, `
		UPDATE agent_budgets SET breaker = 'closed'
		WHERE agent_id = $1 AND period_key = $2`,
		agentID, start.Format("2006-01-02"))
	return err
}
