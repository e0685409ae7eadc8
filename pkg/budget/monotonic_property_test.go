//go:build property
// +build property

package budget_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aegis-labs/govern/pkg/budget"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestCumulativeCostIsExactSum verifies no concurrent delta is ever lost.
func TestCumulativeCostIsExactSum(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	clock := func() time.Time { return time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC) }

	properties.Property("cumulative cost equals the exact sum of all deltas", prop.ForAll(
		func(deltas []int64) bool {
			store := budget.NewMemoryStore(1<<40, 1<<40).WithClock(clock)
			ctx := context.Background()

			var wg sync.WaitGroup
			var want int64
			for _, d := range deltas {
				want += d
				wg.Add(1)
				go func(d int64) {
					defer wg.Done()
					_, _, _ = store.Apply(ctx, "agent-p", d)
				}(d)
			}
			wg.Wait()

			st, err := store.Get(ctx, "agent-p")
			if err != nil {
				return false
			}
			return st.CumulativeCost == want
		},
		gen.SliceOf(gen.Int64Range(1, 10_000)),
	))

	properties.TestingRun(t)
}
