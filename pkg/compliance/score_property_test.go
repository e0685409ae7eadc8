//go:build property
// +build property

package compliance_test

import (
	"testing"

	"github.com/aegis-labs/govern/pkg/compliance"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestScoreDeterminism verifies scoring is a pure function of the tallies.
func TestScoreDeterminism(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("score is deterministic and bounded", prop.ForAll(
		func(passed, failed, warnings int) bool {
			s1 := compliance.Score(passed, failed, warnings)
			s2 := compliance.Score(passed, failed, warnings)
			if s1 != s2 {
				return false
			}
			return s1 >= 0 && s1 <= 100
		},
		gen.IntRange(0, 10_000),
		gen.IntRange(0, 10_000),
		gen.IntRange(0, 10_000),
	))

	properties.Property("all passing scores 100, any tally without passes scores 0", prop.ForAll(
		func(n int) bool {
			if compliance.Score(n+1, 0, 0) != 100 {
				return false
			}
			return compliance.Score(0, n, n) == 0
		},
		gen.IntRange(0, 1_000),
	))

	properties.TestingRun(t)
}
