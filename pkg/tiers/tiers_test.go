package tiers_test

import (
	"testing"

	"github.com/aegis-labs/govern/pkg/tiers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGatingLaw(t *testing.T) {
	// requires_approval iff tier >= 3 and environment != dev.
	envs := []tiers.Environment{tiers.EnvDev, tiers.EnvStaging, tiers.EnvProd}
	for tier := tiers.Tier(1); tier <= 4; tier++ {
		for _, env := range envs {
			rc, err := tiers.Evaluate(tier, env, tiers.ActionWrite)
			require.NoError(t, err, "tier=%d env=%s", tier, env)

			want := tier >= 3 && env != tiers.EnvDev
			assert.Equal(t, want, rc.RequiresApproval, "tier=%d env=%s", tier, env)
			assert.Equal(t, want, rc.RequiresThreatModel, "tier=%d env=%s", tier, env)
		}
	}
}

func TestApproverRoles(t *testing.T) {
	rc, err := tiers.Evaluate(tiers.TierOperator, tiers.EnvProd, tiers.ActionDeploy)
	require.NoError(t, err)
	assert.Equal(t, "Change Manager", rc.RequiredApproverRole)

	rc, err = tiers.Evaluate(tiers.TierArchitect, tiers.EnvStaging, tiers.ActionAdmin)
	require.NoError(t, err)
	assert.Equal(t, "CAB Chair", rc.RequiredApproverRole)

	rc, err = tiers.Evaluate(tiers.TierOperator, tiers.EnvDev, tiers.ActionDeploy)
	require.NoError(t, err)
	assert.Empty(t, rc.RequiredApproverRole)
}

func TestTier1ReadOnly(t *testing.T) {
	rc, err := tiers.Evaluate(tiers.TierReadOnly, tiers.EnvProd, tiers.ActionRead)
	require.NoError(t, err)
	assert.False(t, rc.RequiresApproval)
	assert.Contains(t, rc.Mitigations, tiers.ControlReadOnly)
	assert.NotContains(t, rc.Mitigations, tiers.ControlBudget)
}

func TestTier2BudgetControl(t *testing.T) {
	rc, err := tiers.Evaluate(tiers.TierDeveloper, tiers.EnvDev, tiers.ActionWrite)
	require.NoError(t, err)
	assert.Contains(t, rc.Mitigations, tiers.ControlBudget)
	assert.False(t, rc.BlockingViolations)
}

func TestBlockingViolationsBoundary(t *testing.T) {
	rc, err := tiers.Evaluate(tiers.TierArchitect, tiers.EnvProd, tiers.ActionDeploy)
	require.NoError(t, err)
	assert.True(t, rc.BlockingViolations)

	rc, err = tiers.Evaluate(tiers.TierArchitect, tiers.EnvDev, tiers.ActionDeploy)
	require.NoError(t, err)
	assert.False(t, rc.BlockingViolations)
}

func TestInvalidInputs(t *testing.T) {
	_, err := tiers.Evaluate(0, tiers.EnvDev, tiers.ActionRead)
	assert.ErrorIs(t, err, tiers.ErrInvalidTier)

	_, err = tiers.Evaluate(5, tiers.EnvDev, tiers.ActionRead)
	assert.ErrorIs(t, err, tiers.ErrInvalidTier)

	_, err = tiers.Evaluate(1, "qa", tiers.ActionRead)
	assert.ErrorIs(t, err, tiers.ErrInvalidEnvironment)

	_, err = tiers.Evaluate(1, tiers.EnvDev, "delete-everything")
	assert.ErrorIs(t, err, tiers.ErrInvalidActionClass)
}
