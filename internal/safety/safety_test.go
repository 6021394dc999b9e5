package safety

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func clearSafetyEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		EnvKillSwitch, EnvActivationEnabled, EnvActivationMode,
		EnvLiveIOAllowed, EnvLiveWritesAllowed, EnvSnapshotWritesAllowed,
		EnvApprovalToken, EnvPolicyVersionPin, EnvConnectors, EnvMarkets,
		EnvMaxMatches, EnvMinConfidence, EnvBurnInMinConfidence,
		EnvRolloutPct, EnvDailyMaxActivations,
	} {
		t.Setenv(key, "")
	}
}

func TestFromEnv_DefaultsAllOff(t *testing.T) {
	clearSafetyEnv(t)

	s := FromEnv()

	assert.False(t, s.KillSwitch)
	assert.False(t, s.ActivationEnabled)
	assert.Empty(t, s.ActivationMode)
	assert.False(t, s.LiveIOAllowed)
	assert.False(t, s.LiveWritesAllowed)
	assert.False(t, s.SnapshotWritesAllowed)
	assert.Empty(t, s.ApprovalToken)
	assert.Empty(t, s.Connectors)
	assert.Empty(t, s.Markets)
	assert.Equal(t, 0, s.MaxMatches)
	assert.Equal(t, 0.0, s.RolloutPct)
	assert.Equal(t, 0, s.DailyMaxActivations)
}

func TestFromEnv_ParsesFlags(t *testing.T) {
	clearSafetyEnv(t)
	t.Setenv(EnvKillSwitch, "true")
	t.Setenv(EnvActivationEnabled, "1")
	t.Setenv(EnvActivationMode, " Burn_In ")
	t.Setenv(EnvLiveIOAllowed, "yes")
	t.Setenv(EnvLiveWritesAllowed, "TRUE")
	t.Setenv(EnvApprovalToken, "  tok-123  ")
	t.Setenv(EnvPolicyVersionPin, "v2.0.0")
	t.Setenv(EnvConnectors, "real_provider, recorded_provider ,")
	t.Setenv(EnvMarkets, "1X2,BTTS")
	t.Setenv(EnvMaxMatches, "2")
	t.Setenv(EnvMinConfidence, "0.75")
	t.Setenv(EnvBurnInMinConfidence, "0.9")
	t.Setenv(EnvRolloutPct, "150")
	t.Setenv(EnvDailyMaxActivations, "4")

	s := FromEnv()

	assert.True(t, s.KillSwitch)
	assert.True(t, s.ActivationEnabled)
	assert.Equal(t, ModeBurnIn, s.ActivationMode)
	assert.True(t, s.LiveIOAllowed)
	assert.True(t, s.LiveWritesAllowed)
	assert.Equal(t, "tok-123", s.ApprovalToken)
	assert.Equal(t, "v2.0.0", s.PolicyVersionPin)
	assert.Equal(t, []string{"real_provider", "recorded_provider"}, s.Connectors)
	assert.Equal(t, []string{"1X2", "BTTS"}, s.Markets)
	assert.Equal(t, 2, s.MaxMatches)
	assert.Equal(t, 0.75, s.MinConfidence)
	assert.Equal(t, 0.9, s.BurnInMinConfidence)
	assert.Equal(t, 100.0, s.RolloutPct)
	assert.Equal(t, 4, s.DailyMaxActivations)
}

func TestFromEnv_RejectsAmbiguousValues(t *testing.T) {
	clearSafetyEnv(t)
	t.Setenv(EnvKillSwitch, "on")
	t.Setenv(EnvActivationEnabled, "enabled")
	t.Setenv(EnvMaxMatches, "-3")
	t.Setenv(EnvRolloutPct, "nope")

	s := FromEnv()

	assert.False(t, s.KillSwitch)
	assert.False(t, s.ActivationEnabled)
	assert.Equal(t, 0, s.MaxMatches)
	assert.Equal(t, 0.0, s.RolloutPct)
}

func TestValidMode(t *testing.T) {
	assert.True(t, ValidMode(ModeBurnIn))
	assert.True(t, ValidMode(ModeLimited))
	assert.True(t, ValidMode(ModeExpanded))
	assert.False(t, ValidMode(""))
	assert.False(t, ValidMode("full"))
	assert.False(t, ValidMode("BURN_IN"))
}

func TestFields_RedactsApprovalToken(t *testing.T) {
	clearSafetyEnv(t)
	t.Setenv(EnvApprovalToken, "secret")

	fields := FromEnv().Fields()

	assert.Equal(t, true, fields["approval_token_set"])
	for k, v := range fields {
		assert.NotEqual(t, "secret", v, k)
	}
}
