package common

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEscalateNeverDowngrades(t *testing.T) {
	tests := []struct {
		current, candidate, want ThreatLevel
	}{
		{ThreatSafe, ThreatLow, ThreatLow},
		{ThreatCritical, ThreatMedium, ThreatCritical},
		{ThreatMedium, ThreatLow, ThreatMedium},
		{ThreatLow, ThreatHigh, ThreatHigh},
		{"", ThreatSafe, ThreatSafe},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Escalate(tt.current, tt.candidate), "%s -> %s", tt.current, tt.candidate)
	}
}

func TestLevelForRisk(t *testing.T) {
	assert.Equal(t, ThreatSafe, LevelForRisk(0))
	assert.Equal(t, ThreatSafe, LevelForRisk(0.2))
	assert.Equal(t, ThreatLow, LevelForRisk(0.3))
	assert.Equal(t, ThreatMedium, LevelForRisk(0.5))
	assert.Equal(t, ThreatHigh, LevelForRisk(0.95))
}

func TestClamp01(t *testing.T) {
	assert.Equal(t, 0.0, Clamp01(-0.5))
	assert.Equal(t, 1.0, Clamp01(1.7))
	assert.Equal(t, 0.4, Clamp01(0.4))
	assert.Equal(t, 0.0, Clamp01(math.NaN()))
}

func TestPermissionSetNormalizes(t *testing.T) {
	set := NewPermissionSet([]string{"READ_SMS", " android.permission.INTERNET ", "read_sms", ""})

	assert.Len(t, set, 2)
	assert.True(t, set.HasAll(PermReadSMS, PermInternet))
	assert.False(t, set.HasAny(PermSendSMS, PermCamera))
	assert.Equal(t, []string{PermInternet, PermReadSMS}, set.Sorted())
}
