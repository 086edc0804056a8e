package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rishi925-eng/Vital-Trace/internal/types"
)

func TestDefaultCoversEveryKind(t *testing.T) {
	c := Default()
	for _, kind := range types.AllRuleKinds {
		r := c.Lookup(kind)
		assert.Equal(t, kind, r.Kind)
		assert.True(t, r.Severity.Valid(), "kind %s", kind)
	}
	assert.Len(t, c.Rules(), len(types.AllRuleKinds))
}

func TestDefaultValues(t *testing.T) {
	c := Default()

	crit := c.Lookup(types.TemperatureCritical)
	assert.Equal(t, types.SeverityCritical, crit.Severity)
	assert.Equal(t, 15*time.Minute, crit.Cooldown)
	assert.Equal(t, 5*time.Minute, crit.EscalateAfter)
	assert.True(t, crit.AutoResolve)
	assert.Equal(t, -5.0, crit.Thresholds.Min)
	assert.Equal(t, 15.0, crit.Thresholds.Max)

	tamper := c.Lookup(types.TamperDetected)
	assert.Zero(t, tamper.EscalateAfter)
	assert.False(t, tamper.AutoResolve)

	battery := c.Lookup(types.BatteryCritical)
	assert.Equal(t, 5.0, battery.Thresholds.Max)
	assert.Equal(t, 10.0, battery.Thresholds.Clear)
}

func TestLookupUnknownKind(t *testing.T) {
	r := Default().Lookup(types.RuleKind("humidity_high"))
	assert.Equal(t, types.SeverityLow, r.Severity)
	assert.Zero(t, r.EscalateAfter)
	assert.False(t, r.AutoResolve)
}

func TestWithOverridesReturnsNewCatalog(t *testing.T) {
	base := Default()
	cooldown := 2 * time.Minute
	sev := types.SeverityCritical

	next, err := base.WithOverrides(map[types.RuleKind]Override{
		types.DoorOpen: {Cooldown: &cooldown, Severity: &sev},
	})
	require.NoError(t, err)

	assert.Equal(t, cooldown, next.Lookup(types.DoorOpen).Cooldown)
	assert.Equal(t, types.SeverityCritical, next.Lookup(types.DoorOpen).Severity)
	assert.Equal(t, 60*time.Minute, base.Lookup(types.DoorOpen).Cooldown, "receiver must not change")
	assert.Equal(t, types.SeverityMedium, base.Lookup(types.DoorOpen).Severity)
}

func TestWithOverridesRejectsInvalid(t *testing.T) {
	base := Default()

	_, err := base.WithOverrides(map[types.RuleKind]Override{
		types.RuleKind("bogus"): {},
	})
	assert.Error(t, err)

	bad := types.Severity("urgent")
	_, err = base.WithOverrides(map[types.RuleKind]Override{
		types.BatteryLow: {Severity: &bad},
	})
	assert.Error(t, err)

	neg := -time.Second
	_, err = base.WithOverrides(map[types.RuleKind]Override{
		types.BatteryLow: {Cooldown: &neg},
	})
	assert.Error(t, err)
}
