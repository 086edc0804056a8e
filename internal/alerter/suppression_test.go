package alerter

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/rishi925-eng/Vital-Trace/internal/rules"
	"github.com/rishi925-eng/Vital-Trace/internal/types"
)

var t0 = time.Date(2026, 1, 15, 8, 0, 0, 0, time.UTC)

func shortCooldownCatalog(cooldown time.Duration) *rules.Catalog {
	return rules.New([]rules.Rule{
		{Kind: types.TamperDetected, Severity: types.SeverityCritical, Cooldown: cooldown},
		{Kind: types.DoorOpen, Severity: types.SeverityMedium, Cooldown: 30 * time.Minute},
	})
}

func TestSuppressionCooldown(t *testing.T) {
	tr := NewSuppressionTracker(zerolog.Nop(), shortCooldownCatalog(0), 0, 0)

	assert.False(t, tr.ShouldSuppress("D1", types.DoorOpen, t0))
	tr.RecordFire("D1", types.DoorOpen, t0)

	assert.Equal(t, SuppressCooldown, tr.Check("D1", types.DoorOpen, t0.Add(10*time.Minute)))
	assert.Equal(t, NotSuppressed, tr.Check("D1", types.DoorOpen, t0.Add(31*time.Minute)))

	// other devices and kinds are independent
	assert.False(t, tr.ShouldSuppress("D2", types.DoorOpen, t0.Add(time.Minute)))
	assert.False(t, tr.ShouldSuppress("D1", types.TamperDetected, t0.Add(time.Minute)))
}

func TestSuppressionFrequencyCap(t *testing.T) {
	tr := NewSuppressionTracker(zerolog.Nop(), shortCooldownCatalog(time.Minute), 0, 0)

	fired := 0
	for i := 0; i < 6; i++ {
		now := t0.Add(time.Duration(i) * 5 * time.Minute)
		if tr.ShouldSuppress("D1", types.TamperDetected, now) {
			continue
		}
		tr.RecordFire("D1", types.TamperDetected, now)
		fired++
	}
	assert.Equal(t, 5, fired)
	assert.Equal(t, SuppressFrequencyCap, tr.Check("D1", types.TamperDetected, t0.Add(30*time.Minute)))
}

func TestSuppressionWindowResets(t *testing.T) {
	tr := NewSuppressionTracker(zerolog.Nop(), shortCooldownCatalog(0), 0, 0)

	for i := 0; i < 5; i++ {
		tr.RecordFire("D1", types.TamperDetected, t0.Add(time.Duration(i)*time.Minute))
	}
	assert.True(t, tr.ShouldSuppress("D1", types.TamperDetected, t0.Add(59*time.Minute)))
	assert.False(t, tr.ShouldSuppress("D1", types.TamperDetected, t0.Add(time.Hour)))

	tr.RecordFire("D1", types.TamperDetected, t0.Add(time.Hour))
	assert.False(t, tr.ShouldSuppress("D1", types.TamperDetected, t0.Add(time.Hour+time.Minute)))
}

func TestSuppressionCustomLimit(t *testing.T) {
	tr := NewSuppressionTracker(zerolog.Nop(), shortCooldownCatalog(0), 10*time.Minute, 2)

	tr.RecordFire("D1", types.TamperDetected, t0)
	tr.RecordFire("D1", types.TamperDetected, t0.Add(time.Minute))
	assert.Equal(t, SuppressFrequencyCap, tr.Check("D1", types.TamperDetected, t0.Add(2*time.Minute)))
	assert.Equal(t, NotSuppressed, tr.Check("D1", types.TamperDetected, t0.Add(10*time.Minute)))
}

func TestSuppressionEvict(t *testing.T) {
	tr := NewSuppressionTracker(zerolog.Nop(), shortCooldownCatalog(0), 0, 0)

	tr.RecordFire("old", types.TamperDetected, t0)
	tr.RecordFire("new", types.TamperDetected, t0.Add(25*time.Hour))
	assert.Equal(t, 2, tr.Len())

	removed := tr.Evict(t0.Add(25 * time.Hour).Add(-24 * time.Hour))
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, tr.Len())
	assert.False(t, tr.ShouldSuppress("old", types.TamperDetected, t0.Add(25*time.Hour)))
}

func TestSuppressionConcurrentKeys(t *testing.T) {
	tr := NewSuppressionTracker(zerolog.Nop(), shortCooldownCatalog(0), 0, 100)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			device := []string{"D1", "D2", "D3"}[i%3]
			tr.RecordFire(device, types.TamperDetected, t0)
			tr.ShouldSuppress(device, types.TamperDetected, t0)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 3, tr.Len())
}
