package alerter

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rishi925-eng/Vital-Trace/internal/clock"
	"github.com/rishi925-eng/Vital-Trace/internal/evaluator"
	"github.com/rishi925-eng/Vital-Trace/internal/events"
	"github.com/rishi925-eng/Vital-Trace/internal/rules"
	"github.com/rishi925-eng/Vital-Trace/internal/store"
	"github.com/rishi925-eng/Vital-Trace/internal/types"
)

type recordingDispatcher struct {
	mu        sync.Mutex
	created   []types.Alert
	escalated []types.Alert
}

func (d *recordingDispatcher) Dispatch(_ context.Context, a types.Alert, _ *types.DeviceProfile) []types.DeliveryResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.created = append(d.created, a)
	return nil
}

func (d *recordingDispatcher) DispatchEscalated(_ context.Context, a types.Alert, _ *types.DeviceProfile) []types.DeliveryResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.escalated = append(d.escalated, a)
	return nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *recordingSink) Emit(e events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSink) eventTypes() []events.Type {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []events.Type
	for _, e := range s.events {
		out = append(out, e.Type)
	}
	return out
}

type harness struct {
	engine     *Engine
	clock      *clock.Fake
	store      *store.MemoryStore
	dispatcher *recordingDispatcher
	sink       *recordingSink
}

var d1 = types.DeviceProfile{DeviceID: "D1", DisplayName: "Vaccine Fridge 1", Location: "Ward A", TargetTempMin: 2, TargetTempMax: 8}

func newHarness(t *testing.T, catalog *rules.Catalog) *harness {
	t.Helper()
	return newHarnessWithDevices(t, catalog, map[string]types.DeviceProfile{"D1": d1})
}

func newHarnessWithDevices(t *testing.T, catalog *rules.Catalog, devices map[string]types.DeviceProfile) *harness {
	t.Helper()
	h := &harness{
		clock:      clock.NewFake(t0),
		store:      store.NewMemoryStore(),
		dispatcher: &recordingDispatcher{},
		sink:       &recordingSink{},
	}
	e, err := NewEngine(Config{
		Store:        h.store,
		Devices:      store.NewStaticDirectory(devices),
		Evaluator:    evaluator.NewEvaluator(catalog, zerolog.Nop()),
		Dispatcher:   h.dispatcher,
		Events:       h.sink,
		Clock:        h.clock,
		SyncDispatch: true,
	}, zerolog.Nop())
	require.NoError(t, err)
	h.engine = e
	t.Cleanup(e.Stop)
	return h
}

func temp(device string, v float64) types.Reading {
	return types.Reading{DeviceID: device, Temperature: types.Float64(v)}
}

func TestEngineEndToEndScenario(t *testing.T) {
	h := newHarness(t, rules.Default())
	ctx := context.Background()

	out, err := h.engine.Evaluate(ctx, temp("D1", 9.5))
	require.NoError(t, err)
	require.Len(t, out.Created, 1)
	assert.Equal(t, types.TemperatureHigh, out.Created[0].RuleKind)
	assert.Equal(t, types.SeverityHigh, out.Created[0].Severity)
	assert.Equal(t, types.StatusActive, out.Created[0].Status)
	assert.Equal(t, "High Temperature Alert - Vaccine Fridge 1", out.Created[0].Title)
	assert.Empty(t, out.Resolved)

	h.clock.Advance(time.Minute)
	out, err = h.engine.Evaluate(ctx, temp("D1", 16))
	require.NoError(t, err)
	require.Len(t, out.Created, 1)
	assert.Equal(t, types.TemperatureCritical, out.Created[0].RuleKind)
	assert.Equal(t, types.SeverityCritical, out.Created[0].Severity)
	assert.Empty(t, out.Resolved)

	open, err := h.engine.ActiveAlerts(ctx)
	require.NoError(t, err)
	assert.Len(t, open, 2)

	h.clock.Advance(time.Minute)
	out, err = h.engine.Evaluate(ctx, temp("D1", 5))
	require.NoError(t, err)
	assert.Empty(t, out.Created)
	require.Len(t, out.Resolved, 2)
	kinds := []types.RuleKind{out.Resolved[0].RuleKind, out.Resolved[1].RuleKind}
	assert.ElementsMatch(t, []types.RuleKind{types.TemperatureHigh, types.TemperatureCritical}, kinds)
	for _, a := range out.Resolved {
		assert.Equal(t, types.StatusResolved, a.Status)
		require.NotNil(t, a.ResolvedAt)
		assert.Equal(t, t0.Add(2*time.Minute), *a.ResolvedAt)
	}

	open, err = h.engine.ActiveAlerts(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
	assert.Zero(t, h.engine.PendingEscalations())

	// resolution is not dispatched
	assert.Len(t, h.dispatcher.created, 2)
	assert.Equal(t, []events.Type{
		events.AlertCreated, events.AlertCreated, events.AlertResolved, events.AlertResolved,
	}, h.sink.eventTypes())
}

func TestEngineFreshAlertNotResolvedBySameReading(t *testing.T) {
	// a freezer's target range sits below the absolute critical bound, so the
	// reading that raises the critical alert also satisfies its clear condition
	freezer := types.DeviceProfile{DeviceID: "F1", DisplayName: "Freezer 1", TargetTempMin: -25, TargetTempMax: -15}
	h := newHarnessWithDevices(t, rules.Default(), map[string]types.DeviceProfile{"F1": freezer})
	ctx := context.Background()

	out, err := h.engine.Evaluate(ctx, temp("F1", -20))
	require.NoError(t, err)
	require.Len(t, out.Created, 1)
	assert.Equal(t, types.TemperatureCritical, out.Created[0].RuleKind)
	assert.Empty(t, out.Resolved)

	got, err := h.store.Get(ctx, out.Created[0].ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusActive, got.Status)
	assert.Len(t, h.dispatcher.created, 1)
}

func TestEngineStopDropsLateDeliveries(t *testing.T) {
	h := newHarness(t, rules.Default())
	ctx := context.Background()
	h.engine.Stop()

	out, err := h.engine.Evaluate(ctx, temp("D1", 9.5))
	require.NoError(t, err)
	require.Len(t, out.Created, 1)

	// an escalation callback already running when Stop was called
	h.engine.deliver(out.Created[0], &d1, true)

	assert.Empty(t, h.dispatcher.created)
	assert.Empty(t, h.dispatcher.escalated)
}

func TestEngineDeduplicatesOpenAlert(t *testing.T) {
	h := newHarness(t, rules.Default())
	ctx := context.Background()

	_, err := h.engine.Evaluate(ctx, temp("D1", 9.5))
	require.NoError(t, err)
	h.clock.Advance(2 * time.Hour)
	out, err := h.engine.Evaluate(ctx, temp("D1", 10))
	require.NoError(t, err)
	assert.Empty(t, out.Created)
	assert.Len(t, h.dispatcher.created, 1)
}

func TestEngineCooldown(t *testing.T) {
	cases := []struct {
		gap  time.Duration
		want int
	}{
		{10 * time.Minute, 1},
		{31 * time.Minute, 2},
	}
	for _, tc := range cases {
		t.Run(tc.gap.String(), func(t *testing.T) {
			h := newHarness(t, shortCooldownCatalog(0))
			ctx := context.Background()
			door := types.Reading{DeviceID: "D1", DoorOpen: types.Bool(true)}

			out, err := h.engine.Evaluate(ctx, door)
			require.NoError(t, err)
			require.Len(t, out.Created, 1)
			ok, err := h.engine.Resolve(ctx, out.Created[0].ID)
			require.NoError(t, err)
			require.True(t, ok)

			h.clock.Advance(tc.gap)
			_, err = h.engine.Evaluate(ctx, door)
			require.NoError(t, err)

			all, err := h.store.ListSince(ctx, t0)
			require.NoError(t, err)
			assert.Len(t, all, tc.want)
		})
	}
}

func TestEngineFrequencyCap(t *testing.T) {
	h := newHarness(t, shortCooldownCatalog(time.Minute))
	ctx := context.Background()
	tamper := types.Reading{DeviceID: "D1", TamperDetected: types.Bool(true)}

	created := 0
	for i := 0; i < 6; i++ {
		out, err := h.engine.Evaluate(ctx, tamper)
		require.NoError(t, err)
		for _, a := range out.Created {
			created++
			_, err := h.engine.Resolve(ctx, a.ID)
			require.NoError(t, err)
		}
		h.clock.Advance(2 * time.Minute)
	}
	assert.Equal(t, 5, created)
}

func TestEngineUnknownDevice(t *testing.T) {
	h := newHarness(t, rules.Default())
	ctx := context.Background()

	out, err := h.engine.Evaluate(ctx, temp("GHOST", 9.5))
	require.NoError(t, err)
	assert.Empty(t, out.Created, "device-relative rules skipped")

	out, err = h.engine.Evaluate(ctx, temp("GHOST", 16))
	require.NoError(t, err)
	require.Len(t, out.Created, 1)
	assert.Equal(t, types.TemperatureCritical, out.Created[0].RuleKind)
	assert.Equal(t, "Critical Temperature Alert - GHOST", out.Created[0].Title)

	h.clock.Advance(time.Minute)
	out, err = h.engine.Evaluate(ctx, temp("GHOST", 12))
	require.NoError(t, err)
	assert.Len(t, out.Resolved, 1)
}

func TestEngineBatteryClearsAboveClearLevel(t *testing.T) {
	h := newHarness(t, rules.Default())
	ctx := context.Background()
	battery := func(v float64) types.Reading {
		return types.Reading{DeviceID: "D1", BatteryLevel: types.Float64(v)}
	}

	out, err := h.engine.Evaluate(ctx, battery(4))
	require.NoError(t, err)
	require.Len(t, out.Created, 1)
	assert.Equal(t, types.BatteryCritical, out.Created[0].RuleKind)

	out, err = h.engine.Evaluate(ctx, battery(8))
	require.NoError(t, err)
	assert.Empty(t, out.Resolved, "above the match level but not the clear level")

	out, err = h.engine.Evaluate(ctx, battery(11))
	require.NoError(t, err)
	require.Len(t, out.Resolved, 1)
	assert.Equal(t, types.BatteryCritical, out.Resolved[0].RuleKind)
}

func TestEngineEscalatesOnce(t *testing.T) {
	h := newHarness(t, rules.Default())
	ctx := context.Background()

	out, err := h.engine.Evaluate(ctx, temp("D1", 16))
	require.NoError(t, err)
	require.Len(t, out.Created, 1)
	id := out.Created[0].ID
	assert.Equal(t, 1, h.engine.PendingEscalations())

	h.clock.Advance(4 * time.Minute)
	a, err := h.engine.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusActive, a.Status)

	h.clock.Advance(time.Minute)
	a, err = h.engine.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusEscalated, a.Status)
	assert.Equal(t, types.SeverityCritical, a.Severity, "critical stays critical")
	require.NotNil(t, a.EscalatedAt)
	assert.Equal(t, t0.Add(5*time.Minute), *a.EscalatedAt)

	h.clock.Advance(time.Hour)
	assert.Len(t, h.dispatcher.escalated, 1)
	assert.Zero(t, h.engine.PendingEscalations())
}

func TestEngineEscalationRaisesSeverity(t *testing.T) {
	h := newHarness(t, rules.Default())
	ctx := context.Background()

	out, err := h.engine.Evaluate(ctx, types.Reading{DeviceID: "D1", SignalStrength: types.Float64(10)})
	require.NoError(t, err)
	require.Len(t, out.Created, 1)
	assert.Equal(t, types.SeverityHigh, out.Created[0].Severity)

	h.clock.Advance(20 * time.Minute)
	a, err := h.engine.Get(ctx, out.Created[0].ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusEscalated, a.Status)
	assert.Equal(t, types.SeverityCritical, a.Severity)
	require.Len(t, h.dispatcher.escalated, 1)
	assert.Equal(t, types.SeverityCritical, h.dispatcher.escalated[0].Severity)
	assert.Contains(t, h.sink.eventTypes(), events.AlertEscalated)
}

func TestEngineAcknowledgedNeverEscalates(t *testing.T) {
	h := newHarness(t, rules.Default())
	ctx := context.Background()

	out, err := h.engine.Evaluate(ctx, temp("D1", 16))
	require.NoError(t, err)
	id := out.Created[0].ID

	h.clock.Advance(3 * time.Minute)
	ok, err := h.engine.Acknowledge(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, h.engine.PendingEscalations())

	h.clock.Advance(time.Hour)
	a, err := h.engine.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusAcknowledged, a.Status)
	require.NotNil(t, a.AcknowledgedAt)
	assert.Equal(t, t0.Add(3*time.Minute), *a.AcknowledgedAt)
	assert.Empty(t, h.dispatcher.escalated)

	// a second acknowledge is a no-op
	ok, err = h.engine.Acknowledge(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	// acknowledged alerts still auto-resolve
	out, err = h.engine.Evaluate(ctx, temp("D1", 5))
	require.NoError(t, err)
	assert.Len(t, out.Resolved, 1)
}

func TestEngineEscalationAfterResolveIsNoop(t *testing.T) {
	h := newHarness(t, rules.Default())
	ctx := context.Background()

	out, err := h.engine.Evaluate(ctx, temp("D1", 16))
	require.NoError(t, err)
	id := out.Created[0].ID

	// resolve behind the engine's back so the timer stays armed
	ok, err := h.store.TransitionStatus(ctx, id, types.StatusActive, types.StatusResolved, t0)
	require.NoError(t, err)
	require.True(t, ok)

	h.clock.Advance(5 * time.Minute)
	a, err := h.engine.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusResolved, a.Status)
	assert.Empty(t, h.dispatcher.escalated)
}

func TestEngineManualResolve(t *testing.T) {
	h := newHarness(t, rules.Default())
	ctx := context.Background()

	out, err := h.engine.Evaluate(ctx, temp("D1", 16))
	require.NoError(t, err)
	id := out.Created[0].ID

	ok, err := h.engine.Resolve(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, h.engine.PendingEscalations())

	ok, err = h.engine.Resolve(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = h.engine.Resolve(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = h.engine.Acknowledge(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestEngineRaise(t *testing.T) {
	h := newHarness(t, rules.Default())
	ctx := context.Background()

	a, ok, err := h.engine.Raise(ctx, "D1", types.MaintenanceDue, "Compressor service overdue", map[string]string{"last_service": "2025-06-01"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Maintenance Due - Vaccine Fridge 1", a.Title)
	assert.Equal(t, types.SeverityMedium, a.Severity)

	_, ok, err = h.engine.Raise(ctx, "D1", types.MaintenanceDue, "again", nil)
	require.NoError(t, err)
	assert.False(t, ok, "deduplicated")

	_, _, err = h.engine.Raise(ctx, "D1", types.RuleKind("bogus"), "", nil)
	assert.ErrorIs(t, err, ErrUnknownKind)
	_, _, err = h.engine.Raise(ctx, "", types.AnomalyDetected, "", nil)
	assert.ErrorIs(t, err, ErrInvalidReading)
}

func TestEngineRejectsReadingWithoutDevice(t *testing.T) {
	h := newHarness(t, rules.Default())
	_, err := h.engine.Evaluate(context.Background(), types.Reading{Temperature: types.Float64(20)})
	assert.ErrorIs(t, err, ErrInvalidReading)
}

type flakyStore struct {
	*store.MemoryStore
	failKind types.RuleKind
}

func (f *flakyStore) HasActive(ctx context.Context, deviceID string, kind types.RuleKind) (bool, error) {
	if kind == f.failKind {
		return false, errors.New("connection reset")
	}
	return f.MemoryStore.HasActive(ctx, deviceID, kind)
}

func TestEngineStoreFailureIsolatedPerKey(t *testing.T) {
	e, err := NewEngine(Config{
		Store:        &flakyStore{MemoryStore: store.NewMemoryStore(), failKind: types.TemperatureHigh},
		Devices:      store.NewStaticDirectory(map[string]types.DeviceProfile{"D1": d1}),
		Evaluator:    evaluator.NewEvaluator(rules.Default(), zerolog.Nop()),
		Clock:        clock.NewFake(t0),
		SyncDispatch: true,
	}, zerolog.Nop())
	require.NoError(t, err)
	defer e.Stop()

	out, err := e.Evaluate(context.Background(), types.Reading{
		DeviceID:     "D1",
		Temperature:  types.Float64(9.5),
		BatteryLevel: types.Float64(3),
	})
	require.Error(t, err)
	assert.Len(t, out.Errors, 1)
	require.Len(t, out.Created, 1)
	assert.Equal(t, types.BatteryCritical, out.Created[0].RuleKind)
}

func TestEngineConcurrentReadingsCreateOneAlert(t *testing.T) {
	h := newHarness(t, rules.Default())
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := h.engine.Evaluate(ctx, temp("D1", 16))
			assert.NoError(t, err)
			mu.Lock()
			created += len(out.Created)
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, created)
}

func TestEngineAtMostOneOpenPerKey(t *testing.T) {
	h := newHarness(t, rules.Default())
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))
	devices := []string{"D1", "D2", "D3"}

	for i := 0; i < 500; i++ {
		r := types.Reading{DeviceID: devices[rng.Intn(len(devices))]}
		if rng.Intn(2) == 0 {
			r.Temperature = types.Float64(-10 + rng.Float64()*30)
		}
		if rng.Intn(2) == 0 {
			r.BatteryLevel = types.Float64(rng.Float64() * 100)
		}
		if rng.Intn(3) == 0 {
			r.DoorOpen = types.Bool(rng.Intn(2) == 0)
		}
		if rng.Intn(3) == 0 {
			r.SignalStrength = types.Float64(rng.Float64() * 100)
		}
		_, err := h.engine.Evaluate(ctx, r)
		require.NoError(t, err)
		h.clock.Advance(time.Duration(rng.Intn(600)) * time.Second)

		open, err := h.engine.ActiveAlerts(ctx)
		require.NoError(t, err)
		seen := make(map[string]bool)
		for _, a := range open {
			key := fmt.Sprintf("%s|%s", a.DeviceID, a.RuleKind)
			require.False(t, seen[key], "duplicate open alert for %s", key)
			seen[key] = true
		}
	}
}

func TestEngineStats(t *testing.T) {
	h := newHarness(t, rules.Default())
	ctx := context.Background()

	_, err := h.engine.Evaluate(ctx, temp("D1", 16))
	require.NoError(t, err)
	_, err = h.engine.Evaluate(ctx, types.Reading{DeviceID: "D2", BatteryLevel: types.Float64(15)})
	require.NoError(t, err)
	_, err = h.engine.Evaluate(ctx, temp("D1", 5))
	require.NoError(t, err)

	s, err := h.engine.Stats(ctx, t0.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, s.Total)
	assert.Equal(t, 1, s.BySeverity[types.SeverityCritical])
	assert.Equal(t, 1, s.ByKind[types.BatteryLow])
	assert.Equal(t, 1, s.ByStatus[types.StatusResolved])
	assert.InDelta(t, 50.0, s.ResolutionRate, 0.001)
	require.Len(t, s.TopDevices, 2)
	assert.Equal(t, "D1", s.TopDevices[0].DeviceID)
}
