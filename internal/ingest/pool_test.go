package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rishi925-eng/Vital-Trace/internal/alerter"
	"github.com/rishi925-eng/Vital-Trace/internal/types"
)

type fakeEvaluator struct {
	mu       sync.Mutex
	byDevice map[string][]float64
	block    chan struct{}
	err      error
	panicOn  string
}

func newFakeEvaluator() *fakeEvaluator {
	return &fakeEvaluator{byDevice: make(map[string][]float64)}
}

func (f *fakeEvaluator) Evaluate(_ context.Context, r types.Reading) (alerter.Outcome, error) {
	if f.block != nil {
		<-f.block
	}
	if r.DeviceID == f.panicOn {
		panic("boom")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if r.Temperature != nil {
		f.byDevice[r.DeviceID] = append(f.byDevice[r.DeviceID], *r.Temperature)
	}
	out := alerter.Outcome{}
	if r.Temperature != nil && *r.Temperature > 15 {
		out.Created = []types.Alert{{ID: "A-" + r.DeviceID, DeviceID: r.DeviceID, RuleKind: types.TemperatureCritical}}
	}
	return out, f.err
}

func (f *fakeEvaluator) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, v := range f.byDevice {
		n += len(v)
	}
	return n
}

func TestPoolPreservesPerDeviceOrder(t *testing.T) {
	eval := newFakeEvaluator()
	p := NewPool(eval, PoolConfig{Workers: 4, QueueSize: 1000}, zerolog.Nop())
	p.Start()

	devices := []string{"D1", "D2", "D3", "D4", "D5"}
	for i := 0; i < 100; i++ {
		for _, d := range devices {
			require.NoError(t, p.Submit(types.Reading{DeviceID: d, Temperature: types.Float64(float64(i))}, "test"))
		}
	}
	p.Stop()

	for _, d := range devices {
		got := eval.byDevice[d]
		require.Len(t, got, 100, d)
		for i, v := range got {
			assert.Equal(t, float64(i), v, "device %s out of order at %d", d, i)
		}
	}
}

func TestPoolRejectsWhenFull(t *testing.T) {
	eval := newFakeEvaluator()
	eval.block = make(chan struct{})
	p := NewPool(eval, PoolConfig{Workers: 1, QueueSize: 1}, zerolog.Nop())
	p.Start()

	r := types.Reading{DeviceID: "D1", Temperature: types.Float64(4)}
	// the worker takes the first reading and blocks; the second fills the queue
	require.NoError(t, p.Submit(r, "test"))
	assert.Eventually(t, func() bool { return len(p.shards[0]) == 0 }, time.Second, time.Millisecond)
	require.NoError(t, p.Submit(r, "test"))
	assert.ErrorIs(t, p.Submit(r, "test"), ErrQueueFull)

	close(eval.block)
	p.Stop()
	assert.Equal(t, 2, eval.total())
}

func TestPoolValidationAndStop(t *testing.T) {
	p := NewPool(newFakeEvaluator(), PoolConfig{Workers: 2}, zerolog.Nop())
	p.Start()

	assert.ErrorIs(t, p.Submit(types.Reading{}, "test"), alerter.ErrInvalidReading)

	p.Stop()
	p.Stop()
	assert.ErrorIs(t, p.Submit(types.Reading{DeviceID: "D1"}, "test"), ErrPoolStopped)
}

func TestPoolSurvivesPanicsAndErrors(t *testing.T) {
	eval := newFakeEvaluator()
	eval.panicOn = "BAD"
	p := NewPool(eval, PoolConfig{Workers: 1}, zerolog.Nop())
	p.Start()

	require.NoError(t, p.Submit(types.Reading{DeviceID: "BAD"}, "test"))
	require.NoError(t, p.Submit(types.Reading{DeviceID: "D1", Temperature: types.Float64(5)}, "test"))
	p.Stop()
	assert.Equal(t, 1, eval.total())

	eval = newFakeEvaluator()
	eval.err = errors.New("store down")
	p = NewPool(eval, PoolConfig{Workers: 1}, zerolog.Nop())
	p.Start()
	require.NoError(t, p.Submit(types.Reading{DeviceID: "D1", Temperature: types.Float64(5)}, "test"))
	p.Stop()
	assert.Equal(t, 1, eval.total())
}

func TestShardForIsStable(t *testing.T) {
	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("fridge-%d", i)
		s := shardFor(id, 8)
		assert.GreaterOrEqual(t, s, 0)
		assert.Less(t, s, 8)
		assert.Equal(t, s, shardFor(id, 8))
	}
}
