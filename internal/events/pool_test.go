package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rishi925-eng/Vital-Trace/internal/types"
)

type memPublisher struct {
	mu        sync.Mutex
	events    []Event
	batches   int
	failBatch bool
	failType  Type
}

func (m *memPublisher) Publish(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failType != "" && e.Type == m.failType {
		return errors.New("rejected")
	}
	m.events = append(m.events, e)
	return nil
}

func (m *memPublisher) PublishBatch(ctx context.Context, batch []Event) error {
	m.mu.Lock()
	if m.failBatch {
		m.mu.Unlock()
		return errors.New("broker unavailable")
	}
	m.batches++
	m.events = append(m.events, batch...)
	m.mu.Unlock()
	return nil
}

func (m *memPublisher) Close() error { return nil }

func (m *memPublisher) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

var testAlert = types.Alert{
	ID:       "A1",
	DeviceID: "D1",
	RuleKind: types.DoorOpen,
	Severity: types.SeverityMedium,
	Status:   types.StatusActive,
}

func TestPoolPublishesOnTimeout(t *testing.T) {
	pub := &memPublisher{}
	p := NewPool(PoolConfig{Publisher: pub, Workers: 1, BatchSize: 100, BatchTimeout: 10 * time.Millisecond}, zerolog.Nop())
	p.Start()
	defer p.Stop()

	p.Emit(ForAlert(AlertCreated, testAlert, time.Now()))
	p.Emit(ForAlert(AlertResolved, testAlert, time.Now()))

	assert.Eventually(t, func() bool { return pub.count() == 2 }, time.Second, 5*time.Millisecond)
}

func TestPoolFlushesOnStop(t *testing.T) {
	pub := &memPublisher{}
	p := NewPool(PoolConfig{Publisher: pub, Workers: 2, BatchSize: 1000, BatchTimeout: time.Hour}, zerolog.Nop())
	p.Start()

	for i := 0; i < 25; i++ {
		p.Emit(ForAlert(AlertCreated, testAlert, time.Now()))
	}
	p.Stop()

	assert.Equal(t, 25, pub.count())
	assert.Equal(t, uint64(25), p.Stats().Processed)
}

func TestPoolDropsWhenFull(t *testing.T) {
	pub := &memPublisher{}
	p := NewPool(PoolConfig{Publisher: pub, QueueSize: 2}, zerolog.Nop())

	// not started: nothing drains the queue
	for i := 0; i < 5; i++ {
		p.Emit(ForAlert(AlertCreated, testAlert, time.Now()))
	}
	stats := p.Stats()
	assert.Equal(t, uint64(3), stats.Dropped)
	assert.Equal(t, 2, stats.Queued)
}

func TestPoolFallsBackToIndividualPublish(t *testing.T) {
	pub := &memPublisher{failBatch: true, failType: AlertEscalated}
	p := NewPool(PoolConfig{Publisher: pub, Workers: 1, BatchSize: 3, BatchTimeout: time.Hour}, zerolog.Nop())
	p.Start()

	p.Emit(ForAlert(AlertCreated, testAlert, time.Now()))
	p.Emit(ForAlert(AlertEscalated, testAlert, time.Now()))
	p.Emit(ForAlert(AlertResolved, testAlert, time.Now()))
	p.Stop()

	stats := p.Stats()
	assert.Equal(t, uint64(2), stats.Processed)
	assert.Equal(t, uint64(1), stats.Failed)
}

func TestObserveDeliveryEmitsPerChannel(t *testing.T) {
	pub := &memPublisher{}
	p := NewPool(PoolConfig{Publisher: pub, Workers: 1}, zerolog.Nop())
	p.Start()

	now := time.Now()
	p.ObserveDelivery(testAlert, []types.DeliveryResult{
		{AlertID: "A1", Channel: types.ChannelRealtime, Status: types.DeliverySent, Timestamp: now},
		{AlertID: "A1", Channel: types.ChannelEmail, Status: types.DeliveryFailed, Detail: "refused", Timestamp: now},
	})
	p.Stop()

	require.Equal(t, 2, pub.count())
	byChannel := map[types.Channel]Event{}
	for _, e := range pub.events {
		byChannel[e.Channel] = e
	}
	assert.Equal(t, DeliveryResult, byChannel[types.ChannelEmail].Type)
	assert.Equal(t, types.DeliveryFailed, byChannel[types.ChannelEmail].DeliveryStatus)
	assert.Equal(t, "refused", byChannel[types.ChannelEmail].Detail)
}
