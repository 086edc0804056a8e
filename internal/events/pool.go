package events

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/rishi925-eng/Vital-Trace/internal/metrics"
	"github.com/rishi925-eng/Vital-Trace/internal/types"
)

// PoolConfig holds worker pool configuration.
type PoolConfig struct {
	Publisher    Publisher
	QueueSize    int
	Workers      int
	BatchSize    int
	BatchTimeout time.Duration
}

// Pool buffers events and publishes them in batches from background workers.
// Emit never blocks: when the queue is full the event is dropped and counted.
type Pool struct {
	log          zerolog.Logger
	publisher    Publisher
	queue        chan Event
	workers      int
	batchSize    int
	batchTimeout time.Duration

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	processed atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

// NewPool creates a new event pool
func NewPool(cfg PoolConfig, log zerolog.Logger) *Pool {
	if cfg.Publisher == nil {
		cfg.Publisher = Noop{}
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 100 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		log:          log.With().Str("component", "event_pool").Logger(),
		publisher:    cfg.Publisher,
		queue:        make(chan Event, cfg.QueueSize),
		workers:      cfg.Workers,
		batchSize:    cfg.BatchSize,
		batchTimeout: cfg.BatchTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start begins processing events
func (p *Pool) Start() {
	p.log.Info().
		Int("workers", p.workers).
		Int("batch_size", p.batchSize).
		Dur("batch_timeout", p.batchTimeout).
		Msg("starting event pool")

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop flushes queued events and stops all workers
func (p *Pool) Stop() {
	p.log.Info().Msg("stopping event pool")
	p.cancel()
	p.wg.Wait()
	p.log.Info().Msg("event pool stopped")
}

// Emit queues e for publishing.
func (p *Pool) Emit(e Event) {
	select {
	case p.queue <- e:
	default:
		p.dropped.Add(1)
		metrics.EventsPublished.WithLabelValues("dropped").Inc()
		p.log.Warn().Str("type", string(e.Type)).Str("alert_id", e.AlertID).Msg("event queue full, dropping event")
	}
}

// ObserveDelivery emits one delivery.result event per channel result.
func (p *Pool) ObserveDelivery(alert types.Alert, results []types.DeliveryResult) {
	for _, r := range results {
		p.Emit(ForDelivery(alert, r))
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	log := p.log.With().Int("worker_id", id).Logger()
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("worker panic recovered")
			metrics.PanicsRecovered.WithLabelValues("event_pool").Inc()
		}
	}()

	batch := make([]Event, 0, p.batchSize)
	timer := time.NewTimer(p.batchTimeout)
	defer timer.Stop()

	for {
		select {
		case <-p.ctx.Done():
			// drain what is already queued before exiting
			for {
				select {
				case e := <-p.queue:
					batch = append(batch, e)
					if len(batch) >= p.batchSize {
						p.publishBatch(batch)
						batch = batch[:0]
					}
				default:
					p.publishBatch(batch)
					return
				}
			}

		case e := <-p.queue:
			batch = append(batch, e)
			if len(batch) >= p.batchSize {
				p.publishBatch(batch)
				batch = batch[:0]
				timer.Reset(p.batchTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				p.publishBatch(batch)
				batch = batch[:0]
			}
			timer.Reset(p.batchTimeout)
		}
	}
}

func (p *Pool) publishBatch(batch []Event) {
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := p.publisher.PublishBatch(ctx, batch); err != nil {
		p.log.Error().Err(err).Int("batch_size", len(batch)).Msg("failed to publish event batch")
		p.publishIndividually(batch)
		return
	}
	p.processed.Add(uint64(len(batch)))
}

// publishIndividually retries each event of a failed batch on its own.
func (p *Pool) publishIndividually(batch []Event) {
	for _, e := range batch {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := p.publisher.Publish(ctx, e)
		cancel()

		if err != nil {
			p.failed.Add(1)
			p.log.Error().Err(err).Str("type", string(e.Type)).Str("alert_id", e.AlertID).Msg("failed to publish event")
			continue
		}
		p.processed.Add(1)
	}
}

// PoolStats holds cumulative pool counters.
type PoolStats struct {
	Processed uint64 `json:"processed"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`
	Queued    int    `json:"queued"`
}

func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Processed: p.processed.Load(),
		Failed:    p.failed.Load(),
		Dropped:   p.dropped.Load(),
		Queued:    len(p.queue),
	}
}
