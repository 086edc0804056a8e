// Package ingest feeds sensor readings from transports into the alert engine.
package ingest

import (
	"context"
	"errors"
	"hash/fnv"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rishi925-eng/Vital-Trace/internal/alerter"
	"github.com/rishi925-eng/Vital-Trace/internal/metrics"
	"github.com/rishi925-eng/Vital-Trace/internal/types"
)

var (
	ErrQueueFull   = errors.New("ingest queue full")
	ErrPoolStopped = errors.New("ingest pool stopped")
)

// Evaluator is the alert engine entry point.
type Evaluator interface {
	Evaluate(ctx context.Context, r types.Reading) (alerter.Outcome, error)
}

// PoolConfig holds worker pool configuration.
type PoolConfig struct {
	Workers   int
	QueueSize int // per worker
	// EvaluateTimeout bounds one evaluation.
	EvaluateTimeout time.Duration
}

type job struct {
	reading types.Reading
	source  string
}

// Pool evaluates readings on a fixed set of workers. Readings are sharded by device
// ID so one device's readings are evaluated in arrival order while different
// devices run concurrently.
type Pool struct {
	log     zerolog.Logger
	eval    Evaluator
	timeout time.Duration
	shards  []chan job
	wg      sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
}

// NewPool creates a new reading pool
func NewPool(eval Evaluator, cfg PoolConfig, log zerolog.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.EvaluateTimeout <= 0 {
		cfg.EvaluateTimeout = 30 * time.Second
	}

	p := &Pool{
		log:     log.With().Str("component", "ingest_pool").Logger(),
		eval:    eval,
		timeout: cfg.EvaluateTimeout,
		shards:  make([]chan job, cfg.Workers),
	}
	for i := range p.shards {
		p.shards[i] = make(chan job, cfg.QueueSize)
	}
	return p
}

// Start launches one worker per shard.
func (p *Pool) Start() {
	p.log.Info().Int("workers", len(p.shards)).Msg("starting ingest pool")
	for i := range p.shards {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop refuses new readings, lets workers drain their queues and waits for them.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	for _, ch := range p.shards {
		close(ch)
	}
	p.mu.Unlock()

	p.wg.Wait()
	p.log.Info().Msg("ingest pool stopped")
}

// Submit queues a reading for evaluation. It never blocks.
func (p *Pool) Submit(r types.Reading, source string) error {
	if r.DeviceID == "" {
		metrics.IngestReadings.WithLabelValues(source, "invalid").Inc()
		return alerter.ErrInvalidReading
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPoolStopped
	}

	shard := shardFor(r.DeviceID, len(p.shards))
	select {
	case p.shards[shard] <- job{reading: r, source: source}:
		metrics.IngestReadings.WithLabelValues(source, "accepted").Inc()
		metrics.IngestQueueDepth.WithLabelValues(strconv.Itoa(shard)).Set(float64(len(p.shards[shard])))
		return nil
	default:
		metrics.IngestReadings.WithLabelValues(source, "dropped").Inc()
		p.log.Warn().
			Str("device_id", r.DeviceID).
			Str("source", source).
			Int("shard", shard).
			Msg("ingest queue full, dropping reading")
		return ErrQueueFull
	}
}

func shardFor(deviceID string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(deviceID))
	return int(h.Sum32() % uint32(n))
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	log := p.log.With().Int("worker_id", id).Logger()
	depth := metrics.IngestQueueDepth.WithLabelValues(strconv.Itoa(id))

	for j := range p.shards[id] {
		p.evaluate(log, j)
		depth.Set(float64(len(p.shards[id])))
	}
}

// evaluate runs one reading and contains a panic to that reading.
func (p *Pool) evaluate(log zerolog.Logger, j job) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Str("device_id", j.reading.DeviceID).
				Msg("worker panic recovered")
			metrics.PanicsRecovered.WithLabelValues("ingest_pool").Inc()
			metrics.IngestReadings.WithLabelValues(j.source, "failed").Inc()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	out, err := p.eval.Evaluate(ctx, j.reading)
	if err != nil {
		metrics.IngestReadings.WithLabelValues(j.source, "failed").Inc()
		log.Warn().Err(err).Str("device_id", j.reading.DeviceID).Msg("reading evaluation failed")
		return
	}
	metrics.IngestReadings.WithLabelValues(j.source, "evaluated").Inc()
	if len(out.Created) > 0 || len(out.Resolved) > 0 {
		log.Debug().
			Str("device_id", j.reading.DeviceID).
			Int("created", len(out.Created)).
			Int("resolved", len(out.Resolved)).
			Msg("reading evaluated")
	}
}
