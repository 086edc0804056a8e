package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"github.com/rishi925-eng/Vital-Trace/internal/metrics"
)

// KafkaConfig configures the Kafka producer.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	PoolSize     int
	BatchSize    int
	BatchTimeout time.Duration
	WriteTimeout time.Duration
	RequiredAcks int
	Compression  string
	MaxRetries   int
	RetryBackoff time.Duration
}

// KafkaProducer publishes events keyed by device ID, so one device's events stay ordered
// within a partition.
type KafkaProducer struct {
	log     zerolog.Logger
	cfg     KafkaConfig
	writers []*kafka.Writer
	pool    chan *kafka.Writer
	closed  atomic.Bool

	messagesSent   atomic.Uint64
	messagesFailed atomic.Uint64
}

// NewKafkaProducer creates a producer with a pool of writers.
func NewKafkaProducer(cfg KafkaConfig, log zerolog.Logger) (*KafkaProducer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("topic is required")
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 2
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 50 * time.Millisecond
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 100 * time.Millisecond
	}
	if cfg.RequiredAcks == 0 {
		cfg.RequiredAcks = int(kafka.RequireOne)
	}

	p := &KafkaProducer{
		log:     log.With().Str("component", "kafka_producer").Logger(),
		cfg:     cfg,
		writers: make([]*kafka.Writer, cfg.PoolSize),
		pool:    make(chan *kafka.Writer, cfg.PoolSize),
	}

	for i := 0; i < cfg.PoolSize; i++ {
		w := &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			BatchSize:    cfg.BatchSize,
			BatchTimeout: cfg.BatchTimeout,
			WriteTimeout: cfg.WriteTimeout,
			RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
			Compression:  compression(cfg.Compression),
			MaxAttempts:  1, // retries are ours
		}
		p.writers[i] = w
		p.pool <- w
	}
	return p, nil
}

func compression(name string) compress.Compression {
	switch name {
	case "gzip":
		return compress.Gzip
	case "snappy":
		return compress.Snappy
	case "lz4":
		return compress.Lz4
	case "zstd":
		return compress.Zstd
	default:
		return compress.None
	}
}

func toMessage(e Event) (kafka.Message, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("%w: %v", ErrSerializeFailed, err)
	}
	return kafka.Message{
		Key:   []byte(e.DeviceID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Type)},
			{Key: "alert_id", Value: []byte(e.AlertID)},
		},
		Time: e.Timestamp,
	}, nil
}

// Publish sends one event.
func (p *KafkaProducer) Publish(ctx context.Context, e Event) error {
	return p.PublishBatch(ctx, []Event{e})
}

// PublishBatch sends events in one write, retrying with exponential backoff.
func (p *KafkaProducer) PublishBatch(ctx context.Context, batch []Event) error {
	if p.closed.Load() {
		return ErrPublisherClosed
	}
	if len(batch) == 0 {
		return nil
	}

	messages := make([]kafka.Message, 0, len(batch))
	for _, e := range batch {
		msg, err := toMessage(e)
		if err != nil {
			p.log.Error().Err(err).Str("alert_id", e.AlertID).Msg("failed to serialize event")
			p.messagesFailed.Add(1)
			metrics.EventsPublished.WithLabelValues("failed").Inc()
			continue
		}
		messages = append(messages, msg)
	}
	if len(messages) == 0 {
		return nil
	}

	var w *kafka.Writer
	select {
	case w = <-p.pool:
		defer func() { p.pool <- w }()
	case <-ctx.Done():
		p.messagesFailed.Add(uint64(len(messages)))
		return ctx.Err()
	}

	start := time.Now()
	err := p.writeWithRetry(ctx, w, messages)
	metrics.EventPublishDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		p.messagesFailed.Add(uint64(len(messages)))
		metrics.EventsPublished.WithLabelValues("failed").Add(float64(len(messages)))
		return err
	}
	p.messagesSent.Add(uint64(len(messages)))
	metrics.EventsPublished.WithLabelValues("success").Add(float64(len(messages)))
	return nil
}

func (p *KafkaProducer) writeWithRetry(ctx context.Context, w *kafka.Writer, messages []kafka.Message) error {
	var lastErr error
	backoff := p.cfg.RetryBackoff

	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			p.log.Warn().
				Int("attempt", attempt).
				Int("batch_size", len(messages)).
				Dur("backoff", backoff).
				Msg("retrying kafka publish")
			metrics.EventPublishRetries.Inc()

			select {
			case <-time.After(backoff):
				backoff *= 2
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := w.WriteMessages(ctx, messages...)
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
	}

	p.log.Error().
		Err(lastErr).
		Int("attempts", p.cfg.MaxRetries+1).
		Int("batch_size", len(messages)).
		Msg("kafka publish failed after all retries")
	return fmt.Errorf("failed after %d attempts: %w", p.cfg.MaxRetries+1, lastErr)
}

// Close closes all writers. Safe to call more than once.
func (p *KafkaProducer) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	var errs []error
	for _, w := range p.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ProducerStats holds cumulative producer counters.
type ProducerStats struct {
	MessagesSent   uint64 `json:"messages_sent"`
	MessagesFailed uint64 `json:"messages_failed"`
}

func (p *KafkaProducer) Stats() ProducerStats {
	return ProducerStats{
		MessagesSent:   p.messagesSent.Load(),
		MessagesFailed: p.messagesFailed.Load(),
	}
}
