package ingest

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/rishi925-eng/Vital-Trace/internal/metrics"
	"github.com/rishi925-eng/Vital-Trace/internal/types"
)

// SubjectPrefix is the subject readings are published under, one token per device.
const SubjectPrefix = "vitaltrace.readings."

// SubjectFor returns the subject for a device's readings.
func SubjectFor(deviceID string) string {
	return SubjectPrefix + deviceID
}

func connect(url, name string, log zerolog.Logger) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}
	return conn, nil
}

// Subscriber consumes readings from NATS into a Pool.
type Subscriber struct {
	Conn *nats.Conn
	pool *Pool
	log  zerolog.Logger
	sub  *nats.Subscription
}

// NewSubscriber connects to NATS.
func NewSubscriber(url string, pool *Pool, log zerolog.Logger) (*Subscriber, error) {
	log = log.With().Str("component", "nats_ingest").Logger()
	conn, err := connect(url, "vitaltrace-ingest", log)
	if err != nil {
		return nil, err
	}
	return &Subscriber{Conn: conn, pool: pool, log: log}, nil
}

// Subscribe starts consuming subject. With a queue group, readings are shared
// across service replicas.
func (s *Subscriber) Subscribe(subject, queueGroup string) error {
	var err error
	if queueGroup != "" {
		s.sub, err = s.Conn.QueueSubscribe(subject, queueGroup, s.handle)
	} else {
		s.sub, err = s.Conn.Subscribe(subject, s.handle)
	}
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	s.log.Info().Str("subject", subject).Str("queue_group", queueGroup).Msg("subscribed to readings")
	return nil
}

func (s *Subscriber) handle(msg *nats.Msg) {
	r, err := DecodeReading(msg.Subject, msg.Data)
	if err != nil {
		metrics.IngestReadings.WithLabelValues("nats", "invalid").Inc()
		s.log.Warn().Err(err).Str("subject", msg.Subject).Msg("discarding malformed reading")
		return
	}
	// drops are counted and logged by the pool
	_ = s.pool.Submit(r, "nats")
}

// DecodeReading parses a JSON reading. A missing device ID is taken from the last
// subject token.
func DecodeReading(subject string, data []byte) (types.Reading, error) {
	var r types.Reading
	if err := json.Unmarshal(data, &r); err != nil {
		return types.Reading{}, fmt.Errorf("decode reading: %w", err)
	}
	if r.DeviceID == "" {
		if i := strings.LastIndex(subject, "."); i >= 0 && i < len(subject)-1 {
			if token := subject[i+1:]; token != "*" && token != ">" {
				r.DeviceID = token
			}
		}
	}
	if r.DeviceID == "" {
		return types.Reading{}, fmt.Errorf("decode reading: missing device_id")
	}
	return r, nil
}

// Close drains the subscription and closes the connection.
func (s *Subscriber) Close() {
	if s.Conn != nil {
		_ = s.Conn.Drain()
		s.Conn.Close()
	}
}

// Publisher sends readings to NATS.
type Publisher struct {
	Conn *nats.Conn
}

// NewPublisher connects to NATS.
func NewPublisher(url string, log zerolog.Logger) (*Publisher, error) {
	conn, err := connect(url, "vitaltrace-publisher", log.With().Str("component", "nats_publisher").Logger())
	if err != nil {
		return nil, err
	}
	return &Publisher{Conn: conn}, nil
}

// Publish sends r on its device subject.
func (p *Publisher) Publish(r types.Reading) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return p.Conn.Publish(SubjectFor(r.DeviceID), data)
}

// Close flushes pending messages and closes the connection.
func (p *Publisher) Close() {
	if p.Conn != nil {
		_ = p.Conn.Drain()
		p.Conn.Close()
	}
}
