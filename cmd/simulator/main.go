package main

import (
	"context"
	"flag"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/rishi925-eng/Vital-Trace/internal/ingest"
	"github.com/rishi925-eng/Vital-Trace/internal/types"
)

// box models one cold-chain storage unit.
type box struct {
	id      string
	target  float64
	temp    float64
	battery float64
	signal  float64
	door    bool
	cooling bool
}

func newBox(id string, target float64) *box {
	return &box{
		id:      id,
		target:  target,
		temp:    target + (rand.Float64()-0.5)*2,
		battery: 95 + rand.Float64()*5,
		signal:  70 + rand.Float64()*30,
	}
}

// step advances the model by one tick. anomaly forces an excursion.
func (b *box) step(anomaly bool) types.Reading {
	// ambient drift pulls temperature up, cooling pulls it back towards target
	b.temp += 0.05 + (rand.Float64()-0.5)*0.2
	if b.door {
		b.temp += rand.Float64() * 0.5
	}

	b.cooling = b.temp > b.target+1 && b.battery > 10
	if b.cooling {
		b.temp -= 0.3
		b.battery -= 0.05
	}
	b.battery -= 0.01

	// rare door events, closed again within a few ticks
	switch {
	case !b.door && rand.Float64() < 0.008:
		b.door = true
	case b.door && rand.Float64() < 0.3:
		b.door = false
	}

	b.signal = clamp(b.signal+(rand.Float64()-0.5)*4, 0, 100)

	if anomaly {
		switch rand.Intn(4) {
		case 0:
			b.temp += 4 + rand.Float64()*8
		case 1:
			b.temp -= 4 + rand.Float64()*8
		case 2:
			b.battery = 3 + rand.Float64()*10
		default:
			b.signal = rand.Float64() * 15
		}
	}
	b.battery = clamp(b.battery, 1, 100)

	power := types.PowerStatusNormal
	if b.battery < 15 {
		power = types.PowerStatusLow
	}

	return types.Reading{
		DeviceID:       b.id,
		Timestamp:      time.Now().UTC(),
		Temperature:    types.Float64(round2(b.temp)),
		BatteryLevel:   types.Float64(round2(b.battery)),
		DoorOpen:       types.Bool(b.door),
		PowerStatus:    types.Power(power),
		SignalStrength: types.Float64(round2(b.signal)),
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func main() {
	natsURL := flag.String("nats", "nats://localhost:4222", "NATS server URL")
	deviceList := flag.String("devices", "VT-001,VT-002,VT-003", "Comma-separated device IDs")
	interval := flag.Duration("interval", 5*time.Second, "Time between reading rounds")
	anomalyRate := flag.Float64("anomaly-rate", 0.02, "Probability that a reading carries an injected excursion")
	target := flag.Float64("target", 5, "Target storage temperature in °C")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).With().Timestamp().Str("component", "simulator").Logger()

	var boxes []*box
	for _, id := range strings.Split(*deviceList, ",") {
		if id = strings.TrimSpace(id); id != "" {
			boxes = append(boxes, newBox(id, *target))
		}
	}
	if len(boxes) == 0 {
		logger.Fatal().Msg("No devices given")
	}

	pub, err := ingest.NewPublisher(*natsURL, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("url", *natsURL).Msg("Failed to connect to NATS")
	}
	defer pub.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info().Int("devices", len(boxes)).Dur("interval", *interval).Msg("Publishing readings")

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("Simulator stopped")
			return
		case <-ticker.C:
			for _, b := range boxes {
				r := b.step(rand.Float64() < *anomalyRate)
				if err := pub.Publish(r); err != nil {
					logger.Warn().Err(err).Str("device_id", b.id).Msg("Publish failed")
					continue
				}
				logger.Debug().
					Str("device_id", b.id).
					Float64("temperature", *r.Temperature).
					Float64("battery", *r.BatteryLevel).
					Bool("door_open", *r.DoorOpen).
					Msg("Reading published")
			}
		}
	}
}
