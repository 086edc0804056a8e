package notifier

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rishi925-eng/Vital-Trace/internal/clock"
	"github.com/rishi925-eng/Vital-Trace/internal/metrics"
	"github.com/rishi925-eng/Vital-Trace/internal/types"
	"github.com/rs/zerolog"
)

// DefaultChannelTimeout bounds each channel send.
const DefaultChannelTimeout = 10 * time.Second

// ResultObserver receives the results of every dispatch.
type ResultObserver interface {
	ObserveDelivery(alert types.Alert, results []types.DeliveryResult)
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	Senders        []Sender
	Routing        Routing
	Resolver       RecipientResolver
	ChannelTimeout time.Duration
	Clock          clock.Clock
	Observers      []ResultObserver
}

// Dispatcher fans an alert out to its severity's channels. Channels run
// concurrently and independently; one channel's failure never blocks another.
type Dispatcher struct {
	logger    zerolog.Logger
	senders   map[types.Channel]Sender
	routing   Routing
	resolver  RecipientResolver
	timeout   time.Duration
	clock     clock.Clock
	observers []ResultObserver
}

// NewDispatcher creates a dispatcher. Channels without a sender are reported as skipped.
func NewDispatcher(cfg DispatcherConfig, logger zerolog.Logger) *Dispatcher {
	if cfg.ChannelTimeout <= 0 {
		cfg.ChannelTimeout = DefaultChannelTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Resolver == nil {
		cfg.Resolver = NewContactBook(nil)
	}
	senders := make(map[types.Channel]Sender, len(cfg.Senders))
	for _, s := range cfg.Senders {
		senders[s.Channel()] = s
	}
	return &Dispatcher{
		logger:    logger.With().Str("component", "dispatcher").Logger(),
		senders:   senders,
		routing:   cfg.Routing,
		resolver:  cfg.Resolver,
		timeout:   cfg.ChannelTimeout,
		clock:     cfg.Clock,
		observers: cfg.Observers,
	}
}

// AddObserver registers o for subsequent dispatches. Not safe to call concurrently with Dispatch.
func (d *Dispatcher) AddObserver(o ResultObserver) {
	d.observers = append(d.observers, o)
}

// Dispatch delivers a newly created alert. It returns one result per routed
// channel, in routing order, and never fails as a whole.
func (d *Dispatcher) Dispatch(ctx context.Context, alert types.Alert, device *types.DeviceProfile) []types.DeliveryResult {
	return d.dispatch(ctx, alert, device, false)
}

// DispatchEscalated delivers an escalated alert with the recipient set widened to admin.
func (d *Dispatcher) DispatchEscalated(ctx context.Context, alert types.Alert, device *types.DeviceProfile) []types.DeliveryResult {
	return d.dispatch(ctx, alert, device, true)
}

func (d *Dispatcher) dispatch(ctx context.Context, alert types.Alert, device *types.DeviceProfile, escalated bool) []types.DeliveryResult {
	channels := d.routing.ChannelsFor(alert.Severity)
	roles := RolesFor(alert.Severity, escalated)

	recipients, err := d.resolver.Resolve(ctx, roles)
	if err != nil {
		// channels that need recipients will skip; realtime and chat still go out
		d.logger.Warn().Err(err).Str("alert_id", alert.ID).Strs("roles", roles).Msg("Failed to resolve recipients")
		recipients = Recipients{}
	}

	n := Notification{
		Alert:      alert,
		Device:     device,
		Recipients: recipients,
		Escalated:  escalated,
	}

	results := make([]types.DeliveryResult, len(channels))
	var wg sync.WaitGroup
	for i, ch := range channels {
		wg.Add(1)
		go func(i int, ch types.Channel) {
			defer wg.Done()
			results[i] = d.sendOne(ctx, ch, n)
		}(i, ch)
	}
	wg.Wait()

	d.logSummary(alert, escalated, results)
	for _, o := range d.observers {
		o.ObserveDelivery(alert, results)
	}
	return results
}

func (d *Dispatcher) sendOne(ctx context.Context, ch types.Channel, n Notification) (result types.DeliveryResult) {
	log := d.logger.With().Str("channel", string(ch)).Str("alert_id", n.Alert.ID).Logger()
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("channel send panic recovered")
			metrics.PanicsRecovered.WithLabelValues("dispatcher").Inc()
			result = d.result(n.Alert.ID, ch, types.DeliveryFailed, fmt.Sprintf("panic: %v", r))
		}
		metrics.DeliveryResults.WithLabelValues(string(ch), string(result.Status)).Inc()
		metrics.DeliveryDuration.WithLabelValues(string(ch)).Observe(time.Since(start).Seconds())
	}()

	sender, ok := d.senders[ch]
	if !ok {
		log.Info().Msg("Channel not configured, skipping")
		return d.result(n.Alert.ID, ch, types.DeliverySkipped, ErrNotConfigured.Error())
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	detail, err := sender.Send(sendCtx, n)
	switch {
	case err == nil:
		log.Debug().Str("detail", detail).Msg("Notification sent")
		return d.result(n.Alert.ID, ch, types.DeliverySent, detail)
	case errors.Is(err, ErrNotConfigured):
		log.Info().Str("reason", err.Error()).Msg("Channel not configured, skipping")
		return d.result(n.Alert.ID, ch, types.DeliverySkipped, err.Error())
	default:
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(sendCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s: %w", d.timeout, err)
		}
		log.Warn().Err(err).Msg("Failed to send notification")
		return d.result(n.Alert.ID, ch, types.DeliveryFailed, err.Error())
	}
}

func (d *Dispatcher) result(alertID string, ch types.Channel, status types.DeliveryStatus, detail string) types.DeliveryResult {
	return types.DeliveryResult{
		AlertID:   alertID,
		Channel:   ch,
		Status:    status,
		Detail:    detail,
		Timestamp: d.clock.Now(),
	}
}

func (d *Dispatcher) logSummary(alert types.Alert, escalated bool, results []types.DeliveryResult) {
	var sent, skipped, failed int
	for _, r := range results {
		switch r.Status {
		case types.DeliverySent:
			sent++
		case types.DeliverySkipped:
			skipped++
		case types.DeliveryFailed:
			failed++
		}
	}
	d.logger.Info().
		Str("alert_id", alert.ID).
		Str("severity", string(alert.Severity)).
		Bool("escalated", escalated).
		Int("sent", sent).
		Int("skipped", skipped).
		Int("failed", failed).
		Msg("Alert dispatched")
}
