package alerter

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rishi925-eng/Vital-Trace/internal/clock"
	"github.com/rishi925-eng/Vital-Trace/internal/evaluator"
	"github.com/rishi925-eng/Vital-Trace/internal/events"
	"github.com/rishi925-eng/Vital-Trace/internal/metrics"
	"github.com/rishi925-eng/Vital-Trace/internal/store"
	"github.com/rishi925-eng/Vital-Trace/internal/types"
)

var (
	ErrInvalidReading = errors.New("invalid reading")
	ErrUnknownKind    = errors.New("unknown rule kind")
)

// maxTransitionAttempts bounds re-reads when a status transition loses a race to a
// transition that still leaves the alert open.
const maxTransitionAttempts = 3

// Dispatcher delivers alerts to notification channels.
type Dispatcher interface {
	Dispatch(ctx context.Context, alert types.Alert, device *types.DeviceProfile) []types.DeliveryResult
	DispatchEscalated(ctx context.Context, alert types.Alert, device *types.DeviceProfile) []types.DeliveryResult
}

// EventSink receives lifecycle events. It must not block.
type EventSink interface {
	Emit(e events.Event)
}

type noopSink struct{}

func (noopSink) Emit(events.Event) {}

// Config wires the engine's collaborators. Store, Devices and Evaluator are required.
type Config struct {
	Store      store.AlertStore
	Devices    store.DeviceDirectory
	Evaluator  *evaluator.Evaluator
	Tracker    *SuppressionTracker
	Dispatcher Dispatcher
	Events     EventSink
	Clock      clock.Clock
	// SyncDispatch delivers on the evaluating goroutine. Used by tests.
	SyncDispatch bool
	// DispatchTimeout bounds one asynchronous delivery, all channels included.
	DispatchTimeout time.Duration
}

// Outcome is the result of evaluating one reading.
type Outcome struct {
	Created  []types.Alert `json:"created"`
	Resolved []types.Alert `json:"resolved"`
	// Errors holds per-key store failures. Other keys were still evaluated.
	Errors []error `json:"-"`
}

// Engine manages alert lifecycle: evaluation, dedup, suppression, escalation and
// resolution. Safe for concurrent use across devices.
type Engine struct {
	store      store.AlertStore
	devices    store.DeviceDirectory
	evaluator  *evaluator.Evaluator
	tracker    *SuppressionTracker
	dispatcher Dispatcher
	events     EventSink
	clock      clock.Clock
	escalation *EscalationScheduler
	locks      *keyedMutex
	logger     zerolog.Logger

	syncDispatch    bool
	dispatchTimeout time.Duration
	inflight        sync.WaitGroup

	// stopMu guards stopped against inflight.Add racing Stop's Wait.
	stopMu  sync.Mutex
	stopped bool
}

// NewEngine creates a new alert engine
func NewEngine(cfg Config, logger zerolog.Logger) (*Engine, error) {
	if cfg.Store == nil || cfg.Devices == nil || cfg.Evaluator == nil {
		return nil, errors.New("alerter: store, devices and evaluator are required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Events == nil {
		cfg.Events = noopSink{}
	}
	if cfg.Tracker == nil {
		cfg.Tracker = NewSuppressionTracker(logger, cfg.Evaluator.Catalog(), 0, 0)
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = time.Minute
	}

	e := &Engine{
		store:           cfg.Store,
		devices:         cfg.Devices,
		evaluator:       cfg.Evaluator,
		tracker:         cfg.Tracker,
		dispatcher:      cfg.Dispatcher,
		events:          cfg.Events,
		clock:           cfg.Clock,
		locks:           newKeyedMutex(),
		logger:          logger.With().Str("component", "alerter").Logger(),
		syncDispatch:    cfg.SyncDispatch,
		dispatchTimeout: cfg.DispatchTimeout,
	}
	e.escalation = NewEscalationScheduler(logger, cfg.Clock, e.escalate)
	return e, nil
}

// Tracker returns the engine's suppression tracker.
func (e *Engine) Tracker() *SuppressionTracker {
	return e.tracker
}

// PendingEscalations returns the number of armed escalation timers.
func (e *Engine) PendingEscalations() int {
	return e.escalation.Pending()
}

// Evaluate runs one reading through rule matching and the auto-resolve pass.
// A non-nil error means some keys failed; the outcome still holds what succeeded.
func (e *Engine) Evaluate(ctx context.Context, r types.Reading) (Outcome, error) {
	var out Outcome
	if r.DeviceID == "" {
		return out, fmt.Errorf("%w: missing device ID", ErrInvalidReading)
	}

	now := e.clock.Now()
	if r.Timestamp.IsZero() {
		r.Timestamp = now
	}

	device, err := e.lookupDevice(ctx, r.DeviceID)
	if err != nil {
		out.Errors = append(out.Errors, err)
	}
	metrics.ReadingsEvaluated.WithLabelValues(strconv.FormatBool(device != nil)).Inc()

	for _, m := range e.evaluator.Match(r, device) {
		alert := types.Alert{
			DeviceID: r.DeviceID,
			RuleKind: m.Kind,
			Severity: m.Severity,
			Title:    m.Title,
			Message:  m.Message,
			Metadata: r.Metadata(),
		}
		created, ok, err := e.createIfAllowed(ctx, alert, now)
		if err != nil {
			out.Errors = append(out.Errors, err)
			continue
		}
		if ok {
			out.Created = append(out.Created, created)
		}
	}

	fresh := make(map[string]bool, len(out.Created))
	for _, a := range out.Created {
		fresh[a.ID] = true
	}
	resolved, errs := e.autoResolve(ctx, r, device, fresh)
	out.Resolved = resolved
	out.Errors = append(out.Errors, errs...)

	for _, a := range out.Created {
		e.deliver(a, device, false)
	}
	return out, errors.Join(out.Errors...)
}

// Raise creates an alert for a condition detected outside reading evaluation
// (maintenance due, anomaly, sensor malfunction). It goes through the same dedup and
// suppression path; ok is false when the alert was deduplicated or suppressed.
func (e *Engine) Raise(ctx context.Context, deviceID string, kind types.RuleKind, message string, metadata map[string]string) (types.Alert, bool, error) {
	if deviceID == "" {
		return types.Alert{}, false, fmt.Errorf("%w: missing device ID", ErrInvalidReading)
	}
	if !kind.Valid() {
		return types.Alert{}, false, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	device, err := e.lookupDevice(ctx, deviceID)
	if err != nil {
		return types.Alert{}, false, err
	}
	name := deviceID
	if device != nil {
		name = device.Name()
	}

	rule := e.evaluator.Catalog().Lookup(kind)
	alert := types.Alert{
		DeviceID: deviceID,
		RuleKind: kind,
		Severity: rule.Severity,
		Title:    kind.Title() + " - " + name,
		Message:  message,
		Metadata: metadata,
	}
	created, ok, err := e.createIfAllowed(ctx, alert, e.clock.Now())
	if err != nil || !ok {
		return types.Alert{}, false, err
	}
	e.deliver(created, device, false)
	return created, true, nil
}

// lookupDevice returns nil without error for unknown devices. A directory failure is
// returned and the reading is evaluated as if the device were unknown.
func (e *Engine) lookupDevice(ctx context.Context, deviceID string) (*types.DeviceProfile, error) {
	p, err := e.devices.Lookup(ctx, deviceID)
	switch {
	case err == nil:
		return &p, nil
	case errors.Is(err, store.ErrUnknownDevice):
		e.logger.Warn().Str("device_id", deviceID).Msg("Unknown device, evaluating absolute thresholds only")
		return nil, nil
	default:
		e.logger.Error().Err(err).Str("device_id", deviceID).Msg("Device lookup failed")
		return nil, fmt.Errorf("lookup device %s: %w", deviceID, err)
	}
}

// createIfAllowed runs has-active, suppression, create and record-fire as one critical
// section for the (device, kind) key.
func (e *Engine) createIfAllowed(ctx context.Context, alert types.Alert, now time.Time) (types.Alert, bool, error) {
	unlock := e.locks.Lock(alert.DeviceID + "|" + string(alert.RuleKind))
	defer unlock()

	log := e.logger.With().
		Str("device_id", alert.DeviceID).
		Str("rule_kind", string(alert.RuleKind)).
		Logger()

	active, err := e.store.HasActive(ctx, alert.DeviceID, alert.RuleKind)
	if err != nil {
		metrics.EvaluationErrors.Inc()
		log.Error().Err(err).Msg("Active alert check failed")
		return types.Alert{}, false, fmt.Errorf("check active %s/%s: %w", alert.DeviceID, alert.RuleKind, err)
	}
	if active {
		metrics.AlertsDeduplicated.WithLabelValues(string(alert.RuleKind)).Inc()
		log.Debug().Msg("Alert already open, skipping duplicate")
		return types.Alert{}, false, nil
	}

	if reason := e.tracker.Check(alert.DeviceID, alert.RuleKind, now); reason != NotSuppressed {
		metrics.AlertsSuppressed.WithLabelValues(string(alert.RuleKind), string(reason)).Inc()
		log.Debug().Str("reason", string(reason)).Msg("Alert suppressed")
		return types.Alert{}, false, nil
	}

	alert.Status = types.StatusActive
	alert.CreatedAt = now
	id, err := e.store.Create(ctx, alert)
	if err != nil {
		metrics.EvaluationErrors.Inc()
		log.Error().Err(err).Msg("Alert create failed")
		return types.Alert{}, false, fmt.Errorf("create alert %s/%s: %w", alert.DeviceID, alert.RuleKind, err)
	}
	alert.ID = id
	e.tracker.RecordFire(alert.DeviceID, alert.RuleKind, now)

	metrics.AlertsCreated.WithLabelValues(string(alert.RuleKind), string(alert.Severity)).Inc()
	log.Info().
		Str("alert_id", id).
		Str("severity", string(alert.Severity)).
		Str("title", alert.Title).
		Msg("Alert fired")

	e.escalation.Arm(id, e.evaluator.Catalog().Lookup(alert.RuleKind).EscalateAfter)
	e.events.Emit(events.ForAlert(events.AlertCreated, alert, now))
	return alert, true, nil
}

// autoResolve resolves every open alert on the device whose condition the reading
// shows cleared.
// Alerts in skip were created by this same reading and are left open.
func (e *Engine) autoResolve(ctx context.Context, r types.Reading, device *types.DeviceProfile, skip map[string]bool) ([]types.Alert, []error) {
	open, err := e.store.ListOpen(ctx, r.DeviceID)
	if err != nil {
		metrics.EvaluationErrors.Inc()
		e.logger.Error().Err(err).Str("device_id", r.DeviceID).Msg("Listing open alerts failed")
		return nil, []error{fmt.Errorf("list open alerts %s: %w", r.DeviceID, err)}
	}

	var resolved []types.Alert
	var errs []error
	for _, a := range open {
		if skip[a.ID] || !e.evaluator.Cleared(a, r, device) {
			continue
		}
		got, ok, err := e.transitionToResolved(ctx, a, "auto")
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			resolved = append(resolved, got)
		}
	}
	return resolved, errs
}

// Acknowledge marks an active or escalated alert acknowledged and cancels its pending
// escalation. It returns false when the alert is not in an acknowledgeable state.
func (e *Engine) Acknowledge(ctx context.Context, id string) (bool, error) {
	a, err := e.store.Get(ctx, id)
	if err != nil {
		return false, err
	}

	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		if a.Status != types.StatusActive && a.Status != types.StatusEscalated {
			return false, nil
		}
		now := e.clock.Now()
		ok, err := e.store.TransitionStatus(ctx, id, a.Status, types.StatusAcknowledged, now)
		if err != nil {
			return false, fmt.Errorf("acknowledge %s: %w", id, err)
		}
		if ok {
			e.escalation.Disarm(id)
			a.Status = types.StatusAcknowledged
			a.AcknowledgedAt = &now
			metrics.AlertsAcknowledged.Inc()
			e.events.Emit(events.ForAlert(events.AlertAcknowledged, a, now))
			e.logger.Info().Str("alert_id", id).Str("device_id", a.DeviceID).Msg("Alert acknowledged")
			return true, nil
		}

		metrics.RacesLost.WithLabelValues("acknowledge").Inc()
		e.logger.Debug().Str("alert_id", id).Str("from", string(a.Status)).Msg("Acknowledge lost race, re-reading")
		if a, err = e.store.Get(ctx, id); err != nil {
			return false, err
		}
	}
	return false, nil
}

// Resolve manually resolves an open alert and cancels its pending escalation.
// It returns false when the alert is already resolved.
func (e *Engine) Resolve(ctx context.Context, id string) (bool, error) {
	a, err := e.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	_, ok, err := e.transitionToResolved(ctx, a, "manual")
	return ok, err
}

// transitionToResolved moves a from its observed status to resolved. When the
// transition loses a race the alert is re-read and retried while it is still open.
func (e *Engine) transitionToResolved(ctx context.Context, a types.Alert, source string) (types.Alert, bool, error) {
	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		if !a.Status.Open() {
			return types.Alert{}, false, nil
		}
		now := e.clock.Now()
		ok, err := e.store.TransitionStatus(ctx, a.ID, a.Status, types.StatusResolved, now)
		if err != nil {
			metrics.EvaluationErrors.Inc()
			return types.Alert{}, false, fmt.Errorf("resolve %s: %w", a.ID, err)
		}
		if ok {
			e.escalation.Disarm(a.ID)
			a.Status = types.StatusResolved
			a.ResolvedAt = &now
			metrics.AlertsResolved.WithLabelValues(string(a.RuleKind), source).Inc()
			e.events.Emit(events.ForAlert(events.AlertResolved, a, now))
			e.logger.Info().
				Str("alert_id", a.ID).
				Str("device_id", a.DeviceID).
				Str("rule_kind", string(a.RuleKind)).
				Str("source", source).
				Msg("Alert resolved")
			return a, true, nil
		}

		metrics.RacesLost.WithLabelValues("resolve").Inc()
		e.logger.Debug().Str("alert_id", a.ID).Str("from", string(a.Status)).Msg("Resolve lost race, re-reading")
		if a, err = e.store.Get(ctx, a.ID); err != nil {
			return types.Alert{}, false, err
		}
	}
	return types.Alert{}, false, nil
}

// escalate runs when an alert's escalation delay elapses. Only active alerts
// escalate; anything else is a no-op.
func (e *Engine) escalate(alertID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	log := e.logger.With().Str("alert_id", alertID).Logger()

	a, err := e.store.Get(ctx, alertID)
	if err != nil {
		log.Error().Err(err).Msg("Escalation lookup failed")
		return
	}
	if a.Status != types.StatusActive {
		log.Debug().Str("status", string(a.Status)).Msg("Alert no longer active, skipping escalation")
		return
	}

	now := e.clock.Now()
	ok, err := e.store.TransitionStatus(ctx, alertID, types.StatusActive, types.StatusEscalated, now)
	if err != nil {
		log.Error().Err(err).Msg("Escalation transition failed")
		return
	}
	if !ok {
		metrics.RacesLost.WithLabelValues("escalate").Inc()
		log.Debug().Msg("Escalation lost race, alert changed state")
		return
	}

	if raised := a.Severity.Raise(); raised != a.Severity {
		if err := e.store.RaiseSeverity(ctx, alertID, raised); err != nil {
			log.Error().Err(err).Msg("Raising severity failed")
		}
	}
	if a, err = e.store.Get(ctx, alertID); err != nil {
		log.Error().Err(err).Msg("Escalated alert lookup failed")
		return
	}

	metrics.AlertsEscalated.WithLabelValues(string(a.RuleKind)).Inc()
	e.events.Emit(events.ForAlert(events.AlertEscalated, a, now))
	log.Info().
		Str("device_id", a.DeviceID).
		Str("rule_kind", string(a.RuleKind)).
		Str("severity", string(a.Severity)).
		Msg("Escalating unresolved alert")

	device, _ := e.lookupDevice(ctx, a.DeviceID)
	e.deliver(a, device, true)
}

// deliver hands an alert to the dispatcher. Delivery outcome never feeds back
// into evaluation.
func (e *Engine) deliver(a types.Alert, device *types.DeviceProfile, escalated bool) {
	if e.dispatcher == nil {
		return
	}
	send := func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.dispatchTimeout)
		defer cancel()
		if escalated {
			e.dispatcher.DispatchEscalated(ctx, a, device)
		} else {
			e.dispatcher.Dispatch(ctx, a, device)
		}
	}
	e.stopMu.Lock()
	if e.stopped {
		e.stopMu.Unlock()
		e.logger.Debug().Str("alert_id", a.ID).Msg("Engine stopped, dropping delivery")
		return
	}
	e.inflight.Add(1)
	e.stopMu.Unlock()

	if e.syncDispatch {
		defer e.inflight.Done()
		send()
		return
	}
	go func() {
		defer e.inflight.Done()
		send()
	}()
}

// Get returns one alert.
func (e *Engine) Get(ctx context.Context, id string) (types.Alert, error) {
	return e.store.Get(ctx, id)
}

// ActiveAlerts returns all open alerts, newest first.
func (e *Engine) ActiveAlerts(ctx context.Context) ([]types.Alert, error) {
	return e.store.ListOpen(ctx, "")
}

// DeviceCount is one row of the top-devices table.
type DeviceCount struct {
	DeviceID string `json:"device_id"`
	Count    int    `json:"count"`
}

// Stats summarizes alerts created in a period.
type Stats struct {
	Since          time.Time              `json:"since"`
	Total          int                    `json:"total"`
	BySeverity     map[types.Severity]int `json:"by_severity"`
	ByKind         map[types.RuleKind]int `json:"by_kind"`
	ByStatus       map[types.Status]int   `json:"by_status"`
	ResolutionRate float64                `json:"resolution_rate"`
	TopDevices     []DeviceCount          `json:"top_devices"`
}

const topDeviceLimit = 10

// Stats returns alert statistics for alerts created at or after since.
func (e *Engine) Stats(ctx context.Context, since time.Time) (Stats, error) {
	alerts, err := e.store.ListSince(ctx, since)
	if err != nil {
		return Stats{}, fmt.Errorf("list alerts since %s: %w", since.Format(time.RFC3339), err)
	}

	s := Stats{
		Since:      since,
		Total:      len(alerts),
		BySeverity: make(map[types.Severity]int),
		ByKind:     make(map[types.RuleKind]int),
		ByStatus:   make(map[types.Status]int),
	}
	perDevice := make(map[string]int)
	for _, a := range alerts {
		s.BySeverity[a.Severity]++
		s.ByKind[a.RuleKind]++
		s.ByStatus[a.Status]++
		perDevice[a.DeviceID]++
	}
	if s.Total > 0 {
		s.ResolutionRate = float64(s.ByStatus[types.StatusResolved]) / float64(s.Total) * 100
	}

	for id, n := range perDevice {
		s.TopDevices = append(s.TopDevices, DeviceCount{DeviceID: id, Count: n})
	}
	sort.Slice(s.TopDevices, func(i, j int) bool {
		if s.TopDevices[i].Count != s.TopDevices[j].Count {
			return s.TopDevices[i].Count > s.TopDevices[j].Count
		}
		return s.TopDevices[i].DeviceID < s.TopDevices[j].DeviceID
	})
	if len(s.TopDevices) > topDeviceLimit {
		s.TopDevices = s.TopDevices[:topDeviceLimit]
	}
	return s, nil
}

// Stop cancels pending escalations and waits for in-flight deliveries.
func (e *Engine) Stop() {
	e.escalation.Stop()
	e.stopMu.Lock()
	e.stopped = true
	e.stopMu.Unlock()
	e.inflight.Wait()
	e.logger.Info().Msg("alert engine stopped")
}
