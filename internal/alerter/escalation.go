package alerter

import (
	"sync"
	"time"

	"github.com/rishi925-eng/Vital-Trace/internal/clock"
	"github.com/rishi925-eng/Vital-Trace/internal/metrics"
	"github.com/rs/zerolog"
)

// EscalateFunc is called when an alert's escalation delay elapses. It must
// re-check the alert's status itself; the scheduler only keeps time.
type EscalateFunc func(alertID string)

// EscalationScheduler keeps one timer per alert.
type EscalationScheduler struct {
	log        zerolog.Logger
	clock      clock.Clock
	onEscalate EscalateFunc
	mu         sync.Mutex
	timers     map[string]clock.Timer // alert ID -> pending timer
	stopped    bool
}

// NewEscalationScheduler creates a new escalation scheduler.
func NewEscalationScheduler(log zerolog.Logger, clk clock.Clock, onEscalate EscalateFunc) *EscalationScheduler {
	if clk == nil {
		clk = clock.Real{}
	}
	return &EscalationScheduler{
		log:        log.With().Str("component", "escalation").Logger(),
		clock:      clk,
		onEscalate: onEscalate,
		timers:     make(map[string]clock.Timer),
	}
}

// Arm schedules an escalation check for alertID after delay. A zero delay arms
// nothing. Re-arming replaces the pending timer.
func (s *EscalationScheduler) Arm(alertID string, delay time.Duration) {
	if delay <= 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}

	if t, ok := s.timers[alertID]; ok {
		t.Stop()
	}

	var timer clock.Timer
	timer = s.clock.AfterFunc(delay, func() {
		s.mu.Lock()
		// a replaced or disarmed timer must not fire
		if current, ok := s.timers[alertID]; !ok || current != timer {
			s.mu.Unlock()
			return
		}
		delete(s.timers, alertID)
		metrics.EscalationTimers.Set(float64(len(s.timers)))
		s.mu.Unlock()

		s.log.Debug().Str("alert_id", alertID).Msg("escalation timer fired")
		if s.onEscalate != nil {
			s.onEscalate(alertID)
		}
	})
	s.timers[alertID] = timer
	metrics.EscalationTimers.Set(float64(len(s.timers)))

	s.log.Debug().
		Str("alert_id", alertID).
		Dur("delay", delay).
		Msg("escalation timer started")
}

// Disarm cancels the pending escalation for alertID and reports whether one existed.
func (s *EscalationScheduler) Disarm(alertID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.timers[alertID]
	if !ok {
		return false
	}
	t.Stop()
	delete(s.timers, alertID)
	metrics.EscalationTimers.Set(float64(len(s.timers)))
	s.log.Debug().Str("alert_id", alertID).Msg("escalation cancelled")
	return true
}

// Pending returns the number of armed timers.
func (s *EscalationScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop cancels all pending escalation timers and refuses new ones.
func (s *EscalationScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	metrics.EscalationTimers.Set(0)
}
