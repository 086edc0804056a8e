package alerter

import (
	"sync"
	"time"

	"github.com/rishi925-eng/Vital-Trace/internal/metrics"
	"github.com/rishi925-eng/Vital-Trace/internal/rules"
	"github.com/rishi925-eng/Vital-Trace/internal/types"
	"github.com/rs/zerolog"
)

const (
	// DefaultFrequencyWindow is the rolling window of the per-key fire cap.
	DefaultFrequencyWindow = time.Hour
	// DefaultFrequencyCap is the number of fires allowed per key within the window.
	DefaultFrequencyCap = 5
)

// SuppressReason explains why a matched condition was not raised.
type SuppressReason string

const (
	NotSuppressed        SuppressReason = ""
	SuppressCooldown     SuppressReason = "cooldown"
	SuppressFrequencyCap SuppressReason = "frequency_cap"
)

type suppressionKey struct {
	deviceID string
	kind     types.RuleKind
}

func (k suppressionKey) String() string {
	return k.deviceID + "|" + string(k.kind)
}

type suppressionState struct {
	mu                sync.Mutex
	lastFiredAt       time.Time
	fireCountInWindow int
	windowStart       time.Time
}

// rollover restarts the window once it has elapsed. Caller holds s.mu.
func (s *suppressionState) rollover(now time.Time, window time.Duration) {
	if now.Sub(s.windowStart) >= window {
		s.fireCountInWindow = 0
		s.windowStart = now
	}
}

// SuppressionTracker tracks last fire time and rolling fire count per (device, rule)
// and decides whether a newly matched condition should be held back.
type SuppressionTracker struct {
	log     zerolog.Logger
	catalog *rules.Catalog
	window  time.Duration
	cap     int

	mu     sync.RWMutex
	states map[suppressionKey]*suppressionState
}

// NewSuppressionTracker creates a tracker reading cooldowns from catalog.
// Non-positive window or limit select the defaults.
func NewSuppressionTracker(log zerolog.Logger, catalog *rules.Catalog, window time.Duration, limit int) *SuppressionTracker {
	if window <= 0 {
		window = DefaultFrequencyWindow
	}
	if limit <= 0 {
		limit = DefaultFrequencyCap
	}
	return &SuppressionTracker{
		log:     log.With().Str("component", "suppression").Logger(),
		catalog: catalog,
		window:  window,
		cap:     limit,
		states:  make(map[suppressionKey]*suppressionState),
	}
}

func (t *SuppressionTracker) state(key suppressionKey, create bool) *suppressionState {
	t.mu.RLock()
	s, ok := t.states[key]
	t.mu.RUnlock()
	if ok || !create {
		return s
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok = t.states[key]; ok {
		return s
	}
	s = &suppressionState{}
	t.states[key] = s
	metrics.SuppressionEntries.Set(float64(len(t.states)))
	return s
}

// Check returns why a fire of (deviceID, kind) at now would be suppressed, or
// NotSuppressed. Cooldown is checked first.
func (t *SuppressionTracker) Check(deviceID string, kind types.RuleKind, now time.Time) SuppressReason {
	s := t.state(suppressionKey{deviceID, kind}, false)
	if s == nil {
		return NotSuppressed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.lastFiredAt.IsZero() && now.Sub(s.lastFiredAt) < t.catalog.Lookup(kind).Cooldown {
		return SuppressCooldown
	}
	s.rollover(now, t.window)
	if s.fireCountInWindow >= t.cap {
		return SuppressFrequencyCap
	}
	return NotSuppressed
}

// ShouldSuppress reports whether a fire at now would be suppressed.
func (t *SuppressionTracker) ShouldSuppress(deviceID string, kind types.RuleKind, now time.Time) bool {
	return t.Check(deviceID, kind, now) != NotSuppressed
}

// RecordFire counts a fire of (deviceID, kind) at now.
func (t *SuppressionTracker) RecordFire(deviceID string, kind types.RuleKind, now time.Time) {
	key := suppressionKey{deviceID, kind}
	s := t.state(key, true)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.windowStart.IsZero() {
		s.windowStart = now
	}
	s.rollover(now, t.window)
	s.fireCountInWindow++
	s.lastFiredAt = now

	t.log.Debug().
		Str("key", key.String()).
		Int("fires_in_window", s.fireCountInWindow).
		Msg("fire recorded")
}

// Evict removes entries whose last fire is before olderThan and returns how many were removed.
func (t *SuppressionTracker) Evict(olderThan time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for key, s := range t.states {
		s.mu.Lock()
		stale := s.lastFiredAt.Before(olderThan)
		s.mu.Unlock()
		if stale {
			delete(t.states, key)
			removed++
		}
	}
	metrics.SuppressionEntries.Set(float64(len(t.states)))

	if removed > 0 {
		t.log.Info().Int("evicted", removed).Int("remaining", len(t.states)).Msg("suppression entries evicted")
	}
	return removed
}

// Len returns the number of tracked keys.
func (t *SuppressionTracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.states)
}
