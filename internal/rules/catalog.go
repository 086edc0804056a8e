// Package rules holds the immutable table of alert rule definitions.
package rules

import (
	"fmt"
	"sort"
	"time"

	"github.com/rishi925-eng/Vital-Trace/internal/types"
)

// Thresholds are the kind-specific match and clear bounds of a rule.
// Which fields apply depends on the kind; unused fields are zero.
type Thresholds struct {
	// Min matches values strictly below it (temperature critical, signal).
	Min float64
	// Max matches values strictly above it (temperature critical) or at-or-below it (battery).
	Max float64
	// Clear is the level a value has to pass for the alert to auto-resolve.
	Clear float64
	// RelativeToDevice marks rules whose bounds come from the device profile.
	RelativeToDevice bool
	// Duration is informational for dwell-style rules.
	Duration time.Duration
}

// Rule is one alert rule definition.
type Rule struct {
	Kind          types.RuleKind
	Severity      types.Severity
	Cooldown      time.Duration
	EscalateAfter time.Duration
	AutoResolve   bool
	Thresholds    Thresholds
}

// Override replaces selected fields of a default rule. Nil fields keep the default.
type Override struct {
	Severity      *types.Severity `yaml:"severity,omitempty"`
	Cooldown      *time.Duration  `yaml:"cooldown,omitempty"`
	EscalateAfter *time.Duration  `yaml:"escalate_after,omitempty"`
	AutoResolve   *bool           `yaml:"auto_resolve,omitempty"`
	Min           *float64        `yaml:"min,omitempty"`
	Max           *float64        `yaml:"max,omitempty"`
	Clear         *float64        `yaml:"clear,omitempty"`
}

// Catalog is a read-only rule table. Safe for concurrent use.
type Catalog struct {
	rules map[types.RuleKind]Rule
}

// Default returns the built-in cold-chain rule table.
func Default() *Catalog {
	return New([]Rule{
		{
			Kind:          types.TemperatureCritical,
			Severity:      types.SeverityCritical,
			Cooldown:      15 * time.Minute,
			EscalateAfter: 5 * time.Minute,
			AutoResolve:   true,
			Thresholds:    Thresholds{Min: -5, Max: 15},
		},
		{
			Kind:          types.TemperatureHigh,
			Severity:      types.SeverityHigh,
			Cooldown:      30 * time.Minute,
			EscalateAfter: 30 * time.Minute,
			AutoResolve:   true,
			Thresholds:    Thresholds{RelativeToDevice: true},
		},
		{
			Kind:          types.TemperatureLow,
			Severity:      types.SeverityHigh,
			Cooldown:      30 * time.Minute,
			EscalateAfter: 30 * time.Minute,
			AutoResolve:   true,
			Thresholds:    Thresholds{RelativeToDevice: true},
		},
		{
			Kind:          types.BatteryCritical,
			Severity:      types.SeverityCritical,
			Cooldown:      60 * time.Minute,
			EscalateAfter: 10 * time.Minute,
			AutoResolve:   true,
			Thresholds:    Thresholds{Max: 5, Clear: 10},
		},
		{
			Kind:          types.BatteryLow,
			Severity:      types.SeverityMedium,
			Cooldown:      120 * time.Minute,
			EscalateAfter: 60 * time.Minute,
			AutoResolve:   true,
			Thresholds:    Thresholds{Max: 20, Clear: 30},
		},
		{
			Kind:          types.DoorOpen,
			Severity:      types.SeverityMedium,
			Cooldown:      60 * time.Minute,
			EscalateAfter: 30 * time.Minute,
			AutoResolve:   true,
			Thresholds:    Thresholds{Duration: 5 * time.Minute},
		},
		{
			Kind:          types.ConnectivityLoss,
			Severity:      types.SeverityHigh,
			Cooldown:      30 * time.Minute,
			EscalateAfter: 20 * time.Minute,
			AutoResolve:   true,
			Thresholds:    Thresholds{Min: 20, Clear: 50, Duration: 10 * time.Minute},
		},
		{
			Kind:          types.PowerFailure,
			Severity:      types.SeverityCritical,
			Cooldown:      10 * time.Minute,
			EscalateAfter: 5 * time.Minute,
			AutoResolve:   true,
		},
		{
			Kind:     types.TamperDetected,
			Severity: types.SeverityCritical,
			Cooldown: 5 * time.Minute,
		},
		{
			Kind:          types.SensorMalfunction,
			Severity:      types.SeverityHigh,
			Cooldown:      60 * time.Minute,
			EscalateAfter: 30 * time.Minute,
		},
		{
			Kind:          types.MaintenanceDue,
			Severity:      types.SeverityMedium,
			Cooldown:      24 * time.Hour,
			EscalateAfter: 8 * time.Hour,
		},
		{
			Kind:          types.AnomalyDetected,
			Severity:      types.SeverityMedium,
			Cooldown:      60 * time.Minute,
			EscalateAfter: 120 * time.Minute,
			AutoResolve:   true,
		},
	})
}

// New builds a catalog from rules. Later entries for the same kind win.
func New(rules []Rule) *Catalog {
	c := &Catalog{rules: make(map[types.RuleKind]Rule, len(rules))}
	for _, r := range rules {
		c.rules[r.Kind] = r
	}
	return c
}

// Lookup returns the rule for kind. Kinds missing from the table get a low
// severity rule that never escalates.
func (c *Catalog) Lookup(kind types.RuleKind) Rule {
	if r, ok := c.rules[kind]; ok {
		return r
	}
	return Rule{Kind: kind, Severity: types.SeverityLow}
}

// Rules returns every rule ordered by kind.
func (c *Catalog) Rules() []Rule {
	out := make([]Rule, 0, len(c.rules))
	for _, r := range c.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

// WithOverrides returns a new catalog with overrides applied on top of c.
func (c *Catalog) WithOverrides(overrides map[types.RuleKind]Override) (*Catalog, error) {
	next := &Catalog{rules: make(map[types.RuleKind]Rule, len(c.rules))}
	for k, r := range c.rules {
		next.rules[k] = r
	}

	for kind, o := range overrides {
		if !kind.Valid() {
			return nil, fmt.Errorf("rule override: unknown rule kind %q", kind)
		}
		r := c.Lookup(kind)
		if o.Severity != nil {
			if !o.Severity.Valid() {
				return nil, fmt.Errorf("rule %s: invalid severity %q", kind, *o.Severity)
			}
			r.Severity = *o.Severity
		}
		if o.Cooldown != nil {
			if *o.Cooldown < 0 {
				return nil, fmt.Errorf("rule %s: cooldown must not be negative", kind)
			}
			r.Cooldown = *o.Cooldown
		}
		if o.EscalateAfter != nil {
			if *o.EscalateAfter < 0 {
				return nil, fmt.Errorf("rule %s: escalate_after must not be negative", kind)
			}
			r.EscalateAfter = *o.EscalateAfter
		}
		if o.AutoResolve != nil {
			r.AutoResolve = *o.AutoResolve
		}
		if o.Min != nil {
			r.Thresholds.Min = *o.Min
		}
		if o.Max != nil {
			r.Thresholds.Max = *o.Max
		}
		if o.Clear != nil {
			r.Thresholds.Clear = *o.Clear
		}
		next.rules[kind] = r
	}

	return next, nil
}
