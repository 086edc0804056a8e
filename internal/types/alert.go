package types

import (
	"strings"
	"time"
)

// RuleKind identifies the condition an alert was raised for.
type RuleKind string

const (
	TemperatureHigh     RuleKind = "temperature_high"
	TemperatureLow      RuleKind = "temperature_low"
	TemperatureCritical RuleKind = "temperature_critical"
	BatteryLow          RuleKind = "battery_low"
	BatteryCritical     RuleKind = "battery_critical"
	DoorOpen            RuleKind = "door_open"
	ConnectivityLoss    RuleKind = "connectivity_loss"
	PowerFailure        RuleKind = "power_failure"
	TamperDetected      RuleKind = "tamper_detected"
	SensorMalfunction   RuleKind = "sensor_malfunction"
	MaintenanceDue      RuleKind = "maintenance_due"
	AnomalyDetected     RuleKind = "anomaly_detected"
)

// AllRuleKinds lists every kind known to the rule catalog.
var AllRuleKinds = []RuleKind{
	TemperatureHigh,
	TemperatureLow,
	TemperatureCritical,
	BatteryLow,
	BatteryCritical,
	DoorOpen,
	ConnectivityLoss,
	PowerFailure,
	TamperDetected,
	SensorMalfunction,
	MaintenanceDue,
	AnomalyDetected,
}

// Valid reports whether k is one of AllRuleKinds.
func (k RuleKind) Valid() bool {
	for _, kind := range AllRuleKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Title renders the kind for humans, e.g. "Temperature High".
func (k RuleKind) Title() string {
	words := strings.Split(string(k), "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// Severity of an alert. Ordered Low < Medium < High < Critical.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank returns the ordinal of s, 0 for unknown values.
func (s Severity) Rank() int {
	return severityRank[s]
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	return s.Rank() > 0
}

// Raise returns the next severity up. Critical stays Critical.
func (s Severity) Raise() Severity {
	switch s {
	case SeverityLow:
		return SeverityMedium
	case SeverityMedium:
		return SeverityHigh
	default:
		return SeverityCritical
	}
}

// Status is the lifecycle state of an alert.
type Status string

const (
	StatusActive       Status = "active"
	StatusEscalated    Status = "escalated"
	StatusAcknowledged Status = "acknowledged"
	StatusResolved     Status = "resolved"
)

// Open reports whether the alert still counts against the one-open-alert-per-key rule.
func (s Status) Open() bool {
	return s == StatusActive || s == StatusEscalated || s == StatusAcknowledged
}

// Alert is a raised condition for one device and rule kind.
type Alert struct {
	ID             string            `json:"id"`
	DeviceID       string            `json:"device_id"`
	RuleKind       RuleKind          `json:"rule_kind"`
	Severity       Severity          `json:"severity"`
	Title          string            `json:"title"`
	Message        string            `json:"message"`
	Status         Status            `json:"status"`
	CreatedAt      time.Time         `json:"created_at"`
	AcknowledgedAt *time.Time        `json:"acknowledged_at,omitempty"`
	ResolvedAt     *time.Time        `json:"resolved_at,omitempty"`
	EscalatedAt    *time.Time        `json:"escalated_at,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Clone returns a deep copy so callers can hand alerts across goroutines.
func (a Alert) Clone() Alert {
	out := a
	if a.Metadata != nil {
		out.Metadata = make(map[string]string, len(a.Metadata))
		for k, v := range a.Metadata {
			out.Metadata[k] = v
		}
	}
	out.AcknowledgedAt = cloneTime(a.AcknowledgedAt)
	out.ResolvedAt = cloneTime(a.ResolvedAt)
	out.EscalatedAt = cloneTime(a.EscalatedAt)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
