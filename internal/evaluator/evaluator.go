package evaluator

import (
	"fmt"
	"strconv"

	"github.com/rishi925-eng/Vital-Trace/internal/rules"
	"github.com/rishi925-eng/Vital-Trace/internal/types"
	"github.com/rs/zerolog"
)

// Match is a rule whose condition a reading satisfies.
type Match struct {
	Kind     types.RuleKind
	Severity types.Severity
	Title    string
	Message  string
}

// Evaluator matches readings against the rule catalog and tests whether open
// alerts have cleared. It holds no per-device state.
type Evaluator struct {
	catalog *rules.Catalog
	logger  zerolog.Logger
}

// NewEvaluator creates a new reading evaluator
func NewEvaluator(catalog *rules.Catalog, logger zerolog.Logger) *Evaluator {
	return &Evaluator{
		catalog: catalog,
		logger:  logger.With().Str("component", "evaluator").Logger(),
	}
}

// Catalog returns the rule table the evaluator matches against.
func (e *Evaluator) Catalog() *rules.Catalog {
	return e.catalog
}

// Match returns every rule the reading triggers. device is nil when the device is
// unknown, in which case device-relative rules are skipped. Within one field the
// first matching rule wins.
func (e *Evaluator) Match(r types.Reading, device *types.DeviceProfile) []Match {
	var matches []Match
	name := deviceName(r.DeviceID, device)

	if r.Temperature != nil {
		if m, ok := e.matchTemperature(*r.Temperature, device, name); ok {
			matches = append(matches, m)
		}
	}

	if r.BatteryLevel != nil {
		level := *r.BatteryLevel
		crit := e.catalog.Lookup(types.BatteryCritical)
		low := e.catalog.Lookup(types.BatteryLow)
		switch {
		case level <= crit.Thresholds.Max:
			matches = append(matches, e.match(crit, "Critical Battery Alert - "+name,
				fmt.Sprintf("Battery level %s%% is critically low. Device may shut down soon!", num(level))))
		case level <= low.Thresholds.Max:
			matches = append(matches, e.match(low, "Low Battery Alert - "+name,
				fmt.Sprintf("Battery level %s%% is low. Consider charging or replacement.", num(level))))
		}
	}

	if r.DoorOpen != nil && *r.DoorOpen {
		matches = append(matches, e.match(e.catalog.Lookup(types.DoorOpen), "Door Open Alert - "+name,
			"Storage door is open. Ensure it is closed to maintain temperature."))
	}

	if r.PowerStatus != nil && *r.PowerStatus != types.PowerStatusNormal {
		m := e.match(e.catalog.Lookup(types.PowerFailure), "Power Issue Alert - "+name,
			fmt.Sprintf("Power status: %s. Check power supply immediately.", *r.PowerStatus))
		if *r.PowerStatus == types.PowerStatusFailure {
			m.Severity = types.SeverityCritical
		} else {
			m.Severity = types.SeverityHigh
		}
		matches = append(matches, m)
	}

	if r.SignalStrength != nil {
		rule := e.catalog.Lookup(types.ConnectivityLoss)
		if *r.SignalStrength < rule.Thresholds.Min {
			matches = append(matches, e.match(rule, "Poor Connectivity Alert - "+name,
				fmt.Sprintf("Signal strength %s%% is very low. Check network connection.", num(*r.SignalStrength))))
		}
	}

	if r.TamperDetected != nil && *r.TamperDetected {
		matches = append(matches, e.match(e.catalog.Lookup(types.TamperDetected), "Tamper Alert - "+name,
			"Tamper sensor triggered. Inspect the unit and its contents."))
	}

	return matches
}

func (e *Evaluator) matchTemperature(temp float64, device *types.DeviceProfile, name string) (Match, bool) {
	crit := e.catalog.Lookup(types.TemperatureCritical)
	if temp < crit.Thresholds.Min || temp > crit.Thresholds.Max {
		return e.match(crit, "Critical Temperature Alert - "+name,
			fmt.Sprintf("Temperature %s°C is critically out of range. Immediate action required!", num(temp))), true
	}
	if device == nil {
		return Match{}, false
	}
	if temp > device.TargetTempMax {
		return e.match(e.catalog.Lookup(types.TemperatureHigh), "High Temperature Alert - "+name,
			fmt.Sprintf("Temperature %s°C exceeds target maximum of %s°C", num(temp), num(device.TargetTempMax))), true
	}
	if temp < device.TargetTempMin {
		return e.match(e.catalog.Lookup(types.TemperatureLow), "Low Temperature Alert - "+name,
			fmt.Sprintf("Temperature %s°C is below target minimum of %s°C", num(temp), num(device.TargetTempMin))), true
	}
	return Match{}, false
}

func (e *Evaluator) match(rule rules.Rule, title, message string) Match {
	return Match{Kind: rule.Kind, Severity: rule.Severity, Title: title, Message: message}
}

// Cleared reports whether the reading shows that the condition behind alert has
// cleared. Rules without auto-resolve, and readings that do not report the
// relevant field, never clear.
func (e *Evaluator) Cleared(alert types.Alert, r types.Reading, device *types.DeviceProfile) bool {
	rule := e.catalog.Lookup(alert.RuleKind)
	if !rule.AutoResolve {
		return false
	}

	switch alert.RuleKind {
	case types.TemperatureHigh, types.TemperatureLow:
		if r.Temperature == nil || device == nil {
			return false
		}
		return *r.Temperature >= device.TargetTempMin && *r.Temperature <= device.TargetTempMax
	case types.TemperatureCritical:
		if r.Temperature == nil {
			return false
		}
		if device != nil {
			return *r.Temperature >= device.TargetTempMin && *r.Temperature <= device.TargetTempMax
		}
		return *r.Temperature >= rule.Thresholds.Min && *r.Temperature <= rule.Thresholds.Max
	case types.BatteryCritical, types.BatteryLow:
		return r.BatteryLevel != nil && *r.BatteryLevel > rule.Thresholds.Clear
	case types.DoorOpen:
		return r.DoorOpen != nil && !*r.DoorOpen
	case types.PowerFailure:
		return r.PowerStatus != nil && *r.PowerStatus == types.PowerStatusNormal
	case types.ConnectivityLoss:
		return r.SignalStrength != nil && *r.SignalStrength >= rule.Thresholds.Clear
	default:
		// externally raised kinds carry no reading-level clear condition
		return false
	}
}

func deviceName(id string, device *types.DeviceProfile) string {
	if device == nil {
		return id
	}
	return device.Name()
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
