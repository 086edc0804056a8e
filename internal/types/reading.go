package types

import (
	"strconv"
	"time"
)

// PowerStatus reported by a device's power subsystem.
type PowerStatus string

const (
	PowerStatusNormal  PowerStatus = "normal"
	PowerStatusLow     PowerStatus = "low"
	PowerStatusBackup  PowerStatus = "backup"
	PowerStatusFailure PowerStatus = "failure"
)

// Reading is one sensor sample. Nil fields were not reported and never trigger a rule.
type Reading struct {
	DeviceID       string       `json:"device_id"`
	Timestamp      time.Time    `json:"timestamp"`
	Temperature    *float64     `json:"temperature,omitempty"`
	BatteryLevel   *float64     `json:"battery_level,omitempty"`
	DoorOpen       *bool        `json:"door_open,omitempty"`
	PowerStatus    *PowerStatus `json:"power_status,omitempty"`
	SignalStrength *float64     `json:"signal_strength,omitempty"`
	TamperDetected *bool        `json:"tamper_detected,omitempty"`
}

// Metadata snapshots the reported fields for storage on an alert.
func (r Reading) Metadata() map[string]string {
	md := map[string]string{
		"device_id": r.DeviceID,
	}
	if !r.Timestamp.IsZero() {
		md["timestamp"] = r.Timestamp.UTC().Format(time.RFC3339)
	}
	if r.Temperature != nil {
		md["temperature"] = formatFloat(*r.Temperature)
	}
	if r.BatteryLevel != nil {
		md["battery_level"] = formatFloat(*r.BatteryLevel)
	}
	if r.DoorOpen != nil {
		md["door_open"] = strconv.FormatBool(*r.DoorOpen)
	}
	if r.PowerStatus != nil {
		md["power_status"] = string(*r.PowerStatus)
	}
	if r.SignalStrength != nil {
		md["signal_strength"] = formatFloat(*r.SignalStrength)
	}
	if r.TamperDetected != nil {
		md["tamper_detected"] = strconv.FormatBool(*r.TamperDetected)
	}
	return md
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// DeviceProfile is the externally owned configuration of a monitored device.
type DeviceProfile struct {
	DeviceID      string  `json:"device_id" yaml:"-"`
	DisplayName   string  `json:"display_name" yaml:"display_name"`
	Location      string  `json:"location" yaml:"location"`
	TargetTempMin float64 `json:"target_temp_min" yaml:"target_temp_min"`
	TargetTempMax float64 `json:"target_temp_max" yaml:"target_temp_max"`
}

// Name returns the display name, falling back to the device ID.
func (d *DeviceProfile) Name() string {
	if d == nil {
		return ""
	}
	if d.DisplayName != "" {
		return d.DisplayName
	}
	return d.DeviceID
}

// Float64 and friends build optional reading fields.
func Float64(v float64) *float64 { return &v }

func Bool(v bool) *bool { return &v }

func Power(v PowerStatus) *PowerStatus { return &v }
