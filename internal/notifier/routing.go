package notifier

import (
	"fmt"

	"github.com/rishi925-eng/Vital-Trace/internal/types"
)

var builtinRouting = map[types.Severity][]types.Channel{
	types.SeverityCritical: {types.ChannelRealtime, types.ChannelEmail, types.ChannelSMS, types.ChannelChat},
	types.SeverityHigh:     {types.ChannelRealtime, types.ChannelEmail, types.ChannelChat},
	types.SeverityMedium:   {types.ChannelRealtime, types.ChannelEmail},
	types.SeverityLow:      {types.ChannelRealtime},
}

// Routing maps severities to the channels an alert is delivered on.
type Routing struct {
	rules map[string][]types.Channel
}

// DefaultRouting uses the built-in severity table only.
func DefaultRouting() Routing {
	return Routing{}
}

// NewRouting builds a routing table from configuration. Keys are severities or
// "default".
func NewRouting(rules map[string][]string) (Routing, error) {
	r := Routing{rules: make(map[string][]types.Channel, len(rules))}
	for key, names := range rules {
		if key != "default" && !types.Severity(key).Valid() {
			return Routing{}, fmt.Errorf("routing: unknown severity %q", key)
		}
		channels := make([]types.Channel, 0, len(names))
		seen := map[types.Channel]bool{}
		for _, name := range names {
			ch := types.Channel(name)
			if !ch.Valid() {
				return Routing{}, fmt.Errorf("routing %s: unknown channel %q", key, name)
			}
			if seen[ch] {
				continue
			}
			seen[ch] = true
			channels = append(channels, ch)
		}
		r.rules[key] = channels
	}
	return r, nil
}

// ChannelsFor returns the channels for severity. A configured severity rule wins,
// then the configured "default", then the built-in table.
func (r Routing) ChannelsFor(severity types.Severity) []types.Channel {
	if channels, ok := r.rules[string(severity)]; ok {
		return append([]types.Channel(nil), channels...)
	}
	if channels, ok := r.rules["default"]; ok {
		return append([]types.Channel(nil), channels...)
	}
	if channels, ok := builtinRouting[severity]; ok {
		return append([]types.Channel(nil), channels...)
	}
	return []types.Channel{types.ChannelRealtime}
}
