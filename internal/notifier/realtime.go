package notifier

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rishi925-eng/Vital-Trace/internal/types"
)

// Broadcaster pushes a message to every connected realtime client and returns
// how many received it.
type Broadcaster interface {
	Broadcast(msg []byte) int
}

// RealtimeSender pushes alerts to connected dashboard clients.
type RealtimeSender struct {
	hub Broadcaster
}

// NewRealtimeSender returns a sender over hub. A nil hub makes every send a skip.
func NewRealtimeSender(hub Broadcaster) *RealtimeSender {
	return &RealtimeSender{hub: hub}
}

func (s *RealtimeSender) Channel() types.Channel { return types.ChannelRealtime }

type realtimeMessage struct {
	Type   string               `json:"type"`
	Alert  types.Alert          `json:"alert"`
	Device *types.DeviceProfile `json:"device,omitempty"`
}

func (s *RealtimeSender) Send(_ context.Context, n Notification) (string, error) {
	if s.hub == nil {
		return "", fmt.Errorf("%w: no realtime hub", ErrNotConfigured)
	}

	msgType := "alert"
	if n.Escalated {
		msgType = "alert_escalated"
	}
	data, err := json.Marshal(realtimeMessage{Type: msgType, Alert: n.Alert, Device: n.Device})
	if err != nil {
		return "", fmt.Errorf("failed to marshal realtime message: %w", err)
	}

	clients := s.hub.Broadcast(data)
	return fmt.Sprintf("broadcast to %d clients", clients), nil
}
