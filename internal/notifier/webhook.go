package notifier

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rishi925-eng/Vital-Trace/internal/types"
)

// WebhookSender posts alert events as JSON to an external system.
type WebhookSender struct {
	url     string
	headers map[string]string
	client  *http.Client
	now     func() time.Time
}

func NewWebhookSender(url string, headers map[string]string) *WebhookSender {
	return &WebhookSender{url: url, headers: headers, client: newHTTPClient(), now: time.Now}
}

func (s *WebhookSender) Channel() types.Channel { return types.ChannelWebhook }

type webhookPayload struct {
	Event     string               `json:"event"`
	Timestamp time.Time            `json:"timestamp"`
	Alert     types.Alert          `json:"alert"`
	Device    *types.DeviceProfile `json:"device"`
}

func (s *WebhookSender) Send(ctx context.Context, n Notification) (string, error) {
	if s.url == "" {
		return "", fmt.Errorf("%w: webhook url missing", ErrNotConfigured)
	}

	payload := webhookPayload{
		Event:     n.Event(),
		Timestamp: s.now().UTC(),
		Alert:     n.Alert,
		Device:    n.Device,
	}
	status, err := postJSON(ctx, s.client, s.url, payload, s.headers)
	if err != nil {
		return "", err
	}
	switch status {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
		return fmt.Sprintf("webhook accepted with %d", status), nil
	default:
		return "", fmt.Errorf("webhook error: %d", status)
	}
}
