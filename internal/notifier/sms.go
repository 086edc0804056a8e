package notifier

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/rishi925-eng/Vital-Trace/internal/types"
)

// SMSConfig points at an HTTP SMS gateway.
type SMSConfig struct {
	GatewayURL string
	APIKey     string
	From       string
}

// SMSSender posts text messages to an SMS gateway, one request per dispatch.
type SMSSender struct {
	cfg    SMSConfig
	client *http.Client
}

func NewSMSSender(cfg SMSConfig) *SMSSender {
	return &SMSSender{cfg: cfg, client: newHTTPClient()}
}

func (s *SMSSender) Channel() types.Channel { return types.ChannelSMS }

func (s *SMSSender) Send(ctx context.Context, n Notification) (string, error) {
	if s.cfg.GatewayURL == "" || s.cfg.APIKey == "" {
		return "", fmt.Errorf("%w: sms gateway or api key missing", ErrNotConfigured)
	}
	if len(n.Recipients.Phones) == 0 {
		return "", fmt.Errorf("%w for sms", ErrNoRecipients)
	}

	prefix := "VITAL TRACE ALERT"
	if n.Escalated {
		prefix = "VITAL TRACE ESCALATION"
	}
	form := url.Values{}
	form.Set("to", strings.Join(n.Recipients.Phones, ","))
	form.Set("from", s.cfg.From)
	form.Set("message", fmt.Sprintf("%s: %s - %s", prefix, n.Alert.Title, n.Alert.Message))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.GatewayURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)

	status, err := do(s.client, req)
	if err != nil {
		return "", err
	}
	if status < 200 || status >= 300 {
		return "", fmt.Errorf("sms gateway error: %d", status)
	}
	return fmt.Sprintf("sms sent to %d recipients", len(n.Recipients.Phones)), nil
}
