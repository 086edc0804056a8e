package notifier

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/rishi925-eng/Vital-Trace/internal/types"
)

// ChatSender posts Slack-compatible attachment messages to an incoming webhook.
type ChatSender struct {
	webhookURL string
	client     *http.Client
}

func NewChatSender(webhookURL string) *ChatSender {
	return &ChatSender{webhookURL: webhookURL, client: newHTTPClient()}
}

func (s *ChatSender) Channel() types.Channel { return types.ChannelChat }

type chatField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type chatAttachment struct {
	Color  string      `json:"color"`
	Fields []chatField `json:"fields"`
	Footer string      `json:"footer"`
	TS     int64       `json:"ts"`
}

type chatPayload struct {
	Text        string           `json:"text"`
	Attachments []chatAttachment `json:"attachments"`
}

var chatColors = map[types.Severity]string{
	types.SeverityCritical: "danger",
	types.SeverityHigh:     "warning",
	types.SeverityMedium:   "good",
	types.SeverityLow:      "good",
}

func buildChatPayload(n Notification) chatPayload {
	a := n.Alert
	color, ok := chatColors[a.Severity]
	if !ok {
		color = "good"
	}

	text := "Vital Trace Alert: " + a.Title
	if n.Escalated {
		text = "Vital Trace Escalation: " + a.Title
	}

	fields := []chatField{
		{Title: "Alert Type", Value: string(a.RuleKind), Short: true},
		{Title: "Severity", Value: strings.ToUpper(string(a.Severity)), Short: true},
		{Title: "Device", Value: deviceLabel(a, n.Device), Short: true},
		{Title: "Location", Value: deviceLocation(n.Device), Short: true},
		{Title: "Message", Value: a.Message, Short: false},
	}
	for _, key := range []string{"temperature", "battery_level"} {
		if v, ok := a.Metadata[key]; ok {
			fields = append(fields, chatField{
				Title: types.RuleKind(key).Title(),
				Value: v + sensorUnits[key],
				Short: true,
			})
		}
	}

	return chatPayload{
		Text: text,
		Attachments: []chatAttachment{{
			Color:  color,
			Fields: fields,
			Footer: "Vital Trace",
			TS:     a.CreatedAt.Unix(),
		}},
	}
}

func (s *ChatSender) Send(ctx context.Context, n Notification) (string, error) {
	if s.webhookURL == "" {
		return "", fmt.Errorf("%w: chat webhook url missing", ErrNotConfigured)
	}

	status, err := postJSON(ctx, s.client, s.webhookURL, buildChatPayload(n), nil)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("chat webhook error: %d", status)
	}
	return "chat notification sent", nil
}
