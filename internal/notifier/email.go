package notifier

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/smtp"
	"sort"
	"strings"
	"time"

	"github.com/rishi925-eng/Vital-Trace/internal/types"
)

// EmailConfig holds SMTP settings. Password is resolved from the environment by the caller.
type EmailConfig struct {
	Host         string
	Port         int
	Username     string
	Password     string
	From         string
	DashboardURL string
}

// SendMailFunc matches smtp.SendMail.
type SendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailSender delivers HTML alert emails over SMTP.
type EmailSender struct {
	cfg      EmailConfig
	sendMail SendMailFunc
	now      func() time.Time
}

// NewEmailSender creates an SMTP sender. A nil sendMail uses smtp.SendMail.
func NewEmailSender(cfg EmailConfig, sendMail SendMailFunc) *EmailSender {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	if sendMail == nil {
		sendMail = smtp.SendMail
	}
	return &EmailSender{cfg: cfg, sendMail: sendMail, now: time.Now}
}

func (s *EmailSender) Channel() types.Channel { return types.ChannelEmail }

func (s *EmailSender) configured() bool {
	return s.cfg.Host != "" && s.cfg.Username != "" && s.cfg.Password != ""
}

func (s *EmailSender) Send(ctx context.Context, n Notification) (string, error) {
	if !s.configured() {
		return "", fmt.Errorf("%w: smtp host or credentials missing", ErrNotConfigured)
	}
	if len(n.Recipients.Emails) == 0 {
		return "", fmt.Errorf("%w for email", ErrNoRecipients)
	}

	msg, err := s.buildMessage(n)
	if err != nil {
		return "", err
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)

	// net/smtp has no context support; bound the call with the dispatch deadline.
	done := make(chan error, 1)
	go func() {
		done <- s.sendMail(addr, auth, s.cfg.From, n.Recipients.Emails, msg)
	}()
	select {
	case err := <-done:
		if err != nil {
			return "", fmt.Errorf("smtp send: %w", err)
		}
	case <-ctx.Done():
		return "", fmt.Errorf("smtp send: %w", ctx.Err())
	}

	return fmt.Sprintf("email sent to %d recipients", len(n.Recipients.Emails)), nil
}

func (s *EmailSender) buildMessage(n Notification) ([]byte, error) {
	subject := fmt.Sprintf("[%s] %s", strings.ToUpper(string(n.Alert.Severity)), n.Alert.Title)
	if n.Escalated {
		subject = "[ESCALATED] " + subject
	}

	var body bytes.Buffer
	if err := emailTemplate.Execute(&body, newEmailView(n, s.cfg.DashboardURL, s.now())); err != nil {
		return nil, fmt.Errorf("rendering email: %w", err)
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", s.cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(n.Recipients.Emails, ","))
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=\"utf-8\"\r\n\r\n")
	msg.Write(body.Bytes())
	msg.WriteString("\r\n")
	return msg.Bytes(), nil
}

var severityColors = map[types.Severity]string{
	types.SeverityCritical: "#dc3545",
	types.SeverityHigh:     "#fd7e14",
	types.SeverityMedium:   "#ffc107",
	types.SeverityLow:      "#28a745",
}

type emailField struct {
	Label string
	Value string
}

type emailView struct {
	Color        string
	Severity     string
	Escalated    bool
	Alert        types.Alert
	Created      string
	Device       *types.DeviceProfile
	Sensors      []emailField
	DashboardURL string
	GeneratedAt  string
}

func newEmailView(n Notification, dashboard string, now time.Time) emailView {
	color, ok := severityColors[n.Alert.Severity]
	if !ok {
		color = "#6c757d"
	}
	return emailView{
		Color:        color,
		Severity:     strings.ToUpper(string(n.Alert.Severity)),
		Escalated:    n.Escalated,
		Alert:        n.Alert,
		Created:      n.Alert.CreatedAt.UTC().Format("2006-01-02 15:04:05 UTC"),
		Device:       n.Device,
		Sensors:      sensorFields(n.Alert.Metadata),
		DashboardURL: dashboard,
		GeneratedAt:  now.UTC().Format("2006-01-02 15:04:05 UTC"),
	}
}

var sensorUnits = map[string]string{
	"temperature":     "°C",
	"battery_level":   "%",
	"signal_strength": "%",
}

// sensorFields renders alert metadata as labelled values, sorted by key.
func sensorFields(md map[string]string) []emailField {
	keys := make([]string, 0, len(md))
	for k := range md {
		if k == "device_id" || k == "timestamp" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]emailField, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, emailField{
			Label: types.RuleKind(k).Title(),
			Value: md[k] + sensorUnits[k],
		})
	}
	return fields
}

var emailTemplate = template.Must(template.New("alert").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Vital Trace Alert</title>
<style>
body { font-family: Arial, sans-serif; margin: 0; padding: 20px; background-color: #f8f9fa; }
.container { max-width: 600px; margin: 0 auto; background: white; border-radius: 8px; overflow: hidden; }
.header { background: {{.Color}}; color: white; padding: 20px; text-align: center; }
.content { padding: 30px; }
.info { background: #f8f9fa; padding: 15px; border-radius: 5px; margin: 20px 0; }
.device { background: #e3f2fd; padding: 15px; border-radius: 5px; margin: 20px 0; }
.footer { background: #f8f9fa; padding: 20px; text-align: center; font-size: 12px; color: #6c757d; }
</style>
</head>
<body>
<div class="container">
<div class="header">
<h1>Vital Trace Alert</h1>
<h2>{{if .Escalated}}ESCALATED {{end}}{{.Severity}} ALERT</h2>
</div>
<div class="content">
<h2>{{.Alert.Title}}</h2>
<p>{{.Alert.Message}}</p>
<div class="info">
<h3>Alert Details</h3>
<p><strong>Alert ID:</strong> {{.Alert.ID}}</p>
<p><strong>Type:</strong> {{.Alert.RuleKind}}</p>
<p><strong>Severity:</strong> {{.Alert.Severity}}</p>
<p><strong>Created:</strong> {{.Created}}</p>
<p><strong>Status:</strong> {{.Alert.Status}}</p>
</div>
{{- with .Device}}
<div class="device">
<h3>Device Information</h3>
<p><strong>Device ID:</strong> {{.DeviceID}}</p>
<p><strong>Name:</strong> {{.Name}}</p>
<p><strong>Location:</strong> {{.Location}}</p>
</div>
{{- end}}
{{- if .Sensors}}
<div class="info">
<h3>Sensor Data</h3>
{{- range .Sensors}}
<p><strong>{{.Label}}:</strong> {{.Value}}</p>
{{- end}}
</div>
{{- end}}
{{- if .DashboardURL}}
<p><a href="{{.DashboardURL}}">View Dashboard</a></p>
{{- end}}
</div>
<div class="footer">
<p>Vital Trace - Cold Chain Monitoring System</p>
<p>Generated at {{.GeneratedAt}}</p>
</div>
</div>
</body>
</html>
`))
