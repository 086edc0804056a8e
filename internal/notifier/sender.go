package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rishi925-eng/Vital-Trace/internal/types"
)

var (
	// ErrNotConfigured marks a channel that cannot send because it lacks configuration.
	// Dispatch reports it as Skipped rather than Failed.
	ErrNotConfigured = errors.New("channel not configured")
	// ErrNoRecipients is a configuration gap: nobody to deliver to.
	ErrNoRecipients = fmt.Errorf("%w: no recipients", ErrNotConfigured)
)

// Notification is what a channel adapter receives for one dispatch.
type Notification struct {
	Alert      types.Alert
	Device     *types.DeviceProfile
	Recipients Recipients
	Escalated  bool
}

// Event names the lifecycle step being notified.
func (n Notification) Event() string {
	if n.Escalated {
		return "alert_escalated"
	}
	return "alert_created"
}

// Sender delivers notifications over one channel. Send returns a human readable
// detail on success; errors wrapping ErrNotConfigured mean the channel was skipped.
type Sender interface {
	Channel() types.Channel
	Send(ctx context.Context, n Notification) (string, error)
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 10 * time.Second,
	}
}

// postJSON sends payload as a JSON POST and returns the response status code.
func postJSON(ctx context.Context, client *http.Client, url string, payload any, headers map[string]string) (int, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return do(client, req)
}

func do(client *http.Client, req *http.Request) (int, error) {
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode, nil
}

// deviceLabel renders "Name (ID)" when the device is known.
func deviceLabel(alert types.Alert, device *types.DeviceProfile) string {
	if device == nil {
		return alert.DeviceID
	}
	return fmt.Sprintf("%s (%s)", device.Name(), alert.DeviceID)
}

func deviceLocation(device *types.DeviceProfile) string {
	if device == nil || device.Location == "" {
		return "Unknown"
	}
	return device.Location
}
