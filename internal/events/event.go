// Package events publishes alert lifecycle and delivery events to downstream consumers.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/rishi925-eng/Vital-Trace/internal/types"
)

// Type names an event.
type Type string

const (
	AlertCreated      Type = "alert.created"
	AlertEscalated    Type = "alert.escalated"
	AlertAcknowledged Type = "alert.acknowledged"
	AlertResolved     Type = "alert.resolved"
	DeliveryResult    Type = "delivery.result"
)

var (
	ErrPublisherClosed = errors.New("publisher is closed")
	ErrSerializeFailed = errors.New("failed to serialize event")
)

// Event is one lifecycle or delivery record. Delivery fields are set only for DeliveryResult.
type Event struct {
	Type           Type                 `json:"type"`
	AlertID        string               `json:"alert_id"`
	DeviceID       string               `json:"device_id"`
	RuleKind       types.RuleKind       `json:"rule_kind"`
	Severity       types.Severity       `json:"severity"`
	Status         types.Status         `json:"status"`
	Source         string               `json:"source,omitempty"`
	DeliveryStatus types.DeliveryStatus `json:"delivery_status,omitempty"`
	Channel        types.Channel        `json:"channel,omitempty"`
	Detail         string               `json:"detail,omitempty"`
	Timestamp      time.Time            `json:"timestamp"`
}

// ForAlert builds a lifecycle event from an alert snapshot.
func ForAlert(t Type, a types.Alert, ts time.Time) Event {
	return Event{
		Type:      t,
		AlertID:   a.ID,
		DeviceID:  a.DeviceID,
		RuleKind:  a.RuleKind,
		Severity:  a.Severity,
		Status:    a.Status,
		Timestamp: ts,
	}
}

// ForDelivery builds a delivery.result event.
func ForDelivery(a types.Alert, r types.DeliveryResult) Event {
	e := ForAlert(DeliveryResult, a, r.Timestamp)
	e.Channel = r.Channel
	e.DeliveryStatus = r.Status
	e.Detail = r.Detail
	return e
}

// Publisher writes events to a transport.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	PublishBatch(ctx context.Context, batch []Event) error
	Close() error
}

// Noop discards events.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error        { return nil }
func (Noop) PublishBatch(context.Context, []Event) error { return nil }
func (Noop) Close() error                                { return nil }
