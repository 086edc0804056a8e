package types

import "time"

// Channel is a notification delivery mechanism.
type Channel string

const (
	ChannelRealtime Channel = "realtime"
	ChannelEmail    Channel = "email"
	ChannelSMS      Channel = "sms"
	ChannelChat     Channel = "chat"
	ChannelWebhook  Channel = "webhook"
)

// AllChannels in routing order.
var AllChannels = []Channel{ChannelRealtime, ChannelEmail, ChannelSMS, ChannelChat, ChannelWebhook}

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	for _, ch := range AllChannels {
		if c == ch {
			return true
		}
	}
	return false
}

// DeliveryStatus is the outcome of one channel send.
type DeliveryStatus string

const (
	DeliverySent    DeliveryStatus = "sent"
	DeliverySkipped DeliveryStatus = "skipped"
	DeliveryFailed  DeliveryStatus = "failed"
)

// DeliveryResult records one channel's outcome for one dispatch. Never mutated after creation.
type DeliveryResult struct {
	AlertID   string         `json:"alert_id"`
	Channel   Channel        `json:"channel"`
	Status    DeliveryStatus `json:"status"`
	Detail    string         `json:"detail"`
	Timestamp time.Time      `json:"timestamp"`
}
