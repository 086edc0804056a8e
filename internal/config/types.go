package config

import (
	"time"

	"github.com/rishi925-eng/Vital-Trace/internal/notifier"
	"github.com/rishi925-eng/Vital-Trace/internal/rules"
	"github.com/rishi925-eng/Vital-Trace/internal/types"
)

// Config represents the complete Vital-Trace configuration, assembled from
// vitaltrace.yaml, devices.yaml and alerts.yaml.
type Config struct {
	Service ServiceConfig
	Devices map[string]types.DeviceProfile
	Alerts  AlertConfig
}

// devicesFile is the layout of devices.yaml.
type devicesFile struct {
	Devices map[string]types.DeviceProfile `yaml:"devices"`
}

// ServiceConfig is the contents of vitaltrace.yaml.
type ServiceConfig struct {
	Server      ServerConfig      `yaml:"server"`
	Storage     StorageConfig     `yaml:"storage"`
	Ingest      IngestConfig      `yaml:"ingest"`
	Events      EventsConfig      `yaml:"events"`
	Dispatch    DispatchConfig    `yaml:"dispatch"`
	Suppression SuppressionConfig `yaml:"suppression"`
}

// ServerConfig contains API listener settings
type ServerConfig struct {
	Listen         string   `yaml:"listen"`
	GRPCListen     string   `yaml:"grpc_listen,omitempty"`
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`
}

// StorageConfig selects the alert store backend.
type StorageConfig struct {
	Driver string `yaml:"driver"` // "memory" or "postgres"
	DSNEnv string `yaml:"dsn_env,omitempty"`
}

// IngestConfig controls the reading worker pool and its sources.
type IngestConfig struct {
	Workers   int        `yaml:"workers"`
	QueueSize int        `yaml:"queue_size"`
	NATS      NATSConfig `yaml:"nats"`
}

// NATSConfig defines the NATS reading subscription
type NATSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	URLEnv     string `yaml:"url_env,omitempty"`
	URL        string `yaml:"url,omitempty"`
	Subject    string `yaml:"subject"`
	QueueGroup string `yaml:"queue_group,omitempty"`
}

// EventsConfig controls lifecycle event publishing.
type EventsConfig struct {
	Enabled      bool          `yaml:"enabled"`
	QueueSize    int           `yaml:"queue_size"`
	Workers      int           `yaml:"workers"`
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	Kafka        KafkaConfig   `yaml:"kafka"`
}

// KafkaConfig defines the Kafka event sink
type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	RequiredAcks int           `yaml:"required_acks,omitempty"`
	Compression  string        `yaml:"compression,omitempty"`
	MaxRetries   int           `yaml:"max_retries,omitempty"`
	RetryBackoff time.Duration `yaml:"retry_backoff,omitempty"`
}

// DispatchConfig defines notification delivery behavior
type DispatchConfig struct {
	ChannelTimeout time.Duration `yaml:"channel_timeout"`
}

// SuppressionConfig defines noise control and housekeeping
type SuppressionConfig struct {
	FrequencyWindow time.Duration `yaml:"frequency_window"`
	FrequencyCap    int           `yaml:"frequency_cap"`
	EvictInterval   time.Duration `yaml:"evict_interval"`
	EvictAfter      time.Duration `yaml:"evict_after"`
}

// AlertConfig is the contents of alerts.yaml.
type AlertConfig struct {
	Channels   ChannelsConfig                    `yaml:"channels"`
	Routing    map[string][]string               `yaml:"routing,omitempty"`
	Recipients []notifier.Contact                `yaml:"recipients,omitempty"`
	Rules      map[types.RuleKind]rules.Override `yaml:"rules,omitempty"`
}

// ChannelsConfig holds per-channel settings. Secrets are read from the named
// environment variables.
type ChannelsConfig struct {
	Email   EmailChannel   `yaml:"email"`
	SMS     SMSChannel     `yaml:"sms"`
	Chat    URLChannel     `yaml:"chat"`
	Webhook WebhookChannel `yaml:"webhook"`
}

// EmailChannel defines SMTP delivery
type EmailChannel struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	UsernameEnv  string `yaml:"username_env"`
	PasswordEnv  string `yaml:"password_env"`
	From         string `yaml:"from"`
	DashboardURL string `yaml:"dashboard_url,omitempty"`
}

// SMSChannel defines SMS gateway delivery
type SMSChannel struct {
	GatewayURLEnv string `yaml:"gateway_url_env"`
	APIKeyEnv     string `yaml:"api_key_env"`
	From          string `yaml:"from"`
}

// URLChannel is a channel configured by a single webhook URL
type URLChannel struct {
	URLEnv string `yaml:"url_env"`
}

// WebhookChannel defines generic webhook delivery
type WebhookChannel struct {
	URLEnv  string            `yaml:"url_env"`
	Headers map[string]string `yaml:"headers,omitempty"`
}
