package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rishi925-eng/Vital-Trace/internal/notifier"
	"github.com/rishi925-eng/Vital-Trace/internal/rules"
	"github.com/rishi925-eng/Vital-Trace/internal/types"
)

// LoadConfig loads configuration from the directory containing path
func LoadConfig(path string) (*Config, error) {
	return LoadConfigDir(filepath.Dir(path))
}

// LoadConfigDir loads all configuration files from a directory
func LoadConfigDir(dir string) (*Config, error) {
	cfg := &Config{}

	// Load vitaltrace.yaml
	if err := loadYAML(filepath.Join(dir, "vitaltrace.yaml"), &cfg.Service); err != nil {
		return nil, fmt.Errorf("loading vitaltrace.yaml: %w", err)
	}

	// Load devices.yaml
	var devices devicesFile
	if err := loadYAML(filepath.Join(dir, "devices.yaml"), &devices); err != nil {
		return nil, fmt.Errorf("loading devices.yaml: %w", err)
	}
	cfg.Devices = make(map[string]types.DeviceProfile, len(devices.Devices))
	for id, d := range devices.Devices {
		d.DeviceID = id
		cfg.Devices[id] = d
	}

	// Load alerts.yaml (optional)
	alertsPath := filepath.Join(dir, "alerts.yaml")
	if _, err := os.Stat(alertsPath); err == nil {
		if err := loadYAML(alertsPath, &cfg.Alerts); err != nil {
			return nil, fmt.Errorf("loading alerts.yaml: %w", err)
		}
	}

	applyDefaults(cfg)

	// Validate configuration
	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadYAML loads a YAML file into a struct
func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, out)
}

func applyDefaults(cfg *Config) {
	s := &cfg.Service
	if s.Server.Listen == "" {
		s.Server.Listen = ":8080"
	}
	if s.Storage.Driver == "" {
		s.Storage.Driver = "memory"
	}
	if s.Storage.Driver == "postgres" && s.Storage.DSNEnv == "" {
		s.Storage.DSNEnv = "DATABASE_URL"
	}
	if s.Ingest.Workers == 0 {
		s.Ingest.Workers = 8
	}
	if s.Ingest.QueueSize == 0 {
		s.Ingest.QueueSize = 256
	}
	if s.Ingest.NATS.Subject == "" {
		s.Ingest.NATS.Subject = "vitaltrace.readings.*"
	}
	if s.Ingest.NATS.URL == "" && s.Ingest.NATS.URLEnv == "" {
		s.Ingest.NATS.URLEnv = "NATS_URL"
	}
	if s.Events.QueueSize == 0 {
		s.Events.QueueSize = 1024
	}
	if s.Events.Workers == 0 {
		s.Events.Workers = 2
	}
	if s.Events.BatchSize == 0 {
		s.Events.BatchSize = 100
	}
	if s.Events.BatchTimeout == 0 {
		s.Events.BatchTimeout = 100 * time.Millisecond
	}
	if s.Events.Kafka.Topic == "" {
		s.Events.Kafka.Topic = "vitaltrace.alert-events"
	}
	if s.Events.Kafka.MaxRetries == 0 {
		s.Events.Kafka.MaxRetries = 3
	}
	if s.Dispatch.ChannelTimeout == 0 {
		s.Dispatch.ChannelTimeout = notifier.DefaultChannelTimeout
	}
	if s.Suppression.FrequencyWindow == 0 {
		s.Suppression.FrequencyWindow = time.Hour
	}
	if s.Suppression.FrequencyCap == 0 {
		s.Suppression.FrequencyCap = 5
	}
	if s.Suppression.EvictInterval == 0 {
		s.Suppression.EvictInterval = 10 * time.Minute
	}
	if s.Suppression.EvictAfter == 0 {
		s.Suppression.EvictAfter = 24 * time.Hour
	}
	if cfg.Alerts.Channels.Email.Port == 0 {
		cfg.Alerts.Channels.Email.Port = 587
	}
}

// ValidateConfig validates the configuration
func ValidateConfig(cfg *Config) error {
	s := cfg.Service

	if s.Storage.Driver != "memory" && s.Storage.Driver != "postgres" {
		return fmt.Errorf("storage.driver must be 'memory' or 'postgres'")
	}
	if s.Ingest.Workers < 0 || s.Ingest.QueueSize < 0 {
		return fmt.Errorf("ingest: workers and queue_size must not be negative")
	}
	if s.Events.Enabled {
		if len(s.Events.Kafka.Brokers) == 0 {
			return fmt.Errorf("events: kafka.brokers is required when events are enabled")
		}
	}
	if s.Dispatch.ChannelTimeout < 0 {
		return fmt.Errorf("dispatch.channel_timeout must not be negative")
	}
	if s.Suppression.FrequencyCap < 0 || s.Suppression.FrequencyWindow < 0 {
		return fmt.Errorf("suppression: frequency_window and frequency_cap must not be negative")
	}

	if len(cfg.Devices) == 0 {
		return fmt.Errorf("no devices configured")
	}
	for id, d := range cfg.Devices {
		if d.TargetTempMin > d.TargetTempMax {
			return fmt.Errorf("device %s: target_temp_min %.1f is above target_temp_max %.1f", id, d.TargetTempMin, d.TargetTempMax)
		}
	}

	// Validate routing references known channels and severities
	if _, err := notifier.NewRouting(cfg.Alerts.Routing); err != nil {
		return err
	}

	for i, c := range cfg.Alerts.Recipients {
		if c.Email == "" && c.Phone == "" {
			return fmt.Errorf("recipient %d (%s): email or phone is required", i, c.Name)
		}
		if len(c.Roles) == 0 {
			return fmt.Errorf("recipient %d (%s): at least one role is required", i, c.Name)
		}
	}

	if _, err := cfg.Catalog(); err != nil {
		return err
	}

	// Note: We don't validate env vars exist here as they may be set at runtime
	return nil
}

// Catalog builds the rule catalog: built-in rules with alerts.yaml overrides on top.
func (c *Config) Catalog() (*rules.Catalog, error) {
	return rules.Default().WithOverrides(c.Alerts.Rules)
}

// Routing builds the severity routing table.
func (c *Config) Routing() (notifier.Routing, error) {
	return notifier.NewRouting(c.Alerts.Routing)
}

// EmailConfig resolves SMTP settings, reading credentials from the environment.
func (c *Config) EmailConfig() notifier.EmailConfig {
	e := c.Alerts.Channels.Email
	return notifier.EmailConfig{
		Host:         e.Host,
		Port:         e.Port,
		Username:     env(e.UsernameEnv),
		Password:     env(e.PasswordEnv),
		From:         e.From,
		DashboardURL: e.DashboardURL,
	}
}

// SMSConfig resolves SMS gateway settings from the environment.
func (c *Config) SMSConfig() notifier.SMSConfig {
	s := c.Alerts.Channels.SMS
	return notifier.SMSConfig{
		GatewayURL: env(s.GatewayURLEnv),
		APIKey:     env(s.APIKeyEnv),
		From:       s.From,
	}
}

// ChatURL returns the chat webhook URL, empty when unset.
func (c *Config) ChatURL() string {
	return env(c.Alerts.Channels.Chat.URLEnv)
}

// WebhookURL returns the generic webhook URL, empty when unset.
func (c *Config) WebhookURL() string {
	return env(c.Alerts.Channels.Webhook.URLEnv)
}

// DatabaseURL returns the Postgres DSN from the environment.
func (c *Config) DatabaseURL() string {
	return env(c.Service.Storage.DSNEnv)
}

// NATSURL returns the NATS server URL, preferring the environment.
func (c *Config) NATSURL() string {
	if u := env(c.Service.Ingest.NATS.URLEnv); u != "" {
		return u
	}
	return c.Service.Ingest.NATS.URL
}

func env(name string) string {
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}
