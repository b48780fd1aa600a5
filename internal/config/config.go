// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type ServerConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"` // bearer key guarding admin routes
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type GatewayConfig struct {
	KeyID          string        `yaml:"key_id"`
	KeySecret      string        `yaml:"key_secret"`
	WebhookSecret  string        `yaml:"webhook_secret"`
	CallbackURL    string        `yaml:"callback_url"`
	RetryAttempts  int           `yaml:"retry_attempts"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
}

type PaymentsConfig struct {
	PendingTimeout time.Duration `yaml:"pending_timeout"`
	EntitlementURL string        `yaml:"entitlement_url"`
}

type ReaperConfig struct {
	Interval     time.Duration `yaml:"interval"`
	StaleAfter   time.Duration `yaml:"stale_after"`
	NotableCount int           `yaml:"notable_count"`
}

type TelegramConfig struct {
	Token        string  `yaml:"token"`
	AdminChatIDs []int64 `yaml:"admin_chat_ids"`
}

type Config struct {
	Log      LogConfig      `yaml:"log"`
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Payments PaymentsConfig `yaml:"payments"`
	Reaper   ReaperConfig   `yaml:"reaper"`
	Telegram TelegramConfig `yaml:"telegram"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Gateway.RetryAttempts <= 0 {
		cfg.Gateway.RetryAttempts = 3
	}
	if cfg.Gateway.RetryBaseDelay <= 0 {
		cfg.Gateway.RetryBaseDelay = 500 * time.Millisecond
	}
	if cfg.Payments.PendingTimeout <= 0 {
		cfg.Payments.PendingTimeout = 30 * time.Minute
	}
	if cfg.Reaper.Interval <= 0 {
		cfg.Reaper.Interval = 15 * time.Minute
	}
	if cfg.Reaper.StaleAfter <= 0 {
		cfg.Reaper.StaleAfter = 30 * time.Minute
	}
	if cfg.Reaper.NotableCount <= 0 {
		cfg.Reaper.NotableCount = 10
	}

	// Minimal validation
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Gateway.KeyID == "" || cfg.Gateway.KeySecret == "" {
		return nil, errors.New("gateway.key_id and gateway.key_secret are required")
	}
	if cfg.Gateway.WebhookSecret == "" {
		return nil, errors.New("gateway.webhook_secret is required")
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}
