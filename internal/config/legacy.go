package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// LegacyEnv holds the environment variables of earlier deployments. Set
// values override the config file.
type LegacyEnv struct {
	WebhookURL     string `env:"N8N_WEBHOOK_URL"`
	RequestTimeout int    `env:"REQUEST_TIMEOUT"` // seconds
	LogLevel       string `env:"LOG_LEVEL"`
	Provider       string `env:"DEFAULT_PROVIDER"`
	Model          string `env:"DEFAULT_MODEL"`
	StatusPort     int    `env:"STATUS_WEBHOOK_PORT"`
}

// LoadLegacyEnv parses the legacy variables from the process environment.
func LoadLegacyEnv() (LegacyEnv, error) {
	var le LegacyEnv
	if err := env.Parse(&le); err != nil {
		return LegacyEnv{}, fmt.Errorf("parsing legacy environment: %w", err)
	}
	return le, nil
}

// Apply copies every set variable into cfg.
func (le LegacyEnv) Apply(cfg *Config) {
	if le.WebhookURL != "" {
		cfg.Backend.WebhookURL = le.WebhookURL
	}
	if le.RequestTimeout > 0 {
		cfg.Backend.Timeout = time.Duration(le.RequestTimeout) * time.Second
	}
	if le.LogLevel != "" {
		cfg.Log.Level = le.LogLevel
	}
	if le.Provider != "" {
		cfg.Backend.Provider = le.Provider
	}
	if le.Model != "" {
		cfg.Backend.Model = le.Model
	}
	if le.StatusPort > 0 {
		cfg.Listener.Port = le.StatusPort
	}
}
