// Package config provides configuration types, defaults, and persistence for statusrelay.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/zjrosen/statusrelay/internal/backend"
	"github.com/zjrosen/statusrelay/internal/ingest"
	"github.com/zjrosen/statusrelay/internal/log"
	"github.com/zjrosen/statusrelay/internal/queue"
	"github.com/zjrosen/statusrelay/internal/session"
	"github.com/zjrosen/statusrelay/internal/tracing"
)

// DefaultConfigPath is where a missing config file gets created.
const DefaultConfigPath = ".statusrelay/config.yaml"

// Config holds all configuration.
type Config struct {
	Listener ListenerConfig `mapstructure:"listener" yaml:"listener"`
	Queue    QueueConfig    `mapstructure:"queue" yaml:"queue"`
	Consumer ConsumerConfig `mapstructure:"consumer" yaml:"consumer"`
	Backend  backend.Config `mapstructure:"backend" yaml:"backend"`
	UI       UIConfig       `mapstructure:"ui" yaml:"ui"`
	Store    StoreConfig    `mapstructure:"store" yaml:"store"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	Tracing  tracing.Config `mapstructure:"tracing" yaml:"tracing"`
}

// ListenerConfig configures the status ingest listener.
type ListenerConfig struct {
	Host          string        `mapstructure:"host" yaml:"host"`
	Port          int           `mapstructure:"port" yaml:"port"`
	FallbackPorts []int         `mapstructure:"fallback_ports" yaml:"fallback_ports"`
	StopTimeout   time.Duration `mapstructure:"stop_timeout" yaml:"stop_timeout"`
	MaxBodyBytes  int64         `mapstructure:"max_body_bytes" yaml:"max_body_bytes"`
	// DedupeTTL is how long event ids are remembered. Zero disables de-duplication.
	DedupeTTL time.Duration `mapstructure:"dedupe_ttl" yaml:"dedupe_ttl"`
	// HealthInterval is how often the headless server self-heals the listener.
	HealthInterval time.Duration `mapstructure:"health_interval" yaml:"health_interval"`
	CORSOrigins    []string      `mapstructure:"cors_origins" yaml:"cors_origins"`
}

// Addr returns host:port.
func (l ListenerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", l.Host, l.Port)
}

// QueueConfig bounds the shared event queue.
type QueueConfig struct {
	// MaxSize of 0 means unbounded.
	MaxSize int `mapstructure:"max_size" yaml:"max_size"`
}

// ConsumerConfig tunes the per-session consumer loop.
type ConsumerConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// UIConfig holds terminal rendering settings.
type UIConfig struct {
	MarkdownStyle string        `mapstructure:"markdown_style" yaml:"markdown_style"`
	Width         int           `mapstructure:"width" yaml:"width"`
	ToastDuration time.Duration `mapstructure:"toast_duration" yaml:"toast_duration"`
	NoColor       bool          `mapstructure:"no_color" yaml:"no_color"`
}

// StoreConfig controls transcript persistence.
type StoreConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// LogConfig controls the debug log.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

// DefaultTracesFilePath returns ~/.config/statusrelay/traces/traces.jsonl, or
// an empty string if the home dir is unavailable.
func DefaultTracesFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "statusrelay", "traces", "traces.jsonl")
}

// DefaultStorePath returns ~/.config/statusrelay/transcripts.db, or an empty
// string if the home dir is unavailable.
func DefaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "statusrelay", "transcripts.db")
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	return Config{
		Listener: ListenerConfig{
			Host:           ingest.DefaultHost,
			Port:           ingest.DefaultPort,
			FallbackPorts:  append([]int(nil), ingest.DefaultFallbackPorts...),
			StopTimeout:    ingest.DefaultStopTimeout,
			MaxBodyBytes:   ingest.DefaultMaxBodyBytes,
			DedupeTTL:      ingest.DefaultDedupeTTL,
			HealthInterval: 30 * time.Second,
			CORSOrigins:    []string{},
		},
		Queue: QueueConfig{
			MaxSize: queue.DefaultMaxSize,
		},
		Consumer: ConsumerConfig{
			PollInterval: session.DefaultPollInterval,
		},
		Backend: backend.DefaultConfig(),
		UI: UIConfig{
			MarkdownStyle: "dark",
			Width:         100,
			ToastDuration: 3 * time.Second,
		},
		Store: StoreConfig{
			Enabled: false,
			Path:    DefaultStorePath(),
		},
		Log: LogConfig{
			Level: "info",
		},
		Tracing: tracing.DefaultConfig(),
	}
}

// SetDefaults registers every default with v so that env and flag bindings
// resolve for keys the config file omits.
func SetDefaults(v *viper.Viper) {
	d := Defaults()

	v.SetDefault("listener.host", d.Listener.Host)
	v.SetDefault("listener.port", d.Listener.Port)
	v.SetDefault("listener.fallback_ports", d.Listener.FallbackPorts)
	v.SetDefault("listener.stop_timeout", d.Listener.StopTimeout)
	v.SetDefault("listener.max_body_bytes", d.Listener.MaxBodyBytes)
	v.SetDefault("listener.dedupe_ttl", d.Listener.DedupeTTL)
	v.SetDefault("listener.health_interval", d.Listener.HealthInterval)
	v.SetDefault("listener.cors_origins", d.Listener.CORSOrigins)

	v.SetDefault("queue.max_size", d.Queue.MaxSize)
	v.SetDefault("consumer.poll_interval", d.Consumer.PollInterval)

	v.SetDefault("backend.webhook_url", d.Backend.WebhookURL)
	v.SetDefault("backend.timeout", d.Backend.Timeout)
	v.SetDefault("backend.provider", d.Backend.Provider)
	v.SetDefault("backend.model", d.Backend.Model)
	v.SetDefault("backend.temperature", d.Backend.Temperature)
	v.SetDefault("backend.max_tokens", d.Backend.MaxTokens)

	v.SetDefault("ui.markdown_style", d.UI.MarkdownStyle)
	v.SetDefault("ui.width", d.UI.Width)
	v.SetDefault("ui.toast_duration", d.UI.ToastDuration)
	v.SetDefault("ui.no_color", d.UI.NoColor)

	v.SetDefault("store.enabled", d.Store.Enabled)
	v.SetDefault("store.path", d.Store.Path)

	v.SetDefault("log.level", d.Log.Level)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.file_path", d.Tracing.FilePath)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
}

// Load unmarshals v into a Config, applies legacy environment overrides and
// validates the result.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}

	legacy, err := LoadLegacyEnv()
	if err != nil {
		return Config{}, err
	}
	legacy.Apply(&cfg)

	if cfg.Tracing.Enabled && cfg.Tracing.Exporter == tracing.ExporterFile && cfg.Tracing.FilePath == "" {
		cfg.Tracing.FilePath = DefaultTracesFilePath()
	}

	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks every section, returning the first error.
func Validate(cfg Config) error {
	validators := []func() error{
		func() error { return ValidateListener(cfg.Listener) },
		func() error { return ValidateQueue(cfg.Queue) },
		func() error { return ValidateConsumer(cfg.Consumer) },
		func() error { return ValidateBackend(cfg.Backend) },
		func() error { return ValidateUI(cfg.UI) },
		func() error { return ValidateStore(cfg.Store) },
		func() error { return ValidateLog(cfg.Log) },
		func() error { return ValidateTracing(cfg.Tracing) },
	}
	for _, validate := range validators {
		if err := validate(); err != nil {
			return err
		}
	}
	return nil
}

// ValidateListener checks listener configuration for errors.
func ValidateListener(l ListenerConfig) error {
	if l.Port < 1 || l.Port > 65535 {
		return fmt.Errorf("listener.port must be between 1 and 65535, got %d", l.Port)
	}
	for i, p := range l.FallbackPorts {
		if p < 1 || p > 65535 {
			return fmt.Errorf("listener.fallback_ports[%d] must be between 1 and 65535, got %d", i, p)
		}
	}
	if l.StopTimeout < 0 {
		return fmt.Errorf("listener.stop_timeout must not be negative, got %s", l.StopTimeout)
	}
	if l.MaxBodyBytes < 0 {
		return fmt.Errorf("listener.max_body_bytes must not be negative, got %d", l.MaxBodyBytes)
	}
	if l.DedupeTTL < 0 {
		return fmt.Errorf("listener.dedupe_ttl must not be negative, got %s", l.DedupeTTL)
	}
	if l.HealthInterval < 0 {
		return fmt.Errorf("listener.health_interval must not be negative, got %s", l.HealthInterval)
	}
	return nil
}

// ValidateQueue checks queue configuration for errors.
func ValidateQueue(q QueueConfig) error {
	if q.MaxSize < 0 {
		return fmt.Errorf("queue.max_size must be 0 (unbounded) or positive, got %d", q.MaxSize)
	}
	return nil
}

// ValidateConsumer checks consumer configuration for errors.
func ValidateConsumer(c ConsumerConfig) error {
	if c.PollInterval < 0 {
		return fmt.Errorf("consumer.poll_interval must not be negative, got %s", c.PollInterval)
	}
	return nil
}

// ValidateBackend checks webhook configuration for errors.
func ValidateBackend(b backend.Config) error {
	if b.WebhookURL != "" {
		u, err := url.Parse(b.WebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("backend.webhook_url must be an absolute http(s) URL, got %q", b.WebhookURL)
		}
	}
	if b.Timeout < 0 {
		return fmt.Errorf("backend.timeout must not be negative, got %s", b.Timeout)
	}
	if b.Temperature < 0 || b.Temperature > 2 {
		return fmt.Errorf("backend.temperature must be between 0.0 and 2.0, got %v", b.Temperature)
	}
	if b.MaxTokens < 0 {
		return fmt.Errorf("backend.max_tokens must not be negative, got %d", b.MaxTokens)
	}
	return nil
}

// ValidateUI checks terminal UI configuration for errors.
func ValidateUI(u UIConfig) error {
	switch u.MarkdownStyle {
	case "", "dark", "light", "notty":
	default:
		return fmt.Errorf("ui.markdown_style must be \"dark\", \"light\", or \"notty\", got %q", u.MarkdownStyle)
	}
	if u.Width < 0 {
		return fmt.Errorf("ui.width must not be negative, got %d", u.Width)
	}
	if u.ToastDuration < 0 {
		return fmt.Errorf("ui.toast_duration must not be negative, got %s", u.ToastDuration)
	}
	return nil
}

// ValidateStore checks transcript store configuration for errors.
func ValidateStore(s StoreConfig) error {
	if s.Enabled && s.Path == "" {
		return fmt.Errorf("store.path is required when store is enabled")
	}
	return nil
}

// ValidateLog checks log configuration for errors.
func ValidateLog(l LogConfig) error {
	if l.Level == "" {
		return nil
	}
	if _, ok := log.ParseLevel(l.Level); !ok {
		return fmt.Errorf("log.level must be \"debug\", \"info\", \"warn\", or \"error\", got %q", l.Level)
	}
	return nil
}

// ValidateTracing checks tracing configuration for errors.
// Returns nil if the configuration is valid (empty values use defaults).
func ValidateTracing(t tracing.Config) error {
	if t.SampleRate < 0.0 || t.SampleRate > 1.0 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0, got %v", t.SampleRate)
	}

	if t.Exporter != "" {
		switch t.Exporter {
		case tracing.ExporterNone, tracing.ExporterFile, tracing.ExporterStdout,
			tracing.ExporterOTLP, tracing.ExporterOTLPHTTP:
		default:
			return fmt.Errorf("tracing.exporter must be \"none\", \"file\", \"stdout\", \"otlp\", or \"otlp-http\", got %q", t.Exporter)
		}
	}

	if t.Enabled && t.Exporter == tracing.ExporterFile && t.FilePath == "" {
		return fmt.Errorf("tracing.file_path is required when exporter is \"file\"")
	}
	return nil
}

// WriteDefaultConfig creates a config file at the given path with default settings and comments.
// Creates the parent directory if it doesn't exist.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}
