package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Provider names.
const (
	ProviderOpenAI      = "openai"
	ProviderAzureOpenAI = "azure_openai"
	ProviderAnthropic   = "anthropic"
	ProviderXAI         = "xai"
	ProviderGemini      = "gemini"
	ProviderOllama      = "ollama"
)

// Providers lists every supported vision provider name.
var Providers = []string{
	ProviderOpenAI,
	ProviderAzureOpenAI,
	ProviderAnthropic,
	ProviderXAI,
	ProviderGemini,
	ProviderOllama,
}

// Config represents the full guardianeye.yaml configuration.
type Config struct {
	SchemaVersion int                `yaml:"schema_version"`
	DataDir       string             `yaml:"data_dir"`
	Provider      ProviderConfig     `yaml:"provider"`
	Monitor       MonitorConfig      `yaml:"monitor"`
	Snapshot      SnapshotConfig     `yaml:"snapshot"`
	Prompt        PromptConfig       `yaml:"prompt"`
	Notifications NotificationConfig `yaml:"notifications"`
	Host          HostConfig         `yaml:"host"`
	Logging       LoggingConfig      `yaml:"logging"`
}

type ProviderConfig struct {
	Name            string        `yaml:"name"`
	APIKey          string        `yaml:"api_key"`
	Model           string        `yaml:"model"`
	Endpoint        string        `yaml:"endpoint"`
	AzureDeployment string        `yaml:"azure_deployment"`
	AzureAPIVersion string        `yaml:"azure_api_version"`
	Timeout         time.Duration `yaml:"timeout"`
	MaxTokens       int           `yaml:"max_tokens"`
}

type MonitorConfig struct {
	Interval          time.Duration `yaml:"interval"`
	MinLayerForVision int           `yaml:"min_layer_for_vision"`
	FailStrikes       int           `yaml:"fail_strikes"`
	LayerHeight       float64       `yaml:"layer_height"`
	CostTracking      *bool         `yaml:"cost_tracking"`
	MaxSessionCostUSD float64       `yaml:"max_session_cost_usd"`
}

// CostTrackingEnabled reports whether per-call costs should be estimated.
func (m MonitorConfig) CostTrackingEnabled() bool {
	return m.CostTracking == nil || *m.CostTracking
}

type SnapshotConfig struct {
	URL       string        `yaml:"url"`
	Retention int           `yaml:"retention"`
	Timeout   time.Duration `yaml:"timeout"`
	MinFreeMB int           `yaml:"min_free_mb"`
}

type PromptConfig struct {
	Custom string `yaml:"custom"`
}

type NotificationConfig struct {
	Webhook  WebhookConfig  `yaml:"webhook"`
	Discord  DiscordConfig  `yaml:"discord"`
	Telegram TelegramConfig `yaml:"telegram"`
}

type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

type DiscordConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
	// APIBase overrides https://api.telegram.org; used by tests and self-hosted bot API servers.
	APIBase string `yaml:"api_base"`
}

type HostConfig struct {
	Enabled      *bool         `yaml:"enabled"`
	OctoPrintURL string        `yaml:"octoprint_url"`
	APIKey       string        `yaml:"api_key"`
	PollInterval time.Duration `yaml:"poll_interval"`
	AutoStart    *bool         `yaml:"auto_start"`
}

// IsEnabled reports whether host events should drive the monitor.
func (h HostConfig) IsEnabled() bool { return h.Enabled == nil || *h.Enabled }

// AutoStartEnabled reports whether a started print starts monitoring.
func (h HostConfig) AutoStartEnabled() bool { return h.AutoStart == nil || *h.AutoStart }

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses a guardianeye.yaml file, applying defaults and validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse parses raw YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	cfg, err := Migrate(data)
	if err != nil {
		return nil, err
	}

	applyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks a Config for logical errors.
func Validate(cfg *Config) error {
	if cfg.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	if !isKnownProvider(cfg.Provider.Name) {
		return fmt.Errorf("provider.name %q is not one of %s", cfg.Provider.Name, strings.Join(Providers, ", "))
	}
	if cfg.Provider.Name == ProviderAzureOpenAI && cfg.Provider.Endpoint == "" {
		return fmt.Errorf("provider.endpoint is required for %s", ProviderAzureOpenAI)
	}
	if cfg.Provider.Timeout < 0 {
		return fmt.Errorf("provider.timeout must be >= 0, got %v", cfg.Provider.Timeout)
	}

	if cfg.Monitor.FailStrikes < 1 {
		return fmt.Errorf("monitor.fail_strikes must be >= 1, got %d", cfg.Monitor.FailStrikes)
	}
	if cfg.Monitor.MinLayerForVision < 0 {
		return fmt.Errorf("monitor.min_layer_for_vision must be >= 0, got %d", cfg.Monitor.MinLayerForVision)
	}
	if cfg.Monitor.LayerHeight <= 0 {
		return fmt.Errorf("monitor.layer_height must be > 0, got %v", cfg.Monitor.LayerHeight)
	}
	if cfg.Monitor.MaxSessionCostUSD < 0 {
		return fmt.Errorf("monitor.max_session_cost_usd must be >= 0, got %v", cfg.Monitor.MaxSessionCostUSD)
	}

	if cfg.Snapshot.Retention < 1 {
		return fmt.Errorf("snapshot.retention must be >= 1, got %d", cfg.Snapshot.Retention)
	}

	n := cfg.Notifications
	if n.Webhook.Enabled && n.Webhook.URL == "" {
		return fmt.Errorf("notifications.webhook.url is required when the webhook is enabled")
	}
	if n.Discord.Enabled && n.Discord.WebhookURL == "" {
		return fmt.Errorf("notifications.discord.webhook_url is required when discord is enabled")
	}
	if n.Telegram.Enabled && (n.Telegram.BotToken == "" || n.Telegram.ChatID == "") {
		return fmt.Errorf("notifications.telegram.bot_token and chat_id are required when telegram is enabled")
	}

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q must be debug, info, warn or error", cfg.Logging.Level)
	}
	switch cfg.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q must be text or json", cfg.Logging.Format)
	}

	return nil
}

func isKnownProvider(name string) bool {
	for _, p := range Providers {
		if p == name {
			return true
		}
	}
	return false
}

// SnapshotDir returns the directory monitor snapshots are written to.
func (c *Config) SnapshotDir() string {
	return filepath.Join(c.DataDir, "snapshots")
}
