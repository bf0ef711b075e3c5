package config

import (
	"os"
	"path/filepath"
	"time"
)

// Default model per provider, used when provider.model is empty.
var defaultModels = map[string]string{
	ProviderOpenAI:    "gpt-4o-mini",
	ProviderAnthropic: "claude-sonnet-4-20250514",
	ProviderXAI:       "grok-2-vision-latest",
	ProviderGemini:    "gemini-2.0-flash",
	ProviderOllama:    "llava",
}

// MinInterval is the floor applied to monitor.interval when monitoring starts.
const MinInterval = 10 * time.Second

func applyDefaults(cfg *Config) {
	if cfg.SchemaVersion == 0 {
		cfg.SchemaVersion = SchemaVersion
	}
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir()
	}

	// Provider defaults
	if cfg.Provider.Name == "" {
		cfg.Provider.Name = ProviderOpenAI
	}
	if cfg.Provider.AzureDeployment == "" {
		cfg.Provider.AzureDeployment = "gpt-4o-mini"
	}
	if cfg.Provider.AzureAPIVersion == "" {
		cfg.Provider.AzureAPIVersion = "2025-01-01-preview"
	}
	if cfg.Provider.Model == "" {
		if cfg.Provider.Name == ProviderAzureOpenAI {
			cfg.Provider.Model = cfg.Provider.AzureDeployment
		} else {
			cfg.Provider.Model = defaultModels[cfg.Provider.Name]
		}
	}
	if cfg.Provider.Name == ProviderOllama && cfg.Provider.Endpoint == "" {
		cfg.Provider.Endpoint = "http://localhost:11434"
	}
	if cfg.Provider.Timeout == 0 {
		// Local models can be slow.
		if cfg.Provider.Name == ProviderOllama {
			cfg.Provider.Timeout = 120 * time.Second
		} else {
			cfg.Provider.Timeout = 30 * time.Second
		}
	}
	if cfg.Provider.MaxTokens == 0 {
		cfg.Provider.MaxTokens = 150
	}

	// Monitor defaults
	if cfg.Monitor.Interval == 0 {
		cfg.Monitor.Interval = 60 * time.Second
	}
	if cfg.Monitor.MinLayerForVision == 0 {
		cfg.Monitor.MinLayerForVision = 2
	}
	if cfg.Monitor.FailStrikes == 0 {
		cfg.Monitor.FailStrikes = 3
	}
	if cfg.Monitor.LayerHeight == 0 {
		cfg.Monitor.LayerHeight = 0.2
	}

	// Snapshot defaults
	if cfg.Snapshot.Retention == 0 {
		cfg.Snapshot.Retention = 20
	}
	if cfg.Snapshot.Timeout == 0 {
		cfg.Snapshot.Timeout = 10 * time.Second
	}
	if cfg.Snapshot.MinFreeMB == 0 {
		cfg.Snapshot.MinFreeMB = 100
	}

	// Host defaults
	if cfg.Host.PollInterval == 0 {
		cfg.Host.PollInterval = 5 * time.Second
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".guardianeye"
	}
	return filepath.Join(home, ".guardianeye")
}
