package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ApplyDefaults fills zero fields with their defaults. Explicit values are
// kept. TTLs are only defaulted as a group: if every TTL is zero the
// standard set is applied, otherwise zero means "do not cache".
func ApplyDefaults(cfg *Config) {
	applyAPIDefaults(&cfg.API)
	applySchedulerDefaults(&cfg.Scheduler)
	applyCacheDefaults(&cfg.Cache)
	applyBatchDefaults(&cfg.Batch)
	applyStoreDefaults(&cfg.Store)
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
}

func applyAPIDefaults(cfg *APIConfig) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.ListTimeout == 0 {
		cfg.ListTimeout = 30 * time.Second
	}
}

func applySchedulerDefaults(cfg *SchedulerConfig) {
	if cfg.MaxConcurrentRequests == 0 {
		cfg.MaxConcurrentRequests = 3
	}
	if cfg.MaxRetries == nil {
		retries := 3
		cfg.MaxRetries = &retries
	}
	if cfg.RetryBaseDelay == 0 {
		cfg.RetryBaseDelay = time.Second
	}
	if cfg.RetryMaxDelay == 0 {
		cfg.RetryMaxDelay = 30 * time.Second
	}
	if cfg.RateLimit > 0 && cfg.RateBurst == 0 {
		cfg.RateBurst = 1
	}
}

func applyCacheDefaults(cfg *CacheConfig) {
	if cfg.Size == 0 {
		cfg.Size = 500
	}
	if cfg.MaxTTL == 0 {
		cfg.MaxTTL = time.Hour
	}
	if cfg.TTLs == (TTLConfig{}) {
		cfg.TTLs = TTLConfig{
			LibraryItems:   5 * time.Minute,
			ItemCount:      10 * time.Minute,
			Search:         time.Minute,
			Progress:       time.Minute,
			RecentlyPlayed: time.Minute,
			Items:          5 * time.Minute,
			Default:        5 * time.Minute,
		}
	}
}

func applyBatchDefaults(cfg *BatchConfig) {
	if cfg.DebounceWindow == 0 {
		cfg.DebounceWindow = 300 * time.Millisecond
	}
	if cfg.FlushWindow == 0 {
		cfg.FlushWindow = 2 * time.Second
	}
	if cfg.ProgressChunkSize == 0 {
		cfg.ProgressChunkSize = 500
	}
	if cfg.FetchChunkSize == 0 {
		cfg.FetchChunkSize = 100
	}
}

func applyStoreDefaults(cfg *StoreConfig) {
	if cfg.Path == "" {
		cfg.Path = filepath.Join(dataDir(), "catalog.db")
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	cfg.Level = strings.ToLower(cfg.Level)
	if cfg.Format == "" {
		cfg.Format = "json"
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "catalogops"
	}
	if cfg.TracingExporter == "" {
		cfg.TracingExporter = "none"
	}
	if cfg.MetricsExporter == "" {
		cfg.MetricsExporter = "none"
	}
	if cfg.SamplePct == 0 {
		cfg.SamplePct = 1.0
	}
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// dataDir is $XDG_DATA_HOME/catalogops, ~/.local/share/catalogops, or "."
// when no home directory is known.
func dataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "catalogops")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "share", "catalogops")
}

// DefaultPath is $XDG_CONFIG_HOME/catalogops/config.yaml, falling back to
// ~/.config/catalogops/config.yaml.
func DefaultPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "catalogops", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".config", "catalogops", "config.yaml")
}
