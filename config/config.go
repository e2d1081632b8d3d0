package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/jonwraymond/catalogops/batch"
	"github.com/jonwraymond/catalogops/cache"
	"github.com/jonwraymond/catalogops/catalog"
	"github.com/jonwraymond/catalogops/observe"
	"github.com/jonwraymond/catalogops/resilience"
	"github.com/jonwraymond/catalogops/scheduler"
)

// EnvPrefix prefixes every environment override, e.g.
// CATALOGOPS_API_BASE_URL or CATALOGOPS_SCHEDULER_MAX_CONCURRENT_REQUESTS.
const EnvPrefix = "CATALOGOPS"

// Config is the complete catalogops configuration.
//
// Sources, highest precedence first:
//  1. Environment variables (CATALOGOPS_*)
//  2. Configuration file (YAML)
//  3. Default values
type Config struct {
	API       APIConfig       `mapstructure:"api" yaml:"api"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`
	Cache     CacheConfig     `mapstructure:"cache" yaml:"cache"`
	Batch     BatchConfig     `mapstructure:"batch" yaml:"batch"`
	Store     StoreConfig     `mapstructure:"store" yaml:"store"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
}

// APIConfig points at the media server.
type APIConfig struct {
	// BaseURL is the server root. Empty means the local store is used.
	BaseURL string `mapstructure:"base_url" validate:"omitempty,url" yaml:"base_url"`

	// AuthToken is sent as a bearer token.
	AuthToken string `mapstructure:"auth_token" yaml:"auth_token,omitempty"`

	// Timeout bounds ordinary requests.
	// Default: 15s
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0" yaml:"timeout"`

	// ListTimeout bounds listing and batch fetch requests.
	// Default: 30s
	ListTimeout time.Duration `mapstructure:"list_timeout" validate:"gt=0" yaml:"list_timeout"`
}

// SchedulerConfig controls admission, retries and pacing.
type SchedulerConfig struct {
	// Default: 3
	MaxConcurrentRequests int `mapstructure:"max_concurrent_requests" validate:"gte=1,lte=64" yaml:"max_concurrent_requests"`

	// MaxRetries is a pointer so an explicit 0 (no retries) differs from
	// an unset key.
	// Default: 3
	MaxRetries *int `mapstructure:"max_retries" validate:"omitempty,gte=0,lte=10" yaml:"max_retries"`

	// Default: 1s
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay" validate:"gt=0" yaml:"retry_base_delay"`

	// Default: 30s
	RetryMaxDelay time.Duration `mapstructure:"retry_max_delay" validate:"gtefield=RetryBaseDelay" yaml:"retry_max_delay"`

	// RateLimit is requests per second. Zero disables pacing.
	RateLimit float64 `mapstructure:"rate_limit" validate:"gte=0" yaml:"rate_limit"`

	// RateBurst is the bucket size when RateLimit is set.
	// Default: 1
	RateBurst int `mapstructure:"rate_burst" validate:"gte=0" yaml:"rate_burst"`
}

// CacheConfig sizes the result cache.
type CacheConfig struct {
	// Default: 500
	Size int `mapstructure:"size" validate:"gte=1" yaml:"size"`

	TTLs TTLConfig `mapstructure:"ttls" yaml:"ttls"`

	// MaxTTL clamps every TTL.
	// Default: 1h
	MaxTTL time.Duration `mapstructure:"max_ttl" validate:"gte=0" yaml:"max_ttl"`
}

// TTLConfig sets the lifetime of each cache namespace. Zero disables
// caching for that namespace.
type TTLConfig struct {
	LibraryItems   time.Duration `mapstructure:"library_items" validate:"gte=0" yaml:"library_items"`
	ItemCount      time.Duration `mapstructure:"item_count" validate:"gte=0" yaml:"item_count"`
	Search         time.Duration `mapstructure:"search" validate:"gte=0" yaml:"search"`
	Progress       time.Duration `mapstructure:"progress" validate:"gte=0" yaml:"progress"`
	RecentlyPlayed time.Duration `mapstructure:"recently_played" validate:"gte=0" yaml:"recently_played"`
	Items          time.Duration `mapstructure:"items" validate:"gte=0" yaml:"items"`
	Default        time.Duration `mapstructure:"default" validate:"gte=0" yaml:"default"`
}

// BatchConfig controls debouncing and chunking.
type BatchConfig struct {
	// Default: 300ms
	DebounceWindow time.Duration `mapstructure:"debounce_window" validate:"gt=0" yaml:"debounce_window"`

	// Default: 2s
	FlushWindow time.Duration `mapstructure:"flush_window" validate:"gt=0" yaml:"flush_window"`

	// ProgressChunkSize is the rows per insert statement for bulk writes.
	// The store lowers it per table to stay within SQLite's bind limit.
	// Default: 500
	ProgressChunkSize int `mapstructure:"progress_chunk_size" validate:"gte=1,lte=4000" yaml:"progress_chunk_size"`

	// Default: 100
	FetchChunkSize int `mapstructure:"fetch_chunk_size" validate:"gte=1" yaml:"fetch_chunk_size"`
}

// StoreConfig locates the local database.
type StoreConfig struct {
	// Path is the SQLite file.
	// Default: $XDG_DATA_HOME/catalogops/catalog.db
	Path string `mapstructure:"path" validate:"required" yaml:"path"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Default: info
	Level string `mapstructure:"level" validate:"oneof=debug info warn error" yaml:"level"`

	// Default: json
	Format string `mapstructure:"format" validate:"oneof=json console" yaml:"format"`
}

// TelemetryConfig controls OpenTelemetry export.
type TelemetryConfig struct {
	// Default: catalogops
	ServiceName string `mapstructure:"service_name" validate:"required" yaml:"service_name"`

	// Default: none
	TracingExporter string `mapstructure:"tracing_exporter" validate:"oneof=otlp jaeger stdout none" yaml:"tracing_exporter"`

	// Default: none
	MetricsExporter string `mapstructure:"metrics_exporter" validate:"oneof=otlp prometheus stdout none" yaml:"metrics_exporter"`

	// Default: 1.0
	SamplePct float64 `mapstructure:"sample_pct" validate:"gte=0,lte=1" yaml:"sample_pct"`

	// Endpoint is the OTLP collector. Empty uses the OTEL_* variables.
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`

	Insecure bool `mapstructure:"insecure" yaml:"insecure"`
}

// Load reads configuration from path (optional), applies environment
// overrides and defaults, and validates the result. A missing file is not
// an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v, reflect.TypeOf(Config{}), "")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHooks())); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes cfg as YAML with owner-only permissions, since it may hold
// an auth token.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every field constraint.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config: invalid configuration: %w", err)
	}
	return nil
}

// Policy returns the cache policy described by c.
func (c CacheConfig) Policy() cache.Policy {
	return cache.Policy{
		DefaultTTL: c.TTLs.Default,
		MaxTTL:     c.MaxTTL,
		TTLs: map[string]time.Duration{
			cache.NamespaceLibraryItems:   c.TTLs.LibraryItems,
			cache.NamespaceItemCount:      c.TTLs.ItemCount,
			cache.NamespaceSearch:         c.TTLs.Search,
			cache.NamespaceProgress:       c.TTLs.Progress,
			cache.NamespaceRecentlyPlayed: c.TTLs.RecentlyPlayed,
			cache.NamespaceItems:          c.TTLs.Items,
		},
	}
}

// ServiceConfig builds the facade configuration for source.
func (c *Config) ServiceConfig(source catalog.Source, mw *observe.Middleware) catalog.Config {
	policy := c.Cache.Policy()

	var limiter *resilience.RateLimiter
	if c.Scheduler.RateLimit > 0 {
		limiter = resilience.NewRateLimiter(resilience.RateLimiterConfig{
			Rate:  c.Scheduler.RateLimit,
			Burst: c.Scheduler.RateBurst,
		})
	}

	retries := 3
	if c.Scheduler.MaxRetries != nil {
		retries = *c.Scheduler.MaxRetries
	}
	if retries == 0 {
		// RetryConfig reads 0 as "use the default".
		retries = -1
	}

	return catalog.Config{
		Source:    source,
		CacheSize: c.Cache.Size,
		Policy:    &policy,
		Scheduler: scheduler.Config{
			MaxConcurrent: c.Scheduler.MaxConcurrentRequests,
			Retry: resilience.NewRetryPolicy(resilience.RetryConfig{
				MaxRetries: retries,
				BaseDelay:  c.Scheduler.RetryBaseDelay,
				MaxDelay:   c.Scheduler.RetryMaxDelay,
				Jitter:     true,
			}),
			DefaultTimeout: c.API.Timeout,
			RateLimiter:    limiter,
		},
		Batch: batch.Config{
			DebounceWindow: c.Batch.DebounceWindow,
			FlushWindow:    c.Batch.FlushWindow,
		},
		ListTimeout:    c.API.ListTimeout,
		FetchChunkSize: c.Batch.FetchChunkSize,
		Middleware:     mw,
	}
}

// ObserveConfig maps the logging and telemetry sections onto observe.Config.
func (c *Config) ObserveConfig(version string) observe.Config {
	return observe.Config{
		ServiceName: c.Telemetry.ServiceName,
		Version:     version,
		Tracing: observe.TracingConfig{
			Enabled:   c.Telemetry.TracingExporter != "none",
			Exporter:  c.Telemetry.TracingExporter,
			SamplePct: c.Telemetry.SamplePct,
		},
		Metrics: observe.MetricsConfig{
			Enabled:  c.Telemetry.MetricsExporter != "none",
			Exporter: c.Telemetry.MetricsExporter,
		},
		Logging: observe.LoggingConfig{
			Enabled: true,
			Level:   c.Logging.Level,
			Format:  c.Logging.Format,
		},
		Endpoint: c.Telemetry.Endpoint,
		Insecure: c.Telemetry.Insecure,
	}
}

// bindEnv registers every mapstructure key with viper so that environment
// variables are honored by Unmarshal even when no file sets the key.
func bindEnv(v *viper.Viper, t reflect.Type, prefix string) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		key := f.Tag.Get("mapstructure")
		if key == "" {
			continue
		}
		if prefix != "" {
			key = prefix + "." + key
		}
		if f.Type.Kind() == reflect.Struct && f.Type != reflect.TypeOf(time.Duration(0)) {
			bindEnv(v, f.Type, key)
			continue
		}
		_ = v.BindEnv(key)
	}
}

func decodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// durationDecodeHook accepts "30s" style strings and raw nanoseconds.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(_ reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}
