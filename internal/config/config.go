package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hyperengineering/pillars/internal/types"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Log       LogConfig       `yaml:"log"`
	Sync      SyncConfig      `yaml:"sync"`
	Providers ProvidersConfig `yaml:"providers"`
	Scoring   ScoringConfig   `yaml:"scoring"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig contains database settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig contains authentication settings.
type AuthConfig struct {
	APIKey string `yaml:"-"` // env-only, never in YAML
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SyncConfig contains sync orchestration settings.
type SyncConfig struct {
	// Concurrency bounds the mappings processed at once within one run.
	Concurrency int `yaml:"concurrency"`

	// MaxRecords caps the records one mapping query may aggregate.
	MaxRecords int `yaml:"max_records"`

	// RequestTimeout bounds each outbound provider request.
	RequestTimeout Duration `yaml:"request_timeout"`

	// MappingTimeout bounds all remote work for one mapping. Zero disables it.
	MappingTimeout Duration `yaml:"mapping_timeout"`

	// Schedules maps an integration type to a cron expression.
	Schedules map[string]string `yaml:"schedules"`
}

// ProvidersConfig contains provider client settings.
type ProvidersConfig struct {
	MetadataCacheTTL Duration `yaml:"metadata_cache_ttl"`
	HubSpotBaseURL   string   `yaml:"hubspot_base_url"`
	JiraBaseURL      string   `yaml:"jira_base_url"`
	SheetsBaseURL    string   `yaml:"sheets_base_url"`
}

// ScoringConfig contains the fallback thresholds for new pillars and metrics.
type ScoringConfig struct {
	GreenThreshold  float64 `yaml:"green_threshold"`
	YellowThreshold float64 `yaml:"yellow_threshold"`
}

// Thresholds returns the configured default thresholds.
func (c ScoringConfig) Thresholds() types.Thresholds {
	return types.Thresholds{Green: c.GreenThreshold, Yellow: c.YellowThreshold}
}

// ErrMissingAPIKey is returned by Load when no API key is configured outside dev mode.
var ErrMissingAPIKey = errors.New("PILLARS_API_KEY is required")

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load loads configuration with precedence: defaults → YAML file → env vars.
// Returns an immutable Config suitable for concurrent read access.
func Load() (*Config, error) {
	return load(true)
}

// LoadLocal loads configuration like Load but does not require an API key.
// It serves commands that never expose the HTTP API.
func LoadLocal() (*Config, error) {
	return load(false)
}

func load(requireAPIKey bool) (*Config, error) {
	cfg := newDefaults()

	configPath := getEnv("PILLARS_CONFIG_PATH", "config/pillars.yaml")

	// Missing file is not an error
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(requireAPIKey); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific path.
// Used for testing and explicit config paths.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(true); err != nil {
		return nil, err
	}

	return cfg, nil
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(5 * time.Minute), // sync requests are synchronous
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Database: DatabaseConfig{
			Path: "data/pillars.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Sync: SyncConfig{
			Concurrency:    1,
			MaxRecords:     10000,
			RequestTimeout: Duration(30 * time.Second),
			Schedules:      map[string]string{},
		},
		Providers: ProvidersConfig{
			MetadataCacheTTL: Duration(5 * time.Minute),
		},
		Scoring: ScoringConfig{
			GreenThreshold:  types.DefaultThresholds.Green,
			YellowThreshold: types.DefaultThresholds.Yellow,
		},
	}
}

// loadYAMLFile loads configuration from a YAML file if it exists.
func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty env vars override config values.
func applyEnvOverrides(cfg *Config) {
	// Server
	if v := os.Getenv("PILLARS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	envDuration("PILLARS_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	envDuration("PILLARS_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	envDuration("PILLARS_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)

	// Database
	if v := os.Getenv("PILLARS_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Auth
	if v := os.Getenv("PILLARS_API_KEY"); v != "" {
		cfg.Auth.APIKey = v
	}

	// Log
	if v := os.Getenv("PILLARS_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("PILLARS_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}

	// Sync
	if v := os.Getenv("PILLARS_SYNC_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sync.Concurrency = n
		}
	}
	if v := os.Getenv("PILLARS_SYNC_MAX_RECORDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sync.MaxRecords = n
		}
	}
	envDuration("PILLARS_SYNC_REQUEST_TIMEOUT", &cfg.Sync.RequestTimeout)
	envDuration("PILLARS_SYNC_MAPPING_TIMEOUT", &cfg.Sync.MappingTimeout)
	for _, t := range types.IntegrationTypes {
		key := "PILLARS_SYNC_SCHEDULE_" + strings.ToUpper(t)
		if v := os.Getenv(key); v != "" {
			if cfg.Sync.Schedules == nil {
				cfg.Sync.Schedules = map[string]string{}
			}
			cfg.Sync.Schedules[t] = v
		}
	}

	// Providers
	envDuration("PILLARS_METADATA_CACHE_TTL", &cfg.Providers.MetadataCacheTTL)
	if v := os.Getenv("PILLARS_HUBSPOT_BASE_URL"); v != "" {
		cfg.Providers.HubSpotBaseURL = v
	}
	if v := os.Getenv("PILLARS_JIRA_BASE_URL"); v != "" {
		cfg.Providers.JiraBaseURL = v
	}
	if v := os.Getenv("PILLARS_SHEETS_BASE_URL"); v != "" {
		cfg.Providers.SheetsBaseURL = v
	}

	// Scoring
	if v := os.Getenv("PILLARS_GREEN_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Scoring.GreenThreshold = f
		}
	}
	if v := os.Getenv("PILLARS_YELLOW_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Scoring.YellowThreshold = f
		}
	}
}

func envDuration(key string, dst *Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = Duration(d)
		}
	}
}

// validate checks that required configuration values are set and coherent.
// In dev mode (PILLARS_DEV_MODE=true), API key validation is skipped.
func (c *Config) validate(requireAPIKey bool) error {
	if requireAPIKey && os.Getenv("PILLARS_DEV_MODE") != "true" && c.Auth.APIKey == "" {
		return ErrMissingAPIKey
	}

	if c.Sync.Concurrency < 1 {
		return fmt.Errorf("sync.concurrency must be at least 1, got %d", c.Sync.Concurrency)
	}
	if c.Sync.MaxRecords < 1 {
		return fmt.Errorf("sync.max_records must be at least 1, got %d", c.Sync.MaxRecords)
	}
	if c.Scoring.YellowThreshold > c.Scoring.GreenThreshold {
		return fmt.Errorf("scoring.yellow_threshold (%v) must not exceed scoring.green_threshold (%v)",
			c.Scoring.YellowThreshold, c.Scoring.GreenThreshold)
	}

	// Sorted for a deterministic first error.
	keys := make([]string, 0, len(c.Sync.Schedules))
	for k := range c.Sync.Schedules {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !types.IntegrationType(k).Valid() {
			return fmt.Errorf("sync.schedules: unknown integration type %q", k)
		}
		if _, err := cron.ParseStandard(c.Sync.Schedules[k]); err != nil {
			return fmt.Errorf("sync.schedules.%s: invalid cron expression %q: %w", k, c.Sync.Schedules[k], err)
		}
	}
	return nil
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
