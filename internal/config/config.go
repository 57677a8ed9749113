// Package config loads comradarrd's YAML configuration file, applies
// environment-variable overrides, and validates the result before the
// rest of the process starts.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds comradarrd's three configured ports. main opens
// listeners on MetricsPort and HealthPort; WebhookPort is only reported
// in the app_started notification payload.
type ServerConfig struct {
	WebhookPort string `yaml:"webhook_port"`
	MetricsPort string `yaml:"metrics_port"`
	HealthPort  string `yaml:"health_port"`
}

// DatabaseConfig mirrors internal/database.Config's shape for the
// config-file section; cmd/comradarrd's main copies it into a
// database.Config before handing it to database.Connect.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
}

// SchedulerConfig controls the sweep scheduler's clock and the
// auto-reconnect supervisor's polling cadence.
type SchedulerConfig struct {
	Timezone      string        `yaml:"timezone"`
	ReconnectTick time.Duration `yaml:"reconnect_tick"`
}

// LoggingConfig selects the process-wide log level and encoding.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ScoringWeights are the priority scorer's per-factor weights; they
// need not sum to 100, WeightedSum normalizes by their total.
type ScoringWeights struct {
	ContentAge      int `yaml:"content_age"`
	MissingDuration int `yaml:"missing_duration"`
	UserPriority    int `yaml:"user_priority"`
	FailurePenalty  int `yaml:"failure_penalty"`
	GapBonus        int `yaml:"gap_bonus"`
}

// CooldownConfig parameterizes the search registry's exponential
// backoff between retry attempts for a given search.
type CooldownConfig struct {
	Base        time.Duration `yaml:"base"`
	Max         time.Duration `yaml:"max"`
	Multiplier  float64       `yaml:"multiplier"`
	MaxAttempts int           `yaml:"max_attempts"`
	Jitter      bool          `yaml:"jitter"`
}

// SeasonPackConfig sets the thresholds the episode batcher uses to
// decide whether to request a whole season instead of individual
// episodes.
type SeasonPackConfig struct {
	ThresholdPct   int `yaml:"threshold_pct"`
	ThresholdCount int `yaml:"threshold_count"`
}

// SearchConfig groups the priority scorer, cooldown, and season-pack
// batching tunables.
type SearchConfig struct {
	Weights    ScoringWeights   `yaml:"weights"`
	Cooldown   CooldownConfig   `yaml:"cooldown"`
	SeasonPack SeasonPackConfig `yaml:"season_pack"`
}

// ThrottleProfile is a named rate budget applied to one or more
// connectors by the throttle governor.
type ThrottleProfile struct {
	Name                  string `yaml:"name"`
	RequestsPerMinute     int    `yaml:"requests_per_minute"`
	DailyBudget           *int   `yaml:"daily_budget"`
	BatchSize             int    `yaml:"batch_size"`
	BatchCooldownSeconds  int    `yaml:"batch_cooldown_seconds"`
	RateLimitPauseSeconds int    `yaml:"rate_limit_pause_seconds"`
	IsDefault             bool   `yaml:"is_default"`
}

// Config is the top-level shape of comradarrd's YAML config file.
type Config struct {
	Server           ServerConfig      `yaml:"server"`
	Database         DatabaseConfig    `yaml:"database"`
	Scheduler        SchedulerConfig   `yaml:"scheduler"`
	Logging          LoggingConfig     `yaml:"logging"`
	Search           SearchConfig      `yaml:"search"`
	ThrottleProfiles []ThrottleProfile `yaml:"throttle_profiles"`
}

// Load reads path, parses it as YAML, applies environment overrides
// and defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(cfg)

	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.MetricsPort == "" {
		cfg.Server.MetricsPort = "9090"
	}
	if cfg.Server.HealthPort == "" {
		cfg.Server.HealthPort = "8081"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Scheduler.Timezone == "" {
		cfg.Scheduler.Timezone = "UTC"
	}
	if cfg.Scheduler.ReconnectTick == 0 {
		cfg.Scheduler.ReconnectTick = 30 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Search.Cooldown.MaxAttempts == 0 {
		cfg.Search.Cooldown.MaxAttempts = 5
	}
	if cfg.Search.Cooldown.Multiplier == 0 {
		cfg.Search.Cooldown.Multiplier = 2
	}
}

// loadFromEnv overlays a small set of operational env vars onto cfg,
// for the values operators most often need to override per
// deployment without editing the config file.
func loadFromEnv(cfg *Config) error {
	if v := os.Getenv("WEBHOOK_PORT"); v != "" {
		cfg.Server.WebhookPort = v
	}
	if v := os.Getenv("METRICS_PORT"); v != "" {
		cfg.Server.MetricsPort = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("DB_PORT must be an integer: %w", err)
		}
		cfg.Database.Port = port
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	return nil
}

func validate(cfg *Config) error {
	if cfg.Server.WebhookPort == "" {
		return fmt.Errorf("server webhook_port is required")
	}
	if _, err := time.LoadLocation(cfg.Scheduler.Timezone); err != nil {
		return fmt.Errorf("scheduler timezone %q: %w", cfg.Scheduler.Timezone, err)
	}
	if len(cfg.ThrottleProfiles) == 0 {
		return fmt.Errorf("at least one throttle profile is required")
	}

	defaults := 0
	names := make(map[string]bool, len(cfg.ThrottleProfiles))
	for _, p := range cfg.ThrottleProfiles {
		if p.Name == "" {
			return fmt.Errorf("throttle profile name is required")
		}
		if names[p.Name] {
			return fmt.Errorf("duplicate throttle profile name: %s", p.Name)
		}
		names[p.Name] = true
		if p.RequestsPerMinute <= 0 {
			return fmt.Errorf("throttle profile %s: requests_per_minute must be greater than 0", p.Name)
		}
		if p.IsDefault {
			defaults++
		}
	}
	if defaults != 1 {
		return fmt.Errorf("exactly one throttle profile must be marked is_default")
	}

	if cfg.Search.Cooldown.Multiplier <= 1 {
		return fmt.Errorf("search cooldown multiplier must be greater than 1")
	}
	if cfg.Search.Cooldown.MaxAttempts <= 0 {
		return fmt.Errorf("search cooldown max_attempts must be greater than 0")
	}
	if cfg.Search.SeasonPack.ThresholdPct < 0 || cfg.Search.SeasonPack.ThresholdPct > 100 {
		return fmt.Errorf("search season_pack threshold_pct must be between 0 and 100")
	}

	return nil
}
