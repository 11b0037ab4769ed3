// Package config loads the service configuration from a YAML or JSON file
// with optional environment overrides.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/hemolink/hemolink/core/dispatch"
	"github.com/hemolink/hemolink/core/metrics"
	"github.com/hemolink/hemolink/core/ratelimit"
	"github.com/hemolink/hemolink/infra/transport"
)

type Config struct {
	HTTP      HTTPConfig       `json:"http"`
	Postgres  PostgresConfig   `json:"postgres"`
	Redis     RedisConfig      `json:"redis"`
	MQTT      transport.Config `json:"mqtt"`
	Dispatch  dispatch.Config  `json:"dispatch"`
	Metrics   metrics.Config   `json:"metrics"`
	Lifecycle LifecycleConfig  `json:"lifecycle"`
	Ranking   RankingConfig    `json:"ranking"`
}

// HTTPConfig configures the public API listener.
type HTTPConfig struct {
	Addr string `json:"addr"`
	// CreateLimit throttles request creation per requester. Disabled when
	// MaxRequests is zero.
	CreateLimit ratelimit.Config `json:"create_limit"`
}

// PostgresConfig configures the persistence layer. An empty URL selects the
// in-memory store.
type PostgresConfig struct {
	URL string `json:"url"`
}

// RedisConfig configures the distributed rate limit counters. An empty Addr
// selects the in-process counter store as primary.
type RedisConfig struct {
	Addr      string `json:"addr"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	KeyPrefix string `json:"key_prefix"`
}

// LifecycleConfig tunes expiration sweeps and escalation.
type LifecycleConfig struct {
	SweepIntervalSeconds int     `json:"sweep_interval_seconds"`
	EscalationThreshold  float64 `json:"escalation_threshold"`
	MaxEscalations       int     `json:"max_escalations"`
}

// SetDefaults fills the zero fields.
func (c *LifecycleConfig) SetDefaults() {
	if c.SweepIntervalSeconds <= 0 {
		c.SweepIntervalSeconds = 30
	}
	if c.EscalationThreshold <= 0 {
		c.EscalationThreshold = 0.5
	}
	if c.MaxEscalations <= 0 {
		c.MaxEscalations = 3
	}
}

// SweepInterval returns the sweep cadence as a duration.
func (c LifecycleConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// Validate rejects impossible values.
func (c LifecycleConfig) Validate() error {
	if c.EscalationThreshold >= 1 {
		return fmt.Errorf("escalation_threshold must be below 1, got %v", c.EscalationThreshold)
	}
	return nil
}

// RankingConfig tunes the candidate ranker.
type RankingConfig struct {
	DefaultDistanceKm float64 `json:"default_distance_km"`
	RadiusKm          float64 `json:"radius_km"`
	// EscalationRadiusKm is added to the radius per escalation step.
	EscalationRadiusKm float64 `json:"escalation_radius_km"`
}

// SetDefaults fills the zero fields.
func (c *RankingConfig) SetDefaults() {
	if c.DefaultDistanceKm <= 0 {
		c.DefaultDistanceKm = 10
	}
	if c.EscalationRadiusKm <= 0 {
		c.EscalationRadiusKm = 15
	}
}

// Load reads the configuration file and applies HEMO_ environment overrides.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("HEMO_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "hemo_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults fills the zero fields of every section.
func (c *Config) SetDefaults() {
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "ratelimit"
	}
	c.Dispatch.SetDefaults()
	c.Lifecycle.SetDefaults()
	c.Ranking.SetDefaults()
	if c.Metrics.PrometheusEnabled && c.Metrics.PrometheusPort == "" {
		c.Metrics.PrometheusPort = "2112"
	}
}

// Validate rejects impossible values.
func (c *Config) Validate() error {
	if err := c.Lifecycle.Validate(); err != nil {
		return err
	}
	if c.Metrics.InfluxEnabled && c.Metrics.InfluxURL == "" {
		return fmt.Errorf("influx enabled without a url")
	}
	return nil
}
