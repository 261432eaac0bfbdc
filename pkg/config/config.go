// Package config loads SDK configuration from the environment and from YAML
// files.
package config

import (
	"crypto/ecdsa"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/taurushq-io/taurus-protect-sdk-sub009/pkg/crypto"
)

// Config holds SDK configuration.
type Config struct {
	APIURL       string        `yaml:"api_url"`
	APIKey       string        `yaml:"api_key"`
	APIRateLimit float64       `yaml:"api_rate_limit"`
	APITimeout   time.Duration `yaml:"api_timeout"`

	SuperAdminKeys               []string      `yaml:"superadmin_keys"`
	MinValidSuperAdminSignatures int           `yaml:"min_valid_superadmin_signatures"`
	RulesCacheTTL                time.Duration `yaml:"rules_cache_ttl"`
	DecodeCacheSize              int           `yaml:"decode_cache_size"`

	Redis     RedisConfig     `yaml:"redis"`
	Telemetry TelemetryConfig `yaml:"telemetry"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// RedisConfig configures the optional shared rules tier.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRate  float64 `yaml:"sample_rate"`
	ServiceName string  `yaml:"service_name"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		APIRateLimit:                 10,
		APITimeout:                   30 * time.Second,
		MinValidSuperAdminSignatures: 1,
		RulesCacheTTL:                5 * time.Minute,
		DecodeCacheSize:              16,
		Redis:                        RedisConfig{Key: "protect:rules_container"},
		Telemetry: TelemetryConfig{
			Endpoint:    "localhost:4317",
			SampleRate:  1.0,
			ServiceName: "protect-sdk",
		},
		LogLevel:  "INFO",
		LogFormat: "text",
	}
}

// Load loads configuration from PROTECT_* environment variables over the
// defaults.
func Load() (*Config, error) {
	cfg := Default()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = n
		}
	}
	float := func(name string, dst *float64) {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = f
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = d
		}
	}
	flag := func(name string, dst *bool) {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			*dst = v == "true" || v == "1"
		}
	}

	str("PROTECT_API_URL", &c.APIURL)
	str("PROTECT_API_KEY", &c.APIKey)
	float("PROTECT_API_RATE_LIMIT", &c.APIRateLimit)
	dur("PROTECT_API_TIMEOUT", &c.APITimeout)
	if v := os.Getenv("PROTECT_SUPERADMIN_KEYS"); v != "" {
		c.SuperAdminKeys = SplitPEM(v)
	}
	num("PROTECT_MIN_VALID_SIGNATURES", &c.MinValidSuperAdminSignatures)
	dur("PROTECT_RULES_CACHE_TTL", &c.RulesCacheTTL)
	num("PROTECT_DECODE_CACHE_SIZE", &c.DecodeCacheSize)
	str("PROTECT_REDIS_ADDR", &c.Redis.Addr)
	str("PROTECT_REDIS_PASSWORD", &c.Redis.Password)
	num("PROTECT_REDIS_DB", &c.Redis.DB)
	str("PROTECT_REDIS_KEY", &c.Redis.Key)
	flag("PROTECT_TELEMETRY_ENABLED", &c.Telemetry.Enabled)
	str("PROTECT_OTLP_ENDPOINT", &c.Telemetry.Endpoint)
	flag("PROTECT_OTLP_INSECURE", &c.Telemetry.Insecure)
	float("PROTECT_TRACE_SAMPLE_RATE", &c.Telemetry.SampleRate)
	str("PROTECT_LOG_LEVEL", &c.LogLevel)
	str("PROTECT_LOG_FORMAT", &c.LogFormat)

	return errors.Join(errs...)
}

// Validate reports configuration that cannot produce a working verifier.
func (c *Config) Validate() error {
	var errs []error
	if len(c.SuperAdminKeys) == 0 {
		errs = append(errs, errors.New("no SuperAdmin keys configured"))
	}
	if c.MinValidSuperAdminSignatures < 1 {
		errs = append(errs, fmt.Errorf("min valid SuperAdmin signatures must be at least 1, got %d", c.MinValidSuperAdminSignatures))
	} else if len(c.SuperAdminKeys) > 0 && c.MinValidSuperAdminSignatures > len(c.SuperAdminKeys) {
		errs = append(errs, fmt.Errorf("%d SuperAdmin signatures required but only %d keys configured",
			c.MinValidSuperAdminSignatures, len(c.SuperAdminKeys)))
	}
	if c.RulesCacheTTL < 0 {
		errs = append(errs, fmt.Errorf("rules cache TTL must not be negative, got %s", c.RulesCacheTTL))
	}
	if c.APIRateLimit < 0 {
		errs = append(errs, fmt.Errorf("API rate limit must not be negative, got %g", c.APIRateLimit))
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("trace sample rate must be within [0,1], got %g", c.Telemetry.SampleRate))
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

// ParseSuperAdminKeys decodes the configured PEM keys. Keys not on P-256
// are rejected.
func (c *Config) ParseSuperAdminKeys() ([]*ecdsa.PublicKey, error) {
	keys := make([]*ecdsa.PublicKey, 0, len(c.SuperAdminKeys))
	for i, p := range c.SuperAdminKeys {
		k, err := crypto.ParsePublicKeyPEM(p)
		if err != nil {
			return nil, fmt.Errorf("SuperAdmin key %d: %w", i, err)
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// SplitPEM splits concatenated PEM blocks into one string per block. Text
// without any PEM block is returned as a single entry.
func SplitPEM(s string) []string {
	var out []string
	rest := []byte(s)
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		out = append(out, string(pem.EncodeToMemory(block)))
	}
	if len(out) == 0 && strings.TrimSpace(s) != "" {
		out = []string{s}
	}
	return out
}
