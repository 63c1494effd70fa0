// Package config loads service settings from an optional YAML file and the
// environment. Environment variables always win over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port        string        `yaml:"port"`
	BaseURL     string        `yaml:"base_url"`
	DatabaseURL string        `yaml:"database_url"`
	LogLevel    string        `yaml:"log_level"`
	LogFormat   string        `yaml:"log_format"`
	Currency    string        `yaml:"currency"`
	SessionTTL  time.Duration `yaml:"session_ttl"`

	Meta      MetaConfig      `yaml:"meta"`
	TikTok    TikTokConfig    `yaml:"tiktok"`
	Stripe    StripeConfig    `yaml:"stripe"`
	Inspector InspectorConfig `yaml:"inspector"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type MetaConfig struct {
	PixelID       string        `yaml:"pixel_id"`
	AccessToken   string        `yaml:"access_token"`
	APIVersion    string        `yaml:"api_version"`
	TestEventCode string        `yaml:"test_event_code"`
	Timeout       time.Duration `yaml:"timeout"`
}

// Configured reports whether Meta dispatch can be enabled.
func (m MetaConfig) Configured() bool {
	return m.PixelID != "" && m.AccessToken != ""
}

type TikTokConfig struct {
	PixelCode   string        `yaml:"pixel_code"`
	AccessToken string        `yaml:"access_token"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Configured reports whether TikTok dispatch can be enabled.
func (t TikTokConfig) Configured() bool {
	return t.PixelCode != "" && t.AccessToken != ""
}

type StripeConfig struct {
	WebhookSecret string `yaml:"webhook_secret"`
}

type InspectorConfig struct {
	Token string `yaml:"token"`
}

type RateLimitConfig struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// Load reads path (if non-empty), applies environment overrides and
// defaults, and validates the result.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		data = []byte(expandEnvVars(string(data)))
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars expands ${VAR} patterns in the string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(match[2 : len(match)-1])
	})
}

func applyEnv(cfg *Config) error {
	strs := []struct {
		key string
		dst *string
	}{
		{"FOLDCLUB_PORT", &cfg.Port},
		{"FOLDCLUB_BASE_URL", &cfg.BaseURL},
		{"FOLDCLUB_DATABASE_URL", &cfg.DatabaseURL},
		{"FOLDCLUB_LOG_LEVEL", &cfg.LogLevel},
		{"FOLDCLUB_LOG_FORMAT", &cfg.LogFormat},
		{"FOLDCLUB_CURRENCY", &cfg.Currency},
		{"FOLDCLUB_INSPECTOR_TOKEN", &cfg.Inspector.Token},
		{"META_PIXEL_ID", &cfg.Meta.PixelID},
		{"META_CAPI_ACCESS_TOKEN", &cfg.Meta.AccessToken},
		{"META_API_VERSION", &cfg.Meta.APIVersion},
		{"META_TEST_EVENT_CODE", &cfg.Meta.TestEventCode},
		{"TIKTOK_PIXEL_CODE", &cfg.TikTok.PixelCode},
		{"TIKTOK_ACCESS_TOKEN", &cfg.TikTok.AccessToken},
		{"STRIPE_WEBHOOK_SECRET", &cfg.Stripe.WebhookSecret},
	}
	for _, e := range strs {
		if v := os.Getenv(e.key); v != "" {
			*e.dst = v
		}
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"FOLDCLUB_SESSION_TTL", &cfg.SessionTTL},
		{"FOLDCLUB_RATE_LIMIT_WINDOW", &cfg.RateLimit.Window},
		{"META_TIMEOUT", &cfg.Meta.Timeout},
		{"TIKTOK_TIMEOUT", &cfg.TikTok.Timeout},
	}
	for _, e := range durations {
		v := os.Getenv(e.key)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", e.key, err)
		}
		*e.dst = d
	}

	if v := os.Getenv("FOLDCLUB_RATE_LIMIT_REQUESTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse FOLDCLUB_RATE_LIMIT_REQUESTS: %w", err)
		}
		cfg.RateLimit.Requests = n
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:" + cfg.Port
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = "foldclub.db"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}
	if cfg.Currency == "" {
		cfg.Currency = "PLN"
	}
	cfg.Currency = strings.ToUpper(cfg.Currency)
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = 30 * 24 * time.Hour
	}
	if cfg.Meta.APIVersion == "" {
		cfg.Meta.APIVersion = "v21.0"
	}
	if cfg.Meta.Timeout == 0 {
		cfg.Meta.Timeout = 3 * time.Second
	}
	if cfg.TikTok.Timeout == 0 {
		cfg.TikTok.Timeout = 3 * time.Second
	}
	if cfg.RateLimit.Requests == 0 {
		cfg.RateLimit.Requests = 60
	}
	if cfg.RateLimit.Window == 0 {
		cfg.RateLimit.Window = time.Minute
	}
}

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// Validate checks values that would otherwise fail at first use.
func (c *Config) Validate() error {
	var errs []error
	if _, err := strconv.ParseUint(c.Port, 10, 16); err != nil {
		errs = append(errs, fmt.Errorf("port %q is not a valid port number", c.Port))
	}
	if !currencyPattern.MatchString(c.Currency) {
		errs = append(errs, fmt.Errorf("currency %q is not a 3-letter code", c.Currency))
	}
	if c.SessionTTL < 0 {
		errs = append(errs, errors.New("session_ttl must be positive"))
	}
	if c.RateLimit.Requests < 0 || c.RateLimit.Window < 0 {
		errs = append(errs, errors.New("rate_limit values must be positive"))
	}
	return errors.Join(errs...)
}
