package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config captures runtime configuration for the reconciliation service.
type Config struct {
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	Debug              bool   `yaml:"debug"`
	DatabasePath       string `yaml:"database_path"`
	WebhookSecret      string `yaml:"webhook_secret"`
	MockProviderURL    string `yaml:"mock_provider_url"`
	MockProviderAPIKey string `yaml:"mock_provider_api_key"`

	// FeeTolerance is the under-payment concession in percent, e.g. "1"
	// allows settlements up to 1% short of the expected amount.
	FeeTolerance string `yaml:"fee_tolerance_percent"`
	// WebhookRateLimit uses the provider notation "<n>/second",
	// "<n>/minute", or "<n>/hour".
	WebhookRateLimit string `yaml:"webhook_rate_limit"`

	FeeTolerancePercent      decimal.Decimal `yaml:"-"`
	WebhookRequestsPerMinute float64         `yaml:"-"`
}

const (
	envConfigFile       = "CONFIG_FILE"
	envHost             = "HOST"
	envPort             = "PORT"
	envDebug            = "DEBUG"
	envDatabasePath     = "DATABASE_PATH"
	envWebhookSecret    = "WEBHOOK_SECRET"
	envProviderURL      = "MOCK_PROVIDER_URL"
	envProviderAPIKey   = "MOCK_PROVIDER_API_KEY"
	envFeeTolerance     = "FEE_TOLERANCE_PERCENT"
	envWebhookRateLimit = "WEBHOOK_RATE_LIMIT"
)

// Load resolves configuration from an optional YAML file named by
// CONFIG_FILE, with environment variables taking precedence, and applies
// defaults and validation.
func Load() (*Config, error) {
	cfg := &Config{
		Host:             "0.0.0.0",
		Port:             8000,
		MockProviderURL:  "https://mock-api.advancehq.com",
		FeeTolerance:     "1",
		WebhookRateLimit: "100/minute",
	}
	if path := strings.TrimSpace(os.Getenv(envConfigFile)); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("decode config file: %w", err)
		}
	}
	applyEnv(cfg)
	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(envHost)); v != "" {
		cfg.Host = v
	}
	if v := strings.TrimSpace(os.Getenv(envPort)); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
	if v := strings.TrimSpace(os.Getenv(envDebug)); v != "" {
		cfg.Debug = strings.EqualFold(v, "true")
	}
	if v := strings.TrimSpace(os.Getenv(envDatabasePath)); v != "" {
		cfg.DatabasePath = v
	}
	if v := os.Getenv(envWebhookSecret); v != "" {
		cfg.WebhookSecret = v
	}
	if v := strings.TrimSpace(os.Getenv(envProviderURL)); v != "" {
		cfg.MockProviderURL = v
	}
	if v := os.Getenv(envProviderAPIKey); v != "" {
		cfg.MockProviderAPIKey = v
	}
	if v := strings.TrimSpace(os.Getenv(envFeeTolerance)); v != "" {
		cfg.FeeTolerance = v
	}
	if v := strings.TrimSpace(os.Getenv(envWebhookRateLimit)); v != "" {
		cfg.WebhookRateLimit = v
	}
}

func (c *Config) finalize() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	tolerance, err := decimal.NewFromString(strings.TrimSpace(c.FeeTolerance))
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", envFeeTolerance, c.FeeTolerance, err)
	}
	if tolerance.Sign() < 0 {
		return fmt.Errorf("%s must be non-negative", envFeeTolerance)
	}
	c.FeeTolerancePercent = tolerance
	perMinute, err := ParseRateLimit(c.WebhookRateLimit)
	if err != nil {
		return err
	}
	c.WebhookRequestsPerMinute = perMinute
	return nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ParseRateLimit converts the provider's "<n>/<period>" notation into
// requests per minute. Supported periods are second, minute, and hour.
func ParseRateLimit(raw string) (float64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, nil
	}
	count, period, found := strings.Cut(trimmed, "/")
	if !found {
		return 0, fmt.Errorf("invalid rate limit %q: want <n>/<period>", raw)
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(count), 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid rate limit count %q", count)
	}
	switch strings.ToLower(strings.TrimSpace(period)) {
	case "second":
		return n * 60, nil
	case "minute":
		return n, nil
	case "hour":
		return n / 60, nil
	default:
		return 0, fmt.Errorf("invalid rate limit period %q", period)
	}
}
