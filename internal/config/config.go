// Package config loads the service configuration from defaults, an optional
// YAML file, environment variables and command-line flags, in that order of
// increasing priority.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment variable read by Load. A double
// underscore separates nested keys: CARDSYNC_PARSING__RETRY_LIMIT.
const EnvPrefix = "CARDSYNC_"

// ConfigPathEnvVar names the variable that points at the YAML config file.
const ConfigPathEnvVar = "CARDSYNC_CONFIG"

// Config is the full service configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Log      LogConfig      `koanf:"log"`
	Parsing  ParsingConfig  `koanf:"parsing"`
	Upstream UpstreamConfig `koanf:"upstream"`
	Profile  ProfileConfig  `koanf:"profile"`
	Status   StatusConfig   `koanf:"status"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// Address is the listening address (ip:port).
	Address           string        `koanf:"address"`
	AllowedOrigins    []string      `koanf:"allowed_origins"`
	RateLimitRequests int           `koanf:"rate_limit_requests"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
}

// DatabaseConfig holds the PostgreSQL connection string.
type DatabaseConfig struct {
	DSN string `koanf:"dsn"`
}

// LogConfig sets the zap level.
type LogConfig struct {
	Level string `koanf:"level"`
}

// ParsingConfig drives the fetch retry policy and page walk.
type ParsingConfig struct {
	RetryLimit     int           `koanf:"retry_limit"`
	BaseDelay      time.Duration `koanf:"base_delay"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
	CardsPerPage   int           `koanf:"cards_per_page"`
}

// UpstreamConfig locates the scraped site. Paths contain one %s for the user id.
type UpstreamConfig struct {
	BaseURL         string `koanf:"base_url"`
	UserMarketsPath string `koanf:"user_markets_path"`
	UserCardsPath   string `koanf:"user_cards_path"`
	CardsLoadPath   string `koanf:"cards_load_path"`
}

// ProfileConfig points at the session file.
type ProfileConfig struct {
	Path string `koanf:"path"`
}

// StatusConfig configures user listings.
type StatusConfig struct {
	PageSize int `koanf:"page_size"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:           ":8000",
			AllowedOrigins:    []string{"*"},
			RateLimitRequests: 120,
			RateLimitWindow:   time.Minute,
		},
		Log: LogConfig{Level: "info"},
		Parsing: ParsingConfig{
			RetryLimit:     3,
			BaseDelay:      time.Second,
			RequestTimeout: 10 * time.Second,
			CardsPerPage:   10000,
		},
		Upstream: UpstreamConfig{
			BaseURL:         "https://mangabuff.ru",
			UserMarketsPath: "/users/%s/markets",
			UserCardsPath:   "/users/%s/cards",
			CardsLoadPath:   "/trades/%s/availableCardsLoad",
		},
		Profile: ProfileConfig{Path: "profile.json"},
		Status:  StatusConfig{PageSize: 36},
	}
}

// Load builds the configuration. args are the command-line arguments without
// the program name; -c/-config names the YAML file, -a and -d override the
// listen address and the DSN.
func Load(args []string, opts ...LoadOption) (*Config, error) {
	var lo loadOptions
	for _, opt := range opts {
		opt(&lo)
	}

	fs := flag.NewFlagSet("cardsync", flag.ContinueOnError)
	var configPath, address, dsn string
	fs.StringVar(&configPath, "config", "", "path to config file")
	fs.StringVar(&configPath, "c", "", "path to config file (shorthand)")
	fs.StringVar(&address, "a", "", "run on ip:port server")
	fs.StringVar(&dsn, "d", "", "db address")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if configPath == "" {
		configPath = os.Getenv(ConfigPathEnvVar)
	}

	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := splitListValue(k, "server.allowed_origins"); err != nil {
		return nil, err
	}

	if address != "" {
		if err := k.Set("server.address", address); err != nil {
			return nil, err
		}
	}
	if dsn != "" {
		if err := k.Set("database.dsn", dsn); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.validate(!lo.noDatabase); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

type loadOptions struct {
	noDatabase bool
}

// LoadOption adjusts Load.
type LoadOption func(*loadOptions)

// WithoutDatabase lets tools that never open the database load without a DSN.
func WithoutDatabase() LoadOption {
	return func(o *loadOptions) { o.noDatabase = true }
}

// envTransformFunc maps CARDSYNC_PARSING__BASE_DELAY to parsing.base_delay.
// The config file variable itself is not a key and is dropped.
func envTransformFunc(key string) string {
	if key == ConfigPathEnvVar {
		return ""
	}
	key = strings.TrimPrefix(key, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(key), "__", ".")
}

// splitListValue turns a comma-separated string (as it arrives from the
// environment) into a list.
func splitListValue(k *koanf.Koanf, path string) error {
	s, ok := k.Get(path).(string)
	if !ok {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if err := k.Set(path, out); err != nil {
		return fmt.Errorf("failed to set %s: %w", path, err)
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	return c.validate(true)
}

func (c *Config) validate(requireDSN bool) error {
	var errs []error
	if requireDSN && c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	if c.Parsing.RetryLimit < 1 {
		errs = append(errs, fmt.Errorf("parsing.retry_limit must be at least 1, got %d", c.Parsing.RetryLimit))
	}
	if c.Parsing.CardsPerPage < 1 {
		errs = append(errs, fmt.Errorf("parsing.cards_per_page must be at least 1, got %d", c.Parsing.CardsPerPage))
	}
	if c.Parsing.BaseDelay < 0 {
		errs = append(errs, errors.New("parsing.base_delay must not be negative"))
	}
	if c.Parsing.RequestTimeout < 0 {
		errs = append(errs, errors.New("parsing.request_timeout must not be negative"))
	}
	if c.Status.PageSize < 1 {
		errs = append(errs, fmt.Errorf("status.page_size must be at least 1, got %d", c.Status.PageSize))
	}
	if c.Upstream.BaseURL == "" {
		errs = append(errs, errors.New("upstream.base_url is required"))
	}
	return errors.Join(errs...)
}
