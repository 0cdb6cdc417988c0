/*
Package config loads server configuration from a YAML file and the
environment.

SOURCES (later wins):
  1. Defaults below
  2. config.yaml in ".", "./config" or "/etc/permits"
  3. Environment: PERMITS_<SECTION>_<KEY>, e.g. PERMITS_SERVER_PORT=9090

KEYS:
  server.port        HTTP port (8080)
  server.demo_scenarios  Expose /api/scenarios, which resets data (false)
  database.path      SQLite file, ":memory:" for tests (permits.db)
  pricing.timezone   IANA zone permits are billed in (Europe/Helsinki)
  catalog.file       Optional product catalogue imported at start-up
  logging.level      debug | info | warn | error (info)
  expiry.enabled     Close permits past their end time (true)
  expiry.interval    How often to look for them (1h)
*/
package config

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Configuration struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Pricing  PricingConfig  `mapstructure:"pricing" validate:"required"`
	Catalog  CatalogConfig  `mapstructure:"catalog"`
	Logging  LoggingConfig  `mapstructure:"logging" validate:"required"`
	Expiry   ExpiryConfig   `mapstructure:"expiry"`
}

type ServerConfig struct {
	Port          int  `mapstructure:"port" validate:"required,min=1,max=65535"`
	DemoScenarios bool `mapstructure:"demo_scenarios"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

type PricingConfig struct {
	Timezone string `mapstructure:"timezone" validate:"required,timezone"`
}

type CatalogConfig struct {
	File string `mapstructure:"file" validate:"omitempty,filepath"`
}

// ExpiryConfig drives the scheduler that closes permits past their end time.
type ExpiryConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval" validate:"gt=0"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
}

// Option adjusts the viper instance before the configuration is read.
type Option func(*viper.Viper)

// WithConfigFile reads exactly this file instead of searching for
// config.yaml.
func WithConfigFile(path string) Option {
	return func(v *viper.Viper) { v.SetConfigFile(path) }
}

func Load(opts ...Option) (*Configuration, error) {
	v := viper.New()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.demo_scenarios", false)
	v.SetDefault("database.path", "permits.db")
	v.SetDefault("pricing.timezone", "Europe/Helsinki")
	v.SetDefault("catalog.file", "")
	v.SetDefault("logging.level", "info")
	v.SetDefault("expiry.enabled", true)
	v.SetDefault("expiry.interval", "1h")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/permits")

	v.SetEnvPrefix("PERMITS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	for _, opt := range opts {
		opt(v)
	}

	if err := v.ReadInConfig(); err != nil {
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, errors.Wrap(err, "read config")
		}
	}

	var config Configuration
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c Configuration) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.Wrap(err, "invalid config")
	}
	return nil
}

// Location resolves the billing time zone.
func (c PricingConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, errors.Wrapf(err, "pricing timezone %q", c.Timezone)
	}
	return loc, nil
}
