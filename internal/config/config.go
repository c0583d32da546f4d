// Package config loads the application configuration via viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/quantora/fundmatch/internal/pricing"
)

// Config is the application configuration.
type Config struct {
	LogLevel string `mapstructure:"log_level"`

	Server struct {
		Host            string        `mapstructure:"host"`
		Port            int           `mapstructure:"port"`
		ReadTimeout     time.Duration `mapstructure:"read_timeout"`
		WriteTimeout    time.Duration `mapstructure:"write_timeout"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"server"`

	Database struct {
		Driver          string `mapstructure:"driver"` // "postgres" or "sqlite"
		DSN             string `mapstructure:"dsn"`
		MaxOpenConns    int    `mapstructure:"max_open_conns"`
		MaxIdleConns    int    `mapstructure:"max_idle_conns"`
		ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // seconds
	} `mapstructure:"database"`

	Redis struct {
		Enabled  bool   `mapstructure:"enabled"`
		Address  string `mapstructure:"address"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`

	Kafka struct {
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
	} `mapstructure:"kafka"`

	Pricing struct {
		Step     string `mapstructure:"step"`
		CapLower string `mapstructure:"cap_lower"`
		CapUpper string `mapstructure:"cap_upper"`
	} `mapstructure:"pricing"`

	Engine struct {
		IdleTTL       time.Duration `mapstructure:"idle_ttl"`
		SweepInterval time.Duration `mapstructure:"sweep_interval"`
	} `mapstructure:"engine"`

	MarketMaker struct {
		PartyID string `mapstructure:"party_id"`
	} `mapstructure:"market_maker"`
}

// LoadConfig reads config.yaml (working directory or /etc/fundmatch) plus
// FUNDMATCH_* environment overrides.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/fundmatch")
	v.SetEnvPrefix("FUNDMATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("log_level", "info")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "fundmatch.db")
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("kafka.topic", "fundmatch.matches")
	v.SetDefault("pricing.step", "50")
	v.SetDefault("engine.idle_ttl", 30*time.Minute)
	v.SetDefault("engine.sweep_interval", time.Minute)
	// No defaults for pricing.cap_lower / pricing.cap_upper: the tolerance
	// band must be configured explicitly, otherwise the gate fails closed.
	// Keys without defaults still need explicit env bindings for Unmarshal
	// to see their FUNDMATCH_* overrides.
	for _, key := range []string{
		"pricing.cap_lower",
		"pricing.cap_upper",
		"redis.password",
		"market_maker.party_id",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// PriceStep parses the configured rounding step.
func (c *Config) PriceStep() (decimal.Decimal, error) {
	step, err := decimal.NewFromString(c.Pricing.Step)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid pricing step %q: %w", c.Pricing.Step, err)
	}
	return step, nil
}

// ToleranceBand returns the configured band, or nil when either cap is
// absent. A nil band makes the profitability gate refuse to evaluate.
func (c *Config) ToleranceBand() (*pricing.ToleranceBand, error) {
	if c.Pricing.CapLower == "" || c.Pricing.CapUpper == "" {
		return nil, nil
	}
	lower, err := decimal.NewFromString(c.Pricing.CapLower)
	if err != nil {
		return nil, fmt.Errorf("invalid cap_lower %q: %w", c.Pricing.CapLower, err)
	}
	upper, err := decimal.NewFromString(c.Pricing.CapUpper)
	if err != nil {
		return nil, fmt.Errorf("invalid cap_upper %q: %w", c.Pricing.CapUpper, err)
	}
	if lower.GreaterThan(upper) {
		return nil, fmt.Errorf("cap_lower %s exceeds cap_upper %s", lower, upper)
	}
	return &pricing.ToleranceBand{Lower: lower, Upper: upper}, nil
}
