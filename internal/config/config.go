package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBUser        string
	DBPass        string
	DBHost        string
	DBPort        string
	DBName        string
	SSLMode       string
	RedisHost     string
	RedisPort     string
	NatsHost      string
	NatsPort      string
	ApiPort       string
	ApiEnabled    string
	NatsEnabled   string
	SweepInterval string
	SweepAge      string
}

// New loads and validates configuration from environment variables.
// HTTP server is optional: if LEDGER_API_ENABLED != "true", ApiAddr() returns
// an error and the HTTP server simply won't start. The same applies to the
// NATS callback gateway behind LEDGER_NATS_ENABLED.
func New() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DBUser:        os.Getenv("LEDGER_POSTGRES_USER"),
		DBPass:        os.Getenv("LEDGER_POSTGRES_PASSWORD"),
		DBHost:        os.Getenv("LEDGER_POSTGRES_HOST"),
		DBPort:        os.Getenv("LEDGER_POSTGRES_PORT"),
		DBName:        os.Getenv("LEDGER_POSTGRES_DB"),
		SSLMode:       os.Getenv("LEDGER_POSTGRES_SSLMODE"),
		RedisHost:     os.Getenv("LEDGER_REDIS_HOST"),
		RedisPort:     os.Getenv("LEDGER_REDIS_PORT"),
		NatsHost:      os.Getenv("LEDGER_NATS_HOST"),
		NatsPort:      os.Getenv("LEDGER_NATS_PORT"),
		ApiPort:       os.Getenv("LEDGER_API_PORT"),
		ApiEnabled:    os.Getenv("LEDGER_API_ENABLED"),
		NatsEnabled:   os.Getenv("LEDGER_NATS_ENABLED"),
		SweepInterval: os.Getenv("LEDGER_SWEEP_INTERVAL"),
		SweepAge:      os.Getenv("LEDGER_SWEEP_AGE"),
	}

	// Required: database
	if cfg.DBUser == "" || cfg.DBHost == "" || cfg.DBName == "" || cfg.SSLMode == "" {
		return nil, fmt.Errorf("missing required env for database: LEDGER_POSTGRES_USER/HOST/DB/SSLMODE")
	}

	// Required: redis
	if cfg.RedisHost == "" || cfg.RedisPort == "" {
		return nil, fmt.Errorf("missing required env for redis: LEDGER_REDIS_HOST/PORT")
	}

	// Required when the NATS gateway is on
	if cfg.NatsEnabled == "true" && (cfg.NatsHost == "" || cfg.NatsPort == "") {
		return nil, fmt.Errorf("missing required env for nats: LEDGER_NATS_HOST/PORT")
	}

	// Optional: HTTP API — ApiAddr() will return an error if not enabled.

	return cfg, nil
}

func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser, c.DBPass, c.DBHost, c.DBPort, c.DBName, c.SSLMode)
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

func (c *Config) NatsAddr() string {
	return fmt.Sprintf("nats://%s:%s", c.NatsHost, c.NatsPort)
}

// SweepIntervalOr parses LEDGER_SWEEP_INTERVAL, falling back to def.
func (c *Config) SweepIntervalOr(def time.Duration) time.Duration {
	return parseDurationOr(c.SweepInterval, def)
}

// SweepAgeOr parses LEDGER_SWEEP_AGE (how old a pending order must be before
// the sweeper retries it), falling back to def.
func (c *Config) SweepAgeOr(def time.Duration) time.Duration {
	return parseDurationOr(c.SweepAge, def)
}

func parseDurationOr(val string, def time.Duration) time.Duration {
	if val == "" {
		return def
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return def
	}
	return d
}

// ApiAddr returns the HTTP listen address if the API is enabled.
// Returns an error if LEDGER_API_ENABLED != "true" — callers should skip
// starting the HTTP server.
func (c *Config) ApiAddr() (string, error) {
	if c.ApiEnabled == "true" {
		if c.ApiPort == "" {
			return "", fmt.Errorf("LEDGER_API_PORT is required when LEDGER_API_ENABLED=true")
		}
		return ":" + c.ApiPort, nil
	}
	return "", fmt.Errorf("HTTP API is disabled (LEDGER_API_ENABLED != true)")
}
