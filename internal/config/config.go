package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	env "github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config carries every runtime knob of the service. Values come from the
// environment; a .env file is honored when present so local runs do not need
// exported variables.
type Config struct {
	HTTPAddr    string `env:"FA_HTTP_ADDR" envDefault:":8080"`
	PostgresDSN string `env:"FA_PG_DSN"`

	AuthSecret string        `env:"FA_AUTH_SECRET"`
	Issuer     string        `env:"FA_TOKEN_ISSUER" envDefault:"fieldadmin"`
	AccessTTL  time.Duration `env:"FA_ACCESS_TTL" envDefault:"15m"`
	RefreshTTL time.Duration `env:"FA_REFRESH_TTL" envDefault:"720h"`

	// StrictEmptyGrants switches the restricted-role empty-grant fallback from
	// "full role ceiling" to "no permissions".
	StrictEmptyGrants bool `env:"FA_STRICT_EMPTY_GRANTS" envDefault:"false"`

	RateBurst     int `env:"FA_RATE_BURST" envDefault:"20"`
	RatePerSecond int `env:"FA_RATE_PER_SECOND" envDefault:"10"`

	LogLevel string `env:"FA_LOG_LEVEL" envDefault:"info"`
}

// Load reads the environment (and optional .env file) and validates the
// required fields.
func Load() (Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return Config{}, fmt.Errorf("load .env: %w", err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.PostgresDSN == "" {
		return errors.New("config: FA_PG_DSN is required")
	}
	if c.AuthSecret == "" {
		return errors.New("config: FA_AUTH_SECRET is required")
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		return errors.New("config: token lifetimes must be positive")
	}
	if c.RefreshTTL <= c.AccessTTL {
		return errors.New("config: refresh lifetime must exceed access lifetime")
	}
	return nil
}
