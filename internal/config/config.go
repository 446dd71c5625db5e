// Package config service configuration
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v7"
)

// Config is parsed from the environment at startup.
type Config struct {
	HTTPAddr string `env:"HTTP_ADDR,notEmpty" envDefault:":8080"`
	DBDSN    string `env:"DB_DSN,notEmpty"`

	JWTIssuer string        `env:"JWT_ISSUER,notEmpty" envDefault:"pf-ledger"`
	JWTSecret string        `env:"JWT_SECRET,notEmpty"`
	JWTTTL    time.Duration `env:"JWT_TTL" envDefault:"24h"`

	OracleURL     string        `env:"ORACLE_URL,notEmpty"`
	OracleTimeout time.Duration `env:"ORACLE_TIMEOUT" envDefault:"5s"`
}

// Load parses config from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config - Load - Parse: %w", err)
	}
	return cfg, nil
}
