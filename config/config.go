package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the process configuration, loaded from the environment.
type Config struct {
	DatabaseURL      string        `env:"DATABASE_URL,required"`
	ListenAddr       string        `env:"LISTEN_ADDR" envDefault:":8080"`
	JWTSecret        string        `env:"JWT_SECRET,required"`
	BootstrapTimeout time.Duration `env:"BOOTSTRAP_TIMEOUT" envDefault:"10s"`
}

// Load parses configuration from environment variables.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse env: %w", err)
	}
	return cfg, nil
}
