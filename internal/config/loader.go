package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Load reads the engine configuration from the environment.
//
// Sequence:
//  1. Enforce UTC for the whole process to prevent schedule drift.
//  2. Load .env via godotenv (non-fatal if absent).
//  3. Populate the Config struct via envconfig tags.
//  4. Validate with go-playground/validator.
func Load() (*Config, error) {
	time.Local = time.UTC

	// .env is a local-development convenience only; absence is normal.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("processing environment config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}
