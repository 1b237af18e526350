// Package config loads process configuration from the environment.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config is shared by rulesd and rulebookctl
type Config struct {
	Port        int    `env:"PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL"`
	CatalogPath string `env:"CATALOG_PATH"`
	WorldID     string `env:"WORLD_ID" envDefault:"default"`

	LogLevel        string `env:"LOG_LEVEL" envDefault:"INFO"`
	LogFormat       string `env:"LOG_FORMAT" envDefault:"json"`
	ErrorSampleRate int    `env:"ERROR_SAMPLE_RATE" envDefault:"1"`

	MaxReplacements int    `env:"MAX_REPLACEMENTS" envDefault:"8"`
	AuditCapacity   int    `env:"AUDIT_CAPACITY" envDefault:"10000"`
	Clock           string `env:"CLOCK" envDefault:"logical"` // logical or wall

	OTelEnabled     bool   `env:"OTEL_ENABLED" envDefault:"false"`
	OTelEndpoint    string `env:"OTEL_ENDPOINT"`
	OTelServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"rulebook"`
}

// Load parses Config from the environment
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate checks value ranges env tags can't express
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT %d out of range", c.Port)
	}
	if c.MaxReplacements < 0 {
		return fmt.Errorf("MAX_REPLACEMENTS must not be negative, got %d", c.MaxReplacements)
	}
	if c.ErrorSampleRate < 1 {
		return fmt.Errorf("ERROR_SAMPLE_RATE must be at least 1, got %d", c.ErrorSampleRate)
	}
	if c.Clock != "logical" && c.Clock != "wall" {
		return fmt.Errorf("CLOCK must be logical or wall, got %q", c.Clock)
	}
	if c.OTelEnabled && c.OTelEndpoint == "" {
		return fmt.Errorf("OTEL_ENDPOINT is required when OTEL_ENABLED is set")
	}
	return nil
}
