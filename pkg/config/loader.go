// Package config reads configuration from the environment. Every
// knob the cart engine exposes is an env var with a sane default so
// the binary starts with no flags at all.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v10"
)

// Load parses environment variables into the provided struct using
// its `env` tags. Durations parse from Go duration strings.
//
// Example:
//
//	type Config struct {
//	    Port        int           `env:"CART_HTTP_PORT" envDefault:"8004"`
//	    AddDebounce time.Duration `env:"CART_ADD_DEBOUNCE" envDefault:"100ms"`
//	}
func Load(cfg any) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}
	return nil
}
