package config

import (
	"time"

	"github.com/caarlos0/env/v10"
)

// BusRetryConfig configures the exponential backoff used by the Outbox
// Relay when a publish attempt fails transiently (connection drop, ack
// timeout). Precondition and domain failures are never retried through
// this path.
type BusRetryConfig struct {
	MaxElapsedTime  time.Duration `env:"BUS_RETRY_MAX_ELAPSED_TIME" envDefault:"60s"`
	InitialInterval time.Duration `env:"BUS_RETRY_INITIAL_INTERVAL" envDefault:"250ms"`
	MaxInterval     time.Duration `env:"BUS_RETRY_MAX_INTERVAL" envDefault:"5s"`
	Multiplier      float64       `env:"BUS_RETRY_MULTIPLIER" envDefault:"2.0"`
}

// GetBusRetryConfig parses BUS_RETRY_* environment variables into a
// BusRetryConfig. Parse errors fall back to the struct tag defaults, since
// a malformed retry override should never prevent the relay from starting.
func (c Config) GetBusRetryConfig() BusRetryConfig {
	var rc BusRetryConfig
	if err := env.Parse(&rc); err != nil {
		return BusRetryConfig{
			MaxElapsedTime:  60 * time.Second,
			InitialInterval: 250 * time.Millisecond,
			MaxInterval:     5 * time.Second,
			Multiplier:      2.0,
		}
	}
	return rc
}
