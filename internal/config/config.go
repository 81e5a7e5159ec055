// Package config loads service configuration from the environment.
package config

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds every tunable the service reads at startup. Defaults run a
// fully in-memory instance with no external dependencies.
type Config struct {
	Port string `envconfig:"PORT" default:"8080"`

	// Empty DatabaseURL keeps orders and messages in memory.
	DatabaseURL string `envconfig:"DATABASE_URL"`
	// RedisURL layers a read-through cache over the database. Ignored
	// when DatabaseURL is unset.
	RedisURL string `envconfig:"REDIS_URL"`

	AIServiceURL string `envconfig:"AI_SERVICE_URL" default:"http://localhost:8001"`

	TickInterval   time.Duration `envconfig:"TICK_INTERVAL" default:"1s"`
	TickVolatility float64       `envconfig:"TICK_VOLATILITY" default:"0.002"`

	SettlementDelay time.Duration `envconfig:"SETTLEMENT_DELAY" default:"50ms"`

	StartingCash float64 `envconfig:"STARTING_CASH" default:"100000"`

	// Zero disables the corresponding risk cap.
	MaxPositionPerSymbol int64 `envconfig:"MAX_POSITION_PER_SYMBOL" default:"10000"`
	MaxTotalExposure     int64 `envconfig:"MAX_TOTAL_EXPOSURE" default:"50000"`

	// SeedFile points at a JSON file of symbol seeds and demo accounts.
	SeedFile string `envconfig:"SEED_FILE"`
}

// Load reads .env if present, then maps environment variables onto Config.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
