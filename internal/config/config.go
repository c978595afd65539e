// Package config loads service configuration from environment variables.
package config

import (
	"errors"
	"time"

	env "github.com/caarlos0/env/v11"
)

// Config holds every runtime knob of the service. All variables share the
// GATEKIT_ prefix.
type Config struct {
	Addr string `env:"ADDR" envDefault:":8080"`

	// Empty DSN runs the service on in-memory stores.
	PGDSN string `env:"PG_DSN"`

	// Empty address disables Redis; sessions and the token denylist then
	// live in process memory.
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	TokenIssuer     string        `env:"TOKEN_ISSUER" envDefault:"gatekit"`
	TokenSecret     string        `env:"TOKEN_SECRET"`
	TokenPrivateKey string        `env:"TOKEN_PRIVATE_KEY"`
	TokenPublicKey  string        `env:"TOKEN_PUBLIC_KEY"`
	AccessTTL       time.Duration `env:"ACCESS_TTL" envDefault:"15m"`
	RefreshTTL      time.Duration `env:"REFRESH_TTL" envDefault:"336h"`

	SessionIdleTimeout time.Duration `env:"SESSION_IDLE_TIMEOUT" envDefault:"30m"`

	Argon2Memory      uint32 `env:"ARGON2_MEMORY_KIB" envDefault:"65536"`
	Argon2Iterations  uint32 `env:"ARGON2_ITERATIONS" envDefault:"2"`
	Argon2Parallelism uint8  `env:"ARGON2_PARALLELISM" envDefault:"1"`

	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"20"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"40"`

	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:","`

	// Identity granted the admin role at startup, if it exists.
	BootstrapAdmin string `env:"BOOTSTRAP_ADMIN"`
}

// Load parses configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "GATEKIT_"}); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.TokenSecret == "" && (c.TokenPrivateKey == "" || c.TokenPublicKey == "") {
		return errors.New("config: either GATEKIT_TOKEN_SECRET or GATEKIT_TOKEN_PRIVATE_KEY/GATEKIT_TOKEN_PUBLIC_KEY must be set")
	}
	if c.TokenSecret != "" && c.TokenPrivateKey != "" {
		return errors.New("config: GATEKIT_TOKEN_SECRET and GATEKIT_TOKEN_PRIVATE_KEY are mutually exclusive")
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		return errors.New("config: token lifetimes must be positive")
	}
	return nil
}
