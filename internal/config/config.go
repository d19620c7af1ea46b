// Package config loads proxy configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Config holds the runtime configuration of the proxy service.
type Config struct {
	// ListenAddr is the HTTP listen address (host:port).
	ListenAddr string

	// Environment is "production", "staging" or "dev". Outside production the
	// proxy allows loopback and private-network forwarding targets.
	Environment string

	// ServiceName is reported in the X-Proxy-Service response header.
	ServiceName string

	// DatabaseURL is the postgres DSN. Empty selects the in-memory store.
	DatabaseURL string

	// RedisAddr is the redis host:port for the nonce replay guard. Empty
	// selects the in-memory guard.
	RedisAddr string

	// FacilitatorURL is the base URL of the external facilitator service.
	FacilitatorURL string

	// FacilitatorAuth is an optional Authorization header value for the
	// facilitator (e.g., "Bearer key").
	FacilitatorAuth string

	// SettlementEnabled controls whether verified non-zero payments are
	// settled on-chain. Verification always happens regardless.
	SettlementEnabled bool

	// ForwardTimeout bounds a single backend-forwarding call.
	ForwardTimeout time.Duration
}

// Load reads configuration from the environment. A .env file in the working
// directory is merged in when present; real environment variables win.
func Load() (*Config, error) {
	// Best effort: absence of a .env file is the normal production case.
	_ = godotenv.Load()

	cfg := &Config{
		ListenAddr:        getEnv("LISTEN_ADDR", ":8080"),
		Environment:       getEnv("APP_ENV", "production"),
		ServiceName:       getEnv("SERVICE_NAME", "x402-proxy"),
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		RedisAddr:         getEnv("REDIS_ADDR", ""),
		FacilitatorURL:    getEnv("FACILITATOR_URL", "https://x402.org/facilitator"),
		FacilitatorAuth:   getEnv("FACILITATOR_AUTH", ""),
		SettlementEnabled: getBool("SETTLEMENT_ENABLED", true),
		ForwardTimeout:    getDuration("FORWARD_TIMEOUT", 30*time.Second),
	}
	return cfg, nil
}

// IsDev reports whether the proxy runs outside production.
func (c *Config) IsDev() bool {
	return c.Environment != "production"
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getBool(key string, def bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return def
	}
	return parsed
}

func getDuration(key string, def time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return def
	}
	return parsed
}

// Module provides the configuration to the fx graph.
var Module = fx.Module("config", fx.Provide(Load))
