package config

import (
	"os"
	"strconv"
	"time"
)

// Config captures process-level configuration so main stays lean.
type Config struct {
	Addr string

	// StoreBackend selects the wallet persistence: memory, leveldb, postgres.
	StoreBackend string
	LevelDBPath  string
	PostgresDSN  string

	// BackendBaseURL is the issuance backend.
	BackendBaseURL string

	// BackendToken is the bearer token presented to the issuance backend.
	BackendToken string

	// CredentialRefreshThresholdDays: green cards whose latest credential
	// expires within this many days are refreshed proactively.
	CredentialRefreshThresholdDays int

	// EventGroupRetention bounds how long committed event groups without a
	// server-supplied expiry are kept.
	EventGroupRetention time.Duration
}

// FromEnv builds a Config from environment variables with defaults suitable
// for local development.
func FromEnv() Config {
	cfg := Config{
		Addr:                           envOr("WALLET_ADDR", ":8080"),
		StoreBackend:                   envOr("WALLET_STORE", "memory"),
		LevelDBPath:                    envOr("WALLET_LEVELDB_PATH", "./data/wallet"),
		PostgresDSN:                    os.Getenv("WALLET_POSTGRES_DSN"),
		BackendBaseURL:                 envOr("WALLET_BACKEND_URL", "http://localhost:9090"),
		BackendToken:                   os.Getenv("WALLET_BACKEND_TOKEN"),
		CredentialRefreshThresholdDays: 5,
		EventGroupRetention:            90 * 24 * time.Hour,
	}
	if v := os.Getenv("WALLET_REFRESH_THRESHOLD_DAYS"); v != "" {
		if days, err := strconv.Atoi(v); err == nil && days > 0 {
			cfg.CredentialRefreshThresholdDays = days
		}
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
