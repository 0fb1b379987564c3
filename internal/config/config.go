package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

const minSecretLen = 32

// Config holds the full environment contract for the server. Every knob the
// process reads lives here; components receive values, never os.Getenv.
type Config struct {
	StoreURL           string
	CoordinatorURL     string
	CredentialSecret   []byte
	CredentialLifetime time.Duration
	ListenPort         int
	AllowedOrigin      string
	ExpiryTick         time.Duration
	LockTTL            time.Duration
}

// FromEnv reads and validates the environment. Missing required variables or
// out-of-range values fail startup rather than surfacing later.
func FromEnv() (*Config, error) {
	cfg := &Config{
		StoreURL:       os.Getenv("STORE_URL"),
		CoordinatorURL: os.Getenv("COORDINATOR_URL"),
		AllowedOrigin:  os.Getenv("ALLOWED_ORIGIN"),
		ListenPort:     getEnvAsInt("LISTEN_PORT", 3010),
		ExpiryTick:     time.Duration(getEnvAsInt("EXPIRY_TICK_MS", 5000)) * time.Millisecond,
		LockTTL:        time.Duration(getEnvAsInt("LOCK_TTL_MS", 5000)) * time.Millisecond,
	}

	if cfg.StoreURL == "" {
		return nil, fmt.Errorf("STORE_URL is required")
	}
	if cfg.CoordinatorURL == "" {
		return nil, fmt.Errorf("COORDINATOR_URL is required")
	}
	if cfg.AllowedOrigin == "" {
		return nil, fmt.Errorf("ALLOWED_ORIGIN is required")
	}

	secret := os.Getenv("CREDENTIAL_SECRET")
	if len(secret) < minSecretLen {
		return nil, fmt.Errorf("CREDENTIAL_SECRET must be at least %d bytes", minSecretLen)
	}
	cfg.CredentialSecret = []byte(secret)

	lifetimeHours := getEnvAsInt("CREDENTIAL_LIFETIME_HOURS", 24)
	if lifetimeHours < 1 || lifetimeHours > 168 {
		return nil, fmt.Errorf("CREDENTIAL_LIFETIME_HOURS must be in 1..168, got %d", lifetimeHours)
	}
	cfg.CredentialLifetime = time.Duration(lifetimeHours) * time.Hour

	if cfg.ListenPort < 1024 || cfg.ListenPort > 65535 {
		return nil, fmt.Errorf("LISTEN_PORT must be in 1024..65535, got %d", cfg.ListenPort)
	}
	if cfg.ExpiryTick <= 0 {
		return nil, fmt.Errorf("EXPIRY_TICK_MS must be positive")
	}
	if cfg.LockTTL <= 0 {
		return nil, fmt.Errorf("LOCK_TTL_MS must be positive")
	}

	return cfg, nil
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
