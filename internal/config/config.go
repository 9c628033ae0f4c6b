// Package config centralizes the environment-variable configuration used
// across the module, following a .env-then-OS-env loading pattern for its
// Redis connection settings.
package config

import (
	"fmt"
	"os"
	"sync"

	"github.com/joho/godotenv"
)

// SerializationType enumerates the wire serialization formats this module
// knows how to speak. Only JSON is currently supported.
type SerializationType string

// JSON is the only currently-supported serialization type.
const JSON SerializationType = "json"

var loadEnvOnce sync.Once

// loadDotEnv loads a .env file if present. Errors are ignored: in
// production there is no .env file, variables are injected by the
// environment directly.
func loadDotEnv() {
	loadEnvOnce.Do(func() {
		_ = godotenv.Load()
	})
}

// BrokerURL returns the broker URL as provided via BROKER_URL, falling
// back to REDIS_URL, falling back to a local default.
func BrokerURL() string {
	loadDotEnv()
	if v := os.Getenv("BROKER_URL"); v != "" {
		return v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		return v
	}
	return "redis://127.0.0.1:6379"
}

// LogLevel returns the configured zap-style level name as provided via
// AIOTASKQ_LOG_LEVEL, defaulting to "debug".
func LogLevel() string {
	loadDotEnv()
	if v := os.Getenv("AIOTASKQ_LOG_LEVEL"); v != "" {
		return v
	}
	return "debug"
}

// Serialization returns the configured wire serialization type as
// provided via AIOTASKQ_SERIALIZATION, defaulting to JSON. It fails if
// the value is set to anything other than "json".
func Serialization() (SerializationType, error) {
	loadDotEnv()
	v := os.Getenv("AIOTASKQ_SERIALIZATION")
	if v == "" {
		return JSON, nil
	}
	if SerializationType(v) != JSON {
		return "", fmt.Errorf("unsupported AIOTASKQ_SERIALIZATION %q: only %q is supported", v, JSON)
	}
	return JSON, nil
}
