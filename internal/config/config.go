// Package config loads service configuration from the environment. A .env
// file is honored in development; real deployments set the variables
// directly.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds configuration shared by the rxdesk binaries.
type Config struct {
	// Port is the HTTP listen port for the API service.
	Port int
	// DatabaseURL is the Postgres connection string.
	DatabaseURL string
	// KafkaBrokers are the seed brokers.
	KafkaBrokers []string
	// APIKeys maps API key to client identifier. Parsed from API_KEYS as
	// "key:client" pairs separated by commas.
	APIKeys map[string]string
	// LogLevel is one of debug, info, warn, error.
	LogLevel string
	// Environment is development or production.
	Environment string
	// OTELEnabled toggles trace export.
	OTELEnabled bool
	// OTLPEndpoint is the OTLP gRPC collector address.
	OTLPEndpoint string
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration
}

// Load reads configuration from the environment. A missing .env file is not
// an error.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Port:            envInt("PORT", 8080),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		KafkaBrokers:    envList("KAFKA_BROKERS", "localhost:9092"),
		APIKeys:         parseAPIKeys(os.Getenv("API_KEYS")),
		LogLevel:        envString("LOG_LEVEL", "info"),
		Environment:     envString("ENVIRONMENT", "development"),
		OTELEnabled:     envBool("OTEL_ENABLED", false),
		OTLPEndpoint:    envString("OTLP_ENDPOINT", "localhost:4317"),
		ShutdownTimeout: envDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT %d out of range", c.Port)
	}
	if len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown LOG_LEVEL %q", c.LogLevel)
	}
	return nil
}

// parseAPIKeys parses "key:client,key2:client2". A bare key without a client
// name maps to "default".
func parseAPIKeys(raw string) map[string]string {
	keys := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, client, found := strings.Cut(pair, ":")
		if !found || client == "" {
			client = "default"
		}
		keys[key] = client
	}
	return keys
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key, fallback string) []string {
	raw := envString(key, fallback)
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
