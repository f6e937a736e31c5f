// Package config provides environment configuration for the relay, the
// emulator and the terminal client.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Scratch backends.
const (
	ScratchMemory = "memory"
	ScratchFile   = "file"
	ScratchSQLite = "sqlite"
	ScratchNATS   = "nats"
)

// Config holds all configuration for the application.
type Config struct {
	// Backend settings
	BackendURL     string
	BackendToken   string
	RequestTimeout time.Duration

	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	AllowedOrigins     []string

	// NATS settings
	NATSURL             string
	NATSCAFile          string
	NATSCertFile        string
	NATSKeyFile         string
	NATSToken           string
	NATSKVBucket        string
	InvalidationSubject string

	// Scratch settings
	ScratchBackend   string
	ScratchDir       string
	ScratchSQLiteDSN string

	// JWT settings
	JWTSecret string

	// LLM settings (emulator only)
	AnthropicAPIKey string
	OpenAIAPIKey    string
	DevCoinRate     float64
	DevTokenDelay   time.Duration

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel    string
	Development bool

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables, after loading any
// .env files given (default ".env"). Missing files are ignored; variables
// already set in the environment win.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	cfg := &Config{
		// Backend
		BackendURL:     getEnv("BACKEND_URL", "http://localhost:8090"),
		BackendToken:   getEnv("BACKEND_TOKEN", ""),
		RequestTimeout: getDurationEnv("REQUEST_TIMEOUT", 15*time.Second),

		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 0),
		AllowedOrigins:     getListEnv("ALLOWED_ORIGINS"),

		// NATS
		NATSURL:             getEnv("NATS_URL", ""),
		NATSCAFile:          getEnv("NATS_CA_FILE", ""),
		NATSCertFile:        getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:         getEnv("NATS_KEY_FILE", ""),
		NATSToken:           getEnv("NATS_TOKEN", ""),
		NATSKVBucket:        getEnv("NATS_KV_BUCKET", "scratch"),
		InvalidationSubject: getEnv("INVALIDATION_SUBJECT", "cache.invalidate"),

		// Scratch
		ScratchBackend:   strings.ToLower(getEnv("SCRATCH_BACKEND", ScratchMemory)),
		ScratchDir:       getEnv("SCRATCH_DIR", "./data/scratch"),
		ScratchSQLiteDSN: getEnv("SCRATCH_SQLITE_DSN", "file:scratch.db?_pragma=busy_timeout(5000)"),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", "development-secret-change-in-production"),

		// LLM
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		DevCoinRate:     getFloatEnv("DEV_COIN_RATE", 1),
		DevTokenDelay:   getDurationEnv("DEV_TOKEN_DELAY", 30*time.Millisecond),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Development: getEnv("ENV", "") == "development",

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that have no safe fallback.
func (c *Config) Validate() error {
	switch c.ScratchBackend {
	case ScratchMemory, ScratchFile, ScratchSQLite:
	case ScratchNATS:
		if c.NATSURL == "" {
			return errors.New("SCRATCH_BACKEND=nats requires NATS_URL")
		}
	default:
		return fmt.Errorf("unknown SCRATCH_BACKEND %q", c.ScratchBackend)
	}
	if c.BackendURL == "" {
		return errors.New("BACKEND_URL is required")
	}
	if c.DevCoinRate < 0 {
		return errors.New("DEV_COIN_RATE must not be negative")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getListEnv(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
