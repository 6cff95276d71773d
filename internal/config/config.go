package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	Port     string
	Env      string
	RedisURL string

	// Transport
	AllowedOrigins []string // Origins allowed to open a websocket ("*" allows all)
	MaxMessageSize int64    // Maximum inbound websocket frame size in bytes

	// Hub timing
	TypingDebounce          time.Duration // Typing indicator auto-clear delay
	InactivityWindow        time.Duration // Idle time before a presence is marked offline
	InactivitySweepInterval time.Duration
	RetentionWindow         time.Duration // Conversations with no message this recent are evicted
	RetentionSweepInterval  time.Duration
	PresenceLinger          time.Duration // How long a presence record survives a disconnect

	// Rate limiting
	RateLimitWhitelist []string // IPs or CIDRs exempt from rate limiting
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:     getEnv("PORT", "8087"),
		Env:      getEnv("ENV", "development"),
		RedisURL: os.Getenv("REDIS_URL"),

		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "*")),
		MaxMessageSize: getInt64("MAX_MESSAGE_SIZE", 16*1024),

		TypingDebounce:          getDuration("TYPING_DEBOUNCE", 3*time.Second),
		InactivityWindow:        getDuration("INACTIVITY_WINDOW", 5*time.Minute),
		InactivitySweepInterval: getDuration("INACTIVITY_SWEEP_INTERVAL", time.Minute),
		RetentionWindow:         getDuration("RETENTION_WINDOW", 30*24*time.Hour),
		RetentionSweepInterval:  getDuration("RETENTION_SWEEP_INTERVAL", 24*time.Hour),
		PresenceLinger:          getDuration("PRESENCE_LINGER", 24*time.Hour),

		RateLimitWhitelist: splitList(os.Getenv("RATE_LIMIT_WHITELIST")),
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt64(key string, defaultValue int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil || n <= 0 {
		return defaultValue
	}
	return n
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return defaultValue
	}
	return d
}

// splitList parses a comma-separated list, dropping empty entries.
func splitList(value string) []string {
	if value == "" {
		return nil
	}
	var out []string
	for _, entry := range strings.Split(value, ",") {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			out = append(out, entry)
		}
	}
	return out
}
