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
	Port        string
	Env         string
	DatabaseURL string
	SQLitePath  string
	RedisURL    string

	// Media relay (voice/data channel) credentials
	RelayHost      string
	RelayAPIKey    string
	RelayAPISecret string
	RelayTokenTTL  time.Duration

	// Playback sync policy. These are tunables, not invariants; the
	// defaults match what the product shipped with.
	SyncTolerance  float64       // seconds of drift worth broadcasting
	DebounceWindow time.Duration // minimum spacing between position broadcasts
	PlaybackTTL    time.Duration // idle playback state retention

	// Presence and requests
	PresenceTTL time.Duration // offline record considered stale after this
	RequestTTL  time.Duration // viewer requests expire after this

	// Chat
	ChatTTL     time.Duration
	MaxMessages int

	// Sessions and bans
	SessionTTL    time.Duration
	DefaultBanTTL time.Duration

	// Browser origins allowed to call the API
	CORSOrigins []string

	// Bootstrap admin account, created at startup if absent
	AdminUsername string
	AdminPassword string
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
// In production, it panics on missing required variables.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Env:         getEnv("ENV", "development"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		SQLitePath:  getEnv("SQLITE_PATH", "./data/echoframe.db"),
		RedisURL:    os.Getenv("REDIS_URL"),

		RelayHost:      os.Getenv("RELAY_HOST"),
		RelayAPIKey:    os.Getenv("RELAY_API_KEY"),
		RelayAPISecret: os.Getenv("RELAY_API_SECRET"),
		RelayTokenTTL:  getDuration("RELAY_TOKEN_TTL", 6*time.Hour),

		SyncTolerance:  getFloat("SYNC_TOLERANCE_SECONDS", 1.0),
		DebounceWindow: getDuration("DEBOUNCE_WINDOW", 2*time.Second),
		PlaybackTTL:    getDuration("PLAYBACK_TTL", time.Hour),

		PresenceTTL: getDuration("PRESENCE_TTL", 15*time.Minute),
		RequestTTL:  getDuration("REQUEST_TTL", 60*time.Second),

		ChatTTL:     getDuration("CHAT_TTL", 24*time.Hour),
		MaxMessages: getInt("CHAT_MAX_MESSAGES", 200),

		SessionTTL:    getDuration("SESSION_TTL", 24*time.Hour),
		DefaultBanTTL: getDuration("DEFAULT_BAN_TTL", 24*time.Hour),

		CORSOrigins: strings.Split(getEnv("CORS_ORIGINS", "*"), ","),

		AdminUsername: getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword: os.Getenv("ADMIN_PASSWORD"),
	}

	// In production, require redis and relay credentials
	if cfg.Env == "production" {
		if cfg.RedisURL == "" {
			panic("REDIS_URL is required in production")
		}
		if cfg.RelayAPIKey == "" || cfg.RelayAPISecret == "" {
			panic("RELAY_API_KEY and RELAY_API_SECRET are required in production")
		}
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

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
