/*
Package configs is responsible for loading and parsing the application's configuration settings.

Values come from operating system environment variables (optionally seeded from a local .env file)
and are decoded with struct tags, then validated: running environment, port, CORS allowed origins,
resume token secret, room engine tuning and the optional Redis presence mirror.
*/
package configs

import (
	"fmt"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

// developmentResumeSecret is only accepted when ENVIRONMENT=development.
const developmentResumeSecret = "sketchsync_insecure_dev_secret_change_me"

// AppConfig contains all configuration parameters required for the application to run.
type AppConfig struct {
	// General Server Settings
	Environment string `env:"ENVIRONMENT,default=development"`
	Port        int    `env:"PORT,default=8080"`
	LogLevel    string `env:"LOG_LEVEL"`

	// Security Settings
	AllowedOriginsRaw string `env:"ALLOWED_ORIGINS"`
	AllowedOrigins    []string
	ResumeTokenSecret string `env:"RESUME_TOKEN_SECRET"`

	// Room Engine Settings
	TypingTimeout       time.Duration `env:"TYPING_TIMEOUT,default=1s"`
	TypingSweepInterval time.Duration `env:"TYPING_SWEEP_INTERVAL,default=250ms"`
	RoomIdleGrace       time.Duration `env:"ROOM_IDLE_GRACE,default=0s"`
	HistoryLimit        int           `env:"HISTORY_LIMIT,default=200"`
	ChatHistoryLimit    int           `env:"CHAT_HISTORY_LIMIT,default=100"`
	MaxChatLength       int           `env:"MAX_CHAT_LENGTH,default=500"`
	MaxSnapshotBytes    int           `env:"MAX_SNAPSHOT_BYTES,default=4194304"`

	// Presence Mirror Settings
	RedisURL string `env:"REDIS_URL"`
}

// IsDevelopment reports whether the server runs in the development environment.
func (c *AppConfig) IsDevelopment() bool {
	return c.Environment == "development"
}

// LoadConfig reads and parses the application configuration from environment variables.
// A .env file in the working directory, when present, seeds variables that are not already set.
func LoadConfig() (*AppConfig, error) {
	_ = godotenv.Load()

	cfg := &AppConfig{}
	if _, err := env.UnmarshalFromEnviron(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode environment: %w", err)
	}

	if err := cfg.normalize(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// normalize fills derived fields and validates ranges.
func (c *AppConfig) normalize() error {
	if c.Port < 1024 || c.Port > 65535 {
		return fmt.Errorf("port number %d is outside the recommended range (%d-%d) to avoid privileged ports", c.Port, 1024, 65535)
	}

	c.AllowedOrigins = []string{}
	for _, origin := range strings.Split(c.AllowedOriginsRaw, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			c.AllowedOrigins = append(c.AllowedOrigins, trimmed)
		}
	}

	if c.ResumeTokenSecret == "" {
		if !c.IsDevelopment() {
			return fmt.Errorf("RESUME_TOKEN_SECRET environment variable is required in %s environment for security", c.Environment)
		}
		c.ResumeTokenSecret = developmentResumeSecret
	}

	if c.TypingTimeout <= 0 {
		return fmt.Errorf("TYPING_TIMEOUT must be positive, got %s", c.TypingTimeout)
	}
	if c.TypingSweepInterval <= 0 || c.TypingSweepInterval > c.TypingTimeout {
		return fmt.Errorf("TYPING_SWEEP_INTERVAL must be positive and not exceed TYPING_TIMEOUT, got %s", c.TypingSweepInterval)
	}
	if c.RoomIdleGrace < 0 {
		return fmt.Errorf("ROOM_IDLE_GRACE must not be negative, got %s", c.RoomIdleGrace)
	}
	if c.HistoryLimit < 1 {
		return fmt.Errorf("HISTORY_LIMIT must be at least 1, got %d", c.HistoryLimit)
	}
	if c.ChatHistoryLimit < 1 {
		return fmt.Errorf("CHAT_HISTORY_LIMIT must be at least 1, got %d", c.ChatHistoryLimit)
	}
	if c.MaxChatLength < 1 {
		return fmt.Errorf("MAX_CHAT_LENGTH must be at least 1, got %d", c.MaxChatLength)
	}
	if c.MaxSnapshotBytes < 1 {
		return fmt.Errorf("MAX_SNAPSHOT_BYTES must be at least 1, got %d", c.MaxSnapshotBytes)
	}

	return nil
}
