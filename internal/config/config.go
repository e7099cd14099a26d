// Package config reads the coordinator's runtime tunables from environment
// variables, applying sane defaults and returning descriptive errors for
// invalid overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultAddr is the default TCP address the coordinator listens on.
	DefaultAddr = ":43200"
	// DefaultPingInterval controls the keepalive cadence for WebSocket
	// connections.
	DefaultPingInterval = 30 * time.Second
	// DefaultMaxPayloadBytes limits inbound WebSocket frame size.
	DefaultMaxPayloadBytes int64 = 1 << 16
	// DefaultMaxClients bounds concurrent sessions. Zero disables the limit.
	DefaultMaxClients = 4096
	// DefaultSendBuffer is the per-session outbound frame buffer.
	DefaultSendBuffer = 256
	// DefaultAuthLeeway tolerates small clock skew when verifying tokens.
	DefaultAuthLeeway = 2 * time.Second
	// DefaultLogLevel controls verbosity for coordinator logs.
	DefaultLogLevel = "info"
)

// Config captures all runtime tunables for the coordinator service.
type Config struct {
	Address         string
	AllowedOrigins  []string
	MaxPayloadBytes int64
	PingInterval    time.Duration
	MaxClients      int
	SendBuffer      int

	AuthSecret string
	AuthLeeway time.Duration
	AdminToken string

	DatabaseURL string
	RedisAddr   string
	JournalDir  string

	LogLevel string
}

// Load reads the coordinator configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Address:         getString("COORDINATOR_ADDR", DefaultAddr),
		AllowedOrigins:  parseList(os.Getenv("COORDINATOR_ALLOWED_ORIGINS")),
		MaxPayloadBytes: DefaultMaxPayloadBytes,
		PingInterval:    DefaultPingInterval,
		MaxClients:      DefaultMaxClients,
		SendBuffer:      DefaultSendBuffer,
		AuthSecret:      strings.TrimSpace(os.Getenv("COORDINATOR_AUTH_SECRET")),
		AuthLeeway:      DefaultAuthLeeway,
		AdminToken:      strings.TrimSpace(os.Getenv("COORDINATOR_ADMIN_TOKEN")),
		DatabaseURL:     strings.TrimSpace(os.Getenv("COORDINATOR_DATABASE_URL")),
		RedisAddr:       strings.TrimSpace(os.Getenv("COORDINATOR_REDIS_ADDR")),
		JournalDir:      strings.TrimSpace(os.Getenv("COORDINATOR_JOURNAL_DIR")),
		LogLevel:        getString("COORDINATOR_LOG_LEVEL", DefaultLogLevel),
	}

	var problems []string

	if raw := strings.TrimSpace(os.Getenv("COORDINATOR_MAX_PAYLOAD_BYTES")); raw != "" {
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("COORDINATOR_MAX_PAYLOAD_BYTES must be a positive integer, got %q", raw))
		} else {
			cfg.MaxPayloadBytes = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("COORDINATOR_PING_INTERVAL")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("COORDINATOR_PING_INTERVAL must be a positive duration, got %q", raw))
		} else {
			cfg.PingInterval = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("COORDINATOR_MAX_CLIENTS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("COORDINATOR_MAX_CLIENTS must be a non-negative integer, got %q", raw))
		} else {
			cfg.MaxClients = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("COORDINATOR_SEND_BUFFER")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("COORDINATOR_SEND_BUFFER must be a positive integer, got %q", raw))
		} else {
			cfg.SendBuffer = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("COORDINATOR_AUTH_LEEWAY")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration < 0 {
			problems = append(problems, fmt.Sprintf("COORDINATOR_AUTH_LEEWAY must be a non-negative duration, got %q", raw))
		} else {
			cfg.AuthLeeway = duration
		}
	}

	switch strings.ToLower(cfg.LogLevel) {
	case "debug", "info", "warn", "error":
		cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	default:
		problems = append(problems, fmt.Sprintf("COORDINATOR_LOG_LEVEL must be one of debug, info, warn, error, got %q", cfg.LogLevel))
	}

	if len(problems) > 0 {
		return nil, errors.New(strings.Join(problems, "; "))
	}

	return cfg, nil
}

func getString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if item := strings.TrimSpace(part); item != "" {
			values = append(values, item)
		}
	}
	return values
}
