// Package config loads runtime settings from the environment and audit
// profiles from YAML files.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"kanon/internal/platform/database"
	dErrors "kanon/pkg/domain-errors"
)

// Server captures the settings of the long-running audit service.
type Server struct {
	Addr        string
	AdminToken  string
	ProfilePath string
	Database    DatabaseConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	RateLimit   RateLimitConfig
	Log         LogConfig
}

// DatabaseConfig selects the report store. An empty URL keeps reports in
// memory.
type DatabaseConfig struct {
	Driver string
	URL    string
}

// RedisConfig configures the audit cache. An empty URL disables caching.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	TTL          time.Duration
}

// KafkaConfig configures the audit event sink. No brokers keeps events in
// the local store only.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// RateLimitConfig bounds the audit API per client address. Zero requests
// disables the limit.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string
	Format string
}

// DefaultAuditTopic receives compliance events when KANON_KAFKA_TOPIC is unset.
const DefaultAuditTopic = "kanon.audit.events"

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	return Server{
		Addr:        envOr("KANON_ADDR", ":8080"),
		AdminToken:  os.Getenv("KANON_ADMIN_TOKEN"),
		ProfilePath: os.Getenv("KANON_PROFILE"),
		Database: DatabaseConfig{
			Driver: envOr("KANON_DB_DRIVER", database.DriverPostgres),
			URL:    os.Getenv("KANON_DB_URL"),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("KANON_REDIS_URL"),
			PoolSize:     envInt("KANON_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("KANON_REDIS_MIN_IDLE", 2),
			DialTimeout:  envDuration("KANON_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("KANON_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("KANON_REDIS_WRITE_TIMEOUT", 3*time.Second),
			TTL:          envDuration("KANON_CACHE_TTL", 24*time.Hour),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(os.Getenv("KANON_KAFKA_BROKERS")),
			Topic:   envOr("KANON_KAFKA_TOPIC", DefaultAuditTopic),
		},
		RateLimit: RateLimitConfig{
			Requests: envInt("KANON_RATE_LIMIT", 60),
			Window:   envDuration("KANON_RATE_WINDOW", time.Minute),
		},
		Log: LogConfig{
			Level:  envOr("KANON_LOG_LEVEL", "info"),
			Format: envOr("KANON_LOG_FORMAT", "json"),
		},
	}
}

// Validate rejects settings the server cannot start with.
func (s Server) Validate() error {
	if s.Addr == "" {
		return dErrors.New(dErrors.CodeConfig, "listen address is required")
	}
	if s.AdminToken == "" {
		return dErrors.New(dErrors.CodeConfig, "KANON_ADMIN_TOKEN is required to serve audits")
	}
	if s.ProfilePath == "" {
		return dErrors.New(dErrors.CodeConfig, "KANON_PROFILE is required to serve audits")
	}
	switch s.Database.Driver {
	case database.DriverPostgres, database.DriverSQLite:
	default:
		return dErrors.Newf(dErrors.CodeConfig, "unsupported database driver %q", s.Database.Driver)
	}
	if len(s.Kafka.Brokers) > 0 && s.Kafka.Topic == "" {
		return dErrors.New(dErrors.CodeConfig, "kafka topic is required when brokers are set")
	}
	if s.RateLimit.Requests < 0 || (s.RateLimit.Requests > 0 && s.RateLimit.Window <= 0) {
		return dErrors.New(dErrors.CodeConfig, "rate limit needs a non-negative budget and a positive window")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
