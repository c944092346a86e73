// Package config loads the service configuration from an optional .env file and
// FRAUDSENTRY_* environment variables layered over the tier presets.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/opensource-finance/fraudsentry/internal/domain"
)

const envPrefix = "FRAUDSENTRY_"

// Load reads the given .env files (".env" when none are given) and applies environment
// overrides. Missing .env files are not an error; malformed ones are.
func Load(files ...string) (*domain.Config, error) {
	if err := godotenv.Load(files...); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env file: %w", err)
		}
		slog.Debug(".env file not found, relying on process environment")
	}

	cfg := domain.DefaultConfig()
	if strings.EqualFold(getEnv("TIER", ""), string(domain.TierPro)) {
		cfg = domain.ProConfig()
	}

	applyEnv(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *domain.Config) {
	// Server
	cfg.Server.Host = getEnv("HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvInt("PORT", cfg.Server.Port)
	cfg.Server.ReadTimeout = getEnvInt("READ_TIMEOUT", cfg.Server.ReadTimeout)
	cfg.Server.WriteTimeout = getEnvInt("WRITE_TIMEOUT", cfg.Server.WriteTimeout)

	// Repository
	cfg.Repository.Driver = getEnv("DB_DRIVER", cfg.Repository.Driver)
	cfg.Repository.SQLitePath = getEnv("SQLITE_PATH", cfg.Repository.SQLitePath)
	cfg.Repository.PostgresHost = getEnv("POSTGRES_HOST", cfg.Repository.PostgresHost)
	cfg.Repository.PostgresPort = getEnvInt("POSTGRES_PORT", cfg.Repository.PostgresPort)
	cfg.Repository.PostgresUser = getEnv("POSTGRES_USER", cfg.Repository.PostgresUser)
	cfg.Repository.PostgresPassword = getEnv("POSTGRES_PASSWORD", cfg.Repository.PostgresPassword)
	cfg.Repository.PostgresDB = getEnv("POSTGRES_DB", cfg.Repository.PostgresDB)
	cfg.Repository.PostgresSSLMode = getEnv("POSTGRES_SSLMODE", cfg.Repository.PostgresSSLMode)
	cfg.Repository.ConnectTimeout = getEnvDuration("DB_CONNECT_TIMEOUT", cfg.Repository.ConnectTimeout)

	// Cache
	cfg.Cache.Type = getEnv("CACHE_TYPE", cfg.Cache.Type)
	cfg.Cache.LocalMaxSize = getEnvInt("CACHE_SIZE", cfg.Cache.LocalMaxSize)
	cfg.Cache.RedisAddr = getEnv("REDIS_ADDR", cfg.Cache.RedisAddr)
	cfg.Cache.RedisPassword = getEnv("REDIS_PASSWORD", cfg.Cache.RedisPassword)
	cfg.Cache.RedisDB = getEnvInt("REDIS_DB", cfg.Cache.RedisDB)
	cfg.Cache.EnableTwoPhase = getEnvBool("CACHE_TWO_PHASE", cfg.Cache.EnableTwoPhase)

	// Event bus
	cfg.EventBus.Type = getEnv("BUS_TYPE", cfg.EventBus.Type)
	cfg.EventBus.NATSUrl = getEnv("NATS_URL", cfg.EventBus.NATSUrl)
	cfg.EventBus.NATSToken = getEnv("NATS_TOKEN", cfg.EventBus.NATSToken)

	// Agent
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.Agent.APIKey = key
	}
	cfg.Agent.APIKey = getEnv("AGENT_API_KEY", cfg.Agent.APIKey)
	cfg.Agent.Model = getEnv("AGENT_MODEL", cfg.Agent.Model)
	cfg.Agent.BaseURL = getEnv("AGENT_BASE_URL", cfg.Agent.BaseURL)
	cfg.Agent.Timeout = getEnvDuration("AGENT_TIMEOUT", cfg.Agent.Timeout)
	cfg.Agent.FuseSimulated = getEnvBool("AGENT_FUSE_SIMULATED", cfg.Agent.FuseSimulated)
	cfg.Agent.RequestsPerSecond = getEnvFloat("AGENT_RPS", cfg.Agent.RequestsPerSecond)
	cfg.Agent.MaxToolRounds = getEnvInt("AGENT_MAX_TOOL_ROUNDS", cfg.Agent.MaxToolRounds)

	// Enrichment uses the agent's model when a key is present.
	cfg.Enrichment.Enabled = getEnvBool("ENRICHMENT_ENABLED", cfg.Agent.APIKey != "")
	cfg.Enrichment.Timeout = getEnvDuration("ENRICHMENT_TIMEOUT", cfg.Enrichment.Timeout)

	// Observability
	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("LOG_FORMAT", cfg.Logging.Format)
	if getEnvBool("DEBUG", false) {
		cfg.Logging.Level = "debug"
	}
	cfg.Tracing.Enabled = getEnvBool("TRACING_ENABLED", cfg.Tracing.Enabled)
	cfg.Tracing.ServiceName = getEnv("SERVICE_NAME", cfg.Tracing.ServiceName)
}

// Validate rejects configurations the service cannot start with.
func Validate(cfg *domain.Config) error {
	switch cfg.Repository.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("%w: unsupported repository driver %q", domain.ErrInvalidInput, cfg.Repository.Driver)
	}
	switch cfg.Cache.Type {
	case "memory", "redis":
	default:
		return fmt.Errorf("%w: unsupported cache type %q", domain.ErrInvalidInput, cfg.Cache.Type)
	}
	switch cfg.EventBus.Type {
	case "channel", "nats":
	default:
		return fmt.Errorf("%w: unsupported event bus type %q", domain.ErrInvalidInput, cfg.EventBus.Type)
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("%w: invalid port %d", domain.ErrInvalidInput, cfg.Server.Port)
	}
	if cfg.Agent.Timeout <= 0 || cfg.Enrichment.Timeout <= 0 {
		return fmt.Errorf("%w: timeouts must be positive", domain.ErrInvalidInput)
	}
	return nil
}

// LogLevel maps the configured level name to a slog level.
func LogLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(envPrefix + key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(envPrefix + key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(envPrefix + key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(envPrefix + key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// getEnvDuration accepts Go durations ("2s") or bare milliseconds ("2000").
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return def
}
