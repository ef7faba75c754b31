package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Server   ServerConfig
	Session  SessionConfig
	Ledger   LedgerConfig
	Slack    SlackConfig
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string //nolint:gosec // G117: DB connection config
	DBName   string
	SSLMode  string
	MaxConns int
}

// RedisConfig holds Redis connection settings for the alert channel.
type RedisConfig struct {
	Addr         string
	Password     string //nolint:gosec // G117: Redis connection config
	DB           int
	AlertChannel string
}

// JWTConfig holds signing settings for operator (compliance tooling) tokens.
type JWTConfig struct {
	Secret string //nolint:gosec // G117: JWT signing secret config
	TTL    time.Duration
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CORSOrigins  []string
}

// SessionConfig holds the session lifecycle policy.
type SessionConfig struct {
	InactivityWindow time.Duration // sliding expiry
	MaxLifetime      time.Duration // absolute deadline
}

// LedgerConfig holds audit ledger behavior settings.
type LedgerConfig struct {
	RetryAttempts     int
	RetryBase         time.Duration
	VerifyBatchSize   int
	VerifyInterval    time.Duration
	AggregateInterval time.Duration
	RetentionYears    int
}

// SlackConfig holds the security alert channel settings. Empty token disables
// the Slack sink.
type SlackConfig struct {
	BotToken string
	Channel  string
}

// Load reads configuration from environment variables.
// Defaults are safe for local development only. In production,
// sensitive values (JWT secret, DB password) must be set explicitly.
func Load() (*Config, error) {
	dbPort, err := getEnvInt("CARETRACE_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	dbMaxConns, err := getEnvInt("CARETRACE_DB_MAX_CONNS", 25)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	redisDB, err := getEnvInt("CARETRACE_REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	jwtTTL, err := getEnvDuration("CARETRACE_JWT_TTL", 8*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	readTimeout, err := getEnvDuration("CARETRACE_SERVER_READ_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	writeTimeout, err := getEnvDuration("CARETRACE_SERVER_WRITE_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	inactivity, err := getEnvDuration("CARETRACE_SESSION_INACTIVITY_WINDOW", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	maxLifetime, err := getEnvDuration("CARETRACE_SESSION_MAX_LIFETIME", 12*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	retryAttempts, err := getEnvInt("CARETRACE_LEDGER_RETRY_ATTEMPTS", 3)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	retryBase, err := getEnvDuration("CARETRACE_LEDGER_RETRY_BASE", 100*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	verifyBatch, err := getEnvInt("CARETRACE_VERIFY_BATCH_SIZE", 500)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	verifyInterval, err := getEnvDuration("CARETRACE_VERIFY_INTERVAL", 6*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	aggregateInterval, err := getEnvDuration("CARETRACE_AGGREGATE_INTERVAL", 24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	retentionYears, err := getEnvInt("CARETRACE_RETENTION_YEARS", 7)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	corsOrigins := getEnvList("CARETRACE_CORS_ORIGINS", []string{"http://localhost:5173"})

	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("CARETRACE_DB_HOST", "localhost"),
			Port:     dbPort,
			User:     getEnv("CARETRACE_DB_USER", "caretrace"),
			Password: getEnv("CARETRACE_DB_PASSWORD", ""),
			DBName:   getEnv("CARETRACE_DB_NAME", "caretrace_dev"),
			SSLMode:  getEnv("CARETRACE_DB_SSLMODE", "disable"),
			MaxConns: dbMaxConns,
		},
		Redis: RedisConfig{
			Addr:         getEnv("CARETRACE_REDIS_ADDR", "localhost:6379"),
			Password:     getEnv("CARETRACE_REDIS_PASSWORD", ""),
			DB:           redisDB,
			AlertChannel: getEnv("CARETRACE_REDIS_ALERT_CHANNEL", "caretrace:alerts"),
		},
		JWT: JWTConfig{
			Secret: getEnv("CARETRACE_JWT_SECRET", ""),
			TTL:    jwtTTL,
		},
		Server: ServerConfig{
			Addr:         getEnv("CARETRACE_SERVER_ADDR", ":8080"),
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
			CORSOrigins:  corsOrigins,
		},
		Session: SessionConfig{
			InactivityWindow: inactivity,
			MaxLifetime:      maxLifetime,
		},
		Ledger: LedgerConfig{
			RetryAttempts:     retryAttempts,
			RetryBase:         retryBase,
			VerifyBatchSize:   verifyBatch,
			VerifyInterval:    verifyInterval,
			AggregateInterval: aggregateInterval,
			RetentionYears:    retentionYears,
		},
		Slack: SlackConfig{
			BotToken: getEnv("CARETRACE_SLACK_BOT_TOKEN", ""),
			Channel:  getEnv("CARETRACE_SLACK_CHANNEL", "#phi-security-alerts"),
		},
	}

	err = cfg.validate()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	return cfg, nil
}

// validate checks required fields and value bounds.
func (c *Config) validate() error {
	// JWT secret is required (no insecure default).
	if c.JWT.Secret == "" {
		return errors.New("CARETRACE_JWT_SECRET is required")
	}
	if len(c.JWT.Secret) < 32 {
		return errors.New("CARETRACE_JWT_SECRET must be at least 32 characters")
	}

	if c.Database.SSLMode == "disable" {
		log.Warn().Msg("CARETRACE_DB_SSLMODE=disable is insecure for production; set to 'require' or 'verify-full'")
	}

	// Bounds checks.
	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("CARETRACE_DB_PORT must be 1-65535, got %d", c.Database.Port)
	}
	if c.Database.MaxConns < 1 {
		return fmt.Errorf("CARETRACE_DB_MAX_CONNS must be >= 1, got %d", c.Database.MaxConns)
	}
	if c.Session.InactivityWindow <= 0 {
		return fmt.Errorf("CARETRACE_SESSION_INACTIVITY_WINDOW must be positive, got %s", c.Session.InactivityWindow)
	}
	if c.Session.MaxLifetime <= 0 {
		return fmt.Errorf("CARETRACE_SESSION_MAX_LIFETIME must be positive, got %s", c.Session.MaxLifetime)
	}
	if c.Session.InactivityWindow > c.Session.MaxLifetime {
		return fmt.Errorf("inactivity window %s exceeds max lifetime %s",
			c.Session.InactivityWindow, c.Session.MaxLifetime)
	}
	if c.Ledger.RetryAttempts < 0 {
		return fmt.Errorf("CARETRACE_LEDGER_RETRY_ATTEMPTS must be >= 0, got %d", c.Ledger.RetryAttempts)
	}
	if c.Ledger.VerifyBatchSize < 1 {
		return fmt.Errorf("CARETRACE_VERIFY_BATCH_SIZE must be >= 1, got %d", c.Ledger.VerifyBatchSize)
	}
	if c.Ledger.RetentionYears < 1 {
		return fmt.Errorf("CARETRACE_RETENTION_YEARS must be >= 1, got %d", c.Ledger.RetentionYears)
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("CARETRACE_SERVER_READ_TIMEOUT must be positive, got %s", c.Server.ReadTimeout)
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("CARETRACE_SERVER_WRITE_TIMEOUT must be positive, got %s", c.Server.WriteTimeout)
	}

	return nil
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as int: %w", key, v, err)
	}
	return n, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as duration: %w", key, v, err)
	}
	return d, nil
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
