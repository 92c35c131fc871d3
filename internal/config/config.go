package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/opentrusty/mcptrading/internal/apierr"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Observability ObservabilityConfig
	Security      SecurityConfig
	RateLimit     RateLimitConfig
	Schwab        SchwabConfig
	Janitor       JanitorConfig
}

// RateLimitConfig holds the three per-endpoint token-bucket limits, expressed in requests per minute.
type RateLimitConfig struct {
	LoginRPM     int
	AuthorizeRPM int
	TokenRPM     int
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         string
	PublicURL    string // issuer/base URL advertised in authorization-server and protected-resource metadata
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	URL          string // full postgres:// DSN
	MaxConns     int32
	MinConns     int32
	MaxConnIdle  time.Duration
	HealthPeriod time.Duration
}

// ObservabilityConfig holds logging and tracing configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string
	OTELEnabled    bool
	ServiceName    string
	ServiceVersion string
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	EncryptionKey     string // base64url-encoded 32-byte credential vault key
	JWTSecretKey      string // HS256 signing secret for access/refresh token claims
	BcryptCost        int
	AuthCodeLifetime  time.Duration
	AccessTokenLTTL   time.Duration
	RefreshTokenLTTL  time.Duration
	UpstreamStateLTTL time.Duration
}

// SchwabConfig holds the upstream brokerage OAuth client configuration.
type SchwabConfig struct {
	AppKey      string
	AppSecret   string
	CallbackURL string
}

// JanitorConfig controls the background expired-row sweeper.
type JanitorConfig struct {
	Interval time.Duration
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnv("SERVER_PORT", "8080"),
			PublicURL:    getEnv("SERVER_URL", ""),
			ReadTimeout:  parseDuration("SERVER_READ_TIMEOUT", "15s"),
			WriteTimeout: parseDuration("SERVER_WRITE_TIMEOUT", "15s"),
			IdleTimeout:  parseDuration("SERVER_IDLE_TIMEOUT", "60s"),
		},
		Database: DatabaseConfig{
			URL:          getEnv("DATABASE_URL", ""),
			MaxConns:     int32(parseInt("DB_MAX_CONNS", 20)),
			MinConns:     int32(parseInt("DB_MIN_CONNS", 10)),
			MaxConnIdle:  parseDuration("DB_MAX_CONN_IDLE", "5m"),
			HealthPeriod: parseDuration("DB_HEALTH_PERIOD", "1m"),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			OTELEnabled:    parseBool("OTEL_ENABLED", false),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "mcptrading-gateway"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "0.1.0"),
		},
		Security: SecurityConfig{
			EncryptionKey:     getEnv("ENCRYPTION_KEY", ""),
			JWTSecretKey:      getEnv("JWT_SECRET_KEY", ""),
			BcryptCost:        parseInt("BCRYPT_COST", 10),
			AuthCodeLifetime:  parseDuration("AUTH_CODE_LIFETIME", "10m"),
			AccessTokenLTTL:   parseDuration("ACCESS_TOKEN_LIFETIME", "15m"),
			RefreshTokenLTTL:  parseDuration("REFRESH_TOKEN_LIFETIME", "720h"),
			UpstreamStateLTTL: parseDuration("UPSTREAM_STATE_LIFETIME", "10m"),
		},
		RateLimit: RateLimitConfig{
			LoginRPM:     parseInt("RATELIMIT_LOGIN_RPM", 10),
			AuthorizeRPM: parseInt("RATELIMIT_AUTHORIZE_RPM", 20),
			TokenRPM:     parseInt("RATELIMIT_TOKEN_RPM", 30),
		},
		Schwab: SchwabConfig{
			AppKey:      getEnv("SCHWAB_APP_KEY", ""),
			AppSecret:   getEnv("SCHWAB_APP_SECRET", ""),
			CallbackURL: getEnv("SCHWAB_CALLBACK_URL", ""),
		},
		Janitor: JanitorConfig{
			Interval: parseDuration("JANITOR_INTERVAL", "1h"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration, returning an apierr configuration
// error for the first mandatory setting that is unset. Schwab credentials are
// deliberately not mandatory here: a deployment that never initiates an
// upstream linking flow doesn't need them. No other code checks them either.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return apierr.Configuration("DATABASE_URL is required", nil)
	}
	if c.Security.EncryptionKey == "" {
		return apierr.Configuration("ENCRYPTION_KEY is required", nil)
	}
	if c.Security.JWTSecretKey == "" {
		return apierr.Configuration("JWT_SECRET_KEY is required", nil)
	}
	if c.Server.PublicURL == "" {
		return apierr.Configuration("SERVER_URL is required", nil)
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func parseBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func parseDuration(key string, defaultValue string) time.Duration {
	value := getEnv(key, defaultValue)
	d, err := time.ParseDuration(value)
	if err != nil {
		// Fallback to default
		d, _ = time.ParseDuration(defaultValue)
	}
	return d
}
