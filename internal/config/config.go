// Package config handles loading application configuration from environment
// variables. All config is centralized here so no other package reads env
// vars directly. Sensible defaults are provided for development.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"golang.org/x/crypto/bcrypt"
)

// devJWTSecret keeps local development working without a .env file. It is
// rejected in production.
const devJWTSecret = "dev-jwt-secret-do-not-use-in-production!!"

// Config holds all application configuration. Populated from environment
// variables at startup. Passed to other packages via dependency injection.
type Config struct {
	// Env is the runtime environment: "development" or "production".
	Env string

	// Port is the HTTP listen port (default: 8080).
	Port int

	// BaseURL is the public-facing URL of the dashboard, used in reset links.
	BaseURL string

	// LogLevel controls log verbosity: "debug", "info", "warn", "error".
	LogLevel string

	HTTP      HTTPConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Auth      AuthConfig
	SMTP      SMTPConfig
	RateLimit RateLimitConfig
}

// HTTPConfig holds settings for the HTTP edge: which browser origins may call
// the API and which proxies may set forwarding headers.
type HTTPConfig struct {
	// CORSOrigins lists allowed cross-origin callers (default: BaseURL).
	CORSOrigins []string

	// TrustedProxies lists CIDRs whose X-Forwarded-For is believed.
	TrustedProxies []string
}

// DatabaseConfig holds MariaDB connection parameters. Individual fields
// (Host, User, Password, Name) are read from separate env vars; if
// DATABASE_URL is set, it takes precedence over the individual fields.
type DatabaseConfig struct {
	// Host is the MariaDB address in host:port format (default: "localhost:3306").
	// If no port is specified, 3306 is appended automatically.
	Host     string
	User     string
	Password string
	Name     string

	// dsnOverride is set when DATABASE_URL is provided, bypassing individual fields.
	dsnOverride string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DSN returns the go-sql-driver/mysql connection string. If DATABASE_URL was
// set it is used, with the options the repositories depend on forced on; an
// override the driver cannot parse is returned as-is. Otherwise the DSN is
// built with the driver's Config.FormatDSN() to safely handle special
// characters in passwords.
func (d DatabaseConfig) DSN() string {
	if d.dsnOverride != "" {
		cfg, err := mysql.ParseDSN(d.dsnOverride)
		if err != nil {
			return d.dsnOverride
		}
		cfg.ParseTime = true
		cfg.MultiStatements = true
		cfg.ClientFoundRows = true
		return cfg.FormatDSN()
	}
	cfg := mysql.NewConfig()
	cfg.User = d.User
	cfg.Passwd = d.Password
	cfg.Net = "tcp"
	cfg.Addr = ensurePort(d.Host, "3306")
	cfg.DBName = d.Name
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.MultiStatements = true // golang-migrate runs multi-statement files.
	cfg.ClientFoundRows = true // RowsAffected counts matched rows, not changed rows.
	return cfg.FormatDSN()
}

// ensurePort appends the default port if the host string doesn't include one.
func ensurePort(host, defaultPort string) string {
	_, _, err := net.SplitHostPort(host)
	if err != nil {
		return net.JoinHostPort(host, defaultPort)
	}
	return host
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	// URL is the Redis connection URL (e.g., "redis://localhost:6379").
	// Empty disables Redis; rate limits then fall back to process memory.
	URL string
}

// AuthConfig holds the credential and token settings consumed by the
// authentication core.
type AuthConfig struct {
	// JWTSecret is the HMAC key used to sign bearer tokens.
	JWTSecret string

	// JWTIssuer is written into the "iss" claim.
	JWTIssuer string

	// TokenTTL is the fixed validity window of a bearer token.
	TokenTTL time.Duration

	// BcryptCost is the password-hash work factor.
	BcryptCost int

	// ResetTokenTTL is how long a password-reset token stays valid.
	ResetTokenTTL time.Duration

	// ResetSweepSchedule is the cron spec for clearing expired reset tokens.
	// Empty disables the sweep.
	ResetSweepSchedule string

	// BootstrapAdminEmail and BootstrapAdminPassword create the first admin
	// account at startup when no admin exists yet.
	BootstrapAdminEmail    string
	BootstrapAdminPassword string
}

// SMTPConfig holds the outbound mail transport used for reset emails.
type SMTPConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	FromAddress string
	FromName    string

	// Encryption is "starttls", "ssl", or "none".
	Encryption string
}

// Enabled reports whether enough SMTP settings are present to send mail.
func (s SMTPConfig) Enabled() bool {
	return s.Host != "" && s.FromAddress != ""
}

// RateLimitConfig holds per-IP request limits (per minute) for the public
// auth endpoints. Zero disables the limiter for that route.
type RateLimitConfig struct {
	Login    int
	Register int
	Forgot   int
}

// Load reads configuration from environment variables with sensible defaults.
// Returns an error if required variables are missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Env:      getEnv("ENV", "development"),
		Port:     getEnvInt("PORT", 8080),
		BaseURL:  strings.TrimRight(getEnv("BASE_URL", "http://localhost:3000"), "/"),
		LogLevel: getEnv("LOG_LEVEL", "debug"),

		HTTP: HTTPConfig{
			TrustedProxies: getEnvList("TRUSTED_PROXIES",
				[]string{"127.0.0.1/8", "10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16", "::1/128"}),
		},

		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost:3306"),
			User:            getEnv("DB_USER", "schoolhub"),
			Password:        getEnv("DB_PASSWORD", "schoolhub"),
			Name:            getEnv("DB_NAME", "schoolhub"),
			dsnOverride:     getEnv("DATABASE_URL", ""),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},

		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", ""),
		},

		Auth: AuthConfig{
			JWTSecret:              getEnv("JWT_SECRET", ""),
			JWTIssuer:              getEnv("JWT_ISSUER", "schoolhub"),
			TokenTTL:               getEnvDuration("TOKEN_TTL", 24*time.Hour),
			BcryptCost:             getEnvInt("BCRYPT_COST", bcrypt.DefaultCost),
			ResetTokenTTL:          getEnvDuration("RESET_TOKEN_TTL", time.Hour),
			ResetSweepSchedule:     getEnv("RESET_SWEEP_SCHEDULE", "@every 15m"),
			BootstrapAdminEmail:    getEnv("BOOTSTRAP_ADMIN_EMAIL", ""),
			BootstrapAdminPassword: getEnv("BOOTSTRAP_ADMIN_PASSWORD", ""),
		},

		SMTP: SMTPConfig{
			Host:        getEnv("SMTP_HOST", ""),
			Port:        getEnvInt("SMTP_PORT", 587),
			Username:    getEnv("SMTP_USERNAME", ""),
			Password:    getEnv("SMTP_PASSWORD", ""),
			FromAddress: getEnv("SMTP_FROM_ADDRESS", ""),
			FromName:    getEnv("SMTP_FROM_NAME", "SchoolHub"),
			Encryption:  strings.ToLower(getEnv("SMTP_ENCRYPTION", "starttls")),
		},

		RateLimit: RateLimitConfig{
			Login:    getEnvInt("RATE_LIMIT_LOGIN", 10),
			Register: getEnvInt("RATE_LIMIT_REGISTER", 5),
			Forgot:   getEnvInt("RATE_LIMIT_FORGOT", 5),
		},
	}

	cfg.HTTP.CORSOrigins = getEnvList("CORS_ORIGINS", []string{cfg.BaseURL})

	if !cfg.IsDevelopment() {
		if cfg.Auth.JWTSecret == "" {
			return nil, fmt.Errorf("JWT_SECRET is required in %s", cfg.Env)
		}
		if len(cfg.Auth.JWTSecret) < 32 {
			return nil, fmt.Errorf("JWT_SECRET must be at least 32 characters in %s", cfg.Env)
		}
	}
	if cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = devJWTSecret
	}

	if cfg.Auth.BcryptCost < bcrypt.MinCost || cfg.Auth.BcryptCost > bcrypt.MaxCost {
		return nil, fmt.Errorf("BCRYPT_COST must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	if cfg.Auth.TokenTTL <= 0 {
		return nil, fmt.Errorf("TOKEN_TTL must be positive")
	}
	if cfg.Auth.ResetTokenTTL <= 0 {
		return nil, fmt.Errorf("RESET_TOKEN_TTL must be positive")
	}

	switch cfg.SMTP.Encryption {
	case "starttls", "ssl", "none":
	default:
		return nil, fmt.Errorf("SMTP_ENCRYPTION must be one of starttls, ssl, none")
	}

	return cfg, nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	env := strings.ToLower(c.Env)
	return env == "development" || env == "dev" || env == "test"
}

// --- Helper functions for reading environment variables ---

// getEnv reads a string env var or returns the default.
func getEnv(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

// getEnvInt reads an integer env var or returns the default.
func getEnvInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// getEnvList reads a comma-separated env var or returns the default.
// Blank entries are dropped.
func getEnvList(key string, defaultVal []string) []string {
	val, ok := os.LookupEnv(key)
	if !ok {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnvDuration reads a duration env var (e.g., "24h") or returns the default.
// A bare integer is interpreted as seconds.
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultVal
}
