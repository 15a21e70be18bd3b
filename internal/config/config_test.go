package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ENV", "development")
	t.Setenv("REDIS_URL", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, time.Hour, cfg.Auth.ResetTokenTTL)
	assert.Equal(t, 10, cfg.Auth.BcryptCost)
	assert.Equal(t, devJWTSecret, cfg.Auth.JWTSecret)
	assert.Equal(t, "starttls", cfg.SMTP.Encryption)
	assert.False(t, cfg.SMTP.Enabled())
	assert.Empty(t, cfg.Redis.URL)
	assert.Equal(t, []string{cfg.BaseURL}, cfg.HTTP.CORSOrigins)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("PORT", "9090")
	t.Setenv("BASE_URL", "https://school.example.com/")
	t.Setenv("JWT_SECRET", strings.Repeat("s", 40))
	t.Setenv("TOKEN_TTL", "2h")
	t.Setenv("RESET_TOKEN_TTL", "1800")
	t.Setenv("BCRYPT_COST", "12")
	t.Setenv("SMTP_HOST", "smtp.example.com")
	t.Setenv("SMTP_FROM_ADDRESS", "noreply@example.com")
	t.Setenv("SMTP_ENCRYPTION", "SSL")
	t.Setenv("CORS_ORIGINS", "https://school.example.com, ,https://admin.example.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "https://school.example.com", cfg.BaseURL)
	assert.Equal(t, 2*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, 30*time.Minute, cfg.Auth.ResetTokenTTL)
	assert.Equal(t, 12, cfg.Auth.BcryptCost)
	assert.Equal(t, "ssl", cfg.SMTP.Encryption)
	assert.True(t, cfg.SMTP.Enabled())
	assert.Equal(t, []string{"https://school.example.com", "https://admin.example.com"}, cfg.HTTP.CORSOrigins)
}

func TestLoad_ProductionRequiresSecret(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
}

func TestLoad_ProductionRejectsShortSecret(t *testing.T) {
	t.Setenv("ENV", "prod")
	t.Setenv("JWT_SECRET", "too-short")

	_, err := Load()
	require.Error(t, err)
}

func TestLoad_InvalidBcryptCost(t *testing.T) {
	t.Setenv("ENV", "development")
	t.Setenv("BCRYPT_COST", "99")

	_, err := Load()
	require.Error(t, err)
}

func TestLoad_InvalidEncryption(t *testing.T) {
	t.Setenv("ENV", "development")
	t.Setenv("SMTP_ENCRYPTION", "tls13")

	_, err := Load()
	require.Error(t, err)
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", User: "u", Password: "p@ss:word", Name: "school"}
	dsn := d.DSN()

	assert.Contains(t, dsn, "tcp(db:3306)")
	assert.Contains(t, dsn, "/school")
	assert.Contains(t, dsn, "parseTime=true")
	assert.Contains(t, dsn, "clientFoundRows=true")

	d.dsnOverride = "custom-dsn"
	assert.Equal(t, "custom-dsn", d.DSN())

	d.dsnOverride = "app:secret@tcp(mariadb:3306)/school"
	dsn = d.DSN()
	assert.Contains(t, dsn, "tcp(mariadb:3306)/school")
	assert.Contains(t, dsn, "clientFoundRows=true")
	assert.Contains(t, dsn, "parseTime=true")
}
