// Package app is the application bootstrap and dependency injection root.
// It holds the shared infrastructure (DB pool, optional Redis client,
// metrics, Echo instance) and wires the plugins onto it.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/keyxmakerx/schoolhub/internal/config"
	"github.com/keyxmakerx/schoolhub/internal/metrics"
	"github.com/keyxmakerx/schoolhub/internal/middleware"
	"github.com/keyxmakerx/schoolhub/internal/plugins/auth"
)

// App holds all shared dependencies and the Echo HTTP server instance.
// Created once at startup in main.go and used to register all routes.
type App struct {
	// Config holds the loaded application configuration.
	Config *config.Config

	// DB is the MariaDB connection pool shared by all plugins.
	DB *sql.DB

	// Redis backs the shared rate-limit counters. Nil when REDIS_URL is
	// unset.
	Redis *redis.Client

	// Metrics is the Prometheus collector set served on /metrics.
	Metrics *metrics.Metrics

	// Echo is the HTTP server instance.
	Echo *echo.Echo

	// Set by RegisterRoutes.
	Users auth.UserRepository
	Auth  auth.AuthService
}

// New creates a new App instance with the given dependencies and configures
// the Echo server with global middleware and error handling.
func New(cfg *config.Config, db *sql.DB, rdb *redis.Client, m *metrics.Metrics) *App {
	e := echo.New()

	// Disable Echo's default banner and startup message -- we log our own.
	e.HideBanner = true
	e.HidePort = true

	// c.RealIP() is the rate-limit key, so only listed proxies may set
	// X-Forwarded-For.
	middleware.TrustedProxies(e, cfg.HTTP.TrustedProxies)

	app := &App{
		Config:  cfg,
		DB:      db,
		Redis:   rdb,
		Metrics: m,
		Echo:    e,
	}

	app.setupMiddleware()
	e.HTTPErrorHandler = middleware.ErrorHandler

	return app
}

// setupMiddleware registers global middleware on the Echo instance.
// Order matters: outermost (recovery) runs first.
func (a *App) setupMiddleware() {
	// Panic recovery -- must be outermost to catch panics from all other middleware.
	a.Echo.Use(middleware.Recovery())

	// Request ID before logging so every log line carries it.
	a.Echo.Use(echomw.RequestID())

	// Request logging -- one line per request with route, status, latency.
	a.Echo.Use(middleware.RequestLogger())

	a.Echo.Use(middleware.SecurityHeaders())

	// Bodies on this API are small JSON documents.
	a.Echo.Use(echomw.BodyLimit("64K"))

	a.Echo.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: a.Config.HTTP.CORSOrigins,
	}))
}

// Start begins listening for HTTP requests on the configured port.
func (a *App) Start() error {
	addr := fmt.Sprintf(":%d", a.Config.Port)
	slog.Info("starting SchoolHub server",
		slog.String("addr", addr),
		slog.String("env", a.Config.Env),
	)
	return a.Echo.Start(addr)
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx expires.
func (a *App) Shutdown(ctx context.Context) error {
	return a.Echo.Shutdown(ctx)
}
