// Package main is the entry point for the SchoolHub API server. It loads
// configuration, connects to MariaDB (and Redis when configured), applies
// migrations, wires the plugins, and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/keyxmakerx/schoolhub/internal/app"
	"github.com/keyxmakerx/schoolhub/internal/config"
	"github.com/keyxmakerx/schoolhub/internal/database"
	"github.com/keyxmakerx/schoolhub/internal/jobs"
	"github.com/keyxmakerx/schoolhub/internal/metrics"
)

// shutdownTimeout is how long in-flight requests get to finish.
const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	setupLogging(cfg)

	slog.Info("starting SchoolHub",
		slog.String("env", cfg.Env),
		slog.Int("port", cfg.Port),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Connect to MariaDB ---
	db, err := database.NewMariaDB(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	slog.Info("connected to MariaDB")

	if err := database.RunMigrations(db); err != nil {
		return err
	}

	// --- Connect to Redis (optional) ---
	rdb, err := database.NewRedis(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
		slog.Info("connected to Redis")
	} else {
		slog.Warn("REDIS_URL not set, rate limits are per process")
	}

	// --- Create Application ---
	application := app.New(cfg, db, rdb, metrics.New(nil))
	application.RegisterRoutes()

	if cfg.Auth.BootstrapAdminEmail != "" {
		changed, err := application.Auth.EnsureAdmin(ctx, cfg.Auth.BootstrapAdminEmail, cfg.Auth.BootstrapAdminPassword)
		if err != nil {
			return err
		}
		if changed {
			slog.Info("bootstrap admin ensured", slog.String("email", cfg.Auth.BootstrapAdminEmail))
		}
	}

	// --- Background Jobs ---
	if cfg.Auth.ResetSweepSchedule != "" {
		sweeper, err := jobs.NewResetSweeper(application.Users, cfg.Auth.ResetSweepSchedule, application.Metrics)
		if err != nil {
			return err
		}
		sweeper.Start()
		defer func() { <-sweeper.Stop().Done() }()
	}

	// --- Start Server ---
	errCh := make(chan error, 1)
	go func() {
		errCh <- application.Start()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	// --- Graceful Shutdown ---
	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced shutdown", slog.Any("error", err))
	}
	return nil
}

// setupLogging configures the global slog logger. Development uses text
// format for readability, production uses JSON. LOG_LEVEL sets the floor.
func setupLogging(cfg *config.Config) {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}

	var handler slog.Handler
	if cfg.IsDevelopment() {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}
