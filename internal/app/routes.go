package app

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/schoolhub/internal/plugins/admin"
	"github.com/keyxmakerx/schoolhub/internal/plugins/auth"
	"github.com/keyxmakerx/schoolhub/internal/plugins/smtp"
)

// healthTimeout bounds each dependency check in /healthz.
const healthTimeout = 2 * time.Second

// healthResponse is the /healthz body. Checks maps each dependency to "ok"
// or its error text.
type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// RegisterRoutes builds the plugins and sets up all application routes.
// The auth service and user repository are kept on the App so main can run
// the admin bootstrap and the reset sweep against them.
//
// This is the single place where all routes are aggregated. When a new
// plugin is added, its routes are registered here.
func (a *App) RegisterRoutes() {
	e := a.Echo

	// --- Infrastructure ---
	e.GET("/healthz", a.healthz)
	e.HEAD("/healthz", a.healthz)
	if a.Metrics != nil {
		e.GET("/metrics", a.Metrics.Handler())
	}

	// --- Plugins ---
	users := auth.NewUserRepository(a.DB)
	tokens := auth.NewTokenIssuer(a.Config.Auth.JWTSecret, a.Config.Auth.JWTIssuer, a.Config.Auth.TokenTTL)
	svc := auth.NewAuthService(users, auth.NewPasswordHasher(a.Config.Auth.BcryptCost), tokens, a.Config.Auth.ResetTokenTTL, a.Metrics)
	mailer := smtp.NewMailer(a.Config.SMTP)
	auth.ConfigureMailSender(svc, mailer, a.Config.BaseURL)

	authn := auth.NewAuthenticator(tokens, users, a.Metrics)

	// auth plugin (public: register, login, password reset; own profile)
	auth.RegisterRoutes(e, auth.NewHandler(svc), authn, a.Redis, auth.RateLimits{
		Login:    a.Config.RateLimit.Login,
		Register: a.Config.RateLimit.Register,
		Forgot:   a.Config.RateLimit.Forgot,
	})

	// admin plugin (user management and the security event log)
	admin.RegisterRoutes(e, admin.NewHandler(users, admin.NewSecurityService(admin.NewSecurityEventRepository(a.DB))), authn)

	// smtp plugin (admin: mail settings and test send)
	smtp.RegisterRoutes(e, smtp.NewHandler(mailer), authn)

	a.Users = users
	a.Auth = svc
}

// healthz reports whether the database and, when configured, Redis answer.
func (a *App) healthz(c echo.Context) error {
	ctx := c.Request().Context()
	resp := healthResponse{Status: "ok", Checks: map[string]string{}}

	check := func(name string, ping func(context.Context) error) {
		pctx, cancel := context.WithTimeout(ctx, healthTimeout)
		defer cancel()
		if err := ping(pctx); err != nil {
			resp.Status = "unavailable"
			resp.Checks[name] = err.Error()
			return
		}
		resp.Checks[name] = "ok"
	}

	check("database", a.DB.PingContext)
	if a.Redis != nil {
		check("redis", func(ctx context.Context) error {
			return a.Redis.Ping(ctx).Err()
		})
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	if c.Request().Method == http.MethodHead {
		return c.NoContent(status)
	}
	return c.JSON(status, resp)
}
