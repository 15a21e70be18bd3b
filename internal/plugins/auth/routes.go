package auth

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/keyxmakerx/schoolhub/internal/middleware"
)

// RateLimits holds per-IP requests per minute for the public endpoints.
type RateLimits struct {
	Login    int
	Register int
	Forgot   int
}

// RegisterRoutes sets up the auth routes. Register, login and the reset
// endpoints are public; the public POSTs are rate-limited per IP, shared
// through rdb when it is set. The /users/profile and /users/change-password
// routes run the authentication pipeline.
func RegisterRoutes(e *echo.Echo, h *Handler, authn *Authenticator, rdb *redis.Client, limits RateLimits) {
	e.POST("/register", h.Register, middleware.RateLimit(rdb, "register", limits.Register, time.Minute))
	e.POST("/login", h.Login, middleware.RateLimit(rdb, "login", limits.Login, time.Minute))
	e.POST("/forgot-password", h.ForgotPassword, middleware.RateLimit(rdb, "forgot", limits.Forgot, time.Minute))
	e.PUT("/reset-password/:token", h.ResetPassword)

	authenticated := Protect(authn)
	e.GET("/users/profile", h.GetProfile, authenticated)
	e.PUT("/users/profile", h.UpdateProfile, authenticated)
	e.PUT("/users/change-password", h.ChangePassword, authenticated)
}
