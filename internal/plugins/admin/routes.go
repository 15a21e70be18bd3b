package admin

import (
	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/schoolhub/internal/plugins/auth"
)

// RegisterRoutes sets up the admin routes. Each runs the authentication
// pipeline followed by an admin-only role gate, so an unauthenticated
// caller gets 401 and any other role gets 403.
//
// GET /users/profile is registered by the auth plugin; echo matches that
// static path before /users/:id.
func RegisterRoutes(e *echo.Echo, h *Handler, authn *auth.Authenticator) {
	adminOnly := auth.Protect(authn, auth.RequireRoles(auth.RoleAdmin))

	e.GET("/users", h.ListUsers, adminOnly)
	e.PUT("/users/:id", h.UpdateUser, adminOnly)
	e.DELETE("/users/:id", h.DeleteUser, adminOnly)

	e.GET("/security-events", h.SecurityEvents, adminOnly)
}
