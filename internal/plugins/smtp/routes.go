package smtp

import (
	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/schoolhub/internal/plugins/auth"
)

// RegisterRoutes sets up the admin mail routes behind the authentication
// pipeline and the admin role gate.
func RegisterRoutes(e *echo.Echo, h *Handler, authn *auth.Authenticator) {
	g := e.Group("/admin/smtp", auth.Protect(authn, auth.RequireRoles(auth.RoleAdmin)))
	g.GET("", h.Settings)
	g.POST("/test", h.TestConnection)
}
