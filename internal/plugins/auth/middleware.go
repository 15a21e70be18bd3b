package auth

import (
	"github.com/labstack/echo/v4"
)

// contextKeyPrincipal is where the pipeline stores the authenticated
// principal. Other plugins read it through GetPrincipal.
const contextKeyPrincipal = "auth_principal"

// --- Exported getters for other plugins ---

// GetPrincipal retrieves the authenticated principal from the Echo context.
// Returns nil if the request did not pass through a Pipeline.
func GetPrincipal(c echo.Context) *Principal {
	p, _ := c.Get(contextKeyPrincipal).(*Principal)
	return p
}

// GetUserID returns the authenticated user's ID, or "" if none.
func GetUserID(c echo.Context) string {
	if p := GetPrincipal(c); p != nil {
		return p.ID
	}
	return ""
}
