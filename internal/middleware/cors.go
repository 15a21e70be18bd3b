package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// CORSConfig holds configuration for the CORS middleware.
type CORSConfig struct {
	// AllowedOrigins lists the browser origins (e.g. the dashboard's URL)
	// permitted to call the API. "*" allows any origin.
	AllowedOrigins []string
}

// CORS answers preflight requests and tags responses for allowed origins.
// Bearer tokens travel in the Authorization header, not cookies, so
// credentials mode is never enabled.
func CORS(cfg CORSConfig) echo.MiddlewareFunc {
	allowAll := false
	originSet := make(map[string]bool, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		if o == "*" {
			allowAll = true
		}
		originSet[strings.TrimRight(o, "/")] = true
	}

	allowMethods := strings.Join([]string{
		http.MethodGet,
		http.MethodPost,
		http.MethodPut,
		http.MethodDelete,
		http.MethodOptions,
	}, ", ")
	allowHeaders := strings.Join([]string{
		echo.HeaderAuthorization,
		echo.HeaderContentType,
		echo.HeaderAccept,
		echo.HeaderXRequestID,
	}, ", ")

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			res := c.Response()
			origin := req.Header.Get(echo.HeaderOrigin)

			// Same-origin or non-browser caller.
			if origin == "" {
				return next(c)
			}

			res.Header().Add(echo.HeaderVary, echo.HeaderOrigin)
			if !allowAll && !originSet[origin] {
				// The browser blocks the response without the allow header.
				return next(c)
			}

			res.Header().Set(echo.HeaderAccessControlAllowOrigin, origin)

			if req.Method == http.MethodOptions {
				res.Header().Set(echo.HeaderAccessControlAllowMethods, allowMethods)
				res.Header().Set(echo.HeaderAccessControlAllowHeaders, allowHeaders)
				res.Header().Set(echo.HeaderAccessControlMaxAge, "3600")
				return c.NoContent(http.StatusNoContent)
			}

			res.Header().Set(echo.HeaderAccessControlExposeHeaders, "Retry-After, "+echo.HeaderXRequestID)
			return next(c)
		}
	}
}
