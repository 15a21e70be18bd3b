package smtp

import (
	"fmt"
	"net/http"
	"net/mail"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/schoolhub/internal/apperror"
	"github.com/keyxmakerx/schoolhub/internal/plugins/auth"
)

const (
	testSubject = "SchoolHub SMTP test"
	testBody    = "This is a test message from SchoolHub. If you can read it, outgoing mail works."
)

// Handler handles the admin mail routes.
// Admin-only -- all routes run behind the admin role gate.
type Handler struct {
	mailer *Mailer
}

// NewHandler creates a new SMTP handler.
func NewHandler(mailer *Mailer) *Handler {
	return &Handler{mailer: mailer}
}

// Settings returns the active mail configuration (GET /admin/smtp).
func (h *Handler) Settings(c echo.Context) error {
	return c.JSON(http.StatusOK, h.mailer.Settings())
}

// TestConnection sends a test message (POST /admin/smtp/test). The message
// goes to the calling admin unless the body names another address.
func (h *Handler) TestConnection(c echo.Context) error {
	var req TestMailRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	to := auth.GetPrincipal(c).Email
	if req.To != "" {
		addr, err := mail.ParseAddress(req.To)
		if err != nil {
			return apperror.NewBadRequest("invalid recipient address")
		}
		to = addr.Address
	}

	if !h.mailer.IsConfigured(c.Request().Context()) {
		return apperror.NewBadRequest("SMTP is not configured")
	}

	if err := h.mailer.SendMail(c.Request().Context(), []string{to}, testSubject, testBody); err != nil {
		// Admins see the server's reply; it is their own configuration.
		return &apperror.AppError{
			Code:     http.StatusBadGateway,
			Type:     "smtp_failed",
			Message:  fmt.Sprintf("connection failed: %v", err),
			Internal: err,
		}
	}

	return c.JSON(http.StatusOK, map[string]string{"message": "test message sent to " + to})
}
