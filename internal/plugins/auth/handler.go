package auth

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/schoolhub/internal/apperror"
)

// forgotPasswordMessage is returned whether or not the account exists.
const forgotPasswordMessage = "if an account exists for that email, a reset link has been sent"

// Handler handles HTTP requests for registration, login, password reset and
// the caller's own account. Handlers are thin: they bind the request, call
// the service, and write JSON. No business logic lives here.
type Handler struct {
	service AuthService
}

// NewHandler creates a new auth handler with the given service.
func NewHandler(service AuthService) *Handler {
	return &Handler{service: service}
}

// messageResponse is the body of endpoints that return no resource.
type messageResponse struct {
	Message string `json:"message"`
}

// profileResponse wraps a principal.
type profileResponse struct {
	User *Principal `json:"user"`
}

// Register creates an account and signs it in (POST /register).
func (h *Handler) Register(c echo.Context) error {
	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	role, ok := ParseRole(req.Role)
	if !ok {
		return apperror.NewBadRequest("invalid role")
	}

	result, err := h.service.Register(c.Request().Context(), RegisterInput{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Password:  req.Password,
		Role:      role,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, result)
}

// Login exchanges credentials for a bearer token (POST /login).
func (h *Handler) Login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	result, err := h.service.Login(c.Request().Context(), LoginInput{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, result)
}

// --- Password Reset ---

// ForgotPassword starts a password reset (POST /forgot-password). The
// response is identical for known and unknown emails, and for delivery
// failures, which are only logged.
func (h *Handler) ForgotPassword(c echo.Context) error {
	var req ForgotPasswordRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	if err := h.service.InitiatePasswordReset(c.Request().Context(), req.Email); err != nil {
		slog.Error("password reset request failed", slog.Any("error", err))
	}

	return c.JSON(http.StatusOK, messageResponse{Message: forgotPasswordMessage})
}

// ResetPassword completes a reset with the emailed token
// (PUT /reset-password/:token).
func (h *Handler) ResetPassword(c echo.Context) error {
	var req ResetPasswordRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	if err := h.service.ResetPassword(c.Request().Context(), c.Param("token"), req.NewPassword); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, messageResponse{Message: "password has been reset"})
}

// --- Own Account ---

// GetProfile returns the caller (GET /users/profile). The pipeline loaded
// the principal fresh for this request.
func (h *Handler) GetProfile(c echo.Context) error {
	p := GetPrincipal(c)
	if p == nil {
		return apperror.NewUnauthorized("not authorized")
	}
	return c.JSON(http.StatusOK, profileResponse{User: p})
}

// UpdateProfile applies a partial update to the caller (PUT /users/profile).
func (h *Handler) UpdateProfile(c echo.Context) error {
	userID := GetUserID(c)
	if userID == "" {
		return apperror.NewUnauthorized("not authorized")
	}

	var req UpdateProfileRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	p, err := h.service.UpdateProfile(c.Request().Context(), userID, req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, profileResponse{User: p})
}

// ChangePassword replaces the caller's password (PUT /users/change-password).
func (h *Handler) ChangePassword(c echo.Context) error {
	userID := GetUserID(c)
	if userID == "" {
		return apperror.NewUnauthorized("not authorized")
	}

	var req ChangePasswordRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	if err := h.service.ChangePassword(c.Request().Context(), userID, req.CurrentPassword, req.NewPassword); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, messageResponse{Message: "password changed"})
}
