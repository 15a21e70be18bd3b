// Package admin provides user management for site admins. Every route is
// mounted behind the authentication pipeline with an admin-only role gate;
// the self-action and last-admin policies are checked here, per handler,
// because the gates cannot see the target of a request.
package admin

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/schoolhub/internal/apperror"
	"github.com/keyxmakerx/schoolhub/internal/plugins/auth"
)

const (
	defaultPerPage = 25
	maxPerPage     = 100
)

// Handler handles admin HTTP requests. It works on the auth plugin's
// repository directly; there is no admin-specific business logic beyond
// the policies.
type Handler struct {
	users  auth.UserRepository
	events SecurityService
}

// NewHandler creates a new admin handler. events may be nil, in which case
// admin actions are only logged.
func NewHandler(users auth.UserRepository, events SecurityService) *Handler {
	return &Handler{users: users, events: events}
}

// --- Users ---

// ListUsers returns a page of users (GET /users?page=&perPage=).
func (h *Handler) ListUsers(c echo.Context) error {
	page, perPage, err := pagination(c)
	if err != nil {
		return err
	}

	users, total, err := h.users.ListUsers(c.Request().Context(), (page-1)*perPage, perPage)
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("listing users: %w", err))
	}

	resp := userListResponse{Users: make([]*auth.Principal, 0, len(users)), Total: total, Page: page, PerPage: perPage}
	for i := range users {
		resp.Users = append(resp.Users, users[i].Principal())
	}
	return c.JSON(http.StatusOK, resp)
}

// UpdateUser applies a partial update to any user, including their role
// (PUT /users/:id). An admin cannot demote themselves or the last admin.
func (h *Handler) UpdateUser(c echo.Context) error {
	ctx := c.Request().Context()
	actor := auth.GetPrincipal(c)
	targetID := c.Param("id")

	var req UpdateUserRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	upd, err := auth.NewUserUpdate(req.FirstName, req.LastName, req.Email, req.Role)
	if err != nil {
		return err
	}
	if upd.Empty() {
		return apperror.NewBadRequest("no fields to update")
	}

	if err := auth.Enforce(auth.ForbidSelfDemotion(actor, targetID, upd.Role)); err != nil {
		return err
	}

	target, err := h.users.FindByID(ctx, targetID)
	if err != nil {
		return passThrough(err, "finding user")
	}

	if upd.Role != nil && target.Role == auth.RoleAdmin && *upd.Role != auth.RoleAdmin {
		admins, err := h.users.CountAdmins(ctx)
		if err != nil {
			return apperror.NewInternal(fmt.Errorf("counting admins: %w", err))
		}
		if err := auth.Enforce(auth.ForbidLastAdmin(target, admins, false, upd.Role)); err != nil {
			return err
		}
	}

	if err := h.users.Update(ctx, targetID, upd); err != nil {
		return passThrough(err, "updating user")
	}

	updated, err := h.users.FindByID(ctx, targetID)
	if err != nil {
		return passThrough(err, "reloading user")
	}

	details := map[string]any{}
	if upd.Role != nil && *upd.Role != target.Role {
		details["from_role"] = string(target.Role)
		details["to_role"] = string(*upd.Role)
		h.record(c, EventUserRoleChanged, targetID, details)
	} else {
		h.record(c, EventUserUpdated, targetID, nil)
	}

	slog.Info("admin updated user",
		slog.String("target_user", targetID),
		slog.String("by", actor.ID),
	)

	return c.JSON(http.StatusOK, map[string]*auth.Principal{"user": updated.Principal()})
}

// DeleteUser removes a user (DELETE /users/:id). An admin cannot delete
// their own account or the last admin.
func (h *Handler) DeleteUser(c echo.Context) error {
	ctx := c.Request().Context()
	actor := auth.GetPrincipal(c)
	targetID := c.Param("id")

	// Checked before the lookup so self-deletion is 403 even if the row is
	// gone.
	if err := auth.Enforce(auth.ForbidSelf(actor, targetID, "delete")); err != nil {
		return err
	}

	target, err := h.users.FindByID(ctx, targetID)
	if err != nil {
		return passThrough(err, "finding user")
	}

	if target.Role == auth.RoleAdmin {
		admins, err := h.users.CountAdmins(ctx)
		if err != nil {
			return apperror.NewInternal(fmt.Errorf("counting admins: %w", err))
		}
		if err := auth.Enforce(auth.ForbidLastAdmin(target, admins, true, nil)); err != nil {
			return err
		}
	}

	if err := h.users.Delete(ctx, targetID); err != nil {
		return passThrough(err, "deleting user")
	}

	h.record(c, EventUserDeleted, targetID, map[string]any{
		"email": target.Email,
		"role":  string(target.Role),
	})
	slog.Info("admin deleted user",
		slog.String("target_user", targetID),
		slog.String("by", actor.ID),
	)

	return c.JSON(http.StatusOK, map[string]string{"message": "user deleted"})
}

// --- Security Events ---

// SecurityEvents returns a page of recorded admin actions
// (GET /security-events?type=&page=&perPage=).
func (h *Handler) SecurityEvents(c echo.Context) error {
	if h.events == nil {
		return apperror.NewNotFound("security events are not enabled")
	}

	page, perPage, err := pagination(c)
	if err != nil {
		return err
	}

	events, total, err := h.events.ListEvents(c.Request().Context(), c.QueryParam("type"), perPage, (page-1)*perPage)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, eventListResponse{Events: events, Total: total, Page: page, PerPage: perPage})
}

// record stores a security event. Failures are logged, never returned: the
// action itself already succeeded.
func (h *Handler) record(c echo.Context, eventType, userID string, details map[string]any) {
	if h.events == nil {
		return
	}
	event := &SecurityEvent{
		EventType: eventType,
		UserID:    userID,
		ActorID:   auth.GetUserID(c),
		IPAddress: c.RealIP(),
		UserAgent: c.Request().UserAgent(),
		Details:   details,
	}
	// The request context may already be cancelled by a disconnecting client.
	if err := h.events.LogEvent(context.WithoutCancel(c.Request().Context()), event); err != nil {
		slog.Warn("failed to record security event",
			slog.String("event_type", eventType),
			slog.String("target_user", userID),
			slog.Any("error", err),
		)
	}
}

// --- Helpers ---

// pagination reads the page and perPage query parameters.
func pagination(c echo.Context) (page, perPage int, err error) {
	page, perPage = 1, defaultPerPage
	if v := c.QueryParam("page"); v != "" {
		if page, err = strconv.Atoi(v); err != nil || page < 1 {
			return 0, 0, apperror.NewBadRequest("page must be a positive integer")
		}
	}
	if v := c.QueryParam("perPage"); v != "" {
		if perPage, err = strconv.Atoi(v); err != nil || perPage < 1 {
			return 0, 0, apperror.NewBadRequest("perPage must be a positive integer")
		}
		perPage = min(perPage, maxPerPage)
	}
	return page, perPage, nil
}

// passThrough returns AppErrors unchanged and wraps anything else as a 500.
func passThrough(err error, op string) error {
	if apperror.SafeCode(err) != http.StatusInternalServerError {
		return err
	}
	return apperror.NewInternal(fmt.Errorf("%s: %w", op, err))
}
