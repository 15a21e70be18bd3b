package admin

import (
	"time"

	"github.com/keyxmakerx/schoolhub/internal/plugins/auth"
)

// Security event types follow the "resource.verb" pattern so they can be
// filtered by prefix.
const (
	EventUserUpdated     = "user.updated"
	EventUserRoleChanged = "user.role_changed"
	EventUserDeleted     = "user.deleted"
)

// SecurityEvent records one administrative action on a user account. The
// target user may since have been deleted, so UserID is not a foreign key.
type SecurityEvent struct {
	ID        int64          `json:"id"`
	EventType string         `json:"eventType"`
	UserID    string         `json:"userId"`
	ActorID   string         `json:"actorId"` // Admin who performed the action.
	IPAddress string         `json:"ipAddress"`
	UserAgent string         `json:"userAgent,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// userListResponse is the GET /users body.
type userListResponse struct {
	Users   []*auth.Principal `json:"users"`
	Total   int               `json:"total"`
	Page    int               `json:"page"`
	PerPage int               `json:"perPage"`
}

// eventListResponse is the GET /security-events body.
type eventListResponse struct {
	Events  []SecurityEvent `json:"events"`
	Total   int             `json:"total"`
	Page    int             `json:"page"`
	PerPage int             `json:"perPage"`
}

// UpdateUserRequest is the PUT /users/:id body. Nil fields are left as is.
type UpdateUserRequest struct {
	FirstName *string `json:"firstName"`
	LastName  *string `json:"lastName"`
	Email     *string `json:"email"`
	Role      *string `json:"role"`
}
