// Package auth is the authentication and role-authorization core of
// schoolhub. It owns the user credential store, password hashing, bearer
// token issuance and verification, the password-reset lifecycle, and the
// gates that protect every other route.
//
// This is a CORE plugin -- always enabled, cannot be disabled.
package auth

import (
	"time"
)

// Role is the single role a user holds. It decides every authorization outcome.
type Role string

const (
	RoleStudent Role = "student"
	RoleParent  Role = "parent"
	RoleTeacher Role = "teacher"
	RoleAdmin   Role = "admin"
)

// Roles lists every valid role, in the order they appear in the schema ENUM.
var Roles = []Role{RoleStudent, RoleParent, RoleTeacher, RoleAdmin}

// Valid reports whether r is one of the four known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleParent, RoleTeacher, RoleAdmin:
		return true
	}
	return false
}

// ParseRole converts user input to a Role. An empty string yields the default
// role (student).
func ParseRole(s string) (Role, bool) {
	if s == "" {
		return RoleStudent, true
	}
	r := Role(s)
	return r, r.Valid()
}

// User is a persisted user record. Credential and reset fields never leave
// the server: they are excluded from JSON and from Principal.
type User struct {
	ID                  string     `json:"id"`
	Email               string     `json:"email"`
	FirstName           string     `json:"firstName"`
	LastName            string     `json:"lastName"`
	Role                Role       `json:"role"`
	PasswordHash        string     `json:"-"`
	ResetTokenHash      *string    `json:"-"`
	ResetTokenExpiresAt *time.Time `json:"-"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
	LastLoginAt         *time.Time `json:"lastLoginAt,omitempty"`
}

// Principal is the authenticated identity attached to a request by the
// authentication gate: the user's profile without any credential material.
type Principal struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	FirstName   string     `json:"firstName"`
	LastName    string     `json:"lastName"`
	Role        Role       `json:"role"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
}

// Principal strips credential fields from the user record.
func (u *User) Principal() *Principal {
	return &Principal{
		ID:          u.ID,
		Email:       u.Email,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		Role:        u.Role,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
		LastLoginAt: u.LastLoginAt,
	}
}

// --- Request DTOs (bound from HTTP requests) ---

// RegisterRequest is the POST /register body.
type RegisterRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	Role      string `json:"role"`
}

// LoginRequest is the POST /login body.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ForgotPasswordRequest is the POST /forgot-password body.
type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

// ResetPasswordRequest is the PUT /reset-password/:token body.
type ResetPasswordRequest struct {
	NewPassword string `json:"newPassword"`
}

// ChangePasswordRequest is the PUT /users/change-password body.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// UpdateProfileRequest is a partial profile update. Nil fields are left as is.
type UpdateProfileRequest struct {
	FirstName *string `json:"firstName"`
	LastName  *string `json:"lastName"`
	Email     *string `json:"email"`
}

// --- Service Input DTOs (passed from handler to service) ---

// RegisterInput is the validated input for creating a new user.
type RegisterInput struct {
	FirstName string
	LastName  string
	Email     string
	Password  string
	Role      Role
}

// LoginInput is the validated input for authenticating a user.
type LoginInput struct {
	Email    string
	Password string
}

// UserUpdate is a partial update applied in a single statement. Nil fields
// keep their stored value.
type UserUpdate struct {
	FirstName *string
	LastName  *string
	Email     *string
	Role      *Role
}

// Empty reports whether the update would change nothing.
func (u UserUpdate) Empty() bool {
	return u.FirstName == nil && u.LastName == nil && u.Email == nil && u.Role == nil
}

// --- Responses ---

// AuthResult is returned by register and login: the principal plus a freshly
// issued bearer token.
type AuthResult struct {
	User      *Principal `json:"user"`
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expiresAt"`
}
