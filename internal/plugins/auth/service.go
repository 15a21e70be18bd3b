package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/keyxmakerx/schoolhub/internal/apperror"
	"github.com/keyxmakerx/schoolhub/internal/metrics"
	"github.com/keyxmakerx/schoolhub/internal/sanitize"
)

// resetTokenBytes is the number of random bytes in a password reset token.
// 32 bytes = 256 bits of entropy, hex-encoded to 64 characters.
const resetTokenBytes = 32

// Client-facing messages. Login failures never reveal which half was wrong.
const (
	msgInvalidCredentials = "invalid email or password"
	msgInvalidResetToken  = "invalid or expired reset token"
	msgExpiredResetToken  = "reset token has expired"
)

// Field limits.
const (
	minPasswordLength = 8
	maxNameLength     = 100
	maxEmailLength    = 255
)

// MailSender is the subset of the SMTP plugin the reset flow needs. Defined
// here so the auth plugin does not import smtp.
type MailSender interface {
	SendMail(ctx context.Context, to []string, subject, body string) error
	IsConfigured(ctx context.Context) bool
}

// AuthService defines the business logic contract for authentication.
// Handlers call these methods -- they never touch the repository directly.
type AuthService interface {
	Register(ctx context.Context, input RegisterInput) (*AuthResult, error)
	Login(ctx context.Context, input LoginInput) (*AuthResult, error)

	// Password reset.
	InitiatePasswordReset(ctx context.Context, email string) error
	ValidateResetToken(ctx context.Context, token string) (*Principal, error)
	ResetPassword(ctx context.Context, token, newPassword string) error

	// Own account.
	GetProfile(ctx context.Context, userID string) (*Principal, error)
	UpdateProfile(ctx context.Context, userID string, req UpdateProfileRequest) (*Principal, error)
	ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error

	// EnsureAdmin creates or promotes the given account to admin if no admin
	// exists yet. Returns true if anything was changed.
	EnsureAdmin(ctx context.Context, email, password string) (bool, error)
}

// authService implements AuthService with bcrypt hashing and HS256 tokens.
type authService struct {
	repo     UserRepository
	hasher   *PasswordHasher
	tokens   *TokenIssuer
	resetTTL time.Duration
	metrics  *metrics.Metrics
	now      func() time.Time

	// Set by ConfigureMailSender. Without a mailer reset tokens are still
	// stored but never delivered.
	mail    MailSender
	baseURL string
}

// NewAuthService creates a new auth service with the given dependencies.
// m may be nil.
func NewAuthService(repo UserRepository, hasher *PasswordHasher, tokens *TokenIssuer, resetTTL time.Duration, m *metrics.Metrics) AuthService {
	return &authService{
		repo:     repo,
		hasher:   hasher,
		tokens:   tokens,
		resetTTL: resetTTL,
		metrics:  m,
		now:      time.Now,
	}
}

// ConfigureMailSender wires the mailer and the public base URL used to build
// reset links. Called after both the auth and smtp plugins are constructed.
func ConfigureMailSender(svc AuthService, sender MailSender, baseURL string) {
	if s, ok := svc.(*authService); ok {
		s.mail = sender
		s.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// Register creates a new user account and signs it in. The email is checked
// for uniqueness before the password is hashed; the unique index catches the
// race between two concurrent registrations.
func (s *authService) Register(ctx context.Context, input RegisterInput) (*AuthResult, error) {
	if msg := validateRegisterInput(&input); msg != "" {
		return nil, apperror.NewBadRequest(msg)
	}
	if input.Role == RoleAdmin {
		return nil, apperror.NewBadRequest("invalid role for self-registration: admin accounts are granted by an admin")
	}

	user, err := s.createUser(ctx, input)
	if err != nil {
		return nil, err
	}

	slog.Info("user registered",
		slog.String("user_id", user.ID),
		slog.String("email", user.Email),
		slog.String("role", string(user.Role)),
	)

	return s.authResult(user)
}

// Login authenticates a user by email and password and issues a token.
func (s *authService) Login(ctx context.Context, input LoginInput) (*AuthResult, error) {
	email := NormalizeEmail(input.Email)
	if email == "" || input.Password == "" {
		return nil, apperror.NewBadRequest("email and password are required")
	}

	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if apperror.IsNotFound(err) {
			// Pay the same bcrypt cost as a wrong password.
			s.hasher.VerifyAbsent(input.Password)
			s.metrics.Login("failure")
			return nil, apperror.NewUnauthorized(msgInvalidCredentials)
		}
		return nil, apperror.NewInternal(fmt.Errorf("finding user: %w", err))
	}

	if !s.hasher.Verify(input.Password, user.PasswordHash) {
		s.metrics.Login("failure")
		slog.Info("login failed", slog.String("user_id", user.ID))
		return nil, apperror.NewUnauthorized(msgInvalidCredentials)
	}

	result, err := s.authResult(user)
	if err != nil {
		return nil, err
	}

	// Best effort; a failed timestamp write must not fail the login.
	if err := s.repo.UpdateLastLogin(ctx, user.ID); err != nil {
		slog.Warn("failed to update last login",
			slog.String("user_id", user.ID),
			slog.Any("error", err),
		)
	} else {
		now := s.now().UTC()
		result.User.LastLoginAt = &now
	}

	s.metrics.Login("success")
	slog.Info("user logged in",
		slog.String("user_id", user.ID),
		slog.String("email", user.Email),
	)

	return result, nil
}

// --- Password Reset ---

// InitiatePasswordReset stores a fresh reset token for the account and emails
// the link. An unknown email is not an error and changes nothing, so callers
// cannot tell registered addresses apart. A second request replaces the
// first token.
func (s *authService) InitiatePasswordReset(ctx context.Context, email string) error {
	email = NormalizeEmail(email)
	if email == "" {
		return nil
	}

	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if apperror.IsNotFound(err) {
			slog.Debug("password reset requested for unknown email")
			return nil
		}
		return apperror.NewInternal(fmt.Errorf("finding user for reset: %w", err))
	}

	token, err := generateResetToken()
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("generating reset token: %w", err))
	}

	expiresAt := s.now().UTC().Add(s.resetTTL)
	if err := s.repo.SetResetToken(ctx, user.ID, hashToken(token), expiresAt); err != nil {
		return apperror.NewInternal(fmt.Errorf("storing reset token: %w", err))
	}
	s.metrics.PasswordReset("requested")

	if s.mail == nil || !s.mail.IsConfigured(ctx) {
		slog.Warn("password reset requested but mail is not configured",
			slog.String("user_id", user.ID),
		)
		return nil
	}

	link := fmt.Sprintf("%s/reset-password/%s", s.baseURL, token)
	body := fmt.Sprintf(
		"Hello %s,\r\n\r\n"+
			"A password reset was requested for your SchoolHub account.\r\n"+
			"Use the link below to choose a new password. It expires in %s.\r\n\r\n"+
			"%s\r\n\r\n"+
			"If you did not request this, you can ignore this email.\r\n",
		user.FirstName, s.resetTTL, link,
	)

	if err := s.mail.SendMail(ctx, []string{user.Email}, "Reset your SchoolHub password", body); err != nil {
		return apperror.NewInternal(fmt.Errorf("sending reset email: %w", err))
	}

	slog.Info("password reset email sent", slog.String("user_id", user.ID))
	return nil
}

// ValidateResetToken resolves a raw reset token to its account. A token whose
// hash matches but whose window has passed is rejected with its own message,
// and its fields are cleared.
func (s *authService) ValidateResetToken(ctx context.Context, token string) (*Principal, error) {
	user, err := s.resolveReset(ctx, token)
	if err != nil {
		return nil, err
	}
	return user.Principal(), nil
}

// ResetPassword re-resolves the token, then stores the new hash and clears
// the reset fields in one conditional update. If the update matches no row
// the token was consumed or replaced in the meantime and nothing changes.
func (s *authService) ResetPassword(ctx context.Context, token, newPassword string) error {
	if msg := validatePassword(newPassword); msg != "" {
		return apperror.NewBadRequest(msg)
	}

	user, err := s.resolveReset(ctx, token)
	if err != nil {
		return err
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("hashing password: %w", err))
	}

	ok, err := s.repo.ConsumeResetToken(ctx, user.ID, hashToken(token), hash, s.now().UTC())
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("consuming reset token: %w", err))
	}
	if !ok {
		s.metrics.PasswordReset("rejected")
		return apperror.NewBadRequest(msgInvalidResetToken)
	}

	s.metrics.PasswordReset("completed")
	slog.Info("password reset completed", slog.String("user_id", user.ID))
	return nil
}

func (s *authService) resolveReset(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, apperror.NewBadRequest(msgInvalidResetToken)
	}

	tokenHash := hashToken(token)
	user, err := s.repo.FindByResetTokenHash(ctx, tokenHash)
	if err != nil {
		if apperror.IsNotFound(err) {
			s.metrics.PasswordReset("rejected")
			return nil, apperror.NewBadRequest(msgInvalidResetToken)
		}
		return nil, apperror.NewInternal(fmt.Errorf("finding reset token: %w", err))
	}

	if user.ResetTokenExpiresAt == nil || !s.now().Before(*user.ResetTokenExpiresAt) {
		if err := s.repo.ClearResetToken(ctx, user.ID, tokenHash); err != nil {
			slog.Warn("failed to clear expired reset token",
				slog.String("user_id", user.ID),
				slog.Any("error", err),
			)
		}
		s.metrics.PasswordReset("expired")
		return nil, apperror.NewBadRequest(msgExpiredResetToken)
	}

	return user, nil
}

// --- Own Account ---

// GetProfile returns the caller's profile without credential fields.
func (s *authService) GetProfile(ctx context.Context, userID string) (*Principal, error) {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return nil, passThrough(err, "finding user")
	}
	return user.Principal(), nil
}

// UpdateProfile applies a partial update of name and email. Role is not
// self-editable.
func (s *authService) UpdateProfile(ctx context.Context, userID string, req UpdateProfileRequest) (*Principal, error) {
	upd, err := NewUserUpdate(req.FirstName, req.LastName, req.Email, nil)
	if err != nil {
		return nil, err
	}

	if !upd.Empty() {
		if err := s.repo.Update(ctx, userID, upd); err != nil {
			return nil, passThrough(err, "updating profile")
		}
		slog.Info("profile updated", slog.String("user_id", userID))
	}

	return s.GetProfile(ctx, userID)
}

// ChangePassword verifies the current password and stores the new hash,
// guarded on the stored hash not having changed since it was verified.
func (s *authService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	if currentPassword == "" {
		return apperror.NewBadRequest("current password is required")
	}
	if msg := validatePassword(newPassword); msg != "" {
		return apperror.NewBadRequest(msg)
	}

	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return passThrough(err, "finding user")
	}

	if !s.hasher.Verify(currentPassword, user.PasswordHash) {
		return apperror.NewBadRequest("current password is incorrect")
	}
	if currentPassword == newPassword {
		return apperror.NewBadRequest("new password must differ from the current password")
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("hashing password: %w", err))
	}

	ok, err := s.repo.ChangePassword(ctx, userID, user.PasswordHash, hash)
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("changing password: %w", err))
	}
	if !ok {
		return apperror.NewBadRequest("password was changed by another request, please try again")
	}

	slog.Info("password changed", slog.String("user_id", userID))
	return nil
}

// EnsureAdmin guarantees at least one admin exists. If the email belongs to
// an existing account it is promoted; otherwise a new admin is created.
func (s *authService) EnsureAdmin(ctx context.Context, email, password string) (bool, error) {
	count, err := s.repo.CountAdmins(ctx)
	if err != nil {
		return false, fmt.Errorf("counting admins: %w", err)
	}
	if count > 0 {
		return false, nil
	}

	email = NormalizeEmail(email)
	existing, err := s.repo.FindByEmail(ctx, email)
	switch {
	case err == nil:
		role := RoleAdmin
		if err := s.repo.Update(ctx, existing.ID, UserUpdate{Role: &role}); err != nil {
			return false, fmt.Errorf("promoting bootstrap admin: %w", err)
		}
		slog.Info("promoted bootstrap admin", slog.String("user_id", existing.ID))
		return true, nil
	case !apperror.IsNotFound(err):
		return false, fmt.Errorf("finding bootstrap admin: %w", err)
	}

	input := RegisterInput{
		FirstName: "School",
		LastName:  "Admin",
		Email:     email,
		Password:  password,
		Role:      RoleAdmin,
	}
	if msg := validateRegisterInput(&input); msg != "" {
		return false, fmt.Errorf("bootstrap admin: %s", msg)
	}

	user, err := s.createUser(ctx, input)
	if err != nil {
		return false, fmt.Errorf("creating bootstrap admin: %w", err)
	}

	slog.Info("created bootstrap admin", slog.String("user_id", user.ID))
	return true, nil
}

// createUser persists a validated registration. Email must already be normalized.
func (s *authService) createUser(ctx context.Context, input RegisterInput) (*User, error) {
	exists, err := s.repo.EmailExists(ctx, input.Email)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("checking email: %w", err))
	}
	if exists {
		return nil, apperror.NewBadRequest(duplicateEmailMessage)
	}

	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("hashing password: %w", err))
	}

	now := s.now().UTC()
	user := &User{
		ID:           uuid.NewString(),
		Email:        input.Email,
		FirstName:    input.FirstName,
		LastName:     input.LastName,
		Role:         input.Role,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.repo.Create(ctx, user); err != nil {
		return nil, passThrough(err, "creating user")
	}
	return user, nil
}

func (s *authService) authResult(user *User) (*AuthResult, error) {
	token, expiresAt, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("issuing token: %w", err))
	}
	return &AuthResult{
		User:      user.Principal(),
		Token:     token,
		ExpiresAt: expiresAt,
	}, nil
}

// --- Validation ---

// NormalizeEmail trims and lower-cases an email address. Emails are stored
// and compared in this form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NewUserUpdate validates the optional fields of a partial update and
// returns the normalized UserUpdate. A 400 AppError describes the first
// invalid field.
func NewUserUpdate(firstName, lastName, email, role *string) (UserUpdate, error) {
	var upd UserUpdate

	if firstName != nil {
		v := sanitize.PlainText(*firstName)
		if msg := validateName("first name", v); msg != "" {
			return upd, apperror.NewBadRequest(msg)
		}
		upd.FirstName = &v
	}
	if lastName != nil {
		v := sanitize.PlainText(*lastName)
		if msg := validateName("last name", v); msg != "" {
			return upd, apperror.NewBadRequest(msg)
		}
		upd.LastName = &v
	}
	if email != nil {
		v := NormalizeEmail(*email)
		if msg := validateEmail(v); msg != "" {
			return upd, apperror.NewBadRequest(msg)
		}
		upd.Email = &v
	}
	if role != nil {
		r := Role(strings.TrimSpace(*role))
		if !r.Valid() {
			return upd, apperror.NewBadRequest(fmt.Sprintf("invalid role %q", *role))
		}
		upd.Role = &r
	}

	return upd, nil
}

// validateRegisterInput normalizes input in place and returns an error
// message or empty string.
func validateRegisterInput(input *RegisterInput) string {
	input.FirstName = sanitize.PlainText(input.FirstName)
	input.LastName = sanitize.PlainText(input.LastName)
	input.Email = NormalizeEmail(input.Email)

	if msg := validateName("first name", input.FirstName); msg != "" {
		return msg
	}
	if msg := validateName("last name", input.LastName); msg != "" {
		return msg
	}
	if msg := validateEmail(input.Email); msg != "" {
		return msg
	}
	if !input.Role.Valid() {
		return fmt.Sprintf("invalid role %q", input.Role)
	}
	return validatePassword(input.Password)
}

func validateName(field, v string) string {
	if v == "" {
		return field + " is required"
	}
	if len(v) > maxNameLength {
		return fmt.Sprintf("%s must be at most %d characters", field, maxNameLength)
	}
	return ""
}

func validateEmail(v string) string {
	if v == "" {
		return "email is required"
	}
	if len(v) > maxEmailLength {
		return "email is too long"
	}
	addr, err := mail.ParseAddress(v)
	if err != nil || addr.Address != v {
		return "email is not valid"
	}
	return ""
}

func validatePassword(v string) string {
	if v == "" {
		return "password is required"
	}
	if len(v) < minPasswordLength {
		return fmt.Sprintf("password must be at least %d characters", minPasswordLength)
	}
	if len(v) > maxPasswordBytes {
		return fmt.Sprintf("password must be at most %d bytes", maxPasswordBytes)
	}
	return ""
}

// --- Helpers ---

// generateResetToken creates a cryptographically random hex-encoded token.
func generateResetToken() (string, error) {
	b := make([]byte, resetTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// hashToken returns the hex SHA-256 of a reset token. Only this value is stored.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// passThrough returns AppErrors unchanged and wraps anything else as internal.
func passThrough(err error, op string) error {
	if _, ok := err.(*apperror.AppError); ok {
		return err
	}
	return apperror.NewInternal(fmt.Errorf("%s: %w", op, err))
}
