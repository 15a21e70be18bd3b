package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/keyxmakerx/schoolhub/internal/apperror"
)

// mysqlDuplicateEntry is MariaDB's ER_DUP_ENTRY error number.
const mysqlDuplicateEntry = 1062

// duplicateEmailMessage is shared by the pre-check and the unique-index path.
const duplicateEmailMessage = "an account with this email already exists"

// UserRepository defines the data access contract for user records.
// All SQL lives in the concrete implementation -- no SQL leaks out.
//
// Every mutation is a single statement. Methods that return (bool, error)
// are conditional updates: false means the guard did not match and nothing
// was written.
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	FindByID(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	UpdateLastLogin(ctx context.Context, id string) error
	Update(ctx context.Context, id string, upd UserUpdate) error
	Delete(ctx context.Context, id string) error

	// ChangePassword replaces the hash only if the stored hash still equals
	// currentHash.
	ChangePassword(ctx context.Context, id, currentHash, newHash string) (bool, error)

	// Password reset.
	SetResetToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) error
	FindByResetTokenHash(ctx context.Context, tokenHash string) (*User, error)
	ConsumeResetToken(ctx context.Context, id, tokenHash, newPasswordHash string, now time.Time) (bool, error)
	ClearResetToken(ctx context.Context, id, tokenHash string) error
	ClearExpiredResetTokens(ctx context.Context, now time.Time) (int64, error)

	// Admin operations.
	ListUsers(ctx context.Context, offset, limit int) ([]User, int, error)
	CountAdmins(ctx context.Context) (int, error)
}

// userColumns is the full column list scanned by scanUser.
const userColumns = `id, email, first_name, last_name, role, password_hash,
	reset_token_hash, reset_token_expires_at, created_at, updated_at, last_login_at`

// userRepository implements UserRepository with hand-written MariaDB queries.
type userRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new user repository backed by the given DB pool.
func NewUserRepository(db *sql.DB) UserRepository {
	return &userRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	u := &User{}
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.FirstName,
		&u.LastName,
		&u.Role,
		&u.PasswordHash,
		&u.ResetTokenHash,
		&u.ResetTokenExpiresAt,
		&u.CreatedAt,
		&u.UpdatedAt,
		&u.LastLoginAt,
	)
	if err != nil {
		return nil, err
	}
	return u, nil
}

// Create inserts a new user row. A duplicate email is reported as a 400.
func (r *userRepository) Create(ctx context.Context, user *User) error {
	query := `INSERT INTO users (id, email, first_name, last_name, role, password_hash, created_at, updated_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		user.ID,
		user.Email,
		user.FirstName,
		user.LastName,
		user.Role,
		user.PasswordHash,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if isDuplicateEntry(err) {
		return apperror.NewBadRequest(duplicateEmailMessage)
	}
	if err != nil {
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

// FindByID retrieves a user by their UUID.
// Returns apperror.NotFound if no user exists with this ID.
func (r *userRepository) FindByID(ctx context.Context, id string) (*User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("querying user by id: %w", err)
	}
	return u, nil
}

// FindByEmail retrieves a user by their (already normalized) email address.
// Returns apperror.NotFound if no user exists with this email.
func (r *userRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("querying user by email: %w", err)
	}
	return u, nil
}

// EmailExists returns true if a user with the given email already exists.
// Used during registration to check for duplicates before hashing the password.
func (r *userRepository) EmailExists(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE email = ?)`, email).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking email existence: %w", err)
	}
	return exists, nil
}

// UpdateLastLogin sets the last_login_at timestamp to now for the given user.
func (r *userRepository) UpdateLastLogin(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE users SET last_login_at = ? WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("updating last login: %w", err)
	}
	return nil
}

// Update applies a partial update in one statement. COALESCE keeps columns
// whose parameter is NULL, so concurrent updates to different fields of the
// same user never overwrite each other.
func (r *userRepository) Update(ctx context.Context, id string, upd UserUpdate) error {
	query := `UPDATE users SET
	            first_name = COALESCE(?, first_name),
	            last_name  = COALESCE(?, last_name),
	            email      = COALESCE(?, email),
	            role       = COALESCE(?, role),
	            updated_at = ?
	          WHERE id = ?`

	var role any
	if upd.Role != nil {
		role = string(*upd.Role)
	}

	result, err := r.db.ExecContext(ctx, query,
		nullableString(upd.FirstName),
		nullableString(upd.LastName),
		nullableString(upd.Email),
		role,
		time.Now().UTC(),
		id,
	)
	if isDuplicateEntry(err) {
		return apperror.NewBadRequest(duplicateEmailMessage)
	}
	if err != nil {
		return fmt.Errorf("updating user: %w", err)
	}

	n, _ := result.RowsAffected()
	if n == 0 {
		return apperror.NewNotFound("user not found")
	}
	return nil
}

// Delete removes a user row.
func (r *userRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return apperror.NewNotFound("user not found")
	}
	return nil
}

// ChangePassword is a compare-on-write: the new hash is stored only if the
// row still holds the hash the caller verified against.
func (r *userRepository) ChangePassword(ctx context.Context, id, currentHash, newHash string) (bool, error) {
	query := `UPDATE users SET password_hash = ?, updated_at = ?
	          WHERE id = ? AND password_hash = ?`
	result, err := r.db.ExecContext(ctx, query, newHash, time.Now().UTC(), id, currentHash)
	if err != nil {
		return false, fmt.Errorf("changing password: %w", err)
	}
	n, _ := result.RowsAffected()
	return n == 1, nil
}

// --- Password Reset ---

// SetResetToken stores the token hash and expiry on the user row, replacing
// any pending reset. tokenHash is SHA-256(plaintext) -- plaintext is never stored.
func (r *userRepository) SetResetToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) error {
	query := `UPDATE users SET reset_token_hash = ?, reset_token_expires_at = ? WHERE id = ?`
	result, err := r.db.ExecContext(ctx, query, tokenHash, expiresAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("storing reset token: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return apperror.NewNotFound("user not found")
	}
	return nil
}

// FindByResetTokenHash looks up the user holding the given reset token hash,
// regardless of expiry. Returns apperror.NotFound if no user matches.
func (r *userRepository) FindByResetTokenHash(ctx context.Context, tokenHash string) (*User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE reset_token_hash = ?`, tokenHash)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("invalid or expired reset token")
	}
	if err != nil {
		return nil, fmt.Errorf("finding reset token: %w", err)
	}
	return u, nil
}

// ConsumeResetToken sets the new password and clears both reset fields in
// one statement, guarded on the token hash still matching and not being
// expired. Of two concurrent callers with the same token only one sees true.
func (r *userRepository) ConsumeResetToken(ctx context.Context, id, tokenHash, newPasswordHash string, now time.Time) (bool, error) {
	query := `UPDATE users
	          SET password_hash = ?, reset_token_hash = NULL, reset_token_expires_at = NULL, updated_at = ?
	          WHERE id = ? AND reset_token_hash = ? AND reset_token_expires_at > ?`
	result, err := r.db.ExecContext(ctx, query, newPasswordHash, now.UTC(), id, tokenHash, now.UTC())
	if err != nil {
		return false, fmt.Errorf("consuming reset token: %w", err)
	}
	n, _ := result.RowsAffected()
	return n == 1, nil
}

// ClearResetToken drops a pending reset, but only if it is still the given one.
func (r *userRepository) ClearResetToken(ctx context.Context, id, tokenHash string) error {
	query := `UPDATE users SET reset_token_hash = NULL, reset_token_expires_at = NULL
	          WHERE id = ? AND reset_token_hash = ?`
	if _, err := r.db.ExecContext(ctx, query, id, tokenHash); err != nil {
		return fmt.Errorf("clearing reset token: %w", err)
	}
	return nil
}

// ClearExpiredResetTokens clears every reset whose expiry is at or before now.
func (r *userRepository) ClearExpiredResetTokens(ctx context.Context, now time.Time) (int64, error) {
	query := `UPDATE users SET reset_token_hash = NULL, reset_token_expires_at = NULL
	          WHERE reset_token_expires_at IS NOT NULL AND reset_token_expires_at <= ?`
	result, err := r.db.ExecContext(ctx, query, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("clearing expired reset tokens: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// --- Admin Operations ---

// ListUsers returns a page of users ordered by creation date plus the total
// count. Credential columns are not selected.
func (r *userRepository) ListUsers(ctx context.Context, offset, limit int) ([]User, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting users: %w", err)
	}

	query := `SELECT id, email, first_name, last_name, role, created_at, updated_at, last_login_at
	          FROM users ORDER BY created_at DESC LIMIT ? OFFSET ?`

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		var u User
		if err := rows.Scan(
			&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.Role,
			&u.CreatedAt, &u.UpdatedAt, &u.LastLoginAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scanning user row: %w", err)
		}
		users = append(users, u)
	}

	return users, total, rows.Err()
}

// CountAdmins returns the number of users with the admin role.
// Used to prevent removing the last admin.
func (r *userRepository) CountAdmins(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE role = 'admin'`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting admins: %w", err)
	}
	return count, nil
}

// --- Helpers ---

func isDuplicateEntry(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
