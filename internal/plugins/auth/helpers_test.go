package auth

import (
	"context"
	"regexp"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/keyxmakerx/schoolhub/internal/apperror"
	"github.com/keyxmakerx/schoolhub/internal/metrics"
)

const (
	testSecret = "test-secret-that-is-long-enough-for-hs256"
	testIssuer = "schoolhub-test"
)

// --- In-memory repository ---

// memUserRepo implements UserRepository in memory with the same conditional
// update semantics as the SQL implementation. errOn injects a failure for a
// method by name.
type memUserRepo struct {
	mu    sync.Mutex
	users map[string]*User
	errOn map[string]error

	// beforeChangePassword runs inside ChangePassword before the guard is
	// evaluated, to simulate a concurrent writer.
	beforeChangePassword func(u *User)
}

func newMemUserRepo(users ...*User) *memUserRepo {
	r := &memUserRepo{users: map[string]*User{}, errOn: map[string]error{}}
	for _, u := range users {
		cp := *u
		r.users[u.ID] = &cp
	}
	return r
}

func (r *memUserRepo) snapshot() map[string]User {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]User, len(r.users))
	for id, u := range r.users {
		out[id] = *u
	}
	return out
}

func (r *memUserRepo) byEmail(email string) *User {
	for _, u := range r.users {
		if u.Email == email {
			return u
		}
	}
	return nil
}

func (r *memUserRepo) Create(_ context.Context, user *User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.errOn["Create"]; err != nil {
		return err
	}
	if r.byEmail(user.Email) != nil {
		return apperror.NewBadRequest(duplicateEmailMessage)
	}
	cp := *user
	r.users[user.ID] = &cp
	return nil
}

func (r *memUserRepo) FindByID(_ context.Context, id string) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.errOn["FindByID"]; err != nil {
		return nil, err
	}
	u, ok := r.users[id]
	if !ok {
		return nil, apperror.NewNotFound("user not found")
	}
	cp := *u
	return &cp, nil
}

func (r *memUserRepo) FindByEmail(_ context.Context, email string) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.errOn["FindByEmail"]; err != nil {
		return nil, err
	}
	u := r.byEmail(email)
	if u == nil {
		return nil, apperror.NewNotFound("user not found")
	}
	cp := *u
	return &cp, nil
}

func (r *memUserRepo) EmailExists(_ context.Context, email string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.errOn["EmailExists"]; err != nil {
		return false, err
	}
	return r.byEmail(email) != nil, nil
}

func (r *memUserRepo) UpdateLastLogin(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.errOn["UpdateLastLogin"]; err != nil {
		return err
	}
	if u, ok := r.users[id]; ok {
		now := time.Now().UTC()
		u.LastLoginAt = &now
	}
	return nil
}

func (r *memUserRepo) Update(_ context.Context, id string, upd UserUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.errOn["Update"]; err != nil {
		return err
	}
	u, ok := r.users[id]
	if !ok {
		return apperror.NewNotFound("user not found")
	}
	if upd.Email != nil {
		if other := r.byEmail(*upd.Email); other != nil && other.ID != id {
			return apperror.NewBadRequest(duplicateEmailMessage)
		}
		u.Email = *upd.Email
	}
	if upd.FirstName != nil {
		u.FirstName = *upd.FirstName
	}
	if upd.LastName != nil {
		u.LastName = *upd.LastName
	}
	if upd.Role != nil {
		u.Role = *upd.Role
	}
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *memUserRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.errOn["Delete"]; err != nil {
		return err
	}
	if _, ok := r.users[id]; !ok {
		return apperror.NewNotFound("user not found")
	}
	delete(r.users, id)
	return nil
}

func (r *memUserRepo) ChangePassword(_ context.Context, id, currentHash, newHash string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.errOn["ChangePassword"]; err != nil {
		return false, err
	}
	u, ok := r.users[id]
	if !ok {
		return false, nil
	}
	if r.beforeChangePassword != nil {
		r.beforeChangePassword(u)
	}
	if u.PasswordHash != currentHash {
		return false, nil
	}
	u.PasswordHash = newHash
	return true, nil
}

func (r *memUserRepo) SetResetToken(_ context.Context, id, tokenHash string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.errOn["SetResetToken"]; err != nil {
		return err
	}
	u, ok := r.users[id]
	if !ok {
		return apperror.NewNotFound("user not found")
	}
	h, exp := tokenHash, expiresAt.UTC()
	u.ResetTokenHash = &h
	u.ResetTokenExpiresAt = &exp
	return nil
}

func (r *memUserRepo) FindByResetTokenHash(_ context.Context, tokenHash string) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.errOn["FindByResetTokenHash"]; err != nil {
		return nil, err
	}
	for _, u := range r.users {
		if u.ResetTokenHash != nil && *u.ResetTokenHash == tokenHash {
			cp := *u
			return &cp, nil
		}
	}
	return nil, apperror.NewNotFound("invalid or expired reset token")
}

func (r *memUserRepo) ConsumeResetToken(_ context.Context, id, tokenHash, newPasswordHash string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.errOn["ConsumeResetToken"]; err != nil {
		return false, err
	}
	u, ok := r.users[id]
	if !ok || u.ResetTokenHash == nil || *u.ResetTokenHash != tokenHash ||
		u.ResetTokenExpiresAt == nil || !u.ResetTokenExpiresAt.After(now) {
		return false, nil
	}
	u.PasswordHash = newPasswordHash
	u.ResetTokenHash = nil
	u.ResetTokenExpiresAt = nil
	return true, nil
}

func (r *memUserRepo) ClearResetToken(_ context.Context, id, tokenHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok && u.ResetTokenHash != nil && *u.ResetTokenHash == tokenHash {
		u.ResetTokenHash = nil
		u.ResetTokenExpiresAt = nil
	}
	return nil
}

func (r *memUserRepo) ClearExpiredResetTokens(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, u := range r.users {
		if u.ResetTokenExpiresAt != nil && !u.ResetTokenExpiresAt.After(now) {
			u.ResetTokenHash = nil
			u.ResetTokenExpiresAt = nil
			n++
		}
	}
	return n, nil
}

func (r *memUserRepo) ListUsers(_ context.Context, offset, limit int) ([]User, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := make([]User, 0, len(r.users))
	for _, u := range r.users {
		all = append(all, *u)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	if offset > total {
		offset = total
	}
	end := min(offset+limit, total)
	return all[offset:end], total, nil
}

func (r *memUserRepo) CountAdmins(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.errOn["CountAdmins"]; err != nil {
		return 0, err
	}
	n := 0
	for _, u := range r.users {
		if u.Role == RoleAdmin {
			n++
		}
	}
	return n, nil
}

// --- Mock Mail Sender ---

// mockMailSender implements MailSender for testing.
type mockMailSender struct {
	mu           sync.Mutex
	sendMailFn   func(ctx context.Context, to []string, subject, body string) error
	unconfigured bool

	lastTo      []string
	lastSubject string
	lastBody    string
	sendCount   int
}

func (m *mockMailSender) SendMail(ctx context.Context, to []string, subject, body string) error {
	m.mu.Lock()
	m.lastTo = to
	m.lastSubject = subject
	m.lastBody = body
	m.sendCount++
	m.mu.Unlock()
	if m.sendMailFn != nil {
		return m.sendMailFn(ctx, to, subject, body)
	}
	return nil
}

func (m *mockMailSender) IsConfigured(context.Context) bool {
	return !m.unconfigured
}

var resetLinkPattern = regexp.MustCompile(`/reset-password/([0-9a-f]{64})`)

// resetToken extracts the raw token from the last reset email.
func (m *mockMailSender) resetToken(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	match := resetLinkPattern.FindStringSubmatch(m.lastBody)
	require.Len(t, match, 2, "no reset link in mail body: %q", m.lastBody)
	return match[1]
}

// --- Clock ---

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// --- Service fixture ---

type testEnv struct {
	svc     *authService
	repo    *memUserRepo
	mail    *mockMailSender
	clock   *testClock
	tokens  *TokenIssuer
	hasher  *PasswordHasher
	metrics *metrics.Metrics
}

func newTestEnv(t *testing.T, users ...*User) *testEnv {
	t.Helper()
	clock := newTestClock()
	tokens := NewTokenIssuer(testSecret, testIssuer, time.Hour)
	tokens.now = clock.Now
	hasher := NewPasswordHasher(bcrypt.MinCost)
	repo := newMemUserRepo(users...)
	m := metrics.New(nil)
	mail := &mockMailSender{}

	svc := NewAuthService(repo, hasher, tokens, time.Hour, m).(*authService)
	svc.now = clock.Now
	ConfigureMailSender(svc, mail, "https://school.example.com/")

	return &testEnv{svc: svc, repo: repo, mail: mail, clock: clock, tokens: tokens, hasher: hasher, metrics: m}
}

// seedUser stores a user with the given role and password and returns it.
func (e *testEnv) seedUser(t *testing.T, id, email, password string, role Role) *User {
	t.Helper()
	hash, err := e.hasher.Hash(password)
	require.NoError(t, err)
	u := &User{
		ID:           id,
		Email:        email,
		FirstName:    "Test",
		LastName:     "User",
		Role:         role,
		PasswordHash: hash,
		CreatedAt:    e.clock.Now(),
		UpdatedAt:    e.clock.Now(),
	}
	require.NoError(t, e.repo.Create(context.Background(), u))
	return u
}

// counterValue reads a single-label counter from the registry; 0 if absent.
func counterValue(t *testing.T, m *metrics.Metrics, name, label string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if lp.GetValue() == label {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

// requireAppError checks that err is an *apperror.AppError with the expected code.
func requireAppError(t *testing.T, err error, expectedCode int) *apperror.AppError {
	t.Helper()
	require.Error(t, err)
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, expectedCode, appErr.Code, "message: %s", appErr.Message)
	return appErr
}
