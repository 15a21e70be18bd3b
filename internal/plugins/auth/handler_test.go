package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyxmakerx/schoolhub/internal/middleware"
)

// newTestServer wires the auth routes onto a bare Echo instance with the
// application's JSON error handler. Rate limiting is off unless limits says
// otherwise.
func newTestServer(t *testing.T, limits RateLimits) (*echo.Echo, *testEnv) {
	t.Helper()
	env := newTestEnv(t)
	e := echo.New()
	e.HTTPErrorHandler = middleware.ErrorHandler
	RegisterRoutes(e, NewHandler(env.svc), NewAuthenticator(env.tokens, env.repo, env.metrics), nil, limits)
	return e, env
}

func doJSON(t *testing.T, e *echo.Echo, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload string
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		payload = string(b)
	}
	req := httptest.NewRequest(method, path, strings.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), "body: %s", rec.Body.String())
	return v
}

type errorBody = middleware.ErrorResponse

func registerVia(t *testing.T, e *echo.Echo, email, role string) AuthResult {
	t.Helper()
	rec := doJSON(t, e, http.MethodPost, "/register", "", RegisterRequest{
		FirstName: "Ada", LastName: "Lovelace", Email: email, Password: "secure-password-123", Role: role,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[AuthResult](t, rec)
}

func TestHandler_RegisterLoginProfile(t *testing.T) {
	e, _ := newTestServer(t, RateLimits{})

	registered := registerVia(t, e, "Ada@Example.com", "teacher")
	assert.NotEmpty(t, registered.Token)
	assert.Equal(t, "ada@example.com", registered.User.Email)
	assert.Equal(t, RoleTeacher, registered.User.Role)

	rec := doJSON(t, e, http.MethodPost, "/login", "", LoginRequest{Email: "ada@example.com", Password: "secure-password-123"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "passwordHash")
	assert.NotContains(t, rec.Body.String(), "$2a$")
	login := decode[AuthResult](t, rec)

	rec = doJSON(t, e, http.MethodGet, "/users/profile", login.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	profile := decode[profileResponse](t, rec)
	assert.Equal(t, registered.User.ID, profile.User.ID)
}

func TestHandler_RegisterErrors(t *testing.T) {
	e, _ := newTestServer(t, RateLimits{})
	registerVia(t, e, "taken@example.com", "")

	tests := []struct {
		name string
		body any
		code int
	}{
		{"unknown role", RegisterRequest{FirstName: "A", LastName: "B", Email: "x@example.com", Password: "secure-password-123", Role: "janitor"}, http.StatusBadRequest},
		{"admin role", RegisterRequest{FirstName: "A", LastName: "B", Email: "x@example.com", Password: "secure-password-123", Role: "admin"}, http.StatusBadRequest},
		{"short password", RegisterRequest{FirstName: "A", LastName: "B", Email: "x@example.com", Password: "short"}, http.StatusBadRequest},
		{"duplicate email", RegisterRequest{FirstName: "A", LastName: "B", Email: "TAKEN@example.com", Password: "secure-password-123"}, http.StatusBadRequest},
		{"wrong shape", []string{"not", "an", "object"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, e, http.MethodPost, "/register", "", tt.body)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
			body := decode[errorBody](t, rec)
			assert.NotEmpty(t, body.Message)
		})
	}
}

func TestHandler_LoginFailureIs401(t *testing.T) {
	e, _ := newTestServer(t, RateLimits{})
	registerVia(t, e, "ada@example.com", "")

	wrong := doJSON(t, e, http.MethodPost, "/login", "", LoginRequest{Email: "ada@example.com", Password: "not-the-password"})
	unknown := doJSON(t, e, http.MethodPost, "/login", "", LoginRequest{Email: "nobody@example.com", Password: "not-the-password"})

	assert.Equal(t, http.StatusUnauthorized, wrong.Code)
	assert.Equal(t, wrong.Code, unknown.Code)
	assert.Equal(t, wrong.Body.String(), unknown.Body.String())
}

func TestHandler_ProtectedRoutesRequireToken(t *testing.T) {
	e, _ := newTestServer(t, RateLimits{})

	for _, route := range []struct{ method, path string }{
		{http.MethodGet, "/users/profile"},
		{http.MethodPut, "/users/profile"},
		{http.MethodPut, "/users/change-password"},
	} {
		rec := doJSON(t, e, route.method, route.path, "", map[string]string{})
		assert.Equal(t, http.StatusUnauthorized, rec.Code, route.path)
		body := decode[errorBody](t, rec)
		assert.Equal(t, "Unauthorized", body.Error)
		assert.Equal(t, "not authorized: no token", body.Message)
	}
}

func TestHandler_UpdateProfile(t *testing.T) {
	e, _ := newTestServer(t, RateLimits{})
	user := registerVia(t, e, "ada@example.com", "")

	rec := doJSON(t, e, http.MethodPut, "/users/profile", user.Token, map[string]string{"firstName": "Augusta"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[profileResponse](t, rec)
	assert.Equal(t, "Augusta", updated.User.FirstName)
	assert.Equal(t, "Lovelace", updated.User.LastName)

	// Role is not a profile field; the request changes nothing.
	rec = doJSON(t, e, http.MethodPut, "/users/profile", user.Token, map[string]string{"role": "admin"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, RoleStudent, decode[profileResponse](t, rec).User.Role)
}

func TestHandler_ChangePassword(t *testing.T) {
	e, _ := newTestServer(t, RateLimits{})
	user := registerVia(t, e, "ada@example.com", "")

	rec := doJSON(t, e, http.MethodPut, "/users/change-password", user.Token, ChangePasswordRequest{
		CurrentPassword: "wrong-password-000", NewPassword: "another-password-456",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, e, http.MethodPut, "/users/change-password", user.Token, ChangePasswordRequest{
		CurrentPassword: "secure-password-123", NewPassword: "another-password-456",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, e, http.MethodPost, "/login", "", LoginRequest{Email: "ada@example.com", Password: "another-password-456"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_ForgotAndResetPassword(t *testing.T) {
	e, env := newTestServer(t, RateLimits{})
	registerVia(t, e, "ada@example.com", "")

	known := doJSON(t, e, http.MethodPost, "/forgot-password", "", ForgotPasswordRequest{Email: "ada@example.com"})
	unknown := doJSON(t, e, http.MethodPost, "/forgot-password", "", ForgotPasswordRequest{Email: "nobody@example.com"})
	require.Equal(t, http.StatusOK, known.Code)
	assert.Equal(t, known.Body.String(), unknown.Body.String())
	assert.Equal(t, 1, env.mail.sendCount)

	token := env.mail.resetToken(t)

	rec := doJSON(t, e, http.MethodPut, "/reset-password/"+token, "", ResetPasswordRequest{NewPassword: "brand-new-password"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Single use.
	rec = doJSON(t, e, http.MethodPut, "/reset-password/"+token, "", ResetPasswordRequest{NewPassword: "yet-another-password"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, e, http.MethodPost, "/login", "", LoginRequest{Email: "ada@example.com", Password: "brand-new-password"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_ForgotPasswordHidesFailures(t *testing.T) {
	e, env := newTestServer(t, RateLimits{})
	registerVia(t, e, "ada@example.com", "")
	env.repo.errOn["FindByEmail"] = assert.AnError

	rec := doJSON(t, e, http.MethodPost, "/forgot-password", "", ForgotPasswordRequest{Email: "ada@example.com"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, forgotPasswordMessage, decode[messageResponse](t, rec).Message)
}

func TestHandler_LoginRateLimited(t *testing.T) {
	e, _ := newTestServer(t, RateLimits{Login: 2})
	creds := LoginRequest{Email: "nobody@example.com", Password: "whatever-password"}

	for range 2 {
		rec := doJSON(t, e, http.MethodPost, "/login", "", creds)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	rec := doJSON(t, e, http.MethodPost, "/login", "", creds)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}
