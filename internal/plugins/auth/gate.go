package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/schoolhub/internal/apperror"
	"github.com/keyxmakerx/schoolhub/internal/metrics"
)

// Gate is one step of a protected route's pipeline. It receives the
// principal resolved by the steps before it and either passes a principal
// on or terminates the request with an error.
type Gate interface {
	Check(r *http.Request, p *Principal) (*Principal, error)
}

// GateFunc adapts a function to the Gate interface.
type GateFunc func(r *http.Request, p *Principal) (*Principal, error)

// Check calls f(r, p).
func (f GateFunc) Check(r *http.Request, p *Principal) (*Principal, error) {
	return f(r, p)
}

// PrincipalFinder loads the account a verified token refers to.
type PrincipalFinder interface {
	FindByID(ctx context.Context, id string) (*User, error)
}

// Authenticator is the authentication gate: bearer header, token
// verification, then a fresh lookup of the subject on every request.
type Authenticator struct {
	tokens  *TokenIssuer
	users   PrincipalFinder
	metrics *metrics.Metrics
}

// NewAuthenticator creates the authentication gate. m may be nil.
func NewAuthenticator(tokens *TokenIssuer, users PrincipalFinder, m *metrics.Metrics) *Authenticator {
	return &Authenticator{tokens: tokens, users: users, metrics: m}
}

// Check implements Gate. Any principal passed in is ignored; the result is
// always derived from the request's own credential. Refusals are *Rejection
// values.
func (a *Authenticator) Check(r *http.Request, _ *Principal) (*Principal, error) {
	raw, err := bearerToken(r.Header.Get(echo.HeaderAuthorization))
	if err != nil {
		return nil, err
	}

	subject, err := a.tokens.Verify(raw)
	if err != nil {
		return nil, err
	}

	user, err := a.users.FindByID(r.Context(), subject)
	if err != nil {
		if apperror.IsNotFound(err) {
			return nil, &Rejection{Reason: ReasonUnknownPrincipal, Err: err}
		}
		return nil, apperror.NewInternal(fmt.Errorf("loading principal: %w", err))
	}

	return user.Principal(), nil
}

// bearerToken extracts the token from an Authorization header value.
func bearerToken(header string) (string, error) {
	if header == "" {
		return "", &Rejection{Reason: ReasonAbsent}
	}

	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", &Rejection{Reason: ReasonMalformed, Err: errors.New("authorization scheme is not Bearer")}
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return "", &Rejection{Reason: ReasonMalformed, Err: errors.New("bearer token is empty")}
	}
	return token, nil
}

// RequireRoles returns a gate that admits only principals holding one of
// roles. It must follow an Authenticator; Pipeline guarantees that.
func RequireRoles(roles ...Role) Gate {
	allowed := slices.Clone(roles)
	return GateFunc(func(_ *http.Request, p *Principal) (*Principal, error) {
		if p == nil {
			return nil, &Rejection{Reason: ReasonAbsent}
		}
		if !slices.Contains(allowed, p.Role) {
			return nil, apperror.NewForbidden(fmt.Sprintf("role %q is not allowed to access this resource", p.Role))
		}
		return p, nil
	})
}

// Pipeline runs the authentication gate followed by zero or more further
// gates, in order. The Authenticator is a required constructor argument, so
// no pipeline can run a role check on an unverified request.
type Pipeline struct {
	authn *Authenticator
	gates []Gate
}

// NewPipeline builds a pipeline. authn must not be nil.
func NewPipeline(authn *Authenticator, gates ...Gate) *Pipeline {
	if authn == nil {
		panic("auth: pipeline requires an authenticator")
	}
	return &Pipeline{authn: authn, gates: slices.Clone(gates)}
}

// Run executes every gate and returns the final principal. The first gate
// that refuses stops the run.
func (p *Pipeline) Run(r *http.Request) (*Principal, error) {
	principal, err := p.authn.Check(r, nil)
	if err != nil {
		return nil, err
	}
	for _, g := range p.gates {
		next, err := g.Check(r, principal)
		if err != nil {
			return principal, err
		}
		principal = next
	}
	return principal, nil
}

// Middleware adapts the pipeline to echo. On success the principal is
// stored in the context; on refusal the handler is never called.
func (p *Pipeline) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			principal, err := p.Run(c.Request())
			if err != nil {
				return p.refuse(c, principal, err)
			}

			c.Set(contextKeyPrincipal, principal)
			return next(c)
		}
	}
}

// refuse logs and counts a refusal and converts it to the client error.
func (p *Pipeline) refuse(c echo.Context, principal *Principal, err error) error {
	req := c.Request()

	if reason := RejectionReason(err); reason != "" {
		slog.Warn("authentication rejected",
			slog.String("reason", string(reason)),
			slog.String("method", req.Method),
			slog.String("path", req.URL.Path),
			slog.String("ip", c.RealIP()),
			slog.Any("error", errors.Unwrap(err)),
		)
		p.authn.metrics.AuthRejected(string(reason))
		return apperror.NewUnauthorized(rejectionMessage(reason))
	}

	var appErr *apperror.AppError
	if errors.As(err, &appErr) && appErr.Code == http.StatusForbidden && principal != nil {
		slog.Warn("authorization denied",
			slog.String("user_id", principal.ID),
			slog.String("role", string(principal.Role)),
			slog.String("method", req.Method),
			slog.String("path", req.URL.Path),
		)
		p.authn.metrics.AuthzDenied(string(principal.Role))
	}
	return err
}

// Protect is shorthand for NewPipeline(authn, gates...).Middleware().
func Protect(authn *Authenticator, gates ...Gate) echo.MiddlewareFunc {
	return NewPipeline(authn, gates...).Middleware()
}

func rejectionMessage(reason RejectReason) string {
	switch reason {
	case ReasonAbsent:
		return "not authorized: no token"
	case ReasonExpired:
		return "not authorized: token expired"
	case ReasonUnknownPrincipal:
		return "not authorized: user no longer exists"
	default:
		return "not authorized: invalid token"
	}
}
