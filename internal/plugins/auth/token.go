package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RejectReason classifies why a request failed authentication. All reasons
// map to HTTP 401; the distinction is kept for logs and metrics.
type RejectReason string

const (
	// ReasonAbsent means no credential was presented at all.
	ReasonAbsent RejectReason = "absent"

	// ReasonMalformed covers a bad Authorization header, a structurally
	// invalid token, and a signature that does not verify.
	ReasonMalformed RejectReason = "malformed"

	// ReasonExpired means the token verified but its expiry has passed.
	ReasonExpired RejectReason = "expired"

	// ReasonUnknownPrincipal means the token's subject no longer exists.
	ReasonUnknownPrincipal RejectReason = "principal_not_found"
)

// Rejection is the error returned when a credential is refused.
type Rejection struct {
	Reason RejectReason
	Err    error
}

func (r *Rejection) Error() string {
	if r.Err != nil {
		return fmt.Sprintf("token rejected (%s): %v", r.Reason, r.Err)
	}
	return fmt.Sprintf("token rejected (%s)", r.Reason)
}

func (r *Rejection) Unwrap() error { return r.Err }

// RejectionReason extracts the reason from err, or "" if err is not a Rejection.
func RejectionReason(err error) RejectReason {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej.Reason
	}
	return ""
}

// Claims is the signed payload of a bearer token. The subject is the user ID.
type Claims struct {
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies HS256 bearer tokens with a server-held secret.
// Tokens are stateless: nothing is stored, and a token stays valid until its
// expiry regardless of later account changes.
type TokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer creates an issuer. ttl is the fixed validity window applied
// to every token.
func NewTokenIssuer(secret, issuer string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}
}

// TTL returns the validity window.
func (t *TokenIssuer) TTL() time.Duration { return t.ttl }

// Issue signs a token for subjectID and returns it with its expiry time.
func (t *TokenIssuer) Issue(subjectID string) (string, time.Time, error) {
	if subjectID == "" {
		return "", time.Time{}, errors.New("subject is required")
	}

	// JWT dates have whole-second precision. Truncating first keeps the
	// returned expiry equal to the signed "exp".
	now := t.now().UTC().Truncate(jwt.TimePrecision)
	expiresAt := now.Add(t.ttl)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})

	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify checks the signature and expiry of tokenString and returns the
// subject ID. Failures are *Rejection values: ReasonAbsent for an empty
// string, ReasonExpired for a genuine but expired token, ReasonMalformed
// for everything else. There is no leeway.
func (t *TokenIssuer) Verify(tokenString string) (string, error) {
	if tokenString == "" {
		return "", &Rejection{Reason: ReasonAbsent}
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return t.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(t.issuer),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return "", classify(err)
	}

	if claims.Subject == "" {
		return "", &Rejection{Reason: ReasonMalformed, Err: errors.New("token has no subject")}
	}
	return claims.Subject, nil
}

// classify maps jwt parse errors onto a reason. Signature and structural
// failures win over expiry so a forged token is never reported as expired.
func classify(err error) *Rejection {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed),
		errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable):
		return &Rejection{Reason: ReasonMalformed, Err: err}
	case errors.Is(err, jwt.ErrTokenExpired):
		return &Rejection{Reason: ReasonExpired, Err: err}
	default:
		return &Rejection{Reason: ReasonMalformed, Err: err}
	}
}
