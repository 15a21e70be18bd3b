package auth

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// maxPasswordBytes is bcrypt's input limit. Longer passwords are rejected at
// validation rather than silently truncated.
const maxPasswordBytes = 72

// errEmptyPassword is returned by Hash for empty input.
var errEmptyPassword = errors.New("password must not be empty")

// PasswordHasher produces and checks salted bcrypt hashes. The salt and cost
// are embedded in the hash string, so no separate salt column is needed.
type PasswordHasher struct {
	cost int

	// dummy is a hash of a random value at the same cost, compared against
	// when the account does not exist.
	dummyOnce sync.Once
	dummy     []byte
}

// NewPasswordHasher creates a hasher with the given work factor. Out-of-range
// costs fall back to bcrypt.DefaultCost.
func NewPasswordHasher(cost int) *PasswordHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &PasswordHasher{cost: cost}
}

// Hash returns a fresh salted hash of plaintext.
func (h *PasswordHasher) Hash(plaintext string) (string, error) {
	if plaintext == "" {
		return "", errEmptyPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt: %w", err)
	}
	return string(hash), nil
}

// Verify reports whether plaintext matches hash. A malformed or corrupted
// hash yields false, never an error.
func (h *PasswordHasher) Verify(plaintext, hash string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}

// VerifyAbsent runs a full bcrypt comparison that always fails. Login calls
// it for unknown emails so the response time does not reveal whether an
// account exists.
func (h *PasswordHasher) VerifyAbsent(plaintext string) {
	h.dummyOnce.Do(func() {
		hash, err := bcrypt.GenerateFromPassword([]byte("no-such-account"), h.cost)
		if err == nil {
			h.dummy = hash
		}
	})
	if h.dummy == nil {
		return
	}
	_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(plaintext))
}
