// Package auth implements the authentication core: password hashing, token
// issuance and validation, and the register/login flows that tie them to a
// credential store.
package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/crypto/bcrypt"
)

// PasswordHasher provides one-way password hashing and verification.
type PasswordHasher interface {
	// Hash returns a salted digest of plain. Two calls with the same input
	// return different digests.
	Hash(plain string) (string, error)

	// Verify reports whether plain produced digest.
	Verify(plain, digest string) bool
}

// BcryptHasher implements PasswordHasher with bcrypt.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher returns a hasher using the given bcrypt cost.
func NewBcryptHasher(cost int) (*BcryptHasher, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range [%d,%d]", cost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	return &BcryptHasher{cost: cost}, nil
}

// Hash returns a bcrypt hash of plain. bcrypt draws a fresh salt per call.
func (h *BcryptHasher) Hash(plain string) (string, error) {
	if strings.TrimSpace(plain) == "" {
		return "", oops.Code("AUTH_EMPTY_PASSWORD").Wrap(ErrValidation)
	}
	b, err := bcrypt.GenerateFromPassword([]byte(plain), h.cost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return "", oops.Code("AUTH_PASSWORD_TOO_LONG").Wrap(&TooLongError{Field: "password", Max: MaxPasswordBytes})
	}
	if err != nil {
		return "", oops.Code("AUTH_HASH_FAILED").Wrap(err)
	}
	return string(b), nil
}

// Verify safely compares a bcrypt hash and a plain password.
func (h *BcryptHasher) Verify(plain, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plain)) == nil
}
