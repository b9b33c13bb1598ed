package auth

import (
	"errors"
	"fmt"
)

// Input limits. Username and email are counted in characters to match the
// users table columns; bcrypt only reads the first 72 bytes of a password.
const (
	MaxUsernameLen   = 64
	MaxEmailLen      = 255
	MaxPasswordBytes = 72
)

// Sentinel errors returned by the auth package. Services wrap them with
// oops codes and extra context; callers match them with errors.Is and map
// them onto HTTP responses.
var (
	// ErrValidation means a required field was missing or blank.
	ErrValidation = errors.New("missing required fields")

	// ErrTooLong means a field was present but over its limit. The concrete
	// error is a *TooLongError naming the field.
	ErrTooLong = errors.New("field too long")

	// ErrDuplicate means the username or email is already registered.
	ErrDuplicate = errors.New("username or email already taken")

	// ErrInvalidCredentials is returned for an unknown email and for a wrong
	// password alike so the response never reveals which one it was.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrStorage wraps failures of the credential store or the hasher.
	ErrStorage = errors.New("storage failure")

	// ErrTokenExpired means the token signature was fine but its exp has passed.
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenInvalid covers malformed tokens, bad signatures, foreign issuers
	// and unsupported algorithms.
	ErrTokenInvalid = errors.New("token invalid")

	// ErrMissingCredential means the request carried no Authorization header.
	ErrMissingCredential = errors.New("authorization header missing")

	// ErrUnauthorized means a credential was presented but rejected.
	ErrUnauthorized = errors.New("unauthorized")
)

// TooLongError reports which field exceeded which limit.
type TooLongError struct {
	Field string // username, email or password
	Max   int
}

func (e *TooLongError) Error() string {
	return fmt.Sprintf("%s exceeds %d", e.Field, e.Max)
}

func (e *TooLongError) Unwrap() error { return ErrTooLong }
