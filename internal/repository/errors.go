// Package repository implements the credential stores backing the auth
// service. These sentinel values let higher layers distinguish missing
// rows from uniqueness violations without looking at driver errors.
package repository

import "errors"

// ErrNotFound is returned when no user matches the lookup.
var ErrNotFound = errors.New("user not found")

// ErrDuplicate is returned when an insert would break the uniqueness of
// username or email. Handlers translate this into a 400 response.
var ErrDuplicate = errors.New("username or email already exists")
