package model

import "time"

// User represents an account record as stored in the `users` table. Rows
// are written once at registration and never updated afterwards. Username
// and email are each unique; email is stored lower-cased and PasswordHash
// holds the bcrypt digest.
type User struct {
	ID           uint64    // users.id
	Username     string    // users.username
	Email        string    // users.email
	PasswordHash string    // users.password_hash
	CreatedAt    time.Time // users.created_at
}

// Identity is the subset of a user that travels inside access tokens and
// is handed to protected handlers once a token has been validated.
type Identity struct {
	ID       uint64 `json:"id"`
	Username string `json:"username"`
}

// Identity returns the token identity of the user.
func (u User) Identity() Identity {
	return Identity{ID: u.ID, Username: u.Username}
}
