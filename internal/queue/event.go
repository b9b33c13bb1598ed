// Package queue carries authentication audit events over RabbitMQ: a
// publisher used by the API and a consumer that appends them to a log file.
package queue

import (
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/authgate/internal/auth"
)

// AuthQueueName is the durable queue audit events are routed to.
const AuthQueueName = "auth.events"

// AuthEvent is the wire form of an audit event. It never carries passwords
// or tokens.
type AuthEvent struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	UserID     uint64 `json:"user_id"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	OccurredAt string `json:"occurred_at"` // RFC3339, UTC
}

// NewAuthEvent stamps ev with a fresh id and the given time.
func NewAuthEvent(ev auth.Event, at time.Time) AuthEvent {
	return AuthEvent{
		ID:         uuid.NewString(),
		Type:       ev.Type,
		UserID:     ev.UserID,
		Username:   ev.Username,
		Email:      ev.Email,
		OccurredAt: at.UTC().Format(time.RFC3339),
	}
}
