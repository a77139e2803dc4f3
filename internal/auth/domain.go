package auth

import "time"

// SessionRecord is the persisted trace of a login, kept alongside the Redis
// session for auditing and forced sign-out.
type SessionRecord struct {
	ID        string
	UserID    int64
	IP        string
	UserAgent string
	CreatedAt time.Time
	ExpiresAt time.Time
}
