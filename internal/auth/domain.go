package auth

import "time"

// SessionRecord is the postgres-side audit trail of a login session. The
// authoritative session lives in Redis; these rows survive session expiry
// so sign-ins remain traceable.
type SessionRecord struct {
	ID        string
	UserID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
	IP        string
	UserAgent string
}
