package users

import "time"

// User represents a principal account. ASGLID is the stable external
// identifier assigned by the upstream identity provider; the local password
// hash is optional and only present for accounts with local credentials.
type User struct {
	ID           int64
	ASGLID       string
	Email        string
	Name         string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
