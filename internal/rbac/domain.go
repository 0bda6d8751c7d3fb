package rbac

import "time"

// Role represents a named capability bundle.
type Role struct {
	ID          int64
	Name        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Permission represents an atomic capability token, e.g. "datasets.view".
type Permission struct {
	ID          int64
	Name        string
	Description string
}

// UserRole links a user to a role.
type UserRole struct {
	UserID    int64
	RoleID    int64
	CreatedAt time.Time
}

// Principal describes the authenticated actor as resolved by the session
// layer. Core functions receive it explicitly; nothing in this package reads
// ambient request state.
type Principal struct {
	ID     int64
	ASGLID string
	Roles  []string
}

// HasRole reports whether the principal holds the named role.
func (p *Principal) HasRole(name string) bool {
	if p == nil {
		return false
	}
	for _, r := range p.Roles {
		if r == name {
			return true
		}
	}
	return false
}
