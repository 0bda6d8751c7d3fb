package datasets

import "time"

// Action enumerates the operations the access resolver understands.
type Action string

const (
	ActionView   Action = "view"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
)

// Valid reports whether the action is one of the known values.
func (a Action) Valid() bool {
	switch a {
	case ActionView, ActionEdit, ActionDelete:
		return true
	}
	return false
}

// Dataset is a node in the resource forest. ParentID is nil for roots.
type Dataset struct {
	ID          int64
	ParentID    *int64
	OwnerID     int64
	Name        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Document is a leaf attached to a dataset. Documents have no children.
type Document struct {
	ID        int64
	DatasetID int64
	OwnerID   int64
	Name      string
	MimeType  string
	SizeBytes int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AccessGrant is an explicit per-resource capability record, unique per
// (user, resource). Absence of a grant does not mean "no access": dataset
// access may still be inherited from an ancestor.
type AccessGrant struct {
	UserID    int64
	CanView   bool
	CanEdit   bool
	CanDelete bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Allows maps the action onto the fixed capability flags.
func (g AccessGrant) Allows(action Action) bool {
	switch action {
	case ActionView:
		return g.CanView
	case ActionEdit:
		return g.CanEdit
	case ActionDelete:
		return g.CanDelete
	}
	return false
}
