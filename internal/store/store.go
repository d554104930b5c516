// ABOUTME: Store interface and data types for postbox persistence
// ABOUTME: Defines Profile, Mail structs and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Profile maps a platform user to their current mail code.
// UserID is the canonical platform identity (e.g. "@alice:example.org") and
// is the primary key: a user holds at most one profile at any time. Issuing
// a new code replaces the old one in place.
type Profile struct {
	UserID    string
	Username  string // display-name snapshot at last issue, advisory only
	Code      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Mail is one delivered message. Records are append-only: never updated,
// never deleted. ID is assigned by the store and increases monotonically
// with insertion order.
type Mail struct {
	ID          int64
	RecipientID string
	SenderName  string // display-name snapshot at send time, advisory only
	Body        string
	CreatedAt   time.Time
}

// Store defines the interface for profile and mail persistence
type Store interface {
	// Profiles
	// UpsertProfile replaces the profile for profile.UserID if present,
	// else inserts it. Atomic per user.
	UpsertProfile(ctx context.Context, profile *Profile) error
	GetProfileByUser(ctx context.Context, userID string) (*Profile, error)
	// GetProfileByCode resolves a mail code to its profile. If duplicate
	// codes exist, the most recently issued profile wins.
	GetProfileByCode(ctx context.Context, code string) (*Profile, error)
	// ListProfiles returns all profiles ordered by user ID ascending.
	ListProfiles(ctx context.Context) ([]*Profile, error)
	CountProfiles(ctx context.Context) (int, error)

	// Mail
	// InsertMail persists one mail record and sets mail.ID.
	InsertMail(ctx context.Context, mail *Mail) error
	// ListMailFor returns all mail for a recipient, oldest first.
	ListMailFor(ctx context.Context, userID string) ([]*Mail, error)

	// Close releases any resources held by the store
	Close() error
}
