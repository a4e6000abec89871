// Package store defines the persistence interfaces the gateway and HTTP
// handlers consume.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/mikeiscool1/vitchat.xyz/internal/snowflake"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// UserState describes whether an account may act.
type UserState string

const (
	// UserStateActive accounts have full access.
	UserStateActive UserState = "active"
	// UserStateWaitlist accounts await admin approval; they cannot log in
	// or connect.
	UserStateWaitlist UserState = "waitlist"
	// UserStateSuspended accounts are locked out, optionally until a
	// deadline after which they reactivate on next contact.
	UserStateSuspended UserState = "suspended"
)

// User is a chat account.
type User struct {
	ID              snowflake.ID
	Username        string
	PasswordHash    string
	Admin           bool
	State           UserState
	SuspendedUntil  *time.Time
	SuspendedReason *string
	CreatedAt       time.Time
}

// Message is a persisted chat message. The snowflake ID doubles as the
// creation-ordered pagination cursor.
type Message struct {
	ID       snowflake.ID
	AuthorID snowflake.ID
	Content  string
}

// UserStore handles account persistence.
type UserStore interface {
	// CreateUser inserts a new account.
	CreateUser(ctx context.Context, user *User) error

	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id snowflake.ID) (*User, error)

	// GetUserByUsername retrieves a user by username, case-insensitively.
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	// ListUsers returns accounts ordered by username. Waitlisted accounts
	// are excluded unless includeWaitlist is set.
	ListUsers(ctx context.Context, includeWaitlist bool) ([]*User, error)

	// UpdateUsername changes a user's name.
	UpdateUsername(ctx context.Context, id snowflake.ID, username string) error

	// UpdatePasswordHash replaces a user's password hash.
	UpdatePasswordHash(ctx context.Context, id snowflake.ID, hash string) error

	// SetUserState moves an account between active/waitlist/suspended.
	// until and reason only apply to suspensions.
	SetUserState(ctx context.Context, id snowflake.ID, state UserState, until *time.Time, reason *string) error
}

// MessageStore handles message persistence.
type MessageStore interface {
	// SaveMessage inserts a message with a pre-generated snowflake ID.
	SaveMessage(ctx context.Context, msg *Message) error

	// GetMessage retrieves a message by ID.
	GetMessage(ctx context.Context, id snowflake.ID) (*Message, error)

	// UpdateMessage replaces a message's content.
	UpdateMessage(ctx context.Context, id snowflake.ID, content string) error

	// DeleteMessage removes a message.
	DeleteMessage(ctx context.Context, id snowflake.ID) error

	// ListMessages returns up to limit messages with after < id < before,
	// ascending by ID. The newest matching messages win when more than
	// limit qualify.
	ListMessages(ctx context.Context, after, before snowflake.ID, limit int) ([]*Message, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	MessageStore

	// Close closes the underlying database connection.
	Close() error
}
