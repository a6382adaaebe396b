package core

import (
	"context"
	"time"
)

type (
	// User is the identity a session is authenticated as. Online is derived by the
	// presence registry and is never written by storage.
	User struct {
		ID       string    `json:"id"`
		Name     string    `json:"name"`
		Online   bool      `json:"online"`
		LastSeen time.Time `json:"lastSeen,omitempty"`
	}

	// UserStore is the identity collaborator backing credential resolution.
	UserStore interface {
		// FindUser returns ErrNotFound when the id is unknown.
		FindUser(ctx context.Context, id string) (*User, error)

		// UpsertUser creates the user or refreshes its display name.
		UpsertUser(ctx context.Context, user *User) error

		// SetLastSeen records the last online/offline transition of a user.
		SetLastSeen(ctx context.Context, id string, at time.Time) error
	}
)

// Summary returns the copy of u that is safe to put on the wire.
func (u *User) Summary() User {
	if u == nil {
		return User{}
	}
	return User{ID: u.ID, Name: u.Name, Online: u.Online, LastSeen: u.LastSeen}
}
