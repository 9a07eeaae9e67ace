package store

import "errors"

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("store: not found")

	// ErrLockTimeout is returned when a card lock could not be acquired
	// within the requested wait.
	ErrLockTimeout = errors.New("store: card lock wait timed out")

	// ErrDuplicate is returned when an insert violates a uniqueness rule.
	ErrDuplicate = errors.New("store: duplicate key")

	// ErrReleased is returned by LockedCard methods called after Release.
	ErrReleased = errors.New("store: card lock already released")

	// ErrConflict is returned by Commit when the card row no longer holds
	// the status and used_count read under the lock.  Another writer that
	// does not share the lock got there first; nothing was written.
	ErrConflict = errors.New("store: card changed since it was locked")
)

// Stats is a small snapshot used by the health endpoint.
type Stats struct {
	Cards             int64
	Credentials       int64
	ActiveCredentials int64
}
