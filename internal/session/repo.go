package session

import (
	"context"
	"time"
)

// Repository is the session persistence contract. Implementations must make
// Create fail with SessionConflict when a row with the id already exists,
// and UpdateStatusIf atomic with respect to concurrent transitions.
type Repository interface {
	Close() error

	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	// List returns every session; ListByOwner filters to one owner. Both
	// order by creation time, oldest first.
	List(ctx context.Context) ([]*Session, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*Session, error)
	Update(ctx context.Context, s *Session) error

	// UpdateStatusIf moves the session from any of the given states to the
	// target state, returning whether the transition happened. This is the
	// test-and-set that keeps concurrent deletes and the reaper from
	// double-tearing-down a session.
	UpdateStatusIf(ctx context.Context, id string, from []Status, to Status) (bool, error)

	// Touch records activity for idle-TTL accounting.
	Touch(ctx context.Context, id string, at time.Time) error

	// Delete removes the row. Deleting an absent row is a no-op.
	Delete(ctx context.Context, id string) error
}
