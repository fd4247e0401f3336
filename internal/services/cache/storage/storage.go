// Package storage defines the row store contract the cache engine depends on.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates no live row exists for the requested key.
var ErrNotFound = errors.New("cache entry not found")

// ErrInvalidEntry indicates the row was rejected by a table constraint.
var ErrInvalidEntry = errors.New("cache entry violates table constraints")

// Entry is one persisted cache row. All timestamps are UTC.
type Entry struct {
	ID        string
	Value     []byte
	ExpiresAt time.Time
	// SlidingExpiration is zero when the entry does not slide.
	SlidingExpiration time.Duration
	// AbsoluteExpiration is nil when the entry has no hard ceiling.
	AbsoluteExpiration *time.Time
}

// Store persists cache rows and applies expiry bookkeeping atomically.
//
// Touch and GetAndTouch renew a sliding entry with a single conditional write
// that only matches rows where now <= ExpiresAt, SlidingExpiration is set, and
// ExpiresAt is not already pinned at AbsoluteExpiration. The new expiry is
// min(now + SlidingExpiration, AbsoluteExpiration), and a renewal never moves
// ExpiresAt earlier than its stored value.
type Store interface {
	// GetAndTouch renews the row then returns it, or ErrNotFound when no row
	// is live at now.
	GetAndTouch(ctx context.Context, id string, now time.Time) (Entry, error)
	// Touch renews the row without reading its value. It returns ErrNotFound
	// when no row is live at now.
	Touch(ctx context.Context, id string, now time.Time) error
	// Upsert fully replaces the row for entry.ID. Rows the table rejects wrap
	// ErrInvalidEntry.
	Upsert(ctx context.Context, entry Entry) error
	// Delete removes the row. Missing rows are not an error.
	Delete(ctx context.Context, id string) error
	// DeleteExpired removes every row with ExpiresAt before now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	// Close releases the underlying connection pool.
	Close() error
}
