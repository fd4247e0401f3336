// Package expiration computes cache entry expiry from sliding and absolute
// policies.
//
// An entry expires once the current time is after its expiresAt. A sliding
// interval pushes expiresAt forward on every read; an absolute expiration is a
// hard ceiling that expiresAt never passes.
package expiration

import (
	"time"

	apperrors "github.com/louisbranch/tablecache/internal/platform/errors"
)

// Resolution is the storage precision shared by every row store.
const Resolution = time.Millisecond

// Options carries the caller-facing expiration settings for a write.
// Zero durations and a nil AbsoluteExpiration mean "not set".
type Options struct {
	SlidingExpiration               time.Duration
	AbsoluteExpiration              *time.Time
	AbsoluteExpirationRelativeToNow time.Duration
}

// Policy is the resolved expiration configuration persisted with an entry.
type Policy struct {
	// Sliding is zero when the entry does not slide.
	Sliding time.Duration
	// Absolute is nil when the entry has no hard ceiling.
	Absolute *time.Time
}

// IsSliding reports whether reads renew the entry.
func (p Policy) IsSliding() bool {
	return p.Sliding > 0
}

// ExpiresAt returns the initial expiry for an entry written at now.
func (p Policy) ExpiresAt(now time.Time) time.Time {
	return Next(now, p.Sliding, p.Absolute)
}

// Next computes an expiry from the current time, a sliding interval, and an
// absolute ceiling:
//
//   - no sliding: the absolute ceiling
//   - sliding, no ceiling: now + sliding
//   - both: min(now + sliding, ceiling)
func Next(now time.Time, sliding time.Duration, absolute *time.Time) time.Time {
	now = Normalize(now)
	if sliding <= 0 {
		if absolute == nil {
			return time.Time{}
		}
		return Normalize(*absolute)
	}
	next := now.Add(sliding)
	if absolute != nil && Normalize(*absolute).Before(next) {
		return Normalize(*absolute)
	}
	return next
}

// Touch applies the renewal rule used on reads. It returns the new expiry and
// true when a write is needed. No write happens when the entry is already
// expired, does not slide, or is already pinned at its absolute ceiling.
func Touch(now, expiresAt time.Time, sliding time.Duration, absolute *time.Time) (time.Time, bool) {
	now = Normalize(now)
	expiresAt = Normalize(expiresAt)
	if now.After(expiresAt) || sliding <= 0 {
		return expiresAt, false
	}
	if absolute != nil {
		ceiling := Normalize(*absolute)
		if ceiling.Equal(expiresAt) {
			return expiresAt, false
		}
		if ceiling.Sub(now) <= sliding {
			return ceiling, true
		}
	}
	return now.Add(sliding), true
}

// IsExpired reports whether an entry with expiresAt is logically deleted at now.
func IsExpired(now, expiresAt time.Time) bool {
	return Normalize(now).After(Normalize(expiresAt))
}

// Resolve validates caller options at now and turns them into a Policy.
//
// AbsoluteExpirationRelativeToNow wins over AbsoluteExpiration when both are
// set. When neither sliding nor absolute is given, defaultSliding is used; a
// zero defaultSliding makes that an InvalidOptions error.
func Resolve(now time.Time, opts Options, defaultSliding time.Duration) (Policy, error) {
	now = Normalize(now)
	if opts.SlidingExpiration < 0 {
		return Policy{}, invalid("sliding expiration must be positive")
	}
	if opts.SlidingExpiration > 0 && opts.SlidingExpiration < Resolution {
		return Policy{}, invalid("sliding expiration must be at least one millisecond")
	}
	if opts.AbsoluteExpirationRelativeToNow < 0 {
		return Policy{}, invalid("relative absolute expiration must be positive")
	}

	var absolute *time.Time
	switch {
	case opts.AbsoluteExpirationRelativeToNow > 0:
		at := Normalize(now.Add(opts.AbsoluteExpirationRelativeToNow))
		absolute = &at
	case opts.AbsoluteExpiration != nil:
		at := Normalize(*opts.AbsoluteExpiration)
		absolute = &at
	}
	if absolute != nil && !absolute.After(now) {
		return Policy{}, invalid("absolute expiration must be in the future")
	}

	sliding := opts.SlidingExpiration.Truncate(Resolution)
	if sliding == 0 && absolute == nil {
		if defaultSliding <= 0 {
			return Policy{}, invalid("a sliding or absolute expiration is required")
		}
		sliding = defaultSliding
	}
	return Policy{Sliding: sliding, Absolute: absolute}, nil
}

// Normalize converts t to UTC at storage resolution.
func Normalize(t time.Time) time.Time {
	return t.UTC().Truncate(Resolution)
}

func invalid(reason string) error {
	return apperrors.WithMetadata(apperrors.CodeInvalidOptions, reason, map[string]string{"Reason": reason})
}
