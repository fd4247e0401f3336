// Package sweeper removes expired cache rows in the background at most once
// per interval.
//
// Sweeps are triggered opportunistically by cache operations instead of by a
// timer: the first operation after the interval elapses claims the sweep slot
// and starts one background deletion. Other callers return immediately.
package sweeper

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/louisbranch/tablecache/internal/platform/errors"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultInterval is used when Config.Interval is zero.
	DefaultInterval = 30 * time.Minute
	// MinInterval is the shortest accepted sweep interval.
	MinInterval = 5 * time.Minute

	// neverSwept marks a sweeper that has not claimed a sweep yet.
	neverSwept = math.MinInt64
)

// DeleteExpiredFunc removes every row expired at now and returns how many
// rows were deleted.
type DeleteExpiredFunc func(ctx context.Context, now time.Time) (int64, error)

// Config controls sweep rate limiting and reporting.
type Config struct {
	Interval time.Duration
	// Now defaults to time.Now.
	Now  func() time.Time
	Logf func(string, ...any)
	// OnSweep observes every completed sweep, including failures.
	OnSweep func(deleted int64, err error)
}

// Sweeper rate-limits expired row deletion.
type Sweeper struct {
	deleteExpired DeleteExpiredFunc
	interval      time.Duration
	now           func() time.Time
	logf          func(string, ...any)
	onSweep       func(int64, error)

	// lastSweep is the Unix nanosecond time of the last claimed sweep, or
	// neverSwept.
	lastSweep atomic.Int64
	group     singleflight.Group
	inflight  sync.WaitGroup
}

// New builds a sweeper around deleteExpired.
func New(deleteExpired DeleteExpiredFunc, cfg Config) (*Sweeper, error) {
	if deleteExpired == nil {
		return nil, apperrors.New(apperrors.CodeConfiguration, "sweeper delete function is required")
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = DefaultInterval
	}
	if interval < MinInterval {
		return nil, apperrors.WithMetadata(
			apperrors.CodeConfiguration,
			"sweep interval must be at least "+MinInterval.String(),
			map[string]string{"Interval": interval.String(), "MinInterval": MinInterval.String()},
		)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logf := cfg.Logf
	if logf == nil {
		logf = func(string, ...any) {}
	}
	s := &Sweeper{
		deleteExpired: deleteExpired,
		interval:      interval,
		now:           now,
		logf:          logf,
		onSweep:       cfg.OnSweep,
	}
	s.lastSweep.Store(neverSwept)
	return s, nil
}

// Interval returns the effective sweep interval.
func (s *Sweeper) Interval() time.Duration {
	return s.interval
}

// MaybeTrigger starts a background sweep when more than the interval has
// passed since the last one and reports whether this call started it. It never
// blocks on the sweep and never reports sweep errors.
func (s *Sweeper) MaybeTrigger(ctx context.Context) bool {
	now := s.now()
	last := s.lastSweep.Load()
	if last != neverSwept && now.Sub(time.Unix(0, last)) <= s.interval {
		return false
	}
	if !s.lastSweep.CompareAndSwap(last, now.UnixNano()) {
		return false
	}

	// The sweep outlives the triggering request but keeps its trace values.
	sweepCtx := context.WithoutCancel(ctx)
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		deleted, err := s.sweep(sweepCtx)
		if err != nil {
			s.logf("expired cache sweep failed: %v", err)
			return
		}
		if deleted > 0 {
			s.logf("expired cache sweep removed %d entries", deleted)
		}
	}()
	return true
}

// DeleteAllExpired synchronously removes expired rows. Concurrent calls share
// one deletion.
func (s *Sweeper) DeleteAllExpired(ctx context.Context) (int64, error) {
	s.lastSweep.Store(s.now().UnixNano())
	return s.sweep(ctx)
}

// Wait blocks until background sweeps started so far have finished.
func (s *Sweeper) Wait() {
	s.inflight.Wait()
}

func (s *Sweeper) sweep(ctx context.Context) (int64, error) {
	value, err, _ := s.group.Do("sweep", func() (any, error) {
		deleted, err := s.deleteExpired(ctx, s.now())
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			err = apperrors.Wrap(apperrors.CodeSweepFailure, "delete expired cache entries", err)
		}
		if s.onSweep != nil {
			s.onSweep(deleted, err)
		}
		return deleted, err
	})
	deleted, _ := value.(int64)
	return deleted, err
}
