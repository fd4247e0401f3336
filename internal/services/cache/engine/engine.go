// Package engine implements the cache operations on top of a row store.
//
// Every operation performs its row store action first and then asks the
// sweeper whether an expired-row sweep is due. The engine keeps no entry state
// between calls.
package engine

import (
	"context"
	"errors"
	"strconv"
	"time"

	apperrors "github.com/louisbranch/tablecache/internal/platform/errors"
	"github.com/louisbranch/tablecache/internal/services/cache/expiration"
	"github.com/louisbranch/tablecache/internal/services/cache/storage"
	"github.com/louisbranch/tablecache/internal/services/cache/sweeper"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

// MaxKeyLength is the largest accepted key in bytes.
const MaxKeyLength = 449

const instrumentationName = "github.com/louisbranch/tablecache/internal/services/cache/engine"

// Options configures a Cache.
type Options struct {
	// SweepInterval defaults to sweeper.DefaultInterval.
	SweepInterval time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
	// DefaultSlidingExpiration applies to writes that set no expiration. Zero
	// rejects such writes.
	DefaultSlidingExpiration time.Duration
	Logf                     func(string, ...any)
	// TracerProvider and MeterProvider default to the otel globals.
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// Result carries the outcome of a non-blocking operation.
type Result[T any] struct {
	Value T
	Err   error
}

// Cache serves get, refresh, set, and remove against a row store.
type Cache struct {
	store          storage.Store
	sweeper        *sweeper.Sweeper
	now            func() time.Time
	defaultSliding time.Duration
	logf           func(string, ...any)

	tracer trace.Tracer
	hits   metric.Int64Counter
	misses metric.Int64Counter
	writes metric.Int64Counter
	sweeps metric.Int64Counter
	swept  metric.Int64Counter
}

// New builds a cache engine. Configuration problems are reported as
// CONFIGURATION_ERROR.
func New(store storage.Store, opts Options) (*Cache, error) {
	if store == nil {
		return nil, apperrors.New(apperrors.CodeConfiguration, "cache row store is required")
	}
	if opts.DefaultSlidingExpiration < 0 {
		return nil, apperrors.New(apperrors.CodeConfiguration, "default sliding expiration must not be negative")
	}
	if opts.DefaultSlidingExpiration > 0 && opts.DefaultSlidingExpiration < expiration.Resolution {
		return nil, apperrors.New(apperrors.CodeConfiguration, "default sliding expiration must be at least one millisecond")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logf := opts.Logf
	if logf == nil {
		logf = func(string, ...any) {}
	}
	tracerProvider := opts.TracerProvider
	if tracerProvider == nil {
		tracerProvider = otel.GetTracerProvider()
	}
	meterProvider := opts.MeterProvider
	if meterProvider == nil {
		meterProvider = otel.GetMeterProvider()
	}

	c := &Cache{
		store:          store,
		now:            now,
		defaultSliding: opts.DefaultSlidingExpiration.Truncate(expiration.Resolution),
		logf:           logf,
		tracer:         tracerProvider.Tracer(instrumentationName),
	}
	meter := meterProvider.Meter(instrumentationName)
	c.hits = c.counter(meter, "tablecache.cache.hits", "Reads that returned a live entry.")
	c.misses = c.counter(meter, "tablecache.cache.misses", "Reads and refreshes that found no live entry.")
	c.writes = c.counter(meter, "tablecache.cache.writes", "Entries written by set.")
	c.sweeps = c.counter(meter, "tablecache.sweep.runs", "Expired entry sweeps, labelled by outcome.")
	c.swept = c.counter(meter, "tablecache.sweep.deleted", "Expired entries removed by sweeps.")

	sw, err := sweeper.New(store.DeleteExpired, sweeper.Config{
		Interval: opts.SweepInterval,
		Now:      now,
		Logf:     logf,
		OnSweep:  c.recordSweep,
	})
	if err != nil {
		return nil, err
	}
	c.sweeper = sw
	return c, nil
}

func (c *Cache) counter(meter metric.Meter, name, description string) metric.Int64Counter {
	counter, err := meter.Int64Counter(name, metric.WithDescription(description))
	if err != nil {
		c.logf("create %s counter: %v", name, err)
		return noop.Int64Counter{}
	}
	return counter
}

func (c *Cache) recordSweep(deleted int64, err error) {
	ctx := context.Background()
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.sweeps.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	if deleted > 0 {
		c.swept.Add(ctx, deleted)
	}
}

// Get returns the live value for key and renews sliding expiration. A missing
// or expired entry yields NOT_FOUND.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := c.get(ctx, key)
	c.afterOperation(ctx, err)
	return value, err
}

// Refresh renews sliding expiration for key without reading the value.
func (c *Cache) Refresh(ctx context.Context, key string) error {
	err := c.refresh(ctx, key)
	c.afterOperation(ctx, err)
	return err
}

// Set stores value under key with the given expiration options, replacing any
// existing entry.
func (c *Cache) Set(ctx context.Context, key string, value []byte, opts expiration.Options) error {
	err := c.set(ctx, key, value, opts)
	c.afterOperation(ctx, err)
	return err
}

// Remove deletes key. Removing a missing key succeeds.
func (c *Cache) Remove(ctx context.Context, key string) error {
	err := c.remove(ctx, key)
	c.afterOperation(ctx, err)
	return err
}

// GetAsync is the non-blocking form of Get. The channel receives exactly one
// result; the sweep check runs after it is delivered.
func (c *Cache) GetAsync(ctx context.Context, key string) <-chan Result[[]byte] {
	return runAsync(ctx, c, func() ([]byte, error) {
		return c.get(ctx, key)
	})
}

// RefreshAsync is the non-blocking form of Refresh.
func (c *Cache) RefreshAsync(ctx context.Context, key string) <-chan Result[struct{}] {
	return runAsync(ctx, c, func() (struct{}, error) {
		return struct{}{}, c.refresh(ctx, key)
	})
}

// SetAsync is the non-blocking form of Set.
func (c *Cache) SetAsync(ctx context.Context, key string, value []byte, opts expiration.Options) <-chan Result[struct{}] {
	return runAsync(ctx, c, func() (struct{}, error) {
		return struct{}{}, c.set(ctx, key, value, opts)
	})
}

// RemoveAsync is the non-blocking form of Remove.
func (c *Cache) RemoveAsync(ctx context.Context, key string) <-chan Result[struct{}] {
	return runAsync(ctx, c, func() (struct{}, error) {
		return struct{}{}, c.remove(ctx, key)
	})
}

func runAsync[T any](ctx context.Context, c *Cache, op func() (T, error)) <-chan Result[T] {
	results := make(chan Result[T], 1)
	go func() {
		value, err := op()
		results <- Result[T]{Value: value, Err: err}
		close(results)
		c.afterOperation(ctx, err)
	}()
	return results
}

// Sweep synchronously deletes every expired entry and returns how many rows
// were removed.
func (c *Cache) Sweep(ctx context.Context) (int64, error) {
	ctx, span := c.tracer.Start(ctx, "cache.Sweep")
	defer span.End()

	deleted, err := c.sweeper.DeleteAllExpired(ctx)
	if err != nil {
		recordSpanError(span, err)
		return deleted, err
	}
	span.SetAttributes(attribute.Int64("cache.sweep.deleted", deleted))
	return deleted, nil
}

// Close waits for background sweeps and closes the row store.
func (c *Cache) Close() error {
	c.sweeper.Wait()
	return c.store.Close()
}

func (c *Cache) get(ctx context.Context, key string) ([]byte, error) {
	ctx, span := c.startSpan(ctx, "cache.Get", key)
	defer span.End()

	if err := validateKey(key); err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	entry, err := c.store.GetAndTouch(ctx, key, expiration.Normalize(c.now()))
	if err != nil {
		err = c.storeError(ctx, "get cache entry", err)
		recordSpanError(span, err)
		return nil, err
	}
	c.hits.Add(ctx, 1)
	span.SetAttributes(attribute.Bool("cache.hit", true))
	if entry.Value == nil {
		return []byte{}, nil
	}
	return entry.Value, nil
}

func (c *Cache) refresh(ctx context.Context, key string) error {
	ctx, span := c.startSpan(ctx, "cache.Refresh", key)
	defer span.End()

	if err := validateKey(key); err != nil {
		recordSpanError(span, err)
		return err
	}
	if err := c.store.Touch(ctx, key, expiration.Normalize(c.now())); err != nil {
		err = c.storeError(ctx, "refresh cache entry", err)
		recordSpanError(span, err)
		return err
	}
	return nil
}

func (c *Cache) set(ctx context.Context, key string, value []byte, opts expiration.Options) error {
	ctx, span := c.startSpan(ctx, "cache.Set", key)
	defer span.End()

	if err := validateKey(key); err != nil {
		recordSpanError(span, err)
		return err
	}
	now := expiration.Normalize(c.now())
	policy, err := expiration.Resolve(now, opts, c.defaultSliding)
	if err != nil {
		recordSpanError(span, err)
		return err
	}
	if value == nil {
		value = []byte{}
	}
	entry := storage.Entry{
		ID:                 key,
		Value:              value,
		ExpiresAt:          policy.ExpiresAt(now),
		SlidingExpiration:  policy.Sliding,
		AbsoluteExpiration: policy.Absolute,
	}
	if err := c.store.Upsert(ctx, entry); err != nil {
		err = c.storeError(ctx, "set cache entry", err)
		recordSpanError(span, err)
		return err
	}
	c.writes.Add(ctx, 1)
	return nil
}

func (c *Cache) remove(ctx context.Context, key string) error {
	ctx, span := c.startSpan(ctx, "cache.Remove", key)
	defer span.End()

	if err := validateKey(key); err != nil {
		recordSpanError(span, err)
		return err
	}
	if err := c.store.Delete(ctx, key); err != nil {
		err = c.storeError(ctx, "remove cache entry", err)
		recordSpanError(span, err)
		return err
	}
	return nil
}

// afterOperation triggers a sweep check unless the call was rejected before
// reaching the row store.
func (c *Cache) afterOperation(ctx context.Context, err error) {
	if errors.Is(err, storage.ErrInvalidEntry) {
		c.sweeper.MaybeTrigger(ctx)
		return
	}
	switch apperrors.CodeOf(err) {
	case apperrors.CodeInvalidKey, apperrors.CodeInvalidOptions:
		return
	}
	c.sweeper.MaybeTrigger(ctx)
}

func (c *Cache) storeError(ctx context.Context, message string, err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		c.misses.Add(ctx, 1)
		return apperrors.New(apperrors.CodeNotFound, "cache entry not found")
	case errors.Is(err, storage.ErrInvalidEntry):
		return apperrors.Wrap(apperrors.CodeInvalidOptions, message, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return apperrors.Wrap(apperrors.CodeStoreUnavailable, message, err)
	}
}

func (c *Cache) startSpan(ctx context.Context, name, key string) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, name, trace.WithAttributes(attribute.Int("cache.key_length", len(key))))
}

func recordSpanError(span trace.Span, err error) {
	if apperrors.CodeOf(err) == apperrors.CodeNotFound {
		span.SetAttributes(attribute.Bool("cache.hit", false))
		return
	}
	span.RecordError(err)
	span.SetStatus(otelcodes.Error, err.Error())
}

func validateKey(key string) error {
	if key == "" {
		return apperrors.New(apperrors.CodeInvalidKey, "cache key is required")
	}
	if len(key) > MaxKeyLength {
		return apperrors.WithMetadata(
			apperrors.CodeInvalidKey,
			"cache key is too long",
			map[string]string{"MaxLength": strconv.Itoa(MaxKeyLength)},
		)
	}
	return nil
}
