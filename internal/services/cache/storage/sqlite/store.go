// Package sqlite provides a SQLite-backed cache row store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	apperrors "github.com/louisbranch/tablecache/internal/platform/errors"
	"github.com/louisbranch/tablecache/internal/platform/storage/sqlmigrate"
	"github.com/louisbranch/tablecache/internal/services/cache/storage"
	"github.com/louisbranch/tablecache/internal/services/cache/storage/sqlite/migrations"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// DefaultTable is used when Config.Table is empty.
const DefaultTable = "cache_entries"

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config identifies the database file and table backing a cache.
type Config struct {
	Path  string
	Table string
}

// Store persists cache rows in SQLite.
type Store struct {
	sqlDB   *sql.DB
	queries queries
}

type queries struct {
	touch         string
	selectLive    string
	existsLive    string
	upsert        string
	delete        string
	deleteExpired string
}

func newQueries(table string) queries {
	quoted := `"` + table + `"`
	return queries{
		touch: `UPDATE ` + quoted + `
		    SET expires_at = CASE
		          WHEN absolute_expiration IS NOT NULL
		           AND absolute_expiration - ?1 <= sliding_expiration_ms
		          THEN absolute_expiration
		          ELSE MAX(expires_at, ?1 + sliding_expiration_ms)
		        END
		  WHERE id = ?2
		    AND ?1 <= expires_at
		    AND sliding_expiration_ms IS NOT NULL
		    AND (absolute_expiration IS NULL OR absolute_expiration <> expires_at)`,
		selectLive: `SELECT id, value, expires_at, sliding_expiration_ms, absolute_expiration
		   FROM ` + quoted + `
		  WHERE id = ?2 AND ?1 <= expires_at`,
		existsLive: `SELECT 1 FROM ` + quoted + ` WHERE id = ?2 AND ?1 <= expires_at`,
		upsert: `INSERT INTO ` + quoted + ` (
		   id, value, expires_at, sliding_expiration_ms, absolute_expiration
		 ) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   value = excluded.value,
		   expires_at = excluded.expires_at,
		   sliding_expiration_ms = excluded.sliding_expiration_ms,
		   absolute_expiration = excluded.absolute_expiration`,
		delete:        `DELETE FROM ` + quoted + ` WHERE id = ?`,
		deleteExpired: `DELETE FROM ` + quoted + ` WHERE ? > expires_at`,
	}
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite cache store and applies embedded migrations for the
// configured table.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, apperrors.New(apperrors.CodeConfiguration, "sqlite storage path is required")
	}
	table := strings.TrimSpace(cfg.Table)
	if table == "" {
		table = DefaultTable
	}
	if !tableNamePattern.MatchString(table) {
		return nil, apperrors.WithMetadata(apperrors.CodeConfiguration, fmt.Sprintf("invalid table name %q", table), map[string]string{"Table": table})
	}

	// Pragmas use the modernc.org/sqlite DSN syntax; immediate transactions
	// take the write lock up front so touch-and-read never upgrades a lock.
	dsn := filepath.Clean(path) +
		"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlmigrate.ApplyMigrations(ctx, sqlDB, migrations.FS, sqlmigrate.Options{
		Dialect:   sqlmigrate.DialectSQLite,
		KeyPrefix: table,
		Vars:      map[string]string{"table": table},
	}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB, queries: newQueries(table)}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// GetAndTouch renews a sliding entry and reads it in one transaction.
func (s *Store) GetAndTouch(ctx context.Context, id string, now time.Time) (storage.Entry, error) {
	if err := s.ready(ctx); err != nil {
		return storage.Entry{}, err
	}
	nowMillis := toMillis(now)

	var entry storage.Entry
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.queries.touch, nowMillis, id); err != nil {
			return fmt.Errorf("touch cache entry: %w", err)
		}
		row := tx.QueryRowContext(ctx, s.queries.selectLive, nowMillis, id)
		var (
			expiresAt int64
			sliding   sql.NullInt64
			absolute  sql.NullInt64
		)
		if err := row.Scan(&entry.ID, &entry.Value, &expiresAt, &sliding, &absolute); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return storage.ErrNotFound
			}
			return fmt.Errorf("get cache entry: %w", err)
		}
		entry.ExpiresAt = fromMillis(expiresAt)
		if sliding.Valid {
			entry.SlidingExpiration = time.Duration(sliding.Int64) * time.Millisecond
		}
		if absolute.Valid {
			at := fromMillis(absolute.Int64)
			entry.AbsoluteExpiration = &at
		}
		return nil
	})
	if err != nil {
		return storage.Entry{}, err
	}
	return entry, nil
}

// Touch renews a sliding entry without reading its value.
func (s *Store) Touch(ctx context.Context, id string, now time.Time) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	nowMillis := toMillis(now)

	return s.inTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, s.queries.touch, nowMillis, id)
		if err != nil {
			return fmt.Errorf("touch cache entry: %w", err)
		}
		if affected, err := result.RowsAffected(); err == nil && affected > 0 {
			return nil
		}
		// Live rows that are pinned or non-sliding match no update.
		var found int
		if err := tx.QueryRowContext(ctx, s.queries.existsLive, nowMillis, id).Scan(&found); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return storage.ErrNotFound
			}
			return fmt.Errorf("check cache entry: %w", err)
		}
		return nil
	})
}

// Upsert inserts or fully replaces one cache row.
func (s *Store) Upsert(ctx context.Context, entry storage.Entry) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	id := entry.ID
	if id == "" {
		return fmt.Errorf("cache entry id is required")
	}
	value := entry.Value
	if value == nil {
		value = []byte{}
	}
	var sliding sql.NullInt64
	if entry.SlidingExpiration > 0 {
		sliding = sql.NullInt64{Int64: entry.SlidingExpiration.Milliseconds(), Valid: true}
	}
	var absolute sql.NullInt64
	if entry.AbsoluteExpiration != nil {
		absolute = sql.NullInt64{Int64: toMillis(*entry.AbsoluteExpiration), Valid: true}
	}

	if _, err := s.sqlDB.ExecContext(
		ctx,
		s.queries.upsert,
		id,
		value,
		toMillis(entry.ExpiresAt),
		sliding,
		absolute,
	); err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("upsert cache entry %q: %w: %v", id, storage.ErrInvalidEntry, err)
		}
		return fmt.Errorf("upsert cache entry: %w", err)
	}
	return nil
}

// Delete removes one cache row if present.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if _, err := s.sqlDB.ExecContext(ctx, s.queries.delete, id); err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

// DeleteExpired removes every row whose expiry is before now.
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	result, err := s.sqlDB.ExecContext(ctx, s.queries.deleteExpired, toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("delete expired cache entries: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count expired cache entries: %w", err)
	}
	return deleted, nil
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin cache transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit cache transaction: %w", err)
	}
	return nil
}

func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xff == sqlite3lib.SQLITE_CONSTRAINT
	}
	return strings.Contains(strings.ToLower(err.Error()), "constraint failed")
}

var _ storage.Store = (*Store)(nil)
