// Package postgres provides a PostgreSQL-backed cache row store using the pgx
// database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	apperrors "github.com/louisbranch/tablecache/internal/platform/errors"
	"github.com/louisbranch/tablecache/internal/platform/storage/sqlmigrate"
	"github.com/louisbranch/tablecache/internal/services/cache/storage"
	"github.com/louisbranch/tablecache/internal/services/cache/storage/postgres/migrations"
)

const (
	// DefaultSchema is used when Config.Schema is empty and defaults are applied
	// by the caller.
	DefaultSchema = "public"
	// DefaultTable is the conventional cache table name.
	DefaultTable = "cache_entries"

	migrationTable = "tablecache_migrations"
)

// Config identifies the PostgreSQL database, schema, and table backing a cache.
type Config struct {
	DSN    string
	Schema string
	Table  string
	// EnsureSchema creates the schema and table when they are missing.
	EnsureSchema bool
}

// Store persists cache rows in PostgreSQL.
type Store struct {
	sqlDB   *sql.DB
	queries queries
}

type queries struct {
	tableInfo     string
	touch         string
	selectLive    string
	existsLive    string
	upsert        string
	delete        string
	deleteExpired string
}

// newQueries renders every statement for one schema-qualified table. Both
// names are quoted as identifiers so arbitrary schema and table names are safe.
func newQueries(schema, table string) queries {
	qualified := pgx.Identifier{schema, table}.Sanitize()
	return queries{
		tableInfo: `SELECT 1 FROM information_schema.tables
		  WHERE table_schema = $1 AND table_name = $2`,
		touch: `UPDATE ` + qualified + `
		    SET "ExpiresAtTime" = CASE
		          WHEN "AbsoluteExpiration" IS NOT NULL
		           AND "AbsoluteExpiration" - $1::timestamptz <= "SlidingExpirationInSeconds" * interval '1 second'
		          THEN "AbsoluteExpiration"
		          ELSE GREATEST("ExpiresAtTime", $1::timestamptz + "SlidingExpirationInSeconds" * interval '1 second')
		        END
		  WHERE "Id" = $2
		    AND $1::timestamptz <= "ExpiresAtTime"
		    AND "SlidingExpirationInSeconds" IS NOT NULL
		    AND ("AbsoluteExpiration" IS NULL OR "AbsoluteExpiration" <> "ExpiresAtTime")`,
		selectLive: `SELECT "Id", "Value", "ExpiresAtTime", "SlidingExpirationInSeconds", "AbsoluteExpiration"
		   FROM ` + qualified + `
		  WHERE "Id" = $2 AND $1::timestamptz <= "ExpiresAtTime"`,
		existsLive: `SELECT 1 FROM ` + qualified + ` WHERE "Id" = $2 AND $1::timestamptz <= "ExpiresAtTime"`,
		upsert: `INSERT INTO ` + qualified + ` (
		   "Id", "Value", "ExpiresAtTime", "SlidingExpirationInSeconds", "AbsoluteExpiration"
		 ) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT ("Id") DO UPDATE SET
		   "Value" = EXCLUDED."Value",
		   "ExpiresAtTime" = EXCLUDED."ExpiresAtTime",
		   "SlidingExpirationInSeconds" = EXCLUDED."SlidingExpirationInSeconds",
		   "AbsoluteExpiration" = EXCLUDED."AbsoluteExpiration"`,
		delete:        `DELETE FROM ` + qualified + ` WHERE "Id" = $1`,
		deleteExpired: `DELETE FROM ` + qualified + ` WHERE $1::timestamptz > "ExpiresAtTime"`,
	}
}

// Open connects to PostgreSQL and verifies the cache table exists, creating it
// first when cfg.EnsureSchema is set.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, apperrors.New(apperrors.CodeConfiguration, "postgres connection string is required")
	}
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		return nil, apperrors.New(apperrors.CodeConfiguration, "postgres schema name is required")
	}
	table := strings.TrimSpace(cfg.Table)
	if table == "" {
		return nil, apperrors.New(apperrors.CodeConfiguration, "postgres table name is required")
	}

	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping postgres db: %w", err)
	}

	store := &Store{sqlDB: sqlDB, queries: newQueries(schema, table)}
	if cfg.EnsureSchema {
		if err := store.ensureSchema(ctx, schema, table); err != nil {
			_ = sqlDB.Close()
			return nil, err
		}
	}
	if err := store.checkTable(ctx, schema, table); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) ensureSchema(ctx context.Context, schema, table string) error {
	if _, err := s.sqlDB.ExecContext(ctx, `CREATE SCHEMA IF NOT EXISTS `+pgx.Identifier{schema}.Sanitize()); err != nil {
		return fmt.Errorf("create schema %s: %w", schema, err)
	}
	if err := sqlmigrate.ApplyMigrations(ctx, s.sqlDB, migrations.FS, sqlmigrate.Options{
		Dialect:        sqlmigrate.DialectPostgres,
		MigrationTable: pgx.Identifier{schema, migrationTable}.Sanitize(),
		KeyPrefix:      schema + "." + table,
		Vars: map[string]string{
			"table": pgx.Identifier{schema, table}.Sanitize(),
			"index": pgx.Identifier{"idx_" + table + "_expires_at"}.Sanitize(),
		},
	}); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func (s *Store) checkTable(ctx context.Context, schema, table string) error {
	var found int
	err := s.sqlDB.QueryRowContext(ctx, s.queries.tableInfo, schema, table).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.WithMetadata(
			apperrors.CodeConfiguration,
			fmt.Sprintf("cache table %s.%s does not exist", schema, table),
			map[string]string{"Schema": schema, "Table": table},
		)
	}
	if err != nil {
		return fmt.Errorf("check cache table: %w", err)
	}
	return nil
}

// Close closes the PostgreSQL connection pool.
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
	now = now.UTC()

	var entry storage.Entry
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.queries.touch, now, id); err != nil {
			return fmt.Errorf("touch cache entry: %w", err)
		}
		var (
			expiresAt time.Time
			sliding   sql.NullFloat64
			absolute  sql.NullTime
		)
		row := tx.QueryRowContext(ctx, s.queries.selectLive, now, id)
		if err := row.Scan(&entry.ID, &entry.Value, &expiresAt, &sliding, &absolute); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return storage.ErrNotFound
			}
			return fmt.Errorf("get cache entry: %w", err)
		}
		entry.ExpiresAt = expiresAt.UTC()
		if sliding.Valid {
			entry.SlidingExpiration = fromSeconds(sliding.Float64)
		}
		if absolute.Valid {
			at := absolute.Time.UTC()
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
	now = now.UTC()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, s.queries.touch, now, id)
		if err != nil {
			return fmt.Errorf("touch cache entry: %w", err)
		}
		if affected, err := result.RowsAffected(); err == nil && affected > 0 {
			return nil
		}
		var found int
		if err := tx.QueryRowContext(ctx, s.queries.existsLive, now, id).Scan(&found); err != nil {
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
	if entry.ID == "" {
		return fmt.Errorf("cache entry id is required")
	}
	value := entry.Value
	if value == nil {
		value = []byte{}
	}
	var sliding sql.NullFloat64
	if entry.SlidingExpiration > 0 {
		sliding = sql.NullFloat64{Float64: toSeconds(entry.SlidingExpiration), Valid: true}
	}
	var absolute sql.NullTime
	if entry.AbsoluteExpiration != nil {
		absolute = sql.NullTime{Time: entry.AbsoluteExpiration.UTC(), Valid: true}
	}

	if _, err := s.sqlDB.ExecContext(
		ctx,
		s.queries.upsert,
		entry.ID,
		value,
		entry.ExpiresAt.UTC(),
		sliding,
		absolute,
	); err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("upsert cache entry %q: %w: %v", entry.ID, storage.ErrInvalidEntry, err)
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
	result, err := s.sqlDB.ExecContext(ctx, s.queries.deleteExpired, now.UTC())
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

func toSeconds(d time.Duration) float64 {
	return float64(d.Milliseconds()) / 1000
}

func fromSeconds(seconds float64) time.Duration {
	return time.Duration(math.Round(seconds*1000)) * time.Millisecond
}

// isConstraintViolation reports integrity constraint failures (SQLSTATE class 23).
func isConstraintViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, "23")
	}
	return false
}

var _ storage.Store = (*Store)(nil)
