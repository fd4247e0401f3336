// Package sqlmigrate applies embedded SQL migrations for SQLite and PostgreSQL
// backed stores.
package sqlmigrate

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"
)

// Dialect selects the SQL flavor used for migration bookkeeping.
type Dialect string

const (
	// DialectSQLite targets modernc.org/sqlite.
	DialectSQLite Dialect = "sqlite"
	// DialectPostgres targets PostgreSQL through pgx.
	DialectPostgres Dialect = "postgres"
)

const defaultMigrationTable = "schema_migrations"

// Options controls how migrations are located, rendered, and recorded.
type Options struct {
	// Root is the directory inside the migration FS. Empty means ".".
	Root string
	// Dialect defaults to DialectSQLite.
	Dialect Dialect
	// MigrationTable overrides the bookkeeping table name.
	MigrationTable string
	// KeyPrefix namespaces recorded migration names so the same files can be
	// applied once per rendered target (for example once per cache table).
	KeyPrefix string
	// Vars replaces {{name}} placeholders in migration bodies.
	Vars map[string]string
}

// ApplyMigrations executes embedded migrations at most once per file.
func ApplyMigrations(ctx context.Context, sqlDB *sql.DB, migrationFS fs.FS, opts Options) error {
	if sqlDB == nil {
		return fmt.Errorf("sql db is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	dialect := opts.Dialect
	if dialect == "" {
		dialect = DialectSQLite
	}
	if dialect != DialectSQLite && dialect != DialectPostgres {
		return fmt.Errorf("unsupported migration dialect %q", dialect)
	}
	table := strings.TrimSpace(opts.MigrationTable)
	if table == "" {
		table = defaultMigrationTable
	}

	root := strings.TrimSpace(opts.Root)
	if root == "" {
		root = "."
	}
	keyRoot := root
	if keyRoot == "." {
		keyRoot = ""
	}

	entries, err := fs.ReadDir(migrationFS, root)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var sqlFiles []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			sqlFiles = append(sqlFiles, entry.Name())
		}
	}
	sort.Strings(sqlFiles)

	if _, err := sqlDB.ExecContext(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    name TEXT PRIMARY KEY,
    applied_at BIGINT NOT NULL
);
`, table)); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	renderer := newRenderer(opts.Vars)
	for _, file := range sqlFiles {
		name := file
		if keyRoot != "" {
			name = path.Join(keyRoot, file)
		}
		if prefix := strings.TrimSpace(opts.KeyPrefix); prefix != "" {
			name = prefix + "/" + name
		}

		content, err := fs.ReadFile(migrationFS, path.Join(root, file))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}

		applied, err := isApplied(ctx, sqlDB, dialect, table, name)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", file, err)
		}
		if applied {
			continue
		}

		upSQL := renderer.Replace(ExtractUpMigration(string(content)))
		if strings.TrimSpace(upSQL) == "" {
			continue
		}

		tx, err := sqlDB.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration transaction %s: %w", file, err)
		}

		if _, err := tx.ExecContext(ctx, upSQL); err != nil {
			if !IsAlreadyExistsError(err) {
				_ = tx.Rollback()
				return fmt.Errorf("exec migration %s: %w", file, err)
			}
		}

		if _, err := tx.ExecContext(ctx, recordStatement(dialect, table), name, time.Now().UTC().UnixMilli()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", file, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", file, err)
		}
	}

	return nil
}

// ExtractUpMigration returns the SQL in the -- +migrate Up section.
func ExtractUpMigration(content string) string {
	upIdx := strings.Index(content, "-- +migrate Up")
	if upIdx == -1 {
		return content
	}
	downIdx := strings.Index(content, "-- +migrate Down")
	if downIdx == -1 {
		return content[upIdx+len("-- +migrate Up"):]
	}
	return content[upIdx+len("-- +migrate Up") : downIdx]
}

// IsAlreadyExistsError reports whether this error indicates idempotent DDL success.
func IsAlreadyExistsError(err error) bool {
	value := strings.ToLower(err.Error())
	return strings.Contains(value, "already exists") || strings.Contains(value, "duplicate column name")
}

func newRenderer(vars map[string]string) *strings.Replacer {
	pairs := make([]string, 0, len(vars)*2)
	keys := make([]string, 0, len(vars))
	for key := range vars {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		pairs = append(pairs, "{{"+key+"}}", vars[key])
	}
	return strings.NewReplacer(pairs...)
}

func recordStatement(dialect Dialect, table string) string {
	if dialect == DialectPostgres {
		return fmt.Sprintf("INSERT INTO %s (name, applied_at) VALUES ($1, $2) ON CONFLICT (name) DO NOTHING", table)
	}
	return fmt.Sprintf("INSERT OR IGNORE INTO %s (name, applied_at) VALUES (?, ?)", table)
}

func isApplied(ctx context.Context, sqlDB *sql.DB, dialect Dialect, table, name string) (bool, error) {
	query := "SELECT 1 FROM " + table + " WHERE name = ?"
	if dialect == DialectPostgres {
		query = "SELECT 1 FROM " + table + " WHERE name = $1"
	}
	var found int
	err := sqlDB.QueryRowContext(ctx, query, name).Scan(&found)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
