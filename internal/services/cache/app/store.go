package server

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	apperrors "github.com/louisbranch/tablecache/internal/platform/errors"
	"github.com/louisbranch/tablecache/internal/services/cache/storage"
	cachepostgres "github.com/louisbranch/tablecache/internal/services/cache/storage/postgres"
	cachesqlite "github.com/louisbranch/tablecache/internal/services/cache/storage/sqlite"
)

// Supported row store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

func openStore(ctx context.Context, cfg Config) (storage.Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case DriverSQLite, "":
		return openSQLite(ctx, cfg)
	case DriverPostgres:
		store, err := cachepostgres.Open(ctx, cachepostgres.Config{
			DSN:          cfg.Connection,
			Schema:       cfg.Schema,
			Table:        cfg.Table,
			EnsureSchema: cfg.EnsureSchema,
		})
		if err != nil {
			return nil, fmt.Errorf("open cache postgres store: %w", err)
		}
		return store, nil
	default:
		return nil, apperrors.WithMetadata(
			apperrors.CodeConfiguration,
			fmt.Sprintf("unsupported cache driver %q", cfg.Driver),
			map[string]string{"Driver": cfg.Driver},
		)
	}
}

func openSQLite(ctx context.Context, cfg Config) (storage.Store, error) {
	path := strings.TrimSpace(cfg.Connection)
	if path == "" {
		return nil, apperrors.New(apperrors.CodeConfiguration, "sqlite connection path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	store, err := cachesqlite.Open(ctx, cachesqlite.Config{Path: path, Table: cfg.Table})
	if err != nil {
		return nil, fmt.Errorf("open cache sqlite store: %w", err)
	}
	return store, nil
}
