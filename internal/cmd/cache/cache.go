// Package cache parses cache service flags and launches the service.
package cache

import (
	"context"
	"flag"
	"time"

	entrypoint "github.com/louisbranch/tablecache/internal/platform/cmd"
	server "github.com/louisbranch/tablecache/internal/services/cache/app"
)

// Config holds cache command configuration.
type Config struct {
	Port                     int           `env:"PORT"             envDefault:"8095"`
	Driver                   string        `env:"DRIVER"           envDefault:"sqlite"`
	Connection               string        `env:"CONNECTION"       envDefault:"data/cache.db"`
	Schema                   string        `env:"SCHEMA"           envDefault:"public"`
	Table                    string        `env:"TABLE"            envDefault:"cache_entries"`
	EnsureSchema             bool          `env:"ENSURE_SCHEMA"    envDefault:"true"`
	SweepInterval            time.Duration `env:"SWEEP_INTERVAL"   envDefault:"30m"`
	DefaultSlidingExpiration time.Duration `env:"DEFAULT_SLIDING"  envDefault:"0s"`
}

// ParseConfig parses environment and flags into Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	err := entrypoint.Load(fs, args, &cfg, func(fs *flag.FlagSet) {
		fs.IntVar(&cfg.Port, "port", cfg.Port, "The cache gRPC server port")
		fs.StringVar(&cfg.Driver, "driver", cfg.Driver, "Row store driver: sqlite or postgres")
		fs.StringVar(&cfg.Connection, "connection", cfg.Connection, "SQLite file path or PostgreSQL DSN")
		fs.StringVar(&cfg.Schema, "schema", cfg.Schema, "PostgreSQL schema holding the cache table")
		fs.StringVar(&cfg.Table, "table", cfg.Table, "Cache table name")
		fs.BoolVar(&cfg.EnsureSchema, "ensure-schema", cfg.EnsureSchema, "Create the cache table when missing (postgres)")
		fs.DurationVar(&cfg.SweepInterval, "sweep-interval", cfg.SweepInterval, "Minimum time between expired entry sweeps")
		fs.DurationVar(&cfg.DefaultSlidingExpiration, "default-sliding", cfg.DefaultSlidingExpiration, "Sliding expiration for writes without one (0 rejects them)")
	})
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the cache gRPC API service.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.Run(ctx, entrypoint.ServiceCache, func(ctx context.Context) error {
		return server.Run(ctx, cfg.Port, cfg.serverConfig())
	})
}

func (c Config) serverConfig() server.Config {
	return server.Config{
		Driver:                   c.Driver,
		Connection:               c.Connection,
		Schema:                   c.Schema,
		Table:                    c.Table,
		EnsureSchema:             c.EnsureSchema,
		SweepInterval:            c.SweepInterval,
		DefaultSlidingExpiration: c.DefaultSlidingExpiration,
	}
}
