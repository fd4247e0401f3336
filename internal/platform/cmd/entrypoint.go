// Package cmd holds the startup helpers shared by tablecache commands.
package cmd

import (
	"context"
	"errors"
	"flag"
	"log"
	"strings"

	"github.com/louisbranch/tablecache/internal/platform/config"
	"github.com/louisbranch/tablecache/internal/platform/otel"
	"github.com/louisbranch/tablecache/internal/platform/timeouts"
)

// Service names a tablecache process in telemetry resources and logs.
type Service string

const (
	ServiceCache    Service = "cache"
	ServiceCacheCtl Service = "cachectl"
)

// Load fills cfg from TABLECACHE_* environment variables, then lets bind
// register flags seeded with those values, then parses args.
func Load[T any](fs *flag.FlagSet, args []string, cfg *T, bind func(*flag.FlagSet)) error {
	if cfg == nil {
		return errors.New("config target is required")
	}
	if fs == nil {
		return errors.New("flag parser is required")
	}
	if err := config.ParseEnv(cfg); err != nil {
		return err
	}
	if bind != nil {
		bind(fs)
	}
	if args == nil {
		args = []string{}
	}
	return fs.Parse(args)
}

// Run sets up tracing for service, executes run, and flushes spans on return.
func Run(ctx context.Context, service Service, run func(context.Context) error) error {
	name := strings.TrimSpace(string(service))
	if name == "" {
		return errors.New("service name is required")
	}
	if run == nil {
		return errors.New("run function is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	shutdown, err := otel.Setup(ctx, "tablecache-"+name)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			log.Printf("%s otel shutdown: %v", name, err)
		}
	}()
	return run(ctx)
}
