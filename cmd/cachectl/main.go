// Package main provides a command-line client for the cache service.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/louisbranch/tablecache/internal/cmd/cachectl"
	"github.com/louisbranch/tablecache/internal/platform/config"
)

func main() {
	cfg, err := cachectl.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Usagef("Error: %v\n%s", err, cachectl.Usage)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	if err := cachectl.Run(ctx, cfg, os.Stdout, os.Stderr); err != nil {
		config.Exitf("Error: %v", err)
	}
}
