// Package grpc holds client-side gRPC helpers for reaching the cache service.
package grpc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/tablecache/internal/platform/timeouts"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// DialStage describes where a dial attempt failed.
type DialStage string

const (
	// DialStageConnect indicates the client could not be created.
	DialStageConnect DialStage = "connect"
	// DialStageHealth indicates the service never reported SERVING.
	DialStageHealth DialStage = "health"
)

// DialError wraps dial and health check failures with a stage indicator.
type DialError struct {
	Stage DialStage
	Addr  string
	Err   error
}

func (e *DialError) Error() string {
	if e == nil {
		return "gRPC dial error"
	}
	if e.Addr == "" {
		return fmt.Sprintf("gRPC %s error: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("gRPC %s error for %s: %v", e.Stage, e.Addr, e.Err)
}

func (e *DialError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Target names a cache endpoint and how to reach it.
type Target struct {
	Addr string
	// Service is the health service name; empty checks overall server health.
	Service string
	// Timeout bounds the health wait. Zero uses timeouts.Dial.
	Timeout time.Duration
	Logf    func(string, ...any)
	// Options replaces DefaultClientDialOptions when set.
	Options []gogrpc.DialOption
}

// DefaultClientDialOptions returns plaintext dial options with client tracing.
func DefaultClientDialOptions() []gogrpc.DialOption {
	return []gogrpc.DialOption{
		gogrpc.WithTransportCredentials(insecure.NewCredentials()),
		gogrpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}
}

// Dial creates a client for target and waits until it reports SERVING.
// The connection is closed when the wait fails.
func Dial(ctx context.Context, target Target) (*gogrpc.ClientConn, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	addr := strings.TrimSpace(target.Addr)
	if addr == "" {
		return nil, &DialError{Stage: DialStageConnect, Err: errors.New("address is required")}
	}
	opts := target.Options
	if len(opts) == 0 {
		opts = DefaultClientDialOptions()
	}
	timeout := target.Timeout
	if timeout <= 0 {
		timeout = timeouts.Dial
	}

	conn, err := gogrpc.NewClient(addr, opts...)
	if err != nil {
		return nil, &DialError{Stage: DialStageConnect, Addr: addr, Err: err}
	}

	healthCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := WaitForHealth(healthCtx, conn, target.Service, target.Logf); err != nil {
		_ = conn.Close()
		return nil, &DialError{Stage: DialStageHealth, Addr: addr, Err: err}
	}
	return conn, nil
}
