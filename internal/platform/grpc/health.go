package grpc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/louisbranch/tablecache/internal/platform/timeouts"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

const (
	initialHealthBackoff = 100 * time.Millisecond
	maxHealthBackoff     = time.Second
)

// WaitForHealth blocks until service reports SERVING or ctx ends.
//
// It follows the Watch stream so status transitions are observed as they
// happen, and falls back to polling Check against servers without Watch.
func WaitForHealth(ctx context.Context, conn *gogrpc.ClientConn, service string, logf func(string, ...any)) error {
	if conn == nil {
		return errors.New("gRPC connection is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if logf == nil {
		logf = func(string, ...any) {}
	}
	name := service
	if name == "" {
		name = "server"
	}

	client := grpc_health_v1.NewHealthClient(conn)
	req := &grpc_health_v1.HealthCheckRequest{Service: service}
	backoff := initialHealthBackoff
	for {
		serving, err := watchUntilServing(ctx, client, req, func(st grpc_health_v1.HealthCheckResponse_ServingStatus) {
			logf("waiting for %s health: status %s", name, st)
		})
		if status.Code(err) == codes.Unimplemented {
			serving, err = checkServing(ctx, client, req)
		}
		if serving {
			return nil
		}
		if err != nil && ctx.Err() == nil {
			logf("waiting for %s health: %v", name, err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for %s health: %w", name, ctx.Err())
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxHealthBackoff)
	}
}

func watchUntilServing(ctx context.Context, client grpc_health_v1.HealthClient, req *grpc_health_v1.HealthCheckRequest, notServing func(grpc_health_v1.HealthCheckResponse_ServingStatus)) (bool, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := client.Watch(ctx, req)
	if err != nil {
		return false, err
	}
	for {
		resp, err := stream.Recv()
		if err != nil {
			return false, err
		}
		if resp.GetStatus() == grpc_health_v1.HealthCheckResponse_SERVING {
			return true, nil
		}
		notServing(resp.GetStatus())
	}
}

func checkServing(ctx context.Context, client grpc_health_v1.HealthClient, req *grpc_health_v1.HealthCheckRequest) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, timeouts.HealthProbe)
	defer cancel()
	resp, err := client.Check(ctx, req)
	if err != nil {
		return false, err
	}
	if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
		return false, fmt.Errorf("status %s", resp.GetStatus())
	}
	return true, nil
}
