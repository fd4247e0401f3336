package grpc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

const cacheService = "tablecache.cache.v1.CacheService"

func TestDialReachesServingService(t *testing.T) {
	addr, _, stop := startHealthServer(t, cacheService, grpc_health_v1.HealthCheckResponse_SERVING)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := Dial(ctx, Target{Addr: addr, Service: cacheService, Timeout: time.Second})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close conn: %v", err)
	}
}

func TestDialReturnsHealthStageWhenNotServing(t *testing.T) {
	addr, _, stop := startHealthServer(t, "", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	defer stop()

	conn, err := Dial(context.Background(), Target{Addr: addr, Timeout: 300 * time.Millisecond})
	if err == nil {
		_ = conn.Close()
		t.Fatal("expected error")
	}
	var dialErr *DialError
	if !errors.As(err, &dialErr) || dialErr.Stage != DialStageHealth {
		t.Fatalf("error = %v, want health stage DialError", err)
	}
	if dialErr.Addr != addr {
		t.Fatalf("addr = %q, want %q", dialErr.Addr, addr)
	}
}

func TestDialRequiresAddress(t *testing.T) {
	_, err := Dial(context.Background(), Target{Addr: "  "})
	var dialErr *DialError
	if !errors.As(err, &dialErr) || dialErr.Stage != DialStageConnect {
		t.Fatalf("error = %v, want connect stage DialError", err)
	}
}

func TestDialErrorFormatting(t *testing.T) {
	var nilErr *DialError
	if nilErr.Error() != "gRPC dial error" {
		t.Fatalf("nil error = %q", nilErr.Error())
	}
	if nilErr.Unwrap() != nil {
		t.Fatal("expected nil unwrap for nil error")
	}

	cause := fmt.Errorf("boom")
	err := &DialError{Stage: DialStageHealth, Addr: "cache:8095", Err: cause}
	if !strings.Contains(err.Error(), "health") || !strings.Contains(err.Error(), "cache:8095") {
		t.Fatalf("error = %q, want stage and address", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected cause to unwrap")
	}
}
