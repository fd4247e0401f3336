// Package server wires the cache runtime and gRPC lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	cacheservice "github.com/louisbranch/tablecache/internal/services/cache/api/grpc/cache"
	"github.com/louisbranch/tablecache/internal/services/cache/engine"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

// Config controls which row store backs the cache and how it expires entries.
type Config struct {
	Driver string
	// Connection is a file path for sqlite and a DSN for postgres.
	Connection               string
	Schema                   string
	Table                    string
	EnsureSchema             bool
	SweepInterval            time.Duration
	DefaultSlidingExpiration time.Duration
}

// Server hosts the cache gRPC API over one row store.
type Server struct {
	listener   net.Listener
	grpcServer *grpc.Server
	health     *health.Server
	cache      *engine.Cache

	closeOnce sync.Once
}

// New creates a cache server listening on port.
func New(ctx context.Context, port int, cfg Config) (*Server, error) {
	return NewWithAddr(ctx, fmt.Sprintf(":%d", port), cfg)
}

// NewWithAddr opens the row store, builds the engine, and binds addr.
func NewWithAddr(ctx context.Context, addr string, cfg Config) (*Server, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	cache, err := engine.New(store, engine.Options{
		SweepInterval:            cfg.SweepInterval,
		DefaultSlidingExpiration: cfg.DefaultSlidingExpiration,
		Logf:                     log.Printf,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		_ = cache.Close()
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	srv := &Server{
		listener:   listener,
		grpcServer: grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler())),
		health:     health.NewServer(),
		cache:      cache,
	}
	cacheservice.RegisterCacheServiceServer(srv.grpcServer, cacheservice.NewService(cache))
	grpc_health_v1.RegisterHealthServer(srv.grpcServer, srv.health)
	srv.setServing(grpc_health_v1.HealthCheckResponse_SERVING)
	return srv, nil
}

// Run creates and serves a cache server until ctx is cancelled.
func Run(ctx context.Context, port int, cfg Config) error {
	srv, err := New(ctx, port, cfg)
	if err != nil {
		return err
	}
	return srv.Serve(ctx)
}

// Addr returns the bound listener address.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Serve handles gRPC traffic until ctx is cancelled or the listener fails,
// then drains in-flight calls and releases the row store.
func (s *Server) Serve(ctx context.Context) error {
	if s == nil {
		return errors.New("server is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log.Printf("cache server listening at %v", s.listener.Addr())
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		// A direct Close stops Serve without cancelling ctx.
		defer cancel()
		if err := s.grpcServer.Serve(s.listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("serve gRPC: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		s.setServing(grpc_health_v1.HealthCheckResponse_NOT_SERVING)
		s.grpcServer.GracefulStop()
		return nil
	})
	return group.Wait()
}

// Close stops the server immediately and closes the cache. Safe to call more than once.
func (s *Server) Close() {
	if s == nil {
		return
	}
	s.closeOnce.Do(func() {
		if s.health != nil {
			s.health.Shutdown()
		}
		if s.grpcServer != nil {
			s.grpcServer.Stop()
		}
		if s.listener != nil {
			_ = s.listener.Close()
		}
		if s.cache != nil {
			if err := s.cache.Close(); err != nil {
				log.Printf("close cache store: %v", err)
			}
		}
	})
}

func (s *Server) setServing(status grpc_health_v1.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(cacheservice.ServiceName, status)
}
