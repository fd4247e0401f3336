package cache

import (
	"context"

	"github.com/louisbranch/tablecache/internal/services/cache/expiration"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Client calls a remote CacheService.
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient creates a cache client over conn.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Get returns the live value stored under key.
func (c *Client) Get(ctx context.Context, key string, opts ...grpc.CallOption) ([]byte, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.conn.Invoke(ctx, GetFullMethodName, wrapperspb.String(key), out, opts...); err != nil {
		return nil, err
	}
	return out.GetValue(), nil
}

// Refresh renews sliding expiration for key.
func (c *Client) Refresh(ctx context.Context, key string, opts ...grpc.CallOption) error {
	return c.conn.Invoke(ctx, RefreshFullMethodName, wrapperspb.String(key), new(emptypb.Empty), opts...)
}

// Set writes value under key.
func (c *Client) Set(ctx context.Context, key string, value []byte, expiry expiration.Options, opts ...grpc.CallOption) error {
	in, err := EncodeSetRequest(SetRequest{Key: key, Value: value, Options: expiry})
	if err != nil {
		return err
	}
	return c.conn.Invoke(ctx, SetFullMethodName, in, new(emptypb.Empty), opts...)
}

// Remove deletes key.
func (c *Client) Remove(ctx context.Context, key string, opts ...grpc.CallOption) error {
	return c.conn.Invoke(ctx, RemoveFullMethodName, wrapperspb.String(key), new(emptypb.Empty), opts...)
}

// Sweep asks the server to delete expired entries now.
func (c *Client) Sweep(ctx context.Context, opts ...grpc.CallOption) (int64, error) {
	out := new(wrapperspb.Int64Value)
	if err := c.conn.Invoke(ctx, SweepFullMethodName, &emptypb.Empty{}, out, opts...); err != nil {
		return 0, err
	}
	return out.GetValue(), nil
}
