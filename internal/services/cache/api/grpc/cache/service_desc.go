package cache

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "tablecache.cache.v1.CacheService"

const (
	GetFullMethodName     = "/" + ServiceName + "/Get"
	RefreshFullMethodName = "/" + ServiceName + "/Refresh"
	SetFullMethodName     = "/" + ServiceName + "/Set"
	RemoveFullMethodName  = "/" + ServiceName + "/Remove"
	SweepFullMethodName   = "/" + ServiceName + "/Sweep"
)

// CacheServiceServer is the server API for the cache service. Messages are
// protobuf well-known types so no generated code is needed.
type CacheServiceServer interface {
	Get(context.Context, *wrapperspb.StringValue) (*wrapperspb.BytesValue, error)
	Refresh(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	Set(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	Remove(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	Sweep(context.Context, *emptypb.Empty) (*wrapperspb.Int64Value, error)
}

// CacheServiceDesc describes the cache service for grpc.Server registration.
var CacheServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CacheServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Get", Handler: unaryHandler(GetFullMethodName, CacheServiceServer.Get)},
		{MethodName: "Refresh", Handler: unaryHandler(RefreshFullMethodName, CacheServiceServer.Refresh)},
		{MethodName: "Set", Handler: unaryHandler(SetFullMethodName, CacheServiceServer.Set)},
		{MethodName: "Remove", Handler: unaryHandler(RemoveFullMethodName, CacheServiceServer.Remove)},
		{MethodName: "Sweep", Handler: unaryHandler(SweepFullMethodName, CacheServiceServer.Sweep)},
	},
	Streams: []grpc.StreamDesc{},
}

// RegisterCacheServiceServer registers srv on s.
func RegisterCacheServiceServer(s grpc.ServiceRegistrar, srv CacheServiceServer) {
	s.RegisterService(&CacheServiceDesc, srv)
}

func unaryHandler[Req any, Resp any](
	fullMethod string,
	call func(CacheServiceServer, context.Context, *Req) (*Resp, error),
) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(CacheServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(CacheServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}
