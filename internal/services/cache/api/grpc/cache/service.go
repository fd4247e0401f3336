// Package cache exposes the cache engine over gRPC.
package cache

import (
	"context"
	"encoding/base64"
	"math"
	"strings"
	"time"

	apperrors "github.com/louisbranch/tablecache/internal/platform/errors"
	"github.com/louisbranch/tablecache/internal/services/cache/expiration"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Set request field names.
const (
	FieldKey                             = "key"
	FieldValue                           = "value"
	FieldSlidingExpiration               = "sliding_expiration"
	FieldAbsoluteExpiration              = "absolute_expiration"
	FieldAbsoluteExpirationRelativeToNow = "absolute_expiration_relative_to_now"
)

const acceptLanguageHeader = "accept-language"

// maxDurationSeconds bounds numeric durations to what time.Duration can hold.
const maxDurationSeconds = float64(math.MaxInt64 / int64(time.Second))

// Cache is the engine surface served over gRPC.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Refresh(ctx context.Context, key string) error
	Set(ctx context.Context, key string, value []byte, opts expiration.Options) error
	Remove(ctx context.Context, key string) error
	Sweep(ctx context.Context) (int64, error)
}

// Service implements CacheServiceServer.
type Service struct {
	cache Cache
}

// NewService creates a cache service backed by cache.
func NewService(cache Cache) *Service {
	return &Service{cache: cache}
}

// Get returns the live value for a key.
func (s *Service) Get(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	if in == nil {
		return nil, status.Error(codes.InvalidArgument, "get request is required")
	}
	if err := s.ready(); err != nil {
		return nil, err
	}
	value, err := s.cache.Get(ctx, in.GetValue())
	if err != nil {
		return nil, handleError(ctx, err)
	}
	return wrapperspb.Bytes(value), nil
}

// Refresh renews sliding expiration for a key.
func (s *Service) Refresh(ctx context.Context, in *wrapperspb.StringValue) (*emptypb.Empty, error) {
	if in == nil {
		return nil, status.Error(codes.InvalidArgument, "refresh request is required")
	}
	if err := s.ready(); err != nil {
		return nil, err
	}
	if err := s.cache.Refresh(ctx, in.GetValue()); err != nil {
		return nil, handleError(ctx, err)
	}
	return &emptypb.Empty{}, nil
}

// Set writes a value with expiration options.
func (s *Service) Set(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	if in == nil {
		return nil, status.Error(codes.InvalidArgument, "set request is required")
	}
	if err := s.ready(); err != nil {
		return nil, err
	}
	req, err := decodeSetRequest(in)
	if err != nil {
		return nil, handleError(ctx, err)
	}
	if err := s.cache.Set(ctx, req.Key, req.Value, req.Options); err != nil {
		return nil, handleError(ctx, err)
	}
	return &emptypb.Empty{}, nil
}

// Remove deletes a key.
func (s *Service) Remove(ctx context.Context, in *wrapperspb.StringValue) (*emptypb.Empty, error) {
	if in == nil {
		return nil, status.Error(codes.InvalidArgument, "remove request is required")
	}
	if err := s.ready(); err != nil {
		return nil, err
	}
	if err := s.cache.Remove(ctx, in.GetValue()); err != nil {
		return nil, handleError(ctx, err)
	}
	return &emptypb.Empty{}, nil
}

// Sweep deletes expired entries now and reports how many were removed.
func (s *Service) Sweep(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.Int64Value, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	deleted, err := s.cache.Sweep(ctx)
	if err != nil {
		return nil, handleError(ctx, err)
	}
	return wrapperspb.Int64(deleted), nil
}

func (s *Service) ready() error {
	if s == nil || s.cache == nil {
		return status.Error(codes.Internal, "cache is not configured")
	}
	return nil
}

// SetRequest is the decoded form of a Set call.
type SetRequest struct {
	Key     string
	Value   []byte
	Options expiration.Options
}

// EncodeSetRequest builds the Set message for req.
func EncodeSetRequest(req SetRequest) (*structpb.Struct, error) {
	fields := map[string]any{
		FieldKey:   req.Key,
		FieldValue: base64.StdEncoding.EncodeToString(req.Value),
	}
	if req.Options.SlidingExpiration != 0 {
		fields[FieldSlidingExpiration] = req.Options.SlidingExpiration.String()
	}
	if req.Options.AbsoluteExpiration != nil {
		fields[FieldAbsoluteExpiration] = req.Options.AbsoluteExpiration.UTC().Format(time.RFC3339Nano)
	}
	if req.Options.AbsoluteExpirationRelativeToNow != 0 {
		fields[FieldAbsoluteExpirationRelativeToNow] = req.Options.AbsoluteExpirationRelativeToNow.String()
	}
	return structpb.NewStruct(fields)
}

func decodeSetRequest(in *structpb.Struct) (SetRequest, error) {
	fields := in.GetFields()
	req := SetRequest{Key: fields[FieldKey].GetStringValue()}

	if raw := fields[FieldValue].GetStringValue(); raw != "" {
		value, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return SetRequest{}, invalidOption("value must be base64 encoded")
		}
		req.Value = value
	}

	var err error
	if req.Options.SlidingExpiration, err = durationField(fields, FieldSlidingExpiration); err != nil {
		return SetRequest{}, err
	}
	if req.Options.AbsoluteExpirationRelativeToNow, err = durationField(fields, FieldAbsoluteExpirationRelativeToNow); err != nil {
		return SetRequest{}, err
	}
	if raw := strings.TrimSpace(fields[FieldAbsoluteExpiration].GetStringValue()); raw != "" {
		at, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return SetRequest{}, invalidOption(FieldAbsoluteExpiration + " must be an RFC 3339 timestamp")
		}
		req.Options.AbsoluteExpiration = &at
	}
	return req, nil
}

// durationField accepts Go duration strings or a number of seconds.
func durationField(fields map[string]*structpb.Value, name string) (time.Duration, error) {
	value, ok := fields[name]
	if !ok || value == nil {
		return 0, nil
	}
	switch kind := value.GetKind().(type) {
	case *structpb.Value_StringValue:
		raw := strings.TrimSpace(kind.StringValue)
		if raw == "" {
			return 0, nil
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return 0, invalidOption(name + " must be a duration")
		}
		return d, nil
	case *structpb.Value_NumberValue:
		seconds := kind.NumberValue
		if math.IsNaN(seconds) || math.Abs(seconds) > maxDurationSeconds {
			return 0, invalidOption(name + " must be a duration")
		}
		return time.Duration(seconds * float64(time.Second)), nil
	case *structpb.Value_NullValue:
		return 0, nil
	default:
		return 0, invalidOption(name + " must be a duration")
	}
}

func invalidOption(reason string) error {
	return apperrors.WithMetadata(apperrors.CodeInvalidOptions, reason, map[string]string{"Reason": reason})
}

func handleError(ctx context.Context, err error) error {
	return apperrors.HandleError(err, acceptLanguage(ctx))
}

func acceptLanguage(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get(acceptLanguageHeader)
	if len(values) == 0 {
		return ""
	}
	return strings.Join(values, ",")
}

var _ CacheServiceServer = (*Service)(nil)
