package errors

import (
	"context"
	stderrors "errors"

	"github.com/louisbranch/tablecache/internal/platform/errors/i18n"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// HandleError converts err to a gRPC status for client responses. The
// user-facing message is rendered from the catalog closest to acceptLanguage.
func HandleError(err error, acceptLanguage string) error {
	if err == nil {
		return nil
	}

	var appErr *Error
	if stderrors.As(err, &appErr) {
		catalog := i18n.Default.Match(acceptLanguage)
		userMsg := catalog.Format(string(appErr.Code), appErr.Metadata)
		return appErr.ToGRPCStatus(catalog.Locale(), userMsg)
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return status.FromContextError(err).Err()
	}

	return status.Error(codes.Internal, "an unexpected error occurred")
}
