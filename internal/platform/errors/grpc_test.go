package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"testing"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func localizedMessage(t *testing.T, err error) *errdetails.LocalizedMessage {
	t.Helper()
	st, ok := status.FromError(err)
	if !ok {
		t.Fatalf("expected gRPC status, got %v", err)
	}
	for _, detail := range st.Details() {
		if msg, ok := detail.(*errdetails.LocalizedMessage); ok {
			return msg
		}
	}
	t.Fatal("missing localized message detail")
	return nil
}

func TestHandleErrorNil(t *testing.T) {
	if err := HandleError(nil, "en-US"); err != nil {
		t.Fatalf("HandleError(nil) = %v, want nil", err)
	}
}

func TestHandleErrorLocalizesDomainErrors(t *testing.T) {
	err := fmt.Errorf("set: %w", WithMetadata(CodeInvalidKey, "cache key is too long", map[string]string{"MaxLength": "449"}))

	converted := HandleError(err, "pt-BR,pt;q=0.9")
	if got := status.Code(converted); got != codes.InvalidArgument {
		t.Fatalf("code = %v, want %v", got, codes.InvalidArgument)
	}
	msg := localizedMessage(t, converted)
	if msg.GetLocale() != "pt-BR" {
		t.Fatalf("locale = %q, want pt-BR", msg.GetLocale())
	}
	if !strings.Contains(msg.GetMessage(), "449") {
		t.Fatalf("message = %q, want max length rendered", msg.GetMessage())
	}
}

func TestHandleErrorDefaultsToBaseLocale(t *testing.T) {
	msg := localizedMessage(t, HandleError(New(CodeNotFound, "missing"), ""))
	if msg.GetLocale() != "en-US" {
		t.Fatalf("locale = %q, want en-US", msg.GetLocale())
	}
}

func TestHandleErrorContextAndUnknown(t *testing.T) {
	if got := status.Code(HandleError(context.Canceled, "")); got != codes.Canceled {
		t.Fatalf("canceled code = %v, want %v", got, codes.Canceled)
	}
	if got := status.Code(HandleError(context.DeadlineExceeded, "")); got != codes.DeadlineExceeded {
		t.Fatalf("deadline code = %v, want %v", got, codes.DeadlineExceeded)
	}
	if got := status.Code(HandleError(stderrors.New("boom"), "")); got != codes.Internal {
		t.Fatalf("unknown code = %v, want %v", got, codes.Internal)
	}
}
