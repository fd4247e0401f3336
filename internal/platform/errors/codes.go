// Package errors provides coded cache errors with gRPC status mapping.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	CodeUnknown Code = "UNKNOWN"

	// Request validation.
	CodeInvalidKey     Code = "INVALID_KEY"
	CodeInvalidOptions Code = "INVALID_OPTIONS"

	// Construction.
	CodeConfiguration Code = "CONFIGURATION_ERROR"

	// Row store.
	CodeNotFound         Code = "NOT_FOUND"
	CodeStoreUnavailable Code = "STORE_UNAVAILABLE"

	// Background sweep; logged, never returned to cache callers.
	CodeSweepFailure Code = "SWEEP_FAILURE"
)

// GRPCCode maps c to a gRPC status code.
func (c Code) GRPCCode() codes.Code {
	switch c {
	case CodeInvalidKey, CodeInvalidOptions:
		return codes.InvalidArgument
	case CodeConfiguration:
		return codes.FailedPrecondition
	case CodeNotFound:
		return codes.NotFound
	case CodeStoreUnavailable:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// Field names the request field a validation code refers to, or "".
func (c Code) Field() string {
	switch c {
	case CodeInvalidKey:
		return "key"
	case CodeInvalidOptions:
		return "options"
	default:
		return ""
	}
}

// Retryable reports whether the same request may succeed later unchanged.
func (c Code) Retryable() bool {
	return c == CodeStoreUnavailable
}
