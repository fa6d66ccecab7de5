package provider

import (
	"errors"
	"fmt"
)

// EIP-1193 provider error codes.
const (
	CodeUserRejected   = 4001
	CodeUnauthorized   = 4100
	CodeUnsupported    = 4200
	CodeDisconnected   = 4900
	CodeMethodNotFound = -32601
	CodeInternal       = -32603
)

var (
	// ErrUserRejected is returned when the user declines a request in the wallet.
	ErrUserRejected = errors.New("user rejected the request")

	// ErrUnauthorized is returned when the wallet has not granted account access.
	ErrUnauthorized = errors.New("request not authorized by the wallet")

	// ErrMalformedResponse is returned when a result does not have the expected shape.
	ErrMalformedResponse = errors.New("malformed provider response")

	// ErrProviderGone is returned for requests made after the provider went away.
	ErrProviderGone = errors.New("wallet provider is not connected")
)

// RPCError is an error object returned by the provider.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("provider error %d: %s", e.Code, e.Message)
}

// Is maps well-known codes onto the sentinel errors.
func (e *RPCError) Is(target error) bool {
	switch target {
	case ErrUserRejected:
		return e.Code == CodeUserRejected
	case ErrUnauthorized:
		return e.Code == CodeUnauthorized
	case ErrProviderGone:
		return e.Code == CodeDisconnected
	}
	return false
}

// IsMethodNotFound reports whether err is a JSON-RPC "method not found".
func IsMethodNotFound(err error) bool {
	var rpcErr *RPCError
	return errors.As(err, &rpcErr) && (rpcErr.Code == CodeMethodNotFound || rpcErr.Code == CodeUnsupported)
}

func malformed(method string, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrMalformedResponse, method, fmt.Sprintf(format, args...))
}
