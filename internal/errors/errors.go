// Package errors provides the error taxonomy shared by the offline layer.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/url"
)

// ErrorCode represents a unique application error code.
type ErrorCode string

const (
	// General errors
	ErrInternal ErrorCode = "INTERNAL_ERROR"
	ErrInvalid  ErrorCode = "INVALID_INPUT"
	ErrNotFound ErrorCode = "NOT_FOUND"

	// Storage errors
	ErrStorage     ErrorCode = "STORAGE_ERROR"
	ErrStorageOpen ErrorCode = "STORAGE_OPEN_FAILED"
	ErrMigration   ErrorCode = "MIGRATION_FAILED"

	// Network errors
	ErrNetwork      ErrorCode = "NETWORK_ERROR"
	ErrConnectivity ErrorCode = "NETWORK_CONNECTIVITY"
	ErrHTTPStatus   ErrorCode = "NETWORK_HTTP_STATUS"
	ErrTimeout      ErrorCode = "TIMEOUT"

	// Gateway / supervisor errors
	ErrGatewayUnresponsive ErrorCode = "GATEWAY_UNRESPONSIVE"
	ErrRepairThrottled     ErrorCode = "REPAIR_THROTTLED"
	ErrInstallFailed       ErrorCode = "INSTALL_FAILED"

	// Push errors
	ErrTokenInvalid ErrorCode = "PUSH_TOKEN_INVALID"
	ErrPushFailed   ErrorCode = "PUSH_SEND_FAILED"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error

	// StatusCode is set for ErrHTTPStatus errors.
	StatusCode int
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// Storage creates a StorageError for a failed store operation.
func Storage(op string, err error) *AppError {
	return &AppError{Code: ErrStorage, Message: op, Err: err}
}

// HTTPStatus creates a NetworkError for a non-2xx response.
func HTTPStatus(status int, message string) *AppError {
	return &AppError{Code: ErrHTTPStatus, Message: message, StatusCode: status}
}

// Connectivity creates a NetworkError for a transport-level failure.
func Connectivity(message string, err error) *AppError {
	return &AppError{Code: ErrConnectivity, Message: message, Err: err}
}

// Timeout creates a TimeoutError.
func Timeout(message string, err error) *AppError {
	return &AppError{Code: ErrTimeout, Message: message, Err: err}
}

// TokenInvalid creates an error marking a push token as permanently dead.
func TokenInvalid(token string) *AppError {
	return &AppError{Code: ErrTokenInvalid, Message: token}
}

// Is checks if an error carries a specific code.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// Code extracts the application code from an error, ErrInternal if untagged.
func Code(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// Classify maps an arbitrary transport error into the taxonomy. Connectivity
// detection is structural (url.Error, net.Error, DNS failures), not a string
// match on the message.
func Classify(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}

	if stderrors.Is(err, context.DeadlineExceeded) {
		return Timeout("request deadline exceeded", err)
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return Timeout("network timeout", err)
	}

	var dnsErr *net.DNSError
	if stderrors.As(err, &dnsErr) {
		return Connectivity("dns lookup failed", err)
	}

	var opErr *net.OpError
	if stderrors.As(err, &opErr) {
		return Connectivity("connection failed", err)
	}

	var urlErr *url.Error
	if stderrors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return Timeout("request timed out", err)
		}
		return Connectivity("request transport failed", err)
	}

	return Wrap(ErrNetwork, "request failed", err)
}

// IsConnectivity reports whether the error is a transport-level failure that
// indicates the remote is unreachable (as opposed to reachable but unhappy).
func IsConnectivity(err error) bool {
	c := Code(Classify(err))
	return c == ErrConnectivity || c == ErrTimeout
}

// IsTimeout reports whether the error is a deadline/timeout failure.
func IsTimeout(err error) bool {
	return Code(Classify(err)) == ErrTimeout
}

// IsTokenInvalid reports whether the error marks a push token for pruning.
func IsTokenInvalid(err error) bool {
	return Is(err, ErrTokenInvalid)
}
