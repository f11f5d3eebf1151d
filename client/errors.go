package client

import (
	"errors"
	"fmt"
	"time"

	"github.com/localrivet/sandboxsdk/protocol"
	"github.com/localrivet/sandboxsdk/transport"
)

// Standard error types that can be used with errors.Is()
var (
	ErrNotConnected         = errors.New("session is not connected")
	ErrSessionClosed        = errors.New("session is closed")
	ErrInvalidState         = errors.New("operation not allowed in current session state")
	ErrUnexpectedDisconnect = errors.New("connection lost unexpectedly")
	ErrInitTimeout          = errors.New("timed out waiting for session to become ready")
	ErrServerError          = errors.New("server reported error")
	ErrDuplicateTool        = errors.New("duplicate tool name")
)

// Symbolic codes carried by ClientError.Code.
const (
	CodeConnectionFailed = "connection_failed"
	CodeDisconnected     = "disconnected"
	CodeTimeout          = "timeout"
	CodeInvalidState     = "invalid_state"
	CodeSessionClosed    = "session_closed"
	CodeUnauthorized     = "unauthorized"
)

// ClientError is the base error type for client errors
type ClientError struct {
	Message string
	Code    string
	Cause   error
}

// Error implements the error interface
func (e *ClientError) Error() string {
	switch {
	case e.Code != "" && e.Cause != nil:
		return fmt.Sprintf("%s (code=%s): %v", e.Message, e.Code, e.Cause)
	case e.Code != "":
		return fmt.Sprintf("%s (code=%s)", e.Message, e.Code)
	case e.Cause != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause
func (e *ClientError) Unwrap() error {
	return e.Cause
}

// ConnectionError indicates a connection issue
type ConnectionError struct {
	ClientError
	Endpoint string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error (%s): %s", e.Endpoint, e.ClientError.Error())
}

// TimeoutError indicates a timeout
type TimeoutError struct {
	ClientError
	Operation string
	Timeout   time.Duration
}

// Error implements the error interface
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout after %v during %s: %s", e.Timeout, e.Operation, e.ClientError.Error())
}

// ServerError represents an error envelope received from the service
type ServerError struct {
	ClientError
	Operation string
	Details   interface{}
}

// Error implements the error interface
func (e *ServerError) Error() string {
	return fmt.Sprintf("server error during %s: %s", e.Operation, e.ClientError.Error())
}

// Is makes errors.Is(err, ErrServerError) hold for every ServerError.
func (e *ServerError) Is(target error) bool {
	return target == ErrServerError
}

// StateError is returned when an operation is attempted in a state that does
// not allow it.
type StateError struct {
	ClientError
	Operation string
	State     State
}

// Error implements the error interface
func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s in state %s: %s", e.Operation, e.State, e.ClientError.Error())
}

// NewConnectionError creates a new ConnectionError
func NewConnectionError(endpoint, message string, cause error) error {
	return &ConnectionError{
		ClientError: ClientError{Message: message, Code: CodeConnectionFailed, Cause: cause},
		Endpoint:    endpoint,
	}
}

// NewDisconnectError reports a connection lost while the session was live.
func NewDisconnectError(cause error) error {
	return &ClientError{Message: "session interrupted", Code: CodeDisconnected, Cause: cause}
}

// NewTimeoutError creates a new TimeoutError
func NewTimeoutError(operation string, timeout time.Duration, cause error) error {
	return &TimeoutError{
		ClientError: ClientError{
			Message: fmt.Sprintf("operation timed out after %v", timeout),
			Code:    CodeTimeout,
			Cause:   cause,
		},
		Operation: operation,
		Timeout:   timeout,
	}
}

// NewServerError wraps an error payload received from the service.
func NewServerError(operation string, p *protocol.ErrorPayload) error {
	return &ServerError{
		ClientError: ClientError{Message: p.Message, Code: p.Code},
		Operation:   operation,
		Details:     p.Details,
	}
}

// NewStateError creates a new StateError
func NewStateError(operation string, state State) error {
	cause := ErrInvalidState
	code := CodeInvalidState
	if state == StateCompleted {
		cause = ErrSessionClosed
		code = CodeSessionClosed
	}
	return &StateError{
		ClientError: ClientError{Message: "state conflict", Code: code, Cause: cause},
		Operation:   operation,
		State:       state,
	}
}

// IsTimeoutError checks if an error is a timeout error
func IsTimeoutError(err error) bool {
	var timeoutErr *TimeoutError
	return errors.As(err, &timeoutErr) || errors.Is(err, ErrInitTimeout) || transport.IsTimeout(err)
}

// IsConnectionError checks if an error is a connection error
func IsConnectionError(err error) bool {
	var connErr *ConnectionError
	var transportErr *transport.Error
	return errors.As(err, &connErr) || errors.As(err, &transportErr) ||
		errors.Is(err, ErrNotConnected) || errors.Is(err, ErrUnexpectedDisconnect)
}

// IsServerError checks if an error is a server-reported error
func IsServerError(err error) bool {
	return errors.Is(err, ErrServerError)
}

// IsStateError checks if an error is a state conflict
func IsStateError(err error) bool {
	var stateErr *StateError
	return errors.As(err, &stateErr)
}

// ErrorCode returns the symbolic code of err, or "" when it carries none.
func ErrorCode(err error) string {
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce.Code
	}
	var se *ServerError
	if errors.As(err, &se) {
		return se.Code
	}
	var te *TimeoutError
	if errors.As(err, &te) {
		return te.Code
	}
	var ste *StateError
	if errors.As(err, &ste) {
		return ste.Code
	}
	var cne *ConnectionError
	if errors.As(err, &cne) {
		return cne.Code
	}
	return ""
}
