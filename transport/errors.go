package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Standard error types that can be used with errors.Is()
var (
	ErrNotConnected   = errors.New("transport is not connected")
	ErrClosed         = errors.New("transport is closed")
	ErrConnectTimeout = errors.New("connection attempt timed out")
	ErrDropped        = errors.New("message dropped: transport is disconnected and will not reconnect")
)

// Error describes a failed transport operation.
type Error struct {
	Op       string // "connect", "send", "receive", "close"
	Endpoint string // redacted endpoint
	Err      error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Endpoint != "" {
		return fmt.Sprintf("transport %s (%s): %v", e.Op, e.Endpoint, e.Err)
	}
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether err is a connection timeout, either ours or one
// surfaced by the network stack.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConnectTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
