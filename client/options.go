// Package client drives sessions against a remote sandboxed-agent service.
package client

import (
	"time"

	"github.com/localrivet/sandboxsdk/auth"
	"github.com/localrivet/sandboxsdk/logx"
	"github.com/localrivet/sandboxsdk/protocol"
	"github.com/localrivet/sandboxsdk/transport"
)

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithSessionLogger sets the session's logger.
func WithSessionLogger(logger logx.Logger) SessionOption {
	return func(s *Session) {
		s.logger = logx.OrDefault(logger)
	}
}

// WithInitTimeout bounds the wait for the service's readiness acknowledgement.
func WithInitTimeout(timeout time.Duration) SessionOption {
	return func(s *Session) {
		if timeout > 0 {
			s.initTimeout = timeout
		}
	}
}

// WithErrorHandler registers a callback for errors that happen outside any
// caller's operation, such as an unexpected disconnect.
func WithErrorHandler(fn func(error)) SessionOption {
	return func(s *Session) {
		s.onError = fn
	}
}

// WithStatusHandler registers a callback for transport status changes.
func WithStatusHandler(fn func(transport.Status)) SessionOption {
	return func(s *Session) {
		s.onStatus = fn
	}
}

// WithMessageObserver registers a callback that sees every inbound envelope
// before it is queued. It runs on the transport's read goroutine and must not
// block.
func WithMessageObserver(fn func(*protocol.Envelope)) SessionOption {
	return func(s *Session) {
		s.onMessage = fn
	}
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client's logger. Sessions inherit it.
func WithLogger(logger logx.Logger) Option {
	return func(c *Client) {
		c.logger = logx.OrDefault(logger)
	}
}

// WithTransportFactory replaces the WebSocket transport, mostly for tests.
func WithTransportFactory(factory TransportFactory) Option {
	return func(c *Client) {
		c.newTransport = factory
	}
}

// WithSessionOptions appends options applied to every session the client
// creates.
func WithSessionOptions(opts ...SessionOption) Option {
	return func(c *Client) {
		c.sessionOpts = append(c.sessionOpts, opts...)
	}
}

// WithTokenVerifier checks Config.Token with v before each session dials, so
// an expired or malformed token fails locally instead of at the handshake.
func WithTokenVerifier(v auth.TokenVerifier) Option {
	return func(c *Client) {
		c.verifier = v
	}
}
