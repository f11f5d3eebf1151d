package websocket

import (
	"net/http"
	"time"

	"github.com/localrivet/sandboxsdk/logx"
	"github.com/localrivet/sandboxsdk/transport"
)

// Defaults for Options. The connect timeout is long because sandbox startup on
// the remote side is slow.
const (
	DefaultConnectTimeout       = 60 * time.Second
	DefaultKeepAliveInterval    = 5 * time.Minute
	DefaultWriteTimeout         = 10 * time.Second
	DefaultMaxReconnectAttempts = 5
	closeFrameTimeout           = 2 * time.Second
)

// Options configures a Transport.
type Options struct {
	// URL of the sandbox service. http(s) schemes are rewritten to ws(s).
	URL string
	// Token is appended to the URL as the "token" query parameter. It is
	// never logged.
	Token string
	// Header is sent with the upgrade request.
	Header http.Header

	ConnectTimeout time.Duration // 0 means DefaultConnectTimeout
	WriteTimeout   time.Duration // 0 means DefaultWriteTimeout

	// KeepAliveInterval between ping envelopes. 0 means the default, a
	// negative value disables keepalive.
	KeepAliveInterval time.Duration

	AutoReconnect        bool
	MaxReconnectAttempts int // 0 means DefaultMaxReconnectAttempts

	// Backoff overrides the reconnect schedule. Its MaxAttempts is the
	// reconnect ceiling. Defaults to transport.DefaultBackoff(MaxReconnectAttempts).
	Backoff transport.BackoffStrategy

	Logger logx.Logger
	// Debug logs every frame sent and received.
	Debug bool
}

// Option mutates Options.
type Option func(*Options)

// WithToken sets the bearer token.
func WithToken(token string) Option {
	return func(o *Options) { o.Token = token }
}

// WithHeader sets the upgrade request headers.
func WithHeader(h http.Header) Option {
	return func(o *Options) { o.Header = h }
}

// WithConnectTimeout sets the connection attempt timeout.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *Options) { o.ConnectTimeout = d }
}

// WithWriteTimeout sets the per-frame write deadline used when the caller's
// context has none.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *Options) { o.WriteTimeout = d }
}

// WithKeepAlive sets the keepalive interval; negative disables it.
func WithKeepAlive(d time.Duration) Option {
	return func(o *Options) { o.KeepAliveInterval = d }
}

// WithReconnect enables automatic reconnection.
func WithReconnect(maxAttempts int) Option {
	return func(o *Options) {
		o.AutoReconnect = true
		o.MaxReconnectAttempts = maxAttempts
	}
}

// WithBackoff overrides the reconnect schedule.
func WithBackoff(b transport.BackoffStrategy) Option {
	return func(o *Options) { o.Backoff = b }
}

// WithLogger sets the logger.
func WithLogger(l logx.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithDebug enables frame logging.
func WithDebug(debug bool) Option {
	return func(o *Options) { o.Debug = debug }
}

func (o *Options) applyDefaults() {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	if o.KeepAliveInterval == 0 {
		o.KeepAliveInterval = DefaultKeepAliveInterval
	}
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if o.Backoff == nil {
		o.Backoff = transport.DefaultBackoff(o.MaxReconnectAttempts)
	}
	o.Logger = logx.OrDefault(o.Logger)
}
