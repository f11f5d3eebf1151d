package client

import (
	"context"
	"errors"
	"sync"

	"github.com/localrivet/sandboxsdk/auth"
	"github.com/localrivet/sandboxsdk/logx"
	"github.com/localrivet/sandboxsdk/transport"
	"github.com/localrivet/sandboxsdk/transport/websocket"
)

// TransportFactory creates the transport for one session.
type TransportFactory func(cfg Config, logger logx.Logger) (transport.Transport, error)

// Client creates sessions against one sandbox service. Each session gets its
// own connection.
type Client struct {
	config       Config
	logger       logx.Logger
	newTransport TransportFactory
	sessionOpts  []SessionOption
	verifier     auth.TokenVerifier

	mu       sync.Mutex
	sessions map[*Session]struct{}
	closed   bool
}

// New creates a client from cfg.
func New(cfg Config, options ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		config:       cfg,
		newTransport: newWebSocketTransport,
		sessions:     make(map[*Session]struct{}),
	}
	for _, option := range options {
		option(c)
	}
	if c.logger == nil {
		logger := logx.NewDefaultLogger()
		logger.SetLevel(logx.ParseLevel(cfg.LogLevel))
		if cfg.Debug {
			logger.SetLevel(logx.LevelDebug)
		}
		c.logger = logger
	}
	return c, nil
}

func newWebSocketTransport(cfg Config, logger logx.Logger) (transport.Transport, error) {
	t, err := websocket.New(websocket.Options{
		URL:                  cfg.URL,
		Token:                cfg.Token,
		ConnectTimeout:       cfg.ConnectTimeout(),
		KeepAliveInterval:    cfg.KeepAliveInterval(),
		AutoReconnect:        cfg.AutoReconnect,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		Logger:               logger,
		Debug:                cfg.Debug,
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Config returns the client's configuration.
func (c *Client) Config() Config {
	return c.config
}

// NewSession creates a session, connects it and waits until the service
// reports it ready.
func (c *Client) NewSession(ctx context.Context, cfg SessionConfig, opts ...SessionOption) (*Session, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errors.New("client is closed")
	}
	c.mu.Unlock()

	if c.verifier != nil {
		p, err := c.verifier.VerifyToken(ctx, c.config.Token)
		if err != nil {
			return nil, &ClientError{Message: "token rejected", Code: CodeUnauthorized, Cause: err}
		}
		c.logger.Debug("Token verified for subject %q", p.GetSubject())
	}

	t, err := c.newTransport(c.config, c.logger)
	if err != nil {
		return nil, err
	}

	all := []SessionOption{
		WithSessionLogger(c.logger),
		WithInitTimeout(c.config.InitTimeout()),
	}
	all = append(all, c.sessionOpts...)
	all = append(all, opts...)

	s, err := NewSession(t, c.config.Session.apply(cfg), all...)
	if err != nil {
		return nil, err
	}
	if err := s.Connect(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		_ = s.Close()
		return nil, errors.New("client is closed")
	}
	c.sessions[s] = struct{}{}
	return s, nil
}

// ResumeSession reconnects to an existing session by id.
func (c *Client) ResumeSession(ctx context.Context, sessionID string, cfg SessionConfig, opts ...SessionOption) (*Session, error) {
	if sessionID == "" {
		return nil, errors.New("resume requires a session id")
	}
	cfg.Resume = sessionID
	return c.NewSession(ctx, cfg, opts...)
}

// Sessions returns the sessions created by c that are not closed.
func (c *Client) Sessions() []*Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Session, 0, len(c.sessions))
	for s := range c.sessions {
		if s.State() == StateCompleted {
			delete(c.sessions, s)
			continue
		}
		out = append(out, s)
	}
	return out
}

// Close closes every session and prevents new ones.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	sessions := c.sessions
	c.sessions = make(map[*Session]struct{})
	c.mu.Unlock()

	var errs []error
	for s := range sessions {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
