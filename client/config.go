package client

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/localrivet/sandboxsdk/transport/websocket"
)

// Config configures a Client. Durations are in milliseconds so the same
// struct reads naturally from JSON, YAML and TOML files.
type Config struct {
	// URL of the sandbox service; http(s) and ws(s) schemes are accepted.
	URL   string `json:"url" yaml:"url" toml:"url"`
	Token string `json:"token,omitempty" yaml:"token,omitempty" toml:"token,omitempty"`

	TimeoutMS            int  `json:"timeoutMs,omitempty" yaml:"timeoutMs,omitempty" toml:"timeoutMs,omitempty"`
	KeepAliveIntervalMS  int  `json:"keepAliveIntervalMs,omitempty" yaml:"keepAliveIntervalMs,omitempty" toml:"keepAliveIntervalMs,omitempty"`
	AutoReconnect        bool `json:"autoReconnect,omitempty" yaml:"autoReconnect,omitempty" toml:"autoReconnect,omitempty"`
	MaxReconnectAttempts int  `json:"maxReconnectAttempts,omitempty" yaml:"maxReconnectAttempts,omitempty" toml:"maxReconnectAttempts,omitempty"`
	InitTimeoutMS        int  `json:"initTimeoutMs,omitempty" yaml:"initTimeoutMs,omitempty" toml:"initTimeoutMs,omitempty"`

	Debug    bool   `json:"debug,omitempty" yaml:"debug,omitempty" toml:"debug,omitempty"`
	LogLevel string `json:"logLevel,omitempty" yaml:"logLevel,omitempty" toml:"logLevel,omitempty"`

	// Session holds defaults for every session created by the client.
	Session SessionDefaults `json:"session,omitempty" yaml:"session,omitempty" toml:"session,omitempty"`
}

// SessionDefaults is the serializable part of SessionConfig.
type SessionDefaults struct {
	Model           string            `json:"model,omitempty" yaml:"model,omitempty" toml:"model,omitempty"`
	SystemPrompt    string            `json:"systemPrompt,omitempty" yaml:"systemPrompt,omitempty" toml:"systemPrompt,omitempty"`
	Cwd             string            `json:"cwd,omitempty" yaml:"cwd,omitempty" toml:"cwd,omitempty"`
	MaxTurns        int               `json:"maxTurns,omitempty" yaml:"maxTurns,omitempty" toml:"maxTurns,omitempty"`
	PermissionMode  string            `json:"permissionMode,omitempty" yaml:"permissionMode,omitempty" toml:"permissionMode,omitempty"`
	AllowedTools    []string          `json:"allowedTools,omitempty" yaml:"allowedTools,omitempty" toml:"allowedTools,omitempty"`
	DisallowedTools []string          `json:"disallowedTools,omitempty" yaml:"disallowedTools,omitempty" toml:"disallowedTools,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty" toml:"metadata,omitempty"`
}

// DefaultConfig returns a Config with every default filled in.
func DefaultConfig() Config {
	return Config{
		TimeoutMS:            int(websocket.DefaultConnectTimeout / time.Millisecond),
		KeepAliveIntervalMS:  int(websocket.DefaultKeepAliveInterval / time.Millisecond),
		MaxReconnectAttempts: websocket.DefaultMaxReconnectAttempts,
		InitTimeoutMS:        int(DefaultInitTimeout / time.Millisecond),
		LogLevel:             "info",
	}
}

// ConnectTimeout returns the connection attempt timeout.
func (c Config) ConnectTimeout() time.Duration {
	return msOrDefault(c.TimeoutMS, websocket.DefaultConnectTimeout)
}

// KeepAliveInterval returns the keepalive interval. A negative value in the
// config disables keepalive.
func (c Config) KeepAliveInterval() time.Duration {
	if c.KeepAliveIntervalMS < 0 {
		return -1
	}
	return msOrDefault(c.KeepAliveIntervalMS, websocket.DefaultKeepAliveInterval)
}

// InitTimeout returns the readiness timeout.
func (c Config) InitTimeout() time.Duration {
	return msOrDefault(c.InitTimeoutMS, DefaultInitTimeout)
}

func msOrDefault(ms int, def time.Duration) time.Duration {
	if ms <= 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

// Validate checks that the config can produce a working client.
func (c Config) Validate() error {
	if c.URL == "" {
		return errors.New("config: url is required")
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("config: invalid url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return fmt.Errorf("config: unsupported url scheme %q", u.Scheme)
	}
	if c.MaxReconnectAttempts < 0 {
		return errors.New("config: maxReconnectAttempts must not be negative")
	}
	return nil
}

// apply merges the defaults under cfg. Fields set in cfg win.
func (d SessionDefaults) apply(cfg SessionConfig) SessionConfig {
	if cfg.Model == "" {
		cfg.Model = d.Model
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = d.SystemPrompt
	}
	if cfg.Cwd == "" {
		cfg.Cwd = d.Cwd
	}
	if cfg.MaxTurns == 0 {
		cfg.MaxTurns = d.MaxTurns
	}
	if cfg.PermissionMode == "" {
		cfg.PermissionMode = d.PermissionMode
	}
	if cfg.AllowedTools == nil {
		cfg.AllowedTools = d.AllowedTools
	}
	if cfg.DisallowedTools == nil {
		cfg.DisallowedTools = d.DisallowedTools
	}
	if len(d.Metadata) > 0 {
		merged := make(map[string]string, len(d.Metadata)+len(cfg.Metadata))
		for k, v := range d.Metadata {
			merged[k] = v
		}
		for k, v := range cfg.Metadata {
			merged[k] = v
		}
		cfg.Metadata = merged
	}
	return cfg
}
